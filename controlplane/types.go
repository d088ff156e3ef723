package controlplane

import "time"

// OrgStatus is the lifecycle state of an organization. Only active
// organizations are resolvable by slug.
type OrgStatus string

const (
	OrgProvisioning OrgStatus = "provisioning"
	OrgActive       OrgStatus = "active"
	OrgSuspended    OrgStatus = "suspended"
	OrgArchived     OrgStatus = "archived"
)

// StoreCoordinates locate an organization's isolated tenant store. The URL
// carries no credentials; the two keys select the trust tier the handle
// provider connects with.
type StoreCoordinates struct {
	URL           string
	RestrictedKey string
	ServiceKey    string
}

// Organization is the control-plane identity of a tenant.
type Organization struct {
	ID        string
	Slug      string
	Name      string
	Store     StoreCoordinates
	Status    OrgStatus
	Settings  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GlobalIdentity is a person at the platform level, one per human,
// independent of any organization.
type GlobalIdentity struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LinkStatus is the state of an identity-organization link.
type LinkStatus string

const (
	LinkActive    LinkStatus = "active"
	LinkSuspended LinkStatus = "suspended"
	LinkRemoved   LinkStatus = "removed"
)

// IdentityOrgLink joins a global identity to an organization and names the
// tenant-local member record it maps to. At most one active link may exist
// per (identity, organization) pair; the write path enforces this.
type IdentityOrgLink struct {
	ID             string
	IdentityID     string
	OrganizationID string
	MemberID       string
	StaffAccess    bool
	PatronAccess   bool
	Status         LinkStatus
	CreatedAt      time.Time

	// Organization is populated on reads that embed the related row.
	Organization *Organization
}

// StaffRole classifies a platform operator.
type StaffRole string

const (
	StaffAdmin       StaffRole = "admin"
	StaffSupport     StaffRole = "support"
	StaffEngineering StaffRole = "engineering"
	StaffBilling     StaffRole = "billing"
)

// Staff marks a global identity as a platform operator. Active staff bypass
// the link requirement for every organization.
type Staff struct {
	ID         string
	IdentityID string
	Role       StaffRole
	Status     string
	CreatedAt  time.Time
}

const (
	StaffStatusActive   = "active"
	StaffStatusInactive = "inactive"
)

// ImpersonationSession records a staff member acting as a tenant member.
// A staff member holds at most one active session at a time.
type ImpersonationSession struct {
	ID             string
	StaffID        string
	OrganizationID string
	MemberID       string
	Reason         string
	StartedAt      time.Time
	EndedAt        *time.Time
	IP             string
	UserAgent      string
	Status         string
}

const (
	ImpersonationActive   = "active"
	ImpersonationEnded    = "ended"
	ImpersonationTimedOut = "timed_out"
)

// AuditEntry is an append-only record of a privileged action. ActorIdentityID
// is empty for system-initiated actions.
type AuditEntry struct {
	ID              string
	OccurredAt      time.Time
	ActorIdentityID string
	Action          string
	ResourceType    string
	ResourceID      string
	Metadata        map[string]any
	IP              string
}
