package controlplane

import "context"

// Registry is the canonical directory of organizations, global identities,
// identity-organization links, platform staff and impersonation sessions.
type Registry interface {
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	GetOrganizationByID(ctx context.Context, id string) (*Organization, error)
	GetActiveLinksForIdentity(ctx context.Context, identityID string) ([]*IdentityOrgLink, error)
	GetActiveLink(ctx context.Context, identityID, organizationID string) (*IdentityOrgLink, error)
	GetStaffByIdentity(ctx context.Context, identityID string) (*Staff, error)

	GetIdentity(ctx context.Context, id string) (*GlobalIdentity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*GlobalIdentity, error)

	CreateOrganization(ctx context.Context, org *Organization) error
	UpdateOrganizationStatus(ctx context.Context, id string, status OrgStatus) error
	CreateIdentity(ctx context.Context, identity *GlobalIdentity) error
	CreateLink(ctx context.Context, link *IdentityOrgLink) error
	RemoveLink(ctx context.Context, linkID string) error
	UpsertStaff(ctx context.Context, staff *Staff) error

	BeginImpersonation(ctx context.Context, session *ImpersonationSession) error
	EndImpersonation(ctx context.Context, sessionID string) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
}
