package capability

// Capability is a named permission unit inside one tenant store. Keys are the
// stable contract other systems depend on; ids are tenant-local and not
// portable across organizations.
type Capability struct {
	ID          string
	Key         string
	Name        string
	Description string
}

// Assignment is an active tenant-local staff assignment: the member holds the
// role, and overrides are scoped to the assignment.
type Assignment struct {
	ID     string
	RoleID string
}

// OverrideType distinguishes per-assignment deltas.
type OverrideType string

const (
	OverrideGrant  OverrideType = "grant"
	OverrideRevoke OverrideType = "revoke"
)

// Override is a per-assignment capability delta. It stores only the
// capability id; the full record lives in the tenant's catalog.
type Override struct {
	CapabilityID string
	Type         OverrideType
}
