package capability

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/TimLCooley-SGS/core-sub002/store"
)

// Reader fetches the role and override rows the engine resolves from. All
// reads target a single tenant store and tolerate zero rows.
type Reader interface {
	ActiveAssignments(ctx context.Context, memberID string) ([]Assignment, error)
	RoleCapabilityIDs(ctx context.Context, roleIDs []string) ([]string, error)
	Overrides(ctx context.Context, assignmentIDs []string) ([]Override, error)
	CapabilitiesByID(ctx context.Context, capabilityIDs []string) ([]Capability, error)
}

var _ Reader = (*PGReader)(nil)

// PGReader implements Reader against a tenant PostgreSQL store.
type PGReader struct {
	db *sql.DB
}

func NewPGReader(db *sql.DB) *PGReader {
	return &PGReader{db: db}
}

func (r *PGReader) ActiveAssignments(ctx context.Context, memberID string) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, role_id
		from staff_assignments
		where member_id = $1 and status = 'active'
	`, memberID)
	if err != nil {
		return nil, roundTripErr(err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.RoleID); err != nil {
			return nil, roundTripErr(err)
		}
		assignments = append(assignments, a)
	}
	return assignments, roundTripErr(rows.Err())
}

func (r *PGReader) RoleCapabilityIDs(ctx context.Context, roleIDs []string) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		select capability_id
		from role_capabilities
		where role_id in (%s)
	`, placeholders(len(roleIDs)))
	rows, err := r.db.QueryContext(ctx, query, toArgs(roleIDs)...)
	if err != nil {
		return nil, roundTripErr(err)
	}
	defer rows.Close()

	var capIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, roundTripErr(err)
		}
		capIDs = append(capIDs, id)
	}
	return capIDs, roundTripErr(rows.Err())
}

func (r *PGReader) Overrides(ctx context.Context, assignmentIDs []string) ([]Override, error) {
	if len(assignmentIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		select capability_id, override_type
		from staff_capability_overrides
		where assignment_id in (%s)
	`, placeholders(len(assignmentIDs)))
	rows, err := r.db.QueryContext(ctx, query, toArgs(assignmentIDs)...)
	if err != nil {
		return nil, roundTripErr(err)
	}
	defer rows.Close()

	var overrides []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.CapabilityID, &o.Type); err != nil {
			return nil, roundTripErr(err)
		}
		overrides = append(overrides, o)
	}
	return overrides, roundTripErr(rows.Err())
}

func (r *PGReader) CapabilitiesByID(ctx context.Context, capabilityIDs []string) ([]Capability, error) {
	if len(capabilityIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		select id, key, name, description
		from capabilities
		where id in (%s)
	`, placeholders(len(capabilityIDs)))
	rows, err := r.db.QueryContext(ctx, query, toArgs(capabilityIDs)...)
	if err != nil {
		return nil, roundTripErr(err)
	}
	defer rows.Close()

	var caps []Capability
	for rows.Next() {
		var c Capability
		var desc sql.NullString
		if err := rows.Scan(&c.ID, &c.Key, &c.Name, &desc); err != nil {
			return nil, roundTripErr(err)
		}
		if desc.Valid {
			c.Description = desc.String
		}
		caps = append(caps, c)
	}
	return caps, roundTripErr(rows.Err())
}

// roundTripErr maps a failed query round trip onto the shared unavailable
// sentinel so callers can apply their retry policy with one errors.Is check.
func roundTripErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ",")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
