package capability

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TimLCooley-SGS/core-sub002/obs"
	"github.com/TimLCooley-SGS/core-sub002/store"
)

// Engine computes the effective capability set for a tenant-local member:
// role-baseline grants combined with per-assignment override deltas, where a
// revoke wins over a baseline grant.
type Engine struct {
	reader func(db *sql.DB) Reader
}

func NewEngine() *Engine {
	return &Engine{reader: func(db *sql.DB) Reader { return NewPGReader(db) }}
}

// Resolve returns the member's effective capability set, sorted by key. The
// result is a set: resolution is deterministic and independent of row order.
func (e *Engine) Resolve(ctx context.Context, handle *store.Handle, memberID string) ([]Capability, error) {
	return e.resolve(ctx, e.reader(handle.DB), memberID)
}

func (e *Engine) resolve(ctx context.Context, reader Reader, memberID string) ([]Capability, error) {
	obs.ObserveCapabilityResolution()

	assignments, err := reader.ActiveAssignments(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		// No active assignment means no capabilities; overrides are scoped
		// to assignments and cannot apply.
		return nil, nil
	}

	roleIDs := make([]string, 0, len(assignments))
	assignmentIDs := make([]string, 0, len(assignments))
	roleSeen := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		assignmentIDs = append(assignmentIDs, a.ID)
		if _, ok := roleSeen[a.RoleID]; ok {
			continue
		}
		roleSeen[a.RoleID] = struct{}{}
		roleIDs = append(roleIDs, a.RoleID)
	}

	// Baseline grants and override deltas are independent reads against the
	// same tenant store; issue them concurrently.
	var (
		baseline  []Capability
		overrides []Override
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		capIDs, err := reader.RoleCapabilityIDs(gctx, roleIDs)
		if err != nil {
			return err
		}
		baseline, err = reader.CapabilitiesByID(gctx, dedupe(capIDs))
		return err
	})
	g.Go(func() error {
		var err error
		overrides, err = reader.Overrides(gctx, assignmentIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	working := make(map[string]Capability, len(baseline))
	for _, c := range baseline {
		working[c.ID] = c
	}

	granted := make(map[string]struct{})
	revoked := make(map[string]struct{})
	for _, o := range overrides {
		switch o.Type {
		case OverrideGrant:
			granted[o.CapabilityID] = struct{}{}
		case OverrideRevoke:
			revoked[o.CapabilityID] = struct{}{}
		}
	}

	// Revokes apply before grants: they strip baseline grants, but an
	// explicit grant from another assignment can still re-add the id.
	for id := range revoked {
		delete(working, id)
	}

	var missing []string
	for id := range granted {
		if _, ok := working[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		caps, err := reader.CapabilitiesByID(ctx, missing)
		if err != nil {
			return nil, err
		}
		fetched := make(map[string]struct{}, len(caps))
		for _, c := range caps {
			working[c.ID] = c
			fetched[c.ID] = struct{}{}
		}
		// Overrides referencing a capability that no longer exists in the
		// catalog are dropped, not raised; surface them for operators.
		for _, id := range missing {
			if _, ok := fetched[id]; !ok {
				obs.ObserveCatalogInconsistency()
				obs.LogEvent(map[string]any{
					"ts":            time.Now().UTC().Format(time.RFC3339Nano),
					"level":         "warn",
					"msg":           "capability override references missing catalog entry",
					"member_id":     memberID,
					"capability_id": id,
				})
			}
		}
	}

	result := make([]Capability, 0, len(working))
	for _, c := range working {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// ResolveKeys returns the effective set as stable key strings, suitable for
// embedding in token claims.
func (e *Engine) ResolveKeys(ctx context.Context, handle *store.Handle, memberID string) ([]string, error) {
	caps, err := e.Resolve(ctx, handle, memberID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(caps))
	for _, c := range caps {
		keys = append(keys, c.Key)
	}
	return keys, nil
}

// Has reports whether the member's effective set contains the key.
func (e *Engine) Has(ctx context.Context, handle *store.Handle, memberID, key string) (bool, error) {
	return e.HasAny(ctx, handle, memberID, []string{key})
}

// HasAny reports whether the effective set intersects keys.
func (e *Engine) HasAny(ctx context.Context, handle *store.Handle, memberID string, keys []string) (bool, error) {
	caps, err := e.Resolve(ctx, handle, memberID)
	if err != nil {
		return false, err
	}
	have := keySet(caps)
	for _, k := range keys {
		if _, ok := have[k]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether every key is present in the effective set.
func (e *Engine) HasAll(ctx context.Context, handle *store.Handle, memberID string, keys []string) (bool, error) {
	caps, err := e.Resolve(ctx, handle, memberID)
	if err != nil {
		return false, err
	}
	have := keySet(caps)
	for _, k := range keys {
		if _, ok := have[k]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func keySet(caps []Capability) map[string]struct{} {
	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		set[c.Key] = struct{}{}
	}
	return set
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
