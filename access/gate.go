package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TimLCooley-SGS/core-sub002/controlplane"
	"github.com/TimLCooley-SGS/core-sub002/obs"
	"github.com/TimLCooley-SGS/core-sub002/store"
)

// ErrUnauthorized indicates the identity has no valid path to the requested
// organization. Expected and recoverable; callers turn it into a 403.
var ErrUnauthorized = errors.New("access: unauthorized")

// Decision is the outcome of a successful access resolution. MemberID is
// empty when the tenant check was bypassed: staff carry no tenant-local
// member record, so capability resolution does not apply to them.
type Decision struct {
	OrganizationID      string
	MemberID            string
	BypassedTenantCheck bool
}

// Directory is the read-only slice of the control-plane registry the gate
// and router need. Satisfied by controlplane.Registry.
type Directory interface {
	GetOrganizationBySlug(ctx context.Context, slug string) (*controlplane.Organization, error)
	GetOrganizationByID(ctx context.Context, id string) (*controlplane.Organization, error)
	GetActiveLinksForIdentity(ctx context.Context, identityID string) ([]*controlplane.IdentityOrgLink, error)
	GetActiveLink(ctx context.Context, identityID, organizationID string) (*controlplane.IdentityOrgLink, error)
	GetStaffByIdentity(ctx context.Context, identityID string) (*controlplane.Staff, error)
}

// TenantOpener yields tenant store handles. Satisfied by *store.Provider.
type TenantOpener interface {
	Tenant(ctx context.Context, org *controlplane.Organization, mode store.Mode) (*store.Handle, error)
}

// CapabilityChecker answers single-key capability checks. Satisfied by
// *capability.Engine.
type CapabilityChecker interface {
	Has(ctx context.Context, handle *store.Handle, memberID, key string) (bool, error)
}

// Gate decides whether a global identity may touch an organization's tenant
// store, and which tenant-local member record applies. One parametrized
// guard serves every capability-gated operation.
type Gate struct {
	registry Directory
	stores   TenantOpener
	caps     CapabilityChecker
}

func NewGate(registry Directory, stores TenantOpener, caps CapabilityChecker) (*Gate, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if stores == nil {
		return nil, errors.New("store provider is required")
	}
	if caps == nil {
		return nil, errors.New("capability checker is required")
	}
	return &Gate{registry: registry, stores: stores, caps: caps}, nil
}

// ResolveAccess decides access for (identity, organization). Active staff
// bypass the link check entirely and are treated as holding every capability
// at the organization level; what staff may do is governed by their staff
// role, not tenant capabilities.
func (g *Gate) ResolveAccess(ctx context.Context, identityID, orgRef string) (Decision, error) {
	decision, _, err := g.resolve(ctx, identityID, orgRef)
	return decision, err
}

// RequireCapability resolves access and additionally requires the named
// capability in the member's effective set. Staff bypass skips the tenant
// capability check.
func (g *Gate) RequireCapability(ctx context.Context, identityID, orgRef, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{}, fmt.Errorf("%w: capability key is required", controlplane.ErrInvalidInput)
	}
	decision, org, err := g.resolve(ctx, identityID, orgRef)
	if err != nil {
		return Decision{}, err
	}
	if decision.BypassedTenantCheck {
		return decision, nil
	}
	handle, err := g.stores.Tenant(ctx, org, store.Elevated())
	if err != nil {
		return Decision{}, err
	}
	ok, err := g.caps.Has(ctx, handle, decision.MemberID, key)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		obs.ObserveAccessDecision("unauthorized")
		return Decision{}, fmt.Errorf("%w: missing capability %s", ErrUnauthorized, key)
	}
	return decision, nil
}

func (g *Gate) resolve(ctx context.Context, identityID, orgRef string) (Decision, *controlplane.Organization, error) {
	identityID = strings.TrimSpace(identityID)
	orgRef = strings.TrimSpace(orgRef)
	if identityID == "" || orgRef == "" {
		return Decision{}, nil, fmt.Errorf("%w: identity_id and organization reference are required", controlplane.ErrInvalidInput)
	}

	org, err := g.resolveOrganization(ctx, orgRef)
	if err != nil {
		if errors.Is(err, controlplane.ErrNotFound) {
			obs.ObserveAccessDecision("not_found")
		}
		return Decision{}, nil, err
	}

	staff, err := g.registry.GetStaffByIdentity(ctx, identityID)
	if err != nil && !errors.Is(err, controlplane.ErrNotFound) {
		return Decision{}, nil, err
	}
	if staff != nil {
		obs.ObserveAccessDecision("staff_bypass")
		return Decision{OrganizationID: org.ID, BypassedTenantCheck: true}, org, nil
	}

	link, err := g.registry.GetActiveLink(ctx, identityID, org.ID)
	if err != nil {
		if errors.Is(err, controlplane.ErrNotFound) {
			obs.ObserveAccessDecision("unauthorized")
			return Decision{}, nil, fmt.Errorf("%w: no active link to organization %s", ErrUnauthorized, org.ID)
		}
		return Decision{}, nil, err
	}
	obs.ObserveAccessDecision("granted")
	return Decision{OrganizationID: org.ID, MemberID: link.MemberID}, org, nil
}

// resolveOrganization accepts either a slug or an organization id. Inactive
// organizations resolve to ErrNotFound on both paths so callers cannot
// distinguish missing from suspended.
func (g *Gate) resolveOrganization(ctx context.Context, orgRef string) (*controlplane.Organization, error) {
	org, err := g.registry.GetOrganizationBySlug(ctx, orgRef)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, controlplane.ErrNotFound) {
		return nil, err
	}
	org, err = g.registry.GetOrganizationByID(ctx, orgRef)
	if err != nil {
		return nil, err
	}
	if org.Status != controlplane.OrgActive {
		return nil, controlplane.ErrNotFound
	}
	return org, nil
}
