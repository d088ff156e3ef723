// Package tenant routes data operations to the correct isolated tenant
// store, enforcing that only linked identities obtain a handle to it.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TimLCooley-SGS/core-sub002/access"
	"github.com/TimLCooley-SGS/core-sub002/controlplane"
	"github.com/TimLCooley-SGS/core-sub002/store"
)

// Route is the result of anonymous slug routing: the organization and a
// public-tier handle to its store.
type Route struct {
	Organization *controlplane.Organization
	Handle       *store.Handle
}

// IdentityRoute is the result of authenticated routing: the validated link
// and a user-scoped handle carrying the caller's session token.
type IdentityRoute struct {
	Organization *controlplane.Organization
	Link         *controlplane.IdentityOrgLink
	Handle       *store.Handle
}

// Router composes the registry and the handle provider into the two tenant
// entry points.
type Router struct {
	registry access.Directory
	stores   access.TenantOpener
}

func NewRouter(registry access.Directory, stores access.TenantOpener) (*Router, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if stores == nil {
		return nil, errors.New("store provider is required")
	}
	return &Router{registry: registry, stores: stores}, nil
}

// Route resolves a slug to its organization and opens a public-tier handle,
// for anonymous storefront access. Missing and non-active organizations are
// indistinguishable.
func (r *Router) Route(ctx context.Context, slug string) (*Route, error) {
	org, err := r.registry.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	handle, err := r.stores.Tenant(ctx, org, store.Public())
	if err != nil {
		return nil, err
	}
	return &Route{Organization: org, Handle: handle}, nil
}

// RouteForIdentity resolves a slug for an authenticated caller: the identity
// must hold an active link to the organization, and the returned handle is
// user-scoped with the caller's session token. Staff access flows through
// the access gate with an elevated handle instead; this path checks only the
// link.
func (r *Router) RouteForIdentity(ctx context.Context, identityID, slug, sessionToken string) (*IdentityRoute, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, fmt.Errorf("%w: identity_id is required", controlplane.ErrInvalidInput)
	}
	org, err := r.registry.GetOrganizationBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	link, err := r.registry.GetActiveLink(ctx, identityID, org.ID)
	if err != nil {
		if errors.Is(err, controlplane.ErrNotFound) {
			return nil, fmt.Errorf("%w: no active link to organization %s", access.ErrUnauthorized, org.ID)
		}
		return nil, err
	}
	handle, err := r.stores.Tenant(ctx, org, store.UserScoped(sessionToken))
	if err != nil {
		return nil, err
	}
	return &IdentityRoute{Organization: org, Link: link, Handle: handle}, nil
}
