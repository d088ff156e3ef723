package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/TimLCooley-SGS/core-sub002/access"
	"github.com/TimLCooley-SGS/core-sub002/controlplane"
	"github.com/TimLCooley-SGS/core-sub002/store"
)

type fakeDirectory struct {
	orgs  map[string]*controlplane.Organization
	links map[string]*controlplane.IdentityOrgLink
}

func (f *fakeDirectory) GetOrganizationBySlug(ctx context.Context, slug string) (*controlplane.Organization, error) {
	if org, ok := f.orgs[slug]; ok {
		return org, nil
	}
	return nil, controlplane.ErrNotFound
}

func (f *fakeDirectory) GetOrganizationByID(ctx context.Context, id string) (*controlplane.Organization, error) {
	return nil, controlplane.ErrNotFound
}

func (f *fakeDirectory) GetActiveLinksForIdentity(ctx context.Context, identityID string) ([]*controlplane.IdentityOrgLink, error) {
	return nil, nil
}

func (f *fakeDirectory) GetActiveLink(ctx context.Context, identityID, organizationID string) (*controlplane.IdentityOrgLink, error) {
	if link, ok := f.links[identityID+"/"+organizationID]; ok {
		return link, nil
	}
	return nil, controlplane.ErrNotFound
}

func (f *fakeDirectory) GetStaffByIdentity(ctx context.Context, identityID string) (*controlplane.Staff, error) {
	return nil, controlplane.ErrNotFound
}

type fakeOpener struct {
	modes []store.Mode
}

func (f *fakeOpener) Tenant(ctx context.Context, org *controlplane.Organization, mode store.Mode) (*store.Handle, error) {
	f.modes = append(f.modes, mode)
	return &store.Handle{OrgID: org.ID}, nil
}

func newTestRouter(t *testing.T, dir access.Directory, opener access.TenantOpener) *Router {
	t.Helper()
	router, err := NewRouter(dir, opener)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func TestRouteAnonymous(t *testing.T) {
	dir := &fakeDirectory{
		orgs: map[string]*controlplane.Organization{
			"acme": {ID: "org-1", Slug: "acme", Status: controlplane.OrgActive},
		},
	}
	opener := &fakeOpener{}
	router := newTestRouter(t, dir, opener)

	route, err := router.Route(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if route.Organization.ID != "org-1" || route.Handle.OrgID != "org-1" {
		t.Fatalf("unexpected route: %+v", route)
	}
	if len(opener.modes) != 1 || opener.modes[0].Tier() != store.TierRestricted || opener.modes[0].Token() != "" {
		t.Fatalf("anonymous routing must use a public restricted-tier handle: %+v", opener.modes)
	}
}

func TestRouteUnknownSlug(t *testing.T) {
	router := newTestRouter(t, &fakeDirectory{}, &fakeOpener{})

	if _, err := router.Route(context.Background(), "nowhere"); !errors.Is(err, controlplane.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRouteForIdentity(t *testing.T) {
	dir := &fakeDirectory{
		orgs: map[string]*controlplane.Organization{
			"acme": {ID: "org-1", Slug: "acme", Status: controlplane.OrgActive},
		},
		links: map[string]*controlplane.IdentityOrgLink{
			"idn-1/org-1": {ID: "link-1", MemberID: "mem-1"},
		},
	}
	opener := &fakeOpener{}
	router := newTestRouter(t, dir, opener)

	route, err := router.RouteForIdentity(context.Background(), "idn-1", "acme", "bearer-token")
	if err != nil {
		t.Fatalf("RouteForIdentity: %v", err)
	}
	if route.Link.MemberID != "mem-1" {
		t.Fatalf("unexpected link: %+v", route.Link)
	}
	if len(opener.modes) != 1 || opener.modes[0].Token() != "bearer-token" || opener.modes[0].Tier() != store.TierRestricted {
		t.Fatalf("expected a user-scoped handle: %+v", opener.modes)
	}
}

func TestRouteForIdentityWithoutLink(t *testing.T) {
	dir := &fakeDirectory{
		orgs: map[string]*controlplane.Organization{
			"acme": {ID: "org-1", Slug: "acme", Status: controlplane.OrgActive},
		},
	}
	router := newTestRouter(t, dir, &fakeOpener{})

	_, err := router.RouteForIdentity(context.Background(), "idn-9", "acme", "bearer-token")
	if !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
