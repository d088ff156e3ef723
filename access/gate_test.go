package access

import (
	"context"
	"errors"
	"testing"

	"github.com/TimLCooley-SGS/core-sub002/controlplane"
	"github.com/TimLCooley-SGS/core-sub002/store"
)

type fakeDirectory struct {
	orgsBySlug map[string]*controlplane.Organization
	orgsByID   map[string]*controlplane.Organization
	links      map[string]*controlplane.IdentityOrgLink
	allLinks   map[string][]*controlplane.IdentityOrgLink
	staff      map[string]*controlplane.Staff

	linkLookups int
}

func (f *fakeDirectory) GetOrganizationBySlug(ctx context.Context, slug string) (*controlplane.Organization, error) {
	if org, ok := f.orgsBySlug[slug]; ok {
		return org, nil
	}
	return nil, controlplane.ErrNotFound
}

func (f *fakeDirectory) GetOrganizationByID(ctx context.Context, id string) (*controlplane.Organization, error) {
	if org, ok := f.orgsByID[id]; ok {
		return org, nil
	}
	return nil, controlplane.ErrNotFound
}

func (f *fakeDirectory) GetActiveLinksForIdentity(ctx context.Context, identityID string) ([]*controlplane.IdentityOrgLink, error) {
	return f.allLinks[identityID], nil
}

func (f *fakeDirectory) GetActiveLink(ctx context.Context, identityID, organizationID string) (*controlplane.IdentityOrgLink, error) {
	f.linkLookups++
	if link, ok := f.links[identityID+"/"+organizationID]; ok {
		return link, nil
	}
	return nil, controlplane.ErrNotFound
}

func (f *fakeDirectory) GetStaffByIdentity(ctx context.Context, identityID string) (*controlplane.Staff, error) {
	if staff, ok := f.staff[identityID]; ok {
		return staff, nil
	}
	return nil, controlplane.ErrNotFound
}

type fakeOpener struct {
	opened []store.Mode
}

func (f *fakeOpener) Tenant(ctx context.Context, org *controlplane.Organization, mode store.Mode) (*store.Handle, error) {
	f.opened = append(f.opened, mode)
	return &store.Handle{OrgID: org.ID}, nil
}

type fakeChecker struct {
	granted map[string]bool
	calls   int
}

func (f *fakeChecker) Has(ctx context.Context, handle *store.Handle, memberID, key string) (bool, error) {
	f.calls++
	return f.granted[memberID+"/"+key], nil
}

func activeOrg(id, slug string) *controlplane.Organization {
	return &controlplane.Organization{ID: id, Slug: slug, Status: controlplane.OrgActive}
}

func newTestGate(t *testing.T, dir *fakeDirectory, opener *fakeOpener, checker *fakeChecker) *Gate {
	t.Helper()
	gate, err := NewGate(dir, opener, checker)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return gate
}

func TestResolveAccessLinkedIdentity(t *testing.T) {
	dir := &fakeDirectory{
		orgsBySlug: map[string]*controlplane.Organization{"acme": activeOrg("org-1", "acme")},
		links: map[string]*controlplane.IdentityOrgLink{
			"idn-1/org-1": {ID: "link-1", IdentityID: "idn-1", OrganizationID: "org-1", MemberID: "mem-1"},
		},
	}
	gate := newTestGate(t, dir, &fakeOpener{}, &fakeChecker{})

	decision, err := gate.ResolveAccess(context.Background(), "idn-1", "acme")
	if err != nil {
		t.Fatalf("ResolveAccess: %v", err)
	}
	if decision.OrganizationID != "org-1" || decision.MemberID != "mem-1" || decision.BypassedTenantCheck {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestResolveAccessStaffBypassNeverConsultsLink(t *testing.T) {
	dir := &fakeDirectory{
		orgsBySlug: map[string]*controlplane.Organization{"acme": activeOrg("org-1", "acme")},
		staff: map[string]*controlplane.Staff{
			"idn-staff": {ID: "stf-1", IdentityID: "idn-staff", Role: controlplane.StaffSupport, Status: controlplane.StaffStatusActive},
		},
	}
	gate := newTestGate(t, dir, &fakeOpener{}, &fakeChecker{})

	decision, err := gate.ResolveAccess(context.Background(), "idn-staff", "acme")
	if err != nil {
		t.Fatalf("ResolveAccess: %v", err)
	}
	if !decision.BypassedTenantCheck || decision.MemberID != "" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if dir.linkLookups != 0 {
		t.Fatalf("staff bypass consulted the link table %d times", dir.linkLookups)
	}
}

func TestResolveAccessUnlinkedIdentity(t *testing.T) {
	dir := &fakeDirectory{
		orgsBySlug: map[string]*controlplane.Organization{"acme": activeOrg("org-1", "acme")},
	}
	gate := newTestGate(t, dir, &fakeOpener{}, &fakeChecker{})

	_, err := gate.ResolveAccess(context.Background(), "idn-2", "acme")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveAccessUnknownOrganization(t *testing.T) {
	gate := newTestGate(t, &fakeDirectory{}, &fakeOpener{}, &fakeChecker{})

	_, err := gate.ResolveAccess(context.Background(), "idn-1", "nowhere")
	if !errors.Is(err, controlplane.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveAccessInactiveOrganizationByID(t *testing.T) {
	// Internal id references skip the slug filter, so the gate re-checks
	// the lifecycle status itself.
	dir := &fakeDirectory{
		orgsByID: map[string]*controlplane.Organization{
			"org-9": {ID: "org-9", Slug: "dormant", Status: controlplane.OrgSuspended},
		},
	}
	gate := newTestGate(t, dir, &fakeOpener{}, &fakeChecker{})

	_, err := gate.ResolveAccess(context.Background(), "idn-1", "org-9")
	if !errors.Is(err, controlplane.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for suspended organization, got %v", err)
	}
}

func TestRequireCapability(t *testing.T) {
	dir := &fakeDirectory{
		orgsBySlug: map[string]*controlplane.Organization{"acme": activeOrg("org-1", "acme")},
		links: map[string]*controlplane.IdentityOrgLink{
			"idn-1/org-1": {MemberID: "mem-1"},
		},
	}
	checker := &fakeChecker{granted: map[string]bool{"mem-1/tickets.manage": true}}
	gate := newTestGate(t, dir, &fakeOpener{}, checker)

	decision, err := gate.RequireCapability(context.Background(), "idn-1", "acme", "tickets.manage")
	if err != nil {
		t.Fatalf("RequireCapability: %v", err)
	}
	if decision.MemberID != "mem-1" {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	if _, err := gate.RequireCapability(context.Background(), "idn-1", "acme", "settings.manage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for missing capability, got %v", err)
	}
}

func TestRequireCapabilityStaffBypassSkipsTenantCheck(t *testing.T) {
	dir := &fakeDirectory{
		orgsBySlug: map[string]*controlplane.Organization{"acme": activeOrg("org-1", "acme")},
		staff: map[string]*controlplane.Staff{
			"idn-staff": {IdentityID: "idn-staff", Role: controlplane.StaffAdmin, Status: controlplane.StaffStatusActive},
		},
	}
	opener := &fakeOpener{}
	checker := &fakeChecker{}
	gate := newTestGate(t, dir, opener, checker)

	decision, err := gate.RequireCapability(context.Background(), "idn-staff", "acme", "tickets.manage")
	if err != nil {
		t.Fatalf("RequireCapability: %v", err)
	}
	if !decision.BypassedTenantCheck {
		t.Fatalf("expected staff bypass: %+v", decision)
	}
	if checker.calls != 0 || len(opener.opened) != 0 {
		t.Fatalf("staff bypass touched the tenant store: checks=%d opens=%d", checker.calls, len(opener.opened))
	}
}

func TestResolveLandingRoute(t *testing.T) {
	link := func(org string) *controlplane.IdentityOrgLink {
		return &controlplane.IdentityOrgLink{OrganizationID: org, Status: controlplane.LinkActive}
	}
	staff := &controlplane.Staff{Role: controlplane.StaffSupport, Status: controlplane.StaffStatusActive}

	cases := []struct {
		name  string
		links []*controlplane.IdentityOrgLink
		staff *controlplane.Staff
		want  LandingKind
	}{
		{"one link no staff", []*controlplane.IdentityOrgLink{link("org-1")}, nil, LandingSingleOrg},
		{"no links staff", nil, staff, LandingStaffHome},
		{"no links no staff", nil, nil, LandingNoAccess},
		{"two links", []*controlplane.IdentityOrgLink{link("org-1"), link("org-2")}, nil, LandingChooser},
		{"one link and staff", []*controlplane.IdentityOrgLink{link("org-1")}, staff, LandingChooser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := &fakeDirectory{allLinks: map[string][]*controlplane.IdentityOrgLink{"idn-1": tc.links}}
			if tc.staff != nil {
				dir.staff = map[string]*controlplane.Staff{"idn-1": tc.staff}
			}
			gate := newTestGate(t, dir, &fakeOpener{}, &fakeChecker{})

			landing, err := gate.ResolveLandingRoute(context.Background(), "idn-1")
			if err != nil {
				t.Fatalf("ResolveLandingRoute: %v", err)
			}
			if landing.Kind != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, landing.Kind)
			}
			if landing.Kind == LandingSingleOrg && len(landing.Links) != 1 {
				t.Fatalf("single-org landing should carry the link")
			}
		})
	}
}
