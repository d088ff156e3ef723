package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TimLCooley-SGS/core-sub002/controlplane"
)

// LandingKind is the post-authentication routing decision.
type LandingKind string

const (
	LandingSingleOrg LandingKind = "single-org"
	LandingChooser   LandingKind = "multi-org-chooser"
	LandingStaffHome LandingKind = "staff-home"
	LandingNoAccess  LandingKind = "no-access"
)

// Landing describes where a freshly authenticated identity should be sent.
// Links carry the embedded organizations so a chooser can render them
// without further lookups.
type Landing struct {
	Kind  LandingKind
	Links []*controlplane.IdentityOrgLink
}

// ResolveLandingRoute maps link cardinality and staff status to a landing
// decision: one link and no staff record goes straight in, staff with no
// links get the staff home, and anything else with links gets a chooser.
func (g *Gate) ResolveLandingRoute(ctx context.Context, identityID string) (Landing, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return Landing{}, fmt.Errorf("%w: identity_id is required", controlplane.ErrInvalidInput)
	}

	links, err := g.registry.GetActiveLinksForIdentity(ctx, identityID)
	if err != nil {
		return Landing{}, err
	}
	staff, err := g.registry.GetStaffByIdentity(ctx, identityID)
	if err != nil && !errors.Is(err, controlplane.ErrNotFound) {
		return Landing{}, err
	}
	isStaff := staff != nil

	switch {
	case len(links) == 1 && !isStaff:
		return Landing{Kind: LandingSingleOrg, Links: links}, nil
	case len(links) == 0 && isStaff:
		return Landing{Kind: LandingStaffHome}, nil
	case len(links) == 0:
		return Landing{Kind: LandingNoAccess}, nil
	default:
		return Landing{Kind: LandingChooser, Links: links}, nil
	}
}
