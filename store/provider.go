package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/TimLCooley-SGS/core-sub002/controlplane"
	"github.com/TimLCooley-SGS/core-sub002/obs"
)

// ErrUnavailable indicates a handle could not be opened or a query round
// trip failed: malformed coordinates, an unreachable store, a dropped
// connection. Never retried here; retry policy belongs to the caller. It is
// the same sentinel the registry and capability reader wrap their query
// failures in, so one errors.Is check covers the whole data path.
var ErrUnavailable = controlplane.ErrUnavailable

const controlPlaneDSNEnv = "SGS_CONTROL_PLANE_DSN"

// Tier is the trust level a handle is opened at.
type Tier string

const (
	// TierElevated bypasses the tenant's row-level access rules.
	TierElevated Tier = "elevated"
	// TierRestricted is subject to whatever row-level policy the tenant
	// store enforces for the caller's session.
	TierRestricted Tier = "restricted"
)

const (
	roleElevated   = "sgs_service"
	roleRestricted = "sgs_restricted"
)

// Mode selects the trust tier and, for user-scoped access, carries the
// caller's session token.
type Mode struct {
	tier  Tier
	token string
}

// Elevated requests a service-tier handle.
func Elevated() Mode { return Mode{tier: TierElevated} }

// UserScoped requests a restricted-tier handle bound to the caller's
// session token.
func UserScoped(token string) Mode { return Mode{tier: TierRestricted, token: token} }

// Public requests a restricted-tier handle with no caller session, for
// anonymous storefront reads.
func Public() Mode { return Mode{tier: TierRestricted} }

func (m Mode) Tier() Tier { return m.tier }

// Token returns the session token carried by a user-scoped mode, empty
// otherwise.
func (m Mode) Token() string { return m.token }

// Handle is an authenticated connection descriptor to one store at one trust
// tier. The underlying pool is shared; the handle itself is cheap
// configuration, not a transaction.
type Handle struct {
	DB    *sql.DB
	OrgID string
	tier  Tier
	token string
}

func (h *Handle) Tier() Tier { return h.tier }

// SessionToken returns the caller token a user-scoped handle was opened
// with, for the query layer to attach to the session.
func (h *Handle) SessionToken() (string, bool) {
	return h.token, h.token != ""
}

type poolKey struct {
	orgID string
	tier  Tier
}

// pooledConn pairs the open pool with the DSN it was registered under, so
// invalidation can also drop the pgx driver registration.
type pooledConn struct {
	db  *sql.DB
	dsn string
}

// Provider opens and pools store handles: one elevated process-wide handle
// to the control plane, and per-(organization, tier) tenant handles. Pooled
// entries live for the process lifetime; removal is explicit via Invalidate
// when an organization's coordinates rotate.
type Provider struct {
	controlDSN string
	open       func(dsn string) (*sql.DB, error)

	mu      sync.Mutex
	control *sql.DB
	pool    map[poolKey]pooledConn
}

// Option configures a Provider.
type Option func(*Provider)

// WithControlPlaneDSN overrides the control-plane DSN taken from the
// environment.
func WithControlPlaneDSN(dsn string) Option {
	return func(p *Provider) { p.controlDSN = dsn }
}

// WithOpener replaces the connection opener. Only intended for test use.
func WithOpener(open func(dsn string) (*sql.DB, error)) Option {
	return func(p *Provider) { p.open = open }
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		controlDSN: strings.TrimSpace(os.Getenv(controlPlaneDSNEnv)),
		open:       openPostgres,
		pool:       make(map[poolKey]pooledConn),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// ControlPlane returns the process-wide elevated handle to the control-plane
// store, opening it on first use.
func (p *Provider) ControlPlane() (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.control != nil {
		return p.control, nil
	}
	if p.controlDSN == "" {
		return nil, fmt.Errorf("%w: control-plane DSN is not configured", ErrUnavailable)
	}
	if _, err := pgx.ParseConfig(p.controlDSN); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	db, err := p.open(p.controlDSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	p.control = db
	obs.ObserveHandleOpen(string(TierElevated))
	return db, nil
}

// Tenant returns a handle to the organization's isolated store at the
// requested mode, reusing the pooled connection for (organization, tier)
// when one exists.
func (p *Provider) Tenant(ctx context.Context, org *controlplane.Organization, mode Mode) (*Handle, error) {
	if org == nil {
		return nil, fmt.Errorf("%w: organization is required", ErrUnavailable)
	}
	key := poolKey{orgID: org.ID, tier: mode.tier}

	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.pool[key]
	if !ok {
		dsn, err := tenantDSN(org, mode.tier)
		if err != nil {
			return nil, err
		}
		db, err := p.open(dsn)
		if err != nil {
			stdlib.UnregisterConnConfig(dsn)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		conn = pooledConn{db: db, dsn: dsn}
		p.pool[key] = conn
		obs.ObserveHandleOpen(string(mode.tier))
		obs.SetPooledHandles(len(p.pool))
	}
	return &Handle{DB: conn.db, OrgID: org.ID, tier: mode.tier, token: mode.token}, nil
}

// tenantDSN builds a connection string from the organization's coordinates:
// the stored URL plus the credential for the requested tier.
func tenantDSN(org *controlplane.Organization, tier Tier) (string, error) {
	cfg, err := pgx.ParseConfig(org.Store.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch tier {
	case TierElevated:
		if org.Store.ServiceKey == "" {
			return "", fmt.Errorf("%w: organization %s has no service credential", ErrUnavailable, org.ID)
		}
		cfg.User = roleElevated
		cfg.Password = org.Store.ServiceKey
	case TierRestricted:
		if org.Store.RestrictedKey == "" {
			return "", fmt.Errorf("%w: organization %s has no restricted credential", ErrUnavailable, org.ID)
		}
		cfg.User = roleRestricted
		cfg.Password = org.Store.RestrictedKey
	default:
		return "", fmt.Errorf("%w: unknown tier %s", ErrUnavailable, tier)
	}
	return stdlib.RegisterConnConfig(cfg), nil
}

// Invalidate closes and removes every pooled handle for the organization.
// Called when the organization's store coordinates or credentials change.
func (p *Provider) Invalidate(orgID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tier := range []Tier{TierElevated, TierRestricted} {
		key := poolKey{orgID: orgID, tier: tier}
		if conn, ok := p.pool[key]; ok {
			_ = conn.db.Close()
			stdlib.UnregisterConnConfig(conn.dsn)
			delete(p.pool, key)
		}
	}
	obs.SetPooledHandles(len(p.pool))
}

// Close releases every pooled handle and the control-plane handle.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for key, conn := range p.pool {
		if err := conn.db.Close(); err != nil && first == nil {
			first = err
		}
		stdlib.UnregisterConnConfig(conn.dsn)
		delete(p.pool, key)
	}
	if p.control != nil {
		if err := p.control.Close(); err != nil && first == nil {
			first = err
		}
		p.control = nil
	}
	obs.SetPooledHandles(0)
	return first
}
