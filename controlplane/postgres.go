package controlplane

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/TimLCooley-SGS/core-sub002/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ Registry = (*PGRegistry)(nil)

// PGRegistry implements Registry against the control-plane PostgreSQL store.
type PGRegistry struct {
	db *sql.DB
}

func NewPGRegistry(db *sql.DB) (*PGRegistry, error) {
	if db == nil {
		return nil, errors.New("control-plane database handle is required")
	}
	return &PGRegistry{db: db}, nil
}

// execer is the slice of *sql.DB and *sql.Tx the audit append needs, so a
// write can place its audit row inside its own transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// storeErr maps a failed round trip onto ErrUnavailable so callers can apply
// their retry policy with one errors.Is check.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *PGRegistry) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("%w: slug is required", ErrInvalidInput)
	}
	// Missing and non-active organizations are indistinguishable to callers.
	return r.scanOrganization(r.db.QueryRowContext(ctx, `
		select id, slug, name, store_url, restricted_key, service_key, status, settings, created_at, updated_at
		from organizations
		where slug = $1 and status = 'active'
	`, slug))
}

func (r *PGRegistry) GetOrganizationByID(ctx context.Context, id string) (*Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return r.scanOrganization(r.db.QueryRowContext(ctx, `
		select id, slug, name, store_url, restricted_key, service_key, status, settings, created_at, updated_at
		from organizations
		where id = $1
	`, id))
}

func (r *PGRegistry) scanOrganization(row *sql.Row) (*Organization, error) {
	var (
		org         Organization
		rawSettings []byte
	)
	err := row.Scan(&org.ID, &org.Slug, &org.Name, &org.Store.URL, &org.Store.RestrictedKey,
		&org.Store.ServiceKey, &org.Status, &rawSettings, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	org.Settings = map[string]any{}
	if len(rawSettings) > 0 {
		if err := json.Unmarshal(rawSettings, &org.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return &org, nil
}

func (r *PGRegistry) GetActiveLinksForIdentity(ctx context.Context, identityID string) ([]*IdentityOrgLink, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	rows, err := r.db.QueryContext(ctx, `
		select id, identity_id, organization_id, member_id, staff_access, patron_access, status, created_at
		from identity_org_links
		where identity_id = $1 and status = 'active'
		order by created_at
	`, identityID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var links []*IdentityOrgLink
	for rows.Next() {
		var link IdentityOrgLink
		if err := rows.Scan(&link.ID, &link.IdentityID, &link.OrganizationID, &link.MemberID,
			&link.StaffAccess, &link.PatronAccess, &link.Status, &link.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		links = append(links, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	if len(links) == 0 {
		return nil, nil
	}
	return links, r.embedOrganizations(ctx, links)
}

// embedOrganizations attaches the related organization row to each link with
// a second fetch keyed on the collected organization ids.
func (r *PGRegistry) embedOrganizations(ctx context.Context, links []*IdentityOrgLink) error {
	seen := make(map[string]struct{}, len(links))
	var (
		args         []any
		placeholders []string
	)
	for _, link := range links {
		if _, ok := seen[link.OrganizationID]; ok {
			continue
		}
		seen[link.OrganizationID] = struct{}{}
		args = append(args, link.OrganizationID)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(`
		select id, slug, name, store_url, restricted_key, service_key, status, settings, created_at, updated_at
		from organizations
		where id in (%s)
	`, strings.Join(placeholders, ","))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storeErr(err)
	}
	defer rows.Close()

	byID := make(map[string]*Organization, len(args))
	for rows.Next() {
		var (
			org         Organization
			rawSettings []byte
		)
		if err := rows.Scan(&org.ID, &org.Slug, &org.Name, &org.Store.URL, &org.Store.RestrictedKey,
			&org.Store.ServiceKey, &org.Status, &rawSettings, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return storeErr(err)
		}
		org.Settings = map[string]any{}
		if len(rawSettings) > 0 {
			if err := json.Unmarshal(rawSettings, &org.Settings); err != nil {
				return err
			}
		}
		byID[org.ID] = &org
	}
	if err := rows.Err(); err != nil {
		return storeErr(err)
	}
	for _, link := range links {
		link.Organization = byID[link.OrganizationID]
	}
	return nil
}

func (r *PGRegistry) GetActiveLink(ctx context.Context, identityID, organizationID string) (*IdentityOrgLink, error) {
	identityID = strings.TrimSpace(identityID)
	organizationID = strings.TrimSpace(organizationID)
	if identityID == "" || organizationID == "" {
		return nil, fmt.Errorf("%w: identity_id and organization_id are required", ErrInvalidInput)
	}
	var link IdentityOrgLink
	err := r.db.QueryRowContext(ctx, `
		select id, identity_id, organization_id, member_id, staff_access, patron_access, status, created_at
		from identity_org_links
		where identity_id = $1 and organization_id = $2 and status = 'active'
	`, identityID, organizationID).Scan(&link.ID, &link.IdentityID, &link.OrganizationID,
		&link.MemberID, &link.StaffAccess, &link.PatronAccess, &link.Status, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &link, nil
}

func (r *PGRegistry) GetStaffByIdentity(ctx context.Context, identityID string) (*Staff, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	var staff Staff
	err := r.db.QueryRowContext(ctx, `
		select id, identity_id, role, status, created_at
		from sgs_staff
		where identity_id = $1 and status = 'active'
	`, identityID).Scan(&staff.ID, &staff.IdentityID, &staff.Role, &staff.Status, &staff.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &staff, nil
}

func (r *PGRegistry) GetIdentity(ctx context.Context, id string) (*GlobalIdentity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	return r.scanIdentity(r.db.QueryRowContext(ctx, `
		select id, email, display_name, created_at, updated_at
		from global_identities
		where id = $1
	`, id))
}

func (r *PGRegistry) GetIdentityByEmail(ctx context.Context, email string) (*GlobalIdentity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return r.scanIdentity(r.db.QueryRowContext(ctx, `
		select id, email, display_name, created_at, updated_at
		from global_identities
		where email = $1
	`, email))
}

func (r *PGRegistry) scanIdentity(row *sql.Row) (*GlobalIdentity, error) {
	var identity GlobalIdentity
	err := row.Scan(&identity.ID, &identity.Email, &identity.DisplayName, &identity.CreatedAt, &identity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &identity, nil
}

func (r *PGRegistry) CreateOrganization(ctx context.Context, org *Organization) error {
	if org == nil {
		return fmt.Errorf("%w: organization is required", ErrInvalidInput)
	}
	org.Slug = strings.TrimSpace(strings.ToLower(org.Slug))
	org.Name = strings.TrimSpace(org.Name)
	if org.Slug == "" || org.Name == "" {
		return fmt.Errorf("%w: slug and name are required", ErrInvalidInput)
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	if org.Status == "" {
		org.Status = OrgProvisioning
	}
	settings := []byte("{}")
	if len(org.Settings) > 0 {
		raw, err := json.Marshal(org.Settings)
		if err != nil {
			return fmt.Errorf("marshal settings: %w", err)
		}
		settings = raw
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into organizations (id, slug, name, store_url, restricted_key, service_key, status, settings)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, org.ID, org.Slug, org.Name, org.Store.URL, org.Store.RestrictedKey, org.Store.ServiceKey, org.Status, settings)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return storeErr(err)
	}
	if err := r.appendAudit(ctx, tx, &AuditEntry{
		Action:       "organization.create",
		ResourceType: "organization",
		ResourceID:   org.ID,
		Metadata:     map[string]any{"slug": org.Slug},
	}); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

func (r *PGRegistry) UpdateOrganizationStatus(ctx context.Context, id string, status OrgStatus) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	switch status {
	case OrgProvisioning, OrgActive, OrgSuspended, OrgArchived:
	default:
		return fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update organizations set status = $1, updated_at = now() where id = $2
	`, status, id)
	if err != nil {
		return storeErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if aff == 0 {
		return ErrNotFound
	}
	if err := r.appendAudit(ctx, tx, &AuditEntry{
		Action:       "organization.status_change",
		ResourceType: "organization",
		ResourceID:   id,
		Metadata:     map[string]any{"status": string(status)},
	}); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

func (r *PGRegistry) CreateIdentity(ctx context.Context, identity *GlobalIdentity) error {
	if identity == nil {
		return fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	identity.Email = strings.TrimSpace(strings.ToLower(identity.Email))
	if identity.Email == "" || !strings.Contains(identity.Email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if identity.ID == "" {
		identity.ID = ids.New()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into global_identities (id, email, display_name)
		values ($1, $2, $3)
	`, identity.ID, identity.Email, strings.TrimSpace(identity.DisplayName))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return storeErr(err)
	}
	if err := r.appendAudit(ctx, tx, &AuditEntry{
		Action:       "identity.create",
		ResourceType: "global_identity",
		ResourceID:   identity.ID,
	}); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

// CreateLink inserts an identity-organization link. The transaction refuses a
// second active link for the same (identity, organization) pair; a partial
// unique index backs this up at the store level.
func (r *PGRegistry) CreateLink(ctx context.Context, link *IdentityOrgLink) error {
	if link == nil {
		return fmt.Errorf("%w: link is required", ErrInvalidInput)
	}
	link.IdentityID = strings.TrimSpace(link.IdentityID)
	link.OrganizationID = strings.TrimSpace(link.OrganizationID)
	link.MemberID = strings.TrimSpace(link.MemberID)
	if link.IdentityID == "" || link.OrganizationID == "" || link.MemberID == "" {
		return fmt.Errorf("%w: identity_id, organization_id and member_id are required", ErrInvalidInput)
	}
	if link.ID == "" {
		link.ID = ids.New()
	}
	if link.Status == "" {
		link.Status = LinkActive
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `
		select id from identity_org_links
		where identity_id = $1 and organization_id = $2 and status = 'active'
	`, link.IdentityID, link.OrganizationID).Scan(&existing)
	if err == nil {
		return ErrConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storeErr(err)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into identity_org_links (id, identity_id, organization_id, member_id, staff_access, patron_access, status)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, link.ID, link.IdentityID, link.OrganizationID, link.MemberID, link.StaffAccess, link.PatronAccess, link.Status); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return ErrConflict
			case pgErrForeignKeyViolation:
				return ErrNotFound
			}
		}
		return storeErr(err)
	}
	if err := r.appendAudit(ctx, tx, &AuditEntry{
		Action:       "link.create",
		ResourceType: "identity_org_link",
		ResourceID:   link.ID,
		Metadata: map[string]any{
			"identity_id":     link.IdentityID,
			"organization_id": link.OrganizationID,
			"member_id":       link.MemberID,
		},
	}); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

func (r *PGRegistry) RemoveLink(ctx context.Context, linkID string) error {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return fmt.Errorf("%w: link_id is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update identity_org_links set status = 'removed' where id = $1 and status <> 'removed'
	`, linkID)
	if err != nil {
		return storeErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if aff == 0 {
		return ErrNotFound
	}
	if err := r.appendAudit(ctx, tx, &AuditEntry{
		Action:       "link.remove",
		ResourceType: "identity_org_link",
		ResourceID:   linkID,
	}); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

func (r *PGRegistry) UpsertStaff(ctx context.Context, staff *Staff) error {
	if staff == nil {
		return fmt.Errorf("%w: staff is required", ErrInvalidInput)
	}
	staff.IdentityID = strings.TrimSpace(staff.IdentityID)
	if staff.IdentityID == "" {
		return fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	switch staff.Role {
	case StaffAdmin, StaffSupport, StaffEngineering, StaffBilling:
	default:
		return fmt.Errorf("%w: unsupported staff role %s", ErrInvalidInput, staff.Role)
	}
	if staff.Status == "" {
		staff.Status = StaffStatusActive
	}
	if staff.ID == "" {
		staff.ID = ids.New()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into sgs_staff (id, identity_id, role, status)
		values ($1, $2, $3, $4)
		on conflict (identity_id) do update set role = excluded.role, status = excluded.status
	`, staff.ID, staff.IdentityID, staff.Role, staff.Status)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return ErrNotFound
		}
		return storeErr(err)
	}
	if err := r.appendAudit(ctx, tx, &AuditEntry{
		Action:       "staff.upsert",
		ResourceType: "sgs_staff",
		ResourceID:   staff.ID,
		Metadata:     map[string]any{"role": string(staff.Role), "status": staff.Status},
	}); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

// BeginImpersonation opens an impersonation session. Any session still active
// for the same staff member is ended inside the same transaction so that at
// most one active session exists per staff member.
func (r *PGRegistry) BeginImpersonation(ctx context.Context, session *ImpersonationSession) error {
	if session == nil {
		return fmt.Errorf("%w: session is required", ErrInvalidInput)
	}
	session.Reason = strings.TrimSpace(session.Reason)
	if session.Reason == "" {
		return fmt.Errorf("%w: impersonation reason is required", ErrInvalidInput)
	}
	session.StaffID = strings.TrimSpace(session.StaffID)
	session.OrganizationID = strings.TrimSpace(session.OrganizationID)
	session.MemberID = strings.TrimSpace(session.MemberID)
	if session.StaffID == "" || session.OrganizationID == "" || session.MemberID == "" {
		return fmt.Errorf("%w: staff_id, organization_id and member_id are required", ErrInvalidInput)
	}
	if session.ID == "" {
		session.ID = ids.New()
	}
	session.Status = ImpersonationActive

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update impersonation_sessions
		set status = 'ended', ended_at = now()
		where staff_id = $1 and status = 'active'
	`, session.StaffID); err != nil {
		return storeErr(err)
	}
	var startedAt time.Time
	if err := tx.QueryRowContext(ctx, `
		insert into impersonation_sessions (id, staff_id, organization_id, member_id, reason, ip, user_agent, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning started_at
	`, session.ID, session.StaffID, session.OrganizationID, session.MemberID,
		session.Reason, session.IP, session.UserAgent, session.Status).Scan(&startedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return ErrNotFound
		}
		return storeErr(err)
	}
	if err := r.appendAudit(ctx, tx, &AuditEntry{
		Action:       "impersonation.begin",
		ResourceType: "impersonation_session",
		ResourceID:   session.ID,
		IP:           session.IP,
		Metadata: map[string]any{
			"staff_id":        session.StaffID,
			"organization_id": session.OrganizationID,
			"member_id":       session.MemberID,
			"reason":          session.Reason,
		},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	session.StartedAt = startedAt
	return nil
}

func (r *PGRegistry) EndImpersonation(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update impersonation_sessions
		set status = 'ended', ended_at = now()
		where id = $1 and status = 'active'
	`, sessionID)
	if err != nil {
		return storeErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if aff == 0 {
		return ErrNotFound
	}
	if err := r.appendAudit(ctx, tx, &AuditEntry{
		Action:       "impersonation.end",
		ResourceType: "impersonation_session",
		ResourceID:   sessionID,
	}); err != nil {
		return err
	}
	return storeErr(tx.Commit())
}

func (r *PGRegistry) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: audit entry is required", ErrInvalidInput)
	}
	return r.appendAudit(ctx, r.db, entry)
}

// appendAudit inserts the audit row through the given executor, which lets a
// write place the row inside its own transaction. The actor comes from the
// entry when set, otherwise from the context.
func (r *PGRegistry) appendAudit(ctx context.Context, ex execer, entry *AuditEntry) error {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return fmt.Errorf("%w: audit action is required", ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.ActorIdentityID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			entry.ActorIdentityID = actor
		}
	}
	meta := []byte("{}")
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = raw
	}
	_, err := ex.ExecContext(ctx, `
		insert into platform_audit_log (id, actor_identity_id, action, resource_type, resource_id, metadata, ip)
		values ($1, nullif($2, ''), $3, $4, $5, $6, $7)
	`, entry.ID, entry.ActorIdentityID, entry.Action, entry.ResourceType, entry.ResourceID, meta, entry.IP)
	return storeErr(err)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
