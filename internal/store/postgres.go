package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on top of a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store backed by the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// applicantTables maps each pool to its table. The two pools share a shape
// but are kept in separate tables so their reconciliation passes and admin
// listings stay independent.
var applicantTables = map[Pool]string{
	PoolService:  "service_applicants",
	PoolDiscount: "discount_applicants",
}

func applicantTable(pool Pool) (string, error) {
	t, ok := applicantTables[pool]
	if !ok {
		return "", fmt.Errorf("unknown applicant pool %q", pool)
	}
	return t, nil
}

// EnsureSchema creates the tables if they do not exist. Subscriber email
// uniqueness is enforced here as a safety net against double-insert even
// though runs are serialized by the web layer.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
			id              TEXT PRIMARY KEY,
			email           TEXT NOT NULL UNIQUE,
			subscription_id TEXT NOT NULL,
			is_active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS upload_runs (
			id                        TEXT PRIMARY KEY,
			file_name                 TEXT NOT NULL,
			file_path                 TEXT NOT NULL DEFAULT '',
			status                    TEXT NOT NULL DEFAULT 'pending',
			total_rows                INTEGER NOT NULL DEFAULT 0,
			active_rows               INTEGER NOT NULL DEFAULT 0,
			service_match_count       INTEGER NOT NULL DEFAULT 0,
			service_revocation_count  INTEGER NOT NULL DEFAULT 0,
			discount_match_count      INTEGER NOT NULL DEFAULT 0,
			discount_revocation_count INTEGER NOT NULL DEFAULT 0,
			error_message             TEXT NOT NULL DEFAULT '',
			uploaded_by               TEXT NOT NULL DEFAULT '',
			created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, table := range []string{"service_applicants", "discount_applicants"} {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                     TEXT PRIMARY KEY,
			last_name              TEXT NOT NULL,
			first_name             TEXT NOT NULL,
			email                  TEXT NOT NULL,
			subscription_verified  BOOLEAN NOT NULL DEFAULT FALSE,
			subscriber_id          TEXT REFERENCES subscribers(id) ON DELETE SET NULL,
			match_method           TEXT NOT NULL DEFAULT '',
			matched_at             TIMESTAMPTZ,
			upload_run_id          TEXT REFERENCES upload_runs(id) ON DELETE SET NULL,
			match_notes            TEXT NOT NULL DEFAULT '',
			status                 TEXT NOT NULL DEFAULT 'pending',
			benefit_granted        BOOLEAN NOT NULL DEFAULT FALSE,
			benefit_granted_at     TIMESTAMPTZ,
			revocation_required    BOOLEAN NOT NULL DEFAULT FALSE,
			revocation_required_at TIMESTAMPTZ,
			revoked_at             TIMESTAMPTZ,
			notes                  TEXT NOT NULL DEFAULT '',
			created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table))
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const applicantColumns = `id, last_name, first_name, email,
	subscription_verified, subscriber_id, match_method, matched_at,
	upload_run_id, match_notes, status,
	benefit_granted, benefit_granted_at,
	revocation_required, revocation_required_at, revoked_at,
	notes, created_at, updated_at`

func scanApplicant(row pgx.Row, pool Pool) (*Applicant, error) {
	a := Applicant{Pool: pool}
	err := row.Scan(
		&a.ID, &a.LastName, &a.FirstName, &a.Email,
		&a.SubscriptionVerified, &a.SubscriberID, &a.MatchMethod, &a.MatchedAt,
		&a.UploadRunID, &a.MatchNotes, &a.Status,
		&a.BenefitGranted, &a.BenefitGrantedAt,
		&a.RevocationRequired, &a.RevocationRequiredAt, &a.RevokedAt,
		&a.Notes, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Postgres) queryApplicants(ctx context.Context, pool Pool, where string, args ...any) ([]*Applicant, error) {
	table, err := applicantTable(pool)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s %s", applicantColumns, table, where)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []*Applicant
	for rows.Next() {
		a, err := scanApplicant(rows, pool)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func (s *Postgres) ListUnverified(ctx context.Context, pool Pool) ([]*Applicant, error) {
	return s.queryApplicants(ctx, pool,
		"WHERE subscription_verified = FALSE ORDER BY created_at ASC")
}

func (s *Postgres) ListGranted(ctx context.Context, pool Pool) ([]*Applicant, error) {
	return s.queryApplicants(ctx, pool,
		"WHERE benefit_granted = TRUE AND revoked_at IS NULL ORDER BY created_at ASC")
}

func (s *Postgres) List(ctx context.Context, pool Pool, filter ApplicantFilter) ([]*Applicant, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Verified != nil {
		conds = append(conds, "subscription_verified = "+arg(*filter.Verified))
	}
	if filter.Granted != nil {
		conds = append(conds, "benefit_granted = "+arg(*filter.Granted))
	}
	if filter.RevocationRequired != nil {
		conds = append(conds, "revocation_required = "+arg(*filter.RevocationRequired))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return s.queryApplicants(ctx, pool, where+" ORDER BY created_at DESC", args...)
}

func (s *Postgres) GetApplicant(ctx context.Context, pool Pool, id string) (*Applicant, error) {
	table, err := applicantTable(pool)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", applicantColumns, table)
	a, err := scanApplicant(s.pool.QueryRow(ctx, query, id), pool)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get applicant %s: %w", id, err)
	}
	return a, nil
}

func (s *Postgres) CreateApplicant(ctx context.Context, a *Applicant) error {
	table, err := applicantTable(a.Pool)
	if err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = ApplicantPending
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		table, applicantColumns)
	_, err = s.pool.Exec(ctx, query,
		a.ID, a.LastName, a.FirstName, a.Email,
		a.SubscriptionVerified, a.SubscriberID, a.MatchMethod, a.MatchedAt,
		a.UploadRunID, a.MatchNotes, a.Status,
		a.BenefitGranted, a.BenefitGrantedAt,
		a.RevocationRequired, a.RevocationRequiredAt, a.RevokedAt,
		a.Notes, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create applicant: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateApplicant(ctx context.Context, a *Applicant) error {
	table, err := applicantTable(a.Pool)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`UPDATE %s SET
		last_name = $2, first_name = $3, email = $4,
		subscription_verified = $5, subscriber_id = $6, match_method = $7,
		matched_at = $8, upload_run_id = $9, match_notes = $10, status = $11,
		benefit_granted = $12, benefit_granted_at = $13,
		revocation_required = $14, revocation_required_at = $15, revoked_at = $16,
		notes = $17, updated_at = $18
		WHERE id = $1`, table)
	tag, err := s.pool.Exec(ctx, query,
		a.ID, a.LastName, a.FirstName, a.Email,
		a.SubscriptionVerified, a.SubscriberID, a.MatchMethod,
		a.MatchedAt, a.UploadRunID, a.MatchNotes, a.Status,
		a.BenefitGranted, a.BenefitGrantedAt,
		a.RevocationRequired, a.RevocationRequiredAt, a.RevokedAt,
		a.Notes, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update applicant %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteApplicant(ctx context.Context, pool Pool, id string) error {
	table, err := applicantTable(pool)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id)
	if err != nil {
		return fmt.Errorf("delete applicant %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrCreateSubscriber inserts the subscriber if the email is new and
// returns the stored record either way. ON CONFLICT DO NOTHING plus a
// re-select keeps the operation race-safe under the email unique
// constraint; an existing record's external id is never overwritten.
func (s *Postgres) GetOrCreateSubscriber(ctx context.Context, email, subscriptionID string) (*Subscriber, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscribers (id, email, subscription_id, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, TRUE, $4, $4)
		 ON CONFLICT (email) DO NOTHING`,
		uuid.New().String(), email, subscriptionID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create subscriber %s: %w", email, err)
	}

	var sub Subscriber
	err = s.pool.QueryRow(ctx,
		`SELECT id, email, subscription_id, is_active, created_at, updated_at
		 FROM subscribers WHERE email = $1`, email,
	).Scan(&sub.ID, &sub.Email, &sub.SubscriptionID, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get subscriber %s: %w", email, err)
	}
	return &sub, nil
}

func (s *Postgres) ListSubscribers(ctx context.Context) ([]*Subscriber, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, subscription_id, is_active, created_at, updated_at
		 FROM subscribers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var out []*Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.SubscriptionID, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return out, nil
}

const runColumns = `id, file_name, file_path, status, total_rows, active_rows,
	service_match_count, service_revocation_count,
	discount_match_count, discount_revocation_count,
	error_message, uploaded_by, created_at, updated_at`

func scanRun(row pgx.Row) (*UploadRun, error) {
	var r UploadRun
	err := row.Scan(
		&r.ID, &r.FileName, &r.FilePath, &r.Status, &r.TotalRows, &r.ActiveRows,
		&r.ServiceMatchCount, &r.ServiceRevocationCount,
		&r.DiscountMatchCount, &r.DiscountRevocationCount,
		&r.ErrorMessage, &r.UploadedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Postgres) CreateRun(ctx context.Context, r *UploadRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = RunPending
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO upload_runs (%s)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, runColumns),
		r.ID, r.FileName, r.FilePath, r.Status, r.TotalRows, r.ActiveRows,
		r.ServiceMatchCount, r.ServiceRevocationCount,
		r.DiscountMatchCount, r.DiscountRevocationCount,
		r.ErrorMessage, r.UploadedBy, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Postgres) GetRun(ctx context.Context, id string) (*UploadRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM upload_runs WHERE id = $1", runColumns), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (s *Postgres) UpdateRun(ctx context.Context, r *UploadRun) error {
	r.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE upload_runs SET
			file_name = $2, file_path = $3, status = $4,
			total_rows = $5, active_rows = $6,
			service_match_count = $7, service_revocation_count = $8,
			discount_match_count = $9, discount_revocation_count = $10,
			error_message = $11, uploaded_by = $12, updated_at = $13
		 WHERE id = $1`,
		r.ID, r.FileName, r.FilePath, r.Status,
		r.TotalRows, r.ActiveRows,
		r.ServiceMatchCount, r.ServiceRevocationCount,
		r.DiscountMatchCount, r.DiscountRevocationCount,
		r.ErrorMessage, r.UploadedBy, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListRuns(ctx context.Context) ([]*UploadRun, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM upload_runs ORDER BY created_at DESC", runColumns))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*UploadRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *Postgres) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM upload_runs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
