package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/models"
)

// Postgres implements Store on top of a postgres connection. Transitions
// are single conditional UPDATE statements and counters are incremented in
// SQL, so concurrent handler instances never need shared locks.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the four logical collections if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS tiers (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    price DOUBLE PRECISION NOT NULL,
    duration_seconds BIGINT NOT NULL,
    max_concurrent INT NOT NULL DEFAULT 0,
    placement_key TEXT,
    description TEXT
);

CREATE TABLE IF NOT EXISTS targets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    image TEXT,
    owner_id TEXT NOT NULL,
    category TEXT NOT NULL,
    promoted BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS requests (
    id TEXT PRIMARY KEY,
    target_id TEXT NOT NULL REFERENCES targets(id),
    tier_id TEXT NOT NULL REFERENCES tiers(id),
    status TEXT NOT NULL DEFAULT 'pending',
    price DOUBLE PRECISION NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    decided_at TIMESTAMPTZ NULL,
    rejection_reason TEXT
);

CREATE TABLE IF NOT EXISTS active_entries (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL UNIQUE REFERENCES requests(id),
    target_id TEXT NOT NULL REFERENCES targets(id),
    tier_id TEXT NOT NULL REFERENCES tiers(id),
    key TEXT NOT NULL,
    activated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    impressions BIGINT NOT NULL DEFAULT 0,
    clicks BIGINT NOT NULL DEFAULT 0,
    conversions BIGINT NOT NULL DEFAULT 0,
    ctr DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL REFERENCES requests(id),
    tier_id TEXT NOT NULL REFERENCES tiers(id),
    amount DOUBLE PRECISION NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    type TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_status ON requests (status);
CREATE INDEX IF NOT EXISTS idx_entries_key_status ON active_entries (key, status) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_entries_expiry ON active_entries (expires_at) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_entries_target ON active_entries (target_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_payments_completed ON payments (created_at) WHERE status = 'completed';
`

// InitPostgres connects to Postgres with connection pooling configuration
// and ensures the schema exists.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	zap.L().Info("Connected to Postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// LoadTiers retrieves the catalog rows. The catalog package turns them into
// an immutable lookup table at startup.
func (p *Postgres) LoadTiers(ctx context.Context) ([]models.Tier, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, kind, name, price, duration_seconds, max_concurrent, placement_key, description FROM tiers`)
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tiers []models.Tier
	for rows.Next() {
		var t models.Tier
		var secs int64
		var pkey, desc sql.NullString
		if err := rows.Scan(&t.ID, &t.Kind, &t.Name, &t.Price, &secs, &t.MaxConcurrent, &pkey, &desc); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		t.Duration = time.Duration(secs) * time.Second
		if pkey.Valid {
			t.PlacementKey = pkey.String
		}
		if desc.Valid {
			t.Description = desc.String
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// SeedTiers inserts catalog rows that do not exist yet. Used at startup to
// install the default tier table on an empty database.
func (p *Postgres) SeedTiers(ctx context.Context, tiers []models.Tier) error {
	for _, t := range tiers {
		_, err := p.DB.ExecContext(ctx,
			`INSERT INTO tiers (id, kind, name, price, duration_seconds, max_concurrent, placement_key, description)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (id) DO NOTHING`,
			t.ID, t.Kind, t.Name, t.Price, int64(t.Duration/time.Second), t.MaxConcurrent, nullIfEmpty(t.PlacementKey), t.Description)
		if err != nil {
			return fmt.Errorf("seed tier %s: %w", t.ID, err)
		}
	}
	return nil
}

func (p *Postgres) InsertRequest(ctx context.Context, req *models.Request) error {
	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = p.DB.ExecContext(ctx,
		`INSERT INTO requests (id, target_id, tier_id, status, price, metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		req.ID, req.TargetID, req.TierID, req.Status, req.Price, meta, req.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return models.ErrConflict
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

const requestColumns = `id, target_id, tier_id, status, price, metadata, created_at, decided_at, rejection_reason`

func scanRequest(s interface{ Scan(...any) error }) (*models.Request, error) {
	var req models.Request
	var meta []byte
	var decided sql.NullTime
	var reason sql.NullString
	if err := s.Scan(&req.ID, &req.TargetID, &req.TierID, &req.Status, &req.Price, &meta, &req.CreatedAt, &decided, &reason); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &req.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if decided.Valid {
		ts := decided.Time
		req.DecidedAt = &ts
	}
	if reason.Valid {
		req.RejectionReason = reason.String
	}
	return &req, nil
}

func (p *Postgres) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

func (p *Postgres) ListRequests(ctx context.Context, status string) ([]models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// DecideRequest flips a pending request into a terminal status with a
// single conditional UPDATE. When approve and reject race, the row
// predicate guarantees exactly one statement reports an affected row.
func (p *Postgres) DecideRequest(ctx context.Context, id, status string, decidedAt time.Time, reason string) (*models.Request, error) {
	row := p.DB.QueryRowContext(ctx,
		`UPDATE requests SET status = $2, decided_at = $3, rejection_reason = $4
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+requestColumns,
		id, status, decidedAt, nullIfEmpty(reason))
	req, err := scanRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decide request: %w", err)
	}

	// Lost the conditional write: classify against the current row.
	prior, gerr := p.GetRequest(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if prior.Status == status {
		return nil, models.ErrAlreadyDecided
	}
	return nil, models.ErrInvalidStateTransition
}

// ReopenRequest undoes an approval whose activation could not be placed.
// The NOT EXISTS guard keeps it a no-op once an entry exists, so a racing
// retry that did manage to activate is never un-decided.
func (p *Postgres) ReopenRequest(ctx context.Context, id string) error {
	_, err := p.DB.ExecContext(ctx,
		`UPDATE requests SET status = 'pending', decided_at = NULL
		 WHERE id = $1 AND status = 'approved'
		   AND NOT EXISTS (SELECT 1 FROM active_entries WHERE request_id = $1)`, id)
	if err != nil {
		return fmt.Errorf("reopen request: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertActiveEntry(ctx context.Context, e *models.ActiveEntry, maxConcurrent int) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin entry insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize activations per rotation key. Under READ COMMITTED two
	// concurrent inserts would each run the capacity count against a
	// snapshot excluding the other's uncommitted row and both pass; the
	// advisory lock (released at commit/rollback) forces them through one
	// at a time.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.Key); err != nil {
		return fmt.Errorf("lock rotation key: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO active_entries (id, request_id, target_id, tier_id, key, activated_at, expires_at, status)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8
		 WHERE $9 <= 0 OR (
		     SELECT COUNT(*) FROM active_entries
		     WHERE key = $5 AND status = 'active' AND expires_at > $6
		 ) < $9
		 ON CONFLICT (request_id) DO NOTHING`,
		e.ID, e.RequestID, e.TargetID, e.TierID, e.Key, e.ActivatedAt, e.ExpiresAt, e.Status, maxConcurrent)
	if err != nil {
		return fmt.Errorf("insert active entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert active entry: %w", err)
	}
	if n == 0 {
		// Zero rows: either the entry already exists for this request (a
		// retried approval, which is fine) or the capacity predicate
		// failed.
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM active_entries WHERE request_id = $1`, e.RequestID).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("check existing entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entry insert: %w", err)
	}
	return nil
}

const entryColumns = `id, request_id, target_id, tier_id, key, activated_at, expires_at, status, impressions, clicks, conversions, ctr`

func scanEntry(s interface{ Scan(...any) error }) (*models.ActiveEntry, error) {
	var e models.ActiveEntry
	if err := s.Scan(&e.ID, &e.RequestID, &e.TargetID, &e.TierID, &e.Key, &e.ActivatedAt, &e.ExpiresAt, &e.Status,
		&e.Stats.Impressions, &e.Stats.Clicks, &e.Stats.Conversions, &e.CTR); err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) GetEntry(ctx context.Context, id string) (*models.ActiveEntry, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM active_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func (p *Postgres) GetEntryByRequest(ctx context.Context, requestID string) (*models.ActiveEntry, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM active_entries WHERE request_id = $1`, requestID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry by request: %w", err)
	}
	return e, nil
}

func (p *Postgres) listEntries(ctx context.Context, query string, args ...any) ([]models.ActiveEntry, error) {
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.ActiveEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (p *Postgres) ListEntriesByKey(ctx context.Context, key string) ([]models.ActiveEntry, error) {
	return p.listEntries(ctx,
		`SELECT `+entryColumns+` FROM active_entries WHERE key = $1 AND status = 'active' ORDER BY activated_at`, key)
}

func (p *Postgres) ListExpiredEntries(ctx context.Context, now time.Time) ([]models.ActiveEntry, error) {
	return p.listEntries(ctx,
		`SELECT `+entryColumns+` FROM active_entries WHERE status = 'active' AND expires_at <= $1 ORDER BY expires_at`, now)
}

func (p *Postgres) ExpireEntry(ctx context.Context, id string) (bool, error) {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE active_entries SET status = 'expired' WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return false, fmt.Errorf("expire entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire entry: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) HasActiveEntryForTarget(ctx context.Context, targetID string, now time.Time) (bool, error) {
	var exists bool
	err := p.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM active_entries WHERE target_id = $1 AND status = 'active' AND expires_at > $2)`,
		targetID, now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check target coverage: %w", err)
	}
	return exists, nil
}

// IncrementImpressions bumps the impression counter and recomputes CTR in
// one statement; the database applies the increment, so concurrent bursts
// never lose updates.
func (p *Postgres) IncrementImpressions(ctx context.Context, entryID string) (models.EntryStats, error) {
	var st models.EntryStats
	err := p.DB.QueryRowContext(ctx,
		`UPDATE active_entries
		 SET impressions = impressions + 1,
		     ctr = ROUND(clicks::numeric / (impressions + 1) * 100, 2)
		 WHERE id = $1
		 RETURNING impressions, clicks, conversions`,
		entryID).Scan(&st.Impressions, &st.Clicks, &st.Conversions)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EntryStats{}, models.ErrNotFound
	}
	if err != nil {
		return models.EntryStats{}, fmt.Errorf("increment impressions: %w", err)
	}
	return st, nil
}

func (p *Postgres) IncrementClicks(ctx context.Context, entryID string) (models.EntryStats, error) {
	var st models.EntryStats
	err := p.DB.QueryRowContext(ctx,
		`UPDATE active_entries
		 SET clicks = clicks + 1,
		     ctr = CASE WHEN impressions > 0
		           THEN ROUND((clicks + 1)::numeric / impressions * 100, 2)
		           ELSE 0 END
		 WHERE id = $1
		 RETURNING impressions, clicks, conversions`,
		entryID).Scan(&st.Impressions, &st.Clicks, &st.Conversions)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EntryStats{}, models.ErrNotFound
	}
	if err != nil {
		return models.EntryStats{}, fmt.Errorf("increment clicks: %w", err)
	}
	return st, nil
}

func (p *Postgres) UpsertPayment(ctx context.Context, pay *models.PaymentRecord) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO payments (id, source_id, tier_id, amount, status, type, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
		pay.ID, pay.SourceID, pay.TierID, pay.Amount, pay.Status, pay.Type, pay.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

func (p *Postgres) CompletePayment(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE payments SET status = 'completed' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("complete payment: %w", err)
	} else if n > 0 {
		return nil
	}
	// No rows: a retried approval already completed it, or the id is bad.
	if _, err := p.GetPayment(ctx, id); err != nil {
		return err
	}
	return nil
}

func (p *Postgres) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	var pay models.PaymentRecord
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, source_id, tier_id, amount, status, type, created_at FROM payments WHERE id = $1`, id).
		Scan(&pay.ID, &pay.SourceID, &pay.TierID, &pay.Amount, &pay.Status, &pay.Type, &pay.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &pay, nil
}

func (p *Postgres) ListCompletedPayments(ctx context.Context, start, end time.Time) ([]models.PaymentRecord, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, source_id, tier_id, amount, status, type, created_at
		 FROM payments WHERE status = 'completed' AND created_at >= $1 AND created_at < $2
		 ORDER BY created_at`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.PaymentRecord
	for rows.Next() {
		var pay models.PaymentRecord
		if err := rows.Scan(&pay.ID, &pay.SourceID, &pay.TierID, &pay.Amount, &pay.Status, &pay.Type, &pay.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertTarget(ctx context.Context, t *models.Target) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO targets (id, name, image, owner_id, category, promoted)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO UPDATE SET name = $2, image = $3, owner_id = $4, category = $5`,
		t.ID, t.Name, t.Image, t.OwnerID, t.Category, t.Promoted)
	if err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	return nil
}

func (p *Postgres) LookupTarget(ctx context.Context, id string) (*models.Target, error) {
	var t models.Target
	var image sql.NullString
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, name, image, owner_id, category, promoted FROM targets WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &image, &t.OwnerID, &t.Category, &t.Promoted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup target: %w", err)
	}
	if image.Valid {
		t.Image = image.String
	}
	return &t, nil
}

func (p *Postgres) SetTargetPromoted(ctx context.Context, targetID string, promoted bool) error {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE targets SET promoted = $2 WHERE id = $1`, targetID, promoted)
	if err != nil {
		return fmt.Errorf("set target promoted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set target promoted: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
