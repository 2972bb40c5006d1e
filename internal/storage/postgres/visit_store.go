// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safescope/monitor/internal/monitor"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// VisitStoreConfig controls the Postgres connection pool used for visit rows.
type VisitStoreConfig struct {
	DSN             string
	VisitsTable     string
	AlertsTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// VisitStore persists visit records and risk alerts in Postgres.
// It assumes a schema like:
//
//	CREATE TABLE visits (
//		id UUID PRIMARY KEY,
//		child_email TEXT NOT NULL,
//		parent_email TEXT NOT NULL,
//		url TEXT NOT NULL,
//		title TEXT NOT NULL,
//		query TEXT NOT NULL,
//		duration_sec INTEGER NOT NULL,
//		ts TIMESTAMPTZ NOT NULL,
//		is_night_time BOOLEAN NOT NULL,
//		label TEXT NOT NULL,
//		reason TEXT NOT NULL,
//		summary TEXT NOT NULL,
//		alert_sent BOOLEAN NOT NULL DEFAULT FALSE,
//		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE INDEX visits_child_url_ts ON visits (child_email, url, ts DESC);
//
//	CREATE TABLE risk_alerts (
//		id UUID PRIMARY KEY,
//		parent_email TEXT NOT NULL,
//		visit_id UUID NOT NULL REFERENCES visits (id),
//		triggered_at TIMESTAMPTZ NOT NULL
//	);
type VisitStore struct {
	pool        pool
	visitsTable string
	alertsTable string
}

// NewVisitStore creates a Postgres-backed VisitStore using the provided config.
func NewVisitStore(ctx context.Context, cfg VisitStoreConfig) (*VisitStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newVisitStore(p, cfg.VisitsTable, cfg.AlertsTable)
}

// NewStores opens one pool and builds the visit store and parent directory
// over it. Closing the returned VisitStore closes the shared pool.
func NewStores(ctx context.Context, cfg VisitStoreConfig, childrenTable string) (*VisitStore, *ParentDirectory, error) {
	visits, err := NewVisitStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	parents, err := NewParentDirectory(visits.pool, childrenTable)
	if err != nil {
		visits.Close()
		return nil, nil, err
	}
	return visits, parents, nil
}

// NewVisitStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewVisitStoreWithPool(p pool, visitsTable, alertsTable string) (*VisitStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newVisitStore(p, visitsTable, alertsTable)
}

func newVisitStore(p pool, visitsTable, alertsTable string) (*VisitStore, error) {
	if visitsTable == "" {
		visitsTable = "visits"
	}
	if alertsTable == "" {
		alertsTable = "risk_alerts"
	}
	if !validTableName.MatchString(visitsTable) {
		return nil, fmt.Errorf("invalid table name %q", visitsTable)
	}
	if !validTableName.MatchString(alertsTable) {
		return nil, fmt.Errorf("invalid table name %q", alertsTable)
	}
	return &VisitStore{pool: p, visitsTable: visitsTable, alertsTable: alertsTable}, nil
}

// Close releases the underlying pool resources.
func (s *VisitStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// FindRecent returns the most recent visit for (childEmail, canonicalURL) at
// or after since, or nil when none exists.
func (s *VisitStore) FindRecent(ctx context.Context, childEmail, canonicalURL string, since time.Time) (*monitor.VisitRecord, error) {
	query := fmt.Sprintf(`
SELECT id, child_email, parent_email, url, title, query, duration_sec, ts,
	is_night_time, label, reason, summary, alert_sent, created_at
FROM %s
WHERE child_email = $1 AND url = $2 AND ts >= $3
ORDER BY ts DESC
LIMIT 1`, s.visitsTable)

	var rec monitor.VisitRecord
	var label string
	err := s.pool.QueryRow(ctx, query, childEmail, canonicalURL, since).Scan(
		&rec.ID,
		&rec.ChildEmail,
		&rec.ParentEmail,
		&rec.URL,
		&rec.Title,
		&rec.Query,
		&rec.DurationSec,
		&rec.Timestamp,
		&rec.NightTime,
		&label,
		&rec.Reason,
		&rec.Summary,
		&rec.AlertSent,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recent visit: %w", err)
	}
	rec.Label = monitor.ParseLabel(label)
	return &rec, nil
}

// Create inserts a new visit record.
func (s *VisitStore) Create(ctx context.Context, rec monitor.VisitRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, child_email, parent_email, url, title, query, duration_sec, ts,
	is_night_time, label, reason, summary, alert_sent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, s.visitsTable)

	args := []any{
		rec.ID,
		rec.ChildEmail,
		rec.ParentEmail,
		rec.URL,
		rec.Title,
		rec.Query,
		rec.DurationSec,
		rec.Timestamp,
		rec.NightTime,
		string(rec.Label),
		rec.Reason,
		rec.Summary,
		rec.AlertSent,
		rec.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// Accumulate atomically adds deltaSec to the visit's duration and refreshes
// its timestamp, returning the new cumulative duration. The single UPDATE
// guards against concurrent events for the same visit losing increments.
func (s *VisitStore) Accumulate(ctx context.Context, id string, deltaSec int, now time.Time) (int, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET duration_sec = duration_sec + $2, ts = $3
WHERE id = $1
RETURNING duration_sec`, s.visitsTable)

	var total int
	if err := s.pool.QueryRow(ctx, query, id, deltaSec, now).Scan(&total); err != nil {
		return 0, fmt.Errorf("accumulate visit duration: %w", err)
	}
	return total, nil
}

// UpdateAnalysis overwrites the analysis fields after a re-classification.
// The alert-sent flag is deliberately untouched here.
func (s *VisitStore) UpdateAnalysis(ctx context.Context, rec monitor.VisitRecord) error {
	query := fmt.Sprintf(`
UPDATE %s
SET title = $2, query = $3, is_night_time = $4, label = $5, reason = $6,
	summary = $7, ts = $8
WHERE id = $1`, s.visitsTable)

	tag, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Title,
		rec.Query,
		rec.NightTime,
		string(rec.Label),
		rec.Reason,
		rec.Summary,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("update visit analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("visit %s not found", rec.ID)
	}
	return nil
}

// MarkAlertSent flips alert_sent from false to true, reporting whether this
// call performed the transition. The WHERE clause makes the flip a
// compare-and-set, so concurrent processors dispatch at most one alert.
func (s *VisitStore) MarkAlertSent(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET alert_sent = TRUE
WHERE id = $1 AND alert_sent = FALSE`, s.visitsTable)

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark alert sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateAlert inserts a risk alert row.
func (s *VisitStore) CreateAlert(ctx context.Context, alert monitor.RiskAlert) error {
	if alert.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, parent_email, visit_id, triggered_at)
VALUES ($1,$2,$3,$4)`, s.alertsTable)

	if _, err := s.pool.Exec(ctx, query, alert.ID, alert.ParentEmail, alert.VisitID, alert.TriggeredAt); err != nil {
		return fmt.Errorf("insert risk alert: %w", err)
	}
	return nil
}
