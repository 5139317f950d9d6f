// Package analytics maintains the append-only click audit log in
// ClickHouse. Clicks are individually logged for audit; impressions are
// counted only, never logged per event. The asymmetry is deliberate:
// clicks are the billable, disputable event.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/promoserve/internal/models"
)

// Service defines the interface for audit-event recording. Implementations
// must return ErrUnavailable when the underlying storage is not configured.
type Service interface {
	// RecordClick appends an immutable click event for the entry.
	RecordClick(ctx context.Context, entry *models.ActiveEntry, ts time.Time) error
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// ClickHouse wraps a ClickHouse connection.
type ClickHouse struct {
	DB *sql.DB
}

// InitClickHouse connects to ClickHouse and ensures the click event table
// exists.
func InitClickHouse(dsn string) (*ClickHouse, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS click_events (
       timestamp  DateTime,
       entry_id   String,
       request_id String,
       target_id  String,
       tier_id    String,
       key        String
   ) ENGINE=MergeTree() ORDER BY (entry_id, timestamp)`
	if _, err := db.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &ClickHouse{DB: db}, nil
}

// RecordClick inserts a single click event row.
func (c *ClickHouse) RecordClick(ctx context.Context, entry *models.ActiveEntry, ts time.Time) error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	_, err := c.DB.ExecContext(ctx,
		`INSERT INTO click_events (timestamp, entry_id, request_id, target_id, tier_id, key) VALUES (?, ?, ?, ?, ?, ?)`,
		ts, entry.ID, entry.RequestID, entry.TargetID, entry.TierID, entry.Key)
	if err != nil {
		return fmt.Errorf("insert click event: %w", err)
	}
	return nil
}

// Close shuts down the ClickHouse connection.
func (c *ClickHouse) Close() {
	if c != nil && c.DB != nil {
		if err := c.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
