// Package tracking records impression and click events against active
// entries and serves the derived metrics (CTR, CPC, CPM).
package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/analytics"
	"github.com/patrickwarner/promoserve/internal/catalog"
	"github.com/patrickwarner/promoserve/internal/db"
	"github.com/patrickwarner/promoserve/internal/models"
	"github.com/patrickwarner/promoserve/internal/store"
)

// Stats is the derived metrics view for one entry. Financial figures use
// the tier price from the catalog, never a caller-supplied amount.
type Stats struct {
	EntryID     string  `json:"entry_id"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	CTR         float64 `json:"ctr"`
	CPC         float64 `json:"cpc"`
	CPM         float64 `json:"cpm"`
	// Today's deltas from the Redis day counters; zero when the counter
	// store is not configured.
	TodayImpressions int64 `json:"today_impressions"`
	TodayClicks      int64 `json:"today_clicks"`
}

// Tracker accumulates usage counters. Counter increments are delegated to
// the store, which applies them atomically server-side; concurrent bursts
// from many handler instances never lose updates.
type Tracker struct {
	store    store.Store
	catalog  *catalog.Catalog
	counters *db.RedisStore // optional day counters
	audit    analytics.Service
	logger   *zap.Logger
	now      func() time.Time
}

// NewTracker constructs a Tracker. counters may be nil, in which case the
// day-scoped counters are skipped.
func NewTracker(st store.Store, cat *catalog.Catalog, counters *db.RedisStore, audit analytics.Service, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:    st,
		catalog:  cat,
		counters: counters,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// RecordImpression atomically bumps the impression counter and recomputes
// the stored CTR. Impressions are counted only; no per-event row is kept.
func (t *Tracker) RecordImpression(ctx context.Context, entryID string) error {
	if _, err := t.store.IncrementImpressions(ctx, entryID); err != nil {
		return err
	}
	if t.counters != nil {
		if err := t.counters.IncrementDailyImpression(ctx, entryID, t.now().UTC()); err != nil {
			// The durable counter is already applied; the day counter is
			// advisory.
			t.logger.Warn("daily impression counter", zap.Error(err), zap.String("entry_id", entryID))
		}
	}
	return nil
}

// RecordClick atomically bumps the click counter, recomputes the stored
// CTR and appends an immutable click event to the audit log.
func (t *Tracker) RecordClick(ctx context.Context, entryID string) error {
	entry, err := t.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if _, err := t.store.IncrementClicks(ctx, entryID); err != nil {
		return err
	}
	if t.counters != nil {
		if err := t.counters.IncrementDailyClick(ctx, entryID, t.now().UTC()); err != nil {
			t.logger.Warn("daily click counter", zap.Error(err), zap.String("entry_id", entryID))
		}
	}
	if err := t.audit.RecordClick(ctx, entry, t.now().UTC()); err != nil {
		return fmt.Errorf("click audit: %w", err)
	}
	return nil
}

// GetStats returns the accumulated counters and derived metrics for an
// entry. CPC is price/clicks, CPM is price per thousand impressions; both
// are 0 rather than undefined when their denominator is zero.
func (t *Tracker) GetStats(ctx context.Context, entryID string) (*Stats, error) {
	entry, err := t.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	tier, err := t.catalog.Get(entry.TierID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	st := &Stats{
		EntryID:     entry.ID,
		Impressions: entry.Stats.Impressions,
		Clicks:      entry.Stats.Clicks,
		Conversions: entry.Stats.Conversions,
		CTR:         models.CTRPercent(entry.Stats.Clicks, entry.Stats.Impressions),
	}
	if st.Clicks > 0 {
		st.CPC = round2(tier.Price / float64(st.Clicks))
	}
	if st.Impressions > 0 {
		st.CPM = round2(tier.Price / float64(st.Impressions) * 1000)
	}

	if t.counters != nil {
		st.TodayImpressions, st.TodayClicks = t.counters.GetDailyCounts(ctx, entryID, t.now().UTC())
	}
	return st, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
