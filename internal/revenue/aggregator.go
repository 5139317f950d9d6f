// Package revenue reports earnings from completed payment records.
package revenue

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/patrickwarner/promoserve/internal/store"
)

// TierRevenue is the revenue contribution of one tier within a range.
type TierRevenue struct {
	TierID string  `json:"tier_id"`
	Total  float64 `json:"total"`
	Count  int64   `json:"count"`
}

// Summary aggregates completed payments over a date range.
type Summary struct {
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Total   float64       `json:"total"`
	Count   int64         `json:"count"`
	Average float64       `json:"average"`
	ByTier  []TierRevenue `json:"by_tier"`
}

// Aggregator sums completed payments. Grouping is by tier id; descriptions
// are display text and never parsed.
type Aggregator struct {
	store store.Store
}

// NewAggregator constructs an Aggregator.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Revenue sums completed payments with createdAt in [start, end). An empty
// range yields a zero summary, never an error. Because payments are summed
// per record, totals over contiguous non-overlapping sub-ranges add up to
// the total over the whole range.
func (a *Aggregator) Revenue(ctx context.Context, start, end time.Time) (*Summary, error) {
	payments, err := a.store.ListCompletedPayments(ctx, start, end)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Start: start, End: end, ByTier: []TierRevenue{}}
	byTier := make(map[string]*TierRevenue)
	for _, p := range payments {
		sum.Total += p.Amount
		sum.Count++
		g, ok := byTier[p.TierID]
		if !ok {
			g = &TierRevenue{TierID: p.TierID}
			byTier[p.TierID] = g
		}
		g.Total += p.Amount
		g.Count++
	}
	if sum.Count > 0 {
		sum.Average = math.Round(sum.Total/float64(sum.Count)*100) / 100
	}

	for _, g := range byTier {
		sum.ByTier = append(sum.ByTier, *g)
	}
	sort.Slice(sum.ByTier, func(i, j int) bool { return sum.ByTier[i].TierID < sum.ByTier[j].TierID })
	return sum, nil
}
