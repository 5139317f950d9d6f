package models

import (
	"math"
	"time"
)

// Active entry statuses.
const (
	EntryActive  = "active"
	EntryExpired = "expired"
)

// EntryStats holds the usage counters accumulated for an active entry.
// Counters are monotonically non-decreasing and are only ever incremented
// by server-side atomic operations, never by caller-side read-modify-write.
type EntryStats struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
}

// ActiveEntry is the activation created by approving a request. It carries
// the computed expiry window and the usage counters feeding derived
// analytics. Exactly one entry exists per approved request.
type ActiveEntry struct {
	ID string `json:"id"`
	// RequestID back-references the approved request. Unique: a retried
	// approval never creates a second entry for the same request.
	RequestID string `json:"request_id"`
	TargetID  string `json:"target_id"`
	TierID    string `json:"tier_id"`
	// Key is the rotation key the entry competes under: the placement slot
	// id for banner campaigns, the product category for boosts.
	Key         string     `json:"key"`
	ActivatedAt time.Time  `json:"activated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Status      string     `json:"status"`
	Stats       EntryStats `json:"stats"`
	// CTR is the stored click-through rate percentage, recomputed after
	// every impression or click event.
	CTR float64 `json:"ctr"`
}

// Expired reports whether the entry's window has elapsed at the given
// instant. The boundary expiresAt == now counts as expired so that clock
// skew between nodes never flips an entry back to eligible.
func (e *ActiveEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CTRPercent computes the click-through rate as a percentage rounded to two
// decimals. Zero impressions yield 0, not NaN.
func CTRPercent(clicks, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return math.Round(float64(clicks)/float64(impressions)*100*100) / 100
}
