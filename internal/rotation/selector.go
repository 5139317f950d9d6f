// Package rotation selects the active entries a render path should show
// for a placement or category key.
package rotation

import (
	"context"
	"math/rand"
	"time"

	"github.com/patrickwarner/promoserve/internal/models"
	"github.com/patrickwarner/promoserve/internal/store"
)

// Selector defines a pluggable interface for rotation selection.
type Selector interface {
	SelectEligible(ctx context.Context, key string, now time.Time) ([]models.ActiveEntry, error)
}

// RandomSelector shuffles the eligible entries per call. There is no
// persisted cursor: statistical fairness over many renders is the intended
// behavior, and callers take the first N for N-slot placements.
type RandomSelector struct {
	store store.Store
}

// NewRandomSelector constructs a RandomSelector backed by the given store.
func NewRandomSelector(st store.Store) *RandomSelector {
	return &RandomSelector{store: st}
}

// SelectEligible returns the entries eligible for the key at the given
// instant in random order. Expiry is re-verified against now rather than
// trusting the stored status, so a stale entry the sweeper has not reached
// yet is never served; the boundary expiresAt == now counts as expired. An
// empty result is a normal outcome, never an error.
func (s *RandomSelector) SelectEligible(ctx context.Context, key string, now time.Time) ([]models.ActiveEntry, error) {
	stored, err := s.store.ListEntriesByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	eligible := make([]models.ActiveEntry, 0, len(stored))
	for _, e := range stored {
		if !e.Expired(now) {
			eligible = append(eligible, e)
		}
	}

	rand.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	return eligible, nil
}
