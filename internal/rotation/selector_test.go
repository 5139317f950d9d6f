package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/promoserve/internal/models"
	"github.com/patrickwarner/promoserve/internal/store"
)

func seedEntry(t *testing.T, st *store.Memory, id, key string, activated, expires time.Time) {
	t.Helper()
	require.NoError(t, st.UpsertActiveEntry(context.Background(), &models.ActiveEntry{
		ID:          id,
		RequestID:   "req-" + id,
		TargetID:    "tgt-" + id,
		Key:         key,
		ActivatedAt: activated,
		ExpiresAt:   expires,
		Status:      models.EntryActive,
	}, 0))
}

func TestSelectEligibleReturnsAllUnexpired(t *testing.T) {
	st := store.NewMemory()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedEntry(t, st, "a", "category:phones", now.Add(-time.Hour), now.Add(time.Hour))
	seedEntry(t, st, "b", "category:phones", now.Add(-time.Hour), now.Add(2*time.Hour))
	seedEntry(t, st, "c", "category:laptops", now.Add(-time.Hour), now.Add(time.Hour))

	sel := NewRandomSelector(st)
	got, err := sel.SelectEligible(context.Background(), "category:phones", now)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, e := range got {
		ids[e.ID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, ids)
}

func TestSelectEligibleFiltersStaleEntries(t *testing.T) {
	st := store.NewMemory()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Stored as active but the window already elapsed; the sweeper simply
	// has not reached it yet. It must never serve.
	seedEntry(t, st, "stale", "home_banner", now.Add(-48*time.Hour), now.Add(-time.Minute))
	seedEntry(t, st, "live", "home_banner", now.Add(-time.Hour), now.Add(time.Hour))

	sel := NewRandomSelector(st)
	got, err := sel.SelectEligible(context.Background(), "home_banner", now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "live", got[0].ID)
}

func TestSelectEligibleBoundaryCountsAsExpired(t *testing.T) {
	st := store.NewMemory()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seedEntry(t, st, "edge", "home_banner", now.Add(-time.Hour), now)

	sel := NewRandomSelector(st)
	got, err := sel.SelectEligible(context.Background(), "home_banner", now)
	require.NoError(t, err)
	assert.Empty(t, got, "expiresAt == now must not serve")

	// One instant earlier it still serves.
	got, err = sel.SelectEligible(context.Background(), "home_banner", now.Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSelectEligibleEmptyKeyIsNormal(t *testing.T) {
	sel := NewRandomSelector(store.NewMemory())
	got, err := sel.SelectEligible(context.Background(), "category:empty", time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}
