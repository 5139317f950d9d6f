package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/catalog"
	"github.com/patrickwarner/promoserve/internal/models"
	"github.com/patrickwarner/promoserve/internal/observability"
	"github.com/patrickwarner/promoserve/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()
	cat, err := catalog.New(catalog.Defaults())
	require.NoError(t, err)

	st := store.NewMemory()
	require.NoError(t, st.UpsertTarget(context.Background(), &models.Target{
		ID:       "tgt-1",
		Name:     "Vintage camera",
		OwnerID:  "user-9",
		Category: "electronics",
	}))

	m := NewManager(st, cat, zap.NewNop(), &observability.MockMetricsRegistry{})
	return m, st
}

func TestCreateRequestValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateRequest(ctx, "tgt-1", "GOLD_PLATED", "", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = m.CreateRequest(ctx, "ghost", "BOOST_24H", "", nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCreateRequestCopiesCatalogPrice(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	req, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "", map[string]string{"note": "weekend push"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)
	assert.Equal(t, 500.0, req.Price)
	assert.Nil(t, req.DecidedAt)

	// A pending payment record is created alongside the request.
	pay, err := st.GetPayment(ctx, models.PaymentIDFor(req.ID))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, pay.Status)
	assert.Equal(t, 500.0, pay.Amount)
	assert.Equal(t, req.ID, pay.SourceID)
}

func TestCreateRequestIdempotencyKey(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "order-42", nil)
	require.NoError(t, err)

	retried, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "order-42", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, retried.ID)
	assert.Equal(t, first.CreatedAt, retried.CreatedAt)
}

func TestApproveActivatesEntryForFullTierDuration(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	decidedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return decidedAt })

	req, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "", nil)
	require.NoError(t, err)

	entry, err := m.Approve(ctx, req.ID)
	require.NoError(t, err)

	// The window is fixed by the decision instant, not request creation.
	assert.Equal(t, decidedAt, entry.ActivatedAt)
	assert.Equal(t, decidedAt.Add(24*time.Hour), entry.ExpiresAt)
	assert.Equal(t, models.EntryActive, entry.Status)
	assert.Equal(t, "category:electronics", entry.Key)

	pay, err := st.GetPayment(ctx, models.PaymentIDFor(req.ID))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, pay.Status)

	target, err := st.LookupTarget(ctx, "tgt-1")
	require.NoError(t, err)
	assert.True(t, target.Promoted)
}

func TestApprovePlacementUsesPlacementKey(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	req, err := m.CreateRequest(ctx, "tgt-1", "HOME_BANNER_7D", "", nil)
	require.NoError(t, err)

	entry, err := m.Approve(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "home_banner", entry.Key)
	assert.Equal(t, entry.ActivatedAt.Add(7*24*time.Hour), entry.ExpiresAt)
}

func TestApproveTwiceReportsAlreadyDecided(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	req, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "", nil)
	require.NoError(t, err)

	_, err = m.Approve(ctx, req.ID)
	require.NoError(t, err)

	_, err = m.Approve(ctx, req.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyDecided)
}

func TestRejectAfterApproveIsInvalidTransition(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	req, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "", nil)
	require.NoError(t, err)

	_, err = m.Approve(ctx, req.ID)
	require.NoError(t, err)

	_, err = m.Reject(ctx, req.ID, "late change of heart")
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestRejectHasNoSideEffects(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	req, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "", nil)
	require.NoError(t, err)

	decided, err := m.Reject(ctx, req.ID, "payment not received")
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, decided.Status)
	assert.Equal(t, "payment not received", decided.RejectionReason)

	_, err = st.GetEntryByRequest(ctx, req.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	pay, err := st.GetPayment(ctx, models.PaymentIDFor(req.ID))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, pay.Status)

	target, err := st.LookupTarget(ctx, "tgt-1")
	require.NoError(t, err)
	assert.False(t, target.Promoted)
}

func TestConcurrentDecisionsExactlyOneWins(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	req, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "", nil)
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	approveErrs := make([]error, racers/2)
	rejectErrs := make([]error, racers/2)
	for i := 0; i < racers/2; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, approveErrs[i] = m.Approve(ctx, req.ID)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, rejectErrs[i] = m.Reject(ctx, req.ID, "raced")
		}(i)
	}
	wg.Wait()

	// The request must end in exactly one terminal state.
	decided, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Contains(t, []string{models.RequestApproved, models.RequestRejected}, decided.Status)

	for _, err := range append(approveErrs, rejectErrs...) {
		if err == nil {
			continue
		}
		conflict := errors.Is(err, models.ErrAlreadyDecided) || errors.Is(err, models.ErrInvalidStateTransition)
		assert.True(t, conflict, "unexpected race error: %v", err)
	}

	if decided.Status == models.RequestApproved {
		// Every rejection must have lost, and however many approvals
		// succeeded (a retry may resume the saga) only one entry exists.
		for _, err := range rejectErrs {
			assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
		}
		entry, err := st.GetEntryByRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EntryActive, entry.Status)
	} else {
		for _, err := range approveErrs {
			assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
		}
		_, err := st.GetEntryByRequest(ctx, req.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
}

func TestApproveResumesAfterPartialFailure(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	decidedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return decidedAt })

	req, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "", nil)
	require.NoError(t, err)

	// Simulate a crash after the decision landed but before activation:
	// the request is approved yet no entry or payment completion exists.
	_, err = st.DecideRequest(ctx, req.ID, models.RequestApproved, decidedAt, "")
	require.NoError(t, err)

	entry, err := m.Approve(ctx, req.ID)
	require.NoError(t, err, "retried approval must resume, not fail")
	assert.Equal(t, decidedAt, entry.ActivatedAt)
	assert.Equal(t, decidedAt.Add(24*time.Hour), entry.ExpiresAt)

	pay, err := st.GetPayment(ctx, models.PaymentIDFor(req.ID))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, pay.Status)
}

func TestApproveRespectsPlacementCapacity(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	// CATEGORY_BANNER_7D caps at 3 concurrent campaigns.
	var first *models.ActiveEntry
	for i := 0; i < 3; i++ {
		req, err := m.CreateRequest(ctx, "tgt-1", "CATEGORY_BANNER_7D", "", nil)
		require.NoError(t, err)
		entry, err := m.Approve(ctx, req.ID)
		require.NoError(t, err)
		if first == nil {
			first = entry
		}
	}

	req, err := m.CreateRequest(ctx, "tgt-1", "CATEGORY_BANNER_7D", "", nil)
	require.NoError(t, err)
	_, err = m.Approve(ctx, req.ID)
	assert.ErrorIs(t, err, models.ErrConflict)

	// The failed approval is undone: the request goes back to pending
	// rather than sitting approved without an activation.
	blocked, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, blocked.Status)
	assert.Nil(t, blocked.DecidedAt)

	// Once a slot frees the same request can be approved normally.
	won, err := st.ExpireEntry(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, won)

	entry, err := m.Approve(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryActive, entry.Status)
}

// flakyStore fails CompletePayment a set number of times to simulate a
// crash between entry creation and the payment write.
type flakyStore struct {
	store.Store
	paymentFailures int
}

func (f *flakyStore) CompletePayment(ctx context.Context, id string) error {
	if f.paymentFailures > 0 {
		f.paymentFailures--
		return errors.New("connection reset")
	}
	return f.Store.CompletePayment(ctx, id)
}

func TestApproveRetryFinishesPaymentAndMirror(t *testing.T) {
	cat, err := catalog.New(catalog.Defaults())
	require.NoError(t, err)

	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.UpsertTarget(ctx, &models.Target{
		ID:       "tgt-1",
		Name:     "Vintage camera",
		OwnerID:  "user-9",
		Category: "electronics",
	}))

	flaky := &flakyStore{Store: mem, paymentFailures: 1}
	m := NewManager(flaky, cat, zap.NewNop(), &observability.MockMetricsRegistry{})

	req, err := m.CreateRequest(ctx, "tgt-1", "BOOST_24H", "", nil)
	require.NoError(t, err)

	// First attempt dies after the entry insert, before the payment and
	// mirror writes.
	_, err = m.Approve(ctx, req.ID)
	require.Error(t, err)
	_, err = mem.GetEntryByRequest(ctx, req.ID)
	require.NoError(t, err, "entry was created before the failure")

	// The retry reports the duplicate decision but must finish the
	// leftover writes first.
	_, err = m.Approve(ctx, req.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyDecided)

	pay, err := mem.GetPayment(ctx, models.PaymentIDFor(req.ID))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, pay.Status)

	target, err := mem.LookupTarget(ctx, "tgt-1")
	require.NoError(t, err)
	assert.True(t, target.Promoted)
}
