// Package lifecycle owns the request state machine: creation, approval and
// rejection. A request transitions exactly once from pending to a terminal
// state; approval is the only path that activates an entry.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/catalog"
	"github.com/patrickwarner/promoserve/internal/models"
	"github.com/patrickwarner/promoserve/internal/observability"
	"github.com/patrickwarner/promoserve/internal/store"
)

// Manager coordinates request transitions against the store. It holds no
// state of its own: any number of manager instances (one per handler node)
// may operate on the same store concurrently, relying on the store's
// conditional writes for exclusivity.
type Manager struct {
	store   store.Store
	catalog *catalog.Catalog
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewManager constructs a Manager.
func NewManager(st store.Store, cat *catalog.Catalog, logger *zap.Logger, metrics observability.MetricsRegistry) *Manager {
	return &Manager{
		store:   st,
		catalog: cat,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateRequest validates the target and tier and persists a pending
// request together with its pending payment record. Price and duration are
// copied from the catalog; the caller cannot influence either.
//
// idemKey, when non-empty, is used as the request id so a retried creation
// returns the original request instead of inserting a duplicate.
func (m *Manager) CreateRequest(ctx context.Context, targetID, tierID, idemKey string, metadata map[string]string) (*models.Request, error) {
	tier, err := m.catalog.Get(tierID)
	if err != nil {
		return nil, fmt.Errorf("unknown tier %q: %w", tierID, models.ErrValidation)
	}
	if _, err := m.store.LookupTarget(ctx, targetID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("unresolvable target %q: %w", targetID, models.ErrValidation)
		}
		return nil, err
	}

	id := idemKey
	if id == "" {
		id = uuid.NewString()
	}
	req := &models.Request{
		ID:        id,
		TargetID:  targetID,
		TierID:    tier.ID,
		Status:    models.RequestPending,
		Price:     tier.Price,
		Metadata:  metadata,
		CreatedAt: m.now().UTC(),
	}

	if err := m.store.InsertRequest(ctx, req); err != nil {
		if errors.Is(err, models.ErrConflict) && idemKey != "" {
			// Retried creation under the same idempotency key.
			return m.store.GetRequest(ctx, idemKey)
		}
		return nil, err
	}

	payment := &models.PaymentRecord{
		ID:        models.PaymentIDFor(req.ID),
		SourceID:  req.ID,
		TierID:    tier.ID,
		Amount:    tier.Price,
		Status:    models.PaymentPending,
		Type:      tier.Kind,
		CreatedAt: req.CreatedAt,
	}
	if err := m.store.UpsertPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create pending payment: %w", err)
	}

	m.metrics.IncrementRequestsCreated(tier.ID)
	m.logger.Info("promotion request created",
		zap.String("request_id", req.ID),
		zap.String("target_id", targetID),
		zap.String("tier_id", tier.ID))
	return req, nil
}

// Approve decides a pending request in the customer's favor. The decision
// itself is a single conditional write, so exactly one of two racing
// decisions wins. The activation that follows is a retry-safe saga keyed by
// the request id: entry creation, payment completion and the target mirror
// are each idempotent, and a retried Approve after a partial failure
// resumes where the previous attempt stopped.
func (m *Manager) Approve(ctx context.Context, requestID string) (*models.ActiveEntry, error) {
	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	tier, err := m.catalog.Get(req.TierID)
	if err != nil {
		return nil, err
	}
	target, err := m.store.LookupTarget(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}

	decided, err := m.store.DecideRequest(ctx, requestID, models.RequestApproved, m.now().UTC(), "")
	if errors.Is(err, models.ErrAlreadyDecided) {
		// Approved before. When the entry already exists the decision is
		// redundant, but a previous attempt may still have died between
		// entry creation and the payment/mirror writes, so re-apply those
		// (both are idempotent) before reporting the duplicate. Without an
		// entry the earlier attempt failed even before activation and this
		// call resumes the saga from the decided request.
		if stored, gerr := m.store.GetEntryByRequest(ctx, requestID); gerr == nil {
			if err := m.store.CompletePayment(ctx, models.PaymentIDFor(requestID)); err != nil {
				return nil, fmt.Errorf("complete payment: %w", err)
			}
			if stored.Status == models.EntryActive && !stored.Expired(m.now().UTC()) {
				if err := m.store.SetTargetPromoted(ctx, req.TargetID, true); err != nil {
					return nil, fmt.Errorf("mirror activation: %w", err)
				}
			}
			return nil, models.ErrAlreadyDecided
		} else if !errors.Is(gerr, models.ErrNotFound) {
			return nil, gerr
		}
		if decided, err = m.store.GetRequest(ctx, requestID); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	// The expiry window is fixed by the decision instant, never recomputed.
	decidedAt := *decided.DecidedAt
	entry := &models.ActiveEntry{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		TargetID:    req.TargetID,
		TierID:      tier.ID,
		Key:         models.RotationKey(tier, target),
		ActivatedAt: decidedAt,
		ExpiresAt:   decidedAt.Add(tier.Duration),
		Status:      models.EntryActive,
	}
	if err := m.store.UpsertActiveEntry(ctx, entry, tier.MaxConcurrent); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Undo the decision so the request does not sit approved
			// without an activation; it goes back in the pending queue and
			// can be approved again once a slot frees.
			if rerr := m.store.ReopenRequest(ctx, req.ID); rerr != nil {
				return nil, fmt.Errorf("reopen after full placement: %w", rerr)
			}
			m.logger.Warn("placement capacity reached",
				zap.String("request_id", req.ID),
				zap.String("key", entry.Key),
				zap.Int("max_concurrent", tier.MaxConcurrent))
			return nil, fmt.Errorf("no free slot for key %q: %w", entry.Key, models.ErrConflict)
		}
		return nil, err
	}
	// The upsert may have returned an entry created by an earlier attempt.
	stored, err := m.store.GetEntryByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if err := m.store.CompletePayment(ctx, models.PaymentIDFor(req.ID)); err != nil {
		return nil, fmt.Errorf("complete payment: %w", err)
	}
	if err := m.store.SetTargetPromoted(ctx, req.TargetID, true); err != nil {
		return nil, fmt.Errorf("mirror activation: %w", err)
	}

	m.metrics.IncrementDecisions(models.RequestApproved)
	m.logger.Info("request approved",
		zap.String("request_id", req.ID),
		zap.String("entry_id", stored.ID),
		zap.String("key", stored.Key),
		zap.Time("expires_at", stored.ExpiresAt))
	return stored, nil
}

// Reject decides a pending request against the customer. It has no side
// effects beyond the status flip: no entry, no payment completion, no
// mirror change.
func (m *Manager) Reject(ctx context.Context, requestID, reason string) (*models.Request, error) {
	decided, err := m.store.DecideRequest(ctx, requestID, models.RequestRejected, m.now().UTC(), reason)
	if err != nil {
		return nil, err
	}
	m.metrics.IncrementDecisions(models.RequestRejected)
	m.logger.Info("request rejected",
		zap.String("request_id", requestID),
		zap.String("reason", reason))
	return decided, nil
}
