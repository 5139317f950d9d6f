// Package store provides persistence for requests, active entries, payments
// and the target directory. Two implementations exist: Postgres for
// production and an in-memory store for tests and local development.
//
// All state transitions are conditional (expected-prior-status) writes and
// all counter increments happen store-side, so correctness never depends on
// in-process locking shared between the stateless handler instances.
package store

import (
	"context"
	"time"

	"github.com/patrickwarner/promoserve/internal/models"
)

// Store is the persistence surface consumed by the lifecycle manager,
// rotation selector, metrics tracker, sweeper and revenue aggregator.
type Store interface {
	models.TargetLookup

	// InsertRequest persists a new pending request. The id acts as the
	// caller's idempotency key: inserting an existing id fails with
	// models.ErrConflict rather than creating a duplicate.
	InsertRequest(ctx context.Context, req *models.Request) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	// ListRequests returns requests filtered by status; an empty status
	// returns everything.
	ListRequests(ctx context.Context, status string) ([]models.Request, error)
	// DecideRequest conditionally flips a pending request into the given
	// terminal status. Exactly one concurrent decision wins. When the
	// request is already decided the error is models.ErrAlreadyDecided if
	// the prior decision matches, models.ErrInvalidStateTransition
	// otherwise.
	DecideRequest(ctx context.Context, id, status string, decidedAt time.Time, reason string) (*models.Request, error)
	// ReopenRequest conditionally flips an approved request that has no
	// activation back to pending, undoing a decision whose entry could
	// not be placed (e.g. the placement was full). A no-op when an entry
	// exists or the request is not approved.
	ReopenRequest(ctx context.Context, id string) error

	// UpsertActiveEntry inserts the entry unless one already exists for
	// its request id, in which case the call is a no-op success so a
	// retried approval never duplicates an activation. When maxConcurrent
	// is > 0 and that many entries are already eligible for the entry's
	// key, models.ErrConflict is returned.
	UpsertActiveEntry(ctx context.Context, e *models.ActiveEntry, maxConcurrent int) error
	GetEntry(ctx context.Context, id string) (*models.ActiveEntry, error)
	GetEntryByRequest(ctx context.Context, requestID string) (*models.ActiveEntry, error)
	// ListEntriesByKey returns entries stored as active for a rotation
	// key. Callers must still re-verify expiry against their own clock.
	ListEntriesByKey(ctx context.Context, key string) ([]models.ActiveEntry, error)
	// ListExpiredEntries returns entries still marked active whose window
	// has elapsed at the given instant.
	ListExpiredEntries(ctx context.Context, now time.Time) ([]models.ActiveEntry, error)
	// ExpireEntry conditionally transitions active -> expired. The first
	// call wins and returns true; any later call is a no-op returning
	// false, never an error.
	ExpireEntry(ctx context.Context, id string) (bool, error)
	// HasActiveEntryForTarget reports whether any unexpired active entry
	// still covers the target, used to decide whether the promoted mirror
	// may be cleared.
	HasActiveEntryForTarget(ctx context.Context, targetID string, now time.Time) (bool, error)

	// IncrementImpressions and IncrementClicks atomically bump one counter
	// and recompute the stored CTR in the same operation, returning the
	// updated counters.
	IncrementImpressions(ctx context.Context, entryID string) (models.EntryStats, error)
	IncrementClicks(ctx context.Context, entryID string) (models.EntryStats, error)

	// UpsertPayment inserts the payment record unless its id already
	// exists, in which case the call is a no-op success. Payment ids are
	// derived from request ids, which makes approval retries idempotent.
	UpsertPayment(ctx context.Context, p *models.PaymentRecord) error
	// CompletePayment conditionally flips a pending payment to completed.
	// Re-running it against an already-completed payment is a no-op, which
	// keeps approval retries idempotent.
	CompletePayment(ctx context.Context, id string) error
	GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error)
	// ListCompletedPayments returns completed payments with createdAt in
	// the half-open window [start, end), so adjacent windows never count a
	// payment twice. Grouping and derived figures are computed by the
	// revenue aggregator so both backends share one code path.
	ListCompletedPayments(ctx context.Context, start, end time.Time) ([]models.PaymentRecord, error)

	// UpsertTarget seeds or replaces a target directory row.
	UpsertTarget(ctx context.Context, t *models.Target) error
	// SetTargetPromoted mirrors the activation state onto the target so
	// unrelated read paths can consume it without joining entries.
	SetTargetPromoted(ctx context.Context, targetID string, promoted bool) error
}
