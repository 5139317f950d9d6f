package models

import "time"

// Promotion request statuses. A request transitions exactly once from
// pending to approved or rejected; both decided states are terminal.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// Request is a client's application to promote a target (product or ad
// slot) under a given tier. Creation leaves it pending alongside a pending
// payment record; an admin decision moves it to a terminal state.
type Request struct {
	ID       string `json:"id"`
	TargetID string `json:"target_id"`
	TierID   string `json:"tier_id"`
	Status   string `json:"status"`
	// Price is copied from the catalog at creation. Callers cannot
	// override it.
	Price float64 `json:"price"`
	// Metadata carries free-form client context (e.g. contact info for the
	// off-band payment). Not interpreted by the engine.
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	// DecidedAt is set once, when the request is approved or rejected.
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// Decided reports whether the request has reached a terminal state.
func (r *Request) Decided() bool {
	return r.Status == RequestApproved || r.Status == RequestRejected
}
