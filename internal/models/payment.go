package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment record statuses. Payments are confirmed manually out-of-band;
// completion happens as part of request approval, never via a gateway.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

// paymentNamespace scopes deterministic payment ids. Deriving the id from
// the request id makes the approval saga retry-safe: a retried approval
// upserts the same payment row instead of inserting a duplicate.
var paymentNamespace = uuid.MustParse("9f2c1c8e-7a44-4f6e-9a3b-5d8f0b6e2c11")

// PaymentRecord tracks the money side of a request. One pending record is
// created with the request; approval writes the completed record that
// revenue reporting sums.
type PaymentRecord struct {
	ID string `json:"id"`
	// SourceID is the id of the request this payment settles.
	SourceID string  `json:"source_id"`
	TierID   string  `json:"tier_id"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status"`
	// Type mirrors the tier kind (boost or placement) for reporting.
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentIDFor derives the deterministic payment id for a request.
func PaymentIDFor(requestID string) string {
	return uuid.NewSHA1(paymentNamespace, []byte(requestID)).String()
}
