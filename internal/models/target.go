package models

import "context"

// Target is the promotable entity a request points at: a product for
// boosts, an ad-bearing slot owner for banner campaigns. Only the fields
// the engine needs are modeled; the rest of the marketplace document is
// owned by other services.
type Target struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image,omitempty"`
	OwnerID string `json:"owner_id"`
	// Category is the rotation key boosts for this target compete under.
	Category string `json:"category"`
	// Promoted mirrors whether an active entry currently covers this
	// target. Unrelated read paths consume the flag directly without
	// joining to active entries; it is set at approval and cleared exactly
	// when the covering entry expires.
	Promoted bool `json:"promoted"`
}

// TargetLookup resolves target metadata. The production implementation
// reads the marketplace's target directory; tests use the in-memory store.
type TargetLookup interface {
	LookupTarget(ctx context.Context, id string) (*Target, error)
}
