package models

import "time"

// Tier kinds distinguish the two monetization products sold through the
// engine. Both share the same lifecycle; the kind determines where an
// activated entry surfaces.
const (
	// KindBoost is a time-limited visibility promotion for a single
	// product. Boosted products rotate within their product category.
	KindBoost = "boost"
	// KindPlacement is a banner ad campaign bound to a named placement
	// slot (e.g. "home_banner", "category_banner").
	KindPlacement = "placement"
)

// Tier is a purchasable (price, duration) combination for a boost or a
// banner placement. Tiers are immutable once loaded: price and duration are
// always copied from the catalog at request creation and never trusted from
// the caller.
type Tier struct {
	// ID is a stable, human-assigned identifier (e.g. "BOOST_24H",
	// "HOME_BANNER_7D"). Requests and payments reference tiers by this id.
	ID   string `json:"id"`
	Kind string `json:"kind"` // KindBoost or KindPlacement.
	Name string `json:"name"`
	// Price is the amount charged for one activation, in the marketplace's
	// minor currency unit.
	Price float64 `json:"price"`
	// Duration is how long an approved entry stays active. The expiry
	// instant is fixed at approval time and never recomputed.
	Duration time.Duration `json:"duration"`
	// MaxConcurrent caps how many entries may be simultaneously eligible
	// for one rotation key. 0 means unlimited.
	MaxConcurrent int `json:"max_concurrent"`
	// PlacementKey names the rotation slot placement tiers activate into
	// (e.g. "home_banner"). Empty for boost tiers, whose key is derived
	// from the target's category instead.
	PlacementKey string `json:"placement_key,omitempty"`
	Description  string `json:"description"`
}

// RotationKey computes the rotation key an activation for this tier and
// target competes under: the placement slot for banner campaigns, the
// target's category for boosts.
func RotationKey(t Tier, target *Target) string {
	if t.Kind == KindPlacement {
		return t.PlacementKey
	}
	return "category:" + target.Category
}
