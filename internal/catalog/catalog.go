// Package catalog holds the immutable table of purchasable boost tiers and
// banner placements. The catalog is loaded once at startup and is the only
// source of truth for price, duration and concurrency caps; callers may not
// override any of them.
package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/patrickwarner/promoserve/internal/models"
)

// Catalog is an immutable tier lookup table. It is safe for concurrent use
// without locking because nothing mutates it after construction.
type Catalog struct {
	byID  map[string]models.Tier
	tiers []models.Tier
}

// New builds a catalog from the given tiers. Duplicate ids are rejected so
// a misconfigured tier table fails at startup rather than at approval time.
func New(tiers []models.Tier) (*Catalog, error) {
	byID := make(map[string]models.Tier, len(tiers))
	for _, t := range tiers {
		if _, ok := byID[t.ID]; ok {
			return nil, fmt.Errorf("duplicate tier id %q", t.ID)
		}
		if t.Duration <= 0 {
			return nil, fmt.Errorf("tier %q has non-positive duration", t.ID)
		}
		byID[t.ID] = t
	}
	sorted := make([]models.Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Catalog{byID: byID, tiers: sorted}, nil
}

// Get returns the tier for the given id or models.ErrNotFound.
func (c *Catalog) Get(id string) (models.Tier, error) {
	t, ok := c.byID[id]
	if !ok {
		return models.Tier{}, fmt.Errorf("tier %q: %w", id, models.ErrNotFound)
	}
	return t, nil
}

// List returns all tiers ordered by id.
func (c *Catalog) List() []models.Tier {
	out := make([]models.Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// Defaults is the built-in tier table installed on an empty database at
// startup. Prices are in the marketplace's minor currency unit.
func Defaults() []models.Tier {
	return []models.Tier{
		{ID: "BOOST_24H", Kind: models.KindBoost, Name: "24h Boost", Price: 500, Duration: 24 * time.Hour, MaxConcurrent: 0, Description: "Rotate the product at the top of its category for 24 hours"},
		{ID: "BOOST_72H", Kind: models.KindBoost, Name: "3-day Boost", Price: 1200, Duration: 72 * time.Hour, MaxConcurrent: 0, Description: "Rotate the product at the top of its category for 3 days"},
		{ID: "BOOST_7D", Kind: models.KindBoost, Name: "Weekly Boost", Price: 2500, Duration: 7 * 24 * time.Hour, MaxConcurrent: 0, Description: "Rotate the product at the top of its category for a week"},
		{ID: "HOME_BANNER_7D", Kind: models.KindPlacement, Name: "Home Banner (1 week)", Price: 10000, Duration: 7 * 24 * time.Hour, MaxConcurrent: 5, PlacementKey: "home_banner", Description: "Banner campaign in the home screen carousel"},
		{ID: "HOME_BANNER_30D", Kind: models.KindPlacement, Name: "Home Banner (1 month)", Price: 35000, Duration: 30 * 24 * time.Hour, MaxConcurrent: 5, PlacementKey: "home_banner", Description: "Banner campaign in the home screen carousel"},
		{ID: "CATEGORY_BANNER_7D", Kind: models.KindPlacement, Name: "Category Banner (1 week)", Price: 6000, Duration: 7 * 24 * time.Hour, MaxConcurrent: 3, PlacementKey: "category_banner", Description: "Banner campaign at the top of a category listing"},
	}
}
