// Package goods defines the tradable commodity catalog and the region table.
// Both are seeded once at startup and immutable afterwards.
package goods

import "fmt"

// Category classifies a good for pricing and seasonal behavior.
type Category uint8

const (
	CategoryRawMaterial Category = iota
	CategoryManufactured
	CategoryLuxury
	CategoryPerishable
)

// String returns the wire name for a category.
func (c Category) String() string {
	switch c {
	case CategoryRawMaterial:
		return "raw_material"
	case CategoryManufactured:
		return "manufactured"
	case CategoryLuxury:
		return "luxury"
	case CategoryPerishable:
		return "perishable"
	default:
		return "unknown"
	}
}

// DefaultVolatility returns the symmetric per-tick price volatility bound
// for a category. Individual goods may override it in the catalog seed.
func (c Category) DefaultVolatility() float64 {
	switch c {
	case CategoryRawMaterial:
		return 0.02
	case CategoryManufactured:
		return 0.05
	case CategoryPerishable:
		return 0.08
	case CategoryLuxury:
		return 0.10
	default:
		return 0.05
	}
}

// Good is a tradable commodity definition. Immutable after seeding.
type Good struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Category   Category `json:"category" yaml:"-"`
	BaseCost   float64  `json:"base_cost" yaml:"base_cost"`
	Volatility float64  `json:"volatility" yaml:"volatility"` // symmetric bound, e.g. 0.02 = ±2%
}

// Catalog is the seeded set of goods, looked up by id.
type Catalog struct {
	byID  map[string]Good
	order []string
}

// NewCatalog builds a catalog from a seed list. Duplicate ids are rejected.
func NewCatalog(seed []Good) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Good, len(seed))}
	for _, g := range seed {
		if g.ID == "" {
			return nil, fmt.Errorf("good with empty id")
		}
		if _, dup := c.byID[g.ID]; dup {
			return nil, fmt.Errorf("duplicate good id %q", g.ID)
		}
		if g.BaseCost <= 0 {
			return nil, fmt.Errorf("good %q: base cost must be positive", g.ID)
		}
		if g.Volatility == 0 {
			g.Volatility = g.Category.DefaultVolatility()
		}
		c.byID[g.ID] = g
		c.order = append(c.order, g.ID)
	}
	return c, nil
}

// Get looks up a good by id.
func (c *Catalog) Get(id string) (Good, bool) {
	g, ok := c.byID[id]
	return g, ok
}

// IDs returns good ids in seed order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of goods in the catalog.
func (c *Catalog) Len() int { return len(c.order) }

// Index returns the seed-order position of a good, used as a stable axis
// for per-good noise sampling. Returns -1 if unknown.
func (c *Catalog) Index(id string) int {
	for i, gid := range c.order {
		if gid == id {
			return i
		}
	}
	return -1
}

// DefaultCatalog returns the compiled-in commodity seed. The balance config
// may replace it wholesale.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Good{
		{ID: "iron_ore", Name: "Iron Ore", Category: CategoryRawMaterial, BaseCost: 40},
		{ID: "crude_oil", Name: "Crude Oil", Category: CategoryRawMaterial, BaseCost: 60},
		{ID: "timber", Name: "Timber", Category: CategoryRawMaterial, BaseCost: 25},
		{ID: "grain", Name: "Grain", Category: CategoryPerishable, BaseCost: 15},
		{ID: "seafood", Name: "Seafood", Category: CategoryPerishable, BaseCost: 30},
		{ID: "electronics", Name: "Electronics", Category: CategoryManufactured, BaseCost: 100, Volatility: 0.02},
		{ID: "machinery", Name: "Machinery", Category: CategoryManufactured, BaseCost: 150},
		{ID: "textiles", Name: "Textiles", Category: CategoryManufactured, BaseCost: 45},
		{ID: "fine_wine", Name: "Fine Wine", Category: CategoryLuxury, BaseCost: 120},
		{ID: "jewelry", Name: "Jewelry", Category: CategoryLuxury, BaseCost: 300},
	})
	if err != nil {
		panic(err) // compiled-in seed is checked by tests
	}
	return c
}
