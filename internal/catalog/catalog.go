// internal/catalog/catalog.go
package catalog

import (
	"context"

	"quotagate/internal/common/logger"
	"quotagate/internal/store"
)

// Catalog is the immutable-per-process plan mapping. It is loaded once at
// startup; administrative plan changes require a restart.
type Catalog struct {
	plans map[string]store.Plan
}

// Load reads plan definitions through the persistence gateway and substitutes
// the hardcoded built-in tiers when the store carries none.
func Load(ctx context.Context, s store.Store, log logger.Logger) *Catalog {
	plans, err := s.Plans(ctx)
	if err != nil || len(plans) == 0 {
		if err != nil {
			log.Warn("plan load failed, using built-in catalog", map[string]interface{}{
				"error": err.Error(),
			})
		}
		plans = store.FallbackPlans()
	}

	log.Info("plan catalog loaded", map[string]interface{}{"plans": len(plans)})
	return &Catalog{plans: plans}
}

// NewFromPlans builds a catalog directly. Used by tests.
func NewFromPlans(plans map[string]store.Plan) *Catalog {
	return &Catalog{plans: plans}
}

// Plan returns the named plan definition.
func (c *Catalog) Plan(name string) (store.Plan, bool) {
	p, ok := c.plans[name]
	return p, ok
}

// Names returns the catalog's plan names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.plans))
	for name := range c.plans {
		names = append(names, name)
	}
	return names
}
