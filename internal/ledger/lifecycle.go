// internal/ledger/lifecycle.go
package ledger

import (
	"context"
	"time"

	"quotagate/internal/catalog"
	"quotagate/internal/common/errors"
	"quotagate/internal/common/logger"
	"quotagate/internal/store"
)

// Lifecycle owns the mutating subscription operations: activation, admin
// grant, reset and purchase credits. Purchase credits are invoked by the
// payment-settlement collaborator once a payment is confirmed.
type Lifecycle struct {
	cache   *Cache
	store   store.Store
	catalog *catalog.Catalog
	logger  logger.Logger
}

func NewLifecycle(c *Cache, s store.Store, cat *catalog.Catalog, log logger.Logger) *Lifecycle {
	return &Lifecycle{cache: c, store: s, catalog: cat, logger: log}
}

// Activate puts the user on the named plan for durationDays starting now.
// Usage counters reset to zero, the token budget is set to the plan's budget
// (or the free-tier default for request-counted plans), and purchased add-on
// counters are cleared.
func (l *Lifecycle) Activate(ctx context.Context, userID int64, planName string, durationDays int) error {
	plan, ok := l.catalog.Plan(planName)
	if !ok {
		return errors.NewUnknownPlanError(planName)
	}

	budget := store.DefaultFreeTokens
	if plan.MaxTokens != nil {
		budget = *plan.MaxTokens
	}

	now := time.Now()
	end := now.Add(time.Duration(durationDays) * 24 * time.Hour)

	_, err := l.cache.Mutate(ctx, userID, func(r *store.UserRecord) store.UserUpdate {
		r.Plan = planName
		r.PlanStart = &now
		r.PlanEnd = &end
		r.TokensUsed = 0
		r.TokensRemaining = budget
		r.ChatRequests = 0
		r.VisionRequests = 0
		r.PurchasedVisionRequests = 0

		zero := 0
		return store.UserUpdate{
			Plan:                    &planName,
			PlanStart:               &now,
			PlanEnd:                 &end,
			TokensUsed:              &zero,
			TokensRemaining:         intPtr(budget),
			ChatRequests:            intPtr(0),
			VisionRequests:          intPtr(0),
			PurchasedVisionRequests: intPtr(0),
		}
	})
	if err != nil {
		return err
	}

	l.logger.Info("plan activated", map[string]interface{}{
		"userId": userID,
		"plan":   planName,
		"days":   durationDays,
		"tokens": budget,
	})
	return nil
}

// GrantAdminUnlimited sets the unconditional bypass flag. Idempotent: a
// second grant leaves the record identical. Counters are not altered.
func (l *Lifecycle) GrantAdminUnlimited(ctx context.Context, userID int64) error {
	rec, err := l.cache.Get(ctx, userID)
	if err != nil {
		return err
	}
	if rec.AdminUnlimited {
		return nil
	}

	_, err = l.cache.Mutate(ctx, userID, func(r *store.UserRecord) store.UserUpdate {
		r.AdminUnlimited = true
		t := true
		return store.UserUpdate{AdminUnlimited: &t}
	})
	if err != nil {
		return err
	}

	l.logger.Info("admin unlimited granted", map[string]interface{}{"userId": userID})
	return nil
}

// Reset soft-resets the record to a fresh free tier: dates and counters
// cleared, trial budget restored, cache entry evicted so the next access
// re-reads the store.
func (l *Lifecycle) Reset(ctx context.Context, userID int64) error {
	free := store.PlanFree
	_, err := l.cache.Mutate(ctx, userID, func(r *store.UserRecord) store.UserUpdate {
		r.Plan = store.PlanFree
		r.PlanStart = nil
		r.PlanEnd = nil
		r.TokensUsed = 0
		r.TokensRemaining = store.DefaultFreeTokens
		r.ChatRequests = 0
		r.VisionRequests = 0
		r.PurchasedVisionRequests = 0

		zero := 0
		return store.UserUpdate{
			Plan:                    &free,
			ClearPlanDates:          true,
			TokensUsed:              &zero,
			TokensRemaining:         intPtr(store.DefaultFreeTokens),
			ChatRequests:            intPtr(0),
			VisionRequests:          intPtr(0),
			PurchasedVisionRequests: intPtr(0),
		}
	})
	if err != nil {
		return err
	}

	l.cache.Evict(ctx, userID)
	l.logger.Info("user reset to free tier", map[string]interface{}{"userId": userID})
	return nil
}

// AddPurchasedTokens credits bought tokens. The increment is applied
// atomically in the store and mirrored onto the cached copy; it is additive
// and independent of plan or expiry state.
func (l *Lifecycle) AddPurchasedTokens(ctx context.Context, userID int64, amount int) error {
	if _, err := l.cache.Get(ctx, userID); err != nil {
		return err
	}

	if err := l.store.AddPurchasedTokens(ctx, userID, amount); err != nil {
		return err
	}

	l.cache.Patch(ctx, userID, func(r *store.UserRecord) {
		r.TokensRemaining += amount
	})

	l.logger.Info("purchased tokens credited", map[string]interface{}{
		"userId": userID, "amount": amount,
	})
	return nil
}

// AddPurchasedVisionRequests credits bought vision add-on requests. Add-ons
// never expire and survive plan downgrades.
func (l *Lifecycle) AddPurchasedVisionRequests(ctx context.Context, userID int64, amount int) error {
	if _, err := l.cache.Get(ctx, userID); err != nil {
		return err
	}

	if err := l.store.AddPurchasedVisionRequests(ctx, userID, amount); err != nil {
		return err
	}

	l.cache.Patch(ctx, userID, func(r *store.UserRecord) {
		r.PurchasedVisionRequests += amount
	})

	l.logger.Info("purchased vision requests credited", map[string]interface{}{
		"userId": userID, "amount": amount,
	})
	return nil
}
