// internal/ledger/policy.go
package ledger

import (
	"context"
	"fmt"
	"time"

	"quotagate/internal/catalog"
	"quotagate/internal/common/logger"
	"quotagate/internal/common/metrics"
	"quotagate/internal/store"
)

// Action is the kind of metered action being checked.
type Action string

const (
	ActionChat   Action = "chat-generation"
	ActionVision Action = "vision-recognition"
)

// Decision is the outcome of a quota check. Reason is always non-empty, both
// for allows (remaining-quota info shown to the user) and denials.
type Decision struct {
	Allowed bool
	Reason  string
	// Remaining is the count left on the gating counter after this decision,
	// where the gate is request-counted.
	Remaining int
	// BalancePreserved marks the informational denial for a lapsed paid plan
	// whose purchased tokens survive the downgrade.
	BalancePreserved bool
}

// Policy is the pure quota decision logic. Decision and debit are separate
// steps: a check may be made optimistically before the provider call, and the
// debit lands only once the call's outcome is known.
type Policy struct {
	cache              *Cache
	catalog            *catalog.Catalog
	chargeFailedVision bool
	logger             logger.Logger
}

func NewPolicy(c *Cache, cat *catalog.Catalog, chargeFailedVision bool, log logger.Logger) *Policy {
	return &Policy{
		cache:              c,
		catalog:            cat,
		chargeFailedVision: chargeFailedVision,
		logger:             log,
	}
}

// Check decides whether the action is permitted for the user right now.
func (p *Policy) Check(ctx context.Context, userID int64, action Action) (Decision, error) {
	rec, err := p.cache.Get(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	// Admin bypass comes first: these users never see a denial.
	if rec.AdminUnlimited {
		metrics.QuotaChecks.WithLabelValues(string(action), "allow").Inc()
		return Decision{Allowed: true, Reason: "admin access, no limits apply"}, nil
	}

	// Expiry is enforced lazily, on read. The downgrade is persisted and the
	// rest of this decision sees the free plan.
	if rec.PlanExpired(time.Now()) {
		expiredPlan := rec.Plan
		rec, err = p.cache.Mutate(ctx, userID, func(r *store.UserRecord) store.UserUpdate {
			r.Plan = store.PlanFree
			r.PlanStart = nil
			r.PlanEnd = nil
			free := store.PlanFree
			return store.UserUpdate{Plan: &free, ClearPlanDates: true}
		})
		if err != nil {
			return Decision{}, err
		}

		p.logger.Info("plan expired, downgraded to free", map[string]interface{}{
			"userId": userID, "plan": expiredPlan,
		})

		if action == ActionChat && rec.TokensRemaining > 0 {
			metrics.QuotaChecks.WithLabelValues(string(action), "deny").Inc()
			return Decision{
				Allowed:          false,
				BalancePreserved: true,
				Remaining:        rec.TokensRemaining,
				Reason: fmt.Sprintf(
					"Your %s subscription has expired. Your balance of %d tokens is preserved — renew to keep using it.",
					expiredPlan, rec.TokensRemaining),
			}, nil
		}
	}

	plan, ok := p.catalog.Plan(rec.Plan)
	if !ok {
		// Unknown plan names resolve to free limits rather than failing open.
		plan, _ = p.catalog.Plan(store.PlanFree)
	}

	var d Decision
	switch action {
	case ActionChat:
		d = p.checkChat(rec, plan)
	case ActionVision:
		d = p.checkVision(rec, plan)
	default:
		d = Decision{Allowed: false, Reason: fmt.Sprintf("unknown action kind %q", action)}
	}

	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	metrics.QuotaChecks.WithLabelValues(string(action), outcome).Inc()
	return d, nil
}

// checkChat gates request-counted plans on the chat request counter and
// token-budget plans on the remaining balance.
func (p *Policy) checkChat(rec *store.UserRecord, plan store.Plan) Decision {
	if plan.MaxTokens == nil {
		// Request-counted (free) tier.
		max := 0
		if plan.ChatMaxRequests != nil {
			max = *plan.ChatMaxRequests
		}
		remaining := max - rec.ChatRequests
		if remaining <= 0 {
			return Decision{
				Allowed:   false,
				Remaining: 0,
				Reason:    fmt.Sprintf("Free request limit reached: 0 of %d remaining. Subscribe to continue.", max),
			}
		}
		return Decision{
			Allowed:   true,
			Remaining: remaining,
			Reason:    fmt.Sprintf("Free request %d/%d", rec.ChatRequests+1, max),
		}
	}

	// Token-budget tier: request counts are not enforced once paid.
	if rec.TokensRemaining <= 0 {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Reason:    "Token balance exhausted: 0 tokens remaining. Top up or renew to continue.",
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: rec.TokensRemaining,
		Reason:    fmt.Sprintf("%d tokens remaining", rec.TokensRemaining),
	}
}

// checkVision applies the same additive-allowance rule on every tier: plan
// base allowance plus purchased add-ons.
func (p *Policy) checkVision(rec *store.UserRecord, plan store.Plan) Decision {
	allowance := plan.VisionMax + rec.PurchasedVisionRequests
	remaining := allowance - rec.VisionRequests
	if remaining <= 0 {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Reason:    fmt.Sprintf("Image recognition limit reached: 0 of %d remaining. Buy extra requests to continue.", allowance),
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: remaining,
		Reason:    fmt.Sprintf("%d of %d image recognitions remaining", remaining, allowance),
	}
}

// DebitChat charges a successful chat generation: the provider-reported token
// cost comes off the budget (clamped at zero) and request-counted tiers also
// bump the chat request counter. Admin-unlimited records are debited too so
// their counters stay meaningful.
func (p *Policy) DebitChat(ctx context.Context, userID int64, cost int) (*store.UserRecord, error) {
	rec, err := p.cache.Mutate(ctx, userID, func(r *store.UserRecord) store.UserUpdate {
		r.TokensUsed += cost
		r.TokensRemaining -= cost
		if r.TokensRemaining < 0 {
			r.TokensRemaining = 0
		}

		upd := store.UserUpdate{
			TokensUsed:      intPtr(r.TokensUsed),
			TokensRemaining: intPtr(r.TokensRemaining),
		}

		if plan, ok := p.catalog.Plan(r.Plan); !ok || plan.MaxTokens == nil {
			r.ChatRequests++
			upd.ChatRequests = intPtr(r.ChatRequests)
		}
		return upd
	})
	if err != nil {
		return nil, err
	}

	metrics.QuotaDebits.WithLabelValues(string(ActionChat)).Inc()
	metrics.TokensDebited.Add(float64(cost))
	return rec, nil
}

// DebitVision charges one vision recognition attempt. The counter moves even
// when the provider call failed, as long as it was actually attempted, unless
// the deployment opted out of charging failed attempts.
func (p *Policy) DebitVision(ctx context.Context, userID int64, succeeded bool) (*store.UserRecord, error) {
	if !succeeded && !p.chargeFailedVision {
		return p.cache.Get(ctx, userID)
	}

	rec, err := p.cache.Mutate(ctx, userID, func(r *store.UserRecord) store.UserUpdate {
		r.VisionRequests++
		return store.UserUpdate{VisionRequests: intPtr(r.VisionRequests)}
	})
	if err != nil {
		return nil, err
	}

	metrics.QuotaDebits.WithLabelValues(string(ActionVision)).Inc()
	return rec, nil
}

func intPtr(v int) *int { return &v }
