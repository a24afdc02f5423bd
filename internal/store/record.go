// internal/store/record.go
package store

import "time"

// Plan names known to every deployment. The catalog may carry more.
const (
	PlanFree    = "free"
	PlanLite    = "lite"
	PlanPremium = "premium"
)

// DefaultFreeTokens is the trial token budget a record is created with.
const DefaultFreeTokens = 15000

// UserRecord is one user's entitlement ledger row. A record is created on
// first contact with free-tier defaults and never destroyed (soft reset only).
type UserRecord struct {
	UserID                  int64
	Plan                    string
	PlanStart               *time.Time
	PlanEnd                 *time.Time // nil means no paid plan active
	TokensUsed              int
	TokensRemaining         int
	ChatRequests            int // provider-A request counter, gates the free tier
	VisionRequests          int // provider-B request counter, gates every tier
	PurchasedVisionRequests int // bought outside a subscription, survives downgrade
	AdminUnlimited          bool
	FullName                string
	ProfileLink             string
	Phone                   string
	LastActivity            time.Time
	CreatedAt               time.Time
}

// PlanExpired reports whether a paid plan has lapsed at the given time.
func (r *UserRecord) PlanExpired(now time.Time) bool {
	return r.PlanEnd != nil && r.PlanEnd.Before(now)
}

// NewUserRecord returns the default free-tier record for a first contact.
func NewUserRecord(userID int64, now time.Time) *UserRecord {
	return &UserRecord{
		UserID:          userID,
		Plan:            PlanFree,
		TokensRemaining: DefaultFreeTokens,
		LastActivity:    now,
		CreatedAt:       now,
	}
}

// Plan is one entry of the plan catalog. A nil MaxTokens means the plan is
// counted by request, not tokens.
type Plan struct {
	Name            string
	MaxTokens       *int
	ChatMaxRequests *int
	VisionMax       int
	Price           float64
}

// UserUpdate carries a partial update. Nil pointer fields are left untouched.
// ClearPlanDates nulls both plan timestamps, which pointer fields cannot
// express. The store always bumps LastActivity on any update.
type UserUpdate struct {
	Plan                    *string
	PlanStart               *time.Time
	PlanEnd                 *time.Time
	ClearPlanDates          bool
	TokensUsed              *int
	TokensRemaining         *int
	ChatRequests            *int
	VisionRequests          *int
	PurchasedVisionRequests *int
	AdminUnlimited          *bool
	FullName                *string
	ProfileLink             *string
	Phone                   *string
}

// IsEmpty reports whether the update would change nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.Plan == nil && u.PlanStart == nil && u.PlanEnd == nil &&
		!u.ClearPlanDates && u.TokensUsed == nil && u.TokensRemaining == nil &&
		u.ChatRequests == nil && u.VisionRequests == nil &&
		u.PurchasedVisionRequests == nil && u.AdminUnlimited == nil &&
		u.FullName == nil && u.ProfileLink == nil && u.Phone == nil
}

func intPtr(v int) *int              { return &v }
func strPtr(v string) *string        { return &v }
func timePtr(v time.Time) *time.Time { return &v }

// FallbackPlans is the hardcoded catalog used when the store carries no plan
// rows (file backend, or an empty plans table).
func FallbackPlans() map[string]Plan {
	return map[string]Plan{
		PlanFree: {
			Name:            PlanFree,
			MaxTokens:       nil,
			ChatMaxRequests: intPtr(5),
			VisionMax:       2,
			Price:           0,
		},
		PlanLite: {
			Name:            PlanLite,
			MaxTokens:       intPtr(250000),
			ChatMaxRequests: nil,
			VisionMax:       10,
			Price:           149,
		},
		PlanPremium: {
			Name:            PlanPremium,
			MaxTokens:       intPtr(1000000),
			ChatMaxRequests: nil,
			VisionMax:       50,
			Price:           299,
		},
	}
}
