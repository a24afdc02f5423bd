// internal/store/record_test.go
package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlanExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		planEnd *time.Time
		want    bool
	}{
		{"no paid plan", nil, false},
		{"still active", &future, false},
		{"lapsed", &past, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &UserRecord{PlanEnd: tt.planEnd}
			assert.Equal(t, tt.want, rec.PlanExpired(now))
		})
	}
}

func TestNewUserRecordDefaults(t *testing.T) {
	now := time.Now()
	rec := NewUserRecord(42, now)

	assert.Equal(t, int64(42), rec.UserID)
	assert.Equal(t, PlanFree, rec.Plan)
	assert.Equal(t, DefaultFreeTokens, rec.TokensRemaining)
	assert.Equal(t, 0, rec.TokensUsed)
	assert.Equal(t, 0, rec.ChatRequests)
	assert.Equal(t, 0, rec.VisionRequests)
	assert.False(t, rec.AdminUnlimited)
	assert.Nil(t, rec.PlanEnd)
}

func TestUserUpdateIsEmpty(t *testing.T) {
	assert.True(t, UserUpdate{}.IsEmpty())
	assert.False(t, UserUpdate{ClearPlanDates: true}.IsEmpty())
	assert.False(t, UserUpdate{TokensRemaining: intPtr(0)}.IsEmpty())
}
