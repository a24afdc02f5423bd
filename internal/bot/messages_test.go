// internal/bot/messages_test.go
package bot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/internal/catalog"
	"quotagate/internal/store"
)

func TestTruncateMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"short text untouched", "hello", 10, "hello"},
		{"no limit", "hello", 0, "hello"},
		{"exact fit", "hello", 5, "hello"},
		{"truncated with marker", "hello world", 8, "hello w…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateMessage(tt.text, tt.max)
			assert.Equal(t, tt.want, got)
			if tt.max > 0 {
				assert.LessOrEqual(t, len([]rune(got)), tt.max)
			}
		})
	}
}

func TestTruncateMessageMultibyte(t *testing.T) {
	text := strings.Repeat("ю", 100)
	got := truncateMessage(text, 50)
	assert.Equal(t, 50, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestStatusTextTokenPlan(t *testing.T) {
	cat := catalog.NewFromPlans(store.FallbackPlans())
	end := time.Date(2026, 9, 27, 0, 0, 0, 0, time.UTC)
	rec := &store.UserRecord{
		Plan:            store.PlanPremium,
		PlanEnd:         &end,
		TokensUsed:      1200,
		TokensRemaining: 998800,
		VisionRequests:  3,
	}

	text := statusText(rec, cat)
	assert.Contains(t, text, "Plan: premium")
	assert.Contains(t, text, "27.09.2026")
	assert.Contains(t, text, "998800 remaining")
	assert.Contains(t, text, "3 of 50")
}

func TestStatusTextAdminAndAddOns(t *testing.T) {
	cat := catalog.NewFromPlans(store.FallbackPlans())
	rec := &store.UserRecord{
		Plan:                    store.PlanFree,
		AdminUnlimited:          true,
		ChatRequests:            2,
		PurchasedVisionRequests: 15,
	}

	text := statusText(rec, cat)
	assert.Contains(t, text, "unlimited")
	assert.Contains(t, text, "2 of 5")
	assert.Contains(t, text, "of 17")
}

func TestQuotaFooter(t *testing.T) {
	plans := store.FallbackPlans()

	free := &store.UserRecord{Plan: store.PlanFree, ChatRequests: 1}
	assert.Contains(t, quotaFooter(free, plans[store.PlanFree]), "4 of 5")

	paid := &store.UserRecord{Plan: store.PlanLite, TokensRemaining: 249000}
	assert.Contains(t, quotaFooter(paid, plans[store.PlanLite]), "249000")

	admin := &store.UserRecord{AdminUnlimited: true}
	assert.Empty(t, quotaFooter(admin, plans[store.PlanFree]))
}

func TestKeyboardWireFormat(t *testing.T) {
	data, err := json.Marshal(MainKeyboard())
	require.NoError(t, err)

	var kb map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &kb))
	assert.Equal(t, false, kb["one_time"])
	assert.Contains(t, string(data), `"type":"text"`)
	assert.Contains(t, string(data), ButtonStatus)

	sub, err := json.Marshal(SubscriptionKeyboard())
	require.NoError(t, err)
	assert.Contains(t, string(sub), ButtonLite)
	assert.Contains(t, string(sub), ButtonBack)
}

func TestSubscriptionTextListsPaidPlans(t *testing.T) {
	cat := catalog.NewFromPlans(store.FallbackPlans())
	text := subscriptionText(cat)
	assert.Contains(t, text, "Lite")
	assert.Contains(t, text, "149")
	assert.Contains(t, text, "Premium")
	assert.Contains(t, text, "299")
}
