// internal/bot/handler_test.go
package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/internal/catalog"
	"quotagate/internal/common/config"
	"quotagate/internal/common/logger"
	"quotagate/internal/common/observability"
	"quotagate/internal/ledger"
	"quotagate/internal/payments"
	"quotagate/internal/providers/chat"
	"quotagate/internal/store"
)

type sentMessage struct {
	UserID   int64
	Text     string
	Keyboard *Keyboard
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTransport) Send(ctx context.Context, userID int64, text string, keyboard *Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{UserID: userID, Text: text, Keyboard: keyboard})
	return nil
}

func (f *fakeTransport) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type handlerFixture struct {
	transport *fakeTransport
	cache     *ledger.Cache
	handler   *Handler
}

func newHandlerFixture(t *testing.T, chatHandler http.HandlerFunc) *handlerFixture {
	t.Helper()

	s := store.NewFileStore(filepath.Join(t.TempDir(), "users.json"), logger.NewNoOpLogger())
	cache := ledger.NewCache(s, nil, 10, logger.NewNoOpLogger())
	cat := catalog.NewFromPlans(store.FallbackPlans())
	policy := ledger.NewPolicy(cache, cat, true, logger.NewNoOpLogger())

	chatCfg := config.ChatProviderConfig{APIKey: "k", Model: "m", MaxTokens: 100, Timeout: 5000}
	if chatHandler != nil {
		srv := httptest.NewServer(chatHandler)
		t.Cleanup(srv.Close)
		chatCfg.BaseURL = srv.URL
	} else {
		chatCfg.BaseURL = "http://127.0.0.1:1"
		chatCfg.Timeout = 200
	}
	chatClient := chat.NewClient(chatCfg, logger.NewNoOpLogger())

	transport := &fakeTransport{}
	h := NewHandler(transport, nil, cache, policy, cat, s,
		chatClient, nil, nil, nil,
		config.TransportConfig{CommandPrefix: "!", MaxMessageLength: 4096, SupportLink: "https://example.test/support"},
		logger.NewNoOpLogger())

	return &handlerFixture{transport: transport, cache: cache, handler: h}
}

func chatAnswer(answer string, tokens int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": answer}},
			},
			"usage": map[string]int{"total_tokens": tokens},
		})
	}
}

func TestPingCommand(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: "!ping"})
	assert.Equal(t, "pong", f.transport.last(t).Text)
}

func TestHandleEventWithObservability(t *testing.T) {
	f := newHandlerFixture(t, chatAnswer("traced", 10))
	f.handler.obs = observability.New("handler-test")
	defer f.handler.obs.Shutdown()

	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: "!ping"})
	assert.Equal(t, "pong", f.transport.last(t).Text)

	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: "hello"})
	assert.Contains(t, f.transport.last(t).Text, "traced")
}

func TestHelpCommand(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: "!help"})

	msg := f.transport.last(t)
	assert.Contains(t, msg.Text, "!status")
	assert.Contains(t, msg.Text, "https://example.test/support")
	assert.NotNil(t, msg.Keyboard)
}

func TestStatusCommand(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: "!status"})

	msg := f.transport.last(t)
	assert.Contains(t, msg.Text, "Plan: free")
	assert.Contains(t, msg.Text, "0 of 5")
}

func TestUnknownCommand(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: "!frobnicate"})
	assert.Contains(t, f.transport.last(t).Text, "Unknown command")
}

func TestChatGenerationDebitsAndReplies(t *testing.T) {
	f := newHandlerFixture(t, chatAnswer("The answer is 42.", 120))
	ctx := context.Background()

	f.handler.HandleEvent(ctx, Event{UserID: 42, Text: "What is the answer?"})

	msg := f.transport.last(t)
	assert.Contains(t, msg.Text, "The answer is 42.")
	assert.Contains(t, msg.Text, "Free requests remaining: 4 of 5")

	rec, err := f.cache.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 120, rec.TokensUsed)
	assert.Equal(t, 1, rec.ChatRequests)

	history := f.cache.History(42)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestChatDeniedWhenFreeLimitExhausted(t *testing.T) {
	f := newHandlerFixture(t, chatAnswer("should not be called", 1))
	ctx := context.Background()

	_, err := f.cache.Mutate(ctx, 42, func(r *store.UserRecord) store.UserUpdate {
		r.ChatRequests = 5
		five := 5
		return store.UserUpdate{ChatRequests: &five}
	})
	require.NoError(t, err)

	f.handler.HandleEvent(ctx, Event{UserID: 42, Text: "one more?"})

	msg := f.transport.last(t)
	assert.Contains(t, msg.Text, "0 of 5")
	assert.NotContains(t, msg.Text, "should not be called")
	assert.NotNil(t, msg.Keyboard, "denial offers the subscription menu")

	// A denied request leaves the counters alone.
	rec, err := f.cache.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.ChatRequests)
}

func TestChatProviderFailureMessage(t *testing.T) {
	f := newHandlerFixture(t, nil) // unreachable endpoint
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: "hello"})

	msg := f.transport.last(t)
	assert.Contains(t, msg.Text, "try again")

	// A failed generation costs nothing.
	rec, err := f.cache.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ChatRequests)
	assert.Equal(t, 0, rec.TokensUsed)
}

func TestPhotoWithVisionDisabled(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, AttachmentURL: "https://img.example.test/1.jpg"})
	assert.Equal(t, msgVisionDisabled, f.transport.last(t).Text)
}

func TestNewChatButtonClearsHistory(t *testing.T) {
	f := newHandlerFixture(t, chatAnswer("hi", 10))
	ctx := context.Background()

	f.handler.HandleEvent(ctx, Event{UserID: 42, Text: "remember this"})
	require.NotEmpty(t, f.cache.History(42))

	f.handler.HandleEvent(ctx, Event{UserID: 42, Text: ButtonNewChat})
	assert.Empty(t, f.cache.History(42))
	assert.Equal(t, msgNewChat, f.transport.last(t).Text)
}

func TestSubscriptionMenu(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: ButtonSubscription})

	msg := f.transport.last(t)
	assert.Contains(t, msg.Text, "Lite")
	assert.Contains(t, msg.Text, "Premium")
	assert.NotNil(t, msg.Keyboard)
}

func TestPurchaseButtonWithoutPayments(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: ButtonBuyTokens})
	assert.Equal(t, msgPaymentFailed, f.transport.last(t).Text)
}

func TestPurchaseButtonCreatesIntent(t *testing.T) {
	paySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "pay-9",
			"status": "pending",
			"confirmation": map[string]string{
				"confirmation_url": "https://pay.example.test/confirm/pay-9",
			},
		})
	}))
	defer paySrv.Close()

	f := newHandlerFixture(t, nil)
	f.handler.payments = payments.NewClient(config.PaymentsConfig{
		BaseURL: paySrv.URL, ShopID: "shop", SecretKey: "secret", Timeout: 5000,
	}, logger.NewNoOpLogger())

	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: ButtonLite})
	assert.Contains(t, f.transport.last(t).Text, "https://pay.example.test/confirm/pay-9")
}

func TestEmptyTextIgnored(t *testing.T) {
	f := newHandlerFixture(t, nil)
	f.handler.HandleEvent(context.Background(), Event{UserID: 42, Text: "   "})
	assert.Empty(t, f.transport.sent)
}
