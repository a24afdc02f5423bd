// internal/bot/handler.go
package bot

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"quotagate/internal/catalog"
	"quotagate/internal/common/config"
	"quotagate/internal/common/logger"
	"quotagate/internal/common/observability"
	"quotagate/internal/ledger"
	"quotagate/internal/payments"
	"quotagate/internal/providers/chat"
	"quotagate/internal/providers/vision"
	"quotagate/internal/store"
)

// Purchase prices shown at checkout, in RUB.
const (
	litePrice    = 149
	premiumPrice = 299
	tokensPrice  = 99
	photoPrice   = 149
)

// ProfileFetcher resolves platform-side user identity; the long-poll transport
// implements it, test doubles may leave it nil.
type ProfileFetcher interface {
	Profile(ctx context.Context, userID int64) (*UserProfile, error)
}

// Handler routes inbound events: buttons and commands first, photos to the
// vision pipeline, everything else to chat generation. All quota decisions go
// through the policy; the handler never touches counters directly.
type Handler struct {
	transport Transport
	profiles  ProfileFetcher
	cache     *ledger.Cache
	policy    *ledger.Policy
	catalog   *catalog.Catalog
	store     store.Store
	chat      *chat.Client
	vision    *vision.Client
	payments  *payments.Client
	obs       *observability.Observability
	logger    logger.Logger

	commandPrefix    string
	supportLink      string
	maxMessageLength int
}

func NewHandler(
	transport Transport,
	profiles ProfileFetcher,
	cache *ledger.Cache,
	policy *ledger.Policy,
	cat *catalog.Catalog,
	s store.Store,
	chatClient *chat.Client,
	visionClient *vision.Client,
	paymentsClient *payments.Client,
	obs *observability.Observability,
	cfg config.TransportConfig,
	log logger.Logger,
) *Handler {
	return &Handler{
		transport:        transport,
		profiles:         profiles,
		cache:            cache,
		policy:           policy,
		catalog:          cat,
		store:            s,
		chat:             chatClient,
		vision:           visionClient,
		payments:         paymentsClient,
		obs:              obs,
		logger:           log,
		commandPrefix:    cfg.CommandPrefix,
		supportLink:      cfg.SupportLink,
		maxMessageLength: cfg.MaxMessageLength,
	}
}

// HandleEvent is the long-poll callback. Each handled event gets a span and
// an action measurement; empty events record nothing.
func (h *Handler) HandleEvent(ctx context.Context, ev Event) {
	ctx, span := h.obs.StartSpan(ctx, "bot.event")
	defer span.End()
	start := time.Now()

	action := h.route(ctx, ev)
	if action == "" {
		return
	}
	h.obs.RecordAction(ctx, action, "handled")
	h.obs.RecordActionDuration(ctx, time.Since(start), action)
}

// route dispatches the event and names the action kind it resolved to.
func (h *Handler) route(ctx context.Context, ev Event) string {
	h.ensureProfile(ctx, ev.UserID)

	if ev.AttachmentURL != "" {
		h.handlePhoto(ctx, ev.UserID, ev.AttachmentURL)
		return "photo"
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return ""
	}

	if h.handleButton(ctx, ev.UserID, text) {
		return "button"
	}
	if strings.HasPrefix(text, h.commandPrefix) {
		h.handleCommand(ctx, ev.UserID, strings.TrimPrefix(text, h.commandPrefix))
		return "command"
	}

	h.handleChat(ctx, ev.UserID, text)
	return "chat"
}

// ensureProfile captures the platform identity on first contact. Failures are
// logged and ignored: the ledger works fine with an anonymous record.
func (h *Handler) ensureProfile(ctx context.Context, userID int64) {
	rec, err := h.cache.Get(ctx, userID)
	if err != nil {
		h.logger.Error("ledger read failed", map[string]interface{}{
			"userId": userID, "error": err.Error(),
		})
		return
	}
	if rec.FullName != "" || h.profiles == nil {
		return
	}

	profile, err := h.profiles.Profile(ctx, userID)
	if err != nil {
		h.logger.Warn("profile fetch failed", map[string]interface{}{
			"userId": userID, "error": err.Error(),
		})
		return
	}

	if err := h.store.UpdateProfile(ctx, userID, profile.FullName, profile.ProfileLink, ""); err != nil {
		h.logger.Warn("profile persist failed", map[string]interface{}{
			"userId": userID, "error": err.Error(),
		})
		return
	}
	h.cache.Patch(ctx, userID, func(r *store.UserRecord) {
		r.FullName = profile.FullName
		r.ProfileLink = profile.ProfileLink
	})
}

func (h *Handler) handleButton(ctx context.Context, userID int64, text string) bool {
	switch text {
	case ButtonStatus:
		h.sendStatus(ctx, userID)
	case ButtonNewChat:
		h.cache.ClearHistory(userID)
		h.reply(ctx, userID, msgNewChat, MainKeyboard())
	case ButtonSubscription:
		h.reply(ctx, userID, subscriptionText(h.catalog), SubscriptionKeyboard())
	case ButtonBack:
		h.reply(ctx, userID, msgGreeting, MainKeyboard())
	case ButtonLite:
		h.startPurchase(ctx, userID, payments.KindLite, litePrice, "Lite subscription, 30 days")
	case ButtonPremium:
		h.startPurchase(ctx, userID, payments.KindPremium, premiumPrice, "Premium subscription, 30 days")
	case ButtonBuyTokens:
		h.startPurchase(ctx, userID, payments.KindTokens, tokensPrice, "Token pack")
	case ButtonBuyPhoto:
		h.startPurchase(ctx, userID, payments.KindPhoto, photoPrice, "Extra photo recognitions")
	default:
		return false
	}
	return true
}

func (h *Handler) handleCommand(ctx context.Context, userID int64, command string) {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "help", "start":
		h.reply(ctx, userID, helpText(h.commandPrefix, h.supportLink), MainKeyboard())
	case "ping":
		h.reply(ctx, userID, "pong", nil)
	case "status":
		h.sendStatus(ctx, userID)
	case "tokens":
		rec, err := h.cache.Get(ctx, userID)
		if err != nil {
			h.replyError(ctx, userID)
			return
		}
		h.reply(ctx, userID, tokensText(rec), MainKeyboard())
	default:
		h.reply(ctx, userID, "Unknown command. "+helpText(h.commandPrefix, h.supportLink), MainKeyboard())
	}
}

func (h *Handler) sendStatus(ctx context.Context, userID int64) {
	rec, err := h.cache.Get(ctx, userID)
	if err != nil {
		h.replyError(ctx, userID)
		return
	}
	h.reply(ctx, userID, statusText(rec, h.catalog), MainKeyboard())
}

func (h *Handler) startPurchase(ctx context.Context, userID int64, kind string, price float64, description string) {
	if h.payments == nil {
		h.reply(ctx, userID, msgPaymentFailed, MainKeyboard())
		return
	}

	intent, err := h.payments.CreateIntent(ctx, userID, kind, price, description)
	if err != nil {
		h.logger.Error("payment creation failed", map[string]interface{}{
			"userId": userID, "kind": kind, "error": err.Error(),
		})
		h.reply(ctx, userID, msgPaymentFailed, MainKeyboard())
		return
	}
	h.reply(ctx, userID, paymentText(intent.ConfirmationURL), MainKeyboard())
}

// handleChat is the check -> call -> debit pipeline for text generation.
func (h *Handler) handleChat(ctx context.Context, userID int64, text string) {
	decision, err := h.policy.Check(ctx, userID, ledger.ActionChat)
	if err != nil {
		h.replyError(ctx, userID)
		return
	}
	if !decision.Allowed {
		h.reply(ctx, userID, decision.Reason, SubscriptionKeyboard())
		return
	}

	h.cache.AppendHistory(userID, "user", text)

	answer, cost, err := h.chat.Generate(ctx, toChatMessages(h.cache.History(userID)))
	if err != nil {
		h.logger.Error("chat generation failed", map[string]interface{}{
			"userId": userID, "error": err.Error(),
		})
		h.reply(ctx, userID, chatFailureMessage(err), MainKeyboard())
		return
	}

	h.cache.AppendHistory(userID, "assistant", answer)

	rec, err := h.policy.DebitChat(ctx, userID, cost)
	if err != nil {
		// The answer was produced; deliver it even if the debit write failed.
		h.logger.Error("chat debit failed", map[string]interface{}{
			"userId": userID, "cost": cost, "error": err.Error(),
		})
		h.reply(ctx, userID, answer, MainKeyboard())
		return
	}

	plan, ok := h.catalog.Plan(rec.Plan)
	if !ok {
		plan, _ = h.catalog.Plan(store.PlanFree)
	}
	h.reply(ctx, userID, answer+quotaFooter(rec, plan), MainKeyboard())
}

// handlePhoto is the check -> call -> debit pipeline for OCR. The debit lands
// whenever the recognition was attempted, success or not; charging failures is
// a deployment choice the policy owns.
func (h *Handler) handlePhoto(ctx context.Context, userID int64, imageURL string) {
	if h.vision == nil || !h.vision.Enabled() {
		h.reply(ctx, userID, msgVisionDisabled, MainKeyboard())
		return
	}

	decision, err := h.policy.Check(ctx, userID, ledger.ActionVision)
	if err != nil {
		h.replyError(ctx, userID)
		return
	}
	if !decision.Allowed {
		h.reply(ctx, userID, decision.Reason, SubscriptionKeyboard())
		return
	}

	text, recErr := h.vision.RecognizeURL(ctx, imageURL)

	rec, err := h.policy.DebitVision(ctx, userID, recErr == nil)
	if err != nil {
		h.logger.Error("vision debit failed", map[string]interface{}{
			"userId": userID, "error": err.Error(),
		})
	}

	if recErr != nil {
		h.logger.Error("vision recognition failed", map[string]interface{}{
			"userId": userID, "error": recErr.Error(),
		})
		h.reply(ctx, userID, msgVisionFailed, MainKeyboard())
		return
	}
	if strings.TrimSpace(text) == "" {
		h.reply(ctx, userID, msgVisionEmpty, MainKeyboard())
		return
	}

	reply := "Recognized text:\n\n" + text
	if rec != nil {
		if plan, ok := h.catalog.Plan(rec.Plan); ok && !rec.AdminUnlimited {
			allowance := plan.VisionMax + rec.PurchasedVisionRequests
			remaining := allowance - rec.VisionRequests
			if remaining < 0 {
				remaining = 0
			}
			reply += fmt.Sprintf("\n\nRecognitions remaining: %d of %d", remaining, allowance)
		}
	}
	h.reply(ctx, userID, reply, MainKeyboard())
}

func (h *Handler) reply(ctx context.Context, userID int64, text string, keyboard *Keyboard) {
	if err := h.transport.Send(ctx, userID, truncateMessage(text, h.maxMessageLength), keyboard); err != nil {
		h.logger.Error("message send failed", map[string]interface{}{
			"userId": userID, "error": err.Error(),
		})
	}
}

func (h *Handler) replyError(ctx context.Context, userID int64) {
	h.reply(ctx, userID, "Something went wrong. Please try again later.", MainKeyboard())
}

func toChatMessages(history []ledger.Message) []chat.Message {
	out := make([]chat.Message, len(history))
	for i, m := range history {
		out[i] = chat.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func chatFailureMessage(err error) string {
	var chatErr *chat.Error
	if !stderrors.As(err, &chatErr) {
		return msgProviderUnknown
	}
	switch chatErr.Kind {
	case chat.FailureTimeout:
		return msgProviderTimeout
	case chat.FailureConnection:
		return msgProviderConnection
	case chat.FailureBalance:
		return msgProviderBalance
	default:
		return msgProviderUnknown
	}
}
