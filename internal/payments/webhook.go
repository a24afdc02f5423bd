// internal/payments/webhook.go
package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"quotagate/internal/common/logger"
	"quotagate/internal/common/metrics"
	"quotagate/internal/common/observability"
	"quotagate/internal/common/validation"
	"quotagate/internal/ledger"
)

// Grants applied on settlement per purchase kind.
const (
	TokenGrantAmount  = 150000
	VisionGrantAmount = 30
	PlanDurationDays  = 30
)

const notificationSchema = `{
	"type": "object",
	"required": ["event", "object"],
	"properties": {
		"event": {"type": "string"},
		"object": {
			"type": "object",
			"required": ["id", "status"],
			"properties": {
				"id": {"type": "string"},
				"status": {"type": "string"},
				"metadata": {"type": "object"}
			}
		}
	}
}`

type notification struct {
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// WebhookHandler receives provider settlement notifications and applies the
// purchased grant. The provider retries on non-2xx responses, so malformed or
// irrelevant notifications are acknowledged rather than rejected; only a grant
// that genuinely failed returns an error status.
type WebhookHandler struct {
	lifecycle *ledger.Lifecycle
	obs       *observability.Observability
	logger    logger.Logger
}

func NewWebhookHandler(lc *ledger.Lifecycle, obs *observability.Observability, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{lifecycle: lc, obs: obs, logger: log}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	if err := validation.ValidateJSON(notificationSchema, body); err != nil {
		h.logger.Warn("webhook notification failed schema validation", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusOK)
		return
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if n.Event != "payment.succeeded" || n.Object.Status != StatusSucceeded {
		w.WriteHeader(http.StatusOK)
		return
	}

	userID, err := strconv.ParseInt(n.Object.Metadata["user_id"], 10, 64)
	if err != nil {
		h.logger.Warn("settled payment carried no usable user id", map[string]interface{}{
			"paymentId": n.Object.ID,
		})
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := h.obs.StartSpan(r.Context(), "payments.settlement")
	defer span.End()

	kind := n.Object.Metadata["kind"]
	applied, err := h.settle(ctx, userID, kind)
	if err != nil {
		h.logger.Error("failed to apply settled payment", map[string]interface{}{
			"paymentId": n.Object.ID,
			"userId":    userID,
			"kind":      kind,
			"error":     err.Error(),
		})
		http.Error(w, "grant failed", http.StatusInternalServerError)
		return
	}

	if applied {
		metrics.PaymentsSettled.WithLabelValues(kind).Inc()
		h.obs.RecordAction(ctx, "settlement", kind)
		h.logger.Info("payment settled and granted", map[string]interface{}{
			"paymentId": n.Object.ID,
			"userId":    userID,
			"kind":      kind,
		})
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) settle(ctx context.Context, userID int64, kind string) (bool, error) {
	switch kind {
	case KindTokens:
		return true, h.lifecycle.AddPurchasedTokens(ctx, userID, TokenGrantAmount)
	case KindPhoto:
		return true, h.lifecycle.AddPurchasedVisionRequests(ctx, userID, VisionGrantAmount)
	case KindLite, KindPremium:
		return true, h.lifecycle.Activate(ctx, userID, kind, PlanDurationDays)
	default:
		h.logger.Warn("settled payment with unknown kind, ignoring", map[string]interface{}{
			"userId": userID, "kind": kind,
		})
		return false, nil
	}
}
