// internal/payments/client.go
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"quotagate/internal/common/config"
	"quotagate/internal/common/errors"
	"quotagate/internal/common/logger"
)

// Purchase kinds carried in payment metadata and dispatched on settlement.
const (
	KindTokens  = "tokens"
	KindPhoto   = "photo"
	KindLite    = "lite"
	KindPremium = "premium"
)

const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
)

// Intent is a created payment awaiting user confirmation.
type Intent struct {
	ID              string
	Status          string
	ConfirmationURL string
}

// Client talks to the payment provider's REST API with basic auth and a fresh
// idempotence key per creation.
type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	returnURL  string
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(cfg config.PaymentsConfig, log logger.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		returnURL:  cfg.ReturnURL,
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Millisecond},
		logger:     log,
	}
}

type createRequest struct {
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Confirmation struct {
		Type      string `json:"type"`
		ReturnURL string `json:"return_url"`
	} `json:"confirmation"`
	Capture     bool              `json:"capture"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type paymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Paid         bool   `json:"paid"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
	Metadata map[string]string `json:"metadata"`
}

// CreateIntent registers a payment for the user and returns the confirmation
// URL to redirect them to. kind rides along in metadata so settlement knows
// what to credit.
func (c *Client) CreateIntent(ctx context.Context, userID int64, kind string, amount float64, description string) (*Intent, error) {
	var cr createRequest
	cr.Amount.Value = strconv.FormatFloat(amount, 'f', 2, 64)
	cr.Amount.Currency = "RUB"
	cr.Confirmation.Type = "redirect"
	cr.Confirmation.ReturnURL = c.returnURL
	cr.Capture = true
	cr.Description = description
	cr.Metadata = map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"kind":    kind,
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewProviderTimeoutError("payments", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("payment creation rejected", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(respBody),
		})
		return nil, errors.NewPaymentFailedError(fmt.Sprintf("status %d", resp.StatusCode))
	}

	var pr paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, errors.NewProviderError("payments", err.Error())
	}

	c.logger.Info("payment intent created", map[string]interface{}{
		"paymentId": pr.ID,
		"userId":    userID,
		"kind":      kind,
		"amount":    amount,
	})

	return &Intent{
		ID:              pr.ID,
		Status:          pr.Status,
		ConfirmationURL: pr.Confirmation.ConfirmationURL,
	}, nil
}

// Status fetches the current provider-side status of a payment.
func (c *Client) Status(ctx context.Context, paymentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.shopID, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.NewProviderTimeoutError("payments", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewProviderError("payments", fmt.Sprintf("status %d", resp.StatusCode))
	}

	var pr paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", errors.NewProviderError("payments", err.Error())
	}
	return pr.Status, nil
}

// IsSettled reports whether the payment has completed successfully.
func (c *Client) IsSettled(ctx context.Context, paymentID string) (bool, error) {
	status, err := c.Status(ctx, paymentID)
	if err != nil {
		return false, err
	}
	return status == StatusSucceeded, nil
}
