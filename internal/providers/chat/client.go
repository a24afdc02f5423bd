// internal/providers/chat/client.go
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"quotagate/internal/common/config"
	"quotagate/internal/common/logger"
	"quotagate/internal/common/metrics"
)

const ServiceName = "chat"

const systemPrompt = "You are a helpful AI assistant in a chat. " +
	"Answer briefly, in a friendly tone and to the point. " +
	"If a question is unclear, ask what exactly is needed."

// FailureKind classifies a failed generation for user-facing handling.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureBalance    FailureKind = "balance"
	FailureUnknown    FailureKind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Kind    FailureKind
	Details string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chat provider failure (%s): %s", e.Kind, e.Details)
}

// Message is one conversation turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls an OpenAI-compatible chat-completions endpoint and reports the
// provider's token cost for each generation.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(cfg config.ChatProviderConfig, log logger.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Millisecond},
		logger:     log,
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate sends the conversation and returns the generated text plus the
// provider-reported total token cost.
func (c *Client) Generate(ctx context.Context, history []Message) (string, int, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)

	payload := completionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: 0.7,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, &Error{Kind: FailureUnknown, Details: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, &Error{Kind: FailureUnknown, Details: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderCallDuration.WithLabelValues(ServiceName).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := classifyTransportError(err)
		metrics.ProviderCalls.WithLabelValues(ServiceName, string(kind)).Inc()
		return "", 0, &Error{Kind: kind, Details: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := FailureUnknown
		if resp.StatusCode == http.StatusPaymentRequired {
			kind = FailureBalance
		}
		metrics.ProviderCalls.WithLabelValues(ServiceName, string(kind)).Inc()
		c.logger.Error("chat provider returned error status", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   truncate(string(respBody), 500),
		})
		return "", 0, &Error{Kind: kind, Details: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		metrics.ProviderCalls.WithLabelValues(ServiceName, string(FailureUnknown)).Inc()
		return "", 0, &Error{Kind: FailureUnknown, Details: err.Error()}
	}
	if len(cr.Choices) == 0 {
		metrics.ProviderCalls.WithLabelValues(ServiceName, string(FailureUnknown)).Inc()
		return "", 0, &Error{Kind: FailureUnknown, Details: "response carried no choices"}
	}

	metrics.ProviderCalls.WithLabelValues(ServiceName, "ok").Inc()
	return cr.Choices[0].Message.Content, cr.Usage.TotalTokens, nil
}

// Available probes the provider's model listing endpoint.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func classifyTransportError(err error) FailureKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureConnection
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
