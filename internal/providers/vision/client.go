// internal/providers/vision/client.go
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quotagate/internal/common/config"
	"quotagate/internal/common/errors"
	"quotagate/internal/common/logger"
	"quotagate/internal/common/metrics"
	"quotagate/internal/credentials"
)

// ServiceName is the credential pool this client draws from.
const ServiceName = "vision"

// Client performs OCR against the Yandex Vision text-recognition endpoint.
// Each call draws the next service account from the rotator and authenticates
// with a derived IAM token from the shared token source.
type Client struct {
	folderID       string
	ocrURL         string
	rotator        *credentials.Rotator
	tokens         *credentials.TokenSource
	httpClient     *http.Client
	downloadClient *http.Client
	logger         logger.Logger
}

func NewClient(cfg config.VisionProviderConfig, rotator *credentials.Rotator, tokens *credentials.TokenSource, log logger.Logger) *Client {
	return &Client{
		folderID:       cfg.FolderID,
		ocrURL:         cfg.OCRURL,
		rotator:        rotator,
		tokens:         tokens,
		httpClient:     &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Millisecond},
		downloadClient: &http.Client{Timeout: time.Duration(cfg.DownloadTimeout) * time.Millisecond},
		logger:         log,
	}
}

// Enabled reports whether at least one service account is configured. A
// deployment without vision credentials runs with the feature disabled rather
// than failing at startup.
func (c *Client) Enabled() bool {
	return c.rotator.Size(ServiceName) > 0
}

type recognizeRequest struct {
	MimeType      string   `json:"mimeType"`
	LanguageCodes []string `json:"languageCodes"`
	Content       string   `json:"content"`
}

type recognizeResponse struct {
	Result struct {
		TextAnnotation struct {
			FullText string `json:"fullText"`
			Blocks   []struct {
				Lines []struct {
					Words []struct {
						Text string `json:"text"`
					} `json:"words"`
				} `json:"lines"`
			} `json:"blocks"`
		} `json:"textAnnotation"`
	} `json:"result"`
}

// Recognize runs OCR over the image bytes and returns the extracted text.
func (c *Client) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	if !c.Enabled() {
		return "", errors.NewConfigurationError("no vision service accounts configured")
	}

	cred, err := c.rotator.Next(ServiceName)
	if err != nil {
		return "", err
	}

	token, err := c.tokens.TokenFor(ctx, cred)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(ServiceName, "auth_error").Inc()
		return "", err
	}

	payload := recognizeRequest{
		MimeType:      mimeType,
		LanguageCodes: []string{"*"},
		Content:       base64.StdEncoding.EncodeToString(image),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.NewProviderError(ServiceName, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ocrURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.NewProviderError(ServiceName, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-folder-id", c.folderID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderCallDuration.WithLabelValues(ServiceName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(ServiceName, "error").Inc()
		return "", errors.NewProviderTimeoutError(ServiceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.ProviderCalls.WithLabelValues(ServiceName, "error").Inc()
		c.logger.Error("vision provider returned error status", map[string]interface{}{
			"status":  resp.StatusCode,
			"account": cred.AccountID,
			"body":    truncate(string(respBody), 500),
		})
		return "", errors.NewProviderError(ServiceName, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var rr recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		metrics.ProviderCalls.WithLabelValues(ServiceName, "error").Inc()
		return "", errors.NewProviderError(ServiceName, err.Error())
	}

	metrics.ProviderCalls.WithLabelValues(ServiceName, "ok").Inc()
	return extractText(&rr), nil
}

// RecognizeURL downloads the image first, sniffs its type, then recognizes.
func (c *Client) RecognizeURL(ctx context.Context, imageURL string) (string, error) {
	image, mimeType, err := c.download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	return c.Recognize(ctx, image, mimeType)
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", errors.NewProviderError(ServiceName, err.Error())
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, "", errors.NewProviderTimeoutError(ServiceName, fmt.Errorf("image download failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.NewProviderError(ServiceName, fmt.Sprintf("image download status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", errors.NewProviderError(ServiceName, "image download read failed: "+err.Error())
	}
	return data, sniffMimeType(data), nil
}

// sniffMimeType inspects magic bytes; the OCR endpoint needs the real type,
// not the URL's extension.
func sniffMimeType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	default:
		return "image/jpeg"
	}
}

// extractText prefers the document-level fullText, falling back to joining the
// per-word structure when the provider leaves fullText empty.
func extractText(rr *recognizeResponse) string {
	ann := rr.Result.TextAnnotation
	if text := strings.TrimSpace(ann.FullText); text != "" {
		return text
	}

	var lines []string
	for _, block := range ann.Blocks {
		for _, line := range block.Lines {
			var words []string
			for _, word := range line.Words {
				words = append(words, word.Text)
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
