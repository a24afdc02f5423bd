// internal/credentials/token.go
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quotagate/internal/common/logger"
	"quotagate/internal/common/metrics"
)

const (
	assertionLifetime = time.Hour
	// Cached tokens are considered expired one minute before the provider's
	// stated lifetime so a token never dies mid-request.
	expirySkew = time.Minute
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// TokenSource derives short-lived access tokens for signing-identity
// credentials and caches them per credential. A failed derivation is returned
// as an error, never papered over with a stale token.
type TokenSource struct {
	tokenURL   string
	httpClient *http.Client
	logger     logger.Logger

	mu    sync.Mutex
	cache map[string]cachedToken
}

func NewTokenSource(tokenURL string, timeout time.Duration, log logger.Logger) *TokenSource {
	return &TokenSource{
		tokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
		cache:      make(map[string]cachedToken),
	}
}

type tokenResponse struct {
	IAMToken  string `json:"iamToken"`
	ExpiresAt string `json:"expiresAt"`
}

// TokenFor returns a valid derived token for the credential, refreshing it
// transparently when the cached one is absent or expired.
func (ts *TokenSource) TokenFor(ctx context.Context, cred Credential) (string, error) {
	cacheKey := cred.AccountID + "/" + cred.KeyID

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if cached, ok := ts.cache[cacheKey]; ok && cached.expiresAt.After(time.Now()) {
		return cached.token, nil
	}

	ts.logger.Info("derived token absent or expired, refreshing", map[string]interface{}{
		"account": truncateID(cred.AccountID),
	})

	token, expiresAt, err := ts.exchange(ctx, cred)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", err
	}

	ts.cache[cacheKey] = cachedToken{token: token, expiresAt: expiresAt.Add(-expirySkew)}
	metrics.TokenRefreshes.WithLabelValues("ok").Inc()

	ts.logger.Info("derived token refreshed", map[string]interface{}{
		"account":   truncateID(cred.AccountID),
		"expiresAt": expiresAt.Format(time.RFC3339),
	})
	return token, nil
}

// exchange signs a PS256 assertion with the credential's private key and
// trades it for an access token at the provider's token endpoint.
func (ts *TokenSource) exchange(ctx context.Context, cred Credential) (string, time.Time, error) {
	// Env files carry the PEM with escaped newlines.
	pemKey := strings.ReplaceAll(cred.Secret, `\n`, "\n")
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid private key for account %s: %w", truncateID(cred.AccountID), err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"aud": ts.tokenURL,
		"iss": cred.AccountID,
		"iat": now.Unix(),
		"exp": now.Add(assertionLifetime).Unix(),
	}

	assertion := jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
	assertion.Header["kid"] = cred.KeyID

	signed, err := assertion.SignedString(privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign assertion: %w", err)
	}

	body, err := json.Marshal(map[string]string{"jwt": signed})
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.IAMToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned an empty token")
	}

	expiresAt := now.Add(assertionLifetime)
	if tr.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, tr.ExpiresAt); err == nil {
			expiresAt = t
		}
	}

	return tr.IAMToken, expiresAt, nil
}

func truncateID(id string) string {
	if len(id) > 10 {
		return id[:10] + "..."
	}
	return id
}
