// internal/credentials/token_test.go
package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/internal/common/logger"
)

func testPrivateKeyPEM(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block)), key
}

func TestTokenForExchangesAndCaches(t *testing.T) {
	pemKey, key := testPrivateKeyPEM(t)

	var calls atomic.Int64
	assertions := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			JWT string `json:"jwt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assertions <- body.JWT

		json.NewEncoder(w).Encode(map[string]string{
			"iamToken":  "iam-token-1",
			"expiresAt": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.URL, 5*time.Second, logger.NewNoOpLogger())
	cred := Credential{
		Service:   "vision",
		AccountID: "account-1",
		KeyID:     "key-1",
		Secret:    pemKey,
	}

	token, err := ts.TokenFor(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "iam-token-1", token)
	assert.Equal(t, int64(1), calls.Load())

	// The signed assertion carries the account identity and key id.
	parsed, err := jwt.Parse(<-assertions, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"PS256"}), jwt.WithAudience(srv.URL))
	require.NoError(t, err)
	issuer, err := parsed.Claims.GetIssuer()
	require.NoError(t, err)
	assert.Equal(t, "account-1", issuer)
	assert.Equal(t, "key-1", parsed.Header["kid"])

	// Second request is served from the cache.
	token, err = ts.TokenFor(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "iam-token-1", token)
	assert.Equal(t, int64(1), calls.Load())
}

func TestTokenForRefreshesNearExpiry(t *testing.T) {
	pemKey, _ := testPrivateKeyPEM(t)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Expires inside the skew window, so it is never considered valid.
		json.NewEncoder(w).Encode(map[string]string{
			"iamToken":  "short-lived",
			"expiresAt": time.Now().Add(30 * time.Second).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.URL, 5*time.Second, logger.NewNoOpLogger())
	cred := Credential{AccountID: "account-1", KeyID: "key-1", Secret: pemKey}

	_, err := ts.TokenFor(context.Background(), cred)
	require.NoError(t, err)
	_, err = ts.TokenFor(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestTokenForCachesPerCredential(t *testing.T) {
	pemKey, _ := testPrivateKeyPEM(t)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{
			"iamToken":  "tok",
			"expiresAt": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.URL, 5*time.Second, logger.NewNoOpLogger())

	for _, account := range []string{"A", "B"} {
		_, err := ts.TokenFor(context.Background(), Credential{
			AccountID: account, KeyID: "key-1", Secret: pemKey,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), calls.Load(), "each credential keeps its own cache slot")
}

func TestTokenForRejectsBadKey(t *testing.T) {
	ts := NewTokenSource("http://127.0.0.1:0", time.Second, logger.NewNoOpLogger())
	_, err := ts.TokenFor(context.Background(), Credential{
		AccountID: "account-1", KeyID: "key-1", Secret: "not a pem key",
	})
	assert.Error(t, err)
}

func TestTokenForRejectsEmptyToken(t *testing.T) {
	pemKey, _ := testPrivateKeyPEM(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"iamToken": ""})
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.URL, 5*time.Second, logger.NewNoOpLogger())
	_, err := ts.TokenFor(context.Background(), Credential{
		AccountID: "account-1", KeyID: "key-1", Secret: pemKey,
	})
	assert.Error(t, err)
}
