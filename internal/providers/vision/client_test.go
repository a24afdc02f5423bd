// internal/providers/vision/client_test.go
package vision

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/internal/common/config"
	"quotagate/internal/common/logger"
	"quotagate/internal/credentials"
)

func testPEMKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"iamToken":  "derived-token",
			"expiresAt": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newVisionFixture(t *testing.T, ocrHandler http.HandlerFunc) *Client {
	t.Helper()
	tokenSrv := newTokenServer(t)
	ocrSrv := httptest.NewServer(ocrHandler)
	t.Cleanup(ocrSrv.Close)

	rotator := credentials.NewRotator()
	rotator.Add(credentials.Credential{
		Service:   ServiceName,
		AccountID: "account-1",
		KeyID:     "key-1",
		Secret:    testPEMKey(t),
	})
	tokens := credentials.NewTokenSource(tokenSrv.URL, 5*time.Second, logger.NewNoOpLogger())

	return NewClient(config.VisionProviderConfig{
		FolderID:        "folder-1",
		OCRURL:          ocrSrv.URL,
		Timeout:         5000,
		DownloadTimeout: 5000,
	}, rotator, tokens, logger.NewNoOpLogger())
}

func TestRecognizeFullText(t *testing.T) {
	image := []byte{0xFF, 0xD8, 0xFF, 0x01, 0x02}

	client := newVisionFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer derived-token", r.Header.Get("Authorization"))
		assert.Equal(t, "folder-1", r.Header.Get("x-folder-id"))

		var req recognizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image/jpeg", req.MimeType)
		assert.Equal(t, []string{"*"}, req.LanguageCodes)
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		require.NoError(t, err)
		assert.Equal(t, image, decoded)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"textAnnotation": map[string]interface{}{
					"fullText": "recognized text\n",
				},
			},
		})
	})

	text, err := client.Recognize(context.Background(), image, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "recognized text", text)
}

func TestRecognizeFallsBackToWordStructure(t *testing.T) {
	client := newVisionFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"textAnnotation": map[string]interface{}{
					"fullText": "",
					"blocks": []map[string]interface{}{
						{
							"lines": []map[string]interface{}{
								{"words": []map[string]string{{"text": "hello"}, {"text": "world"}}},
								{"words": []map[string]string{{"text": "second"}, {"text": "line"}}},
							},
						},
					},
				},
			},
		})
	})

	text, err := client.Recognize(context.Background(), []byte{0x01}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond line", text)
}

func TestRecognizeProviderError(t *testing.T) {
	client := newVisionFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := client.Recognize(context.Background(), []byte{0x01}, "image/jpeg")
	assert.Error(t, err)
}

func TestRecognizeWithoutAccounts(t *testing.T) {
	tokenSrv := newTokenServer(t)
	client := NewClient(config.VisionProviderConfig{
		FolderID: "folder-1",
		OCRURL:   "http://127.0.0.1:0",
		Timeout:  1000,
	}, credentials.NewRotator(),
		credentials.NewTokenSource(tokenSrv.URL, time.Second, logger.NewNoOpLogger()),
		logger.NewNoOpLogger())

	assert.False(t, client.Enabled())
	_, err := client.Recognize(context.Background(), []byte{0x01}, "image/jpeg")
	assert.Error(t, err)
}

func TestRecognizeURLDownloadsAndSniffs(t *testing.T) {
	pngImage := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, []byte("pixels")...)
	imageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngImage)
	}))
	defer imageSrv.Close()

	client := newVisionFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var req recognizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image/png", req.MimeType, "type comes from magic bytes, not the URL")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"textAnnotation": map[string]interface{}{"fullText": "from png"},
			},
		})
	})

	text, err := client.RecognizeURL(context.Background(), imageSrv.URL+"/photo.bin")
	require.NoError(t, err)
	assert.Equal(t, "from png", text)
}

func TestSniffMimeType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"unknown defaults to jpeg", []byte{0x00, 0x01}, "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sniffMimeType(tt.data))
		})
	}
}
