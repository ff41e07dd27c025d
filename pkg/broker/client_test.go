package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/uploadkit/pkg/errors"
)

func sessionBody(names ...string) map[string]any {
	variants := make(map[string]any, len(names))
	for _, n := range names {
		variants[n] = map[string]string{
			"url": "https://store.example/put/" + n,
			"key": "photo/corr-1/" + n + ".jpg",
		}
	}
	return map[string]any{"correlationId": "corr-1", "variants": variants}
}

func TestRequestSession_Success(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload-sessions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotBody = body["collection"]

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionBody("thumbnail", "medium", "large", "original"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token-123")
	session, err := c.RequestSession(context.Background(), "photo")
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "photo", gotBody)
	assert.Equal(t, "corr-1", session.CorrelationID)
	require.Len(t, session.Credentials, 4)

	cred := session.Credentials["large"]
	assert.Equal(t, "photo/corr-1/large.jpg", cred.Key)
	assert.False(t, cred.Expired(time.Now()), "fresh credential must not be expired")
	assert.True(t, cred.Expired(time.Now().Add(DefaultCredentialTTL+time.Minute)))
}

func TestRequestSession_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   errors.Kind
	}{
		{http.StatusUnauthorized, errors.KindAuthorization},
		{http.StatusBadRequest, errors.KindValidation},
		{http.StatusTooManyRequests, errors.KindRateLimit},
		{http.StatusInternalServerError, errors.KindTransient},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
		}))

		c := NewClient(srv.URL, "token")
		_, err := c.RequestSession(context.Background(), "photo")
		srv.Close()

		require.Error(t, err, "status %d", tt.status)
		assert.True(t, errors.IsKind(err, tt.kind),
			"status %d: want %s, got %s", tt.status, tt.kind, errors.KindOf(err))
	}
}

func TestRequestSession_MissingVariantCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionBody("thumbnail", "medium", "large")) // no original
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	_, err := c.RequestSession(context.Background(), "photo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "original")
}

func TestDelete(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/delete", r.URL.Path)
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotKey = body["key"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	require.NoError(t, c.Delete(context.Background(), "photo/corr-1/large.jpg"))
	assert.Equal(t, "photo/corr-1/large.jpg", gotKey)
}

func TestDelete_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token")
	err := c.Delete(context.Background(), "photo/corr-1/large.jpg")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthorization))
}
