package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAppTokenSource(hits *atomic.Int64, handler func(w http.ResponseWriter)) (*TokenSource, func()) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		handler(w)
	}))
	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient: &http.Client{
			Transport: idRewriteTransport{host: strings.TrimPrefix(srv.URL, "http://")},
		},
	}
	return ts, srv.Close
}

func writeAppToken(w http.ResponseWriter, token string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	var hits atomic.Int64
	ts, closeSrv := newAppTokenSource(&hits, func(w http.ResponseWriter) {
		writeAppToken(w, "app-token-1", 3600)
	})
	defer closeSrv()

	ctx := context.Background()
	tok, err := ts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app-token-1", tok)

	tok, err = ts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app-token-1", tok)
	assert.Equal(t, int64(1), hits.Load(), "second call must hit the cache")
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	var hits atomic.Int64
	ts, closeSrv := newAppTokenSource(&hits, func(w http.ResponseWriter) {
		// Inside the reuse window, so every Get refetches.
		writeAppToken(w, "app-token", 1)
	})
	defer closeSrv()

	ctx := context.Background()
	_, err := ts.Get(ctx)
	require.NoError(t, err)
	_, err = ts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestTokenSourceMissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	_, err := ts.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing client id/secret")
}

func TestTokenSourceServerError(t *testing.T) {
	ts, closeSrv := newAppTokenSource(nil, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	})
	defer closeSrv()

	_, err := ts.Get(context.Background())
	assert.Error(t, err)
}

func TestTokenSourceEmptyAccessToken(t *testing.T) {
	ts, closeSrv := newAppTokenSource(nil, func(w http.ResponseWriter) {
		writeAppToken(w, "", 3600)
	})
	defer closeSrv()

	_, err := ts.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_token")
}

func TestTokenSourceConcurrentGets(t *testing.T) {
	var hits atomic.Int64
	ts, closeSrv := newAppTokenSource(&hits, func(w http.ResponseWriter) {
		writeAppToken(w, "app-token", 3600)
	})
	defer closeSrv()

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make([]error, 5)
	toks := make([]string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			toks[i], errs[i] = ts.Get(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "app-token", toks[i])
	}
	assert.Equal(t, int64(1), hits.Load(), "token source serializes the fetch")
}
