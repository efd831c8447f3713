package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestCORSAllowsAnyOriginByDefault(t *testing.T) {
	h := CORS(nil)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/navigate", nil)
	req.Header.Set("Origin", "https://viewer.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Page-Url, X-Page-Title, X-Session-Id", rr.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := CORS([]string{"https://ok.example"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://ok.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://ok.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/click", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, called)
}

func TestSessionKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/navigate?sid=abc", nil)
	assert.Equal(t, "sid:abc", SessionKey(req))

	req = httptest.NewRequest(http.MethodPost, "/click", nil)
	req.Header.Set("X-Session-Id", "hdr")
	assert.Equal(t, "sid:hdr", SessionKey(req))

	req = httptest.NewRequest(http.MethodPost, "/click", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "ip:10.0.0.7", SessionKey(req))
}

func TestRateLimiterPerSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimiter(ctx, 0.001, 2, zap.NewNop())(http.HandlerFunc(okHandler))

	hit := func(sid string) int {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/screenshot?sid="+sid, nil))
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, hit("a"))
	assert.Equal(t, http.StatusOK, hit("a"))
	assert.Equal(t, http.StatusTooManyRequests, hit("a"))
	assert.Equal(t, http.StatusOK, hit("b"), "other sessions have their own bucket")
}

func TestRateLimiterDisabled(t *testing.T) {
	h := RateLimiter(context.Background(), 0, 0, nil)(http.HandlerFunc(okHandler))
	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(zap.New(core)))
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusNotFound), fields["status"])
	assert.Equal(t, "/missing", fields["path"])
	assert.NotEmpty(t, fields["request_id"])
}
