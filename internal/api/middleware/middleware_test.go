package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/pmengine/internal/api/middleware"
	"github.com/kiranshivaraju/pmengine/internal/cache"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock key store ---

type mockKeyStore struct {
	keys []*models.APIKey
	err  error
}

func (m *mockKeyStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, m.err
}

func (m *mockKeyStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

// --- Failing cache ---

type failingCache struct {
	*cache.MemoryCache
}

func (failingCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func storeWithKey(t *testing.T, rawKey, name string, scopes ...string) *mockKeyStore {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return &mockKeyStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(h),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
	}}}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func withBearer(raw string) *http.Request {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	return req
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	handler := mw.NewAuth(&mockKeyStore{}).Authenticate(okHandler())

	w := serve(handler, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	handler := mw.NewAuth(&mockKeyStore{}).Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Basic abc123")

	assert.Equal(t, http.StatusUnauthorized, serve(handler, req).Code)
}

func TestAuth_KeyTooShort(t *testing.T) {
	handler := mw.NewAuth(&mockKeyStore{}).Authenticate(okHandler())
	assert.Equal(t, http.StatusUnauthorized, serve(handler, withBearer("short")).Code)
}

func TestAuth_KeyNotFound(t *testing.T) {
	handler := mw.NewAuth(&mockKeyStore{}).Authenticate(okHandler())
	assert.Equal(t, http.StatusUnauthorized, serve(handler, withBearer("pm_test1234567890")).Code)
}

func TestAuth_LookupError(t *testing.T) {
	handler := mw.NewAuth(&mockKeyStore{err: errors.New("db down")}).Authenticate(okHandler())

	w := serve(handler, withBearer("pm_test1234567890"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestAuth_WrongSecret(t *testing.T) {
	rawKey := "pm_test1234567890abcdef"
	ks := storeWithKey(t, "pm_test1_different_secret", "ops", models.ScopeRead)
	handler := mw.NewAuth(ks).Authenticate(okHandler())

	assert.Equal(t, http.StatusUnauthorized, serve(handler, withBearer(rawKey)).Code)
}

func TestAuth_ValidKey(t *testing.T) {
	rawKey := "pm_test1234567890abcdef"
	handler := mw.NewAuth(storeWithKey(t, rawKey, "scheduler", models.ScopeRead)).Authenticate(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(mw.KeyName(r)))
		}))

	w := serve(handler, withBearer(rawKey))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scheduler", w.Body.String())
}

func TestAuth_RequireScope(t *testing.T) {
	cases := []struct {
		name   string
		scopes []string
		want   string
		status int
	}{
		{"admin allowed", []string{models.ScopeAdmin}, models.ScopeAdmin, http.StatusOK},
		{"admin implies write", []string{models.ScopeAdmin}, models.ScopeWrite, http.StatusOK},
		{"write allowed", []string{models.ScopeRead, models.ScopeWrite}, models.ScopeWrite, http.StatusOK},
		{"read denied write", []string{models.ScopeRead}, models.ScopeWrite, http.StatusForbidden},
		{"read denied admin", []string{models.ScopeRead}, models.ScopeAdmin, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rawKey := "pm_scope_1234567890abcdef"
			auth := mw.NewAuth(storeWithKey(t, rawKey, "k", tc.scopes...))
			handler := auth.Authenticate(auth.RequireScope(tc.want)(okHandler()))

			w := serve(handler, withBearer(rawKey))

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", errBody(t, w)["code"])
			}
		})
	}
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func limitedRequest(prefix string) *http.Request {
	req := httptest.NewRequest("GET", "/test", nil)
	return req.WithContext(mw.WithKeyPrefix(req.Context(), prefix))
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	handler := mw.NewRateLimit(cache.NewMemoryCache(), 60).Limit(okHandler())

	w := serve(handler, limitedRequest("pm_test1"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	handler := mw.NewRateLimit(cache.NewMemoryCache(), 2).Limit(okHandler())

	serve(handler, limitedRequest("pm_over1"))
	serve(handler, limitedRequest("pm_over1"))
	w := serve(handler, limitedRequest("pm_over1"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])

	other := serve(handler, limitedRequest("pm_other"))
	assert.Equal(t, http.StatusOK, other.Code, "limits are per key")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	handler := mw.NewRateLimit(failingCache{cache.NewMemoryCache()}, 1).Limit(okHandler())
	assert.Equal(t, http.StatusOK, serve(handler, limitedRequest("pm_test1")).Code)
}

func TestRateLimit_NoKeyPrefix_PassThrough(t *testing.T) {
	handler := mw.NewRateLimit(cache.NewMemoryCache(), 60).Limit(okHandler())
	assert.Equal(t, http.StatusOK, serve(handler, httptest.NewRequest("GET", "/test", nil)).Code)
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	w := serve(mw.Recovery(panicking), httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	w := serve(mw.Recovery(okHandler()), httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_PreservesStatus(t *testing.T) {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	w := serve(mw.Logger(notFound), httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
