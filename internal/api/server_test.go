package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/delivery"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/ratelimit"
	"github.com/hookline/hookline/internal/storage"
)

type testEnv struct {
	server *Server
	store  storage.Storage
	tenant *models.Tenant
}

func newTestEnv(t *testing.T, rlCfg config.RateLimitConfig) *testEnv {
	t.Helper()

	store := storage.NewMemory(1000)
	log := zerolog.Nop()

	apiKey, err := models.NewAPIKey()
	require.NoError(t, err)

	tenant := &models.Tenant{
		ID:        models.NewID("tnt"),
		Name:      "acme",
		APIKey:    apiKey,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))

	sender := delivery.NewSender(2*time.Second, "")
	engine := delivery.NewEngine(store, sender, log)
	limiter := ratelimit.New("", "hookline-test", log)
	t.Cleanup(func() { limiter.Close() })

	srv := NewServer(config.ServerConfig{}, rlCfg, store, engine, limiter, log)
	return &testEnv{server: srv, store: store, tenant: tenant}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.tenant.APIKey)

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createWebhook(t *testing.T, body map[string]interface{}) models.Endpoint {
	t.Helper()

	rec := e.request(t, http.MethodPost, "/api/v1/webhooks", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ep models.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ep))
	return ep
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateWebhook(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	ep := env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})
	assert.True(t, ep.Active)
	assert.Equal(t, 3, ep.MaxRetries)
	assert.Len(t, ep.Secret, 64)
	assert.Equal(t, env.tenant.ID, ep.TenantID)
}

func TestCreateWebhookValidation(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	cases := []map[string]interface{}{
		{"url": "", "events": []string{"a"}},
		{"url": "ftp://example.com", "events": []string{"a"}},
		{"url": "not a url", "events": []string{"a"}},
		{"url": "https://example.com", "events": []string{}},
		{"url": "https://example.com", "events": []string{"a"}, "secret": "tooshort"},
		{"url": "https://example.com", "events": []string{"a"}, "max_retries": 0},
	}
	for i, body := range cases {
		rec := env.request(t, http.MethodPost, "/api/v1/webhooks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %d: %s", i, rec.Body.String())
	}
}

func TestListWebhooksReturnsArray(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	rec := env.request(t, http.MethodGet, "/api/v1/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var endpoints []models.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &endpoints))
	assert.Empty(t, endpoints)

	ep := env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})

	rec = env.request(t, http.MethodGet, "/api/v1/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &endpoints))
	require.Len(t, endpoints, 1)
	assert.Equal(t, ep.ID, endpoints[0].ID)
}

func TestGetWebhookOwnership(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	ep := env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})

	rec := env.request(t, http.MethodGet, "/api/v1/webhooks/"+ep.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another tenant cannot see it.
	otherKey, err := models.NewAPIKey()
	require.NoError(t, err)
	other := &models.Tenant{
		ID:        models.NewID("tnt"),
		Name:      "rival",
		APIKey:    otherKey,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.store.CreateTenant(context.Background(), other))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/"+ep.ID, nil)
	req.Header.Set("Authorization", "Bearer "+other.APIKey)
	rec2 := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestUpdateWebhook(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	ep := env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})

	rec := env.request(t, http.MethodPatch, "/api/v1/webhooks/"+ep.ID, map[string]interface{}{
		"url":         "https://example.com/v2",
		"max_retries": 5,
		"active":      false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got models.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "https://example.com/v2", got.URL)
	assert.Equal(t, 5, got.MaxRetries)
	assert.False(t, got.Active)
	assert.Equal(t, []string{"user.created"}, got.EventTypes)
}

func TestReenableResetsFailureCount(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	ep := env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})

	for i := 0; i < 3; i++ {
		_, err := env.store.MarkEndpointFailure(context.Background(), ep.ID)
		require.NoError(t, err)
	}

	rec := env.request(t, http.MethodPatch, "/api/v1/webhooks/"+ep.ID, map[string]interface{}{
		"active": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Active)
	assert.Equal(t, 0, got.FailureCount)
}

func TestDeleteWebhook(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	ep := env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})

	rec := env.request(t, http.MethodDelete, "/api/v1/webhooks/"+ep.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/webhooks/"+ep.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListWebhookDeliveriesLimitClamp(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	ep := env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})

	for i := 0; i < 5; i++ {
		att := &models.Attempt{
			ID:            models.NewID("att"),
			EndpointID:    ep.ID,
			EventID:       models.NewID("evt"),
			AttemptNumber: 1,
			StatusCode:    200,
			CreatedAt:     time.Now().UTC(),
		}
		require.NoError(t, env.store.CreateAttempt(context.Background(), att))
	}

	rec := env.request(t, http.MethodGet, fmt.Sprintf("/api/v1/webhooks/%s/deliveries?limit=2", ep.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var attempts []models.Attempt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attempts))
	assert.Len(t, attempts, 2)

	// Out-of-range limits clamp instead of erroring.
	rec = env.request(t, http.MethodGet, fmt.Sprintf("/api/v1/webhooks/%s/deliveries?limit=0", ep.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.request(t, http.MethodGet, fmt.Sprintf("/api/v1/webhooks/%s/deliveries?limit=99999", ep.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, fmt.Sprintf("/api/v1/webhooks/%s/deliveries?limit=abc", ep.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerEvent(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})
	env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/other",
		"events": []string{"invoice.paid"},
	})

	rec := env.request(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event_type": "user.created",
		"payload":    map[string]string{"id": "u_1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Event   models.Event `json:"event"`
		Matched int          `json:"matched"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Matched)
	assert.Equal(t, "user.created", resp.Event.EventType)
	assert.True(t, strings.HasPrefix(resp.Event.ID, "evt_"))
}

func TestTriggerEventValidation(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	rec := env.request(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"payload": map[string]string{"id": "u_1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"event_type": "user.created",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{
		Enabled:  true,
		Requests: 2,
		Window:   time.Minute,
	})

	rec := env.request(t, http.MethodGet, "/api/v1/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	rec = env.request(t, http.MethodGet, "/api/v1/webhooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = env.request(t, http.MethodGet, "/api/v1/webhooks", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var resp rateLimitExceededResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate limit exceeded", resp.Error)
	assert.NotEmpty(t, resp.ResetTime)
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, config.RateLimitConfig{})
	env.createWebhook(t, map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"user.created"},
	})

	rec := env.request(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats storage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalEndpoints)
}
