package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hookline/hookline/internal/delivery"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/signing"
)

const (
	defaultHistoryPage = 100
	maxHistoryPage     = 1000
)

type createWebhookRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret"`
	Description string   `json:"description"`
	MaxRetries  *int     `json:"max_retries"`
	RateLimit   int      `json:"rate_limit"`
}

type updateWebhookRequest struct {
	URL         *string   `json:"url"`
	Events      *[]string `json:"events"`
	Active      *bool     `json:"active"`
	Description *string   `json:"description"`
	MaxRetries  *int      `json:"max_retries"`
	RateLimit   *int      `json:"rate_limit"`
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !validWebhookURL(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be a valid http or https URL")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "at least one event type is required")
		return
	}

	secret := req.Secret
	if secret == "" {
		var err error
		secret, err = signing.GenerateSecret(0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate secret")
			return
		}
	} else if !signing.IsValidSecret(secret) {
		writeError(w, http.StatusBadRequest, "secret must be at least 64 hex characters")
		return
	}

	maxRetries := delivery.DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 1 {
			writeError(w, http.StatusBadRequest, "max_retries must be at least 1")
			return
		}
		maxRetries = *req.MaxRetries
	}
	if req.RateLimit < 0 {
		writeError(w, http.StatusBadRequest, "rate_limit must be non-negative")
		return
	}

	now := time.Now().UTC()
	ep := &models.Endpoint{
		ID:          models.NewID("ep"),
		TenantID:    tenant.ID,
		URL:         req.URL,
		Description: req.Description,
		Secret:      secret,
		EventTypes:  req.Events,
		MaxRetries:  maxRetries,
		RateLimit:   req.RateLimit,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateEndpoint(r.Context(), ep); err != nil {
		s.log.Error().Err(err).Msg("failed to create endpoint")
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	endpoints, err := s.store.ListEndpoints(r.Context(), tenant.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list endpoints")
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	if endpoints == nil {
		endpoints = []models.Endpoint{}
	}

	writeJSON(w, http.StatusOK, endpoints)
}

// ownedEndpoint resolves the path endpoint and enforces tenant ownership.
// Endpoints belonging to other tenants are indistinguishable from missing
// ones.
func (s *Server) ownedEndpoint(w http.ResponseWriter, r *http.Request) *models.Endpoint {
	tenant := TenantFromContext(r.Context())

	ep, err := s.store.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get endpoint")
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if ep == nil || ep.TenantID != tenant.ID {
		writeError(w, http.StatusNotFound, "webhook not found")
		return nil
	}
	return ep
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	ep := s.ownedEndpoint(w, r)
	if ep == nil {
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	ep := s.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != nil {
		if !validWebhookURL(*req.URL) {
			writeError(w, http.StatusBadRequest, "url must be a valid http or https URL")
			return
		}
		ep.URL = *req.URL
	}
	if req.Events != nil {
		if len(*req.Events) == 0 {
			writeError(w, http.StatusBadRequest, "at least one event type is required")
			return
		}
		ep.EventTypes = *req.Events
	}
	if req.Active != nil {
		ep.Active = *req.Active
		if ep.Active {
			// re-enabling an endpoint gives it a clean slate
			ep.FailureCount = 0
		}
	}
	if req.Description != nil {
		ep.Description = *req.Description
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 1 {
			writeError(w, http.StatusBadRequest, "max_retries must be at least 1")
			return
		}
		ep.MaxRetries = *req.MaxRetries
	}
	if req.RateLimit != nil {
		if *req.RateLimit < 0 {
			writeError(w, http.StatusBadRequest, "rate_limit must be non-negative")
			return
		}
		ep.RateLimit = *req.RateLimit
	}
	ep.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateEndpoint(r.Context(), ep); err != nil {
		s.log.Error().Err(err).Msg("failed to update endpoint")
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	ep := s.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	if err := s.store.DeleteEndpoint(r.Context(), ep.ID); err != nil {
		s.log.Error().Err(err).Msg("failed to delete endpoint")
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	ep := s.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	limit := defaultHistoryPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		if n < 1 {
			n = 1
		}
		if n > maxHistoryPage {
			n = maxHistoryPage
		}
		limit = n
	}

	attempts, err := s.store.ListAttemptsByEndpoint(r.Context(), ep.ID, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list attempts")
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if attempts == nil {
		attempts = []models.Attempt{}
	}

	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleWebhookStats(w http.ResponseWriter, r *http.Request) {
	ep := s.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	stats, err := s.engine.EndpointStats(r.Context(), ep.ID)
	if err != nil {
		if errors.Is(err, delivery.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.log.Error().Err(err).Msg("failed to compute endpoint stats")
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	ep := s.ownedEndpoint(w, r)
	if ep == nil {
		return
	}

	res, err := s.engine.TestEndpoint(r.Context(), ep.ID)
	if err != nil {
		if errors.Is(err, delivery.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.log.Error().Err(err).Msg("test delivery failed")
		writeError(w, http.StatusInternalServerError, "failed to test webhook")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
