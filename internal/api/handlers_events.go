package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hookline/hookline/internal/delivery"
)

type triggerEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	tenant := TenantFromContext(r.Context())

	var req triggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, matched, err := s.engine.Trigger(r.Context(), tenant.ID, strings.TrimSpace(req.EventType), req.Payload)
	if err != nil {
		if errors.Is(err, delivery.ErrEventTypeRequired) || errors.Is(err, delivery.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("failed to trigger event")
		writeError(w, http.StatusInternalServerError, "failed to trigger event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event":   ev,
		"matched": matched,
	})
}
