// Package delivery implements the webhook delivery engine: event trigger
// and fan-out, the due-delivery worker pool, signed HTTP sends, and the
// retry/backoff/disable state machine.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/storage"
)

// TestEventType tags the synthetic event sent by TestEndpoint.
const TestEventType = "webhook.test"

var (
	ErrEndpointNotFound  = errors.New("endpoint not found")
	ErrEventTypeRequired = errors.New("event type is required")
	ErrInvalidPayload    = errors.New("payload must be valid JSON")
)

// Engine is the entry point business logic uses to broadcast events. It is
// constructed once at process start and handed to the HTTP layer; all state
// lives in the injected storage.
type Engine struct {
	store  storage.Storage
	sender *Sender
	log    zerolog.Logger
}

func NewEngine(store storage.Storage, sender *Sender, log zerolog.Logger) *Engine {
	return &Engine{store: store, sender: sender, log: log}
}

// Trigger records an event and fans it out to every matching active
// endpoint as a pending delivery. Triggering is fire-and-forget: delivery
// failures never surface here, only persistence errors do.
func (e *Engine) Trigger(ctx context.Context, tenantID, eventType string, payload json.RawMessage) (*models.Event, int, error) {
	if eventType == "" {
		return nil, 0, ErrEventTypeRequired
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, 0, ErrInvalidPayload
	}

	now := time.Now().UTC()
	ev := &models.Event{
		ID:        models.NewID("evt"),
		TenantID:  tenantID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := e.store.CreateEvent(ctx, ev); err != nil {
		return nil, 0, fmt.Errorf("failed to persist event: %w", err)
	}

	endpoints, err := e.store.MatchEndpoints(ctx, tenantID, eventType)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to match endpoints: %w", err)
	}

	matched := 0
	for _, ep := range endpoints {
		d := &models.Delivery{
			ID:         models.NewID("dlv"),
			EventID:    ev.ID,
			EndpointID: ep.ID,
			Status:     models.DeliveryPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.store.CreateDelivery(ctx, d); err != nil {
			e.log.Error().Err(err).Str("event_id", ev.ID).Str("endpoint_id", ep.ID).Msg("failed to create delivery")
			continue
		}
		matched++
	}

	e.log.Debug().
		Str("event_id", ev.ID).
		Str("event_type", eventType).
		Int("matched", matched).
		Msg("event triggered")
	return ev, matched, nil
}

// TestResult reports the outcome of one manual test delivery.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TestEndpoint performs exactly one synthetic delivery attempt against the
// endpoint so an owner can validate reachability. The attempt is recorded
// in history; the failure counter and active flag stay untouched, so a
// failing test never pushes a healthy endpoint toward deactivation.
func (e *Engine) TestEndpoint(ctx context.Context, id string) (*TestResult, error) {
	ep, err := e.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, ErrEndpointNotFound
	}

	now := time.Now().UTC()
	ev := &models.Event{
		ID:        models.NewID("evt"),
		TenantID:  ep.TenantID,
		EventType: TestEventType,
		Payload:   json.RawMessage(fmt.Sprintf(`{"test":true,"endpoint_id":%q}`, ep.ID)),
		CreatedAt: now,
	}

	result := e.sender.Send(ctx, ep, ev)

	attempt := &models.Attempt{
		ID:            models.NewID("att"),
		DeliveryID:    "",
		EndpointID:    ep.ID,
		EventID:       ev.ID,
		AttemptNumber: 1,
		StatusCode:    result.StatusCode,
		ResponseBody:  result.ResponseBody,
		LatencyMs:     result.LatencyMs,
		Error:         result.Error,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.CreateAttempt(ctx, attempt); err != nil {
		e.log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("failed to record test attempt")
	}
	observeAttempt(TestEventType, result)

	tr := &TestResult{Success: result.Succeeded(), StatusCode: result.StatusCode, Error: result.Error}
	return tr, nil
}

// EndpointStats returns the success/failure summary over the endpoint's
// recorded attempt history.
func (e *Engine) EndpointStats(ctx context.Context, id string) (*models.EndpointStats, error) {
	ep, err := e.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, ErrEndpointNotFound
	}
	return e.store.GetEndpointStats(ctx, id)
}
