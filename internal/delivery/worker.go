package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hookline/hookline/internal/metrics"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/ratelimit"
	"github.com/hookline/hookline/internal/storage"
)

type Worker struct {
	store         storage.Storage
	sender        *Sender
	limiter       *ratelimit.Limiter
	maxRetries    int
	retrySchedule []time.Duration
	log           zerolog.Logger
}

func NewWorker(store storage.Storage, sender *Sender, limiter *ratelimit.Limiter, maxRetries int, retrySchedule []time.Duration, log zerolog.Logger) *Worker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if len(retrySchedule) == 0 {
		retrySchedule = DefaultRetrySchedule
	}
	return &Worker{
		store:         store,
		sender:        sender,
		limiter:       limiter,
		maxRetries:    maxRetries,
		retrySchedule: retrySchedule,
		log:           log,
	}
}

func (w *Worker) maxRetriesFor(ep *models.Endpoint) int {
	if ep.MaxRetries > 0 {
		return ep.MaxRetries
	}
	return w.maxRetries
}

// Process runs the state machine for one due delivery. Endpoint existence
// and active state are re-checked here, immediately before sending: a
// retry scheduled before the endpoint was deleted or deactivated must not
// fire against it.
func (w *Worker) Process(ctx context.Context, d models.Delivery) {
	ev, err := w.store.GetEvent(ctx, d.EventID)
	if err != nil || ev == nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("event missing for delivery, abandoning")
		w.abandon(ctx, d)
		return
	}

	ep, err := w.store.GetEndpoint(ctx, d.EndpointID)
	if err != nil || ep == nil {
		w.log.Info().Str("delivery_id", d.ID).Msg("endpoint gone, abandoning delivery")
		w.abandon(ctx, d)
		return
	}
	if !ep.Active {
		w.log.Info().Str("delivery_id", d.ID).Str("endpoint_id", ep.ID).Msg("endpoint inactive, abandoning delivery")
		w.abandon(ctx, d)
		return
	}

	// Outbound throttle: a rate-limited endpoint defers the delivery to the
	// window reset without consuming an attempt.
	if ep.RateLimit > 0 && w.limiter != nil {
		res := w.limiter.Check(ctx, "endpoint:"+ep.ID, ep.RateLimit, time.Minute)
		if !res.Allowed {
			d.Status = models.DeliveryRetrying
			reset := res.ResetTime
			d.NextRetryAt = &reset
			if err := w.store.UpdateDelivery(ctx, &d); err != nil {
				w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to defer throttled delivery")
			}
			return
		}
	}

	result := w.sender.Send(ctx, ep, ev)
	d.AttemptCount++
	now := time.Now().UTC()

	attempt := &models.Attempt{
		ID:            models.NewID("att"),
		DeliveryID:    d.ID,
		EndpointID:    ep.ID,
		EventID:       ev.ID,
		AttemptNumber: d.AttemptCount,
		StatusCode:    result.StatusCode,
		ResponseBody:  result.ResponseBody,
		LatencyMs:     result.LatencyMs,
		Error:         result.Error,
		CreatedAt:     now,
	}
	if err := w.store.CreateAttempt(ctx, attempt); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record attempt")
	}
	observeAttempt(ev.EventType, result)

	if result.Succeeded() {
		d.Status = models.DeliverySuccess
		d.NextRetryAt = nil
		if err := w.store.MarkEndpointSuccess(ctx, ep.ID, now); err != nil {
			w.log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("failed to reset endpoint failure state")
		}
		w.log.Info().
			Str("delivery_id", d.ID).
			Int("status_code", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Msg("delivery succeeded")
	} else {
		failures, err := w.store.MarkEndpointFailure(ctx, ep.ID)
		if err != nil {
			w.log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("failed to record endpoint failure")
		}

		if d.AttemptCount >= w.maxRetriesFor(ep) {
			d.Status = models.DeliveryFailed
			d.NextRetryAt = nil
			if err := w.store.ToggleEndpoint(ctx, ep.ID, false); err != nil {
				w.log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("failed to deactivate endpoint")
			}
			metrics.EndpointsDisabled.Inc()
			w.log.Warn().
				Str("delivery_id", d.ID).
				Str("endpoint_id", ep.ID).
				Int("attempts", d.AttemptCount).
				Int("consecutive_failures", failures).
				Str("error", result.Error).
				Msg("delivery permanently failed, endpoint deactivated")
		} else {
			d.Status = models.DeliveryRetrying
			next := now.Add(NextRetryDelay(d.AttemptCount, w.retrySchedule))
			d.NextRetryAt = &next
			w.log.Info().
				Str("delivery_id", d.ID).
				Int("attempt", d.AttemptCount).
				Time("next_retry", next).
				Msg("delivery scheduled for retry")
		}
	}

	if err := w.store.UpdateDelivery(ctx, &d); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to update delivery")
	}
}

// abandon terminates a delivery that can never complete (event or endpoint
// gone, or endpoint deactivated) without recording an attempt.
func (w *Worker) abandon(ctx context.Context, d models.Delivery) {
	d.Status = models.DeliveryFailed
	d.NextRetryAt = nil
	if err := w.store.UpdateDelivery(ctx, &d); err != nil {
		w.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to abandon delivery")
	}
}

func observeAttempt(eventType string, result *SendResult) {
	outcome := "failure"
	if result.Succeeded() {
		outcome = "success"
	}
	metrics.WebhookDeliveries.WithLabelValues(eventType, outcome).Inc()
	metrics.WebhookLatency.WithLabelValues(eventType, outcome).Observe(float64(result.LatencyMs))
}
