package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/signing"
)

const (
	// DefaultTimeout bounds one outbound delivery attempt.
	DefaultTimeout = 10 * time.Second

	headerEvent = "X-Webhook-Event"
	headerID    = "X-Webhook-ID"

	maxResponseBytes = 1024
)

type SendResult struct {
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Error        string
}

func (r *SendResult) Succeeded() bool {
	return r.Error == "" && IsSuccess(r.StatusCode)
}

// envelope is the outbound wire format.
type envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type Sender struct {
	client    *http.Client
	algorithm signing.Algorithm
	userAgent string
}

func NewSender(timeout time.Duration, algorithm signing.Algorithm) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if algorithm == "" {
		algorithm = signing.SHA256
	}
	return &Sender{
		client:    &http.Client{Timeout: timeout},
		algorithm: algorithm,
		userAgent: "hookline/1.0",
	}
}

// Send performs one delivery attempt: envelope, sign (when the endpoint has
// a secret), POST. The signature is recomputed per attempt, so retried
// deliveries carry fresh timestamps and nonces.
func (s *Sender) Send(ctx context.Context, ep *models.Endpoint, ev *models.Event) *SendResult {
	start := time.Now()

	body, err := json.Marshal(envelope{
		Event:     ev.EventType,
		Timestamp: ev.CreatedAt.UTC().Format(time.RFC3339),
		Data:      ev.Payload,
	})
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("failed to encode payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(headerEvent, ev.EventType)
	req.Header.Set(headerID, ev.ID)

	if ep.Secret != "" {
		sp, err := signing.Sign(body, ep.Secret, s.algorithm)
		if err != nil {
			return &SendResult{
				Error:     fmt.Sprintf("failed to sign payload: %v", err),
				LatencyMs: time.Since(start).Milliseconds(),
			}
		}
		signing.ApplyHeaders(req.Header, sp)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}
