package models

import "time"

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Delivery tracks the state machine for one (event, endpoint) pair.
// NextRetryAt doubles as the delayed-task queue: a delivery with
// status pending/retrying becomes due once NextRetryAt passes.
type Delivery struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	EndpointID   string         `json:"endpoint_id"`
	Status       DeliveryStatus `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Attempt is the per-try history record: one row per HTTP attempt,
// kept in a bounded per-endpoint ring (oldest evicted).
type Attempt struct {
	ID            string    `json:"id"`
	DeliveryID    string    `json:"delivery_id"`
	EndpointID    string    `json:"endpoint_id"`
	EventID       string    `json:"event_id"`
	AttemptNumber int       `json:"attempt_number"`
	StatusCode    int       `json:"status_code,omitempty"`
	ResponseBody  string    `json:"response_body,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EndpointStats summarizes the recorded attempt history of one endpoint.
// SuccessRate is computed over history, not over all attempts ever made,
// since history is capped.
type EndpointStats struct {
	TotalDeliveries      int64   `json:"totalDeliveries"`
	SuccessfulDeliveries int64   `json:"successfulDeliveries"`
	FailedDeliveries     int64   `json:"failedDeliveries"`
	SuccessRate          float64 `json:"successRate"`
}
