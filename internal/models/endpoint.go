package models

import "time"

// Endpoint is a webhook subscription: a target URL plus an event-type
// filter, a signing secret, and delivery health state. FailureCount counts
// consecutive failed attempts; once it reaches MaxRetries the endpoint is
// deactivated and requires explicit re-enablement by its owner.
type Endpoint struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	URL             string     `json:"url"`
	Description     string     `json:"description,omitempty"`
	Secret          string     `json:"secret,omitempty"`
	EventTypes      []string   `json:"event_types"`
	MaxRetries      int        `json:"max_retries"`
	RateLimit       int        `json:"rate_limit,omitempty"` // outbound sends per minute, 0 = unthrottled
	Active          bool       `json:"active"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
