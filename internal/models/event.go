package models

import (
	"encoding/json"
	"time"
)

// Event is a single triggered business occurrence, broadcast to every
// matching endpoint of its tenant. Immutable once created.
type Event struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
