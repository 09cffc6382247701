package storage

import (
	"context"
	"time"

	"github.com/hookline/hookline/internal/models"
)

// DefaultHistoryLimit caps the per-endpoint attempt history ring.
const DefaultHistoryLimit = 1000

// Storage owns tenants, endpoint subscriptions, triggered events, and the
// delivery/attempt state the engine drives. Lookups return (nil, nil) when
// the record does not exist.
type Storage interface {
	// Tenants
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	DeleteTenant(ctx context.Context, id string) error
	UpdateTenantAPIKey(ctx context.Context, id, newKey string) error

	// Endpoints
	CreateEndpoint(ctx context.Context, ep *models.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error)
	ListEndpoints(ctx context.Context, tenantID string) ([]models.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	ToggleEndpoint(ctx context.Context, id string, active bool) error
	// MatchEndpoints returns the tenant's active endpoints subscribed to
	// eventType (exact tag, "prefix.*", or "*").
	MatchEndpoints(ctx context.Context, tenantID, eventType string) ([]models.Endpoint, error)
	// MarkEndpointSuccess zeroes the consecutive failure count and stamps
	// the last-triggered time.
	MarkEndpointSuccess(ctx context.Context, id string, at time.Time) error
	// MarkEndpointFailure increments the consecutive failure count and
	// returns the new value.
	MarkEndpointFailure(ctx context.Context, id string) (int, error)

	// Events
	CreateEvent(ctx context.Context, ev *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)

	// Deliveries
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	// GetDueDeliveries returns pending/retrying deliveries whose
	// next_retry_at has passed (or was never set), oldest first.
	GetDueDeliveries(ctx context.Context, limit int) ([]models.Delivery, error)

	// Attempts. CreateAttempt also evicts the oldest records beyond the
	// per-endpoint history cap.
	CreateAttempt(ctx context.Context, a *models.Attempt) error
	ListAttemptsByEndpoint(ctx context.Context, endpointID string, limit int) ([]models.Attempt, error)
	GetEndpointStats(ctx context.Context, endpointID string) (*models.EndpointStats, error)

	// Tenant-wide stats
	GetStats(ctx context.Context, tenantID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalEvents     int64   `json:"total_events"`
	TotalDeliveries int64   `json:"total_deliveries"`
	SuccessCount    int64   `json:"success_count"`
	FailedCount     int64   `json:"failed_count"`
	PendingCount    int64   `json:"pending_count"`
	SuccessRate     float64 `json:"success_rate"`
	TotalEndpoints  int64   `json:"total_endpoints"`
	ActiveEndpoints int64   `json:"active_endpoints"`
}
