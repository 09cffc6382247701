package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/models"
)

// MemoryStorage keeps everything in process-local maps. It is the default
// driver for development and tests; records do not survive a restart.
type MemoryStorage struct {
	mu           sync.Mutex
	tenants      map[string]*models.Tenant
	endpoints    map[string]*models.Endpoint
	events       map[string]*models.Event
	deliveries   map[string]*models.Delivery
	attempts     map[string][]models.Attempt // endpoint id -> bounded ring, oldest first
	historyLimit int
}

func NewMemory(historyLimit int) *MemoryStorage {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &MemoryStorage{
		tenants:      map[string]*models.Tenant{},
		endpoints:    map[string]*models.Endpoint{},
		events:       map[string]*models.Event{},
		deliveries:   map[string]*models.Delivery{},
		attempts:     map[string][]models.Attempt{},
		historyLimit: historyLimit,
	}
}

func (m *MemoryStorage) Migrate(ctx context.Context) error { return nil }
func (m *MemoryStorage) Close() error                      { return nil }

// --- Tenants ---

func (m *MemoryStorage) CreateTenant(ctx context.Context, t *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStorage) GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.APIKey == apiKey {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) DeleteTenant(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, id)
	return nil
}

func (m *MemoryStorage) UpdateTenantAPIKey(ctx context.Context, id, newKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		t.APIKey = newKey
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// --- Endpoints ---

func (m *MemoryStorage) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ep
	m.endpoints[ep.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep, ok := m.endpoints[id]; ok {
		cp := *ep
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStorage) ListEndpoints(ctx context.Context, tenantID string) ([]models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Endpoint
	for _, ep := range m.endpoints {
		if ep.TenantID == tenantID {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.endpoints[ep.ID]
	if !ok {
		return nil
	}
	cur.URL = ep.URL
	cur.Description = ep.Description
	cur.Secret = ep.Secret
	cur.EventTypes = append([]string(nil), ep.EventTypes...)
	cur.MaxRetries = ep.MaxRetries
	cur.RateLimit = ep.RateLimit
	cur.Active = ep.Active
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) DeleteEndpoint(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, id)
	delete(m.attempts, id)
	return nil
}

func (m *MemoryStorage) ToggleEndpoint(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep, ok := m.endpoints[id]; ok {
		ep.Active = active
		ep.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStorage) MatchEndpoints(ctx context.Context, tenantID, eventType string) ([]models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Endpoint
	for _, ep := range m.endpoints {
		if ep.TenantID == tenantID && ep.Active && MatchesEventType(ep.EventTypes, eventType) {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) MarkEndpointSuccess(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep, ok := m.endpoints[id]; ok {
		ep.FailureCount = 0
		ep.LastTriggeredAt = &at
		ep.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStorage) MarkEndpointFailure(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return 0, nil
	}
	now := time.Now().UTC()
	ep.FailureCount++
	ep.LastTriggeredAt = &now
	ep.UpdatedAt = now
	return ep.FailureCount, nil
}

// --- Events ---

func (m *MemoryStorage) CreateEvent(ctx context.Context, ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[id]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, nil
}

// --- Deliveries ---

func (m *MemoryStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStorage) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.UpdatedAt = time.Now().UTC()
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetDueDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var out []models.Delivery
	for _, d := range m.deliveries {
		if d.Status != models.DeliveryPending && d.Status != models.DeliveryRetrying {
			continue
		}
		if d.NextRetryAt != nil && d.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Attempts ---

func (m *MemoryStorage) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ring := append(m.attempts[a.EndpointID], *a)
	if len(ring) > m.historyLimit {
		ring = ring[len(ring)-m.historyLimit:]
	}
	m.attempts[a.EndpointID] = ring
	return nil
}

func (m *MemoryStorage) ListAttemptsByEndpoint(ctx context.Context, endpointID string, limit int) ([]models.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	ring := m.attempts[endpointID]
	// newest first
	out := make([]models.Attempt, 0, limit)
	for i := len(ring) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

func (m *MemoryStorage) GetEndpointStats(ctx context.Context, endpointID string) (*models.EndpointStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.EndpointStats{}
	for _, a := range m.attempts[endpointID] {
		stats.TotalDeliveries++
		if a.Error == "" && a.StatusCode >= 200 && a.StatusCode < 300 {
			stats.SuccessfulDeliveries++
		}
	}
	stats.FailedDeliveries = stats.TotalDeliveries - stats.SuccessfulDeliveries
	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SuccessfulDeliveries) / float64(stats.TotalDeliveries)
	}
	return stats, nil
}

// --- Stats ---

func (m *MemoryStorage) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &Stats{}

	eventIDs := map[string]bool{}
	for _, ev := range m.events {
		if ev.TenantID == tenantID {
			eventIDs[ev.ID] = true
			stats.TotalEvents++
		}
	}
	for _, d := range m.deliveries {
		if !eventIDs[d.EventID] {
			continue
		}
		stats.TotalDeliveries++
		switch d.Status {
		case models.DeliverySuccess:
			stats.SuccessCount++
		case models.DeliveryFailed:
			stats.FailedCount++
		default:
			stats.PendingCount++
		}
	}
	for _, ep := range m.endpoints {
		if ep.TenantID == tenantID {
			stats.TotalEndpoints++
			if ep.Active {
				stats.ActiveEndpoints++
			}
		}
	}
	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalDeliveries)
	}
	return stats, nil
}
