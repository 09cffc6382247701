package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hookline/hookline/internal/models"
)

type SQLiteStorage struct {
	db           *sql.DB
	historyLimit int
}

func NewSQLite(path string, historyLimit int) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &SQLiteStorage{db: db, historyLimit: historyLimit}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			api_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL DEFAULT '',
			event_types TEXT NOT NULL DEFAULT '[]',
			max_retries INTEGER NOT NULL DEFAULT 3,
			rate_limit INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_triggered_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			next_retry_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			delivery_id TEXT NOT NULL,
			endpoint_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tenants_api_key ON tenants(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_tenant ON endpoints(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant ON events(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_event ON deliveries(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(status, next_retry_at) WHERE status IN ('pending', 'retrying')`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_endpoint ON attempts(endpoint_id, id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Tenants ---

func (s *SQLiteStorage) CreateTenant(ctx context.Context, t *models.Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, api_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.APIKey, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.APIKey, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &t, err
}

func (s *SQLiteStorage) GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM tenants WHERE api_key = ?`, apiKey,
	).Scan(&t.ID, &t.Name, &t.APIKey, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &t, err
}

func (s *SQLiteStorage) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, api_key, created_at, updated_at FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.APIKey, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *SQLiteStorage) DeleteTenant(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) UpdateTenantAPIKey(ctx context.Context, id, newKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET api_key = ?, updated_at = ? WHERE id = ?`,
		newKey, time.Now().UTC(), id,
	)
	return err
}

// --- Endpoints ---

const endpointColumns = `id, tenant_id, url, description, secret, event_types, max_retries, rate_limit, active, failure_count, last_triggered_at, created_at, updated_at`

func (s *SQLiteStorage) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	eventTypes, _ := json.Marshal(ep.EventTypes)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (`+endpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.TenantID, ep.URL, ep.Description, ep.Secret, string(eventTypes),
		ep.MaxRetries, ep.RateLimit, boolToInt(ep.Active), ep.FailureCount, ep.LastTriggeredAt,
		ep.CreatedAt, ep.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanEndpoint(row interface{ Scan(...interface{}) error }) (*models.Endpoint, error) {
	var ep models.Endpoint
	var eventTypes string
	var active int
	err := row.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Description, &ep.Secret, &eventTypes,
		&ep.MaxRetries, &ep.RateLimit, &active, &ep.FailureCount, &ep.LastTriggeredAt,
		&ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(eventTypes), &ep.EventTypes)
	ep.Active = active == 1
	return &ep, nil
}

func (s *SQLiteStorage) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE id = ?`, id)
	ep, err := s.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *SQLiteStorage) ListEndpoints(ctx context.Context, tenantID string) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStorage) UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	eventTypes, _ := json.Marshal(ep.EventTypes)
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET url = ?, description = ?, secret = ?, event_types = ?, max_retries = ?, rate_limit = ?, active = ?, updated_at = ? WHERE id = ?`,
		ep.URL, ep.Description, ep.Secret, string(eventTypes), ep.MaxRetries, ep.RateLimit,
		boolToInt(ep.Active), time.Now().UTC(), ep.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ToggleEndpoint(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) MatchEndpoints(ctx context.Context, tenantID, eventType string) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE tenant_id = ? AND active = 1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		if MatchesEventType(ep.EventTypes, eventType) {
			endpoints = append(endpoints, *ep)
		}
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStorage) MarkEndpointSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET failure_count = 0, last_triggered_at = ?, updated_at = ? WHERE id = ?`,
		at, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) MarkEndpointFailure(ctx context.Context, id string) (int, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET failure_count = failure_count + 1, last_triggered_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT failure_count FROM endpoints WHERE id = ?`, id).Scan(&count)
	return count, err
}

// --- Events ---

func (s *SQLiteStorage) CreateEvent(ctx context.Context, ev *models.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, tenant_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.TenantID, ev.EventType, string(ev.Payload), ev.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var ev models.Event
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, event_type, payload, created_at FROM events WHERE id = ?`, id,
	).Scan(&ev.ID, &ev.TenantID, &ev.EventType, &payload, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	ev.Payload = json.RawMessage(payload)
	return &ev, err
}

// --- Deliveries ---

func (s *SQLiteStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, event_id, endpoint_id, status, attempt_count, next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EventID, d.EndpointID, d.Status, d.AttemptCount, d.NextRetryAt, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	var d models.Delivery
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, endpoint_id, status, attempt_count, next_retry_at, created_at, updated_at FROM deliveries WHERE id = ?`, id,
	).Scan(&d.ID, &d.EventID, &d.EndpointID, &d.Status, &d.AttemptCount, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &d, err
}

func (s *SQLiteStorage) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, attempt_count = ?, next_retry_at = ?, updated_at = ? WHERE id = ?`,
		d.Status, d.AttemptCount, d.NextRetryAt, time.Now().UTC(), d.ID,
	)
	return err
}

func (s *SQLiteStorage) GetDueDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, endpoint_id, status, attempt_count, next_retry_at, created_at, updated_at
		 FROM deliveries
		 WHERE status IN ('pending', 'retrying') AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		var d models.Delivery
		if err := rows.Scan(&d.ID, &d.EventID, &d.EndpointID, &d.Status, &d.AttemptCount, &d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// --- Attempts ---

func (s *SQLiteStorage) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, delivery_id, endpoint_id, event_id, attempt_number, status_code, response_body, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DeliveryID, a.EndpointID, a.EventID, a.AttemptNumber, a.StatusCode, a.ResponseBody, a.LatencyMs, a.Error, a.CreatedAt,
	)
	if err != nil {
		return err
	}
	// Evict history beyond the per-endpoint cap. Attempt IDs are ULIDs, so
	// ordering by id is ordering by creation time.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM attempts WHERE endpoint_id = ? AND id NOT IN (
			SELECT id FROM attempts WHERE endpoint_id = ? ORDER BY id DESC LIMIT ?
		)`,
		a.EndpointID, a.EndpointID, s.historyLimit,
	)
	return err
}

func (s *SQLiteStorage) ListAttemptsByEndpoint(ctx context.Context, endpointID string, limit int) ([]models.Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, delivery_id, endpoint_id, event_id, attempt_number, status_code, response_body, latency_ms, error, created_at
		 FROM attempts WHERE endpoint_id = ? ORDER BY id DESC LIMIT ?`, endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.EndpointID, &a.EventID, &a.AttemptNumber, &a.StatusCode, &a.ResponseBody, &a.LatencyMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *SQLiteStorage) GetEndpointStats(ctx context.Context, endpointID string) (*models.EndpointStats, error) {
	stats := &models.EndpointStats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN error = '' AND status_code >= 200 AND status_code < 300 THEN 1 ELSE 0 END), 0)
		 FROM attempts WHERE endpoint_id = ?`, endpointID,
	).Scan(&stats.TotalDeliveries, &stats.SuccessfulDeliveries)
	if err != nil {
		return nil, err
	}
	stats.FailedDeliveries = stats.TotalDeliveries - stats.SuccessfulDeliveries
	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SuccessfulDeliveries) / float64(stats.TotalDeliveries)
	}
	return stats, nil
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE tenant_id = ?`, tenantID).Scan(&stats.TotalEvents)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries d JOIN events e ON d.event_id = e.id WHERE e.tenant_id = ?`, tenantID).Scan(&stats.TotalDeliveries)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries d JOIN events e ON d.event_id = e.id WHERE e.tenant_id = ? AND d.status = 'success'`, tenantID).Scan(&stats.SuccessCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries d JOIN events e ON d.event_id = e.id WHERE e.tenant_id = ? AND d.status = 'failed'`, tenantID).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries d JOIN events e ON d.event_id = e.id WHERE e.tenant_id = ? AND d.status IN ('pending', 'retrying')`, tenantID).Scan(&stats.PendingCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM endpoints WHERE tenant_id = ?`, tenantID).Scan(&stats.TotalEndpoints)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM endpoints WHERE tenant_id = ? AND active = 1`, tenantID).Scan(&stats.ActiveEndpoints)

	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalDeliveries)
	}
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
