package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hookline/hookline/internal/models"
)

func TestMatchesEventType(t *testing.T) {
	cases := []struct {
		subscribed []string
		eventType  string
		want       bool
	}{
		{[]string{"invoice.paid"}, "invoice.paid", true},
		{[]string{"invoice.paid"}, "invoice.voided", false},
		{[]string{"invoice.*"}, "invoice.paid", true},
		{[]string{"invoice.*"}, "invoices.paid", false},
		{[]string{"*"}, "anything.at.all", true},
		{nil, "invoice.paid", false},
	}
	for _, c := range cases {
		if got := MatchesEventType(c.subscribed, c.eventType); got != c.want {
			t.Errorf("MatchesEventType(%v, %q) = %v, want %v", c.subscribed, c.eventType, got, c.want)
		}
	}
}

func TestMatchEndpointsFiltersOwnerActiveAndType(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Now().UTC()

	mk := func(id, tenant string, active bool, types ...string) {
		m.CreateEndpoint(ctx, &models.Endpoint{
			ID: id, TenantID: tenant, URL: "https://example.com/hook",
			EventTypes: types, Active: active, CreatedAt: now, UpdatedAt: now,
		})
		now = now.Add(time.Millisecond)
	}
	mk("ep_1", "tn_a", true, "order.created")
	mk("ep_2", "tn_a", false, "order.created")
	mk("ep_3", "tn_b", true, "order.created")
	mk("ep_4", "tn_a", true, "order.*")

	got, err := m.MatchEndpoints(ctx, "tn_a", "order.created")
	if err != nil {
		t.Fatalf("MatchEndpoints: %v", err)
	}
	if len(got) != 2 || got[0].ID != "ep_1" || got[1].ID != "ep_4" {
		t.Fatalf("unexpected matches: %+v", got)
	}
}

func TestAttemptHistoryRingEvictsOldest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(5)

	for i := 1; i <= 8; i++ {
		m.CreateAttempt(ctx, &models.Attempt{
			ID: fmt.Sprintf("att_%03d", i), EndpointID: "ep_1", DeliveryID: "dlv_1",
			AttemptNumber: i, StatusCode: 200, CreatedAt: time.Now().UTC(),
		})
	}

	attempts, err := m.ListAttemptsByEndpoint(ctx, "ep_1", 100)
	if err != nil {
		t.Fatalf("ListAttemptsByEndpoint: %v", err)
	}
	if len(attempts) != 5 {
		t.Fatalf("expected ring of 5, got %d", len(attempts))
	}
	if attempts[0].ID != "att_008" || attempts[4].ID != "att_004" {
		t.Fatalf("expected newest-first with oldest evicted, got %s..%s", attempts[0].ID, attempts[4].ID)
	}
}

func TestGetDueDeliveries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	m.CreateDelivery(ctx, &models.Delivery{ID: "dlv_1", Status: models.DeliveryPending, CreatedAt: now})
	m.CreateDelivery(ctx, &models.Delivery{ID: "dlv_2", Status: models.DeliveryRetrying, NextRetryAt: &past, CreatedAt: now.Add(time.Second)})
	m.CreateDelivery(ctx, &models.Delivery{ID: "dlv_3", Status: models.DeliveryRetrying, NextRetryAt: &future, CreatedAt: now})
	m.CreateDelivery(ctx, &models.Delivery{ID: "dlv_4", Status: models.DeliverySuccess, CreatedAt: now})

	due, err := m.GetDueDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("GetDueDeliveries: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due deliveries, got %d: %+v", len(due), due)
	}
	if due[0].ID != "dlv_1" || due[1].ID != "dlv_2" {
		t.Fatalf("expected FIFO order dlv_1, dlv_2, got %s, %s", due[0].ID, due[1].ID)
	}
}

func TestEndpointStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	add := func(id string, code int, errMsg string) {
		m.CreateAttempt(ctx, &models.Attempt{
			ID: id, EndpointID: "ep_1", StatusCode: code, Error: errMsg, CreatedAt: time.Now().UTC(),
		})
	}
	add("att_1", 200, "")
	add("att_2", 204, "")
	add("att_3", 500, "")
	add("att_4", 0, "connection refused")

	stats, err := m.GetEndpointStats(ctx, "ep_1")
	if err != nil {
		t.Fatalf("GetEndpointStats: %v", err)
	}
	if stats.TotalDeliveries != 4 || stats.SuccessfulDeliveries != 2 || stats.FailedDeliveries != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", stats.SuccessRate)
	}
}

func TestEndpointFailureStateTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Now().UTC()

	m.CreateEndpoint(ctx, &models.Endpoint{ID: "ep_1", TenantID: "tn_a", Active: true, CreatedAt: now, UpdatedAt: now})

	for want := 1; want <= 3; want++ {
		got, err := m.MarkEndpointFailure(ctx, "ep_1")
		if err != nil || got != want {
			t.Fatalf("MarkEndpointFailure = %d, %v; want %d", got, err, want)
		}
	}

	m.MarkEndpointSuccess(ctx, "ep_1", now)
	ep, _ := m.GetEndpoint(ctx, "ep_1")
	if ep.FailureCount != 0 {
		t.Fatalf("expected failure count reset, got %d", ep.FailureCount)
	}
	if ep.LastTriggeredAt == nil || !ep.LastTriggeredAt.Equal(now) {
		t.Fatalf("expected last-triggered %v, got %v", now, ep.LastTriggeredAt)
	}
}
