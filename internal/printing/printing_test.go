package printing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/enum"
)

type mockSettingsStore struct {
	calls    int
	settings database.PrintSettings
	err      error
}

func (m *mockSettingsStore) GetPrintSettings(ctx context.Context, restaurantID uuid.UUID) (database.PrintSettings, error) {
	m.calls++
	return m.settings, m.err
}

func sampleOrder(rid uuid.UUID) database.Order {
	key := "T2"
	return database.Order{
		ID:           "ord-1",
		RestaurantID: rid,
		Number:       12,
		ServiceKind:  enum.ServiceKindDining,
		ZoneID:       "terrace",
		SessionKey:   &key,
	}
}

func sampleLines() []database.OrderLine {
	note := "no ice"
	return []database.OrderLine{
		{Name: "Coke", UnitPrice: decimal.NewFromInt(2), Quantity: 2, Note: &note},
	}
}

func TestDeliverPostsJob(t *testing.T) {
	var got Job
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode job: %v", err)
		}
	}))
	defer srv.Close()

	rid := uuid.New()
	store := &mockSettingsStore{settings: database.PrintSettings{
		RestaurantID:   rid,
		PrinterAddress: "192.168.1.50:9100",
		GatewayAddress: srv.URL,
	}}
	c := NewClient(store, "fallback:9100", "http://fallback")

	if err := c.Deliver(context.Background(), sampleOrder(rid), sampleLines()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if path != "/print" {
		t.Errorf("path: got %s, want /print", path)
	}
	if got.PrinterAddress != "192.168.1.50:9100" {
		t.Errorf("printer address: got %s", got.PrinterAddress)
	}
	if got.OrderNumber != 12 || got.ServiceKind != enum.ServiceKindDining {
		t.Errorf("job header: %+v", got)
	}
	if got.TableInfo == nil || *got.TableInfo != "terrace / T2" {
		t.Errorf("table info: %v", got.TableInfo)
	}
	if got.TimestampMillis == 0 {
		t.Error("timestamp missing")
	}
	if len(got.Items) != 1 || got.Items[0].Name != "Coke" || got.Items[0].Quantity != 2 {
		t.Errorf("items: %+v", got.Items)
	}
	if got.Items[0].Note == nil || *got.Items[0].Note != "no ice" {
		t.Errorf("note: %v", got.Items[0].Note)
	}
}

func TestDeliverGatewayErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rid := uuid.New()
	store := &mockSettingsStore{settings: database.PrintSettings{GatewayAddress: srv.URL}}
	c := NewClient(store, "", "")

	if err := c.Deliver(context.Background(), sampleOrder(rid), sampleLines()); err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestSettingsAreCachedUntilTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	rid := uuid.New()
	store := &mockSettingsStore{settings: database.PrintSettings{GatewayAddress: srv.URL}}
	c := NewClient(store, "", "")

	current := time.Now()
	c.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if err := c.Deliver(context.Background(), sampleOrder(rid), sampleLines()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if store.calls != 1 {
		t.Errorf("settings fetched %d times within TTL, want 1", store.calls)
	}

	current = current.Add(settingsTTL + time.Second)
	if err := c.Deliver(context.Background(), sampleOrder(rid), sampleLines()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("expired cache entry not refreshed: %d calls", store.calls)
	}
}

func TestMissingSettingsFallBackToDefaults(t *testing.T) {
	var got Job
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
	}))
	defer srv.Close()

	store := &mockSettingsStore{err: pgx.ErrNoRows}
	c := NewClient(store, "default:9100", srv.URL)

	order := sampleOrder(uuid.New())
	order.SessionKey = nil // takeaway has no table
	if err := c.Deliver(context.Background(), order, sampleLines()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.PrinterAddress != "default:9100" {
		t.Errorf("printer address: got %s, want the default", got.PrinterAddress)
	}
	if got.TableInfo != nil {
		t.Errorf("table info should be absent without a table key: %v", got.TableInfo)
	}
}
