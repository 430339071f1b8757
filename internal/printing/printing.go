// Package printing delivers kitchen ticket jobs to the print gateway.
// Delivery is best-effort: callers treat failures as warnings, never as a
// reason to roll back an order write.
package printing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesa-pos/api/internal/database"
)

const settingsTTL = 5 * time.Minute

// SettingsStore reads per-restaurant print routing. Satisfied by
// *database.Queries.
type SettingsStore interface {
	GetPrintSettings(ctx context.Context, restaurantID uuid.UUID) (database.PrintSettings, error)
}

// Job is the payload posted to the gateway's /print endpoint.
type Job struct {
	PrinterAddress  string    `json:"printer_address"`
	RestaurantID    uuid.UUID `json:"restaurant_id"`
	ServiceKind     string    `json:"service_kind"`
	OrderNumber     int64     `json:"order_number"`
	TableInfo       *string   `json:"table_info,omitempty"`
	TimestampMillis int64     `json:"timestamp_millis"`
	Items           []JobItem `json:"items"`
}

// JobItem is one freshly added line on the ticket.
type JobItem struct {
	Name              string                     `json:"name"`
	Quantity          int32                      `json:"quantity"`
	Note              *string                    `json:"note,omitempty"`
	ComposedSelection database.ComposedSelection `json:"composed_selection,omitempty"`
}

type cacheEntry struct {
	settings  database.PrintSettings
	fetchedAt time.Time
}

// Client posts print jobs to the gateway, resolving each restaurant's
// printer and gateway address from print_settings with a TTL cache and
// configured fallbacks.
type Client struct {
	store           SettingsStore
	http            *http.Client
	defaultPrinter  string
	defaultGateway  string
	mu              sync.Mutex
	cache           map[uuid.UUID]cacheEntry
	now             func() time.Time
}

func NewClient(store SettingsStore, defaultPrinter, defaultGateway string) *Client {
	return &Client{
		store:          store,
		http:           &http.Client{Timeout: 10 * time.Second},
		defaultPrinter: defaultPrinter,
		defaultGateway: defaultGateway,
		cache:          make(map[uuid.UUID]cacheEntry),
		now:            time.Now,
	}
}

// Deliver posts a ticket for the added lines. Implements ledger.Printer.
func (c *Client) Deliver(ctx context.Context, order database.Order, added []database.OrderLine) error {
	settings := c.settings(ctx, order.RestaurantID)

	items := make([]JobItem, 0, len(added))
	for _, line := range added {
		items = append(items, JobItem{
			Name:              line.Name,
			Quantity:          line.Quantity,
			Note:              line.Note,
			ComposedSelection: line.ComposedSelection,
		})
	}

	job := Job{
		PrinterAddress:  settings.PrinterAddress,
		RestaurantID:    order.RestaurantID,
		ServiceKind:     order.ServiceKind,
		OrderNumber:     order.Number,
		TableInfo:       tableInfo(order),
		TimestampMillis: c.now().UnixMilli(),
		Items:           items,
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal print job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.GatewayAddress+"/print", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build print request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post print job: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("print gateway returned %d", resp.StatusCode)
	}
	return nil
}

// settings resolves the restaurant's routing, caching hits for
// settingsTTL and falling back to configured defaults when the row is
// missing or the read fails.
func (c *Client) settings(ctx context.Context, restaurantID uuid.UUID) database.PrintSettings {
	c.mu.Lock()
	entry, ok := c.cache[restaurantID]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < settingsTTL {
		return entry.settings
	}

	settings, err := c.store.GetPrintSettings(ctx, restaurantID)
	if err != nil {
		log.Printf("ERROR: load print settings for %s, using defaults: %v", restaurantID, err)
		settings = database.PrintSettings{
			RestaurantID:   restaurantID,
			PrinterAddress: c.defaultPrinter,
			GatewayAddress: c.defaultGateway,
		}
	}

	c.mu.Lock()
	c.cache[restaurantID] = cacheEntry{settings: settings, fetchedAt: c.now()}
	c.mu.Unlock()
	return settings
}

func tableInfo(order database.Order) *string {
	if order.SessionKey == nil {
		return nil
	}
	info := *order.SessionKey
	if order.ZoneID != "" {
		info = order.ZoneID + " / " + info
	}
	return &info
}
