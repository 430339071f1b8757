// Package session binds a physical session (dining table or takeaway
// ticket) to exactly one live order, and allocates the human-facing order
// numbers that go with new orders.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/enum"
)

const maxResolveRetries = 3

var (
	ErrInvalidServiceKind = errors.New("invalid service_kind")
	ErrResolveContention  = errors.New("session resolution kept losing races, retry")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RegistryStore defines the DB methods the registry needs.
// Satisfied by *database.Queries (and its WithTx variant).
type RegistryStore interface {
	GetSessionBinding(ctx context.Context, arg database.SessionBindingParams) (database.SessionBinding, error)
	InsertSessionBinding(ctx context.Context, b database.SessionBinding) (bool, error)
	DeleteSessionBinding(ctx context.Context, arg database.SessionBindingParams) error
	NextOrderNumber(ctx context.Context, restaurantID uuid.UUID) (int64, error)
	InsertOrder(ctx context.Context, arg database.InsertOrderParams) error
	GetOrder(ctx context.Context, id string) (database.Order, error)
	ListOrderLines(ctx context.Context, orderID string) ([]database.OrderLine, error)
}

// NewRegistryStore creates a RegistryStore from a DBTX (pool or tx).
type NewRegistryStore func(db database.DBTX) RegistryStore

// ResolveParams identifies the session to resolve.
type ResolveParams struct {
	RestaurantID uuid.UUID
	SessionKey   string
	ServiceKind  string
	ZoneID       string
}

// Registry maps session keys to live orders and creates orders lazily on
// first resolve.
type Registry struct {
	pool     TxBeginner
	store    RegistryStore
	newStore NewRegistryStore
	now      func() time.Time
}

func NewRegistry(pool TxBeginner, store RegistryStore, newStore NewRegistryStore) *Registry {
	return &Registry{pool: pool, store: store, newStore: newStore, now: time.Now}
}

// Resolve returns the session's live order, creating it when the session
// has none. Two concurrent resolves for the same key commit exactly one
// order: the order and its binding are written in one transaction whose
// binding insert detects a lost race, and the loser re-reads the winner's
// binding.
func (r *Registry) Resolve(ctx context.Context, p ResolveParams) (database.Order, error) {
	if !enum.IsValidServiceKind(p.ServiceKind) {
		return database.Order{}, ErrInvalidServiceKind
	}

	key := database.SessionBindingParams{RestaurantID: p.RestaurantID, SessionKey: p.SessionKey}
	for attempt := 0; attempt < maxResolveRetries; attempt++ {
		binding, err := r.store.GetSessionBinding(ctx, key)
		switch {
		case err == nil:
			order, err := r.loadOrder(ctx, binding.OrderID)
			if err == nil {
				return order, nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return database.Order{}, fmt.Errorf("load bound order: %w", err)
			}
			// Orphan binding: it references an order that does not exist.
			// Repair locally and fall through to creation.
			if err := r.store.DeleteSessionBinding(ctx, key); err != nil {
				return database.Order{}, fmt.Errorf("repair orphan binding: %w", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
			// No binding yet; create below.
		default:
			return database.Order{}, fmt.Errorf("get session binding: %w", err)
		}

		order, created, err := r.createTx(ctx, p)
		if err != nil {
			return database.Order{}, err
		}
		if created {
			return order, nil
		}
		// A concurrent resolve won; loop to pick up its binding.
	}
	return database.Order{}, ErrResolveContention
}

// Clear removes the session's binding. The order itself is retained for
// audit.
func (r *Registry) Clear(ctx context.Context, restaurantID uuid.UUID, sessionKey string) error {
	return r.store.DeleteSessionBinding(ctx, database.SessionBindingParams{
		RestaurantID: restaurantID,
		SessionKey:   sessionKey,
	})
}

func (r *Registry) createTx(ctx context.Context, p ResolveParams) (database.Order, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := r.newStore(tx)

	number, err := NewAllocator(store).Next(ctx, p.RestaurantID)
	if err != nil {
		return database.Order{}, false, err
	}

	now := r.now().UTC()
	var sessionKey *string
	if p.ServiceKind == enum.ServiceKindDining {
		sessionKey = &p.SessionKey
	}
	order := database.Order{
		ID:           NewOrderID(now),
		RestaurantID: p.RestaurantID,
		Number:       number,
		ServiceKind:  p.ServiceKind,
		ZoneID:       p.ZoneID,
		SessionKey:   sessionKey,
		Status:       enum.OrderStatusPending,
		CreatedAt:    now,
		Lines:        []database.OrderLine{},
	}
	if err := store.InsertOrder(ctx, database.InsertOrderParams{
		ID:           order.ID,
		RestaurantID: order.RestaurantID,
		Number:       order.Number,
		ServiceKind:  order.ServiceKind,
		ZoneID:       order.ZoneID,
		SessionKey:   order.SessionKey,
		Status:       order.Status,
		CreatedAt:    order.CreatedAt,
	}); err != nil {
		return database.Order{}, false, fmt.Errorf("insert order: %w", err)
	}

	inserted, err := store.InsertSessionBinding(ctx, database.SessionBinding{
		RestaurantID: p.RestaurantID,
		SessionKey:   p.SessionKey,
		OrderID:      order.ID,
	})
	if err != nil {
		return database.Order{}, false, fmt.Errorf("insert session binding: %w", err)
	}
	if !inserted {
		// Lost the creation race; rolling back also discards our order.
		return database.Order{}, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, false, fmt.Errorf("commit tx: %w", err)
	}
	return order, true, nil
}

func (r *Registry) loadOrder(ctx context.Context, orderID string) (database.Order, error) {
	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return database.Order{}, err
	}
	lines, err := r.store.ListOrderLines(ctx, orderID)
	if err != nil {
		return database.Order{}, err
	}
	if lines == nil {
		lines = []database.OrderLine{}
	}
	order.Lines = lines
	return order, nil
}

// NewOrderID builds a time-based, collision-resistant order id:
// UTC date, time and nanoseconds.
func NewOrderID(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("ord-%s-%09d", t.Format("20060102-150405"), t.Nanosecond())
}
