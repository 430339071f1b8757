// Package coordinator orchestrates the session registry, the order ledger
// and the local carts into one coherent order workflow per session.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mesa-pos/api/internal/cart"
	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/enum"
	"github.com/mesa-pos/api/internal/ledger"
	"github.com/mesa-pos/api/internal/session"
)

// ErrUnknownLine means a cancel referenced neither a local cart line nor a
// durable order line.
var ErrUnknownLine = errors.New("line not found")

// Registry resolves sessions to live orders. Satisfied by
// *session.Registry.
type Registry interface {
	Resolve(ctx context.Context, p session.ResolveParams) (database.Order, error)
	Clear(ctx context.Context, restaurantID uuid.UUID, sessionKey string) error
}

// Ledger mutates and watches durable orders. Satisfied by *ledger.Ledger.
type Ledger interface {
	AddLines(ctx context.Context, orderID string, lines []ledger.NewLine) (database.Order, error)
	DeleteLine(ctx context.Context, orderID string, position int) (bool, error)
	UpdateStatus(ctx context.Context, orderID, status string) error
	Subscribe(ctx context.Context, orderID string) (<-chan database.Order, func(), error)
}

// Carts hands out the per-session cart store. Satisfied by *cart.Manager.
type Carts interface {
	ForSession(restaurantID uuid.UUID, sessionKey string) *cart.Store
}

// LineRef identifies a line to cancel: CartLineID for a local unsent line,
// OrderPosition for a durable one. Exactly one side is meaningful;
// CartLineID wins when set.
type LineRef struct {
	CartLineID    string
	OrderPosition int
}

// Coordinator drives the order lifecycle for one restaurant's sessions.
type Coordinator struct {
	registry Registry
	ledger   Ledger
	carts    Carts
}

func New(registry Registry, ledger Ledger, carts Carts) *Coordinator {
	return &Coordinator{registry: registry, ledger: ledger, carts: carts}
}

// Resolve returns the session's live order, creating it on first use.
func (c *Coordinator) Resolve(ctx context.Context, p session.ResolveParams) (database.Order, error) {
	return c.registry.Resolve(ctx, p)
}

// Cart returns the session's local cart store.
func (c *Coordinator) Cart(restaurantID uuid.UUID, sessionKey string) *cart.Store {
	return c.carts.ForSession(restaurantID, sessionKey)
}

// Watch resolves the session's order and subscribes to its changes. The
// returned func unsubscribes.
func (c *Coordinator) Watch(ctx context.Context, p session.ResolveParams) (database.Order, <-chan database.Order, func(), error) {
	order, err := c.registry.Resolve(ctx, p)
	if err != nil {
		return database.Order{}, nil, nil, err
	}
	ch, cancel, err := c.ledger.Subscribe(ctx, order.ID)
	if err != nil {
		return database.Order{}, nil, nil, err
	}
	return order, ch, cancel, nil
}

// Send pushes every pending cart line into the session's order. The cart
// is marked sent only after the ledger write succeeds; on failure it is
// left untouched so the user can retry without losing items. An empty cart
// sends nothing and returns the current order.
func (c *Coordinator) Send(ctx context.Context, p session.ResolveParams) (database.Order, error) {
	order, err := c.registry.Resolve(ctx, p)
	if err != nil {
		return database.Order{}, err
	}

	store := c.carts.ForSession(p.RestaurantID, p.SessionKey)
	pending := store.Pending()
	if len(pending) == 0 {
		return order, nil
	}

	updated, err := c.ledger.AddLines(ctx, order.ID, toNewLines(pending))
	if err != nil {
		return database.Order{}, fmt.Errorf("send pending lines: %w", err)
	}
	store.MarkAllPendingSent()
	return updated, nil
}

// CancelLine removes a local cart line, or soft-deletes a durable order
// line when the ref carries no cart line id.
func (c *Coordinator) CancelLine(ctx context.Context, p session.ResolveParams, ref LineRef) error {
	store := c.carts.ForSession(p.RestaurantID, p.SessionKey)

	if ref.CartLineID != "" {
		if _, ok := store.Get(ref.CartLineID); !ok {
			return ErrUnknownLine
		}
		// Removing a sent line here is local cleanup only; the durable
		// copy stays until deleted by position.
		store.Remove(ref.CartLineID)
		return nil
	}

	order, err := c.registry.Resolve(ctx, p)
	if err != nil {
		return err
	}
	deleted, err := c.ledger.DeleteLine(ctx, order.ID, ref.OrderPosition)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrUnknownLine
	}
	return nil
}

// Terminate closes the session: remaining pending lines are sent, the
// order is marked served, the binding is cleared, and finally the local
// cart is emptied. The ordering matters; a crash mid-sequence leaves
// unsent lines pending for the next open instead of losing them.
func (c *Coordinator) Terminate(ctx context.Context, p session.ResolveParams) (database.Order, error) {
	order, err := c.Send(ctx, p)
	if err != nil {
		return database.Order{}, err
	}

	if err := c.ledger.UpdateStatus(ctx, order.ID, enum.OrderStatusServed); err != nil {
		return database.Order{}, fmt.Errorf("mark order served: %w", err)
	}
	order.Status = enum.OrderStatusServed

	if err := c.registry.Clear(ctx, p.RestaurantID, p.SessionKey); err != nil {
		return database.Order{}, fmt.Errorf("clear session binding: %w", err)
	}
	c.carts.ForSession(p.RestaurantID, p.SessionKey).Clear()
	return order, nil
}

func toNewLines(pending []cart.Line) []ledger.NewLine {
	lines := make([]ledger.NewLine, 0, len(pending))
	for _, l := range pending {
		lines = append(lines, ledger.NewLine{
			Name:              l.Name,
			UnitPrice:         l.UnitPrice,
			Quantity:          l.Quantity,
			Note:              l.Note,
			ComposedSelection: l.ComposedSelection,
		})
	}
	return lines
}
