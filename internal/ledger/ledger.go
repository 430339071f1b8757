// Package ledger owns the durable order record: line merges, soft
// deletion, status updates, and change fan-out to subscribers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/enum"
)

const printTimeout = 10 * time.Second

// Errors returned by the ledger.
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrEmptyLines      = errors.New("lines are required")
	ErrInvalidQuantity = errors.New("quantity must be > 0")
	ErrInvalidStatus   = errors.New("invalid status")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LedgerStore defines the DB methods the ledger needs.
// Satisfied by *database.Queries (and its WithTx variant).
type LedgerStore interface {
	GetOrder(ctx context.Context, id string) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (database.Order, error)
	ListOrderLines(ctx context.Context, orderID string) ([]database.OrderLine, error)
	InsertOrderLine(ctx context.Context, line database.OrderLine) error
	SetOrderTotal(ctx context.Context, arg database.SetOrderTotalParams) error
	SetOrderStatus(ctx context.Context, arg database.SetOrderStatusParams) (bool, error)
	MarkOrderLineDeleted(ctx context.Context, arg database.MarkOrderLineDeletedParams) (bool, error)
}

// NewLedgerStore creates a LedgerStore from a DBTX (pool or tx).
type NewLedgerStore func(db database.DBTX) LedgerStore

// Printer delivers a kitchen ticket for freshly added lines. Failures are
// logged, never propagated: order correctness must not depend on printer
// availability.
type Printer interface {
	Deliver(ctx context.Context, order database.Order, added []database.OrderLine) error
}

// Sink receives the fresh order snapshot after every committed write.
// The websocket hub and the AMQP publisher plug in here.
type Sink interface {
	OrderChanged(order database.Order)
}

// NewLine is one incoming line for AddLines, before sanitizing.
type NewLine struct {
	Name              string
	UnitPrice         decimal.Decimal
	Quantity          int32
	Note              string
	ComposedSelection database.ComposedSelection
}

// Ledger mutates orders with read-modify-write transactions and fans the
// result out to subscribers after commit.
type Ledger struct {
	pool        TxBeginner
	store       LedgerStore
	newStore    NewLedgerStore
	broadcaster *Broadcaster
	printer     Printer
	sinks       []Sink
	now         func() time.Time
}

// NewLedger creates a Ledger. printer may be nil; sinks are optional.
func NewLedger(pool TxBeginner, store LedgerStore, newStore NewLedgerStore, printer Printer, sinks ...Sink) *Ledger {
	return &Ledger{
		pool:        pool,
		store:       store,
		newStore:    newStore,
		broadcaster: NewBroadcaster(),
		printer:     printer,
		sinks:       sinks,
		now:         time.Now,
	}
}

// AddLines appends sanitized lines to the order, recomputes the total over
// non-deleted lines, promotes a PENDING order to SENT, and stamps
// last_updated. The whole mutation runs under a row lock so concurrent
// writers to the same order serialize. After commit the fresh snapshot is
// fanned out and the print job fires in the background.
func (l *Ledger) AddLines(ctx context.Context, orderID string, lines []NewLine) (database.Order, error) {
	if len(lines) == 0 {
		return database.Order{}, ErrEmptyLines
	}
	for i, line := range lines {
		if line.Quantity <= 0 {
			return database.Order{}, fmt.Errorf("line[%d]: %w", i, ErrInvalidQuantity)
		}
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := l.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}

	existing, err := store.ListOrderLines(ctx, orderID)
	if err != nil {
		return database.Order{}, fmt.Errorf("list order lines: %w", err)
	}

	now := l.now().UTC()
	added := make([]database.OrderLine, 0, len(lines))
	for i, line := range lines {
		record := sanitizeLine(orderID, len(existing)+i, line)
		if err := store.InsertOrderLine(ctx, record); err != nil {
			return database.Order{}, fmt.Errorf("insert order line: %w", err)
		}
		added = append(added, record)
	}

	all := append(existing, added...)
	status := order.Status
	if status == enum.OrderStatusPending {
		status = enum.OrderStatusSent
	}
	total := activeTotal(all)
	if err := store.SetOrderTotal(ctx, database.SetOrderTotalParams{
		ID:          orderID,
		Total:       total,
		Status:      status,
		LastUpdated: now,
	}); err != nil {
		return database.Order{}, fmt.Errorf("set order total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	order.Status = status
	order.Total = total
	order.LastUpdated = &now
	order.Lines = all
	l.fanOut(order)
	l.printAsync(order, added)
	return order, nil
}

// DeleteLine soft-deletes the line at the given position and recomputes
// the total. Returns false when the order or line does not exist or the
// line is already deleted; not-found is not an error.
func (l *Ledger) DeleteLine(ctx context.Context, orderID string, position int) (bool, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := l.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get order: %w", err)
	}

	now := l.now().UTC()
	deleted, err := store.MarkOrderLineDeleted(ctx, database.MarkOrderLineDeletedParams{
		OrderID:   orderID,
		Position:  position,
		DeletedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("mark line deleted: %w", err)
	}
	if !deleted {
		return false, nil
	}

	lines, err := store.ListOrderLines(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("list order lines: %w", err)
	}
	if err := store.SetOrderTotal(ctx, database.SetOrderTotalParams{
		ID:          orderID,
		Total:       activeTotal(lines),
		Status:      order.Status,
		LastUpdated: now,
	}); err != nil {
		return false, fmt.Errorf("set order total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	order.Total = activeTotal(lines)
	order.LastUpdated = &now
	order.Lines = lines
	l.fanOut(order)
	return true, nil
}

// UpdateStatus sets the order status unconditionally and stamps
// last_updated. Transition legality is the caller's policy, not the
// ledger's.
func (l *Ledger) UpdateStatus(ctx context.Context, orderID, status string) error {
	if !enum.IsValidOrderStatus(status) {
		return ErrInvalidStatus
	}

	updated, err := l.store.SetOrderStatus(ctx, database.SetOrderStatusParams{
		ID:          orderID,
		Status:      status,
		LastUpdated: l.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	if !updated {
		return ErrOrderNotFound
	}

	order, err := l.Snapshot(ctx, orderID)
	if err != nil {
		log.Printf("ERROR: snapshot after status update for order %s: %v", orderID, err)
		return nil
	}
	l.fanOut(order)
	return nil
}

// Snapshot loads the order with its lines, normalizing absent lines to an
// empty slice.
func (l *Ledger) Snapshot(ctx context.Context, orderID string) (database.Order, error) {
	order, err := l.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	lines, err := l.store.ListOrderLines(ctx, orderID)
	if err != nil {
		return database.Order{}, fmt.Errorf("list order lines: %w", err)
	}
	if lines == nil {
		lines = []database.OrderLine{}
	}
	order.Lines = lines
	return order, nil
}

// Subscribe delivers the current snapshot immediately, then every
// subsequent committed write in write order. The returned func
// unsubscribes; a subscriber that stops draining its channel is dropped.
func (l *Ledger) Subscribe(ctx context.Context, orderID string) (<-chan database.Order, func(), error) {
	snapshot, err := l.Snapshot(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := l.broadcaster.Subscribe(orderID, snapshot)
	return ch, cancel, nil
}

func (l *Ledger) fanOut(order database.Order) {
	l.broadcaster.Publish(order)
	for _, sink := range l.sinks {
		sink.OrderChanged(order)
	}
}

// printAsync fires the kitchen ticket without blocking or failing the
// write that triggered it.
func (l *Ledger) printAsync(order database.Order, added []database.OrderLine) {
	if l.printer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), printTimeout)
		defer cancel()
		if err := l.printer.Deliver(ctx, order, added); err != nil {
			log.Printf("ERROR: print delivery for order %s: %v", order.ID, err)
		}
	}()
}

// sanitizeLine produces the canonical persisted record: empty note and
// empty composed selection become NULL columns, never placeholders.
func sanitizeLine(orderID string, position int, line NewLine) database.OrderLine {
	record := database.OrderLine{
		OrderID:   orderID,
		Position:  position,
		Name:      line.Name,
		UnitPrice: line.UnitPrice,
		Quantity:  line.Quantity,
		Status:    enum.LineStatusActive,
	}
	if line.Note != "" {
		note := line.Note
		record.Note = &note
	}
	if len(line.ComposedSelection) > 0 {
		record.ComposedSelection = line.ComposedSelection
	}
	return record
}

func activeTotal(lines []database.OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		if line.Status == enum.LineStatusDeleted {
			continue
		}
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt32(line.Quantity)))
	}
	return total
}
