package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/enum"
)

// --- Mock implementations ---

type mockTx struct {
	committed  bool
	rolledBack bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error          { m.committed = true; return nil }
func (m *mockTx) Rollback(ctx context.Context) error        { m.rolledBack = true; return nil }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

type mockTxBeginner struct {
	tx *mockTx
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	m.tx = &mockTx{}
	return m.tx, nil
}

// memStore is a stateful in-memory LedgerStore holding one order.
type memStore struct {
	order  database.Order
	lines  []database.OrderLine
	exists bool
}

func (s *memStore) GetOrder(ctx context.Context, id string) (database.Order, error) {
	if !s.exists || id != s.order.ID {
		return database.Order{}, pgx.ErrNoRows
	}
	return s.order, nil
}

func (s *memStore) GetOrderForUpdate(ctx context.Context, id string) (database.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *memStore) ListOrderLines(ctx context.Context, orderID string) ([]database.OrderLine, error) {
	out := make([]database.OrderLine, len(s.lines))
	copy(out, s.lines)
	return out, nil
}

func (s *memStore) InsertOrderLine(ctx context.Context, line database.OrderLine) error {
	s.lines = append(s.lines, line)
	return nil
}

func (s *memStore) SetOrderTotal(ctx context.Context, arg database.SetOrderTotalParams) error {
	s.order.Total = arg.Total
	s.order.Status = arg.Status
	s.order.LastUpdated = &arg.LastUpdated
	return nil
}

func (s *memStore) SetOrderStatus(ctx context.Context, arg database.SetOrderStatusParams) (bool, error) {
	if !s.exists || arg.ID != s.order.ID {
		return false, nil
	}
	s.order.Status = arg.Status
	s.order.LastUpdated = &arg.LastUpdated
	return true, nil
}

func (s *memStore) MarkOrderLineDeleted(ctx context.Context, arg database.MarkOrderLineDeletedParams) (bool, error) {
	for i, line := range s.lines {
		if line.Position == arg.Position && line.Status == enum.LineStatusActive {
			s.lines[i].Status = enum.LineStatusDeleted
			s.lines[i].DeletedAt = &arg.DeletedAt
			return true, nil
		}
	}
	return false, nil
}

// recordingPrinter captures Deliver calls on a channel.
type recordingPrinter struct {
	calls chan []database.OrderLine
	err   error
}

func (p *recordingPrinter) Deliver(ctx context.Context, order database.Order, added []database.OrderLine) error {
	p.calls <- added
	return p.err
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func pendingOrder() database.Order {
	return database.Order{
		ID:          "ord-1",
		Number:      4,
		ServiceKind: enum.ServiceKindDining,
		Status:      enum.OrderStatusPending,
		Total:       decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
}

func newTestLedger(store *memStore, printer Printer, sinks ...Sink) (*Ledger, *mockTxBeginner) {
	pool := &mockTxBeginner{}
	l := NewLedger(pool, store, func(db database.DBTX) LedgerStore { return store }, printer, sinks...)
	return l, pool
}

// --- Tests ---

func TestAddLinesPromotesPendingAndSetsTotal(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	l, pool := newTestLedger(store, nil)

	order, err := l.AddLines(context.Background(), "ord-1", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !order.Total.Equal(dec("5")) {
		t.Errorf("total: got %s, want 5", order.Total)
	}
	if order.Status != enum.OrderStatusSent {
		t.Errorf("status: got %s, want SENT", order.Status)
	}
	if order.LastUpdated == nil {
		t.Error("last_updated must be stamped")
	}
	if len(order.Lines) != 1 || order.Lines[0].Position != 0 {
		t.Errorf("lines: %+v", order.Lines)
	}
	if !pool.tx.committed {
		t.Error("mutation must commit")
	}
}

func TestAddLinesTotalExcludesDeletedLines(t *testing.T) {
	deletedAt := time.Now().UTC()
	store := &memStore{
		order:  database.Order{ID: "ord-1", Status: enum.OrderStatusSent},
		exists: true,
		lines: []database.OrderLine{
			{OrderID: "ord-1", Position: 0, Name: "Tea", UnitPrice: dec("3"), Quantity: 1, Status: enum.LineStatusActive},
			{OrderID: "ord-1", Position: 1, Name: "Cake", UnitPrice: dec("4"), Quantity: 2, Status: enum.LineStatusDeleted, DeletedAt: &deletedAt},
		},
	}
	l, _ := newTestLedger(store, nil)

	order, err := l.AddLines(context.Background(), "ord-1", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 3*1 + 2.5*2; the deleted cake line does not count.
	if !order.Total.Equal(dec("8")) {
		t.Errorf("total: got %s, want 8", order.Total)
	}
	if order.Lines[2].Position != 2 {
		t.Errorf("new line position: got %d, want 2", order.Lines[2].Position)
	}
	if order.Status != enum.OrderStatusSent {
		t.Errorf("status should stay SENT, got %s", order.Status)
	}
}

func TestAddLinesSanitizesOptionalFields(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	l, _ := newTestLedger(store, nil)

	_, err := l.AddLines(context.Background(), "ord-1", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 1},
		{Name: "Combo", UnitPrice: dec("13.5"), Quantity: 1, Note: "no onions",
			ComposedSelection: database.ComposedSelection{{StepID: "sides", OptionIDs: []string{"b"}}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plain, composed := store.lines[0], store.lines[1]
	if plain.Note != nil || plain.ComposedSelection != nil {
		t.Errorf("empty optionals must persist as absent: %+v", plain)
	}
	if composed.Note == nil || *composed.Note != "no onions" {
		t.Errorf("note lost: %+v", composed.Note)
	}
	if len(composed.ComposedSelection) != 1 {
		t.Errorf("composed selection lost: %+v", composed.ComposedSelection)
	}
	if plain.Status != enum.LineStatusActive || composed.Status != enum.LineStatusActive {
		t.Error("new lines must be ACTIVE")
	}
}

func TestAddLinesValidation(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	l, pool := newTestLedger(store, nil)

	if _, err := l.AddLines(context.Background(), "ord-1", nil); !errors.Is(err, ErrEmptyLines) {
		t.Errorf("empty lines: got %v", err)
	}
	_, err := l.AddLines(context.Background(), "ord-1", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 0},
	})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("zero quantity: got %v", err)
	}
	if pool.tx != nil {
		t.Error("validation failures must not start a transaction")
	}
}

func TestAddLinesOrderNotFound(t *testing.T) {
	l, _ := newTestLedger(&memStore{}, nil)
	_, err := l.AddLines(context.Background(), "ord-missing", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 1},
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("got %v, want ErrOrderNotFound", err)
	}
}

func TestAddLinesFiresPrintWithAddedLines(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	printer := &recordingPrinter{calls: make(chan []database.OrderLine, 1)}
	l, _ := newTestLedger(store, printer)

	if _, err := l.AddLines(context.Background(), "ord-1", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 2},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case added := <-printer.calls:
		if len(added) != 1 || added[0].Name != "Coke" {
			t.Errorf("printed lines: %+v", added)
		}
	case <-time.After(time.Second):
		t.Fatal("print job never fired")
	}
}

func TestPrintFailureDoesNotFailAddLines(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	printer := &recordingPrinter{calls: make(chan []database.OrderLine, 1), err: errors.New("gateway down")}
	l, _ := newTestLedger(store, printer)

	order, err := l.AddLines(context.Background(), "ord-1", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 2},
	})
	if err != nil {
		t.Fatalf("print failure leaked into the write: %v", err)
	}
	if !order.Total.Equal(dec("5")) {
		t.Errorf("total: got %s, want 5", order.Total)
	}
	<-printer.calls
}

func TestDeleteLineRecomputesTotal(t *testing.T) {
	store := &memStore{
		order:  database.Order{ID: "ord-1", Status: enum.OrderStatusSent, Total: dec("8")},
		exists: true,
		lines: []database.OrderLine{
			{OrderID: "ord-1", Position: 0, Name: "Tea", UnitPrice: dec("3"), Quantity: 1, Status: enum.LineStatusActive},
			{OrderID: "ord-1", Position: 1, Name: "Coke", UnitPrice: dec("2.5"), Quantity: 2, Status: enum.LineStatusActive},
		},
	}
	l, _ := newTestLedger(store, nil)

	ok, err := l.DeleteLine(context.Background(), "ord-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected deletion to succeed")
	}
	if !store.order.Total.Equal(dec("3")) {
		t.Errorf("total: got %s, want 3", store.order.Total)
	}
	if store.lines[1].Status != enum.LineStatusDeleted || store.lines[1].DeletedAt == nil {
		t.Errorf("line not soft-deleted: %+v", store.lines[1])
	}

	// Second delete of the same position is a no-op on the total.
	ok, err = l.DeleteLine(context.Background(), "ord-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("already-deleted line should report false")
	}
	if !store.order.Total.Equal(dec("3")) {
		t.Errorf("total changed on repeat delete: %s", store.order.Total)
	}
}

func TestDeleteLineNotFoundCases(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	l, _ := newTestLedger(store, nil)

	if ok, err := l.DeleteLine(context.Background(), "ord-missing", 0); err != nil || ok {
		t.Errorf("missing order: got (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := l.DeleteLine(context.Background(), "ord-1", 99); err != nil || ok {
		t.Errorf("missing index: got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestUpdateStatus(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	l, _ := newTestLedger(store, nil)

	if err := l.UpdateStatus(context.Background(), "ord-1", "EATEN"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("invalid status: got %v", err)
	}
	if err := l.UpdateStatus(context.Background(), "ord-missing", enum.OrderStatusReady); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("missing order: got %v", err)
	}

	if err := l.UpdateStatus(context.Background(), "ord-1", enum.OrderStatusPreparing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.order.Status != enum.OrderStatusPreparing {
		t.Errorf("status: got %s", store.order.Status)
	}
	if store.order.LastUpdated == nil {
		t.Error("last_updated must be stamped on status changes")
	}
}

func TestSubscribeDeliversSnapshotThenWrites(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	l, _ := newTestLedger(store, nil)

	ch, cancel, err := l.Subscribe(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cancel()

	first := <-ch
	if first.Status != enum.OrderStatusPending || len(first.Lines) != 0 || first.Lines == nil {
		t.Errorf("initial snapshot: %+v", first)
	}

	if _, err := l.AddLines(context.Background(), "ord-1", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 2},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case next := <-ch:
		if !next.Total.Equal(dec("5")) || next.Status != enum.OrderStatusSent {
			t.Errorf("post-write snapshot: total=%s status=%s", next.Total, next.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("write was not delivered to the subscriber")
	}
}

func TestSubscribeUnknownOrder(t *testing.T) {
	l, _ := newTestLedger(&memStore{}, nil)
	if _, _, err := l.Subscribe(context.Background(), "ord-missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("got %v, want ErrOrderNotFound", err)
	}
}

// sinkFunc adapts a func to the Sink interface.
type sinkFunc func(order database.Order)

func (f sinkFunc) OrderChanged(order database.Order) { f(order) }

func TestSinksReceiveEveryCommittedWrite(t *testing.T) {
	store := &memStore{order: pendingOrder(), exists: true}
	got := make(chan database.Order, 4)
	l, _ := newTestLedger(store, nil, sinkFunc(func(o database.Order) { got <- o }))

	if _, err := l.AddLines(context.Background(), "ord-1", []NewLine{
		{Name: "Coke", UnitPrice: dec("2.5"), Quantity: 2},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.DeleteLine(context.Background(), "ord-1", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, second := <-got, <-got
	if !first.Total.Equal(dec("5")) {
		t.Errorf("first fan-out total: %s", first.Total)
	}
	if !second.Total.IsZero() {
		t.Errorf("second fan-out total: %s", second.Total)
	}
}
