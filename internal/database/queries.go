package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// --- Users ---

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, `
		SELECT id, restaurant_id, full_name, email, hashed_password, role
		FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.RestaurantID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role)
	return u, err
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, `
		SELECT id, restaurant_id, full_name, email, hashed_password, role
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.RestaurantID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role)
	return u, err
}

func (q *Queries) InsertRestaurant(ctx context.Context, id uuid.UUID, name string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO restaurants (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, id, name)
	return err
}

func (q *Queries) InsertUser(ctx context.Context, u User) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO users (id, restaurant_id, full_name, email, hashed_password, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING`,
		u.ID, u.RestaurantID, u.FullName, u.Email, u.HashedPassword, u.Role)
	return err
}

// --- Session bindings ---

type SessionBindingParams struct {
	RestaurantID uuid.UUID
	SessionKey   string
}

func (q *Queries) GetSessionBinding(ctx context.Context, arg SessionBindingParams) (SessionBinding, error) {
	var b SessionBinding
	err := q.db.QueryRow(ctx, `
		SELECT restaurant_id, session_key, order_id, created_at
		FROM session_bindings
		WHERE restaurant_id = $1 AND session_key = $2`,
		arg.RestaurantID, arg.SessionKey).
		Scan(&b.RestaurantID, &b.SessionKey, &b.OrderID, &b.CreatedAt)
	return b, err
}

// InsertSessionBinding writes the binding unless the session already has
// one. Returns false when a concurrent creator won the race.
func (q *Queries) InsertSessionBinding(ctx context.Context, b SessionBinding) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO session_bindings (restaurant_id, session_key, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (restaurant_id, session_key) DO NOTHING`,
		b.RestaurantID, b.SessionKey, b.OrderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) DeleteSessionBinding(ctx context.Context, arg SessionBindingParams) error {
	_, err := q.db.Exec(ctx, `
		DELETE FROM session_bindings
		WHERE restaurant_id = $1 AND session_key = $2`,
		arg.RestaurantID, arg.SessionKey)
	return err
}

// --- Order number counter ---

// NextOrderNumber atomically increments the restaurant's counter and
// returns the new value. The row lock taken by the upsert serializes
// concurrent callers.
func (q *Queries) NextOrderNumber(ctx context.Context, restaurantID uuid.UUID) (int64, error) {
	var value int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO order_counters (restaurant_id, value)
		VALUES ($1, 1)
		ON CONFLICT (restaurant_id)
		DO UPDATE SET value = order_counters.value + 1
		RETURNING value`, restaurantID).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return value, nil
}

// --- Orders ---

type InsertOrderParams struct {
	ID           string
	RestaurantID uuid.UUID
	Number       int64
	ServiceKind  string
	ZoneID       string
	SessionKey   *string
	Status       string
	CreatedAt    time.Time
}

func (q *Queries) InsertOrder(ctx context.Context, arg InsertOrderParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO orders (id, restaurant_id, number, service_kind, zone_id, session_key, status, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)`,
		arg.ID, arg.RestaurantID, arg.Number, arg.ServiceKind, arg.ZoneID,
		arg.SessionKey, arg.Status, arg.CreatedAt)
	return err
}

const orderColumns = `id, restaurant_id, number, service_kind, zone_id, session_key, status, total, created_at, last_updated`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var total pgtype.Numeric
	err := row.Scan(&o.ID, &o.RestaurantID, &o.Number, &o.ServiceKind, &o.ZoneID,
		&o.SessionKey, &o.Status, &total, &o.CreatedAt, &o.LastUpdated)
	if err != nil {
		return Order{}, err
	}
	o.Total = numericToDecimal(total)
	return o, nil
}

func (q *Queries) GetOrder(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderForUpdate locks the order row for the rest of the transaction.
// Mutating services read through this so concurrent writers to the same
// order serialize instead of losing updates.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

type SetOrderTotalParams struct {
	ID          string
	Total       decimal.Decimal
	Status      string
	LastUpdated time.Time
}

func (q *Queries) SetOrderTotal(ctx context.Context, arg SetOrderTotalParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE orders SET total = $2, status = $3, last_updated = $4 WHERE id = $1`,
		arg.ID, decimalToNumeric(arg.Total), arg.Status, arg.LastUpdated)
	return err
}

type SetOrderStatusParams struct {
	ID          string
	Status      string
	LastUpdated time.Time
}

func (q *Queries) SetOrderStatus(ctx context.Context, arg SetOrderStatusParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE orders SET status = $2, last_updated = $3 WHERE id = $1`,
		arg.ID, arg.Status, arg.LastUpdated)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// --- Order lines ---

func (q *Queries) InsertOrderLine(ctx context.Context, line OrderLine) error {
	var composed []byte
	if len(line.ComposedSelection) > 0 {
		b, err := json.Marshal(line.ComposedSelection)
		if err != nil {
			return fmt.Errorf("marshal composed selection: %w", err)
		}
		composed = b
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO order_lines (order_id, position, name, unit_price, quantity, note, composed_selection, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		line.OrderID, line.Position, line.Name, decimalToNumeric(line.UnitPrice),
		line.Quantity, line.Note, composed, line.Status)
	return err
}

func (q *Queries) ListOrderLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, `
		SELECT order_id, position, name, unit_price, quantity, note, composed_selection, status, deleted_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		var l OrderLine
		var price pgtype.Numeric
		var composed []byte
		if err := rows.Scan(&l.OrderID, &l.Position, &l.Name, &price, &l.Quantity,
			&l.Note, &composed, &l.Status, &l.DeletedAt); err != nil {
			return nil, err
		}
		l.UnitPrice = numericToDecimal(price)
		if len(composed) > 0 {
			if err := json.Unmarshal(composed, &l.ComposedSelection); err != nil {
				return nil, fmt.Errorf("unmarshal composed selection: %w", err)
			}
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type MarkOrderLineDeletedParams struct {
	OrderID   string
	Position  int
	DeletedAt time.Time
}

// MarkOrderLineDeleted flips an active line to DELETED. Returns false when
// the line does not exist or is already deleted.
func (q *Queries) MarkOrderLineDeleted(ctx context.Context, arg MarkOrderLineDeletedParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE order_lines SET status = 'DELETED', deleted_at = $3
		WHERE order_id = $1 AND position = $2 AND status = 'ACTIVE'`,
		arg.OrderID, arg.Position, arg.DeletedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// --- Print settings ---

func (q *Queries) GetPrintSettings(ctx context.Context, restaurantID uuid.UUID) (PrintSettings, error) {
	var s PrintSettings
	err := q.db.QueryRow(ctx, `
		SELECT restaurant_id, printer_address, gateway_address
		FROM print_settings WHERE restaurant_id = $1`, restaurantID).
		Scan(&s.RestaurantID, &s.PrinterAddress, &s.GatewayAddress)
	return s, err
}

func (q *Queries) UpsertPrintSettings(ctx context.Context, s PrintSettings) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO print_settings (restaurant_id, printer_address, gateway_address)
		VALUES ($1, $2, $3)
		ON CONFLICT (restaurant_id)
		DO UPDATE SET printer_address = $2, gateway_address = $3`,
		s.RestaurantID, s.PrinterAddress, s.GatewayAddress)
	return err
}
