package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the durable, shared order record. Lines is populated by the
// loaders that join order_lines; it is not a column.
type Order struct {
	ID           string          `json:"id"`
	RestaurantID uuid.UUID       `json:"restaurant_id"`
	Number       int64           `json:"number"`
	ServiceKind  string          `json:"service_kind"`
	ZoneID       string          `json:"zone_id"`
	SessionKey   *string         `json:"session_key,omitempty"`
	Status       string          `json:"status"`
	Total        decimal.Decimal `json:"total"`
	CreatedAt    time.Time       `json:"created_at"`
	LastUpdated  *time.Time      `json:"last_updated,omitempty"`
	Lines        []OrderLine     `json:"lines"`
}

// OrderLine is one durable line of an order. Lines are never physically
// removed: deletion flips Status to DELETED and stamps DeletedAt, keeping
// Position stable as the line identifier.
type OrderLine struct {
	OrderID           string            `json:"order_id"`
	Position          int               `json:"position"`
	Name              string            `json:"name"`
	UnitPrice         decimal.Decimal   `json:"unit_price"`
	Quantity          int32             `json:"quantity"`
	Note              *string           `json:"note,omitempty"`
	ComposedSelection ComposedSelection `json:"composed_selection,omitempty"`
	Status            string            `json:"status"`
	DeletedAt         *time.Time        `json:"deleted_at,omitempty"`
}

// SessionBinding maps a physical session (table or takeaway ticket) to its
// single live order.
type SessionBinding struct {
	RestaurantID uuid.UUID `json:"restaurant_id"`
	SessionKey   string    `json:"session_key"`
	OrderID      string    `json:"order_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// PrintSettings is the per-restaurant print routing row.
type PrintSettings struct {
	RestaurantID   uuid.UUID
	PrinterAddress string
	GatewayAddress string
}

type User struct {
	ID             uuid.UUID `json:"id"`
	RestaurantID   uuid.UUID `json:"restaurant_id"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	Role           string    `json:"role"`
}

// StepSelection records the options picked for one step of a composed menu.
type StepSelection struct {
	StepID      string   `json:"step_id"`
	StepName    string   `json:"step_name"`
	OptionIDs   []string `json:"option_ids"`
	OptionNames []string `json:"option_names"`
}

// ComposedSelection is the full multi-step selection attached to a line.
// A nil selection means the line is a plain menu item.
type ComposedSelection []StepSelection

// Key returns a canonical serialization used as merge identity for cart
// lines. Steps and options keep their original order, so equal selections
// always produce equal keys.
func (cs ComposedSelection) Key() string {
	if len(cs) == 0 {
		return ""
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return ""
	}
	return string(b)
}
