package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mesa-pos/api/internal/cart"
	"github.com/mesa-pos/api/internal/coordinator"
	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/enum"
	"github.com/mesa-pos/api/internal/menu"
	"github.com/mesa-pos/api/internal/session"
)

// SessionCoordinator defines the coordinator methods the session handlers
// need. Satisfied by *coordinator.Coordinator.
type SessionCoordinator interface {
	Resolve(ctx context.Context, p session.ResolveParams) (database.Order, error)
	Send(ctx context.Context, p session.ResolveParams) (database.Order, error)
	Terminate(ctx context.Context, p session.ResolveParams) (database.Order, error)
	CancelLine(ctx context.Context, p session.ResolveParams, ref coordinator.LineRef) error
	Cart(restaurantID uuid.UUID, sessionKey string) *cart.Store
}

// SessionHandler handles session-scoped endpoints: resolve, cart
// manipulation, send and terminate.
type SessionHandler struct {
	coord SessionCoordinator
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(coord SessionCoordinator) *SessionHandler {
	return &SessionHandler{coord: coord}
}

// RegisterRoutes registers session endpoints on the given Chi router.
// Expected to be mounted inside a restaurant-scoped subrouter:
// /restaurants/{rid}/sessions
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/{key}/resolve", h.Resolve)
	r.Get("/{key}/cart", h.GetCart)
	r.Post("/{key}/cart/lines", h.AddCartLine)
	r.Patch("/{key}/cart/lines/{id}", h.UpdateCartLine)
	r.Delete("/{key}/cart/lines/{id}", h.DeleteCartLine)
	r.Post("/{key}/send", h.Send)
	r.Post("/{key}/terminate", h.Terminate)
}

// --- Request / Response types ---

type sessionRequest struct {
	ServiceKind string `json:"service_kind"`
	ZoneID      string `json:"zone_id"`
}

type addCartLineRequest struct {
	Name         string               `json:"name"`
	UnitPrice    string               `json:"unit_price"`
	Quantity     int32                `json:"quantity"`
	Note         string               `json:"note"`
	ComposedMenu *composedMenuRequest `json:"composed_menu"`
}

// composedMenuRequest carries the item's step configuration and the
// picked options. The composed price is computed server-side; unit_price
// on the enclosing request is ignored when this is present.
type composedMenuRequest struct {
	BasePrice  string              `json:"base_price"`
	Steps      []menu.Step         `json:"steps"`
	Selections map[string][]string `json:"selections"`
}

type updateCartLineRequest struct {
	Quantity *int32  `json:"quantity"`
	Note     *string `json:"note"`
}

type cartResponse struct {
	Lines []cart.Line     `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// --- Handlers ---

// Resolve handles POST /restaurants/{rid}/sessions/{key}/resolve.
// Returns the session's live order, creating it on first use.
func (h *SessionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	params, ok := h.sessionParams(w, r, true)
	if !ok {
		return
	}

	order, err := h.coord.Resolve(r.Context(), params)
	if err != nil {
		writeSessionError(w, err, "resolve session")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetCart handles GET /restaurants/{rid}/sessions/{key}/cart.
func (h *SessionHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	params, ok := h.sessionParams(w, r, false)
	if !ok {
		return
	}
	store := h.coord.Cart(params.RestaurantID, params.SessionKey)
	writeJSON(w, http.StatusOK, toCartResponse(store))
}

// AddCartLine handles POST /restaurants/{rid}/sessions/{key}/cart/lines.
// Composed selections are validated and priced before the line is
// admitted; an invalid selection never reaches the cart.
func (h *SessionHandler) AddCartLine(w http.ResponseWriter, r *http.Request) {
	params, ok := h.sessionParams(w, r, false)
	if !ok {
		return
	}

	var req addCartLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if req.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be > 0"})
		return
	}

	line := cart.Line{
		Name:     req.Name,
		Quantity: req.Quantity,
		Note:     req.Note,
	}

	if req.ComposedMenu != nil {
		unitPrice, composed, err := priceComposedLine(req.ComposedMenu)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		line.UnitPrice = unitPrice
		line.ComposedSelection = composed
	} else {
		unitPrice, err := decimal.NewFromString(req.UnitPrice)
		if err != nil || unitPrice.IsNegative() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid unit_price"})
			return
		}
		line.UnitPrice = unitPrice
	}

	store := h.coord.Cart(params.RestaurantID, params.SessionKey)
	store.Add(line)
	writeJSON(w, http.StatusCreated, toCartResponse(store))
}

// UpdateCartLine handles PATCH /restaurants/{rid}/sessions/{key}/cart/lines/{id}.
// Unknown line ids are a no-op; the current cart is returned either way.
func (h *SessionHandler) UpdateCartLine(w http.ResponseWriter, r *http.Request) {
	params, ok := h.sessionParams(w, r, false)
	if !ok {
		return
	}

	var req updateCartLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	store := h.coord.Cart(params.RestaurantID, params.SessionKey)
	id := chi.URLParam(r, "id")
	switch {
	case req.Quantity != nil && req.Note != nil:
		store.Update(id, *req.Quantity, *req.Note)
	case req.Quantity != nil:
		store.UpdateQuantity(id, *req.Quantity)
	case req.Note != nil:
		store.UpdateNote(id, *req.Note)
	}
	writeJSON(w, http.StatusOK, toCartResponse(store))
}

// DeleteCartLine handles DELETE /restaurants/{rid}/sessions/{key}/cart/lines/{id}.
func (h *SessionHandler) DeleteCartLine(w http.ResponseWriter, r *http.Request) {
	params, ok := h.sessionParams(w, r, false)
	if !ok {
		return
	}

	err := h.coord.CancelLine(r.Context(), params, coordinator.LineRef{CartLineID: chi.URLParam(r, "id")})
	if err != nil {
		if errors.Is(err, coordinator.ErrUnknownLine) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "line not found"})
			return
		}
		writeSessionError(w, err, "delete cart line")
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(h.coord.Cart(params.RestaurantID, params.SessionKey)))
}

// Send handles POST /restaurants/{rid}/sessions/{key}/send.
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	params, ok := h.sessionParams(w, r, true)
	if !ok {
		return
	}

	order, err := h.coord.Send(r.Context(), params)
	if err != nil {
		writeSessionError(w, err, "send cart")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// Terminate handles POST /restaurants/{rid}/sessions/{key}/terminate.
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	params, ok := h.sessionParams(w, r, true)
	if !ok {
		return
	}

	order, err := h.coord.Terminate(r.Context(), params)
	if err != nil {
		writeSessionError(w, err, "terminate session")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// --- Helpers ---

// sessionParams pulls the session identity out of the URL and, when
// withBody is set, the service kind and zone out of the request body.
func (h *SessionHandler) sessionParams(w http.ResponseWriter, r *http.Request, withBody bool) (session.ResolveParams, bool) {
	rid, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
		return session.ResolveParams{}, false
	}
	key := chi.URLParam(r, "key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session key"})
		return session.ResolveParams{}, false
	}

	params := session.ResolveParams{
		RestaurantID: rid,
		SessionKey:   key,
		ServiceKind:  enum.ServiceKindDining,
	}
	if withBody {
		var req sessionRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		switch {
		case err == nil:
			if req.ServiceKind != "" {
				params.ServiceKind = req.ServiceKind
			}
			params.ZoneID = req.ZoneID
		case errors.Is(err, io.EOF):
			// No body: dining session, no zone.
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return session.ResolveParams{}, false
		}
	}
	return params, true
}

// priceComposedLine validates the selection and returns the computed unit
// price plus the canonical selection record (config order, names filled
// in).
func priceComposedLine(req *composedMenuRequest) (decimal.Decimal, database.ComposedSelection, error) {
	basePrice, err := decimal.NewFromString(req.BasePrice)
	if err != nil || basePrice.IsNegative() {
		return decimal.Decimal{}, nil, errors.New("invalid base_price")
	}
	if err := menu.ValidateConfig(req.Steps); err != nil {
		return decimal.Decimal{}, nil, err
	}

	report := menu.ValidateAll(req.Steps, req.Selections)
	if !report.Valid {
		return decimal.Decimal{}, nil, errors.New(strings.Join(report.Errors, "; "))
	}

	unitPrice := menu.Price(basePrice, req.Steps, req.Selections)

	var composed database.ComposedSelection
	for _, step := range req.Steps {
		selected := req.Selections[step.ID]
		if len(selected) == 0 {
			continue
		}
		picked := make(map[string]bool, len(selected))
		for _, id := range selected {
			picked[id] = true
		}
		sel := database.StepSelection{StepID: step.ID, StepName: step.Name}
		// Walk the config's option order so equal selections always
		// serialize identically (merge identity).
		for _, opt := range step.Options {
			if picked[opt.ID] {
				sel.OptionIDs = append(sel.OptionIDs, opt.ID)
				sel.OptionNames = append(sel.OptionNames, opt.Name)
			}
		}
		composed = append(composed, sel)
	}
	return unitPrice, composed, nil
}

func toCartResponse(store *cart.Store) cartResponse {
	lines := store.Lines()
	if lines == nil {
		lines = []cart.Line{}
	}
	return cartResponse{Lines: lines, Total: store.Total()}
}

func writeSessionError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, session.ErrInvalidServiceKind):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, session.ErrResolveContention):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session is being created, retry"})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
