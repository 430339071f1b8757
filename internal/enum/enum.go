package enum

// ── Order lifecycle (CHECK constrained in DB) ──

const (
	OrderStatusPending   = "PENDING"
	OrderStatusSent      = "SENT"
	OrderStatusPreparing = "PREPARING"
	OrderStatusReady     = "READY"
	OrderStatusServed    = "SERVED"
	OrderStatusCancelled = "CANCELLED"
)

const (
	LineStatusActive  = "ACTIVE"
	LineStatusDeleted = "DELETED"
)

// ── Service kinds ──

const (
	ServiceKindDining   = "DINING"
	ServiceKindTakeaway = "TAKEAWAY"
)

// ── Staff roles ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleWaiter  = "WAITER"
	UserRoleKitchen = "KITCHEN"
)

// IsTerminalStatus reports whether an order in this status can no longer
// accept mutations through the coordinator.
func IsTerminalStatus(s string) bool {
	return s == OrderStatusServed || s == OrderStatusCancelled
}

// IsValidServiceKind reports whether s is a known service kind.
func IsValidServiceKind(s string) bool {
	return s == ServiceKindDining || s == ServiceKindTakeaway
}

// IsValidOrderStatus reports whether s is a known order status.
func IsValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusSent, OrderStatusPreparing,
		OrderStatusReady, OrderStatusServed, OrderStatusCancelled:
		return true
	}
	return false
}
