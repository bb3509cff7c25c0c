package domain

import "strings"

// OrderStatus is the fulfilment lifecycle state of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusReturned   OrderStatus = "returned"
)

// allowedTransitions is the complete order lifecycle graph. Anything not
// listed here is illegal.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusReturned},
	StatusCancelled:  {},
	StatusReturned:   {},
}

// ParseOrderStatus normalises user input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := allowedTransitions[s]
	return s, ok
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no further transition can leave s.
func (s OrderStatus) Terminal() bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

// CanTransition checks whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a *TransitionError when from -> to is not allowed.
func ValidateTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// ValidWalk reports whether statuses is a walk of the lifecycle graph starting
// at pending.
func ValidWalk(statuses []OrderStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	if statuses[0] != StatusPending {
		return false
	}
	for i := 1; i < len(statuses); i++ {
		if !CanTransition(statuses[i-1], statuses[i]) {
			return false
		}
	}
	return true
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []OrderStatus {
	return []OrderStatus{
		StatusPending,
		StatusConfirmed,
		StatusProcessing,
		StatusShipped,
		StatusDelivered,
		StatusCancelled,
		StatusReturned,
	}
}
