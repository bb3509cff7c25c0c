package repository

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// ErrAlreadyExists is returned by Create when the order id is taken.
var ErrAlreadyExists = errors.New("order already exists")

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListOrdersOptions defines filters and pagination for order listing.
type ListOrdersOptions struct {
	Offset        int
	Limit         int
	CustomerID    string
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	Search        string // matched against the order number
	SortField     string // createdAt|updatedAt|total|orderNumber
	SortOrder     string // asc|desc, default desc
}

func (o ListOrdersOptions) normalized() ListOrdersOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	o.Search = strings.ToLower(strings.TrimSpace(o.Search))
	o.CustomerID = strings.TrimSpace(o.CustomerID)
	return o
}

func (o ListOrdersOptions) matches(order domain.Order, ignoreStatus bool) bool {
	if o.CustomerID != "" && order.CustomerID != o.CustomerID {
		return false
	}
	if !ignoreStatus && o.Status != "" && order.Status != o.Status {
		return false
	}
	if o.PaymentStatus != "" && order.Payment.Status != o.PaymentStatus {
		return false
	}
	if o.Search != "" && !strings.Contains(strings.ToLower(order.OrderNumber), o.Search) {
		return false
	}
	return true
}

// listFromSnapshot applies filters, sorting, counts and pagination to a full
// set of orders. Used by stores that cannot push the query down.
func listFromSnapshot(orders []domain.Order, opts ListOrdersOptions) domain.OrderListResult {
	opts = opts.normalized()

	counts := make(map[domain.OrderStatus]int64)
	var matched []domain.OrderSummary
	for _, order := range orders {
		if !opts.matches(order, true) {
			continue
		}
		counts[order.Status]++
		if opts.Status != "" && order.Status != opts.Status {
			continue
		}
		matched = append(matched, order.Summary())
	}

	sortSummaries(matched, opts.SortField, opts.SortOrder)

	total := int64(len(matched))
	start := opts.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}

	return domain.OrderListResult{
		Items:        append([]domain.OrderSummary(nil), matched[start:end]...),
		Total:        total,
		StatusCounts: counts,
	}
}

func sortSummaries(items []domain.OrderSummary, field, order string) {
	asc := strings.EqualFold(order, "asc")
	less := func(a, b domain.OrderSummary) bool {
		switch strings.ToLower(field) {
		case "updatedat":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "total":
			return a.Total < b.Total
		case "ordernumber":
			return a.OrderNumber < b.OrderNumber
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if asc {
			return less(items[i], items[j])
		}
		return less(items[j], items[i])
	})
}

// awaitingSettlement reports whether order has a pending attempt opened before cutoff.
func awaitingSettlement(order domain.Order, cutoff time.Time) (time.Time, bool) {
	active, ok := order.ActiveAttempt()
	if !ok || !active.CreatedAt.Before(cutoff) {
		return time.Time{}, false
	}
	return active.CreatedAt, true
}

// unpaid reports whether order is still waiting for a first successful
// processor payment with nothing in flight.
func unpaid(order domain.Order, cutoff time.Time) bool {
	if order.Status != domain.StatusPending || !order.Payment.Method.RequiresProcessor() {
		return false
	}
	if _, ok := order.ActiveAttempt(); ok {
		return false
	}
	return order.CreatedAt.Before(cutoff)
}

func selectAwaiting(orders []domain.Order, cutoff time.Time, limit int) []domain.Order {
	type candidate struct {
		order  domain.Order
		opened time.Time
	}
	var found []candidate
	for _, order := range orders {
		if opened, ok := awaitingSettlement(order, cutoff); ok {
			found = append(found, candidate{order: order, opened: opened})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].opened.Before(found[j].opened) })
	out := make([]domain.Order, 0, len(found))
	for _, c := range found {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c.order)
	}
	return out
}

func selectUnpaid(orders []domain.Order, cutoff time.Time, limit int) []domain.Order {
	var out []domain.Order
	for _, order := range orders {
		if unpaid(order, cutoff) {
			out = append(out, order)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func staleState(orderID string, expected, actual int64) error {
	return &domain.StaleStateError{OrderID: orderID, Expected: expected, Actual: actual}
}

func notFound(orderID string) error {
	return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
}

func validateForWrite(order domain.Order) error {
	if order.ID == "" {
		return errors.New("order id is required")
	}
	return nil
}
