package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/checkout/backend/internal/catalog"
	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/notify"
	"github.com/vanshika/checkout/backend/internal/repository"
)

// PricingPolicy derives shipping and tax from the subtotal. All amounts are
// minor currency units.
type PricingPolicy struct {
	Currency              string
	FreeShippingThreshold int64
	FlatShipping          int64
	TaxBasisPoints        int64
}

// DefaultPricing is free shipping from 2000.00, 100.00 flat otherwise and 18% tax.
func DefaultPricing() PricingPolicy {
	return PricingPolicy{
		Currency:              "INR",
		FreeShippingThreshold: 200000,
		FlatShipping:          10000,
		TaxBasisPoints:        1800,
	}
}

// Price computes the order pricing once, at creation.
func (p PricingPolicy) Price(items []domain.OrderItem, currency string, discount int64) (domain.Pricing, error) {
	if discount < 0 {
		return domain.Pricing{}, domain.NewValidationError("discount", "must not be negative")
	}
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	if discount > subtotal {
		return domain.Pricing{}, domain.NewValidationError("discount", "exceeds subtotal")
	}

	shipping := p.FlatShipping
	if subtotal >= p.FreeShippingThreshold {
		shipping = 0
	}
	tax := (subtotal*p.TaxBasisPoints + 5000) / 10000
	if currency == "" {
		currency = p.Currency
	}
	return domain.Pricing{
		Currency: currency,
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Discount: discount,
		Total:    subtotal + shipping + tax - discount,
	}, nil
}

// CreateOrder turns the customer's cart into an order. Item prices are read
// from the catalog exactly once here and never again.
func (s *OrderService) CreateOrder(ctx context.Context, actor domain.Actor, input CheckoutInput) (domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return domain.Order{}, err
	}
	if !actor.IsCustomer() {
		return domain.Order{}, fmt.Errorf("%w: only customers place orders", domain.ErrForbidden)
	}

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(input.PaymentMethod)))
	if !method.Valid() {
		return domain.Order{}, domain.NewValidationError("paymentMethod", fmt.Sprintf("unsupported method %q", input.PaymentMethod))
	}
	shipping := input.ShippingAddress.ToDomainAddress()
	if err := shipping.Validate("shippingAddress"); err != nil {
		return domain.Order{}, err
	}
	billing := shipping
	if input.BillingAddress != nil {
		billing = input.BillingAddress.ToDomainAddress()
		if err := billing.Validate("billingAddress"); err != nil {
			return domain.Order{}, err
		}
	}

	items, currency, err := s.snapshotCart(ctx, actor.ID)
	if err != nil {
		return domain.Order{}, err
	}
	pricing, err := s.pricing.Price(items, currency, input.Discount)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:              uuid.NewString(),
		OrderNumber:     orderNumber(now),
		CustomerID:      actor.ID,
		Items:           items,
		Pricing:         pricing,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Status:          domain.StatusPending,
		Payment:         domain.Payment{Method: method, Status: domain.PaymentPending},
		Timeline: []domain.TimelineEntry{{
			Status:    domain.StatusPending,
			Timestamp: now,
			Note:      "order placed",
			Actor:     actor,
		}},
		Notes:     sanitizeString(input.Notes),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	events := []notify.Event{notify.NewEvent(notify.EventOrderCreated, order, actor, now)}

	if !method.RequiresProcessor() {
		order.Payment.Status = domain.PaymentOnDelivery
		if err := order.Transition(domain.StatusConfirmed, domain.SystemActor, "cash on delivery", now); err != nil {
			return domain.Order{}, err
		}
		events = append(events, notify.NewEvent(notify.EventOrderConfirmed, order, domain.SystemActor, now))
	}

	if err := s.store.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created",
		slog.String("orderId", order.ID),
		slog.String("orderNumber", order.OrderNumber),
		slog.String("customerId", order.CustomerID),
		slog.String("paymentMethod", string(method)),
		slog.Int64("total", pricing.Total))

	if clearer, ok := s.catalog.(catalog.CartClearer); ok {
		if err := clearer.ClearCart(ctx, actor.ID); err != nil {
			s.logger.Warn("clear cart failed", slog.String("customerId", actor.ID), slog.Any("error", err))
		}
	}
	s.emit(ctx, events...)
	return order, nil
}

func (s *OrderService) snapshotCart(ctx context.Context, userID string) ([]domain.OrderItem, string, error) {
	lines, err := s.catalog.GetCartSnapshot(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("read cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, "", domain.NewValidationError("cart", "is empty")
	}

	items := make([]domain.OrderItem, 0, len(lines))
	currency := ""
	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, "", domain.NewValidationError(fmt.Sprintf("cart[%d].quantity", i), "must be positive")
		}
		price, err := s.catalog.GetCurrentPrice(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, "", domain.NewValidationError(fmt.Sprintf("cart[%d].productId", i), "product no longer available")
			}
			return nil, "", fmt.Errorf("price %s: %w", line.ProductID, err)
		}
		if price.Amount < 0 {
			return nil, "", domain.NewValidationError(fmt.Sprintf("cart[%d].price", i), "must not be negative")
		}
		if currency == "" {
			currency = price.Currency
		} else if price.Currency != "" && price.Currency != currency {
			return nil, "", domain.NewValidationError("cart", "items are priced in different currencies")
		}
		items = append(items, domain.OrderItem{
			ProductID:           line.ProductID,
			Name:                price.Name,
			Quantity:            line.Quantity,
			UnitPriceAtPurchase: price.Amount,
			Size:                line.Size,
			Color:               line.Color,
		})
	}
	return items, currency, nil
}

// orderNumber is the human readable ORDyyMMddNNNN shown to customers.
func orderNumber(now time.Time) string {
	return fmt.Sprintf("ORD%s%04d", now.Format("060102"), rand.IntN(10000))
}

// GetOrder returns the order. Customers only see their own orders.
func (s *OrderService) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return domain.Order{}, err
	}
	return s.load(ctx, actor, orderID)
}

// PaymentHistory returns the order's payment attempts with the same
// visibility rules as GetOrder.
func (s *OrderService) PaymentHistory(ctx context.Context, actor domain.Actor, orderID string) (PaymentHistory, error) {
	order, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return PaymentHistory{}, err
	}
	attempts := make([]domain.PaymentAttempt, len(order.Attempts))
	for i, a := range order.Attempts {
		a.SessionToken = ""
		attempts[i] = a
	}
	return PaymentHistory{OrderID: order.ID, Payment: order.Payment, Attempts: attempts}, nil
}

// ListOrders retrieves paginated orders matching filters. Customers are
// always scoped to their own orders; status counts are only returned to
// admins.
func (s *OrderService) ListOrders(ctx context.Context, actor domain.Actor, params ListOrdersParams) (OrdersPage, error) {
	if err := requireActor(actor); err != nil {
		return OrdersPage{}, err
	}
	page, pageSize := normalizePagination(params.Page, params.PageSize)
	offset := (page - 1) * pageSize

	opts := repository.ListOrdersOptions{
		Offset:     offset,
		Limit:      pageSize,
		CustomerID: sanitizeString(params.CustomerID),
		Search:     sanitizeString(params.Search),
		SortField:  params.SortField,
		SortOrder:  params.SortOrder,
	}
	if actor.IsCustomer() {
		opts.CustomerID = actor.ID
	}
	if params.Status != "" && !strings.EqualFold(params.Status, "all") {
		status, ok := domain.ParseOrderStatus(params.Status)
		if !ok {
			return OrdersPage{}, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", params.Status))
		}
		opts.Status = status
	}
	if params.PaymentStatus != "" {
		opts.PaymentStatus = domain.PaymentStatus(strings.ToLower(strings.TrimSpace(params.PaymentStatus)))
	}

	result, err := s.store.List(ctx, opts)
	if err != nil {
		return OrdersPage{}, err
	}
	out := OrdersPage{
		Items:      result.Items,
		Pagination: buildPaginationMeta(page, pageSize, result.Total),
	}
	if out.Items == nil {
		out.Items = []domain.OrderSummary{}
	}
	if !actor.IsCustomer() {
		out.StatusCounts = result.StatusCounts
	}
	return out, nil
}
