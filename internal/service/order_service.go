package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/vanshika/checkout/backend/internal/catalog"
	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/logging"
	"github.com/vanshika/checkout/backend/internal/notify"
	"github.com/vanshika/checkout/backend/internal/processor"
	"github.com/vanshika/checkout/backend/internal/repository"
)

// maxCASRetries bounds how often a system-driven write re-reads the order
// after losing a version race.
const maxCASRetries = 3

// OrderStore captures the persistence operations required by the service.
type OrderStore interface {
	Create(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error)
	List(ctx context.Context, opts repository.ListOrdersOptions) (domain.OrderListResult, error)
	FindByProcessorReference(ctx context.Context, ref string) (domain.Order, error)
	ListAwaitingSettlement(ctx context.Context, openedBefore time.Time, limit int) ([]domain.Order, error)
	ListUnpaid(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error)
	Ping(ctx context.Context) error
}

// OrderService owns every mutation of an order: checkout, payment intents,
// reconciliation and status changes.
type OrderService struct {
	store   OrderStore
	catalog catalog.Catalog
	gateway processor.Gateway
	events  notify.Emitter
	pricing PricingPolicy
	logger  *slog.Logger
	nowFn   func() time.Time
}

// Options carries the optional collaborators of an OrderService.
type Options struct {
	Pricing PricingPolicy
	Logger  *slog.Logger
}

// NewOrderService constructs an OrderService. A nil emitter drops events.
func NewOrderService(store OrderStore, cat catalog.Catalog, gateway processor.Gateway, events notify.Emitter, opts Options) *OrderService {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	pricing := opts.Pricing
	if pricing.Currency == "" {
		pricing = DefaultPricing()
	}
	return &OrderService{
		store:   store,
		catalog: cat,
		gateway: gateway,
		events:  events,
		pricing: pricing,
		logger:  logging.Component(logger, "orders"),
		nowFn:   time.Now,
	}
}

// WithClock overrides the time source, useful for deterministic tests.
func (s *OrderService) WithClock(nowFn func() time.Time) *OrderService {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// Ping checks the backing store.
func (s *OrderService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *OrderService) now() time.Time {
	return s.nowFn().UTC()
}

// emit hands events to the notification collaborator. Failures are logged
// and never surface to the caller; the order write already happened.
func (s *OrderService) emit(ctx context.Context, events ...notify.Event) {
	if s.events == nil {
		return
	}
	for _, event := range events {
		if err := s.events.Emit(ctx, event); err != nil {
			s.logger.Warn("emit order event failed",
				slog.String("orderId", event.OrderID),
				slog.String("type", string(event.Type)),
				slog.Any("error", err))
		}
	}
}

// load fetches an order and hides it from customers who do not own it.
func (s *OrderService) load(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	orderID = sanitizeString(orderID)
	if orderID == "" {
		return domain.Order{}, domain.NewValidationError("orderId", "is required")
	}
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if actor.IsCustomer() && order.CustomerID != actor.ID {
		return domain.Order{}, &orderNotFound{id: orderID}
	}
	return order, nil
}

func requireActor(actor domain.Actor) error {
	if !actor.Valid() {
		return domain.NewValidationError("actor", "id and a known role are required")
	}
	return nil
}

func checkVersion(order domain.Order, expected int64) error {
	if expected != order.Version {
		return &domain.StaleStateError{OrderID: order.ID, Expected: expected, Actual: order.Version}
	}
	return nil
}

func isStale(err error) bool {
	return errors.Is(err, domain.ErrStaleState)
}

type orderNotFound struct{ id string }

func (e *orderNotFound) Error() string        { return "order " + e.id + ": not found" }
func (e *orderNotFound) Is(target error) bool { return target == domain.ErrNotFound }

// PaginationMeta describes pagination info returned by list operations.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int   `json:"totalPages"`
}

func normalizePagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}

func buildPaginationMeta(page, pageSize int, total int64) PaginationMeta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
		if total > 0 && totalPages == 0 {
			totalPages = 1
		}
	}
	return PaginationMeta{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}
}
