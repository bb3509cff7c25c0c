// Package notify hands order events to the notification collaborator.
// Delivery downstream is at-least-once; emitting never fails an order write.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// EventType names an order event.
type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderConfirmed     EventType = "order.confirmed"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventRefundRequested    EventType = "refund.requested"
)

// Event is the payload delivered to the notification collaborator.
type Event struct {
	ID          string             `json:"id"`
	Type        EventType          `json:"type"`
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber,omitempty"`
	CustomerID  string             `json:"customerId,omitempty"`
	Status      domain.OrderStatus `json:"status"`
	From        domain.OrderStatus `json:"from,omitempty"`
	Amount      int64              `json:"amount,omitempty"`
	Currency    string             `json:"currency,omitempty"`
	Actor       domain.Actor       `json:"actor"`
	Timestamp   time.Time          `json:"timestamp"`
}

// NewEvent stamps a fresh id on an event about order.
func NewEvent(typ EventType, order domain.Order, actor domain.Actor, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      order.Status,
		Amount:      order.Pricing.Total,
		Currency:    order.Pricing.Currency,
		Actor:       actor,
		Timestamp:   at,
	}
}

// Emitter accepts events for delivery.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Sink receives events drained from an outbox.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// LogEmitter writes events to the structured log. It is both an Emitter and
// a Sink.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ctx context.Context, event Event) error {
	l.logger.InfoContext(ctx, "order event",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("orderId", event.OrderID),
		slog.String("status", string(event.Status)),
		slog.String("actor", event.Actor.ID),
	)
	return nil
}

func (l *LogEmitter) Deliver(ctx context.Context, event Event) error {
	return l.Emit(ctx, event)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Deliver(ctx context.Context, event Event) error {
	return r.Emit(ctx, event)
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events by type and order.
func (r *Recorder) OfType(typ EventType, orderID string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ && (orderID == "" || e.OrderID == orderID) {
			out = append(out, e)
		}
	}
	return out
}
