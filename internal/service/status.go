package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/notify"
)

// RequestStatusChange moves an order one step along its lifecycle. The write
// is a compare-and-swap on req.ExpectedVersion; a caller that read an older
// version gets StaleState and must refetch. It is never retried here.
func (s *OrderService) RequestStatusChange(ctx context.Context, actor domain.Actor, orderID string, req StatusChangeRequest) (domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return domain.Order{}, err
	}
	to, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		return domain.Order{}, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", req.Status))
	}
	if req.ExpectedVersion <= 0 {
		return domain.Order{}, domain.NewValidationError("expectedVersion", "is required")
	}
	if req.Tracking != nil && to != domain.StatusShipped {
		return domain.Order{}, domain.NewValidationError("tracking", "only applies when shipping")
	}

	order, err := s.load(ctx, actor, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := checkVersion(order, req.ExpectedVersion); err != nil {
		s.logStale(order.ID, "status_change", err)
		return domain.Order{}, err
	}
	if err := domain.ValidateTransition(order.Status, to); err != nil {
		s.logRejected(order, to, actor, err)
		return domain.Order{}, err
	}
	if err := guardTransition(order, to, actor); err != nil {
		s.logRejected(order, to, actor, err)
		return domain.Order{}, err
	}

	now := s.now()
	from := order.Status
	next := order.Clone()
	if err := next.Transition(to, actor, sanitizeString(req.Note), now); err != nil {
		return domain.Order{}, err
	}
	if req.Tracking != nil {
		tracking := domain.Tracking{
			Carrier:        sanitizeString(req.Tracking.Carrier),
			TrackingNumber: sanitizeString(req.Tracking.TrackingNumber),
		}
		if tracking.Carrier == "" || tracking.TrackingNumber == "" {
			return domain.Order{}, domain.NewValidationError("tracking", "carrier and trackingNumber are required")
		}
		next.Tracking = &tracking
	}

	changed := notify.NewEvent(notify.EventOrderStatusChanged, next, actor, now)
	changed.From = from
	events := []notify.Event{changed}
	if paid, ok := next.SucceededAttempt(); ok && refundable(to) && next.Refund == nil {
		next.Refund = refundFor(*paid, refundReason(to, req.Note), actor, now)
		events = append(events, refundEvent(next, actor, now))
	}

	saved, err := s.store.Update(ctx, next, req.ExpectedVersion)
	if err != nil {
		s.logStale(order.ID, "status_change", err)
		return domain.Order{}, err
	}
	s.logger.Info("order status changed",
		slog.String("orderId", saved.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("actor", actor.ID),
		slog.String("role", string(actor.Role)))
	s.emit(ctx, events...)
	return saved, nil
}

// CancelOrder is RequestStatusChange to cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, actor domain.Actor, orderID string, expectedVersion int64, reason string) (domain.Order, error) {
	return s.RequestStatusChange(ctx, actor, orderID, StatusChangeRequest{
		ExpectedVersion: expectedVersion,
		Status:          string(domain.StatusCancelled),
		Note:            reason,
	})
}

// guardTransition applies the role rules on top of the lifecycle graph.
func guardTransition(order domain.Order, to domain.OrderStatus, actor domain.Actor) error {
	if order.Status == domain.StatusPending && to == domain.StatusConfirmed {
		if !actor.IsSystem() {
			return fmt.Errorf("%w: orders are confirmed by payment reconciliation", domain.ErrForbidden)
		}
		if order.Payment.Status != domain.PaymentSucceeded && order.Payment.Status != domain.PaymentOnDelivery {
			return &domain.TransitionError{From: order.Status, To: to, Reason: "payment has not been reconciled"}
		}
		return nil
	}
	if actor.IsCustomer() {
		if to != domain.StatusCancelled {
			return fmt.Errorf("%w: customers may only cancel", domain.ErrForbidden)
		}
		if order.Status != domain.StatusPending && order.Status != domain.StatusConfirmed {
			return fmt.Errorf("%w: order is already %s, contact support", domain.ErrForbidden, order.Status)
		}
	}
	return nil
}

func refundable(to domain.OrderStatus) bool {
	return to == domain.StatusCancelled || to == domain.StatusReturned
}

func refundReason(to domain.OrderStatus, note string) string {
	note = sanitizeString(note)
	if note != "" {
		return note
	}
	if to == domain.StatusReturned {
		return "order returned"
	}
	return "order cancelled"
}

func refundFor(paid domain.PaymentAttempt, reason string, actor domain.Actor, at time.Time) *domain.RefundRequest {
	return &domain.RefundRequest{
		Status:      domain.RefundRequested,
		Amount:      paid.Amount,
		Currency:    paid.Currency,
		AttemptID:   paid.ID,
		Reason:      reason,
		RequestedAt: at,
		RequestedBy: actor,
	}
}

func refundEvent(order domain.Order, actor domain.Actor, at time.Time) notify.Event {
	event := notify.NewEvent(notify.EventRefundRequested, order, actor, at)
	if order.Refund != nil {
		event.Amount = order.Refund.Amount
		event.Currency = order.Refund.Currency
	}
	return event
}

func (s *OrderService) logRejected(order domain.Order, to domain.OrderStatus, actor domain.Actor, err error) {
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrForbidden) {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, "status change rejected",
		slog.String("orderId", order.ID),
		slog.String("from", string(order.Status)),
		slog.String("to", string(to)),
		slog.String("actor", actor.ID),
		slog.String("role", string(actor.Role)),
		slog.Any("error", err))
}
