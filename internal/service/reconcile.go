package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/notify"
	"github.com/vanshika/checkout/backend/internal/processor"
)

// ErrEventIgnored is returned for processor callbacks that settle nothing.
var ErrEventIgnored = errors.New("processor event ignored")

const unknownSessionReason = "session unknown to processor"

// Reconcile asks the processor how the session behind reference settled and
// applies the answer. Applying an already terminal attempt is a no-op that
// returns the current order. When the processor cannot be reached nothing is
// written and the transient error is returned.
func (s *OrderService) Reconcile(ctx context.Context, orderID, reference string) (domain.Order, error) {
	order, err := s.store.Get(ctx, sanitizeString(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return s.reconcile(ctx, order, sanitizeString(reference), "reconcile")
}

// ConfirmPayment is the client's report that it saw the processor succeed.
// The report itself is never trusted; it only triggers Reconcile.
func (s *OrderService) ConfirmPayment(ctx context.Context, actor domain.Actor, orderID, reference string, expectedVersion int64) (domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return domain.Order{}, err
	}
	reference = sanitizeString(reference)
	if reference == "" {
		return domain.Order{}, domain.NewValidationError("processorReference", "is required")
	}
	order, err := s.load(ctx, actor, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	attempt, ok := order.AttemptByReference(reference)
	if !ok {
		return domain.Order{}, attemptNotFound(order.ID, reference)
	}
	if attempt.Outcome.Terminal() {
		return order, nil
	}
	if expectedVersion > 0 {
		if err := checkVersion(order, expectedVersion); err != nil {
			s.logStale(order.ID, "confirm_payment", err)
			return domain.Order{}, err
		}
	}
	return s.reconcile(ctx, order, reference, "client")
}

// ApplyWebhook applies a verified processor callback. The callback's outcome
// is authoritative and goes through the same idempotent path as Reconcile.
func (s *OrderService) ApplyWebhook(ctx context.Context, event processor.WebhookEvent) (domain.Order, error) {
	settlement, ok := event.Settlement()
	if !ok {
		s.logger.Info("processor event ignored", slog.String("event_id", event.ID), slog.String("type", string(event.Type)))
		return domain.Order{}, ErrEventIgnored
	}
	order, err := s.store.FindByProcessorReference(ctx, settlement.Reference)
	if err != nil {
		return domain.Order{}, err
	}
	return s.applySettlement(ctx, order, settlement, "webhook")
}

func (s *OrderService) reconcile(ctx context.Context, order domain.Order, reference, source string) (domain.Order, error) {
	attempt, ok := order.AttemptByReference(reference)
	if !ok {
		return domain.Order{}, attemptNotFound(order.ID, reference)
	}
	if attempt.Outcome.Terminal() {
		return order, nil
	}

	settlement, err := s.gateway.QuerySettlement(ctx, reference)
	switch {
	case errors.Is(err, processor.ErrUnknownReference):
		settlement = processor.Settlement{
			Reference:     reference,
			Status:        processor.SettlementFailed,
			FailureReason: unknownSessionReason,
		}
	case err != nil:
		s.logger.Warn("processor settlement query failed",
			slog.String("orderId", order.ID),
			slog.String("processorReference", reference),
			slog.String("source", source),
			slog.Any("error", err))
		return domain.Order{}, fmt.Errorf("query settlement: %w", err)
	}
	return s.applySettlement(ctx, order, settlement, source)
}

// applySettlement writes a terminal settlement onto the order with a
// compare-and-swap. Only the writer that wins the swap emits events.
func (s *OrderService) applySettlement(ctx context.Context, order domain.Order, settlement processor.Settlement, source string) (domain.Order, error) {
	for try := 0; ; try++ {
		attempt, ok := order.AttemptByReference(settlement.Reference)
		if !ok {
			return domain.Order{}, attemptNotFound(order.ID, settlement.Reference)
		}
		if attempt.Outcome.Terminal() || !settlement.Status.Terminal() {
			return order, nil
		}
		if err := matchesAttempt(*attempt, settlement); err != nil {
			s.logger.Error("settlement does not match attempt",
				slog.String("orderId", order.ID),
				slog.String("processorReference", settlement.Reference),
				slog.Int64("expectedAmount", attempt.Amount),
				slog.Int64("settledAmount", settlement.Amount),
				slog.String("source", source))
			return domain.Order{}, err
		}

		next, events, err := s.settle(order, settlement)
		if err != nil {
			return domain.Order{}, err
		}
		saved, err := s.store.Update(ctx, next, order.Version)
		if err == nil {
			s.logger.Info("payment reconciled",
				slog.String("orderId", saved.ID),
				slog.String("processorReference", settlement.Reference),
				slog.String("outcome", string(settlement.Status)),
				slog.String("status", string(saved.Status)),
				slog.String("source", source))
			s.emit(ctx, events...)
			return saved, nil
		}
		if !isStale(err) || try+1 >= maxCASRetries {
			s.logStale(order.ID, "settle", err)
			return domain.Order{}, err
		}
		if order, err = s.store.Get(ctx, order.ID); err != nil {
			return domain.Order{}, err
		}
	}
}

func (s *OrderService) settle(order domain.Order, settlement processor.Settlement) (domain.Order, []notify.Event, error) {
	now := s.now()
	next := order.Clone()
	attempt, _ := next.AttemptByReference(settlement.Reference)
	attempt.ResolvedAt = &now
	next.Payment.ProcessorReference = settlement.Reference
	next.Payment.LastReconciledAt = &now
	next.UpdatedAt = now

	var events []notify.Event
	if settlement.Status == processor.SettlementSucceeded {
		attempt.Outcome = domain.OutcomeSucceeded
		next.Payment.Status = domain.PaymentSucceeded
		paid := *attempt
		switch next.Status {
		case domain.StatusPending:
			if err := next.Transition(domain.StatusConfirmed, domain.SystemActor, "payment reconciled", now); err != nil {
				return domain.Order{}, nil, err
			}
			events = append(events, notify.NewEvent(notify.EventOrderConfirmed, next, domain.SystemActor, now))
		case domain.StatusCancelled:
			next.Refund = refundFor(paid, "payment settled after cancellation", domain.SystemActor, now)
			events = append(events, refundEvent(next, domain.SystemActor, now))
		}
		return next, events, nil
	}

	attempt.Outcome = domain.OutcomeFailed
	attempt.FailureReason = failureReason(settlement)
	if next.Payment.Status != domain.PaymentSucceeded {
		next.Payment.Status = domain.PaymentFailed
	}
	return next, events, nil
}

func matchesAttempt(attempt domain.PaymentAttempt, settlement processor.Settlement) error {
	if settlement.Status != processor.SettlementSucceeded {
		return nil
	}
	if settlement.Amount != 0 && settlement.Amount != attempt.Amount {
		return domain.NewValidationError("settlement.amount", fmt.Sprintf("settled %d, attempt is for %d", settlement.Amount, attempt.Amount))
	}
	if settlement.Currency != "" && !strings.EqualFold(settlement.Currency, attempt.Currency) {
		return domain.NewValidationError("settlement.currency", fmt.Sprintf("settled in %s, attempt is in %s", settlement.Currency, attempt.Currency))
	}
	return nil
}

func failureReason(settlement processor.Settlement) string {
	if settlement.FailureReason != "" {
		return settlement.FailureReason
	}
	if settlement.Status == processor.SettlementExpired {
		return "session expired"
	}
	return "payment failed"
}

func attemptNotFound(orderID, reference string) error {
	return fmt.Errorf("order %s payment attempt %s: %w", orderID, reference, domain.ErrNotFound)
}

func (s *OrderService) logStale(orderID, op string, err error) {
	var stale *domain.StaleStateError
	if errors.As(err, &stale) {
		s.logger.Warn("stale order version",
			slog.String("orderId", orderID),
			slog.String("op", op),
			slog.Int64("expected", stale.Expected),
			slog.Int64("actual", stale.Actual))
	}
}
