package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/processor"
)

// CreatePaymentIntent opens a payment attempt for a pending order, or returns
// the attempt that is already open. expectedVersion is checked only when a
// new attempt has to be created; zero skips the check.
//
// Nothing is persisted when the processor cannot open a session.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, actor domain.Actor, orderID string, expectedVersion int64) (PaymentIntent, error) {
	if err := requireActor(actor); err != nil {
		return PaymentIntent{}, err
	}
	order, err := s.load(ctx, actor, orderID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if actor.IsAdmin() {
		return PaymentIntent{}, fmt.Errorf("%w: payment is started by the customer", domain.ErrForbidden)
	}

	for attempt := 0; ; attempt++ {
		// The open attempt is only handed out again while the order can still
		// be paid; a cancelled order keeps its session but never its token.
		if err := intentPrecondition(order); err != nil {
			return PaymentIntent{}, err
		}
		if intent, ok := existingIntent(order); ok {
			return intent, nil
		}
		if attempt == 0 && expectedVersion > 0 {
			if err := checkVersion(order, expectedVersion); err != nil {
				s.logStale(order.ID, "payment_intent", err)
				return PaymentIntent{}, err
			}
		}

		seq := len(order.Attempts) + 1
		session, err := s.gateway.CreateSession(ctx, processor.SessionRequest{
			OrderID:        order.ID,
			Amount:         order.Pricing.Total,
			Currency:       order.Pricing.Currency,
			IdempotencyKey: processor.SessionKey(order.ID, seq),
		})
		if err != nil {
			s.logger.Warn("processor session failed",
				slog.String("orderId", order.ID),
				slog.Int("attempt", seq),
				slog.Any("error", err))
			return PaymentIntent{}, fmt.Errorf("open payment session: %w", err)
		}

		now := s.now()
		next := order.Clone()
		next.Attempts = append(next.Attempts, domain.PaymentAttempt{
			ID:                 uuid.NewString(),
			OrderID:            order.ID,
			Sequence:           seq,
			ProcessorReference: session.Reference,
			SessionToken:       session.Token,
			Amount:             order.Pricing.Total,
			Currency:           order.Pricing.Currency,
			Outcome:            domain.OutcomePending,
			CreatedAt:          now,
		})
		next.Payment.Status = domain.PaymentPending
		next.Payment.ProcessorReference = session.Reference
		next.UpdatedAt = now

		saved, err := s.store.Update(ctx, next, order.Version)
		if err == nil {
			s.logger.Info("payment attempt opened",
				slog.String("orderId", saved.ID),
				slog.String("processorReference", session.Reference),
				slog.Int("attempt", seq))
			intent, _ := existingIntent(saved)
			intent.Reused = false
			return intent, nil
		}
		if !isStale(err) || attempt+1 >= maxCASRetries {
			return PaymentIntent{}, err
		}
		// Lost the race; a concurrent issuer usually holds the same session.
		if order, err = s.store.Get(ctx, order.ID); err != nil {
			return PaymentIntent{}, err
		}
	}
}

func existingIntent(order domain.Order) (PaymentIntent, bool) {
	active, ok := order.ActiveAttempt()
	if !ok {
		return PaymentIntent{}, false
	}
	return PaymentIntent{
		OrderID:            order.ID,
		AttemptID:          active.ID,
		SessionToken:       active.SessionToken,
		ProcessorReference: active.ProcessorReference,
		Amount:             active.Amount,
		Currency:           active.Currency,
		OrderVersion:       order.Version,
		Reused:             true,
	}, true
}

func intentPrecondition(order domain.Order) error {
	if !order.Payment.Method.RequiresProcessor() {
		return domain.NewValidationError("paymentMethod", "order is paid on delivery")
	}
	if _, paid := order.SucceededAttempt(); paid {
		return &domain.TransitionError{From: order.Status, To: domain.StatusConfirmed, Reason: "order is already paid"}
	}
	if order.Status != domain.StatusPending {
		return &domain.TransitionError{From: order.Status, To: domain.StatusConfirmed, Reason: "payment can only start while the order is pending"}
	}
	return nil
}
