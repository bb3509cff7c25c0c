// Package coordinator drives one checkout's payment from the client side:
// it asks the backend for a payment session, submits the shopper's details
// straight to the processor and then has the backend reconcile the result.
//
// The processor's answer to Submit is advisory. Only the backend's
// reconciled order decides whether the payment succeeded, and a charge that
// may have gone through is never reported as a failure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/logging"
	"github.com/vanshika/checkout/backend/internal/processor"
)

// State is a step of the client payment flow.
type State string

const (
	StateIdle             State = "idle"
	StateRequestingIntent State = "requesting-intent"
	StateAwaitingInput    State = "awaiting-input"
	StateSubmitting       State = "submitting"
	StateReconciling      State = "reconciling"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
	// StateAmbiguous means money may have moved but the backend has not
	// confirmed it. Paying again is refused until Verify settles it.
	StateAmbiguous State = "ambiguous"
)

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("coordinator closed")
	// ErrInvalidState is returned when an action does not fit the current state.
	ErrInvalidState = errors.New("action not allowed in current state")
	// ErrPaymentFailed is returned when the payment was declined or expired.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrAlreadyPaid is returned by Retry after a confirmed payment.
	ErrAlreadyPaid = errors.New("order already paid")
)

// Intent is the backend's answer to a payment intent request.
type Intent struct {
	OrderID            string `json:"orderId"`
	AttemptID          string `json:"attemptId"`
	SessionToken       string `json:"sessionToken"`
	ProcessorReference string `json:"processorReference"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	OrderVersion       int64  `json:"orderVersion"`
	Reused             bool   `json:"reused"`
}

// Backend is the order API as seen by a signed-in shopper.
type Backend interface {
	CreatePaymentIntent(ctx context.Context, orderID string, expectedVersion int64) (Intent, error)
	ConfirmPayment(ctx context.Context, orderID, processorReference string, expectedVersion int64) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// PaymentSubmitter is the client-facing side of the processor.
type PaymentSubmitter interface {
	Submit(ctx context.Context, token string, details processor.PaymentDetails) (processor.Settlement, error)
}

// Config bounds every wait of the flow.
type Config struct {
	IntentTimeout        time.Duration
	SubmitTimeout        time.Duration
	ReconcileTimeout     time.Duration
	MaxReconcileAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	Logger               *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.IntentTimeout <= 0 {
		c.IntentTimeout = 10 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = 10 * time.Second
	}
	if c.MaxReconcileAttempts <= 0 {
		c.MaxReconcileAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = 16 * c.InitialBackoff
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c
}

// Coordinator runs the payment flow for a single order. Actions are
// serialised; State, Err, Intent and Order may be read at any time.
type Coordinator struct {
	backend   Backend
	submitter PaymentSubmitter
	cfg       Config
	logger    *slog.Logger

	root context.Context
	stop context.CancelFunc

	// op serialises actions; mu guards the fields below.
	op      sync.Mutex
	mu      sync.Mutex
	orderID string
	version int64
	state   State
	err     error
	intent  *Intent
	order   *domain.Order
}

// New prepares a coordinator for orderID. version is the order version the
// client last saw, or zero to skip the check.
func New(backend Backend, submitter PaymentSubmitter, orderID string, version int64, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	root, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		backend:   backend,
		submitter: submitter,
		cfg:       cfg,
		logger:    logging.Component(cfg.Logger, "coordinator").With(slog.String("order_id", orderID)),
		root:      root,
		stop:      cancel,
		orderID:   orderID,
		version:   version,
		state:     StateIdle,
	}
}

// State reports the current step.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the error that moved the flow into failed or ambiguous.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Intent returns the session currently being paid, if any.
func (c *Coordinator) Intent() (Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intent == nil {
		return Intent{}, false
	}
	return *c.intent, true
}

// Order returns the last order snapshot the backend returned.
func (c *Coordinator) Order() (domain.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order == nil {
		return domain.Order{}, false
	}
	return c.order.Clone(), true
}

// Close stops listening. Nothing is cancelled at the processor; an
// unfinished attempt is left for the backend's sweep to resolve.
func (c *Coordinator) Close() {
	c.stop()
}

// Start requests a payment session. On failure the flow moves to failed and
// Retry asks again.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	if s := c.State(); s != StateIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s)
	}
	return c.requestIntent(ctx)
}

// Submit sends details to the processor and reconciles the outcome with the
// backend. The returned error matches ErrPaymentFailed for a definite
// failure and domain.ErrReconciliationAmbiguous when the outcome is unknown.
func (c *Coordinator) Submit(ctx context.Context, details processor.PaymentDetails) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	if s := c.State(); s != StateAwaitingInput {
		return fmt.Errorf("%w: submit from %s", ErrInvalidState, s)
	}
	intent, _ := c.Intent()
	c.transition(StateSubmitting, nil)

	submitCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	settlement, err := c.submitter.Submit(submitCtx, intent.SessionToken, details)
	cancel()

	switch {
	case err == nil && settlement.Status == processor.SettlementFailed,
		err == nil && settlement.Status == processor.SettlementExpired:
		c.logger.Info("processor declined payment", slog.String("reason", settlement.FailureReason))
		return c.settleFailure(ctx, intent, settlement.FailureReason)
	case errors.Is(err, processor.ErrSessionExpired):
		return c.settleFailure(ctx, intent, "session expired")
	case errors.Is(err, processor.ErrUnknownReference):
		return c.fail(fmt.Errorf("%w: processor does not know this session", ErrPaymentFailed))
	case err != nil:
		// Timeouts and dropped connections say nothing about the charge.
		c.logger.Warn("payment submission outcome unknown", slog.Any("error", err))
	}
	return c.reconcile(ctx, intent, c.cfg.MaxReconcileAttempts)
}

// Retry starts a new payment after a failure. It is refused while the
// previous payment may have succeeded.
func (c *Coordinator) Retry(ctx context.Context) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	switch s := c.State(); s {
	case StateFailed:
	case StateAmbiguous:
		return fmt.Errorf("%w: verify the order before paying again", domain.ErrReconciliationAmbiguous)
	case StateSucceeded:
		return ErrAlreadyPaid
	default:
		return fmt.Errorf("%w: retry from %s", ErrInvalidState, s)
	}
	if intent, ok := c.Intent(); ok {
		// Let the backend close the old attempt so a new session can open.
		// If the old attempt turns out to have been paid, stop there.
		order, err := c.confirmOnce(ctx, intent)
		if err == nil && attemptOutcome(order, intent.ProcessorReference) == domain.OutcomeSucceeded {
			return c.finish(order, intent)
		}
	}
	return c.requestIntent(ctx)
}

// Verify asks the backend again after an ambiguous outcome. The flow leaves
// ambiguous only when the backend reports a settled attempt.
func (c *Coordinator) Verify(ctx context.Context) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	if s := c.State(); s != StateAmbiguous {
		return fmt.Errorf("%w: verify from %s", ErrInvalidState, s)
	}
	intent, _ := c.Intent()

	getCtx, cancel := context.WithTimeout(ctx, c.cfg.ReconcileTimeout)
	order, err := c.backend.GetOrder(getCtx, c.orderID)
	cancel()
	if err == nil {
		c.remember(order)
		if outcome := attemptOutcome(order, intent.ProcessorReference); outcome.Terminal() {
			return c.finish(order, intent)
		}
	}

	order, err = c.confirmOnce(ctx, intent)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrReconciliationAmbiguous, err)
	}
	if attemptOutcome(order, intent.ProcessorReference).Terminal() {
		return c.finish(order, intent)
	}
	return fmt.Errorf("%w: payment not settled yet", domain.ErrReconciliationAmbiguous)
}

func (c *Coordinator) requestIntent(ctx context.Context) error {
	c.transition(StateRequestingIntent, nil)
	c.mu.Lock()
	version := c.version
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.IntentTimeout)
	intent, err := c.backend.CreatePaymentIntent(reqCtx, c.orderID, version)
	cancel()
	if err != nil {
		c.logger.Warn("payment intent request failed", slog.Any("error", err))
		return c.fail(fmt.Errorf("request payment intent: %w", err))
	}

	c.mu.Lock()
	c.intent = &intent
	c.version = intent.OrderVersion
	c.mu.Unlock()
	c.logger.Info("payment session ready",
		slog.String("processor_reference", intent.ProcessorReference),
		slog.Bool("reused", intent.Reused))
	c.transition(StateAwaitingInput, nil)
	return nil
}

// reconcile asks the backend to settle the attempt until it answers with a
// terminal outcome or the attempts run out.
func (c *Coordinator) reconcile(ctx context.Context, intent Intent, attempts int) error {
	c.transition(StateReconciling, nil)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, backoff(c.cfg.InitialBackoff, c.cfg.MaxBackoff, attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		order, err := c.confirmOnce(ctx, intent)
		if err == nil {
			if attemptOutcome(order, intent.ProcessorReference).Terminal() {
				return c.finish(order, intent)
			}
			lastErr = errors.New("payment not settled yet")
			continue
		}
		lastErr = err
		if permanent(err) || ctx.Err() != nil {
			break
		}
		c.logger.Warn("reconciliation attempt failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}

	ambiguous := fmt.Errorf("%w: %v", domain.ErrReconciliationAmbiguous, lastErr)
	c.logger.Error("payment outcome unconfirmed",
		slog.String("processor_reference", intent.ProcessorReference),
		slog.Any("error", lastErr))
	c.transition(StateAmbiguous, ambiguous)
	return ambiguous
}

// settleFailure reports a definite processor failure to the backend once so
// the attempt closes promptly. The flow fails either way.
func (c *Coordinator) settleFailure(ctx context.Context, intent Intent, reason string) error {
	if reason == "" {
		reason = "declined"
	}
	if order, err := c.confirmOnce(ctx, intent); err == nil {
		if attemptOutcome(order, intent.ProcessorReference) == domain.OutcomeSucceeded {
			return c.finish(order, intent)
		}
	}
	return c.fail(fmt.Errorf("%w: %s", ErrPaymentFailed, reason))
}

// confirmOnce makes a single ConfirmPayment call, refreshing the expected
// version when another writer got there first.
func (c *Coordinator) confirmOnce(ctx context.Context, intent Intent) (domain.Order, error) {
	c.mu.Lock()
	version := c.version
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.ReconcileTimeout)
	defer cancel()
	order, err := c.backend.ConfirmPayment(reqCtx, c.orderID, intent.ProcessorReference, version)
	if errors.Is(err, domain.ErrStaleState) {
		fresh, getErr := c.backend.GetOrder(reqCtx, c.orderID)
		if getErr != nil {
			return domain.Order{}, err
		}
		c.remember(fresh)
		if attemptOutcome(fresh, intent.ProcessorReference).Terminal() {
			return fresh, nil
		}
		order, err = c.backend.ConfirmPayment(reqCtx, c.orderID, intent.ProcessorReference, fresh.Version)
	}
	if err != nil {
		return domain.Order{}, err
	}
	c.remember(order)
	return order, nil
}

func (c *Coordinator) finish(order domain.Order, intent Intent) error {
	attempt, ok := order.AttemptByReference(intent.ProcessorReference)
	if !ok {
		return c.fail(fmt.Errorf("%w: attempt %s missing from order", domain.ErrNotFound, intent.ProcessorReference))
	}
	if attempt.Outcome == domain.OutcomeSucceeded {
		c.logger.Info("payment confirmed", slog.String("status", string(order.Status)))
		c.transition(StateSucceeded, nil)
		return nil
	}
	reason := attempt.FailureReason
	if reason == "" {
		reason = "declined"
	}
	return c.fail(fmt.Errorf("%w: %s", ErrPaymentFailed, reason))
}

func (c *Coordinator) fail(err error) error {
	c.transition(StateFailed, err)
	return err
}

func (c *Coordinator) transition(to State, err error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.err = err
	c.mu.Unlock()
	if from != to {
		c.logger.Debug("payment flow transition", slog.String("from", string(from)), slog.String("to", string(to)))
	}
}

func (c *Coordinator) remember(order domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = &order
	if order.Version > c.version {
		c.version = order.Version
	}
}

// begin serialises an action and ties ctx to the coordinator's lifetime.
func (c *Coordinator) begin(ctx context.Context) (context.Context, func(), error) {
	if c.root.Err() != nil {
		return nil, nil, ErrClosed
	}
	c.op.Lock()
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(c.root, func() { cancel(ErrClosed) })
	return ctx, func() {
		stop()
		cancel(nil)
		c.op.Unlock()
	}, nil
}

func attemptOutcome(order domain.Order, reference string) domain.AttemptOutcome {
	attempt, ok := order.AttemptByReference(reference)
	if !ok {
		return domain.OutcomePending
	}
	return attempt.Outcome
}

// permanent errors will not change by asking again.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrForbidden)
}

// backoff doubles from initial up to max with up to a quarter of jitter.
func backoff(initial, max time.Duration, retry int) time.Duration {
	d := initial
	for i := 1; i < retry && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if quarter := int64(d / 4); quarter > 0 {
		d = d - time.Duration(quarter) + time.Duration(rand.Int64N(quarter+1))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
