package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/checkout/backend/internal/catalog"
	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/notify"
	"github.com/vanshika/checkout/backend/internal/processor"
	"github.com/vanshika/checkout/backend/internal/repository"
)

var (
	customer = domain.Actor{ID: "cust-1", Role: domain.RoleCustomer}
	other    = domain.Actor{ID: "cust-2", Role: domain.RoleCustomer}
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *OrderService
	store   *repository.Memory
	catalog *catalog.Static
	sim     *processor.Simulator
	events  *notify.Recorder
	clock   *testClock
}

// newFixture prices without shipping or tax so a single tee totals 1999.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	cat := catalog.NewStatic(catalog.Dataset{Products: []catalog.Product{
		{ID: "tee", Name: "Linen Tee", Price: 1999, Currency: "INR"},
		{ID: "dress", Name: "Wrap Dress", Price: 250000, Currency: "INR"},
		{ID: "scarf", Name: "Silk Scarf", Price: 900, Currency: "USD"},
	}})
	sim := processor.NewSimulator(processor.WithSimulatorClock(clock.Now), processor.WithSessionTTL(30*time.Minute))
	store := repository.NewMemory()
	events := &notify.Recorder{}
	svc := NewOrderService(store, cat, sim, events, Options{Pricing: PricingPolicy{Currency: "INR"}}).WithClock(clock.Now)
	return &fixture{svc: svc, store: store, catalog: cat, sim: sim, events: events, clock: clock}
}

func address() AddressInput {
	return AddressInput{
		FirstName: "Asha",
		LastName:  "Rao",
		Email:     " Asha@Example.com ",
		Phone:     "+91 98765 43210",
		Line1:     "12  MG Road",
		City:      "Bengaluru",
		State:     "KA",
		ZipCode:   "560 001",
		Country:   "in",
	}
}

func (f *fixture) place(t *testing.T, actor domain.Actor, method string, lines ...catalog.CartLine) domain.Order {
	t.Helper()
	if len(lines) == 0 {
		lines = []catalog.CartLine{{ProductID: "tee", Quantity: 1, Size: "M", Color: "sand"}}
	}
	f.catalog.SetCart(actor.ID, lines)
	order, err := f.svc.CreateOrder(context.Background(), actor, CheckoutInput{
		ShippingAddress: address(),
		PaymentMethod:   method,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) pay(t *testing.T, intent PaymentIntent, instrument string) processor.Settlement {
	t.Helper()
	settlement, err := f.sim.Submit(context.Background(), intent.SessionToken, processor.PaymentDetails{Method: "card", Instrument: instrument})
	require.NoError(t, err)
	return settlement
}

func (f *fixture) get(t *testing.T, id string) domain.Order {
	t.Helper()
	order, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return order
}

// requireConsistent checks the properties every stored order must hold.
func requireConsistent(t *testing.T, order domain.Order) {
	t.Helper()
	require.NoError(t, order.CheckTimeline())
	pending, succeeded := 0, 0
	for _, a := range order.Attempts {
		switch a.Outcome {
		case domain.OutcomePending:
			pending++
		case domain.OutcomeSucceeded:
			succeeded++
		}
	}
	require.LessOrEqual(t, pending, 1, "at most one active attempt")
	require.LessOrEqual(t, succeeded, 1, "at most one successful attempt")
}

func TestCreateOrderSnapshotsCartAndPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.place(t, customer, "card", catalog.CartLine{ProductID: "tee", Quantity: 2, Size: "L"})

	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Equal(t, int64(1), order.Version)
	assert.Equal(t, domain.PaymentPending, order.Payment.Status)
	assert.Regexp(t, `^ORD260314\d{4}$`, order.OrderNumber)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(1999), order.Items[0].UnitPriceAtPurchase)
	assert.Equal(t, "Linen Tee", order.Items[0].Name)
	assert.Equal(t, int64(3998), order.Pricing.Total)
	assert.Equal(t, "asha@example.com", order.ShippingAddress.Email)
	assert.Equal(t, "+919876543210", order.ShippingAddress.Phone)
	assert.Equal(t, "560001", order.ShippingAddress.ZipCode)
	assert.Equal(t, "IN", order.ShippingAddress.Country)
	assert.Equal(t, order.ShippingAddress, order.BillingAddress)
	require.Len(t, order.Timeline, 1)
	assert.Equal(t, customer, order.Timeline[0].Actor)

	lines, err := f.catalog.GetCartSnapshot(ctx, customer.ID)
	require.NoError(t, err)
	assert.Empty(t, lines, "cart is cleared once the order exists")

	require.NoError(t, f.catalog.SetPrice("tee", 9999))
	stored, err := f.svc.GetOrder(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3998), stored.Pricing.Total, "price changes never reach existing orders")
	assert.Equal(t, int64(1999), stored.Items[0].UnitPriceAtPurchase)

	assert.Len(t, f.events.OfType(notify.EventOrderCreated, order.ID), 1)
	assert.Empty(t, f.events.OfType(notify.EventOrderConfirmed, order.ID))
}

func TestPricingPolicy(t *testing.T) {
	policy := DefaultPricing()
	tee := domain.OrderItem{ProductID: "tee", Quantity: 2, UnitPriceAtPurchase: 1999}

	pricing, err := policy.Price([]domain.OrderItem{tee}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Pricing{Currency: "INR", Subtotal: 3998, Shipping: 10000, Tax: 720, Total: 14718}, pricing)

	dress := domain.OrderItem{ProductID: "dress", Quantity: 1, UnitPriceAtPurchase: 250000}
	pricing, err = policy.Price([]domain.OrderItem{dress}, "INR", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pricing.Shipping, "free shipping above the threshold")
	assert.Equal(t, int64(45000), pricing.Tax)
	assert.Equal(t, int64(294000), pricing.Total)

	_, err = policy.Price([]domain.OrderItem{tee}, "INR", 5000)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = policy.Price([]domain.OrderItem{tee}, "INR", -1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, customer, CheckoutInput{ShippingAddress: address(), PaymentMethod: "card"})
	assert.ErrorIs(t, err, domain.ErrValidation, "empty cart")

	f.catalog.SetCart(customer.ID, []catalog.CartLine{{ProductID: "tee", Quantity: 1}})
	_, err = f.svc.CreateOrder(ctx, customer, CheckoutInput{ShippingAddress: address(), PaymentMethod: "bitcoin"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	noCity := address()
	noCity.City = "  "
	_, err = f.svc.CreateOrder(ctx, customer, CheckoutInput{ShippingAddress: noCity, PaymentMethod: "card"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateOrder(ctx, admin, CheckoutInput{ShippingAddress: address(), PaymentMethod: "card"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.catalog.SetCart(customer.ID, []catalog.CartLine{{ProductID: "tee", Quantity: 1}, {ProductID: "scarf", Quantity: 1}})
	_, err = f.svc.CreateOrder(ctx, customer, CheckoutInput{ShippingAddress: address(), PaymentMethod: "card"})
	assert.ErrorIs(t, err, domain.ErrValidation, "mixed currencies")

	f.catalog.SetCart(customer.ID, []catalog.CartLine{{ProductID: "gone", Quantity: 1}})
	_, err = f.svc.CreateOrder(ctx, customer, CheckoutInput{ShippingAddress: address(), PaymentMethod: "card"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	result, err := f.store.List(ctx, repository.ListOrdersOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Total, "rejected checkouts persist nothing")
}

func TestCashOnDeliveryIsConfirmedAtCreation(t *testing.T) {
	f := newFixture(t)
	order := f.place(t, customer, "COD")

	assert.Equal(t, domain.StatusConfirmed, order.Status)
	assert.Equal(t, domain.PaymentOnDelivery, order.Payment.Status)
	require.Len(t, order.Timeline, 2)
	assert.Equal(t, domain.StatusPending, order.Timeline[1].From)
	assert.True(t, order.Timeline[1].Actor.IsSystem())
	requireConsistent(t, order)

	assert.Len(t, f.events.OfType(notify.EventOrderConfirmed, order.ID), 1)

	_, err := f.svc.CreatePaymentIntent(context.Background(), customer, order.ID, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConfirmedPaymentConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")
	require.Equal(t, int64(1999), order.Pricing.Total)

	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.NoError(t, err)
	assert.False(t, intent.Reused)
	assert.Equal(t, int64(1999), intent.Amount)
	assert.Equal(t, "INR", intent.Currency)
	f.pay(t, intent, "4242424242424242")

	confirmed, err := f.svc.Reconcile(ctx, order.ID, intent.ProcessorReference)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)
	assert.Equal(t, domain.PaymentSucceeded, confirmed.Payment.Status)
	require.NotNil(t, confirmed.Payment.LastReconciledAt)
	require.Len(t, confirmed.Timeline, len(order.Timeline)+1)
	last := confirmed.Timeline[len(confirmed.Timeline)-1]
	assert.Equal(t, domain.StatusPending, last.From)
	assert.Equal(t, domain.StatusConfirmed, last.Status)
	assert.True(t, last.Actor.IsSystem())
	attempt, ok := confirmed.SucceededAttempt()
	require.True(t, ok)
	assert.Equal(t, intent.AttemptID, attempt.ID)
	requireConsistent(t, confirmed)
	assert.Len(t, f.events.OfType(notify.EventOrderConfirmed, order.ID), 1)
}

func TestRepeatedIntentReturnsSameSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "upi")

	first, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.NoError(t, err)
	second, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.NoError(t, err, "a retried request carrying the old version still gets the open attempt")

	assert.Equal(t, first.SessionToken, second.SessionToken)
	assert.Equal(t, first.AttemptID, second.AttemptID)
	assert.True(t, second.Reused)
	assert.Equal(t, 1, f.sim.SessionCount())
	assert.Len(t, f.get(t, order.ID).Attempts, 1)
}

func TestFailedPaymentAllowsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")

	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.NoError(t, err)
	settlement := f.pay(t, intent, "4000000000000002")
	require.Equal(t, processor.SettlementFailed, settlement.Status)

	failed, err := f.svc.ConfirmPayment(ctx, customer, order.ID, intent.ProcessorReference, intent.OrderVersion)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, failed.Status)
	assert.Equal(t, domain.PaymentFailed, failed.Payment.Status)
	require.Len(t, failed.Attempts, 1)
	assert.Equal(t, domain.OutcomeFailed, failed.Attempts[0].Outcome)
	assert.Equal(t, "card_declined", failed.Attempts[0].FailureReason)
	assert.Len(t, failed.Timeline, 1, "a failed payment does not move the order")

	retry, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, failed.Version)
	require.NoError(t, err)
	assert.NotEqual(t, intent.SessionToken, retry.SessionToken)
	assert.False(t, retry.Reused)

	stored := f.get(t, order.ID)
	require.Len(t, stored.Attempts, 2)
	assert.Equal(t, 2, stored.Attempts[1].Sequence)
	assert.Equal(t, domain.OutcomePending, stored.Attempts[1].Outcome)
	requireConsistent(t, stored)

	f.pay(t, retry, "4242424242424242")
	paid, err := f.svc.ConfirmPayment(ctx, customer, order.ID, retry.ProcessorReference, retry.OrderVersion)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, paid.Status)
	requireConsistent(t, paid)

	_, err = f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition, "a paid order never gets another attempt")
}

func TestCancelledOrderGetsNoSessionToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")

	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.NoError(t, err)
	cancelled, err := f.svc.CancelOrder(ctx, customer, order.ID, intent.OrderVersion, "changed my mind")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)

	again, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Empty(t, again.SessionToken)
	assert.Equal(t, 1, f.sim.SessionCount())
}

func TestProcessor404WithoutCodeLeavesAttemptPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")
	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.NoError(t, err)
	f.pay(t, intent, "4242424242424242")

	misrouted := httptest.NewServer(http.NotFoundHandler())
	defer misrouted.Close()
	gateway := processor.NewHTTPGateway(misrouted.URL+"/wrong", "", time.Second)
	svc := NewOrderService(f.store, f.catalog, gateway, f.events, Options{Pricing: PricingPolicy{Currency: "INR"}}).WithClock(f.clock.Now)

	_, err = svc.Reconcile(ctx, order.ID, intent.ProcessorReference)
	assert.ErrorIs(t, err, domain.ErrTransientProcessor)

	stored := f.get(t, order.ID)
	require.Len(t, stored.Attempts, 1)
	assert.Equal(t, domain.OutcomePending, stored.Attempts[0].Outcome)
	assert.Equal(t, order.Status, stored.Status)

	reused, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	require.NoError(t, err)
	assert.True(t, reused.Reused, "no second attempt while the first may have been charged")

	confirmed, err := f.svc.Reconcile(ctx, order.ID, intent.ProcessorReference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)
	requireConsistent(t, confirmed)
}

func TestConcurrentStatusChangesHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "cod")
	require.Equal(t, domain.StatusConfirmed, order.Status)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	requests := []struct {
		actor  domain.Actor
		status domain.OrderStatus
	}{
		{admin, domain.StatusProcessing},
		{customer, domain.StatusCancelled},
	}
	for i, r := range requests {
		wg.Add(1)
		go func(i int, actor domain.Actor, status domain.OrderStatus) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.RequestStatusChange(ctx, actor, order.ID, StatusChangeRequest{
				ExpectedVersion: order.Version,
				Status:          string(status),
			})
		}(i, r.actor, r.status)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrStaleState)
	}
	assert.Equal(t, 1, succeeded)

	stored := f.get(t, order.ID)
	assert.Len(t, stored.Timeline, len(order.Timeline)+1)
	assert.Equal(t, order.Version+1, stored.Version)
	requireConsistent(t, stored)
}

func TestTimedOutConfirmationIsResolvedBySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")

	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.NoError(t, err)
	f.pay(t, intent, "4242424242424242")

	f.sim.FailNext(processor.OpQuerySettlement, 1)
	_, err = f.svc.ConfirmPayment(ctx, customer, order.ID, intent.ProcessorReference, intent.OrderVersion)
	require.ErrorIs(t, err, domain.ErrTransientProcessor)

	untouched := f.get(t, order.ID)
	assert.Equal(t, domain.StatusPending, untouched.Status)
	assert.Equal(t, intent.OrderVersion, untouched.Version, "a transient failure writes nothing")
	active, ok := untouched.ActiveAttempt()
	require.True(t, ok)
	assert.Equal(t, intent.ProcessorReference, active.ProcessorReference)

	f.clock.Advance(5 * time.Minute)
	sweeper := NewSweeper(f.svc, SweepConfig{PendingThreshold: 2 * time.Minute, Workers: 2}, nil)
	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Confirmed: 1}, report)

	confirmed := f.get(t, order.ID)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)

	again, err := f.svc.ConfirmPayment(ctx, customer, order.ID, intent.ProcessorReference, intent.OrderVersion)
	require.NoError(t, err, "the late manual retry is a no-op")
	assert.Equal(t, confirmed, again)

	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)

	assert.Len(t, f.events.OfType(notify.EventOrderConfirmed, order.ID), 1)
	requireConsistent(t, again)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")
	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	require.NoError(t, err)
	f.pay(t, intent, "4242424242424242")

	first, err := f.svc.Reconcile(ctx, order.ID, intent.ProcessorReference)
	require.NoError(t, err)
	second, err := f.svc.Reconcile(ctx, order.ID, intent.ProcessorReference)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.events.OfType(notify.EventOrderConfirmed, order.ID), 1)
}

func TestConcurrentReconcileAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")
	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	require.NoError(t, err)
	f.pay(t, intent, "4242424242424242")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reconcile(ctx, order.ID, intent.ProcessorReference)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored := f.get(t, order.ID)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
	assert.Len(t, stored.Timeline, 2)
	assert.Len(t, f.events.OfType(notify.EventOrderConfirmed, order.ID), 1)
	requireConsistent(t, stored)
}

func TestConcurrentIntentsShareOneAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "wallet")

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	errs := make([]error, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
			tokens[i], errs[i] = intent.SessionToken, err
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
	stored := f.get(t, order.ID)
	assert.Len(t, stored.Attempts, 1)
	assert.Equal(t, 1, f.sim.SessionCount())
}

func TestIntentProcessorFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")

	f.sim.FailNext(processor.OpCreateSession, 1)
	_, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.ErrorIs(t, err, domain.ErrTransientProcessor)

	stored := f.get(t, order.ID)
	assert.Empty(t, stored.Attempts)
	assert.Equal(t, order.Version, stored.Version)

	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version)
	require.NoError(t, err, "the caller may retry freely")
	assert.NotEmpty(t, intent.SessionToken)
}

func TestIntentChecksOwnershipAndVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")

	_, err := f.svc.CreatePaymentIntent(ctx, other, order.ID, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound, "other customers cannot see the order")

	_, err = f.svc.CreatePaymentIntent(ctx, admin, order.ID, 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.CreatePaymentIntent(ctx, customer, order.ID, order.Version+3)
	var stale *domain.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, order.Version, stale.Actual)
}

func TestConfirmPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")
	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, customer, order.ID, "", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ConfirmPayment(ctx, customer, order.ID, "sess_unknown", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.ConfirmPayment(ctx, customer, order.ID, intent.ProcessorReference, 1)
	assert.ErrorIs(t, err, domain.ErrStaleState)

	pending, err := f.svc.ConfirmPayment(ctx, customer, order.ID, intent.ProcessorReference, intent.OrderVersion)
	require.NoError(t, err)
	assert.Equal(t, intent.OrderVersion, pending.Version, "an unsettled session changes nothing")
	assert.Equal(t, domain.StatusPending, pending.Status)
}

func TestReconcileUnknownSessionFailsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")
	_, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	require.NoError(t, err)

	stored := f.get(t, order.ID)
	stored.Attempts[0].ProcessorReference = "sess_forgotten"
	_, err = f.store.Update(ctx, stored, stored.Version)
	require.NoError(t, err)

	reconciled, err := f.svc.Reconcile(ctx, order.ID, "sess_forgotten")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, reconciled.Attempts[0].Outcome)
	assert.Equal(t, unknownSessionReason, reconciled.Attempts[0].FailureReason)
	assert.Equal(t, domain.StatusPending, reconciled.Status)
}

func TestApplyWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")
	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	require.NoError(t, err)
	settlement := f.pay(t, intent, "4242424242424242")
	session, ok := f.sim.Session(intent.ProcessorReference)
	require.True(t, ok)

	event := processor.EventFor(session, settlement)
	confirmed, err := f.svc.ApplyWebhook(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)

	replayed, err := f.svc.ApplyWebhook(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, confirmed, replayed)
	assert.Len(t, f.events.OfType(notify.EventOrderConfirmed, order.ID), 1)

	_, err = f.svc.ApplyWebhook(ctx, processor.WebhookEvent{ID: "evt", Type: "payment.refunded"})
	assert.ErrorIs(t, err, ErrEventIgnored)

	unknown := event
	unknown.Data.Reference = "sess_nobody"
	_, err = f.svc.ApplyWebhook(ctx, unknown)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettlementAmountMismatchIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, customer, "card")
	intent, err := f.svc.CreatePaymentIntent(ctx, customer, order.ID, 0)
	require.NoError(t, err)

	event := processor.WebhookEvent{
		ID:      "evt_1",
		Type:    processor.EventPaymentSucceeded,
		Created: f.clock.Now().Unix(),
		Data:    processor.WebhookData{Reference: intent.ProcessorReference, Amount: 1, Currency: "INR"},
	}
	_, err = f.svc.ApplyWebhook(ctx, event)
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored := f.get(t, order.ID)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, domain.OutcomePending, stored.Attempts[0].Outcome)
}

func TestListOrdersScopesCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.place(t, customer, "card")
	f.clock.Advance(time.Minute)
	f.place(t, customer, "cod")
	f.clock.Advance(time.Minute)
	f.place(t, other, "upi")

	mine, err := f.svc.ListOrders(ctx, customer, ListOrdersParams{CustomerID: other.ID})
	require.NoError(t, err)
	assert.Len(t, mine.Items, 2)
	assert.Nil(t, mine.StatusCounts)
	assert.Equal(t, PaginationMeta{Page: 1, PageSize: 20, TotalItems: 2, TotalPages: 1}, mine.Pagination)

	all, err := f.svc.ListOrders(ctx, admin, ListOrdersParams{Status: "pending", PageSize: 1})
	require.NoError(t, err)
	assert.Len(t, all.Items, 1)
	assert.Equal(t, int64(2), all.Pagination.TotalItems)
	assert.Equal(t, 2, all.Pagination.TotalPages)
	assert.Equal(t, other.ID, all.Items[0].CustomerID, "newest first")
	assert.Equal(t, int64(2), all.StatusCounts[domain.StatusPending])
	assert.Equal(t, int64(1), all.StatusCounts[domain.StatusConfirmed])

	_, err = f.svc.ListOrders(ctx, admin, ListOrdersParams{Status: "lost"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.GetOrder(ctx, other, mine.Items[0].ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
