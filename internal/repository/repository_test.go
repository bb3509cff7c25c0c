package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/checkout/backend/internal/domain"
)

type store interface {
	Create(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error)
	List(ctx context.Context, opts ListOrdersOptions) (domain.OrderListResult, error)
	FindByProcessorReference(ctx context.Context, ref string) (domain.Order, error)
	ListAwaitingSettlement(ctx context.Context, openedBefore time.Time, limit int) ([]domain.Order, error)
	ListUnpaid(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error)
	Ping(ctx context.Context) error
}

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func sampleOrder(id, customer string, created time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "ORD" + id,
		CustomerID:  customer,
		Items:       []domain.OrderItem{{ProductID: "p-1", Name: "Linen Shirt", Quantity: 2, UnitPriceAtPurchase: 99950}},
		Pricing:     domain.Pricing{Currency: "INR", Subtotal: 199900, Total: 199900},
		Status:      domain.StatusPending,
		Payment:     domain.Payment{Method: domain.MethodCard, Status: domain.PaymentPending},
		Timeline:    []domain.TimelineEntry{{Status: domain.StatusPending, Timestamp: created, Actor: domain.Actor{ID: customer, Role: domain.RoleCustomer}}},
		Version:     1,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func withAttempt(order domain.Order, ref string, outcome domain.AttemptOutcome, opened time.Time) domain.Order {
	order.Attempts = append(order.Attempts, domain.PaymentAttempt{
		ID:                 "att-" + ref,
		OrderID:            order.ID,
		Sequence:           len(order.Attempts) + 1,
		ProcessorReference: ref,
		Amount:             order.Pricing.Total,
		Currency:           order.Pricing.Currency,
		Outcome:            outcome,
		CreatedAt:          opened,
	})
	return order
}

func stores(t *testing.T) map[string]store {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]store{
		"memory": NewMemory(),
		"bolt":   bolt,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			order := sampleOrder("o-1", "cust-1", base)
			require.NoError(t, s.Create(ctx, order))

			err := s.Create(ctx, order)
			assert.ErrorIs(t, err, ErrAlreadyExists)

			got, err := s.Get(ctx, "o-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Version)
			assert.Equal(t, order.Pricing, got.Pricing)
			assert.True(t, got.CreatedAt.Equal(base))

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			assert.NoError(t, s.Ping(ctx))
		})
	}
}

func TestStoreUpdateIsCompareAndSwap(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, sampleOrder("o-cas", "cust-1", base)))

			current, err := s.Get(ctx, "o-cas")
			require.NoError(t, err)
			current.Notes = "gift wrap"

			updated, err := s.Update(ctx, current, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), updated.Version)

			current.Notes = "lost update"
			_, err = s.Update(ctx, current, 1)
			require.Error(t, err)
			var stale *domain.StaleStateError
			require.True(t, errors.As(err, &stale))
			assert.Equal(t, int64(1), stale.Expected)
			assert.Equal(t, int64(2), stale.Actual)

			got, err := s.Get(ctx, "o-cas")
			require.NoError(t, err)
			assert.Equal(t, "gift wrap", got.Notes)

			_, err = s.Update(ctx, sampleOrder("ghost", "cust-1", base), 1)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestStoreConcurrentUpdatesHaveOneWinner(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, sampleOrder("o-race", "cust-1", base)))
			snapshot, err := s.Get(ctx, "o-race")
			require.NoError(t, err)

			var wins, stale int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					next := snapshot.Clone()
					next.Notes = fmt.Sprintf("writer-%d", i)
					_, err := s.Update(ctx, next, snapshot.Version)
					switch {
					case err == nil:
						atomic.AddInt32(&wins, 1)
					case errors.Is(err, domain.ErrStaleState):
						atomic.AddInt32(&stale, 1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins)
			assert.Equal(t, int32(7), stale)
		})
	}
}

func TestStoreFindByProcessorReference(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			order := sampleOrder("o-ref", "cust-1", base)
			require.NoError(t, s.Create(ctx, order))

			order = withAttempt(order, "sess_1", domain.OutcomePending, base)
			_, err := s.Update(ctx, order, 1)
			require.NoError(t, err)

			found, err := s.FindByProcessorReference(ctx, "sess_1")
			require.NoError(t, err)
			assert.Equal(t, "o-ref", found.ID)
			assert.Equal(t, int64(2), found.Version)

			_, err = s.FindByProcessorReference(ctx, "sess_unknown")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestStoreSweepQueries(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			stuck := withAttempt(sampleOrder("o-stuck", "c", base), "sess_old", domain.OutcomePending, base)
			fresh := withAttempt(sampleOrder("o-fresh", "c", base), "sess_new", domain.OutcomePending, base.Add(time.Hour))
			abandoned := withAttempt(sampleOrder("o-abandoned", "c", base), "sess_failed", domain.OutcomeFailed, base)
			cod := sampleOrder("o-cod", "c", base)
			cod.Payment.Method = domain.MethodCashOnDelivery
			cancelled := withAttempt(sampleOrder("o-cancelled", "c", base), "sess_late", domain.OutcomePending, base.Add(-time.Minute))
			cancelled.Status = domain.StatusCancelled

			for _, o := range []domain.Order{stuck, fresh, abandoned, cod, cancelled} {
				require.NoError(t, s.Create(ctx, o))
			}

			cutoff := base.Add(30 * time.Minute)
			awaiting, err := s.ListAwaitingSettlement(ctx, cutoff, 10)
			require.NoError(t, err)
			require.Len(t, awaiting, 2)
			assert.Equal(t, "o-cancelled", awaiting[0].ID, "oldest attempt first")
			assert.Equal(t, "o-stuck", awaiting[1].ID)

			limited, err := s.ListAwaitingSettlement(ctx, cutoff, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			unpaidOrders, err := s.ListUnpaid(ctx, cutoff, 10)
			require.NoError(t, err)
			require.Len(t, unpaidOrders, 1)
			assert.Equal(t, "o-abandoned", unpaidOrders[0].ID)
		})
	}
}

func TestStoreListFiltersAndCounts(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				o := sampleOrder(fmt.Sprintf("a%d", i), "alice", base.Add(time.Duration(i)*time.Minute))
				if i%2 == 1 {
					o.Status = domain.StatusConfirmed
				}
				require.NoError(t, s.Create(ctx, o))
			}
			require.NoError(t, s.Create(ctx, sampleOrder("b0", "bob", base)))

			res, err := s.List(ctx, ListOrdersOptions{CustomerID: "alice", Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, int64(5), res.Total)
			require.Len(t, res.Items, 2)
			assert.Equal(t, "a4", res.Items[0].ID, "newest first by default")
			assert.Equal(t, int64(3), res.StatusCounts[domain.StatusPending])
			assert.Equal(t, int64(2), res.StatusCounts[domain.StatusConfirmed])

			res, err = s.List(ctx, ListOrdersOptions{Status: domain.StatusConfirmed, SortOrder: "asc"})
			require.NoError(t, err)
			assert.Equal(t, int64(2), res.Total)
			assert.Equal(t, "a1", res.Items[0].ID)
			assert.Equal(t, int64(4), res.StatusCounts[domain.StatusPending], "counts ignore the status filter")

			res, err = s.List(ctx, ListOrdersOptions{Search: "ordb"})
			require.NoError(t, err)
			require.Len(t, res.Items, 1)
			assert.Equal(t, "bob", res.Items[0].CustomerID)

			res, err = s.List(ctx, ListOrdersOptions{Offset: 100})
			require.NoError(t, err)
			assert.Empty(t, res.Items)
			assert.Equal(t, int64(6), res.Total)
		})
	}
}

func TestListOptionsNormalized(t *testing.T) {
	opts := ListOrdersOptions{Limit: 1000, Offset: -3, Search: "  ORD26 "}.normalized()
	assert.Equal(t, maxListLimit, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Equal(t, "ord26", opts.Search)

	assert.Equal(t, defaultListLimit, ListOrdersOptions{}.normalized().Limit)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, sampleOrder("o-copy", "c", base)))

	got, err := m.Get(ctx, "o-copy")
	require.NoError(t, err)
	got.Timeline = append(got.Timeline, domain.TimelineEntry{Status: domain.StatusCancelled})
	got.Items[0].Quantity = 50

	again, err := m.Get(ctx, "o-copy")
	require.NoError(t, err)
	assert.Len(t, again.Timeline, 1)
	assert.Equal(t, 2, again.Items[0].Quantity)
}
