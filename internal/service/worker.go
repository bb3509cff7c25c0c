package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// TaskError accumulates multiple errors produced by a worker pool run.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d errors:", len(e.Errors))
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	return e.Errors
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// BulkOrder is one order to place on behalf of a customer.
type BulkOrder struct {
	CustomerID string
	Input      CheckoutInput
	// OpenIntent also opens a payment attempt for processor-backed orders.
	OpenIntent bool
}

// BulkCheckout places many orders concurrently, e.g. when seeding a store
// from generated carts.
type BulkCheckout struct {
	service *OrderService
	workers int
}

// NewBulkCheckout creates a BulkCheckout with the provided concurrency.
func NewBulkCheckout(service *OrderService, workers int) *BulkCheckout {
	if workers <= 0 {
		workers = 4
	}
	return &BulkCheckout{
		service: service,
		workers: workers,
	}
}

// PlaceOrders processes the provided orders concurrently. The returned slice
// is index aligned with orders; failed entries are left zero.
func (bc *BulkCheckout) PlaceOrders(ctx context.Context, orders []BulkOrder) ([]domain.Order, error) {
	placed := make([]domain.Order, len(orders))
	err := runPool(ctx, bc.workers, len(orders), func(idx int) error {
		req := orders[idx]
		actor := domain.Actor{ID: req.CustomerID, Role: domain.RoleCustomer}
		order, err := bc.service.CreateOrder(ctx, actor, req.Input)
		if err != nil {
			return fmt.Errorf("customer %s: %w", req.CustomerID, err)
		}
		if req.OpenIntent && order.Payment.Method.RequiresProcessor() {
			intent, err := bc.service.CreatePaymentIntent(ctx, actor, order.ID, order.Version)
			if err != nil {
				return fmt.Errorf("order %s intent: %w", order.ID, err)
			}
			if order, err = bc.service.GetOrder(ctx, actor, intent.OrderID); err != nil {
				return err
			}
		}
		placed[idx] = order
		return nil
	})
	return placed, err
}

// runPool calls workerFn for every index in [0, total) on at most workers
// goroutines. Context errors are returned as is; everything else is
// collected into a *TaskError.
func runPool(ctx context.Context, workers, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}
	var taskErr TaskError
	for err := range errCh {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	return taskErr.asError()
}
