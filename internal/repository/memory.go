package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// Memory is a process-local order store. Every read and write copies the
// order so callers never share slices with the store.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	refs   map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]domain.Order),
		refs:   make(map[string]string),
	}
}

func (m *Memory) Create(_ context.Context, order domain.Order) error {
	if err := validateForWrite(order); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return fmt.Errorf("create order %s: %w", order.ID, ErrAlreadyExists)
	}
	m.orders[order.ID] = order.Clone()
	m.indexRefs(order)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, notFound(id)
	}
	return order.Clone(), nil
}

// Update stores order if the stored version still equals expectedVersion.
func (m *Memory) Update(_ context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	if err := validateForWrite(order); err != nil {
		return domain.Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.orders[order.ID]
	if !ok {
		return domain.Order{}, notFound(order.ID)
	}
	if current.Version != expectedVersion {
		return domain.Order{}, staleState(order.ID, expectedVersion, current.Version)
	}

	next := order.Clone()
	next.Version = expectedVersion + 1
	m.orders[order.ID] = next
	m.indexRefs(next)
	return next.Clone(), nil
}

func (m *Memory) List(_ context.Context, opts ListOrdersOptions) (domain.OrderListResult, error) {
	return listFromSnapshot(m.snapshot(), opts), nil
}

func (m *Memory) FindByProcessorReference(_ context.Context, ref string) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.refs[ref]
	if !ok {
		return domain.Order{}, fmt.Errorf("processor reference %s: %w", ref, domain.ErrNotFound)
	}
	return m.orders[id].Clone(), nil
}

func (m *Memory) ListAwaitingSettlement(_ context.Context, openedBefore time.Time, limit int) ([]domain.Order, error) {
	return selectAwaiting(m.snapshot(), openedBefore, limit), nil
}

func (m *Memory) ListUnpaid(_ context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	return selectUnpaid(m.snapshot(), createdBefore, limit), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) snapshot() []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, order := range m.orders {
		out = append(out, order.Clone())
	}
	return out
}

// indexRefs must be called with mu held.
func (m *Memory) indexRefs(order domain.Order) {
	for _, ref := range order.ProcessorReferences() {
		if ref != "" {
			m.refs[ref] = order.ID
		}
	}
}
