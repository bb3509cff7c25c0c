package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/vanshika/checkout/backend/internal/domain"
)

var (
	ordersBucket = []byte("orders")
	refsBucket   = []byte("processor_refs")
)

// Bolt keeps orders as JSON documents in a single BoltDB file. Bolt allows one
// writer at a time, so the version compare and the put inside one Update
// transaction form the per-order compare-and-swap.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database at path and ensures its buckets exist.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{ordersBucket, refsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close releases the database file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Create(_ context.Context, order domain.Order) error {
	if err := validateForWrite(order); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		orders := tx.Bucket(ordersBucket)
		if orders.Get([]byte(order.ID)) != nil {
			return fmt.Errorf("create order %s: %w", order.ID, ErrAlreadyExists)
		}
		return putOrder(tx, order)
	})
}

func (b *Bolt) Get(_ context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		order, err = getOrder(tx, id)
		return err
	})
	return order, err
}

// Update stores order if the stored version still equals expectedVersion.
func (b *Bolt) Update(_ context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	if err := validateForWrite(order); err != nil {
		return domain.Order{}, err
	}

	next := order.Clone()
	err := b.db.Update(func(tx *bolt.Tx) error {
		current, err := getOrder(tx, order.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return staleState(order.ID, expectedVersion, current.Version)
		}
		next.Version = expectedVersion + 1
		return putOrder(tx, next)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return next, nil
}

func (b *Bolt) List(_ context.Context, opts ListOrdersOptions) (domain.OrderListResult, error) {
	all, err := b.all()
	if err != nil {
		return domain.OrderListResult{}, err
	}
	return listFromSnapshot(all, opts), nil
}

func (b *Bolt) FindByProcessorReference(_ context.Context, ref string) (domain.Order, error) {
	var order domain.Order
	err := b.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(refsBucket).Get([]byte(ref))
		if id == nil {
			return fmt.Errorf("processor reference %s: %w", ref, domain.ErrNotFound)
		}
		var err error
		order, err = getOrder(tx, string(id))
		return err
	})
	return order, err
}

func (b *Bolt) ListAwaitingSettlement(_ context.Context, openedBefore time.Time, limit int) ([]domain.Order, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	return selectAwaiting(all, openedBefore, limit), nil
}

func (b *Bolt) ListUnpaid(_ context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	return selectUnpaid(all, createdBefore, limit), nil
}

// Ping checks that the orders bucket is readable.
func (b *Bolt) Ping(context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(ordersBucket) == nil {
			return errors.New("orders bucket missing")
		}
		return nil
	})
}

func (b *Bolt) all() ([]domain.Order, error) {
	var out []domain.Order
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ordersBucket).ForEach(func(k, v []byte) error {
			var order domain.Order
			if err := json.Unmarshal(v, &order); err != nil {
				return fmt.Errorf("decode order %s: %w", k, err)
			}
			out = append(out, order)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getOrder(tx *bolt.Tx, id string) (domain.Order, error) {
	raw := tx.Bucket(ordersBucket).Get([]byte(id))
	if raw == nil {
		return domain.Order{}, notFound(id)
	}
	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	return order, nil
}

func putOrder(tx *bolt.Tx, order domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	if err := tx.Bucket(ordersBucket).Put([]byte(order.ID), data); err != nil {
		return err
	}
	refs := tx.Bucket(refsBucket)
	for _, ref := range order.ProcessorReferences() {
		if ref == "" {
			continue
		}
		if err := refs.Put([]byte(ref), []byte(order.ID)); err != nil {
			return err
		}
	}
	return nil
}
