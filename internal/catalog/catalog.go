// Package catalog is the read side of the storefront's product and cart data
// as seen by checkout. Checkout only calls it while an order is being created.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/vanshika/checkout/backend/internal/domain"
)

// ErrProductNotFound is returned for unknown product ids.
var ErrProductNotFound = fmt.Errorf("product %w", domain.ErrNotFound)

// CartLine is one entry of a customer's cart.
type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

// Price is the live catalog price of a product in minor units.
type Price struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// Catalog is the collaborator checkout reads carts and prices from.
type Catalog interface {
	GetCartSnapshot(ctx context.Context, userID string) ([]CartLine, error)
	GetCurrentPrice(ctx context.Context, productID string) (Price, error)
}

// CartClearer is implemented by catalogs that empty the cart once an order
// has been placed from it.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

// Product is a sellable item in the dataset.
type Product struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Price    int64    `json:"price"`
	Currency string   `json:"currency"`
	Sizes    []string `json:"sizes,omitempty"`
	Colors   []string `json:"colors,omitempty"`
}

// Cart is a customer's saved cart.
type Cart struct {
	UserID string     `json:"userId"`
	Lines  []CartLine `json:"lines"`
}

// Dataset is the on-disk layout read by Load and written by the generator.
type Dataset struct {
	Products []Product `json:"products"`
	Carts    []Cart    `json:"carts"`
}

// Static serves a fixed dataset from memory. Prices and carts can be changed
// at runtime, which the admin tooling and tests use.
type Static struct {
	mu       sync.RWMutex
	products map[string]Product
	carts    map[string][]CartLine
}

// NewStatic indexes the dataset.
func NewStatic(ds Dataset) *Static {
	s := &Static{
		products: make(map[string]Product, len(ds.Products)),
		carts:    make(map[string][]CartLine, len(ds.Carts)),
	}
	for _, p := range ds.Products {
		s.products[p.ID] = p
	}
	for _, c := range ds.Carts {
		s.carts[c.UserID] = append([]CartLine(nil), c.Lines...)
	}
	return s
}

// Load reads a dataset file. An empty path yields an empty catalog.
func Load(path string) (*Static, error) {
	if path == "" {
		return NewStatic(Dataset{}), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var ds Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return NewStatic(ds), nil
}

func (s *Static) GetCartSnapshot(ctx context.Context, userID string) ([]CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CartLine(nil), s.carts[userID]...), nil
}

func (s *Static) GetCurrentPrice(ctx context.Context, productID string) (Price, error) {
	if err := ctx.Err(); err != nil {
		return Price{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return Price{}, fmt.Errorf("%s: %w", productID, ErrProductNotFound)
	}
	return Price{ProductID: p.ID, Name: p.Name, Amount: p.Price, Currency: p.Currency}, nil
}

func (s *Static) ClearCart(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

// SetCart replaces a customer's cart.
func (s *Static) SetCart(userID string, lines []CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = append([]CartLine(nil), lines...)
}

// SetPrice changes the live price of an existing product.
func (s *Static) SetPrice(productID string, amount int64) error {
	if amount < 0 {
		return errors.New("price must not be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%s: %w", productID, ErrProductNotFound)
	}
	p.Price = amount
	s.products[productID] = p
	return nil
}

// Upsert adds or replaces a product.
func (s *Static) Upsert(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// Carts lists every non-empty cart, used by bulk ingestion.
func (s *Static) Carts() []Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cart, 0, len(s.carts))
	for userID, lines := range s.carts {
		if len(lines) == 0 {
			continue
		}
		out = append(out, Cart{UserID: userID, Lines: append([]CartLine(nil), lines...)})
	}
	return out
}
