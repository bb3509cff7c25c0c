package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/vanshika/checkout/backend/internal/catalog"
	"github.com/vanshika/checkout/backend/internal/service"
)

// Dataset is a generated storefront: products with live prices, a cart per
// shopper and the details each shopper checks out with.
type Dataset struct {
	Catalog  catalog.Dataset `json:"catalog"`
	Shoppers []Shopper       `json:"shoppers"`
}

// Shopper is a customer ready to check out their cart.
type Shopper struct {
	UserID        string               `json:"userId"`
	PaymentMethod string               `json:"paymentMethod"`
	Address       service.AddressInput `json:"address"`
}

// Generator produces synthetic catalog and cart data.
type Generator struct {
	cfg       Config
	rand      *rand.Rand
	fragments nameFragments
	addresses []service.AddressInput
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumProducts <= 0 {
		cfg.NumProducts = def.NumProducts
	}
	if cfg.NumShoppers <= 0 {
		cfg.NumShoppers = def.NumShoppers
	}
	if cfg.MaxCartLines <= 0 {
		cfg.MaxCartLines = def.MaxCartLines
	}
	if cfg.CODChance < 0 {
		cfg.CODChance = def.CODChance
	}
	if cfg.SharedAddressChance < 0 {
		cfg.SharedAddressChance = def.SharedAddressChance
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:       cfg,
		rand:      rand.New(rand.NewSource(cfg.Seed)),
		fragments: defaultNameFragments(),
	}
}

// Generate synthesises products, carts and shoppers. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	products := make([]catalog.Product, g.cfg.NumProducts)
	for i := range products {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		products[i] = g.randomProduct(i)
	}

	carts := make([]catalog.Cart, 0, g.cfg.NumShoppers)
	shoppers := make([]Shopper, 0, g.cfg.NumShoppers)
	for i := 0; i < g.cfg.NumShoppers; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		userID := fmt.Sprintf("CUST-%06d", i+1)
		carts = append(carts, catalog.Cart{UserID: userID, Lines: g.randomCart(products)})
		shoppers = append(shoppers, Shopper{
			UserID:        userID,
			PaymentMethod: g.randomPaymentMethod(),
			Address:       g.maybeSharedAddress(),
		})
	}

	return Dataset{
		Catalog:  catalog.Dataset{Products: products, Carts: carts},
		Shoppers: shoppers,
	}, nil
}

func (g *Generator) randomProduct(idx int) catalog.Product {
	category := g.fragments.categories[g.rand.Intn(len(g.fragments.categories))]
	name := fmt.Sprintf("%s %s %s",
		g.fragments.adjectives[g.rand.Intn(len(g.fragments.adjectives))],
		g.fragments.fabrics[g.rand.Intn(len(g.fragments.fabrics))],
		category)
	// Whole-rupee prices ending in 99, from 299 to 9899.
	price := int64(299+g.rand.Intn(97)*100) * 100
	colors := g.pick(g.fragments.colors, 1+g.rand.Intn(3))
	return catalog.Product{
		ID:       fmt.Sprintf("SKU-%05d", idx+1),
		Name:     name,
		Category: category,
		Price:    price,
		Currency: g.cfg.Currency,
		Sizes:    []string{"XS", "S", "M", "L", "XL"},
		Colors:   colors,
	}
}

func (g *Generator) randomCart(products []catalog.Product) []catalog.CartLine {
	count := 1 + g.rand.Intn(g.cfg.MaxCartLines)
	seen := make(map[string]struct{}, count)
	lines := make([]catalog.CartLine, 0, count)
	for len(lines) < count && len(seen) < len(products) {
		p := products[g.rand.Intn(len(products))]
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		lines = append(lines, catalog.CartLine{
			ProductID: p.ID,
			Quantity:  1 + g.rand.Intn(3),
			Size:      p.Sizes[g.rand.Intn(len(p.Sizes))],
			Color:     p.Colors[g.rand.Intn(len(p.Colors))],
		})
	}
	return lines
}

func (g *Generator) randomPaymentMethod() string {
	if g.rand.Float64() < g.cfg.CODChance {
		return "cod"
	}
	methods := []string{"card", "upi", "net_banking", "wallet"}
	return methods[g.rand.Intn(len(methods))]
}

func (g *Generator) maybeSharedAddress() service.AddressInput {
	if len(g.addresses) > 0 && g.rand.Float64() < g.cfg.SharedAddressChance {
		return g.addresses[g.rand.Intn(len(g.addresses))]
	}
	first := g.fragments.first[g.rand.Intn(len(g.fragments.first))]
	last := g.fragments.last[g.rand.Intn(len(g.fragments.last))]
	city := g.rand.Intn(len(g.fragments.cities))
	addr := service.AddressInput{
		FirstName: first,
		LastName:  last,
		Email:     fmt.Sprintf("%s.%s%d@%s", first, last, g.rand.Intn(100), g.fragments.domains[g.rand.Intn(len(g.fragments.domains))]),
		Phone:     fmt.Sprintf("+91%d%09d", 6+g.rand.Intn(4), g.rand.Intn(1_000_000_000)),
		Line1: fmt.Sprintf("%d %s %s", g.rand.Intn(300)+1,
			g.fragments.streetNames[g.rand.Intn(len(g.fragments.streetNames))],
			g.fragments.streetSuffix[g.rand.Intn(len(g.fragments.streetSuffix))]),
		City:    g.fragments.cities[city],
		State:   g.fragments.states[city],
		ZipCode: fmt.Sprintf("%06d", 110000+g.rand.Intn(750000)),
		Country: "IN",
	}
	g.addresses = append(g.addresses, addr)
	return addr
}

func (g *Generator) pick(from []string, n int) []string {
	idx := g.rand.Perm(len(from))
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]string, 0, n)
	for _, i := range idx[:n] {
		out = append(out, from[i])
	}
	return out
}

type nameFragments struct {
	first        []string
	last         []string
	domains      []string
	streetNames  []string
	streetSuffix []string
	cities       []string
	states       []string // index aligned with cities
	categories   []string
	adjectives   []string
	fabrics      []string
	colors       []string
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		first:        []string{"Aarav", "Priya", "Kavya", "Rohan", "Meera", "Arjun", "Ananya", "Ishaan", "Diya", "Vikram", "Sara", "Kabir", "Nisha", "Aditi", "Zoya"},
		last:         []string{"Sharma", "Iyer", "Nair", "Patel", "Reddy", "Khan", "Gupta", "Menon", "Das", "Singh", "Rao", "Bose"},
		domains:      []string{"example.com", "mail.com", "inbox.in", "postbox.net"},
		streetNames:  []string{"MG", "Park", "Residency", "Church", "Brigade", "Linking", "Hill", "Lake", "Temple", "Station"},
		streetSuffix: []string{"Road", "Street", "Marg", "Lane", "Cross", "Nagar"},
		cities:       []string{"Bengaluru", "Mumbai", "Chennai", "Kochi", "Delhi", "Hyderabad", "Pune", "Kolkata", "Jaipur"},
		states:       []string{"KA", "MH", "TN", "KL", "DL", "TS", "MH", "WB", "RJ"},
		categories:   []string{"Kurta", "Saree", "Dress", "Shirt", "Scarf", "Jacket", "Skirt", "Tee"},
		adjectives:   []string{"Classic", "Handloom", "Festive", "Everyday", "Tailored", "Relaxed", "Block-Print"},
		fabrics:      []string{"Cotton", "Linen", "Silk", "Chanderi", "Khadi", "Denim", "Rayon"},
		colors:       []string{"indigo", "ivory", "mustard", "maroon", "sage", "charcoal", "rust", "teal"},
	}
}
