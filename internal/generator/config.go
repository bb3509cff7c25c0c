package generator

// Config drives the synthetic storefront generator.
type Config struct {
	NumProducts int
	NumShoppers int
	// MaxCartLines bounds how many distinct products a cart holds.
	MaxCartLines int
	// CODChance is the share of shoppers paying cash on delivery.
	CODChance float64
	// SharedAddressChance reuses an earlier shopper's address, as households do.
	SharedAddressChance float64
	Currency            string
	Seed                int64
}

// DefaultConfig returns settings suitable for a local demo store.
func DefaultConfig() Config {
	return Config{
		NumProducts:         200,
		NumShoppers:         1000,
		MaxCartLines:        4,
		CODChance:           0.2,
		SharedAddressChance: 0.15,
		Currency:            "INR",
		Seed:                42,
	}
}
