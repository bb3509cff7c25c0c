package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vanshika/checkout/backend/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	var (
		products     = flag.Int("products", cfg.NumProducts, "number of catalog products to generate")
		shoppers     = flag.Int("shoppers", cfg.NumShoppers, "number of shoppers, each with one cart")
		maxLines     = flag.Int("max-cart-lines", cfg.MaxCartLines, "maximum distinct products per cart")
		codChance    = flag.Float64("cod-chance", cfg.CODChance, "probability a shopper pays cash on delivery")
		sharedChance = flag.Float64("shared-address-chance", cfg.SharedAddressChance, "probability of reusing an existing shipping address")
		currency     = flag.String("currency", cfg.Currency, "ISO currency code for product prices")
		seed         = flag.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		outputDir    = flag.String("output-dir", "data", "directory to write catalog.json and shoppers.json")
		writeStdout  = flag.Bool("stdout", false, "write combined dataset to stdout instead of files")
	)
	flag.Parse()

	genCfg := generator.Config{
		NumProducts:         *products,
		NumShoppers:         *shoppers,
		MaxCartLines:        *maxLines,
		CODChance:           clampProbability(*codChance),
		SharedAddressChance: clampProbability(*sharedChance),
		Currency:            *currency,
		Seed:                *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	gen := generator.New(genCfg)
	dataset, err := gen.Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(dataset); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := generator.WriteDataset(dataset, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Generated %d products and %d shoppers into %s\n", len(dataset.Catalog.Products), len(dataset.Shoppers), *outputDir)
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
