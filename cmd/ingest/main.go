package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vanshika/checkout/backend/internal/catalog"
	"github.com/vanshika/checkout/backend/internal/config"
	"github.com/vanshika/checkout/backend/internal/generator"
	"github.com/vanshika/checkout/backend/internal/graph"
	"github.com/vanshika/checkout/backend/internal/logging"
	"github.com/vanshika/checkout/backend/internal/processor"
	"github.com/vanshika/checkout/backend/internal/repository"
	"github.com/vanshika/checkout/backend/internal/service"
)

var (
	errMissingDataset = errors.New("dataset not found")
)

type orderStore interface {
	service.OrderStore
	Close() error
}

func main() {
	var (
		datasetDir   = flag.String("dataset-dir", "./seed-data", "Directory containing catalog.json and shoppers.json")
		catalogPath  = flag.String("catalog", "", "Path to catalog.json (overrides dataset-dir)")
		shoppersPath = flag.String("shoppers", "", "Path to shoppers.json (overrides dataset-dir)")
		workers      = flag.Int("workers", 4, "Number of concurrent checkout workers")
		openIntents  = flag.Bool("open-intents", false, "Also open a payment attempt for prepaid orders")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "ingest")

	catalogFile, shoppersFile, err := resolveDatasetPaths(*datasetDir, *catalogPath, *shoppersPath)
	if err != nil {
		logger.Error("dataset resolution failed", "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Load(catalogFile)
	if err != nil {
		logger.Error("failed to load catalog", "error", err, "path", catalogFile)
		os.Exit(1)
	}

	var shoppers []generator.Shopper
	if err := loadJSON(shoppersFile, &shoppers); err != nil {
		logger.Error("failed to load shoppers", "error", err, "path", shoppersFile)
		os.Exit(1)
	}
	if len(shoppers) == 0 {
		logger.Error("shoppers dataset empty", "path", shoppersFile)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to open order store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing order store failed", "error", err)
		}
	}()

	// Seeding never talks to a real processor.
	sim := processor.NewSimulator(processor.WithSessionTTL(cfg.Processor.SessionTTL))
	svc := service.NewOrderService(store, cat, sim, nil, service.Options{
		Pricing: service.PricingPolicy{
			Currency:              cfg.Pricing.Currency,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			FlatShipping:          cfg.Pricing.FlatShipping,
			TaxBasisPoints:        cfg.Pricing.TaxBasisPoints,
		},
		Logger: logger,
	})
	bulk := service.NewBulkCheckout(svc, *workers)

	orders := make([]service.BulkOrder, 0, len(shoppers))
	for _, s := range shoppers {
		orders = append(orders, service.BulkOrder{
			CustomerID: s.UserID,
			Input: service.CheckoutInput{
				ShippingAddress: s.Address,
				PaymentMethod:   s.PaymentMethod,
			},
			OpenIntent: *openIntents,
		})
	}

	start := time.Now()
	logger.Info("placing orders", "count", len(orders), "workers", *workers, "open_intents", *openIntents)
	placed, err := bulk.PlaceOrders(ctx, orders)
	created := 0
	for _, o := range placed {
		if o.ID != "" {
			created++
		}
	}
	if err != nil {
		logger.Error("checkout seeding finished with errors", "error", err, "created", created, "failed", len(orders)-created)
		os.Exit(1)
	}

	logger.Info("ingestion complete", "duration", time.Since(start).String(), "orders", created, "sessions", sim.SessionCount())
}

func resolveDatasetPaths(baseDir, catalogPath, shoppersPath string) (string, string, error) {
	resolve := func(explicitPath, fallbackFile string) (string, error) {
		if explicitPath != "" {
			if _, err := os.Stat(explicitPath); err != nil {
				return "", fmt.Errorf("stat %s: %w", explicitPath, err)
			}
			return explicitPath, nil
		}
		path := filepath.Join(baseDir, fallbackFile)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", errMissingDataset, path)
		}
		return path, nil
	}

	catalogFile, err := resolve(catalogPath, generator.CatalogFile)
	if err != nil {
		return "", "", err
	}
	shoppersFile, err := resolve(shoppersPath, generator.ShoppersFile)
	if err != nil {
		return "", "", err
	}
	return catalogFile, shoppersFile, nil
}

func loadJSON(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func openStore(ctx context.Context, logger *slog.Logger, cfg config.Config) (orderStore, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "", "memory":
		logger.Warn("ingesting into the in-memory store; orders are discarded on exit")
		return repository.NewMemory(), nil
	case "bolt":
		db, err := repository.OpenBolt(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "graph":
		client, err := buildGraphClient(ctx, logger, cfg)
		if err != nil {
			return nil, err
		}
		repo := repository.NewGraph(client)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, fmt.Errorf("GRAPH_URI is required for the graph store")
	}
	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	client, err := graph.NewNeo4jClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}
