package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vanshika/checkout/backend/internal/auth"
	"github.com/vanshika/checkout/backend/internal/catalog"
	"github.com/vanshika/checkout/backend/internal/config"
	"github.com/vanshika/checkout/backend/internal/graph"
	"github.com/vanshika/checkout/backend/internal/logging"
	"github.com/vanshika/checkout/backend/internal/notify"
	"github.com/vanshika/checkout/backend/internal/processor"
	"github.com/vanshika/checkout/backend/internal/repository"
	"github.com/vanshika/checkout/backend/internal/server"
	"github.com/vanshika/checkout/backend/internal/service"
)

type orderStore interface {
	service.OrderStore
	Close() error
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

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

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Error("failed to load catalog", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}

	authenticator, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Error("failed to configure authentication", "error", err)
		os.Exit(1)
	}

	events, closeEvents, err := buildEmitter(ctx, logger, cfg.Notify)
	if err != nil {
		logger.Error("failed to open notification outbox", "path", cfg.Notify.OutboxPath, "error", err)
		os.Exit(1)
	}
	defer closeEvents()

	gateway, sim := buildGateway(cfg.Processor)
	if cfg.Processor.RateLimit > 0 {
		gateway = processor.NewLimited(gateway, cfg.Processor.RateLimit, cfg.Processor.Burst)
	}

	orders := service.NewOrderService(store, cat, gateway, events, service.Options{
		Pricing: service.PricingPolicy{
			Currency:              cfg.Pricing.Currency,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			FlatShipping:          cfg.Pricing.FlatShipping,
			TaxBasisPoints:        cfg.Pricing.TaxBasisPoints,
		},
		Logger: logger,
	})

	sweeper := service.NewSweeper(orders, service.SweepConfig{
		PendingThreshold: cfg.Reconcile.PendingThreshold,
		AbandonAfter:     cfg.Reconcile.AbandonAfter,
		Workers:          cfg.Reconcile.Workers,
		BatchSize:        cfg.Reconcile.BatchSize,
	}, logger)
	if cfg.Reconcile.SweepInterval > 0 {
		go sweeper.Run(ctx, cfg.Reconcile.SweepInterval)
	}

	deps := server.RouterDependencies{
		Health:           server.Probes{server.ProbeFunc(orders.Ping)},
		API:              server.NewAPIHandlers(logger, orders, sweeper),
		Auth:             authenticator,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	}
	if secret := cfg.Processor.WebhookSecret; secret != "" {
		deps.Webhooks = server.NewWebhookHandler(logger, orders, secret)
	} else {
		logger.Warn("processor webhooks disabled: no webhook secret configured")
	}
	if sim != nil {
		deps.Simulator = processor.NewHandler(sim, cfg.Processor.APIKey)
		if deps.Webhooks != nil {
			forwardSettlements(ctx, logger, sim, selfURL(cfg.HTTP)+"/webhooks/processor", cfg.Processor.WebhookSecret)
		}
	}

	srv := server.New(logger, cfg.HTTP, server.NewRouter(logger, deps))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func openStore(ctx context.Context, logger *slog.Logger, cfg config.Config) (orderStore, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "", "memory":
		logger.Warn("using in-memory order store; orders are lost on restart")
		return repository.NewMemory(), nil
	case "bolt":
		db, err := repository.OpenBolt(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "graph":
		client, err := buildGraphClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		repo := repository.NewGraph(client)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildGraphClient(ctx context.Context, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, graph.ErrMissingURI
	}

	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	return graph.NewNeo4jClient(ctx, opts)
}

// buildEmitter returns the outbox when one is configured, with a relay
// draining it into the log. Without one, events are logged directly.
func buildEmitter(ctx context.Context, logger *slog.Logger, cfg config.NotifyConfig) (notify.Emitter, func(), error) {
	sink := notify.NewLogEmitter(logger)
	if cfg.OutboxPath == "" {
		return sink, func() {}, nil
	}
	outbox, err := notify.OpenOutbox(cfg.OutboxPath)
	if err != nil {
		return nil, nil, err
	}
	relay := notify.NewRelay(outbox, sink, cfg.RelayInterval, cfg.BatchSize, logger)
	go relay.Run(ctx)
	return outbox, func() {
		if err := outbox.Close(); err != nil {
			logger.Warn("closing outbox failed", "error", err)
		}
	}, nil
}

// buildGateway returns the processor client. In simulator mode the simulator
// itself is returned too so it can be served over HTTP.
func buildGateway(cfg config.ProcessorConfig) (processor.Gateway, *processor.Simulator) {
	if strings.EqualFold(cfg.Mode, "http") {
		return processor.NewHTTPGateway(cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	}
	sim := processor.NewSimulator(processor.WithSessionTTL(cfg.SessionTTL))
	return sim, sim
}

// forwardSettlements makes the in-process simulator call the webhook
// endpoint whenever a session settles, as a hosted processor would.
func forwardSettlements(ctx context.Context, logger *slog.Logger, sim *processor.Simulator, url, secret string) {
	sender := processor.NewWebhookSender(url, secret, nil)
	log := logging.Component(logger, "simulator-webhooks")
	sim.OnSettled(func(session processor.Session, settlement processor.Settlement) {
		event := processor.EventFor(session, settlement)
		go func() {
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := sender.Send(sendCtx, event); err != nil {
				log.Warn("webhook delivery failed", "reference", settlement.Reference, "error", err)
			}
		}()
	})
}

func selfURL(cfg config.HTTPConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Port)
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	var origins []string
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
