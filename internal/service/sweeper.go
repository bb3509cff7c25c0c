package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/logging"
)

// SweepConfig tunes the background reconciliation sweep.
type SweepConfig struct {
	// PendingThreshold is how long an attempt may stay pending before the
	// sweep asks the processor about it.
	PendingThreshold time.Duration
	// AbandonAfter cancels unpaid orders with nothing in flight once they are
	// this old. Zero disables it.
	AbandonAfter time.Duration
	Workers      int
	BatchSize    int
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Scanned   int      `json:"scanned"`
	Confirmed int      `json:"confirmed"`
	Failed    int      `json:"failed"`
	Unsettled int      `json:"unsettled"`
	Abandoned int      `json:"abandoned"`
	Errors    []string `json:"errors,omitempty"`
}

// Sweeper resolves payment attempts no client is listening for any more.
type Sweeper struct {
	service *OrderService
	store   OrderStore
	cfg     SweepConfig
	logger  *slog.Logger
}

// NewSweeper builds a sweeper over the service's store.
func NewSweeper(service *OrderService, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if cfg.PendingThreshold <= 0 {
		cfg.PendingThreshold = 2 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sweeper{
		service: service,
		store:   service.store,
		cfg:     cfg,
		logger:  logging.Component(logger, "sweeper"),
	}
}

// Run sweeps every interval until ctx is done.
func (sw *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		report, err := sw.Sweep(ctx)
		if err != nil {
			if ctx.Err() == nil {
				sw.logger.Error("reconciliation sweep failed", slog.Any("error", err))
			}
			continue
		}
		if report.Scanned > 0 || report.Abandoned > 0 {
			sw.logger.Info("reconciliation sweep finished",
				slog.Int("scanned", report.Scanned),
				slog.Int("confirmed", report.Confirmed),
				slog.Int("failed", report.Failed),
				slog.Int("unsettled", report.Unsettled),
				slog.Int("abandoned", report.Abandoned),
				slog.Int("errors", len(report.Errors)))
		}
	}
}

// Sweep reconciles every attempt pending longer than the threshold, then
// cancels abandoned orders. Per-order failures are reported, not returned;
// the error is reserved for failures to list work.
func (sw *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	now := sw.service.now()
	var report SweepReport

	awaiting, err := sw.store.ListAwaitingSettlement(ctx, now.Add(-sw.cfg.PendingThreshold), sw.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	report.Scanned = len(awaiting)

	var mu sync.Mutex
	err = runPool(ctx, sw.cfg.Workers, len(awaiting), func(idx int) error {
		order := awaiting[idx]
		active, ok := order.ActiveAttempt()
		if !ok {
			return nil
		}
		reference := active.ProcessorReference
		updated, err := sw.service.reconcile(ctx, order, reference, "sweep")
		if err != nil {
			return err
		}
		attempt, _ := updated.AttemptByReference(reference)
		mu.Lock()
		defer mu.Unlock()
		switch {
		case attempt == nil || attempt.Outcome == domain.OutcomePending:
			report.Unsettled++
		case attempt.Outcome == domain.OutcomeSucceeded:
			report.Confirmed++
		default:
			report.Failed++
		}
		return nil
	})
	if err := collectTaskErrors(err, &report); err != nil {
		return report, err
	}

	if sw.cfg.AbandonAfter > 0 {
		if err := sw.abandon(ctx, now, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (sw *Sweeper) abandon(ctx context.Context, now time.Time, report *SweepReport) error {
	unpaid, err := sw.store.ListUnpaid(ctx, now.Add(-sw.cfg.AbandonAfter), sw.cfg.BatchSize)
	if err != nil {
		return err
	}
	var mu sync.Mutex
	err = runPool(ctx, sw.cfg.Workers, len(unpaid), func(idx int) error {
		order := unpaid[idx]
		_, err := sw.service.CancelOrder(ctx, domain.SystemActor, order.ID, order.Version, "payment not completed")
		if isStale(err) {
			// Someone touched the order since it was listed; the next sweep decides again.
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		report.Abandoned++
		mu.Unlock()
		return nil
	})
	return collectTaskErrors(err, report)
}

func collectTaskErrors(err error, report *SweepReport) error {
	if err == nil {
		return nil
	}
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		return err
	}
	for _, e := range taskErr.Errors {
		report.Errors = append(report.Errors, e.Error())
	}
	return nil
}
