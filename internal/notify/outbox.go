package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const outboxSchema = `
CREATE TABLE IF NOT EXISTS outbox_events (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	order_id     TEXT NOT NULL,
	payload      TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	delivered_at INTEGER,
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT
);
CREATE INDEX IF NOT EXISTS outbox_pending ON outbox_events (delivered_at, created_at);
`

// Outbox persists events in SQLite until a Relay has delivered them.
type Outbox struct {
	db *sql.DB
}

// OpenOutbox opens (or creates) the outbox database at path.
func OpenOutbox(path string) (*Outbox, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open outbox %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(outboxSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init outbox schema: %w", err)
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Emit stores event. Re-emitting an id already stored is a no-op.
func (o *Outbox) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	_, err = o.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO outbox_events (id, type, order_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.OrderID, string(payload), event.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", event.ID, err)
	}
	return nil
}

// Pending returns up to limit undelivered events, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := o.db.QueryContext(ctx,
		`SELECT payload FROM outbox_events WHERE delivered_at IS NULL ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func (o *Outbox) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox_events SET delivered_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`,
		at.UnixNano(), id)
	return err
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, cause error) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		cause.Error(), id)
	return err
}

// Stats reports how many events are waiting and how many were delivered.
func (o *Outbox) Stats(ctx context.Context) (pending, delivered int64, err error) {
	err = o.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN delivered_at IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN delivered_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		   FROM outbox_events`).Scan(&pending, &delivered)
	return pending, delivered, err
}

// Relay drains an Outbox into a Sink on an interval.
type Relay struct {
	outbox   *Outbox
	sink     Sink
	interval time.Duration
	batch    int
	logger   *slog.Logger
	now      func() time.Time
}

func NewRelay(outbox *Outbox, sink Sink, interval time.Duration, batch int, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Relay{outbox: outbox, sink: sink, interval: interval, batch: batch, logger: logger, now: time.Now}
}

// Run drains until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox relay failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DrainOnce delivers one batch and returns how many events were delivered.
// A failed delivery stays pending and is retried on the next pass.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	events, err := r.outbox.Pending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, event := range events {
		if err := r.sink.Deliver(ctx, event); err != nil {
			r.logger.Warn("event delivery failed",
				slog.String("event_id", event.ID),
				slog.String("orderId", event.OrderID),
				slog.Any("error", err))
			if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
				return delivered, markErr
			}
			continue
		}
		if err := r.outbox.MarkDelivered(ctx, event.ID, r.now()); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}
