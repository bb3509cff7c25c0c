package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/graph"
)

func docRecord(t *testing.T, order domain.Order) graph.Record {
	t.Helper()
	raw, err := json.Marshal(order)
	if err != nil {
		t.Fatalf("marshal order: %v", err)
	}
	return graph.Record{"doc": string(raw), "version": order.Version}
}

func TestGraph_Create(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := NewGraph(mem)

	order := withAttempt(sampleOrder("o-1", "cust-1", base), "sess_1", domain.OutcomePending, base)
	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"orderId": "o-1"}}})

	if err := repo.Create(context.Background(), order); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	calls := mem.WriteCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 write query, got %d", len(calls))
	}
	call := calls[0]
	if call.Query != createOrderCypher {
		t.Fatalf("unexpected query\nexpected:\n%s\ngot:\n%s", createOrderCypher, call.Query)
	}
	if call.Params["customerId"] != "cust-1" {
		t.Errorf("expected customerId cust-1, got %v", call.Params["customerId"])
	}
	if token, _ := call.Params["createToken"].(string); token == "" {
		t.Errorf("expected a create token")
	}

	props, ok := call.Params["props"].(map[string]any)
	if !ok {
		t.Fatalf("expected props map, got %T", call.Params["props"])
	}
	if props["status"] != "pending" {
		t.Errorf("status mismatch: got %v", props["status"])
	}
	if props["version"] != int64(1) {
		t.Errorf("version mismatch: got %v", props["version"])
	}
	if props["total"] != int64(199900) {
		t.Errorf("total mismatch: got %v", props["total"])
	}

	attempts, ok := call.Params["attempts"].([]map[string]any)
	if !ok || len(attempts) != 1 {
		t.Fatalf("expected one attempt param, got %T (len=%d)", call.Params["attempts"], len(attempts))
	}
	if attempts[0]["processorReference"] != "sess_1" || attempts[0]["outcome"] != "pending" {
		t.Errorf("unexpected attempt params: %v", attempts[0])
	}
}

func TestGraph_CreateDuplicate(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := NewGraph(mem)

	err := repo.Create(context.Background(), sampleOrder("o-1", "cust-1", base))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGraph_GetUsesNodeVersion(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := NewGraph(mem)

	order := sampleOrder("o-1", "cust-1", base)
	rec := docRecord(t, order)
	rec["version"] = int64(7)
	mem.PushReadResult(graph.Result{Records: []graph.Record{rec}})

	got, err := repo.Get(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Version != 7 {
		t.Fatalf("expected version 7, got %d", got.Version)
	}
	if got.OrderNumber != order.OrderNumber {
		t.Fatalf("order number mismatch: %s", got.OrderNumber)
	}

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGraph_UpdateGuardsVersion(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := NewGraph(mem)
	order := sampleOrder("o-1", "cust-1", base)

	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"version": int64(2)}}})
	updated, err := repo.Update(context.Background(), order, 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	call := mem.WriteCalls()[0]
	if call.Query != updateOrderCypher {
		t.Fatalf("unexpected query: %s", call.Query)
	}
	if call.Params["expectedVersion"] != int64(1) {
		t.Errorf("expected guard on version 1, got %v", call.Params["expectedVersion"])
	}
	props := call.Params["props"].(map[string]any)
	if props["version"] != int64(2) {
		t.Errorf("expected new version 2 in props, got %v", props["version"])
	}

	// guard fails: no row from the write, current version 5 on re-read
	stored := order
	stored.Version = 5
	mem.PushReadResult(graph.Result{Records: []graph.Record{docRecord(t, stored)}})
	_, err = repo.Update(context.Background(), order, 1)
	var stale *domain.StaleStateError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleStateError, got %v", err)
	}
	if stale.Actual != 5 {
		t.Fatalf("expected actual version 5, got %d", stale.Actual)
	}

	// order vanished
	_, err = repo.Update(context.Background(), order, 1)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGraph_List(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := NewGraph(mem)

	mem.WithResponder(func(q graph.ExecutedQuery) (graph.Result, error) {
		switch {
		case strings.Contains(q.Query, "count(o) AS total") && strings.Contains(q.Query, "o.status AS status"):
			return graph.Result{Records: []graph.Record{
				{"status": "pending", "total": int64(3)},
				{"status": "shipped", "total": int64(1)},
			}}, nil
		case strings.Contains(q.Query, "count(o) AS total"):
			return graph.Result{Records: []graph.Record{{"total": int64(3)}}}, nil
		default:
			return graph.Result{Records: []graph.Record{docRecord(t, sampleOrder("o-1", "cust-1", base))}}, nil
		}
	})

	res, err := repo.List(context.Background(), ListOrdersOptions{
		CustomerID: "cust-1",
		Status:     domain.StatusPending,
		Search:     " ORD ",
		Limit:      500,
		SortField:  "total",
		SortOrder:  "asc",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Total != 3 || len(res.Items) != 1 {
		t.Fatalf("unexpected result: total=%d items=%d", res.Total, len(res.Items))
	}
	if res.StatusCounts[domain.StatusShipped] != 1 {
		t.Fatalf("expected shipped count 1, got %v", res.StatusCounts)
	}

	calls := mem.ReadCalls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 read queries, got %d", len(calls))
	}
	list := calls[0]
	if !strings.Contains(list.Query, "ORDER BY o.total ASC") {
		t.Errorf("expected total sort, got:\n%s", list.Query)
	}
	if list.Params["limit"] != maxListLimit {
		t.Errorf("expected clamped limit, got %v", list.Params["limit"])
	}
	if list.Params["search"] != "ord" {
		t.Errorf("expected normalized search, got %v", list.Params["search"])
	}
	if strings.Contains(calls[2].Query, "$status") {
		t.Errorf("status counts must not filter on status:\n%s", calls[2].Query)
	}
}

func TestGraph_SweepQueries(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := NewGraph(mem)
	cutoff := base.Add(time.Hour)

	mem.PushReadResult(graph.Result{Records: []graph.Record{docRecord(t, sampleOrder("o-1", "c", base))}})
	awaiting, err := repo.ListAwaitingSettlement(context.Background(), cutoff, 0)
	if err != nil || len(awaiting) != 1 {
		t.Fatalf("unexpected awaiting result: %v %v", awaiting, err)
	}

	_, err = repo.ListUnpaid(context.Background(), cutoff, 25)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	calls := mem.ReadCalls()
	if calls[0].Query != awaitingSettlementCypher || calls[0].Params["limit"] != maxListLimit {
		t.Errorf("unexpected awaiting call: %+v", calls[0].Params)
	}
	if calls[0].Params["before"] != formatTime(cutoff) {
		t.Errorf("unexpected cutoff: %v", calls[0].Params["before"])
	}
	if calls[1].Query != unpaidOrdersCypher || calls[1].Params["limit"] != 25 || calls[1].Params["cod"] != "cod" {
		t.Errorf("unexpected unpaid call: %+v", calls[1].Params)
	}
}

func TestGraph_PropagatesClientErrors(t *testing.T) {
	mem := graph.NewMemoryClient().WithError(errors.New("connection reset"))
	repo := NewGraph(mem)

	if _, err := repo.FindByProcessorReference(context.Background(), "sess_1"); err == nil {
		t.Fatal("expected error")
	}
	if err := repo.EnsureSchema(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	mem = graph.NewMemoryClient().WithConnectivityError(errors.New("down"))
	if err := NewGraph(mem).Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
