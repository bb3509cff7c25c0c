package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/checkout/backend/internal/domain"
	"github.com/vanshika/checkout/backend/internal/graph"
)

// Graph persists orders as (:Order) nodes linked to their (:Customer) and
// (:PaymentAttempt) nodes. The full order document is kept on the node as
// JSON; the flattened properties exist for filtering.
type Graph struct {
	client graph.Client
}

// NewGraph instantiates a store backed by the supplied graph client.
func NewGraph(client graph.Client) *Graph {
	return &Graph{client: client}
}

// EnsureSchema creates the uniqueness constraints the store relies on.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaCypher {
		if _, err := g.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func (g *Graph) Create(ctx context.Context, order domain.Order) error {
	if err := validateForWrite(order); err != nil {
		return err
	}
	props, err := orderProperties(order)
	if err != nil {
		return err
	}

	res, err := g.client.ExecuteWrite(ctx, createOrderCypher, map[string]any{
		"orderId":     order.ID,
		"customerId":  order.CustomerID,
		"props":       props,
		"attempts":    attemptParams(order.Attempts),
		"createToken": uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("create order %s: %w", order.ID, err)
	}
	// The guarded MERGE only yields a row when this call created the node.
	if _, ok := res.First(); !ok {
		return fmt.Errorf("create order %s: %w", order.ID, ErrAlreadyExists)
	}
	return nil
}

func (g *Graph) Get(ctx context.Context, id string) (domain.Order, error) {
	res, err := g.client.ExecuteRead(ctx, getOrderCypher, map[string]any{"orderId": id})
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	rec, ok := res.First()
	if !ok {
		return domain.Order{}, notFound(id)
	}
	return decodeOrder(rec)
}

// Update writes order only if the node's version still equals expectedVersion.
// An empty result means the guard failed or the order is gone; a follow-up
// read tells the two apart.
func (g *Graph) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	if err := validateForWrite(order); err != nil {
		return domain.Order{}, err
	}
	next := order.Clone()
	next.Version = expectedVersion + 1
	props, err := orderProperties(next)
	if err != nil {
		return domain.Order{}, err
	}

	res, err := g.client.ExecuteWrite(ctx, updateOrderCypher, map[string]any{
		"orderId":         order.ID,
		"expectedVersion": expectedVersion,
		"props":           props,
		"attempts":        attemptParams(next.Attempts),
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if _, ok := res.First(); ok {
		return next, nil
	}

	current, err := g.Get(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{}, staleState(order.ID, expectedVersion, current.Version)
}

// List returns paginated orders matching opts plus counts per status.
func (g *Graph) List(ctx context.Context, opts ListOrdersOptions) (domain.OrderListResult, error) {
	opts = opts.normalized()
	params := map[string]any{
		"customerId":    opts.CustomerID,
		"status":        string(opts.Status),
		"paymentStatus": string(opts.PaymentStatus),
		"search":        opts.Search,
		"skip":          opts.Offset,
		"limit":         opts.Limit,
	}

	query := fmt.Sprintf(listOrdersCypherTemplate, orderFilterClause, orderSortClause(opts.SortField, opts.SortOrder))
	res, err := g.client.ExecuteRead(ctx, query, params)
	if err != nil {
		return domain.OrderListResult{}, fmt.Errorf("list orders query: %w", err)
	}

	items := make([]domain.OrderSummary, 0, len(res.Records))
	for _, record := range res.Records {
		order, err := decodeOrder(record)
		if err != nil {
			return domain.OrderListResult{}, err
		}
		items = append(items, order.Summary())
	}

	countRes, err := g.client.ExecuteRead(ctx, fmt.Sprintf(countOrdersCypherTemplate, orderFilterClause), params)
	if err != nil {
		return domain.OrderListResult{}, fmt.Errorf("count orders query: %w", err)
	}
	var total int64
	if rec, ok := countRes.First(); ok {
		total = toInt64(rec["total"])
	}

	statusRes, err := g.client.ExecuteRead(ctx, fmt.Sprintf(statusCountsCypherTemplate, orderScopeClause), params)
	if err != nil {
		return domain.OrderListResult{}, fmt.Errorf("status counts query: %w", err)
	}
	counts := make(map[domain.OrderStatus]int64, len(statusRes.Records))
	for _, record := range statusRes.Records {
		counts[domain.OrderStatus(toString(record["status"]))] = toInt64(record["total"])
	}

	return domain.OrderListResult{Items: items, Total: total, StatusCounts: counts}, nil
}

func (g *Graph) FindByProcessorReference(ctx context.Context, ref string) (domain.Order, error) {
	res, err := g.client.ExecuteRead(ctx, orderByReferenceCypher, map[string]any{"ref": ref})
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order by reference %s: %w", ref, err)
	}
	rec, ok := res.First()
	if !ok {
		return domain.Order{}, fmt.Errorf("processor reference %s: %w", ref, domain.ErrNotFound)
	}
	return decodeOrder(rec)
}

func (g *Graph) ListAwaitingSettlement(ctx context.Context, openedBefore time.Time, limit int) ([]domain.Order, error) {
	return g.queryOrders(ctx, awaitingSettlementCypher, map[string]any{
		"before": formatTime(openedBefore),
		"limit":  limitOrMax(limit),
	})
}

func (g *Graph) ListUnpaid(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	return g.queryOrders(ctx, unpaidOrdersCypher, map[string]any{
		"before": formatTime(createdBefore),
		"limit":  limitOrMax(limit),
		"cod":    string(domain.MethodCashOnDelivery),
	})
}

func (g *Graph) Ping(ctx context.Context) error {
	return g.client.VerifyConnectivity(ctx)
}

func (g *Graph) Close() error {
	return g.client.Close(context.Background())
}

func (g *Graph) queryOrders(ctx context.Context, cypher string, params map[string]any) ([]domain.Order, error) {
	res, err := g.client.ExecuteRead(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	out := make([]domain.Order, 0, len(res.Records))
	for _, record := range res.Records {
		order, err := decodeOrder(record)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func orderProperties(order domain.Order) (map[string]any, error) {
	doc, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	return map[string]any{
		"orderId":       order.ID,
		"orderNumber":   order.OrderNumber,
		"customerId":    order.CustomerID,
		"status":        string(order.Status),
		"paymentMethod": string(order.Payment.Method),
		"paymentStatus": string(order.Payment.Status),
		"total":         order.Pricing.Total,
		"version":       order.Version,
		"createdAt":     formatTime(order.CreatedAt),
		"updatedAt":     formatTime(order.UpdatedAt),
		"doc":           string(doc),
	}, nil
}

func attemptParams(attempts []domain.PaymentAttempt) []map[string]any {
	out := make([]map[string]any, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, map[string]any{
			"attemptId":          a.ID,
			"processorReference": a.ProcessorReference,
			"outcome":            string(a.Outcome),
			"amount":             a.Amount,
			"currency":           a.Currency,
			"createdAt":          formatTime(a.CreatedAt),
		})
	}
	return out
}

func decodeOrder(record graph.Record) (domain.Order, error) {
	doc := toString(record["doc"])
	if doc == "" {
		return domain.Order{}, errors.New("order record has no document")
	}
	var order domain.Order
	if err := json.Unmarshal([]byte(doc), &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order document: %w", err)
	}
	if v, ok := record["version"]; ok && v != nil {
		order.Version = toInt64(v)
	}
	return order, nil
}

func limitOrMax(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func orderSortClause(field, order string) string {
	dir := "DESC"
	if strings.EqualFold(order, "ASC") {
		dir = "ASC"
	}
	switch strings.ToLower(field) {
	case "updatedat":
		return fmt.Sprintf("datetime(o.updatedAt) %s", dir)
	case "total":
		return fmt.Sprintf("o.total %s", dir)
	case "ordernumber":
		return fmt.Sprintf("o.orderNumber %s", dir)
	default:
		return fmt.Sprintf("datetime(o.createdAt) %s", dir)
	}
}

var schemaCypher = []string{
	`CREATE CONSTRAINT order_id IF NOT EXISTS FOR (o:Order) REQUIRE o.orderId IS UNIQUE`,
	`CREATE CONSTRAINT attempt_id IF NOT EXISTS FOR (p:PaymentAttempt) REQUIRE p.attemptId IS UNIQUE`,
	`CREATE INDEX attempt_reference IF NOT EXISTS FOR (p:PaymentAttempt) ON (p.processorReference)`,
}

const createOrderCypher = `
MERGE (o:Order {orderId: $orderId})
ON CREATE SET o += $props, o.createToken = $createToken
WITH o
WHERE o.createToken = $createToken
MERGE (c:Customer {customerId: $customerId})
MERGE (c)-[:PLACED]->(o)
FOREACH (a IN $attempts |
	MERGE (p:PaymentAttempt {attemptId: a.attemptId})
	SET p += a
	MERGE (o)-[:HAS_ATTEMPT]->(p)
)
RETURN o.orderId AS orderId
`

const getOrderCypher = `
MATCH (o:Order {orderId: $orderId})
RETURN o.doc AS doc, o.version AS version
`

const updateOrderCypher = `
MATCH (o:Order {orderId: $orderId})
WHERE o.version = $expectedVersion
SET o += $props
WITH o
FOREACH (a IN $attempts |
	MERGE (p:PaymentAttempt {attemptId: a.attemptId})
	SET p += a
	MERGE (o)-[:HAS_ATTEMPT]->(p)
)
RETURN o.version AS version
`

const orderByReferenceCypher = `
MATCH (o:Order)-[:HAS_ATTEMPT]->(:PaymentAttempt {processorReference: $ref})
RETURN o.doc AS doc, o.version AS version
LIMIT 1
`

const awaitingSettlementCypher = `
MATCH (o:Order)-[:HAS_ATTEMPT]->(p:PaymentAttempt {outcome: "pending"})
WHERE datetime(p.createdAt) < datetime($before)
RETURN o.doc AS doc, o.version AS version
ORDER BY datetime(p.createdAt) ASC
LIMIT $limit
`

const unpaidOrdersCypher = `
MATCH (o:Order {status: "pending"})
WHERE o.paymentMethod <> $cod
  AND datetime(o.createdAt) < datetime($before)
  AND NOT EXISTS { MATCH (o)-[:HAS_ATTEMPT]->(:PaymentAttempt {outcome: "pending"}) }
RETURN o.doc AS doc, o.version AS version
ORDER BY datetime(o.createdAt) ASC
LIMIT $limit
`

const listOrdersCypherTemplate = `
MATCH (o:Order)
%s
RETURN o.doc AS doc, o.version AS version
ORDER BY %s
SKIP $skip LIMIT $limit
`

const countOrdersCypherTemplate = `
MATCH (o:Order)
%s
RETURN count(o) AS total
`

const statusCountsCypherTemplate = `
MATCH (o:Order)
%s
RETURN o.status AS status, count(o) AS total
`

const orderScopeClause = `
WHERE ($customerId = "" OR o.customerId = $customerId)
  AND ($paymentStatus = "" OR o.paymentStatus = $paymentStatus)
  AND ($search = "" OR toLower(o.orderNumber) CONTAINS $search)
`

const orderFilterClause = orderScopeClause + `  AND ($status = "" OR o.status = $status)
`
