package graph

import (
	"context"
	"sync"
)

// Responder computes a result for a query. MemoryClient consults it before
// falling back to queued results.
type Responder func(query ExecutedQuery) (Result, error)

// MemoryClient records queries and replays scripted results. It lets store
// tests assert on the Cypher and parameters sent without a running database.
type MemoryClient struct {
	mu           sync.Mutex
	writeCalls   []ExecutedQuery
	readCalls    []ExecutedQuery
	readResults  []Result
	writeResults []Result
	responder    Responder
	err          error
	connectivity error
}

// ExecutedQuery captures a cypher statement and parameters executed against the graph.
type ExecutedQuery struct {
	Query  string
	Params map[string]any
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

// WithError makes every subsequent query fail with err.
func (m *MemoryClient) WithError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithConnectivityError forces VerifyConnectivity to return the supplied error.
func (m *MemoryClient) WithConnectivityError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectivity = err
	return m
}

// WithResponder installs a function that answers queries dynamically.
func (m *MemoryClient) WithResponder(fn Responder) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
	return m
}

// PushReadResult queues a result for the next ExecuteRead call.
func (m *MemoryClient) PushReadResult(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readResults = append(m.readResults, res)
}

// PushWriteResult queues a result for the next ExecuteWrite call.
func (m *MemoryClient) PushWriteResult(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeResults = append(m.writeResults, res)
}

func (m *MemoryClient) ExecuteWrite(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := ExecutedQuery{Query: cypher, Params: cloneMap(params)}
	m.writeCalls = append(m.writeCalls, q)
	return m.answer(q, &m.writeResults)
}

func (m *MemoryClient) ExecuteRead(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := ExecutedQuery{Query: cypher, Params: cloneMap(params)}
	m.readCalls = append(m.readCalls, q)
	return m.answer(q, &m.readResults)
}

func (m *MemoryClient) answer(q ExecutedQuery, queue *[]Result) (Result, error) {
	if m.err != nil {
		return Result{}, m.err
	}
	if m.responder != nil {
		return m.responder(q)
	}
	if len(*queue) == 0 {
		return Result{}, nil
	}
	res := (*queue)[0]
	*queue = (*queue)[1:]
	return res, nil
}

func (m *MemoryClient) VerifyConnectivity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivity
}

func (m *MemoryClient) Close(context.Context) error {
	return nil
}

// WriteCalls returns a snapshot of executed write queries.
func (m *MemoryClient) WriteCalls() []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedQuery(nil), m.writeCalls...)
}

// ReadCalls returns a snapshot of executed read queries.
func (m *MemoryClient) ReadCalls() []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedQuery(nil), m.readCalls...)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
