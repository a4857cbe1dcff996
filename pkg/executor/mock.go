package executor

import (
	"context"
	"sync"
)

// Mock is a scripted Executor for tests and dry runs. Respond answers
// Execute and Exec; Rows answers Query. Nil funcs return empty results.
type Mock struct {
	Respond func(query string) (Result, error)
	Rows    func(query string) ([]map[string]any, error)

	mu     sync.Mutex
	calls  []string
	closed bool
}

func (m *Mock) record(q string) {
	m.mu.Lock()
	m.calls = append(m.calls, q)
	m.mu.Unlock()
}

func (m *Mock) Execute(ctx context.Context, query string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.record(query)
	if m.Respond == nil {
		return Result{}, nil
	}
	return m.Respond(query)
}

func (m *Mock) Exec(ctx context.Context, query string) error {
	_, err := m.Execute(ctx, query)
	return err
}

func (m *Mock) Query(ctx context.Context, query string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.record(query)
	if m.Rows == nil {
		return nil, nil
	}
	return m.Rows(query)
}

func (m *Mock) Close(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Calls returns every query seen, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Verify Mock implements Executor
var _ Executor = (*Mock)(nil)
