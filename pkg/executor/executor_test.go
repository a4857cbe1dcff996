package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Timeout classification
// ============================================================================

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrTimeout, true},
		{"wrapped sentinel", fmt.Errorf("run: %w", ErrTimeout), true},
		{"deadline", context.DeadlineExceeded, true},
		{"engine Timeout", errors.New("Neo.ClientError.Transaction.TransactionTimeout"), true},
		{"engine lowercase", errors.New("query timeout reached"), true},
		{"timed out", errors.New("the transaction has timed out"), true},
		{"syntax", errors.New("Invalid input 'X'"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTimeout(tt.err))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(3), Normalize(json.Number("3")))
	assert.Equal(t, 2.5, Normalize(json.Number("2.5")))
	assert.Equal(t, int64(7), Normalize(7))
	assert.Equal(t, []any{int64(1), "x"}, Normalize([]any{json.Number("1"), "x"}))
	assert.Equal(t, map[string]any{"n": int64(4)}, Normalize(map[string]any{"n": json.Number("4")}))
	assert.Nil(t, Normalize(nil))
}

func TestResultMillis(t *testing.T) {
	assert.InDelta(t, 1.5, Result{Elapsed: 1500 * time.Microsecond}.Millis(), 1e-9)
}

// ============================================================================
// HTTP executor
// ============================================================================

type fakeServer struct {
	mu         sync.Mutex
	statements []string
	auth       string
	respond    func(stmt string) TransactionResponse
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/db/neo4j/tx/commit", r.URL.Path)

		var req TransactionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Statements, 1)

		f.mu.Lock()
		f.statements = append(f.statements, req.Statements[0].Statement)
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.respond(req.Statements[0].Statement))
	}
}

func rowResponse(cols []string, rows ...[]any) TransactionResponse {
	qr := QueryResult{Columns: cols}
	for _, r := range rows {
		qr.Data = append(qr.Data, ResultRow{Row: r})
	}
	return TransactionResponse{Results: []QueryResult{qr}}
}

func TestHTTPExecutor_Execute(t *testing.T) {
	fs := &fakeServer{respond: func(stmt string) TransactionResponse {
		if strings.Contains(stmt, "count") {
			return rowResponse([]string{"count(n)"}, []any{42})
		}
		return rowResponse(nil)
	}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	exec := NewHTTP(srv.URL+"/", "", "neo4j", "secret", DefaultOptions())
	res, err := exec.Execute(context.Background(), "MATCH (n) RETURN count(n)")
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.Value)
	assert.Greater(t, res.Elapsed, time.Duration(0))
	assert.Equal(t, []string{DefaultClearCacheQuery, "MATCH (n) RETURN count(n)"}, fs.statements)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("neo4j:secret"))
	assert.Equal(t, want, fs.auth)
}

func TestHTTPExecutor_EmptyResultIsNil(t *testing.T) {
	fs := &fakeServer{respond: func(string) TransactionResponse { return rowResponse([]string{"n"}) }}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	exec := NewHTTP(srv.URL, "neo4j", "", "", Options{})
	res, err := exec.Execute(context.Background(), "MATCH (n) RETURN n")
	require.NoError(t, err)
	assert.Nil(t, res.Value)
	assert.Len(t, fs.statements, 1, "no clear query configured")
	assert.Empty(t, fs.auth)
}

func TestHTTPExecutor_Errors(t *testing.T) {
	t.Run("query error", func(t *testing.T) {
		fs := &fakeServer{respond: func(string) TransactionResponse {
			return TransactionResponse{Errors: []QueryError{{Code: "Neo.ClientError.Statement.SyntaxError", Message: "bad"}}}
		}}
		srv := httptest.NewServer(fs.handler(t))
		defer srv.Close()

		err := NewHTTP(srv.URL, "", "", "", Options{}).Exec(context.Background(), "MATCH")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SyntaxError")
		assert.False(t, IsTimeout(err))
	})

	t.Run("engine timeout", func(t *testing.T) {
		fs := &fakeServer{respond: func(string) TransactionResponse {
			return TransactionResponse{Errors: []QueryError{{Code: "Neo.ClientError.Transaction.TransactionTimedOut", Message: "terminated"}}}
		}}
		srv := httptest.NewServer(fs.handler(t))
		defer srv.Close()

		err := NewHTTP(srv.URL, "", "", "", Options{}).Exec(context.Background(), "MATCH (n) RETURN n")
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("status code", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusUnauthorized)
		}))
		defer srv.Close()

		err := NewHTTP(srv.URL, "", "", "", Options{}).Exec(context.Background(), "RETURN 1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("client deadline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		exec := NewHTTP(srv.URL, "", "", "", Options{Timeout: 20 * time.Millisecond})
		_, err := exec.Execute(context.Background(), "RETURN 1")
		assert.True(t, IsTimeout(err), "got %v", err)
	})
}

func TestHTTPExecutor_Query(t *testing.T) {
	fs := &fakeServer{respond: func(string) TransactionResponse {
		return rowResponse([]string{"label", "n"}, []any{"A", 1}, []any{"B", 2.5})
	}}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	rows, err := NewHTTP(srv.URL, "", "", "", DefaultOptions()).Query(context.Background(), "CALL db.labels()")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"label": "A", "n": int64(1)},
		{"label": "B", "n": 2.5},
	}, rows)
	assert.Len(t, fs.statements, 1, "Query does not clear caches")
}

func TestHTTPExecutor_Closed(t *testing.T) {
	exec := NewHTTP("http://127.0.0.1:1", "", "", "", Options{})
	require.NoError(t, exec.Close(context.Background()))
	require.NoError(t, exec.Close(context.Background()))

	_, err := exec.Execute(context.Background(), "RETURN 1")
	assert.ErrorIs(t, err, ErrClosed)
}

// ============================================================================
// Bolt executor
// ============================================================================

func TestNewBolt_InvalidURI(t *testing.T) {
	_, err := NewBolt(context.Background(), "ftp://localhost", "u", "p", "", Options{})
	require.Error(t, err)
}

// ============================================================================
// Mock
// ============================================================================

func TestMock(t *testing.T) {
	m := &Mock{
		Respond: func(q string) (Result, error) {
			if q == "boom" {
				return Result{}, errors.New("boom")
			}
			return Result{Value: int64(len(q)), Elapsed: time.Millisecond}, nil
		},
		Rows: func(string) ([]map[string]any, error) {
			return []map[string]any{{"label": "A"}}, nil
		},
	}
	ctx := context.Background()

	res, err := m.Execute(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Value)

	assert.EqualError(t, m.Exec(ctx, "boom"), "boom")

	rows, err := m.Query(ctx, "labels")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	assert.Equal(t, []string{"abc", "boom", "labels"}, m.Calls())
	assert.False(t, m.Closed())
	require.NoError(t, m.Close(ctx))
	assert.True(t, m.Closed())
}

func TestMock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &Mock{}
	_, err := m.Execute(ctx, "RETURN 1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Calls())
}
