// Package executor runs Cypher against the engine under test.
//
// Every Executor clears the engine's query caches before each timed
// execution, so repeated timing comparisons are not skewed by warm plans. The
// value of a query is the first column of its first row, or nil when it
// returned no rows. Execution time is reported by the engine when the
// transport exposes it (Bolt: result-available-after plus
// result-consumed-after) and measured on the client otherwise.
//
// Timeouts are infrastructure failures, not bugs: IsTimeout lets callers keep
// them out of the exception trace.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultClearCacheQuery empties Neo4j's plan and query caches.
const DefaultClearCacheQuery = "CALL db.clearQueryCaches()"

// ErrTimeout marks an execution that exceeded its deadline.
var ErrTimeout = errors.New("executor: query timed out")

// ErrClosed is returned by executors used after Close.
var ErrClosed = errors.New("executor: closed")

// Result is the outcome of one timed execution.
type Result struct {
	// Value is the first column of the first row, nil for an empty result.
	Value any
	// Elapsed is the execution time of the query.
	Elapsed time.Duration
}

// Millis returns Elapsed in fractional milliseconds.
func (r Result) Millis() float64 {
	return float64(r.Elapsed) / float64(time.Millisecond)
}

// Executor runs queries against one database. Implementations are safe for
// concurrent use.
type Executor interface {
	// Execute clears query caches, runs query and returns its value and time.
	Execute(ctx context.Context, query string) (Result, error)
	// Exec runs a write statement and discards its result.
	Exec(ctx context.Context, query string) error
	// Query returns every row as a column-name map. Used by schema scanning.
	Query(ctx context.Context, query string) ([]map[string]any, error)
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Options configures executors.
type Options struct {
	// ClearCacheQuery runs before every Execute. Empty disables clearing.
	ClearCacheQuery string
	// Timeout bounds each call. Zero means the caller's context only.
	Timeout time.Duration
	Logger  *zap.Logger
}

// DefaultOptions returns options that clear Neo4j caches and bound each
// query to 30 seconds.
func DefaultOptions() Options {
	return Options{
		ClearCacheQuery: DefaultClearCacheQuery,
		Timeout:         30 * time.Second,
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger.Named("executor")
}

func (o Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

// IsTimeout reports whether err is a timeout. Engine messages that mention a
// timeout in any casing ("Timeout", "timeout", "timed out") count too.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "imeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "TimedOut")
}

// firstValue extracts the first column of the first row.
func firstValue(rows [][]any) any {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	return rows[0][0]
}

// Normalize converts decoded JSON numbers to int64 when integral and float64
// otherwise, recursing into lists and maps, so values from every transport
// compare with the same Go types.
func Normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	default:
		return v
	}
}
