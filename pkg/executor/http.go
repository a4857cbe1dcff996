package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TransactionRequest is the body of a Neo4j HTTP transaction call.
type TransactionRequest struct {
	Statements []StatementRequest `json:"statements"`
}

// StatementRequest is a single Cypher statement.
type StatementRequest struct {
	Statement          string                 `json:"statement"`
	Parameters         map[string]interface{} `json:"parameters,omitempty"`
	ResultDataContents []string               `json:"resultDataContents,omitempty"`
}

// TransactionResponse is the Neo4j HTTP API response.
type TransactionResponse struct {
	Results []QueryResult `json:"results"`
	Errors  []QueryError  `json:"errors"`
}

// QueryResult is the result of one statement.
type QueryResult struct {
	Columns []string    `json:"columns"`
	Data    []ResultRow `json:"data"`
}

// ResultRow is one row in row format.
type ResultRow struct {
	Row []interface{} `json:"row"`
}

// QueryError is an error reported by the server.
type QueryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e QueryError) Error() string {
	return e.Code + ": " + e.Message
}

// HTTPExecutor runs queries through the Neo4j transactional HTTP endpoint
// (POST /db/{database}/tx/commit). The endpoint reports no server timing, so
// Elapsed is measured around the request.
//
// Example:
//
//	exec := executor.NewHTTP("http://localhost:7474", "neo4j", "neo4j", "password", executor.DefaultOptions())
//	res, err := exec.Execute(ctx, "MATCH (n) RETURN count(n)")
//	fmt.Println(res.Value, res.Elapsed)
type HTTPExecutor struct {
	baseURL  string
	database string
	user     string
	password string
	client   *http.Client
	opts     Options
	log      *zap.Logger
	closed   atomic.Bool
}

// NewHTTP returns an executor for the server at baseURL. An empty database
// selects "neo4j".
func NewHTTP(baseURL, database, user, password string, opts Options) *HTTPExecutor {
	if database == "" {
		database = "neo4j"
	}
	return &HTTPExecutor{
		baseURL:  strings.TrimRight(baseURL, "/"),
		database: database,
		user:     user,
		password: password,
		client:   &http.Client{},
		opts:     opts,
		log:      opts.logger(),
	}
}

func (h *HTTPExecutor) endpoint() string {
	return fmt.Sprintf("%s/db/%s/tx/commit", h.baseURL, h.database)
}

// post sends one statement and returns its result.
func (h *HTTPExecutor) post(ctx context.Context, query string) (*QueryResult, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := h.opts.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(TransactionRequest{
		Statements: []StatementRequest{{Statement: query, ResultDataContents: []string{"row"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.user != "" {
		req.SetBasicAuth(h.user, h.password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tr TransactionResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(tr.Errors) > 0 {
		qe := tr.Errors[0]
		if IsTimeout(qe) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, qe)
		}
		return nil, qe
	}
	if len(tr.Results) == 0 {
		return &QueryResult{}, nil
	}
	return &tr.Results[0], nil
}

// Execute clears query caches, then runs query and times the round trip.
func (h *HTTPExecutor) Execute(ctx context.Context, query string) (Result, error) {
	if h.opts.ClearCacheQuery != "" {
		if _, err := h.post(ctx, h.opts.ClearCacheQuery); err != nil {
			return Result{}, fmt.Errorf("clear query caches: %w", err)
		}
	}
	start := time.Now()
	qr, err := h.post(ctx, query)
	elapsed := time.Since(start)
	if err != nil {
		return Result{}, err
	}
	rows := make([][]any, len(qr.Data))
	for i, r := range qr.Data {
		rows[i] = r.Row
	}
	h.log.Debug("executed",
		zap.String("query", query),
		zap.Duration("elapsed", elapsed))
	return Result{Value: Normalize(firstValue(rows)), Elapsed: elapsed}, nil
}

// Exec runs a statement and discards its rows.
func (h *HTTPExecutor) Exec(ctx context.Context, query string) error {
	_, err := h.post(ctx, query)
	return err
}

// Query returns every row keyed by column name.
func (h *HTTPExecutor) Query(ctx context.Context, query string) ([]map[string]any, error) {
	qr, err := h.post(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(qr.Data))
	for i, r := range qr.Data {
		row := make(map[string]any, len(qr.Columns))
		for j, col := range qr.Columns {
			if j < len(r.Row) {
				row[col] = Normalize(r.Row[j])
			}
		}
		out[i] = row
	}
	return out, nil
}

// Close marks the executor closed and drops idle connections.
func (h *HTTPExecutor) Close(ctx context.Context) error {
	if !h.closed.Swap(true) {
		h.client.CloseIdleConnections()
	}
	return nil
}

// Verify HTTPExecutor implements Executor
var _ Executor = (*HTTPExecutor)(nil)
