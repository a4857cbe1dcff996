package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// BoltExecutor runs queries over the Bolt protocol with the official Neo4j
// driver. Each call uses its own session and managed write transaction.
type BoltExecutor struct {
	driver   neo4j.DriverWithContext
	database string
	opts     Options
	log      *zap.Logger
	closed   atomic.Bool
}

// NewBolt connects to uri (bolt://, neo4j://, ...) and verifies
// connectivity. An empty database selects the server default.
func NewBolt(ctx context.Context, uri, user, password, database string, opts Options) (*BoltExecutor, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create bolt driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify connectivity to %s: %w", uri, err)
	}
	return &BoltExecutor{driver: driver, database: database, opts: opts, log: opts.logger()}, nil
}

func (b *BoltExecutor) session(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: b.database,
	})
}

// boltOutcome is what one managed transaction hands back.
type boltOutcome struct {
	keys    []string
	rows    [][]any
	elapsed time.Duration
}

func (b *BoltExecutor) run(ctx context.Context, query string) (*boltOutcome, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := b.opts.withTimeout(ctx)
	defer cancel()

	session := b.session(ctx)
	defer session.Close(ctx)

	var configurers []func(*neo4j.TransactionConfig)
	if b.opts.Timeout > 0 {
		configurers = append(configurers, neo4j.WithTxTimeout(b.opts.Timeout))
	}

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		o := &boltOutcome{elapsed: summary.ResultAvailableAfter() + summary.ResultConsumedAfter()}
		for _, rec := range records {
			if o.keys == nil {
				o.keys = rec.Keys
			}
			o.rows = append(o.rows, rec.Values)
		}
		return o, nil
	}, configurers...)
	if err != nil {
		if IsTimeout(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	return out.(*boltOutcome), nil
}

// Execute clears query caches, then runs query and reports the server-side
// execution time.
func (b *BoltExecutor) Execute(ctx context.Context, query string) (Result, error) {
	if b.opts.ClearCacheQuery != "" {
		if _, err := b.run(ctx, b.opts.ClearCacheQuery); err != nil {
			return Result{}, fmt.Errorf("clear query caches: %w", err)
		}
	}
	o, err := b.run(ctx, query)
	if err != nil {
		return Result{}, err
	}
	b.log.Debug("executed",
		zap.String("query", query),
		zap.Duration("elapsed", o.elapsed))
	return Result{Value: firstValue(o.rows), Elapsed: o.elapsed}, nil
}

// Exec runs a statement and discards its rows.
func (b *BoltExecutor) Exec(ctx context.Context, query string) error {
	_, err := b.run(ctx, query)
	return err
}

// Query returns every row keyed by column name.
func (b *BoltExecutor) Query(ctx context.Context, query string) ([]map[string]any, error) {
	o, err := b.run(ctx, query)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(o.rows))
	for i, values := range o.rows {
		row := make(map[string]any, len(o.keys))
		for j, k := range o.keys {
			row[k] = values[j]
		}
		rows[i] = row
	}
	return rows, nil
}

// Close closes the driver. It is safe to call more than once.
func (b *BoltExecutor) Close(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.driver.Close(ctx)
}

// Verify BoltExecutor implements Executor
var _ Executor = (*BoltExecutor)(nil)
