package bolt

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memforge/memforge/internal/config"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/memforge/memforge/internal/security"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// retryableSubstrings are fragments of transient driver/server error messages
// that justify a retry rather than surfacing the error immediately. A
// connection-class match also invalidates the cached vector-index state.
var retryableSubstrings = []string{
	"connection closed by server",
	"service unavailable",
	"ECONNREFUSED",
	"ECONNRESET",
	"Cannot resolve conflicting transactions",
	"Tantivy error",
	"index writer was killed",
}

var connectionClassSubstrings = []string{
	"connection closed by server",
	"service unavailable",
	"ECONNREFUSED",
	"ECONNRESET",
}

var backoffSchedule = []time.Duration{300 * time.Millisecond, 600 * time.Millisecond, 1200 * time.Millisecond}

// Gateway is the bolt-backed GraphVectorStore.
type Gateway struct {
	driver neo4j.DriverWithContext
	cfg    *config.Config

	inFlightSessions atomic.Int64

	vectorIndexMu    sync.Mutex
	vectorIndexReady bool
	vectorIndexSpecs []registrygraphstore.VectorIndexSpec
}

var _ registrygraphstore.Store = (*Gateway)(nil)

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isConnectionClass(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range connectionClassSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry runs fn up to len(backoffSchedule) times, retrying only on
// transient errors and waiting backoffSchedule[i] after failed attempt i
// when another attempt follows. A
// connection-class error also resets the lazily-verified vector index flag,
// since a fresh connection may be talking to a server that never ran the
// index-creation DDL.
func (g *Gateway) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := len(backoffSchedule)
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if isConnectionClass(lastErr) {
			g.vectorIndexMu.Lock()
			g.vectorIndexReady = false
			g.vectorIndexMu.Unlock()
		}
		if !isRetryable(lastErr) || attempt == attempts-1 {
			return lastErr
		}
		if security.StoreRetriesTotal != nil {
			security.StoreRetriesTotal.WithLabelValues(operation, classifyReason(lastErr)).Inc()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffSchedule[attempt]):
		}
	}
	return lastErr
}

func classifyReason(err error) string {
	if isConnectionClass(err) {
		return "connection"
	}
	return "transient"
}

func (g *Gateway) observe(operation string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// skipLimitPattern finds `SKIP $x LIMIT $y`-style clauses so bare integer
// parameters can be coerced with toInteger(), since Cypher requires SKIP/LIMIT
// to be integers and numeric parameters arrive as float64 from Go's JSON path.
var skipLimitPattern = regexp.MustCompile(`(?i)\b(SKIP|LIMIT)\s+\$(\w+)`)

func rewriteSkipLimit(cypher string) string {
	return skipLimitPattern.ReplaceAllString(cypher, "$1 toInteger($$$2)")
}

func toNeo4jParams(params registrygraphstore.Params) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func (g *Gateway) Read(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	start := time.Now()
	defer g.observe("read", start)
	cypher = rewriteSkipLimit(cypher)

	var rows []registrygraphstore.Row
	err := g.withRetry(ctx, "read", func(ctx context.Context) error {
		g.inFlightSessions.Add(1)
		defer g.inFlightSessions.Add(-1)
		session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
		defer session.Close(ctx)

		result, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]registrygraphstore.Row, error) {
			res, err := tx.Run(ctx, cypher, toNeo4jParams(params))
			if err != nil {
				return nil, err
			}
			return collectRows(ctx, res)
		})
		if err != nil {
			return err
		}
		rows = result
		return nil
	})
	return rows, err
}

func (g *Gateway) Write(ctx context.Context, cypher string, params registrygraphstore.Params) ([]registrygraphstore.Row, error) {
	start := time.Now()
	defer g.observe("write", start)
	cypher = rewriteSkipLimit(cypher)

	var rows []registrygraphstore.Row
	err := g.withRetry(ctx, "write", func(ctx context.Context) error {
		g.inFlightSessions.Add(1)
		defer g.inFlightSessions.Add(-1)
		session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)

		result, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) ([]registrygraphstore.Row, error) {
			res, err := tx.Run(ctx, cypher, toNeo4jParams(params))
			if err != nil {
				return nil, err
			}
			return collectRows(ctx, res)
		})
		if err != nil {
			return err
		}
		rows = result
		return nil
	})
	return rows, err
}

func (g *Gateway) Transaction(ctx context.Context, steps []registrygraphstore.Step) ([][]registrygraphstore.Row, error) {
	start := time.Now()
	defer g.observe("transaction", start)

	var results [][]registrygraphstore.Row
	err := g.withRetry(ctx, "transaction", func(ctx context.Context) error {
		g.inFlightSessions.Add(1)
		defer g.inFlightSessions.Add(-1)
		session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer session.Close(ctx)

		out, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) ([][]registrygraphstore.Row, error) {
			all := make([][]registrygraphstore.Row, 0, len(steps))
			for _, step := range steps {
				res, err := tx.Run(ctx, rewriteSkipLimit(step.Cypher), toNeo4jParams(step.Params))
				if err != nil {
					return nil, err
				}
				rows, err := collectRows(ctx, res)
				if err != nil {
					return nil, err
				}
				all = append(all, rows)
			}
			return all, nil
		})
		if err != nil {
			return err
		}
		results = out
		return nil
	})
	return results, err
}

func collectRows(ctx context.Context, res neo4j.ResultWithContext) ([]registrygraphstore.Row, error) {
	var rows []registrygraphstore.Row
	for res.Next(ctx) {
		rec := res.Record()
		row := make(registrygraphstore.Row, len(rec.Keys))
		for _, k := range rec.Keys {
			v, _ := rec.Get(k)
			row[k] = v
		}
		rows = append(rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// EnsureVectorIndexes verifies (and lazily creates) vector indexes the first
// time it is called, or again after a connection-class error reset the
// cached flag. Subsequent calls are a no-op until that happens.
func (g *Gateway) EnsureVectorIndexes(ctx context.Context, specs []registrygraphstore.VectorIndexSpec) error {
	g.vectorIndexMu.Lock()
	if g.vectorIndexReady {
		g.vectorIndexMu.Unlock()
		return nil
	}
	g.vectorIndexSpecs = specs
	g.vectorIndexMu.Unlock()

	for _, spec := range specs {
		cypher := fmt.Sprintf(
			"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s) OPTIONS {index_config: {\"dimension\": %d, \"capacity\": %d, \"metric\": \"%s\"}}",
			spec.Name, spec.Label, spec.Property, spec.Dimension, spec.Capacity, spec.Metric,
		)
		if _, err := g.Write(ctx, cypher, nil); err != nil {
			return fmt.Errorf("bolt store: failed to create vector index %s: %w", spec.Name, err)
		}
	}

	g.vectorIndexMu.Lock()
	g.vectorIndexReady = true
	g.vectorIndexMu.Unlock()
	return nil
}

func (g *Gateway) ApplySchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := g.Write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("bolt store: schema statement failed: %w", err)
		}
	}
	return nil
}

func (g *Gateway) Close() error {
	return g.driver.Close(context.Background())
}
