package bolt

import (
	"context"
	"errors"
	"testing"
	"time"

	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	"github.com/stretchr/testify/assert"
)

func TestRewriteSkipLimit(t *testing.T) {
	in := "MATCH (m:Memory) RETURN m SKIP $offset LIMIT $count"
	out := rewriteSkipLimit(in)
	assert.Equal(t, "MATCH (m:Memory) RETURN m SKIP toInteger($offset) LIMIT toInteger($count)", out)
}

func TestRewriteSkipLimitNoop(t *testing.T) {
	in := "MATCH (m:Memory) RETURN m"
	assert.Equal(t, in, rewriteSkipLimit(in))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("connection closed by server")))
	assert.True(t, isRetryable(errors.New("Tantivy error: index corrupted")))
	assert.False(t, isRetryable(errors.New("constraint violation")))
	assert.False(t, isRetryable(nil))
}

func TestIsConnectionClass(t *testing.T) {
	assert.True(t, isConnectionClass(errors.New("dial tcp: ECONNREFUSED")))
	assert.False(t, isConnectionClass(errors.New("Tantivy error")))
}

func TestClassifyReason(t *testing.T) {
	assert.Equal(t, "connection", classifyReason(errors.New("ECONNRESET")))
	assert.Equal(t, "transient", classifyReason(errors.New("Cannot resolve conflicting transactions")))
}

// shortenBackoff keeps the retry tests fast; the schedule is restored after
// each test.
func shortenBackoff(t *testing.T) {
	t.Helper()
	orig := backoffSchedule
	backoffSchedule = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { backoffSchedule = orig })
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	shortenBackoff(t)
	g := &Gateway{}
	attempts := 0
	err := g.withRetry(context.Background(), "write", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("service unavailable")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryPropagatesLastError(t *testing.T) {
	shortenBackoff(t)
	g := &Gateway{}
	attempts := 0
	err := g.withRetry(context.Background(), "write", func(ctx context.Context) error {
		attempts++
		return errors.New("ECONNRESET attempt")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts) // 3 attempts in all, then the last error
}

func TestWithRetryDoesNotRetryNonTransient(t *testing.T) {
	g := &Gateway{}
	attempts := 0
	err := g.withRetry(context.Background(), "write", func(ctx context.Context) error {
		attempts++
		return errors.New("constraint violation")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestConnectionErrorResetsVectorIndexFlag(t *testing.T) {
	shortenBackoff(t)
	g := &Gateway{}
	g.vectorIndexReady = true
	_ = g.withRetry(context.Background(), "read", func(ctx context.Context) error {
		return errors.New("connection closed by server")
	})
	assert.False(t, g.vectorIndexReady)
}

func TestToNeo4jParams(t *testing.T) {
	out := toNeo4jParams(registrygraphstore.Params{"id": "abc", "limit": 10})
	assert.Equal(t, "abc", out["id"])
	assert.Equal(t, 10, out["limit"])

	assert.Empty(t, toNeo4jParams(nil))
}
