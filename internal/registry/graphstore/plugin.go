// Package graphstore defines the GraphVectorStore contract the StoreGateway
// wraps, and its plugin registry, in the same Loader/Plugin/Register shape
// as the other registries.
package graphstore

import (
	"context"
	"fmt"
)

// Row is a single result row: column name to value.
type Row map[string]interface{}

// Params is the named-parameter map passed alongside a Cypher statement.
type Params map[string]interface{}

// Step is one statement in a multi-step transaction.
type Step struct {
	Cypher string
	Params Params
}

// VectorIndexSpec describes a vector index to verify/create.
type VectorIndexSpec struct {
	Name      string
	Label     string
	Property  string
	Dimension int
	Capacity  int
	Metric    string // "cos"
}

// DefaultVectorIndexes returns the memory and entity vector index specs for
// the given embedding dimension. Every component that issues a
// vector_search call passes these to EnsureVectorIndexes first.
func DefaultVectorIndexes(dim int) []VectorIndexSpec {
	return []VectorIndexSpec{
		{Name: "memory_vectors", Label: "Memory", Property: "embedding", Dimension: dim, Capacity: 100000, Metric: "cos"},
		{Name: "entity_vectors", Label: "Entity", Property: "descriptionEmbedding", Dimension: dim, Capacity: 10000, Metric: "cos"},
	}
}

// Store is the Cypher-like graph+vector database contract. One connection
// pool per process; sessions are acquired, used, and closed within a single
// operation.
type Store interface {
	// Read runs a read-only Cypher statement.
	Read(ctx context.Context, cypher string, params Params) ([]Row, error)
	// Write runs a single write Cypher statement.
	Write(ctx context.Context, cypher string, params Params) ([]Row, error)
	// Transaction runs an ordered list of write steps in one explicit write
	// transaction: commits on success, rolls back on first error.
	Transaction(ctx context.Context, steps []Step) ([][]Row, error)
	// EnsureVectorIndexes verifies (and lazily creates) the given vector
	// indexes. Safe to call repeatedly; implementations should only do the
	// verification round-trip once per process lifecycle unless invalidated.
	EnsureVectorIndexes(ctx context.Context, specs []VectorIndexSpec) error
	// ApplySchema runs the idempotent DDL (constraints, indexes) — used by
	// SchemaInitializer.
	ApplySchema(ctx context.Context) error
	// Close releases the pool.
	Close() error
}

// Loader creates a Store from config.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a graph-store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a graph-store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered graph-store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named graph-store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown graph store %q; valid: %v", name, Names())
}
