// Package bolt implements the GraphVectorStore contract against a
// Bolt-protocol graph database (Memgraph/Neo4j) via neo4j-go-driver.
package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/config"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registrymigrate "github.com/memforge/memforge/internal/registry/migrate"
	"github.com/memforge/memforge/internal/security"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func init() {
	registrygraphstore.Register(registrygraphstore.Plugin{
		Name:   "bolt",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

func load(ctx context.Context) (registrygraphstore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("bolt store: config not found in context")
	}
	driver, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}

	store := &Gateway{
		driver: driver,
		cfg:    cfg,
	}

	if security.StorePoolMaxConnections != nil {
		security.StorePoolMaxConnections.Set(float64(cfg.StorePoolSize))
	}
	go store.pollPoolStats(ctx)

	return store, nil
}

func newDriver(cfg *config.Config) (neo4j.DriverWithContext, error) {
	auth := neo4j.BasicAuth(cfg.MemgraphUser, cfg.MemgraphPassword, "")
	driver, err := neo4j.NewDriverWithContext(cfg.MemgraphURL, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.StorePoolSize
		c.ConnectionAcquisitionTimeout = cfg.StoreAcquireTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("bolt store: failed to create driver: %w", err)
	}
	return driver, nil
}

func (g *Gateway) pollPoolStats(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if security.StorePoolOpenConnections != nil {
				security.StorePoolOpenConnections.Set(float64(g.inFlightSessions.Load()))
			}
		}
	}
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "bolt-schema" }

func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	driver, err := newDriver(cfg)
	if err != nil {
		return err
	}
	defer driver.Close(ctx)

	store := &Gateway{driver: driver, cfg: cfg}
	log.Info("Running migration", "name", m.Name())
	if err := store.ApplySchema(ctx); err != nil {
		return fmt.Errorf("migration: schema apply failed: %w", err)
	}
	if err := store.EnsureVectorIndexes(ctx, registrygraphstore.DefaultVectorIndexes(cfg.EmbeddingDimension())); err != nil {
		return fmt.Errorf("migration: vector index creation failed: %w", err)
	}
	log.Info("Bolt schema migration complete")
	return nil
}
