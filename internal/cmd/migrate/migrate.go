package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/memforge/memforge/internal/config"
	registrymigrate "github.com/memforge/memforge/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// The bolt graph-store plugin registers its schema migrator alongside
	// its primary interface.
	_ "github.com/memforge/memforge/internal/plugin/graphstore/bolt"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the graph schema (constraints, scalar/full-text indexes, vector indexes)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "graph-url",
				Sources: cli.EnvVars("MEMGRAPH_URL"),
				Usage:   "Bolt URL of the graph store",
				Value:   "bolt://localhost:7687",
			},
			&cli.StringFlag{
				Name:    "graph-user",
				Sources: cli.EnvVars("MEMGRAPH_USER"),
				Usage:   "Graph store username",
			},
			&cli.StringFlag{
				Name:    "graph-password",
				Sources: cli.EnvVars("MEMGRAPH_PASSWORD"),
				Usage:   "Graph store password",
			},
			&cli.StringFlag{
				Name:    "embedding-provider",
				Sources: cli.EnvVars("EMBEDDING_PROVIDER"),
				Usage:   "Embedding backend; determines the vector index dimension",
				Value:   "intelli",
			},
			&cli.IntFlag{
				Name:    "embedding-dims",
				Sources: cli.EnvVars("EMBEDDING_DIMS"),
				Usage:   "Override the vector index dimension",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.MemgraphURL = cmd.String("graph-url")
			cfg.MemgraphUser = cmd.String("graph-user")
			cfg.MemgraphPassword = cmd.String("graph-password")
			cfg.EmbeddingProvider = cmd.String("embedding-provider")
			cfg.EmbeddingDims = int(cmd.Int("embedding-dims"))
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
