package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/memforge/memforge/internal/config"
	registrycache "github.com/memforge/memforge/internal/registry/cache"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"

	// Import all plugins to trigger init() registration
	_ "github.com/memforge/memforge/internal/plugin/cache/infinispan"
	_ "github.com/memforge/memforge/internal/plugin/cache/noop"
	_ "github.com/memforge/memforge/internal/plugin/cache/redis"
	_ "github.com/memforge/memforge/internal/plugin/embed/azure"
	_ "github.com/memforge/memforge/internal/plugin/embed/intelli"
	_ "github.com/memforge/memforge/internal/plugin/embed/nomic"
	_ "github.com/memforge/memforge/internal/plugin/graphstore/bolt"
	_ "github.com/memforge/memforge/internal/plugin/llm/azure"
	_ "github.com/memforge/memforge/internal/plugin/llm/groq"
	_ "github.com/memforge/memforge/internal/plugin/route/system"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the MemForge HTTP and MCP servers",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// Developer convenience: pick up a local .env when present.
			_ = godotenv.Load()
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMFORGE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMFORGE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMFORGE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMFORGE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/healthz, /readyz, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMFORGE_CORS"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS handling on the main listener",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMFORGE_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins (default *)",
		},

		// ── Graph Store ───────────────────────────────────────────
		&cli.StringFlag{
			Name:        "graph-url",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMGRAPH_URL"),
			Destination: &cfg.MemgraphURL,
			Value:       cfg.MemgraphURL,
			Usage:       "Bolt URL of the graph store (Memgraph or Neo4j)",
		},
		&cli.StringFlag{
			Name:        "graph-user",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMGRAPH_USER"),
			Destination: &cfg.MemgraphUser,
			Usage:       "Graph store username",
		},
		&cli.StringFlag{
			Name:        "graph-password",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMGRAPH_PASSWORD"),
			Destination: &cfg.MemgraphPassword,
			Usage:       "Graph store password",
		},
		&cli.IntFlag{
			Name:        "graph-pool-size",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMFORGE_GRAPH_POOL_SIZE"),
			Destination: &cfg.StorePoolSize,
			Value:       cfg.StorePoolSize,
			Usage:       "Connection pool size for the graph store",
		},
		&cli.BoolFlag{
			Name:        "migrate-at-start",
			Category:    "Graph Store:",
			Sources:     cli.EnvVars("MEMFORGE_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Apply the schema DDL on startup",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-provider",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_PROVIDER"),
			Destination: &cfg.EmbeddingProvider,
			Value:       cfg.EmbeddingProvider,
			Usage:       "Embedding backend (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.IntFlag{
			Name:        "embedding-dims",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("EMBEDDING_DIMS"),
			Destination: &cfg.EmbeddingDims,
			Usage:       "Override the embedding dimension",
		},
		&cli.StringFlag{
			Name:        "intelli-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMFORGE_INTELLI_API_KEY", "INTELLI_API_KEY"),
			Destination: &cfg.IntelliAPIKey,
			Usage:       "API key for the intelli embedding backend",
		},
		&cli.StringFlag{
			Name:        "nomic-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMFORGE_NOMIC_API_KEY", "NOMIC_API_KEY"),
			Destination: &cfg.NomicAPIKey,
			Usage:       "API key for the nomic embedding backend",
		},

		// ── LLM ───────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "azure-openai-api-key",
			Category:    "LLM:",
			Sources:     cli.EnvVars("MEMFORGE_AZURE_OPENAI_API_KEY", "AZURE_OPENAI_API_KEY"),
			Destination: &cfg.AzureOpenAIAPIKey,
			Usage:       "Azure OpenAI API key (LLM + embedding)",
		},
		&cli.StringFlag{
			Name:        "azure-endpoint",
			Category:    "LLM:",
			Sources:     cli.EnvVars("MEMFORGE_AZURE_ENDPOINT", "AZURE_ENDPOINT"),
			Destination: &cfg.AzureEndpoint,
			Usage:       "Azure OpenAI endpoint URL",
		},
		&cli.StringFlag{
			Name:        "azure-deployment",
			Category:    "LLM:",
			Sources:     cli.EnvVars("MEMFORGE_AZURE_DEPLOYMENT", "AZURE_DEPLOYMENT"),
			Destination: &cfg.AzureDeployment,
			Usage:       "Azure OpenAI chat deployment name",
		},
		&cli.StringFlag{
			Name:        "azure-api-version",
			Category:    "LLM:",
			Sources:     cli.EnvVars("MEMFORGE_AZURE_API_VERSION", "AZURE_API_VERSION"),
			Destination: &cfg.AzureAPIVersion,
			Value:       cfg.AzureAPIVersion,
			Usage:       "Azure OpenAI API version",
		},
		&cli.StringFlag{
			Name:        "azure-embedding-deployment",
			Category:    "LLM:",
			Sources:     cli.EnvVars("MEMFORGE_AZURE_EMBEDDING_DEPLOYMENT", "AZURE_EMBEDDING_DEPLOYMENT"),
			Destination: &cfg.AzureEmbeddingDeploy,
			Usage:       "Azure OpenAI embedding deployment name",
		},
		&cli.StringFlag{
			Name:        "groq-api-key",
			Category:    "LLM:",
			Sources:     cli.EnvVars("GROQ_API_KEY"),
			Destination: &cfg.GroqAPIKey,
			Usage:       "Optional Groq key; when set, graph-LLM calls route to Groq",
		},
		&cli.StringFlag{
			Name:        "categorization-model",
			Category:    "LLM:",
			Sources:     cli.EnvVars("MEMFORGE_CATEGORIZATION_MODEL"),
			Destination: &cfg.CategorizationModel,
			Value:       cfg.CategorizationModel,
			Usage:       "Fallback model name for categorization",
		},
		&cli.IntFlag{
			Name:        "openai-requests-per-minute",
			Category:    "LLM:",
			Sources:     cli.EnvVars("OPENAI_REQUESTS_PER_MINUTE"),
			Destination: &cfg.OpenAIRequestsPerMinute,
			Value:       cfg.OpenAIRequestsPerMinute,
			Usage:       "LLM provider minute budget; bulk ingest concurrency derives from it",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMFORGE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Shared cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMFORGE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.StringFlag{
			Name:        "infinispan-host",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMFORGE_INFINISPAN_HOST"),
			Destination: &cfg.InfinispanHost,
			Usage:       "Infinispan RESP host:port (e.g. localhost:11222)",
		},
		&cli.StringFlag{
			Name:        "infinispan-username",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMFORGE_INFINISPAN_USERNAME"),
			Destination: &cfg.InfinispanUsername,
			Usage:       "Infinispan username",
		},
		&cli.StringFlag{
			Name:        "infinispan-password",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMFORGE_INFINISPAN_PASSWORD"),
			Destination: &cfg.InfinispanPassword,
			Usage:       "Infinispan password",
		},

		// ── Pipeline ──────────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "dedup",
			Category:    "Pipeline:",
			Sources:     cli.EnvVars("MEMFORGE_DEDUP"),
			Destination: &cfg.DedupEnabled,
			Value:       cfg.DedupEnabled,
			Usage:       "Enable the two-stage pre-write deduplication",
		},
		&cli.IntFlag{
			Name:        "extraction-workers",
			Category:    "Pipeline:",
			Sources:     cli.EnvVars("MEMFORGE_EXTRACTION_WORKERS"),
			Destination: &cfg.ExtractionWorkers,
			Value:       cfg.ExtractionWorkers,
			Usage:       "Entity extraction worker pool size",
		},
		&cli.IntFlag{
			Name:        "context-window-size",
			Category:    "Pipeline:",
			Sources:     cli.EnvVars("MEMFORGE_CONTEXT_WINDOW_SIZE"),
			Destination: &cfg.ContextWindowSize,
			Value:       cfg.ContextWindowSize,
			Usage:       "Recent memories used for co-reference context",
		},
		&cli.BoolFlag{
			Name:        "context-window",
			Category:    "Pipeline:",
			Sources:     cli.EnvVars("MEMFORGE_CONTEXT_WINDOW"),
			Destination: &cfg.ContextWindowEnabled,
			Usage:       "Prefix embedding input with recent memories",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MEMFORGE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=memforge",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

// selectLLM prefers the Groq override when a key is configured, falling back
// to Azure.
func selectLLM(ctx context.Context, cfg *config.Config) (registryllm.Provider, error) {
	name := "azure"
	if cfg.GroqAPIKey != "" {
		name = "groq"
	}
	loader, err := registryllm.Select(name)
	if err != nil {
		return nil, err
	}
	return loader(ctx)
}

// loadGraphStore resolves the single registered graph-store backend.
func loadGraphStore(ctx context.Context) (registrygraphstore.Store, error) {
	loader, err := registrygraphstore.Select("bolt")
	if err != nil {
		return nil, err
	}
	return loader(ctx)
}
