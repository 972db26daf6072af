package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/memforge/memforge/internal/config"
	"github.com/memforge/memforge/internal/configcache"
	"github.com/memforge/memforge/internal/mcpsurface"
	"github.com/memforge/memforge/internal/plugin/route/apps"
	"github.com/memforge/memforge/internal/plugin/route/backup"
	"github.com/memforge/memforge/internal/plugin/route/memories"
	routesearch "github.com/memforge/memforge/internal/plugin/route/search"
	routesystem "github.com/memforge/memforge/internal/plugin/route/system"
	registrycache "github.com/memforge/memforge/internal/registry/cache"
	registryembed "github.com/memforge/memforge/internal/registry/embed"
	registrygraphstore "github.com/memforge/memforge/internal/registry/graphstore"
	registryllm "github.com/memforge/memforge/internal/registry/llm"
	registrymigrate "github.com/memforge/memforge/internal/registry/migrate"
	registryroute "github.com/memforge/memforge/internal/registry/route"
	"github.com/memforge/memforge/internal/security"
	"github.com/memforge/memforge/internal/service/bulk"
	"github.com/memforge/memforge/internal/service/categorizer"
	"github.com/memforge/memforge/internal/service/clustering"
	"github.com/memforge/memforge/internal/service/dedup"
	"github.com/memforge/memforge/internal/service/extractor"
	"github.com/memforge/memforge/internal/service/intent"
	"github.com/memforge/memforge/internal/service/orchestrator"
	searchservice "github.com/memforge/memforge/internal/service/search"
	"github.com/memforge/memforge/internal/service/writer"
	"github.com/memforge/memforge/internal/taskqueue"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config *config.Config
	Store  registrygraphstore.Store
	Router *gin.Engine
	Tasks  *taskqueue.Supervisor

	httpServer      *http.Server
	closeManagement func(context.Context) error
	Port            int
}

// Shutdown gracefully drains HTTP, lets queued background tasks finish, and
// closes the store pool.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.closeManagement != nil {
		if err := s.closeManagement(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && err != context.Canceled && firstErr == nil {
			firstErr = err
		}
	}
	if s.Tasks != nil {
		if err := s.Tasks.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartServer initializes every subsystem and starts serving. Use
// cfg.Listener.Port=0 for an OS-assigned port; the actual port is
// Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting MemForge",
		"httpPort", cfg.Listener.Port,
		"graph", cfg.MemgraphURL,
		"embedding", cfg.EmbeddingProvider,
		"cache", cfg.CacheType,
	)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	store, err := loadGraphStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize graph store: %w", err)
	}

	// Shared cache is optional: a load failure degrades to local-only
	// caching, it never blocks startup.
	var sharedCache registrycache.SharedCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if sharedCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		sharedCache = nil
	}

	embedLoader, err := registryembed.Select(cfg.EmbeddingProvider)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	routesystem.SetEmbedderProbe(embedder)

	var llm registryllm.Provider
	if llm, err = selectLLM(ctx, cfg); err != nil {
		// Classification, dedup, and extraction all fail open without an
		// LLM; recall and raw storage keep working.
		log.Warn("LLM provider not available, running fail-open", "err", err)
	}

	workers := cfg.ExtractionWorkers
	if workers < 1 {
		workers = 1
	}
	tasks := taskqueue.New("background", workers, workers*4)

	cfgCache, err := configcache.New(store, cfg.ConfigCacheTTL)
	if err != nil {
		return nil, err
	}

	classifier := intent.New(llm)
	dedupEngine := dedup.New(store, embedder, llm, cfg)
	dedupEngine.SetConfigCache(cfgCache)
	if sharedCache != nil {
		dedupEngine.SetSharedCache(sharedCache)
	}

	memWriter := writer.New(store, embedder, tasks, cfg)
	cat := categorizer.New(store, llm)
	ext := extractor.New(store, llm, embedder, tasks, cfg)
	memWriter.Categorize = cat.Categorize
	memWriter.Extract = ext.ProcessEntityExtraction

	searchEngine := searchservice.New(store, embedder, tasks, cfg)
	clusterer := clustering.New(store, llm)

	bulkIngester := bulk.New(store, embedder, dedupEngine, tasks, cfg)
	bulkIngester.Categorize = cat.Categorize
	bulkIngester.Extract = ext.ProcessEntityExtraction

	orch := orchestrator.New(classifier, dedupEngine, memWriter, searchEngine, ext, store, cfg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/healthz", "/readyz", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	memories.MountRoutes(router, memories.Deps{
		Store:        store,
		Writer:       memWriter,
		Search:       searchEngine,
		Dedup:        dedupEngine,
		Orchestrator: orch,
		Bulk:         bulkIngester,
		Config:       cfg,
	})
	routesearch.MountRoutes(router, store, searchEngine, clusterer)
	apps.MountRoutes(router, store)
	backup.MountRoutes(router, backup.Deps{Store: store, Writer: memWriter})

	// MCP streaming surface.
	mcp := mcpsurface.New(orch, "/mcp")
	router.Any("/mcp/*path", gin.WrapH(mcp.Handler()))

	// Management routes: dedicated listener when configured, otherwise the
	// main router serves them.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		_, closeManagement, err = startManagementServer(cfg.ManagementListener, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "err", err)
		}
	}()

	port := 0
	if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Router:          router,
		Tasks:           tasks,
		httpServer:      httpServer,
		closeManagement: closeManagement,
		Port:            port,
	}, nil
}
