package crmservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/moctezuma-dev/zappy-back/internal/alerts"
	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/api"
	"github.com/moctezuma-dev/zappy-back/internal/config"
	"github.com/moctezuma-dev/zappy-back/internal/crm"
	"github.com/moctezuma-dev/zappy-back/internal/embeddings"
	"github.com/moctezuma-dev/zappy-back/internal/factory"
	"github.com/moctezuma-dev/zappy-back/internal/health"
	"github.com/moctezuma-dev/zappy-back/internal/indexer"
	"github.com/moctezuma-dev/zappy-back/internal/ingest"
	"github.com/moctezuma-dev/zappy-back/internal/knowledge"
	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/logger"
	"github.com/moctezuma-dev/zappy-back/internal/mailwatch"
	"github.com/moctezuma-dev/zappy-back/internal/mcptools"
	"github.com/moctezuma-dev/zappy-back/internal/realtime"
	"github.com/moctezuma-dev/zappy-back/internal/reindex"
	"github.com/moctezuma-dev/zappy-back/internal/retrieval"
	"github.com/moctezuma-dev/zappy-back/internal/scheduler"
	"github.com/moctezuma-dev/zappy-back/internal/scoring"
	"github.com/moctezuma-dev/zappy-back/internal/store"
	"github.com/moctezuma-dev/zappy-back/internal/storagewatch"
	"github.com/moctezuma-dev/zappy-back/internal/taskqueue"
)

// Version is reported by the MCP server.
var Version = "dev"

// Services holds every long-lived component of the CRM service.
type Services struct {
	Store     store.Store
	Model     *llm.Client
	Embedder  embeddings.Provider
	Queue     *taskqueue.Queue
	Analyzer  *analyzer.Analyzer
	Alerts    *alerts.Engine
	Ingest    *ingest.Service
	Knowledge *knowledge.Service
	Retrieval *retrieval.Service
	CRM       *crm.Service
	Reindex   *reindex.Reindexer
	Realtime  *realtime.Watcher
	Sweeper   *scheduler.Sweeper
	Media     *storagewatch.Watcher
	Ledger    storagewatch.Ledger
	Inbox     *mailwatch.Poller
}

// Run starts the CRM HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("crm-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("store_driver", cfg.StoreDriver).
		Int("http_port", cfg.HTTPPort).
		Bool("model_configured", cfg.ModelConfigured()).
		Bool("storage_configured", cfg.StorageConfigured()).
		Msg("CRM service starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	svc, err := Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	svcHealth := startHealthCheckers(ctx, cfg, log, svc)

	// Block startup until required dependencies report healthy
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	svc.Start(ctx, cfg, log)

	server := newHTTPServer(ctx, cfg, api.NewRouter(svc.routerDeps(cfg, svcHealth, log)))
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// Build constructs every component from cfg without starting background work.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Services, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}
	client, err := factory.NewModel(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Model client unavailable")
		_ = st.Close()
		return nil, err
	}
	embedder := factory.NewEmbeddingProvider(ctx, client, log)
	queue := factory.NewQueue(cfg, log)

	ix := indexer.New(st.Contexts(), embedder, cfg.ContextMaxChars, log)
	alertEngine := alerts.New(st.Alerts(), log)
	recompute := scoring.NewRecomputer(scoring.New(st, log), queue)
	an := analyzer.New(analyzer.Deps{
		Store:   st,
		Model:   client,
		Indexer: ix,
		Alerts:  alertEngine,
		Health:  recompute,
	}, log)

	// Postgres triggers announce writes; other setups dispatch from the
	// services that did the write.
	var source realtime.Source
	if cfg.RealtimeEnabled && cfg.StoreDriver == "postgres" {
		source = realtime.NewPGSource(cfg.PostgresDSN, log)
	}
	rt := realtime.New(realtime.Config{Channel: cfg.RealtimeChannel}, source, an, queue, log)

	ing := ingest.New(st, ix, log)
	ret := retrieval.New(st, embedder, client, alertEngine, log)
	views := crm.New(st, log)
	if source == nil {
		an.WithDispatcher(rt)
		ing = ing.WithDispatcher(rt)
		ret = ret.WithDispatcher(rt)
		views = views.WithDispatcher(rt)
	}

	svc := &Services{
		Store:     st,
		Model:     client,
		Embedder:  embedder,
		Queue:     queue,
		Analyzer:  an,
		Alerts:    alertEngine,
		Ingest:    ing,
		Knowledge: knowledge.New(st, ix, embedder, log),
		Retrieval: ret,
		CRM:       views,
		Reindex:   reindex.New(an, log),
		Realtime:  rt,
		Sweeper:   scheduler.New(st.WorkItems(), an, log),
	}

	if mb := factory.NewMailbox(cfg); mb != nil {
		svc.Inbox = mailwatch.New(mailwatch.Config{
			Interval: cfg.IMAPPollInterval,
			Company:  cfg.IMAPCompany,
		}, mb, ing, log)
	}

	if objects := factory.NewObjectStore(cfg); objects != nil {
		ledger, err := factory.NewLedger(cfg, log)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Ledger = ledger
		svc.Media = storagewatch.New(storagewatch.Config{
			Bucket:   cfg.StorageBucket,
			Folder:   cfg.StorageFolder,
			Interval: cfg.StoragePollInterval,
		}, storagewatch.Deps{
			Objects: objects,
			Ledger:  ledger,
			Media:   factory.NewMediaExtractor(cfg, log),
			Model:   client,
			Ingest:  ing,
			Jobs:    st.Jobs(),
		}, log)
	}
	return svc, nil
}

// Start launches the realtime subscription, the overdue sweep, the inbox
// poller when configured and the storage poller when enabled.
func (s *Services) Start(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	s.Realtime.Subscribe(ctx)
	if err := s.Sweeper.Start(cfg.OverdueSweepSchedule); err != nil {
		log.Error().Err(err).Str("schedule", cfg.OverdueSweepSchedule).Msg("overdue sweep not scheduled")
	}
	if s.Inbox != nil {
		s.Inbox.Start(ctx)
	}
	if s.Media != nil && cfg.StorageWatcherEnabled {
		s.Media.Start(ctx)
	}
}

// Close stops background work and releases the store.
func (s *Services) Close() {
	if s.Inbox != nil {
		s.Inbox.Stop()
	}
	if s.Media != nil {
		s.Media.Stop()
	}
	if s.Sweeper != nil {
		s.Sweeper.Stop()
	}
	if s.Realtime != nil {
		_ = s.Realtime.Close()
	}
	if s.Queue != nil {
		_ = s.Queue.Close()
	}
	if s.Ledger != nil {
		_ = s.Ledger.Close()
	}
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

func (s *Services) routerDeps(cfg *config.Config, h api.HealthReporter, log zerolog.Logger) api.Deps {
	d := api.Deps{
		Health:      h,
		Ingest:      s.Ingest,
		Analyzer:    s.Analyzer,
		Retrieval:   s.Retrieval,
		Alerts:      s.Alerts,
		Knowledge:   s.Knowledge,
		CRM:         s.CRM,
		Background:  s.Queue,
		Realtime:    s.Realtime,
		Reindex:     s.Reindex,
		Credentials: s.Model,
		Log:         log,
	}
	if s.Media != nil {
		d.Media = s.Media
	}
	if cfg.MCPEnabled {
		tools := mcptools.New(s.Retrieval, s.Alerts, s.Analyzer, s.Reindex, log)
		d.MCP = mcptools.Handler(mcptools.NewServer(Version, tools))
	}
	return d
}

// startHealthCheckers starts component checkers and the service-level aggregator.
// The store gates health; the embedder is reported when configured.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, s *Services) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	svcHealth := health.NewServiceHealthChecker(log, store.NewStoreHealthChecker(s.Store, log, probeTimeout))
	if s.Embedder != nil {
		svcHealth.WithOptional(embeddings.NewProviderHealthChecker(s.Embedder, log, probeTimeout))
	}
	svcHealth.StartAll(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
