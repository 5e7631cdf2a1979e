package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chainwright/chainwright/internal/adapter/cached"
	cwhttp "github.com/chainwright/chainwright/internal/adapter/http"
	cwmcp "github.com/chainwright/chainwright/internal/adapter/mcp"
	"github.com/chainwright/chainwright/internal/adapter/memstore"
	cwnats "github.com/chainwright/chainwright/internal/adapter/nats"
	"github.com/chainwright/chainwright/internal/adapter/natskv"
	"github.com/chainwright/chainwright/internal/adapter/openai"
	cwotel "github.com/chainwright/chainwright/internal/adapter/otel"
	"github.com/chainwright/chainwright/internal/adapter/postgres"
	"github.com/chainwright/chainwright/internal/adapter/ristretto"
	"github.com/chainwright/chainwright/internal/adapter/tiered"
	"github.com/chainwright/chainwright/internal/adapter/ws"
	"github.com/chainwright/chainwright/internal/config"
	"github.com/chainwright/chainwright/internal/logger"
	"github.com/chainwright/chainwright/internal/middleware"
	"github.com/chainwright/chainwright/internal/port/artifactstore"
	"github.com/chainwright/chainwright/internal/port/eventlog"
	"github.com/chainwright/chainwright/internal/port/reasoning"
	"github.com/chainwright/chainwright/internal/resilience"
	"github.com/chainwright/chainwright/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logClose := logger.New(cfg.Logging)
	defer logClose.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"reasoning_backend", cfg.Reasoning.Backend,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Observability ---

	otelShutdown, err := cwotel.Setup(ctx, cfg.Otel, cfg.Logging.Service, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cwotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Storage ---

	var (
		store  artifactstore.Store
		events eventlog.Log
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pool, perr := postgres.NewPool(ctx, cfg.Postgres)
		if perr != nil {
			return fmt.Errorf("postgres: %w", perr)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		log.Info("postgres connected, migrations applied")

		store = postgres.NewStore(pool)
		events = postgres.NewEventLog(pool)
	default:
		log.Info("using in-memory storage")
		store = memstore.NewStore()
		events = memstore.NewEventLog()
	}

	// --- NATS ---

	queue, err := cwnats.Connect(ctx, cfg.NATS.URL, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	var idem func(http.Handler) http.Handler
	if kv, kerr := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL); kerr != nil {
		log.Warn("idempotency bucket unavailable, replay protection disabled", "error", kerr)
	} else {
		idem = middleware.Idempotency(kv, log)
	}

	if cfg.Cache.Enabled {
		l1, cerr := ristretto.New(cfg.Cache.L1MaxSizeMB * 1024 * 1024)
		if cerr != nil {
			return fmt.Errorf("cache l1: %w", cerr)
		}
		defer func() { _ = l1.Close() }()

		if kv, kerr := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL); kerr != nil {
			log.Warn("cache l2 bucket unavailable, caching artifacts in-process only", "error", kerr)
			store = cached.New(store, l1, cfg.Cache.L2TTL, log)
		} else {
			store = cached.New(store, tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL), cfg.Cache.L2TTL, log)
		}
	}

	// --- Reasoning backend ---

	backend, err := reasoning.New(cfg.Reasoning.Backend, map[string]string{
		"url":     cfg.Reasoning.URL,
		"api_key": cfg.Reasoning.APIKey,
		"model":   cfg.Reasoning.Model,
		"timeout": cfg.Reasoning.Timeout.String(),
	})
	if err != nil {
		return fmt.Errorf("reasoning backend: %w", err)
	}
	if oc, ok := backend.(*openai.Client); ok {
		oc.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	}

	// --- Services ---

	hub := ws.NewHub(log)

	tracker := service.NewTracker(store, log)
	versioner := service.NewVersioner(store, log)
	versioner.SetMetrics(metrics)
	invoker := service.NewInvoker(backend, cfg.Reasoning, log)
	invoker.SetMetrics(metrics)
	critic := service.NewCritic(versioner, invoker, cfg.Critique.Weights, log)
	router := service.NewRouter(versioner, cfg.Router.Thresholds, cfg.Router.AgentWeights, log)
	replanner := service.NewReplanner(versioner, invoker, log)

	coordinator := service.NewCoordinator(tracker, versioner, invoker, critic, router, replanner, events, cfg.Pipeline, log)
	coordinator.SetQueue(queue)
	coordinator.SetBroadcaster(hub)
	coordinator.SetMetrics(metrics)

	intake := service.NewIntake(queue, coordinator, log)
	if err := intake.Start(ctx); err != nil {
		return fmt.Errorf("intake: %w", err)
	}

	// --- MCP ---

	var mcpSrv *cwmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = cwmcp.NewServer(cwmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "chainwright",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, cwmcp.ServerDeps{
			PipelineRunner: coordinator,
			RequestReader:  tracker,
			ArtifactReader: versioner,
			TrailReader:    events,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
	}

	// --- HTTP ---

	handlers := cwhttp.NewHandlers(coordinator, tracker, versioner, events, store)

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(cwhttp.SecurityHeaders)
	r.Use(cwhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cwhttp.Logger)
	r.Use(limiter.Handler)
	if cfg.Otel.Enabled {
		r.Use(cwotel.HTTPMiddleware(cfg.Logging.Service))
	}

	cwhttp.MountRoutes(r, handlers, hub, idem)

	addr := ":" + cfg.Server.Port

	// No global write timeout: /ws connections are long-lived.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	intake.Stop()
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			log.Warn("mcp shutdown", "error", err)
		}
	}
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		log.Warn("pipelines still running at shutdown", "error", err)
	}
	if err := queue.Drain(); err != nil {
		log.Warn("nats drain", "error", err)
	}
	return nil
}
