package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/pmengine/internal/ai"
	"github.com/kiranshivaraju/pmengine/internal/api"
	"github.com/kiranshivaraju/pmengine/internal/api/handler"
	mw "github.com/kiranshivaraju/pmengine/internal/api/middleware"
	"github.com/kiranshivaraju/pmengine/internal/api/response"
	"github.com/kiranshivaraju/pmengine/internal/apikey"
	"github.com/kiranshivaraju/pmengine/internal/cache"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/internal/decision"
	"github.com/kiranshivaraju/pmengine/internal/execution"
	"github.com/kiranshivaraju/pmengine/internal/machine"
	"github.com/kiranshivaraju/pmengine/internal/notify"
	"github.com/kiranshivaraju/pmengine/internal/observability"
	"github.com/kiranshivaraju/pmengine/internal/reply"
	"github.com/kiranshivaraju/pmengine/internal/scan"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/internal/workorder"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg        *config.Config
	store      store.Store
	cache      cache.Cache
	decisions  *decision.Service
	engine     *execution.Engine
	workOrders *workorder.Service
	machines   *machine.Service
	replies    *reply.Service
	runner     *scan.Runner
	keys       *apikey.Service

	closers []func(context.Context)
}

type appOptions struct {
	// seedDemo loads the demo fleet into the in-memory store.
	seedDemo bool
	// withBackend skips the reasoning backend and notifier when false.
	withBackend bool
}

// withApp loads config, wires the application and tears it down after run
// returns.
func withApp(opts appOptions, run func(cmd *cobra.Command, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, logCloser, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logCloser.Close()

		a, err := newApp(cmd.Context(), cfg, opts)
		if err != nil {
			return err
		}
		defer a.close()

		return run(cmd, a)
	}
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(func(ctx context.Context) {
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	})

	if err := a.openStore(ctx, opts.seedDemo); err != nil {
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		return nil, err
	}

	a.workOrders = workorder.NewService(a.store, nil)
	a.machines = machine.NewService(a.store, cfg.Engine.PMDueSoonDays, nil)
	a.keys = apikey.NewService(a.store, nil)

	if !opts.withBackend {
		return a, nil
	}

	backend, err := ai.NewBackend(cfg.AI, cfg.Engine.PMDueSoonDays)
	if err != nil {
		return nil, fmt.Errorf("create reasoning backend: %w", err)
	}
	slog.Info("reasoning backend initialized", "provider", backend.Name())

	notifier, err := notify.New(ctx, cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}
	a.onClose(func(context.Context) {
		if err := notifier.Close(); err != nil {
			slog.Warn("notifier close failed", "error", err)
		}
	})
	slog.Info("notifier initialized", "driver", cfg.Notify.Driver)

	a.workOrders = workorder.NewService(a.store, nil, workorder.WithNotifier(notifier))
	a.replies = reply.NewService(a.workOrders, backend, cfg.Engine.ConfidenceThreshold, nil)

	a.decisions = decision.NewService(
		decision.NewBuilder(a.store, cfg.Engine.PMDueSoonDays, cfg.Engine.HistoryLimit, nil),
		backend,
		decision.Gate{
			Threshold:            cfg.Engine.ConfidenceThreshold,
			MinExplanationLength: cfg.Engine.MinExplanationLength,
		},
		a.store, a.cache, nil,
	)
	a.engine = execution.NewEngine(a.store, notifier, a.decisions, nil)
	a.runner = scan.NewRunner(a.store, a.cache, a.decisions, a.engine, scan.Options{
		DueSoonDays:   cfg.Engine.PMDueSoonDays,
		Concurrency:   cfg.Scan.Concurrency,
		RatePerSecond: cfg.Scan.RatePerSecond,
	})

	return a, nil
}

func (a *app) openStore(ctx context.Context, seedDemo bool) error {
	if a.cfg.Database.InMemory() {
		mem := store.NewMemoryStore()
		if seedDemo {
			n := seedDemoFleet(mem, time.Now())
			slog.Info("demo fleet seeded", "machines", n)
		}
		a.store = mem
		slog.Warn("using in-memory store, data is lost on exit")
		return nil
	}

	pool, err := store.Connect(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.onClose(func(context.Context) { pool.Close() })
	slog.Info("database connected")

	if err := store.RunMigrations(a.cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	a.store = store.NewPostgresStore(pool)
	return nil
}

func (a *app) openCache(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		a.cache = cache.NewMemoryCache()
		slog.Warn("REDIS_URL not set, using in-process cache")
		return nil
	}

	redisCache, err := cache.NewRedisCache(a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	a.onClose(func(context.Context) { redisCache.Close() })

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	a.cache = redisCache
	return nil
}

func (a *app) onClose(fn func(context.Context)) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

// router builds the HTTP handler with every route wired.
func (a *app) router() http.Handler {
	dh := handler.NewDecisions(a.decisions, a.engine)
	wh := handler.NewWorkOrders(a.workOrders)
	mh := handler.NewMachines(a.machines)
	rh := handler.NewReplies(a.replies)
	sh := handler.NewScans(a.runner)
	kh := handler.NewKeys(a.keys)

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(a.store),
		RateLimit: mw.NewRateLimit(a.cache, a.cfg.Server.RateLimitPerMin),

		HealthHandler:  healthHandler(a.store, a.cache),
		MetricsHandler: promhttp.Handler(),

		ListMachines:   mh.List,
		GetMachine:     mh.Get,
		MachineHistory: mh.History,

		ProduceDecision:    dh.Produce,
		MachineContext:     dh.Context,
		ListDecisions:      dh.List,
		DecisionStatistics: dh.Statistics,
		GetDecision:        dh.Get,
		ExecuteDecision:    dh.Execute,

		CreateWorkOrder:   wh.Create,
		ListWorkOrders:    wh.List,
		GetWorkOrder:      wh.Get,
		SubmitWorkOrder:   wh.Submit,
		ApproveWorkOrder:  wh.Approve,
		ScheduleWorkOrder: wh.Schedule,
		CompleteWorkOrder: wh.Complete,
		CancelWorkOrder:   wh.Cancel,
		ProcessReply:      rh.Process,

		TriggerScan: sh.Trigger,
		ListScans:   sh.List,
		GetScan:     sh.Get,

		CreateKeyHandler: kh.Create,
		ListKeysHandler:  kh.List,
		RevokeKeyHandler: kh.Revoke,
	})
}

// pinger is the health-check surface shared by the store and cache.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(s, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
