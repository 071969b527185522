// Package server exposes the workflow engine over HTTP: auth, runs,
// search, schedules, health, and metrics.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/crewline/config"
	"github.com/mohammad-safakhou/crewline/internal/cards"
	"github.com/mohammad-safakhou/crewline/internal/oracle"
	"github.com/mohammad-safakhou/crewline/internal/runtime"
	"github.com/mohammad-safakhou/crewline/internal/search"
	"github.com/mohammad-safakhou/crewline/internal/session"
	"github.com/mohammad-safakhou/crewline/internal/store"
	"github.com/mohammad-safakhou/crewline/internal/telemetry"
	"github.com/mohammad-safakhou/crewline/internal/worker"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// Run builds every server dependency from config and blocks serving
// HTTP until the process exits.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	metrics := telemetry.New()
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	ctx := context.Background()

	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}
	dsn := cfg.Storage.Postgres.DSN()
	if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	if err := cfg.Storage.Redis.Validate(); err != nil {
		return err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}
	sessCfg := cfg.Session.Normalize()
	sessions := session.NewStore(rdb, sessCfg.MaxTurns, sessCfg.TTL)

	registry, err := cards.LoadDir(cfg.Workers.CardsDir)
	if err != nil {
		return fmt.Errorf("load worker cards: %w", err)
	}

	provider, err := oracle.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	oracleLogger := log.New(log.Writer(), "[oracle] ", log.LstdFlags)
	orc := oracle.New(provider, cfg.LLM.Routing, oracleLogger)

	transport := cfg.Transport.Normalize()
	remote := worker.NewRemoteInvoker(transport, log.New(log.Writer(), "[worker] ", log.LstdFlags))
	dispatcher := worker.NewDispatcher(worker.NewLocalInvoker(), remote)

	engine := workflow.NewEngine(registry, orc, dispatcher, workflow.EngineConfig{
		Coordinator: cfg.Workflow.Coordinator,
		Domains:     cfg.Workflow.Domains,
		Metrics:     metrics,
	})

	idx, err := search.NewIndex()
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	rh := &RunsHandler{
		Store:    st,
		Engine:   engine,
		Planner:  orc,
		Registry: registry,
		Sessions: sessions,
		Search:   idx,
		Logger:   log.New(log.Writer(), "[runs] ", log.LstdFlags),
	}
	protected := api.Group("")
	protected.Use(runtime.EchoAuthMiddleware(secret))
	rh.Register(protected)

	protected.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"user_id": c.Get("user_id").(string)})
	})

	if cfg.Scheduler.Enabled {
		schedCfg := cfg.Scheduler.Normalize()
		sched := &Scheduler{
			Store:    st,
			Rdb:      rdb,
			Engine:   engine,
			Planner:  orc,
			Registry: registry,
			Logger:   log.New(log.Writer(), "[sched] ", log.LstdFlags),
			LockTTL:  schedCfg.LockTTL,
			Stop:     make(chan struct{}),
		}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
