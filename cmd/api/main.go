package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/config"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/lifecycle"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "dialer-api")
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Stores
	campaignRepo := campaigns.NewPostgresRepo(db)
	leadRepo := leads.NewPostgresRepo(db)
	callRepo := calls.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	// Scheduler plumbing: slot limiter, lifecycle broadcaster, advancer,
	// per-campaign dispatch runners.
	slots := dialer.NewRedisSlotLimiter(rdb, cfg.Scheduler.SlotTTL)
	events := lifecycle.NewBroadcaster()
	finisher := lifecycle.NewPostgresFinisher(db)

	advancer := lifecycle.NewAdvancer(lifecycle.Config{
		SweepInterval:   cfg.Scheduler.SweepInterval,
		PickupDelay:     cfg.Scheduler.PickupDelay,
		AbandonAfter:    cfg.Scheduler.AbandonAfter,
		MinCallDuration: cfg.Scheduler.MinCallDuration,
		MaxCallDuration: cfg.Scheduler.MaxCallDuration,
	}, callRepo, finisher, campaignRepo, slots, events, log)

	launcher := telephony.NewSimulatedLauncher()
	dispatcher := dialer.NewDispatcher(campaignRepo, leadRepo, callRepo, launcher, slots, finisher, log)
	manager := dialer.NewManager(dispatcher, campaignRepo, events, cfg.Scheduler.TickInterval, log)

	controller := campaigns.NewController(campaignRepo, leadRepo, manager)
	manager.SetCompleter(controller)

	reports := reporting.NewService(campaignRepo, leadRepo, callRepo)

	go advancer.Run(rootCtx)
	go manager.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	deps := routeDeps{
		Auth: authManager,
		Handlers: httpapi.Handlers{
			Auth:         authManager,
			Controller:   controller,
			CampaignRepo: campaignRepo,
			LeadRepo:     leadRepo,
			Reports:      reports,
			Audit:        auditSvc,
		},
		Applier: advancer,
		DB:      db,
		Redis:   rdb,
	}
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
