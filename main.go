package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexbotov/spinclient/internal/api"
	"github.com/alexbotov/spinclient/internal/audit"
	"github.com/alexbotov/spinclient/internal/auth"
	"github.com/alexbotov/spinclient/internal/callback"
	"github.com/alexbotov/spinclient/internal/config"
	"github.com/alexbotov/spinclient/internal/control"
	"github.com/alexbotov/spinclient/internal/database"
	"github.com/alexbotov/spinclient/internal/limits"
	"github.com/alexbotov/spinclient/internal/logger"
	"github.com/alexbotov/spinclient/internal/metrics"
	"github.com/alexbotov/spinclient/internal/replay"
	"github.com/alexbotov/spinclient/internal/wallet"
	"github.com/alexbotov/spinclient/pkg/spinclient"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("port", cfg.Server.Port).
		Str("provider", cfg.Provider.Endpoint).
		Msg("Starting callback host")

	ctx := context.Background()

	db, err := database.New(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	log.Info().Msg("Database ready")

	m := metrics.New()
	providerCfg := cfg.Provider.Client()
	transport := m.Transport(&spinclient.HTTPTransport{HTTPClient: &http.Client{Timeout: providerCfg.Timeout}})

	provider, err := spinclient.NewClient(providerCfg,
		spinclient.WithTransport(transport),
		spinclient.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create provider client")
	}

	auditSvc := audit.New(db.DB, audit.WithLogger(log))
	walletSvc := wallet.New(db.DB, auditSvc)
	authSvc := auth.New(db.DB, &cfg.Auth, auditSvc, provider, cfg.Game.DefaultCurrency)
	limitsSvc := limits.New(db.DB, auditSvc)
	controlSvc := control.New(db.DB, auditSvc)
	if err := controlSvc.LoadState(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load gaming switches")
	}
	if !controlSvc.IsGamingEnabled() {
		log.Warn().Msg("Gaming is disabled, new bets will be refused")
	}
	hub := api.NewHub(log)

	callbackOpts := []callback.Option{
		callback.WithNotifier(hub),
		callback.WithGate(controlSvc),
		callback.WithWagerLimiter(limitsSvc),
		callback.WithMaxAge(cfg.Provider.CallbackMaxAge),
		callback.WithObserver(m),
		callback.WithLogger(log),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := replay.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		callbackOpts = append(callbackOpts, callback.WithReplayGuard(replay.NewGuard(rdb)))
	} else {
		log.Warn().Msg("Redis not configured, replayed callbacks are only caught by wallet idempotency")
	}
	callbackSvc := callback.New(walletSvc, auditSvc, cfg.Provider.Salt, callbackOpts...)

	handler := api.New(api.Services{
		Auth:      authSvc,
		Wallet:    walletSvc,
		Provider:  provider,
		Callbacks: callbackSvc,
		Limits:    limitsSvc,
		Control:   controlSvc,
		Audit:     auditSvc,
		Trail:     auditSvc,
		Hub:       hub,
		DB:        db,
		Metrics:   m.Handler(),
	}, api.Settings{
		DefaultLang: cfg.Game.DefaultLang,
		HomeURL:     cfg.Provider.HomeURL,
		CashierURL:  cfg.Provider.CashierURL,
		AdminToken:  cfg.Auth.AdminToken,
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
}
