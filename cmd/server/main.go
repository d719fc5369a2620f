package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/as950118/auto-trade/internal/auth"
	"github.com/as950118/auto-trade/internal/broker"
	"github.com/as950118/auto-trade/internal/config"
	"github.com/as950118/auto-trade/internal/database"
	"github.com/as950118/auto-trade/internal/notify"
	"github.com/as950118/auto-trade/internal/portfolio"
	"github.com/as950118/auto-trade/internal/profit"
	"github.com/as950118/auto-trade/internal/scheduler"
	"github.com/as950118/auto-trade/internal/trading"
	"github.com/as950118/auto-trade/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the trading engine with graceful shutdown
// support: database, venue adapters, background jobs and the operational
// HTTP API.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Venue adapters
	registry := broker.NewRegistry(broker.Config{
		UpbitBaseURL: cfg.Venues.UpbitBaseURL,
		BingXBaseURL: cfg.Venues.BingXBaseURL,
		KISBaseURL:   cfg.Venues.KISBaseURL,
	}, db)

	// Core services
	profitService := profit.NewService(db)
	tradingService := trading.NewService(db, registry, profitService)
	portfolioService := portfolio.NewService(db, registry)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	}

	runner := scheduler.NewRunner(notifier, buildJobs(cfg, tradingService, portfolioService, profitService)...)
	runnerCtx, runnerCancel := context.WithCancel(context.Background())
	defer runnerCancel()
	go runner.Start(runnerCtx)

	// HTTP API
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.APIKey, cfg.Auth.APISecret)
	authHandlers := auth.NewGinHandlers(authService)
	jobHandlers := scheduler.NewGinHandlers(runner, profitService)

	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, jobHandlers)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")
	runnerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// buildJobs assembles the recurring jobs from the configured intervals.
// A zero interval disables the job.
func buildJobs(
	cfg *config.Config,
	tradingService *trading.Service,
	portfolioService *portfolio.Service,
	profitService *profit.Service,
) []scheduler.Job {
	var jobs []scheduler.Job

	if cfg.Jobs.DispatchIntervalMinutes > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     "dispatch",
			Interval: time.Duration(cfg.Jobs.DispatchIntervalMinutes) * time.Minute,
			Run: func(ctx context.Context) (string, error) {
				processed := tradingService.ProcessOrders()
				if processed < 0 {
					return "", fmt.Errorf("dispatch pass failed")
				}
				if processed == 0 {
					return "", nil
				}
				return fmt.Sprintf("%d orders dispatched", processed), nil
			},
		})
	}

	if cfg.Jobs.ReconcileIntervalMinutes > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     "reconcile",
			Interval: time.Duration(cfg.Jobs.ReconcileIntervalMinutes) * time.Minute,
			Run: func(ctx context.Context) (string, error) {
				examined := tradingService.ReconcileOpenOrders()
				if examined < 0 {
					return "", fmt.Errorf("reconciliation pass failed")
				}
				return "", nil
			},
		})
	}

	if cfg.Jobs.SyncIntervalMinutes > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     "sync",
			Interval: time.Duration(cfg.Jobs.SyncIntervalMinutes) * time.Minute,
			Run: func(ctx context.Context) (string, error) {
				handled, total := portfolioService.SyncAllAccounts()
				if handled < total {
					return "", fmt.Errorf("synced %d of %d accounts", handled, total)
				}
				return "", nil
			},
		})
	}

	if cfg.Jobs.ProfitIntervalMinutes > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     "profit",
			Interval: time.Duration(cfg.Jobs.ProfitIntervalMinutes) * time.Minute,
			Run: func(ctx context.Context) (string, error) {
				// Aggregate the most recent fully closed day.
				updated := profitService.UpdateAllAccountsDailyProfit(time.Now().AddDate(0, 0, -1))
				if updated < 0 {
					return "", fmt.Errorf("profit recomputation failed")
				}
				return "", nil
			},
		})
	}

	return jobs
}

// setupRoutes configures all API endpoints and their handlers:
// - Auth routes: public token issuance
// - Internal routes: job triggers, protected by JWT authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	jobHandlers *scheduler.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(jwtSecret))
		{
			internal.GET("/jobs", jobHandlers.ListJobsHandler())
			internal.POST("/jobs/:name", jobHandlers.TriggerJobHandler())
			internal.POST("/profit/recalculate", jobHandlers.RecalculateProfitHandler())
		}
	}
}
