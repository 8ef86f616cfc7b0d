package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aicarelung/internal/config"
	"github.com/aicarelung/internal/db"
	"github.com/aicarelung/internal/handler"
	"github.com/aicarelung/internal/logging"
	"github.com/aicarelung/internal/metrics"
	"github.com/aicarelung/internal/router"
	"github.com/aicarelung/internal/service"
	"github.com/aicarelung/internal/sheets"
	"github.com/aicarelung/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "aicare-server",
		Short: "AI-CARE Lung daily symptom report server",
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file with configuration")

	rootCmd.AddCommand(serveCmd(&envFile))
	rootCmd.AddCommand(checkCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func checkCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Ping the record store and print row counts per table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func loadConfig(envFile string) (config.AppConfig, error) {
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app 汇总一次启动打开的资源。
type app struct {
	db      *gorm.DB
	store   *store.Store
	logger  zerolog.Logger
	metrics *metrics.Collector
}

func openApp(ctx context.Context, cfg config.AppConfig, out io.Writer) (*app, error) {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, out)
	collector := metrics.NewCollector("aicare")

	gdb, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backend, err := buildBackend(ctx, cfg, gdb)
	if err != nil {
		return nil, err
	}

	st := store.New(backend, store.Options{
		CacheTTL:        cfg.CacheTTL,
		Timeout:         cfg.StoreTimeout,
		BreakerFailures: cfg.BreakerFailures,
		Logger:          logger,
		Metrics:         collector,
	})
	return &app{db: gdb, store: st, logger: logger, metrics: collector}, nil
}

func (r *app) Close() {
	if sqlDB, err := r.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// buildBackend 按 STORE_BACKEND 选择表格后端。
func buildBackend(ctx context.Context, cfg config.AppConfig, gdb *gorm.DB) (store.Backend, error) {
	switch cfg.StoreBackend {
	case "sqlite", "":
		return db.NewGormBackend(gdb), nil
	case "memory":
		return store.NewMemoryBackend(), nil
	case "sheets":
		backend, err := sheets.NewFromCredentialsFile(ctx, cfg.SpreadsheetID, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("connect google sheets: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

func runServer(cfg config.AppConfig) error {
	ctx := context.Background()
	rt, err := openApp(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	if err := db.EnsureUser(rt.db, cfg.ReviewerUserName, cfg.ReviewerPassword, ""); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure reviewer account")
	}

	if err := rt.store.Ping(ctx); err != nil {
		logger.Warn().Err(err).Str("backend", cfg.StoreBackend).Msg("record store not reachable at startup")
	}

	gin.SetMode(cfg.GinMode)
	api := handler.NewAPI(handler.Options{
		DB:       rt.db,
		Store:    rt.store,
		Location: cfg.Location(),
		Logger:   logger,
		Metrics:  rt.metrics,
		AIDefaults: service.SystemSettings{
			AIProvider:     cfg.AIProvider,
			OpenAIAPIKey:   cfg.OpenAIAPIKey,
			DeepSeekAPIKey: cfg.DeepSeekAPIKey,
		},
		Model: service.ModelConfig{
			OpenAIModel:   cfg.OpenAIModel,
			DeepSeekModel: cfg.DeepSeekModel,
			Timeout:       cfg.AITimeout,
		},
		Engine: service.EngineOptions{
			MaxTurns:      cfg.MaxTurns,
			HistoryWindow: cfg.HistoryWindow,
		},
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.SetupRouter(api, cfg.SessionSecret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("backend", cfg.StoreBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runCheck(ctx context.Context, cfg config.AppConfig, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openApp(ctx, cfg, io.Discard)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.store.Ping(ctx); err != nil {
		return fmt.Errorf("record store %s unreachable: %w", cfg.StoreBackend, err)
	}

	fmt.Fprintf(out, "backend: %s ok\n", cfg.StoreBackend)
	for _, table := range store.Tables {
		fmt.Fprintf(out, "%-14s %d rows\n", table, len(rt.store.GetAll(ctx, table)))
	}
	return nil
}
