package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/intraop/intraop/internal/config"
	"github.com/intraop/intraop/internal/domain/audit"
	"github.com/intraop/intraop/internal/domain/chart"
	"github.com/intraop/intraop/internal/domain/record"
	"github.com/intraop/intraop/internal/platform/auth"
	"github.com/intraop/intraop/internal/platform/db"
	"github.com/intraop/intraop/internal/platform/middleware"
	"github.com/intraop/intraop/internal/platform/notecrypt"
	"github.com/intraop/intraop/internal/platform/realtime"
)

// clinicalWriteRoles may document a case; everyone authenticated may read.
var clinicalWriteRoles = []string{"anesthesiologist", "nurse-anesthetist", "admin"}

var rootCmd = &cobra.Command{
	Use:   "intraop-server",
	Short: "Intraoperative clinical record server",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		count, err := db.NewMigrator(pool, migrationsDir).Up(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d migration(s)\n", count)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		statuses, err := db.NewMigrator(pool, migrationsDir).Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied " + s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%03d %-40s %s\n", s.Version, s.Name, state)
		}
		return nil
	},
}

var migrationsDir string

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "migrations", "migrations directory")
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func initLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger().Level(zerolog.DebugLevel)
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	}

	log.Logger = logger
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := initLogger(cfg)
	logger.Info().Str("env", cfg.Env).Str("port", cfg.Port).Msg("starting intraop server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("database connected")

	runner := db.NewRunner(pool)

	notes, err := notecrypt.NewService(cfg.NoteEncryptionKey, cfg.NoteLegacyKey, logger)
	if err != nil {
		return fmt.Errorf("note encryption: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer rdb.Close()
		logger.Info().Msg("redis connected, cross-instance fan-out enabled")
	}

	hub := realtime.NewHub(logger)
	fanout := realtime.NewFanout(hub, rdb, logger)
	go fanout.Run(ctx)

	// Repositories, services, handlers.
	auditRepo := audit.NewPostgresRepository(pool)
	auditService := audit.NewService(auditRepo, logger)
	auditHandler := audit.NewHandler(auditService, logger)

	recordRepo := record.NewPostgresRepository(pool)
	recordService := record.NewService(recordRepo, notes, auditService, runner, fanout, logger)
	recordHandler := record.NewHandler(recordService, logger)

	chartRepo := chart.NewPostgresSnapshotRepository(pool)
	chartService := chart.NewService(chartRepo, recordService, runner, fanout, logger)
	chartHandler := chart.NewHandler(chartService, logger)

	realtimeHandler := realtime.NewHandler(hub, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, auth.SessionIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.JWTDevSecret == "" && cfg.AuthIssuer == "" {
		logger.Warn().Msg("authentication disabled, all requests run as dev-actor")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.JWTDevSecret),
		}))
	}

	writeGuard := auth.RequireRole(clinicalWriteRoles...)
	adminGuard := auth.RequireRole("admin")

	recordHandler.RegisterRoutes(apiV1, writeGuard, adminGuard)
	chartHandler.RegisterRoutes(apiV1, writeGuard)
	auditHandler.RegisterRoutes(apiV1)
	realtimeHandler.RegisterRoutes(apiV1)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server start failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Msg("server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
