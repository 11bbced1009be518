package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/stwalsh4118/moveit/internal/analytics"
	"github.com/stwalsh4118/moveit/internal/auth"
	"github.com/stwalsh4118/moveit/internal/config"
	"github.com/stwalsh4118/moveit/internal/database"
	"github.com/stwalsh4118/moveit/internal/forms"
	"github.com/stwalsh4118/moveit/internal/handlers"
	"github.com/stwalsh4118/moveit/internal/logger"
	"github.com/stwalsh4118/moveit/internal/middleware"
	"github.com/stwalsh4118/moveit/internal/models"
	"github.com/stwalsh4118/moveit/internal/repository"
	"github.com/stwalsh4118/moveit/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 15 * time.Second
)

// store is the storage backend selected by DB_DRIVER.
type store struct {
	pinger database.Pinger
	repo   repository.FormRepository
	close  func()
}

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(logger.Options{
		Env:   cfg.Server.Env,
		Level: cfg.Server.LogLevel,
	})
	log.Info("Starting Move-it forms API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"driver":      cfg.Database.Driver,
	})

	// appCtx lives until shutdown; background workers such as JWKS refresh hang off it.
	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	ctx, cancel := context.WithTimeout(appCtx, startupTimeout)
	defer cancel()

	registry := forms.MustLoadRegistry()

	st, err := openStore(ctx, cfg.Database, registry, log)
	if err != nil {
		log.Fatal("Failed to open database", err, map[string]interface{}{
			"driver": cfg.Database.Driver,
		})
	}
	defer st.close()

	verifier, err := newVerifier(appCtx, cfg.Auth)
	if err != nil {
		log.Fatal("Failed to initialize token verification", err, nil)
	}

	sink, closeSink := newSink(cfg.Analytics, log)
	defer closeSink()

	formService := services.NewFormService(st.repo, registry, sink, log)

	if !cfg.Server.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	formTypes := make([]string, 0, 2)
	for _, ft := range registry.FormTypes() {
		formTypes = append(formTypes, string(ft))
	}
	healthHandler := handlers.NewHealthHandler(st.pinger, cfg.Server.Env, cfg.Database.Driver).WithFormTypes(formTypes...)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authenticate(verifier))
	handlers.RegisterFormRoutes(v1,
		handlers.NewFormHandler(formService, models.FormTypeDisclosure),
		handlers.NewFormHandler(formService, models.FormTypeChecklist),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}

// openStore connects to the configured database, applies migrations and
// builds the form repository on top of it.
func openStore(ctx context.Context, cfg config.DatabaseConfig, registry *forms.Registry, log *logger.Logger) (*store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := database.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		applied, err := db.Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
		}
		log.Info("SQLite database ready", map[string]interface{}{
			"path":    cfg.SQLitePath,
			"applied": applied,
		})
		return &store{
			pinger: db,
			repo:   repository.NewSQLiteFormRepository(db, registry),
			close:  db.Close,
		}, nil

	case config.DriverPostgres:
		db, err := database.NewPostgresPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		applied, err := db.Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate postgres database: %w", err)
		}
		log.Info("Database connection established", map[string]interface{}{
			"host":     cfg.Host,
			"port":     cfg.Port,
			"database": cfg.Name,
			"pool_min": cfg.PoolMin,
			"pool_max": cfg.PoolMax,
			"applied":  applied,
		})
		return &store{
			pinger: db,
			repo:   repository.NewPostgresFormRepository(db, registry),
			close:  db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// newVerifier prefers a JWKS endpoint and falls back to a shared HMAC secret.
// ctx bounds the JWKS background refresh and must outlive the server.
func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	if cfg.JWKSURL != "" {
		return auth.NewJWKSVerifier(ctx, cfg.JWKSURL)
	}
	return auth.NewHMACVerifier(cfg.JWTSecret)
}

// newSink publishes to a Redis stream when configured. An unreachable Redis
// degrades to the log sink rather than blocking startup.
func newSink(cfg config.AnalyticsConfig, log *logger.Logger) (analytics.Sink, func()) {
	if cfg.RedisURL == "" {
		return analytics.NewLogSink(log), func() {}
	}

	sink, err := analytics.NewRedisStreamSink(cfg.RedisURL, cfg.Stream)
	if err != nil {
		log.Warn("Analytics stream unavailable, logging events instead", map[string]interface{}{
			"error": err.Error(),
		})
		return analytics.NewLogSink(log), func() {}
	}

	log.Info("Publishing form events to Redis stream", map[string]interface{}{
		"stream": cfg.Stream,
	})
	return sink, func() {
		if err := sink.Close(); err != nil {
			log.Warn("Failed to close analytics stream", map[string]interface{}{"error": err.Error()})
		}
	}
}
