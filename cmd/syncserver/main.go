package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/rs/cors"

	cfg "github.com/sand/paymesh/backend/config"
	"github.com/sand/paymesh/backend/internal/handlers"
	"github.com/sand/paymesh/backend/internal/usecases/repository"
	"github.com/sand/paymesh/backend/migrations"
	"github.com/sand/paymesh/backend/pkg/database"
	"github.com/sand/paymesh/backend/pkg/tracing"
)

const (
	readTimeoutSeconds     = 10
	writeTimeoutSeconds    = 10
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	opts := &slog.HandlerOptions{
		Level: config.Log.Level,
	}

	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts)).With("component", "syncserver")
	logger.Warn("Starting sync server",
		"server_port", config.Sync.ServerPort,
		"db_driver", config.DB.Driver,
		"auth_enabled", config.Sync.JWTSecret != "")

	shutdownTracing, err := tracing.Setup(context.Background(), config.Tracing.URL, config.App.Name+"-sync", config.App.Environment)
	if err != nil {
		logger.Error("Failed to set up tracing", "error", err)
		log.Fatal(err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Failed to flush traces", "error", err)
		}
	}()

	store, closeStore, err := openStore(logger, config)
	if err != nil {
		logger.Error("Failed to open reconciliation store", "error", err)
		log.Fatal(err)
	}
	defer closeStore()

	mr := mux.NewRouter()
	handlers.NewSyncHandler(logger, store, config.Sync.JWTSecret, config.Sync.JWTIssuer).RegisterRoutes(mr)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	server := &http.Server{
		Addr:         ":" + config.Sync.ServerPort,
		Handler:      c.Handler(mr),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}

func openStore(logger *slog.Logger, config *cfg.Config) (handlers.ReconciliationStore, func(), error) {
	if config.DB.Driver == "postgres" {
		pg, err := database.New(config,
			database.MaxPoolSize(config.DB.PoolMax),
			database.ConnTimeout(config.DB.ConnectTimeout),
			database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
			database.Isolation(pgx.ReadCommitted),
		)
		if err != nil {
			return nil, nil, err
		}

		if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrations.FS, "postgres"); err != nil {
			pg.Close()
			return nil, nil, err
		}

		return repository.NewPostgresReconciliations(logger, pg), pg.Close, nil
	}

	db, err := database.OpenSQLite(config.Sync.SQLitePath)
	if err != nil {
		return nil, nil, err
	}

	if err = database.RunSQLiteMigrations(logger, db, migrations.FS, "sqlite"); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return repository.NewSQLiteReconciliations(logger, db), func() { _ = db.Close() }, nil
}
