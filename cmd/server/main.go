package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"housebnb.com/backend/internal/api"
	"housebnb.com/backend/internal/config"
	"housebnb.com/backend/internal/core"
	"housebnb.com/backend/internal/store"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Create the database schema and exit")
	flag.Parse()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(sugar, cfg, *migrateFlag); err != nil {
		sugar.Fatalw("Server stopped with error", "error", err)
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.LogLevel == "DEBUG" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(logger *zap.SugaredLogger, cfg config.Config, migrateOnly bool) error {
	ctx := context.Background()

	db := store.New(cfg.DBLocation,
		store.WithLogger(logger),
		store.LockTimeout(cfg.TxLockTimeout),
	)
	if err := db.Init(ctx); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Teardown(); err != nil {
			logger.Errorw("Failed to close database", "error", err)
		}
	}()

	// Users must exist before the tables referencing it
	users := store.NewUserDAO(logger, db)
	if err := users.Init(ctx); err != nil {
		return err
	}
	msgs := store.NewMessageDAO(logger, db)
	if err := msgs.Init(ctx); err != nil {
		return err
	}

	if migrateOnly {
		logger.Infof("Schema ready at %s", db.Location())
		return nil
	}

	chatService := core.NewChatService(logger, db, users, msgs, cfg.JWTSecret)
	apiHandler := api.NewAPIHandler(logger, chatService, cfg.JWTSecret)
	router := api.NewRouter(apiHandler, logger.Desugar(), api.RouterConfig{
		CORSOrigin: cfg.CORSOrigin,
		StaticDir:  cfg.StaticDir,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s (env: %s)", serverAddr, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	case sig := <-quit:
		logger.Infof("Received %s, shutting down server", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting gracefully")
	return nil
}
