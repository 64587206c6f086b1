package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docstore-cache/internal/auth"
	"docstore-cache/internal/backend"
	"docstore-cache/internal/cache"
	"docstore-cache/internal/config"
	"docstore-cache/internal/realtime"
	"docstore-cache/internal/routes"
	"docstore-cache/internal/server"
	"docstore-cache/internal/sweeper"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run() (err error) {
	// Base context for the whole application lifetime.
	rootCtx := context.Background()

	// Load configuration from environment/.env.
	cfg := config.New()

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Init cache database.
	db, closeDB, err := backend.Open(rootCtx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Cache.Driver, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, closeDB(closeCtx))
	}()

	store, err := cache.New(backend.StoreOptions(cfg, db, log)...)
	if err != nil {
		return err
	}

	// Open the collection now so a bad backend fails startup instead of the first request.
	if _, err := store.Collection(rootCtx); err != nil {
		return err
	}

	tokens := auth.NewTokens(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.TTL)
	credentials, err := auth.NewCredentials(cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.PasswordHash)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	router := routes.SetupRoutes(routes.Deps{
		Store:       store,
		Hub:         realtime.NewHub(),
		Tokens:      tokens,
		Credentials: credentials,
		Logger:      log,
	})

	addr := fmt.Sprintf("%s:%s", cfg.API.Host, cfg.API.Port)
	srv := server.New(addr, router)

	// Create a context that is cancelled on SIGINT/SIGTERM (Ctrl+C, docker stop etc.).
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening",
			zap.String("addr", addr),
			zap.String("driver", cfg.Cache.Driver),
			zap.String("collection", cfg.Cache.Collection),
			zap.Duration("expires_in", store.ExpiresIn()))

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// The sweeper only reclaims storage; reads never depend on it.
	var sweep *sweeper.Sweeper
	if cfg.Sweep.Interval > 0 {
		sweep = sweeper.New(store, cfg.Sweep.Interval, cfg.Sweep.Timeout, log)
		if err := sweep.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	// Block until we receive a shutdown signal or the server fails.
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Give components some time to shut down cleanly.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sweep != nil {
		err = multierr.Append(err, sweep.Close())
	}
	err = multierr.Append(err, srv.Shutdown(shutdownCtx))

	log.Info("shutdown complete")
	return err
}
