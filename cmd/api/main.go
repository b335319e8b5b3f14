package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"qualedit/internal/app"
	"qualedit/internal/config"
	"qualedit/internal/gitrepo"
	"qualedit/internal/logger"
	"qualedit/internal/search"
	"qualedit/internal/session"
	"qualedit/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "qualedit: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx := context.Background()

	dialect, err := store.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewSQLStore(db, dialect)

	var snapshots session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using redis for edit sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.EditSessionTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		snapshots = redisStore
	} else {
		log.Info("using in-process memory for edit sessions")
		snapshots = session.NewMemoryStore()
	}

	var archive app.Archiver
	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return fmt.Errorf("create repos dir: %w", err)
		}
		archive = gitrepo.New(cfg.ReposDir)
	}

	var indexer search.Indexer
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.Named("search"))
		defer meiliClient.Close()
		indexer = meiliClient
	}
	searchService := search.NewService(indexer, log.Named("search"))

	service := app.New(cfg, dataStore, snapshots, archive, searchService, log)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("qualedit api listening",
			zap.String("addr", cfg.Addr),
			zap.String("driver", string(dialect)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
