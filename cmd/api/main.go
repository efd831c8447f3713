package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/tabcast/backend/internal/config"
	"github.com/zhouzirui/tabcast/backend/internal/engine"
	"github.com/zhouzirui/tabcast/backend/internal/handler"
	browserHandler "github.com/zhouzirui/tabcast/backend/internal/handler/browser"
	"github.com/zhouzirui/tabcast/backend/internal/handler/live"
	"github.com/zhouzirui/tabcast/backend/internal/logging"
	"github.com/zhouzirui/tabcast/backend/internal/service/browser"
	"github.com/zhouzirui/tabcast/backend/internal/service/directory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Config{}).Fatal("failed to load configuration", zap.Error(err))
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	classifier, err := cfg.Classifier()
	if err != nil {
		logger.Fatal("failed to load wait profiles", zap.String("file", cfg.Session.WaitProfilesFile), zap.Error(err))
	}

	eng := engine.NewChrome(cfg.ChromeConfig(), logger)

	// Redis is optional; without it /sessions?scope=cluster answers 503.
	var (
		observers []browser.Observer
		dir       *directory.Directory
	)
	if cfg.Redis.Enabled() {
		dir, err = directory.New(directory.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Session.TTL + 5*time.Minute,
		}, logger)
		if err != nil {
			logger.Warn("session directory disabled", zap.Error(err))
			dir = nil
		} else {
			observers = append(observers, dir)
			logger.Info("session directory enabled", zap.String("redis", cfg.Redis.Addr))
		}
	}

	store := browser.NewStore(eng, cfg.StoreConfig(), logger, observers...)
	dispatcher := browser.NewDispatcher(store, browser.NewPolicy(logger), classifier, cfg.DispatcherConfig(), logger)
	oneshot := browser.NewOneShot(eng, cfg.OneShotConfig(), logger)

	var sessionDir browserHandler.Directory
	if dir != nil {
		sessionDir = dir
	}
	browserH := browserHandler.New(dispatcher, oneshot, store, sessionDir, browserHandler.Options{
		DefaultSessionID: cfg.Session.DefaultID,
		RequireSessionID: cfg.Session.RequireID,
	}, logger)
	liveH := live.New(dispatcher, live.Options{
		DefaultSessionID: cfg.Session.DefaultID,
		RequireSessionID: cfg.Session.RequireID,
	}, logger)

	router := handler.NewRouter(ctx, handler.RouterOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateRPS:     cfg.RateLimit.RPS,
		RateBurst:   cfg.RateLimit.Burst,
	}, browserH, liveH, logger)

	serveErr := startServer(ctx, cfg.Server, router, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("closing sessions failed", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		logger.Warn("closing browser failed", zap.Error(err))
	}
	if dir != nil {
		if err := dir.Close(); err != nil {
			logger.Warn("closing session directory failed", zap.Error(err))
		}
	}

	if serveErr != nil {
		logger.Error("server error", zap.Error(serveErr))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("tabcast backend listening", zap.String("addr", addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
