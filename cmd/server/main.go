package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lowc1012/bucket-limiter/internal/assembly"
	"github.com/lowc1012/bucket-limiter/internal/auth"
	"github.com/lowc1012/bucket-limiter/internal/config"
	"github.com/lowc1012/bucket-limiter/internal/log"
	"github.com/lowc1012/bucket-limiter/internal/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const redisRetryInterval = 3 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Init(log.Options{}).Fatal("Failed to load config", zap.Error(err))
	}

	logger := log.Init(log.Options{
		Debug:       cfg.Debug,
		File:        cfg.LogFile,
		FileMaxSize: cfg.LogFileMaxSize,
	})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisClient, err := store.Connect(ctx, cfg.RedisUrl, redisRetryInterval)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	locator := assembly.NewLocator(store.NewRedis(redisClient), auth.NewAuthenticator(cfg.JwtSecret))
	handler, err := locator.Handler(cfg)
	if err != nil {
		logger.Fatal("Failed to build handler", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Run a server", zap.String("addr", cfg.ListenAddr), zap.String("mode", cfg.LimitMode))
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}
	if err := serve(ctx, srv, ln, 10*time.Second); err != nil {
		logger.Fatal("Failed to serve handler", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// serve runs srv on ln until ctx is done, then returns only after in-flight requests
// are drained, so the store can be closed safely by the caller.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drainTimeout time.Duration) error {
	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		drained <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithMessage(err, "serve")
	}
	if err := <-drained; err != nil {
		return errors.WithMessage(err, "shutdown")
	}
	return nil
}
