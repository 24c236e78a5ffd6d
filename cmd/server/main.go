package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Tyrowin/gorelay/internal/auth"
	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/metrics"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/registry"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envErr := godotenv.Load()

	cfg := server.NewConfigFromEnv().Sanitize()

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	if envErr != nil {
		log.Debug("no .env file found, using environment variables")
	}

	if err := run(cfg, log); err != nil {
		log.Error("relay stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg server.Config, log *zap.Logger) error {
	verifier, err := auth.NewJWTVerifier(auth.Options{Secret: []byte(cfg.Auth.Secret), Alg: cfg.Auth.Alg})
	if err != nil {
		return errors.Wrap(err, "token verifier")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	collector := metrics.New(prometheus.DefaultRegisterer)
	router := relay.New(registry.New(), store, collector, log)
	gateway := server.NewGateway(cfg, router, verifier, collector, log)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(gateway, nil))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, log)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("relay shutting down")
	if err := server.ShutdownServer(httpServer, shutdownTimeout, log); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := gateway.Shutdown(shutdownTimeout); err != nil {
		log.Warn("gateway shutdown", zap.Error(err))
	}
	return nil
}

// openStore builds the configured pending store. The returned func releases
// its resources.
func openStore(ctx context.Context, cfg server.Config, log *zap.Logger) (pending.Store, func(), error) {
	opts := pending.Options{MaxPerReceiver: cfg.Pending.MaxPerReceiver, TTL: cfg.Pending.TTL}

	switch cfg.Pending.Backend {
	case server.BackendRedis:
		rdb, err := pending.DialRedis(ctx, pending.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("pending store: redis", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
		return pending.NewRedisStore(rdb, opts, log), func() { _ = rdb.Close() }, nil

	default:
		store := pending.NewMemoryStore(opts, log)
		sweepCtx, cancel := context.WithCancel(ctx)
		go store.RunSweeper(sweepCtx, cfg.Pending.SweepInterval)
		log.Info("pending store: memory",
			zap.Int("max_per_receiver", opts.MaxPerReceiver),
			zap.Duration("ttl", opts.TTL))
		return store, cancel, nil
	}
}
