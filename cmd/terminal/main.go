package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/cache"
	"caixa/backend/internal/config"
	"caixa/backend/internal/ledgerclient"
	"caixa/backend/internal/offline"
	"caixa/backend/internal/terminal"
)

func main() {
	cfg := config.Load()
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	logger = logger.With(zap.String("terminal_id", cfg.TerminalID))

	kv, closeKV, err := openQueueStore(cfg)
	if err != nil {
		logger.Fatal("offline queue store unavailable", zap.String("backend", cfg.QueueBackend), zap.Error(err))
	}
	logger.Info("offline queue store", zap.String("backend", cfg.QueueBackend))

	ledger := ledgerclient.New(ledgerclient.Config{
		BaseURL:  cfg.LedgerURL,
		Username: cfg.LedgerUsername,
		Password: cfg.LedgerPassword,
	}, logger)

	metrics := terminal.NewMetrics()
	queue := offline.New(kv, ledger, logger, offline.Options{
		TerminalID: cfg.TerminalID,
		StoreID:    cfg.StoreID,
		OnReplay:   metrics.ObserveReplay,
	})
	metrics.TrackQueue(queue)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := offline.NewMonitor(queue, ledger, cfg.ProbeInterval(), logger)
	go monitor.Run(ctx)

	server := &http.Server{
		Addr:              cfg.TerminalAddress(),
		Handler:           terminal.NewServer(queue, metrics, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Submits may drain a backlog before answering.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("terminal agent listening", zap.String("addr", cfg.TerminalAddress()), zap.String("ledger", cfg.LedgerURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if err := ledger.Close(); err != nil {
		logger.Warn("close error", zap.Error(err))
	}
	if err := closeKV(); err != nil {
		logger.Warn("close error", zap.Error(err))
	}
	logger.Info("terminal agent stopped")
}

// openQueueStore picks the local durable store. bolt is the default; redis
// suits tills that already run a local Redis; memory loses the queue on exit.
func openQueueStore(cfg config.Config) (offline.KV, func() error, error) {
	switch cfg.QueueBackend {
	case "bolt":
		kv, err := offline.OpenBoltKV(cfg.QueuePath)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("QUEUE_BACKEND=redis needs REDIS_ADDR")
		}
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return offline.NewRedisKV(client), client.Close, nil
	case "memory":
		return offline.NewMemoryKV(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}
