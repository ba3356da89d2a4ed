package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/cache"
	"caixa/backend/internal/config"
	"caixa/backend/internal/httpapi"
	"caixa/backend/internal/service"
	"caixa/backend/internal/store"
	"caixa/backend/internal/store/memory"
	pgstore "caixa/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	sellerPattern, err := compileSellerPattern(cfg.SellerPattern)
	if err != nil {
		logger.Fatal("invalid SELLER_PATTERN", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("postgres migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memoryRepository(cfg, logger)
		logger.Info("repository: in-memory")
	}

	reports := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, report cache disabled", zap.Error(err))
			_ = redisCache.Close()
		} else {
			reports = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("report cache: redis")
		}
	} else {
		logger.Info("report cache: noop")
	}

	svc := service.New(repo, reports, logger, service.Options{
		DefaultStoreID: cfg.StoreID,
		ReportCacheTTL: cfg.ReportCacheTTL(),
		SellerPattern:  sellerPattern,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	bootstrapAccounts(ctx, auth, cfg, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("ledger listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DevMode && cfg.DatabaseURL != "" {
		return fmt.Errorf("DEV_MODE cannot be combined with DATABASE_URL")
	}
	for name, pass := range map[string]string{
		"BOOTSTRAP_ADMIN_PASSWORD":   cfg.BootstrapAdminPass,
		"BOOTSTRAP_CASHIER_PASSWORD": cfg.BootstrapCashierPass,
	} {
		if pass != "" && len(pass) < 8 {
			return fmt.Errorf("%s must be at least 8 characters", name)
		}
	}
	return nil
}

// memoryRepository only installs the demo accounts when DEV_MODE is set.
func memoryRepository(cfg config.Config, logger *zap.Logger) *memory.Store {
	if cfg.DevMode {
		logger.Warn("DEV_MODE enabled, demo accounts admin and cashier use well-known passwords")
		return memory.NewDemo()
	}
	return memory.NewSeeded()
}

func compileSellerPattern(raw string) (*regexp.Regexp, error) {
	if raw == "" {
		return nil, nil
	}
	return regexp.Compile(raw)
}

// bootstrapAccounts creates the first admin and cashier from the environment
// when the user store has no account with that name yet.
func bootstrapAccounts(ctx context.Context, auth *httpapi.AuthManager, cfg config.Config, logger *zap.Logger) {
	for _, account := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", cfg.BootstrapAdminPass, "admin"},
		{"cashier", cfg.BootstrapCashierPass, "cashier"},
	} {
		if account.password == "" {
			continue
		}
		created, err := auth.EnsureUser(ctx, account.username, account.password, account.role)
		if err != nil {
			logger.Warn("bootstrap account not created", zap.String("username", account.username), zap.Error(err))
			continue
		}
		if created {
			logger.Info("bootstrap account created", zap.String("username", account.username), zap.String("role", account.role))
		}
	}
}
