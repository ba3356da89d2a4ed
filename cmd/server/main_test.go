package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"caixa/backend/internal/config"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/httpapi"
	"caixa/backend/internal/store/memory"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected short AUTH_SECRET to be rejected")
	}
	if err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, BootstrapAdminPass: "abc"}); err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, BootstrapAdminPass: "s3nha-forte"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigRejectsDevModeWithDatabase(t *testing.T) {
	cfg := config.Config{AuthSecret: strongSecret, DevMode: true, DatabaseURL: "postgres://caixa@db/caixa"}
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatalf("expected DEV_MODE with DATABASE_URL to be rejected")
	}
}

func TestMemoryRepositoryOnlyHasDemoAccountsInDevMode(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")
	ctx := context.Background()
	demoLogin := domain.LoginRequest{Username: "admin", Password: memory.DemoAdminPassword}

	plain := memoryRepository(config.Config{}, zaptest.NewLogger(t))
	if _, err := httpapi.NewAuthManager(strongSecret, time.Hour, plain).Login(ctx, demoLogin); err == nil {
		t.Fatalf("expected demo password to be refused without DEV_MODE")
	}

	dev := memoryRepository(config.Config{DevMode: true}, zaptest.NewLogger(t))
	if _, err := httpapi.NewAuthManager(strongSecret, time.Hour, dev).Login(ctx, demoLogin); err != nil {
		t.Fatalf("expected demo login in DEV_MODE, got %v", err)
	}
}

func TestCompileSellerPattern(t *testing.T) {
	pattern, err := compileSellerPattern("")
	if err != nil || pattern != nil {
		t.Fatalf("expected nil pattern for empty input, got %v, %v", pattern, err)
	}
	if _, err := compileSellerPattern("(unclosed"); err == nil {
		t.Fatalf("expected invalid pattern to fail")
	}
}

func TestBootstrapAccountsCreatesMissingUsers(t *testing.T) {
	repo := memory.New()
	auth := httpapi.NewAuthManager(strongSecret, time.Hour, repo)
	cfg := config.Config{BootstrapAdminPass: "admin-pass-1", BootstrapCashierPass: "caixa-pass-1"}

	bootstrapAccounts(context.Background(), auth, cfg, zaptest.NewLogger(t))

	for username, password := range map[string]string{"admin": "admin-pass-1", "cashier": "caixa-pass-1"} {
		if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: username, Password: password}); err != nil {
			t.Fatalf("login as %s after bootstrap: %v", username, err)
		}
	}
}
