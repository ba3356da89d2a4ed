package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	BootstrapAdminPass    string
	BootstrapCashierPass  string
	DevMode               bool

	LedgerURL         string
	LedgerUsername    string
	LedgerPassword    string
	TerminalID        string
	TerminalPort      string
	QueuePath         string
	QueueBackend      string
	ProbeIntervalSecs int
	SellerPattern     string
}

// Load reads an optional .env file and then the process environment.
// Values already present in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	reportTTL := getPositiveInt("REPORT_CACHE_TTL_SECONDS", 60)
	tokenTTL := getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	probe := getPositiveInt("CONNECTIVITY_PROBE_SECONDS", 15)
	devMode, _ := strconv.ParseBool(os.Getenv("DEV_MODE"))

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		ReportCacheTTLSeconds: reportTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		BootstrapAdminPass:    os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		BootstrapCashierPass:  os.Getenv("BOOTSTRAP_CASHIER_PASSWORD"),
		DevMode:               devMode,

		LedgerURL:         strings.TrimRight(getEnv("LEDGER_URL", "http://127.0.0.1:8080"), "/"),
		LedgerUsername:    os.Getenv("LEDGER_USERNAME"),
		LedgerPassword:    os.Getenv("LEDGER_PASSWORD"),
		TerminalID:        getEnv("TERMINAL_ID", "terminal-1"),
		TerminalPort:      getEnv("TERMINAL_PORT", "8090"),
		QueuePath:         getEnv("QUEUE_PATH", "caixa-queue.db"),
		QueueBackend:      strings.ToLower(getEnv("QUEUE_BACKEND", "bolt")),
		ProbeIntervalSecs: probe,
		SellerPattern:     os.Getenv("SELLER_PATTERN"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// TerminalAddress binds the till-facing API to loopback only.
func (c Config) TerminalAddress() string {
	return fmt.Sprintf("127.0.0.1:%s", c.TerminalPort)
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSecs) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
