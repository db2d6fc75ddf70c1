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
	AppEnv                 string
	LogLevel               string
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	SQLitePath             string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	BootstrapAdminPassword string
	ReservationTTL         time.Duration
	DraftTTL               time.Duration
	SweepInterval          time.Duration
	RefundPolicy           string
	ExpiryAlertDays        int
}

// Load reads the process environment. A .env file in the working directory
// is applied first when present; variables already set take precedence.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppEnv:                 strings.ToLower(getEnv("APP_ENV", "development")),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SQLitePath:             os.Getenv("SQLITE_PATH"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getEnvInt("REDIS_DB", 0, 0),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		ReservationTTL:         time.Duration(getEnvInt("RESERVATION_TTL_MINUTES", 30, 1)) * time.Minute,
		DraftTTL:               time.Duration(getEnvInt("DRAFT_TTL_MINUTES", 15, 1)) * time.Minute,
		SweepInterval:          time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60, 1)) * time.Second,
		RefundPolicy:           getEnv("REFUND_POLICY", "wallet_tender_only"),
		ExpiryAlertDays:        getEnvInt("EXPIRY_ALERT_DAYS", 90, 1),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt falls back when the value is unset, malformed or below min.
func getEnvInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < min {
		return fallback
	}
	return val
}
