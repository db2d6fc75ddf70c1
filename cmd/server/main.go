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

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmledger/backend/internal/cache"
	"pharmledger/backend/internal/config"
	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/httpapi"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/logger"
	"pharmledger/backend/internal/metrics"
	"pharmledger/backend/internal/service"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/store/memory"
	"pharmledger/backend/internal/store/sqlstore"
	"pharmledger/backend/internal/worker"
)

const serviceName = "pharmledger"

func main() {
	cfg := config.Load()
	log, err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.AppEnv, ServiceName: serviceName})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	policy, err := ledger.ParseRefundPolicy(cfg.RefundPolicy)
	if err != nil {
		log.Fatal("invalid refund policy", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("repository unavailable; refusing to start with in-memory fallback", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}
	if err := bootstrapAdmin(ctx, repo, cfg.BootstrapAdminPassword); err != nil {
		log.Fatal("admin bootstrap failed", zap.Error(err))
	}

	var drafts cache.DraftStore = cache.NewMemoryDraftStore()
	if cfg.RedisAddr != "" {
		redisDrafts := cache.NewRedisDraftStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisDrafts.Ping(ctx); err != nil {
			log.Warn("redis unavailable, keeping checkout drafts in memory", zap.Error(err))
		} else {
			drafts = redisDrafts
			closers = append(closers, redisDrafts.Close)
			log.Info("draft store: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("draft store: memory")
	}

	m := metrics.New(serviceName)
	svc := service.New(repo, drafts, m, service.Options{
		ReservationTTL: cfg.ReservationTTL,
		DraftTTL:       cfg.DraftTTL,
		RefundPolicy:   policy,
		AlertDays:      cfg.ExpiryAlertDays,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, m, cfg.AllowedOrigin)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := worker.New(svc, cfg.SweepInterval).Start(workerCtx)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("pharmacy backend listening", zap.String("addr", cfg.Address()), zap.String("refund_policy", svc.RefundPolicy()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	stopWorker()
	<-workerDone

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

// openRepository prefers DATABASE_URL, then SQLITE_PATH, then the seeded
// in-memory store. A configured database that cannot be reached is fatal.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, func() error, error) {
	var (
		sqlStore *sqlstore.Store
		err      error
		backend  string
	)
	switch {
	case cfg.DatabaseURL != "":
		backend = "postgres"
		sqlStore, err = sqlstore.New(ctx, cfg.DatabaseURL)
	case cfg.SQLitePath != "":
		backend = "sqlite"
		sqlStore, err = sqlstore.NewSQLite(ctx, cfg.SQLitePath)
	default:
		log.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", backend, err)
	}
	if err := sqlStore.Migrate(ctx); err != nil {
		_ = sqlStore.Close()
		return nil, nil, fmt.Errorf("%s migrate: %w", backend, err)
	}
	log.Info("repository: "+backend, zap.String("backend", backend))
	return sqlStore, sqlStore.Close, nil
}

// bootstrapAdmin creates the first admin account on an empty user table.
func bootstrapAdmin(ctx context.Context, users store.UserStore, password string) error {
	existing, err := users.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	if len(password) < 8 {
		return fmt.Errorf("no users exist; set BOOTSTRAP_ADMIN_PASSWORD (at least 8 characters)")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return users.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      "admin",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
