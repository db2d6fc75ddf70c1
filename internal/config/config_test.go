package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"RESERVATION_TTL_MINUTES", "DRAFT_TTL_MINUTES", "SWEEP_INTERVAL_SECONDS", "REFUND_POLICY", "EXPIRY_ALERT_DAYS", "APP_ENV"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.ReservationTTL != 30*time.Minute || cfg.DraftTTL != 15*time.Minute {
		t.Fatalf("unexpected ttl defaults reservation=%s draft=%s", cfg.ReservationTTL, cfg.DraftTTL)
	}
	if cfg.SweepInterval != time.Minute || cfg.ExpiryAlertDays != 90 {
		t.Fatalf("unexpected sweep defaults interval=%s days=%d", cfg.SweepInterval, cfg.ExpiryAlertDays)
	}
	if cfg.RefundPolicy != "wallet_tender_only" || cfg.IsProduction() {
		t.Fatalf("unexpected policy=%q env=%q", cfg.RefundPolicy, cfg.AppEnv)
	}
}

func TestLoadRejectsInvalidNumbers(t *testing.T) {
	t.Setenv("RESERVATION_TTL_MINUTES", "0")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "soon")
	t.Setenv("REDIS_DB", "2")

	cfg := Load()
	if cfg.ReservationTTL != 30*time.Minute {
		t.Fatalf("expected fallback reservation ttl, got %s", cfg.ReservationTTL)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("expected fallback sweep interval, got %s", cfg.SweepInterval)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("expected redis db 2, got %d", cfg.RedisDB)
	}
}
