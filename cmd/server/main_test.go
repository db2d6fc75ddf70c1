package main

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"pharmledger/backend/internal/config"
	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store/memory"
)

type emptyUserStore struct {
	created []domain.UserAccount
}

func (s *emptyUserStore) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.created = append(s.created, user)
	return nil
}

func (s *emptyUserStore) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	return s.created, nil
}

func (s *emptyUserStore) UpdateUserPassword(context.Context, string, string) error {
	return nil
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak pin to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"777777", "234567", "876543", "112233"} {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
	if err := validatePINStrength("739154"); err != nil {
		t.Fatalf("expected 739154 to pass, got %v", err)
	}
}

func TestBootstrapAdminOnEmptyStore(t *testing.T) {
	users := &emptyUserStore{}
	if err := bootstrapAdmin(context.Background(), users, "short"); err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
	if err := bootstrapAdmin(context.Background(), users, "pharmacy-admin-1"); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if len(users.created) != 1 || users.created[0].Role != "admin" {
		t.Fatalf("expected one admin, got %+v", users.created)
	}
	if !strings.HasPrefix(users.created[0].Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", users.created[0].Password)
	}

	if err := bootstrapAdmin(context.Background(), users, ""); err != nil {
		t.Fatalf("expected existing users to skip bootstrap, got %v", err)
	}
	if len(users.created) != 1 {
		t.Fatalf("expected no second admin")
	}
}

func TestOpenRepositoryDefaultsToMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("open repository failed: %v", err)
	}
	if closeFn != nil {
		t.Fatalf("expected no closer for the memory store")
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
}

func TestOpenRepositoryMigratesSQLite(t *testing.T) {
	path := t.TempDir() + "/pharmledger.db"
	repo, closeFn, err := openRepository(context.Background(), config.Config{SQLitePath: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	defer func() { _ = closeFn() }()

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected empty user table, got %d", len(users))
	}
}
