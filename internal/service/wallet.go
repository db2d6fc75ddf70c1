package service

import (
	"context"
	"fmt"
	"strings"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

const (
	depositDescription = "Wallet deposit"
	defaultHistorySize = 100
)

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.CustomerResponse, error) {
	_, scope, err := operatorIn(ctx, req.Scope)
	if err != nil {
		return domain.CustomerResponse{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.CustomerResponse{}, store.ErrInvalidTransaction
	}

	customer, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cust"),
		Scope:     scope,
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.CustomerResponse{}, err
	}
	wallet, err := s.repo.GetWallet(ctx, customer.ID)
	if err != nil {
		return domain.CustomerResponse{}, err
	}

	s.logAudit(ctx, scope, "customer_create", "customer", customer.ID, fmt.Sprintf("name=%s", customer.Name))
	return domain.CustomerResponse{Customer: *customer, Wallet: *wallet}, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.CustomerResponse, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.CustomerResponse{}, err
	}
	wallet, err := s.repo.GetWallet(ctx, customer.ID)
	if err != nil {
		return domain.CustomerResponse{}, err
	}
	return domain.CustomerResponse{Customer: *customer, Wallet: *wallet}, nil
}

func (s *Service) ListCustomers(ctx context.Context, scope domain.Scope) ([]domain.Customer, error) {
	scope, err := parseOptionalScope(scope)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, scope)
}

// ListNegativeWallets lists overdrawn customers so their debt can be chased.
func (s *Service) ListNegativeWallets(ctx context.Context, scope domain.Scope) ([]domain.CustomerResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	scope, err := parseOptionalScope(scope)
	if err != nil {
		return nil, err
	}
	return s.repo.ListNegativeWallets(ctx, scope)
}

func (s *Service) DepositToWallet(ctx context.Context, customerID string, req domain.WalletDepositRequest) (domain.WalletResponse, error) {
	actor, err := operator(ctx)
	if err != nil {
		return domain.WalletResponse{}, err
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(domain.Money(req.Amount)) {
		return domain.WalletResponse{}, store.ErrInvalidTransaction
	}
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.WalletResponse{}, err
	}
	if !actor.CanOperate(customer.Scope) {
		return domain.WalletResponse{}, ErrScopeForbidden
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = depositDescription
	}

	wallet, entry, err := s.repo.ApplyWalletEntry(ctx, store.WalletEntryCommand{
		Transaction: domain.WalletTransaction{
			ID:          xid.New("wtx"),
			CustomerID:  customer.ID,
			Type:        domain.WalletTxDeposit,
			Amount:      req.Amount,
			Description: description,
			Username:    actor.Username,
			CreatedAt:   s.now(),
		},
	})
	if err != nil {
		return domain.WalletResponse{}, err
	}

	s.logAudit(ctx, "", "wallet_deposit", "customer", wallet.CustomerID,
		fmt.Sprintf("amount=%s,balance=%s", entry.Amount, wallet.Balance))
	return domain.WalletResponse{Wallet: *wallet, Transaction: *entry}, nil
}

// ResetWallet zeroes a balance and records the change as a history entry.
func (s *Service) ResetWallet(ctx context.Context, customerID string) (domain.WalletResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.WalletResponse{}, err
	}

	wallet, entry, err := s.repo.ApplyWalletEntry(ctx, store.WalletEntryCommand{
		Transaction: domain.WalletTransaction{
			ID:         xid.New("wtx"),
			CustomerID: strings.TrimSpace(customerID),
			Username:   actor.Username,
			CreatedAt:  s.now(),
		},
		Reset: true,
	})
	if err != nil {
		return domain.WalletResponse{}, err
	}

	s.logAudit(ctx, "", "wallet_reset", "customer", wallet.CustomerID,
		fmt.Sprintf("balance_change=%s", entry.BalanceChange))
	return domain.WalletResponse{Wallet: *wallet, Transaction: *entry}, nil
}

func (s *Service) ListWalletTransactions(ctx context.Context, customerID string, limit int) ([]domain.WalletTransaction, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultHistorySize
	}
	return s.repo.ListWalletTransactions(ctx, customer.ID, limit)
}
