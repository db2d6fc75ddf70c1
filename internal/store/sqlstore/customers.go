package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || !customer.Scope.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO customers (`+customerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?)
		`),
			customer.ID, string(customer.Scope), customer.Name, customer.Phone, customer.Address, customer.CreatedAt.UTC(),
		); err != nil {
			return err
		}
		_, err := s.lockWallet(ctx, tx, customer.ID, customer.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	customer, err := s.getCustomer(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, scope domain.Scope) ([]domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers`
	args := []any{}
	if scope != "" {
		query += ` WHERE scope = ?`
		args = append(args, string(scope))
	}
	query += ` ORDER BY name ASC, id ASC`

	var rows []customerRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.q(query), args...); err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, row.toDomain())
	}
	return customers, nil
}

func (s *Store) ListNegativeWallets(ctx context.Context, scope domain.Scope) ([]domain.CustomerResponse, error) {
	query := `
		SELECT c.id, c.scope, c.name, c.phone, c.address, c.created_at,
			w.balance, w.updated_at
		FROM customers c
		JOIN wallets w ON w.customer_id = c.id
		WHERE CAST(w.balance AS REAL) < 0`
	args := []any{}
	if scope != "" {
		query += ` AND c.scope = ?`
		args = append(args, string(scope))
	}
	query += ` ORDER BY CAST(w.balance AS REAL) ASC, c.id ASC`

	var rows []struct {
		customerRow
		Balance         decimal.Decimal `db:"balance"`
		WalletUpdatedAt time.Time       `db:"updated_at"`
	}
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.q(query), args...); err != nil {
		return nil, err
	}
	result := make([]domain.CustomerResponse, 0, len(rows))
	for _, row := range rows {
		customer := row.customerRow.toDomain()
		result = append(result, domain.CustomerResponse{
			Customer: customer,
			Wallet:   walletRow{CustomerID: customer.ID, Balance: row.Balance, UpdatedAt: row.WalletUpdatedAt}.toDomain(),
		})
	}
	return result, nil
}

func (s *Store) GetWallet(ctx context.Context, customerID string) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.getCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		var err error
		wallet, err = s.lockWallet(ctx, tx, customerID, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Store) ApplyWalletEntry(ctx context.Context, cmd store.WalletEntryCommand) (*domain.Wallet, *domain.WalletTransaction, error) {
	var (
		wallet domain.Wallet
		entry  domain.WalletTransaction
	)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		customerID := cmd.Transaction.CustomerID
		if _, err := s.getCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		current, err := s.lockWallet(ctx, tx, customerID, time.Now().UTC())
		if err != nil {
			return err
		}
		wallet, entry, err = ledger.ApplyWalletEntry(current, cmd)
		if err != nil {
			return err
		}
		if err := s.saveWallet(ctx, tx, wallet); err != nil {
			return err
		}
		return s.insertWalletTransaction(ctx, tx, entry)
	})
	if err != nil {
		return nil, nil, err
	}
	return &wallet, &entry, nil
}

func (s *Store) ListWalletTransactions(ctx context.Context, customerID string, limit int) ([]domain.WalletTransaction, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions
		WHERE customer_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{customerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []walletTxRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.q(query), args...); err != nil {
		return nil, err
	}
	result := make([]domain.WalletTransaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) getCustomer(ctx context.Context, ext sqlx.ExtContext, id string) (domain.Customer, error) {
	var row customerRow
	if err := sqlx.GetContext(ctx, ext, &row, s.q(`SELECT `+customerColumns+` FROM customers WHERE id = ?`), id); err != nil {
		return domain.Customer{}, notFound(err)
	}
	return row.toDomain(), nil
}

// lockWallet returns the locked wallet row, creating a zero balance wallet on
// first reference.
func (s *Store) lockWallet(ctx context.Context, tx *sqlx.Tx, customerID string, at time.Time) (domain.Wallet, error) {
	var row walletRow
	err := sqlx.GetContext(ctx, tx, &row, s.q(`SELECT `+walletColumns+` FROM wallets WHERE customer_id = ?`+s.forUpdate()), customerID)
	if err == nil {
		return row.toDomain(), nil
	}
	if notFound(err) != store.ErrNotFound {
		return domain.Wallet{}, err
	}

	wallet := domain.Wallet{CustomerID: customerID, Balance: decimal.Zero, UpdatedAt: at.UTC()}
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO wallets (`+walletColumns+`)
		VALUES (?, ?, ?)
	`), wallet.CustomerID, wallet.Balance, wallet.UpdatedAt); err != nil {
		return domain.Wallet{}, err
	}
	return wallet, nil
}

func (s *Store) saveWallet(ctx context.Context, tx *sqlx.Tx, wallet domain.Wallet) error {
	_, err := tx.ExecContext(ctx, s.q(`UPDATE wallets SET balance = ?, updated_at = ? WHERE customer_id = ?`),
		wallet.Balance, wallet.UpdatedAt.UTC(), wallet.CustomerID)
	return err
}

func (s *Store) insertWalletTransaction(ctx context.Context, tx *sqlx.Tx, entry domain.WalletTransaction) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO wallet_transactions (`+walletTxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		entry.ID, entry.CustomerID, entry.Type, entry.Amount, entry.BalanceChange, entry.BalanceAfter,
		entry.Description, nullIfEmpty(entry.Reference), entry.Username, entry.CreatedAt.UTC(),
	)
	return err
}
