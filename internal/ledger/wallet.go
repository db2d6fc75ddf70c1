package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

const walletResetDescription = "Wallet reset"

// CreditWallet adds amount to the wallet and returns the paired refund entry.
func CreditWallet(wallet *domain.Wallet, amount decimal.Decimal, description string, reference string, username string, at time.Time) domain.WalletTransaction {
	amount = domain.Money(amount)
	wallet.Balance = domain.Money(wallet.Balance.Add(amount))
	wallet.UpdatedAt = at.UTC()
	return domain.WalletTransaction{
		ID:            xid.New("wtx"),
		CustomerID:    wallet.CustomerID,
		Type:          domain.WalletTxRefund,
		Amount:        amount,
		BalanceChange: amount,
		BalanceAfter:  wallet.Balance,
		Description:   description,
		Reference:     reference,
		Username:      username,
		CreatedAt:     at.UTC(),
	}
}

// ApplyWalletEntry applies a deposit, debit or refund entry to the wallet. A
// reset zeroes the balance and records the change it made as a debit or
// deposit entry.
func ApplyWalletEntry(wallet domain.Wallet, cmd store.WalletEntryCommand) (domain.Wallet, domain.WalletTransaction, error) {
	entry := cmd.Transaction
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ID == "" {
		entry.ID = xid.New("wtx")
	}
	entry.CustomerID = wallet.CustomerID

	if cmd.Reset {
		change := wallet.Balance.Neg()
		entry.Type = domain.WalletTxDebit
		if change.IsPositive() {
			entry.Type = domain.WalletTxDeposit
		}
		if entry.Description == "" {
			entry.Description = walletResetDescription
		}
		entry.Amount = domain.Money(change.Abs())
		entry.BalanceChange = domain.Money(change)
		wallet.Balance = decimal.Zero
		wallet.UpdatedAt = entry.CreatedAt
		entry.BalanceAfter = wallet.Balance
		return wallet, entry, nil
	}

	amount := domain.Money(entry.Amount)
	if !amount.IsPositive() {
		return domain.Wallet{}, domain.WalletTransaction{}, store.ErrInvalidTransaction
	}
	var change decimal.Decimal
	switch entry.Type {
	case domain.WalletTxDeposit, domain.WalletTxRefund:
		change = amount
	case domain.WalletTxDebit, domain.WalletTxPurchase:
		change = amount.Neg()
	default:
		return domain.Wallet{}, domain.WalletTransaction{}, store.ErrInvalidTransaction
	}

	wallet.Balance = domain.Money(wallet.Balance.Add(change))
	wallet.UpdatedAt = entry.CreatedAt
	entry.Amount = amount
	entry.BalanceChange = change
	entry.BalanceAfter = wallet.Balance
	return wallet, entry, nil
}
