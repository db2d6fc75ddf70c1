package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
)

const (
	PolicyAlwaysCreditWallet = "always"
	PolicyWalletTenderOnly   = "wallet_tender_only"

	refundProportionPrecision = 10
)

// AlwaysCreditWallet refunds every return to the customer wallet regardless of
// how the sale was paid.
type AlwaysCreditWallet struct{}

func (AlwaysCreditWallet) Name() string { return PolicyAlwaysCreditWallet }

func (AlwaysCreditWallet) WalletShare(amount decimal.Decimal, _ *domain.Receipt) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return domain.Money(amount)
}

// CreditOnlyIfWalletTender refunds to the wallet only the portion originally
// paid from the wallet. Split receipts are refunded in proportion to their
// wallet payments.
type CreditOnlyIfWalletTender struct{}

func (CreditOnlyIfWalletTender) Name() string { return PolicyWalletTenderOnly }

func (CreditOnlyIfWalletTender) WalletShare(amount decimal.Decimal, original *domain.Receipt) decimal.Decimal {
	if original == nil || !amount.IsPositive() || !original.TotalAmount.IsPositive() {
		return decimal.Zero
	}
	walletPaid := original.WalletPaid()
	if !walletPaid.IsPositive() {
		return decimal.Zero
	}
	if walletPaid.GreaterThanOrEqual(original.TotalAmount) {
		return domain.Money(amount)
	}
	proportion := walletPaid.DivRound(original.TotalAmount, refundProportionPrecision)
	share := domain.Money(amount.Mul(proportion))
	if share.GreaterThan(amount) {
		return domain.Money(amount)
	}
	return share
}

// ParseRefundPolicy maps a configured policy name to its implementation. An
// empty name selects the wallet-tender-only policy.
func ParseRefundPolicy(name string) (store.RefundPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyWalletTenderOnly:
		return CreditOnlyIfWalletTender{}, nil
	case PolicyAlwaysCreditWallet:
		return AlwaysCreditWallet{}, nil
	default:
		return nil, fmt.Errorf("unknown refund policy %q", name)
	}
}
