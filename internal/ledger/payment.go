package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
)

const splitTenderCount = 2

// ResolvePayment normalises a tender selection and fills the defaults: a
// registered customer pays from the wallet, a walk-in pays cash, and the status
// is Paid unless stated otherwise.
func ResolvePayment(hasCustomer bool, paymentType string, method string, status string, tenders []domain.TenderInput) (store.Payment, error) {
	paymentType = strings.ToLower(strings.TrimSpace(paymentType))
	if paymentType == "" {
		paymentType = domain.PaymentTypeSingle
		if len(tenders) > 0 || strings.EqualFold(strings.TrimSpace(method), domain.MethodSplit) {
			paymentType = domain.PaymentTypeSplit
		}
	}

	resolvedStatus, ok := canonicalStatus(status)
	if !ok {
		return store.Payment{}, store.ErrInvalidTransaction
	}

	switch paymentType {
	case domain.PaymentTypeSingle:
		if len(tenders) > 0 {
			return store.Payment{}, store.ErrInvalidTransaction
		}
		resolvedMethod := domain.TenderCash
		if hasCustomer {
			resolvedMethod = domain.TenderWallet
		}
		if strings.TrimSpace(method) != "" {
			resolvedMethod, ok = canonicalTender(method)
			if !ok {
				return store.Payment{}, store.ErrInvalidTransaction
			}
		}
		if resolvedMethod == domain.TenderWallet && !hasCustomer {
			return store.Payment{}, store.ErrInvalidTransaction
		}
		return store.Payment{
			Type:   domain.PaymentTypeSingle,
			Method: resolvedMethod,
			Status: resolvedStatus,
		}, nil
	case domain.PaymentTypeSplit:
		if len(tenders) != splitTenderCount {
			return store.Payment{}, store.ErrInvalidTransaction
		}
		normalized := make([]domain.TenderInput, 0, len(tenders))
		for i, tender := range tenders {
			tenderMethod, ok := canonicalTender(tender.Method)
			if !ok {
				return store.Payment{}, store.ErrInvalidTransaction
			}
			if tenderMethod == domain.TenderWallet && !hasCustomer {
				return store.Payment{}, store.ErrInvalidTransaction
			}
			amount := domain.Money(tender.Amount)
			if amount.IsNegative() || (i == 0 && !amount.IsPositive()) {
				return store.Payment{}, store.ErrInvalidTransaction
			}
			normalized = append(normalized, domain.TenderInput{Method: tenderMethod, Amount: amount})
		}
		return store.Payment{
			Type:    domain.PaymentTypeSplit,
			Method:  domain.MethodSplit,
			Status:  resolvedStatus,
			Tenders: normalized,
		}, nil
	default:
		return store.Payment{}, store.ErrInvalidTransaction
	}
}

// TenderTotal sums the tender amounts of a split payment.
func TenderTotal(tenders []domain.TenderInput) decimal.Decimal {
	total := decimal.Zero
	for _, tender := range tenders {
		total = total.Add(tender.Amount)
	}
	return domain.Money(total)
}

func canonicalTender(method string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "cash":
		return domain.TenderCash, true
	case "wallet":
		return domain.TenderWallet, true
	case "transfer":
		return domain.TenderTransfer, true
	default:
		return "", false
	}
}

func canonicalStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "paid":
		return domain.StatusPaid, true
	case "partially paid", "partially_paid":
		return domain.StatusPartiallyPaid, true
	case "unpaid":
		return domain.StatusUnpaid, true
	default:
		return "", false
	}
}
