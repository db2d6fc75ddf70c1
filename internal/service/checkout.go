package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/logger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

const (
	receiptIDLength     = 5
	maxReceiptAttempts  = 5
	walletNegativeAlert = "customer wallet balance is now negative"
)

// Checkout turns the operator's cart into a sale, a receipt with its payment
// records, dispensing log entries and wallet movements in one store commit.
// A draft id fills every selection the request leaves empty.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, scope, err := operatorIn(ctx, req.Scope)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	req.Scope = scope

	if draftID := strings.TrimSpace(req.DraftID); draftID != "" {
		draft, ok, err := s.drafts.Get(ctx, actor.Username, scope)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		if !ok || draft.ID != draftID {
			return domain.CheckoutResponse{}, store.ErrNotFound
		}
		req = mergeDraft(req, *draft)
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		if _, err := s.customerInScope(ctx, customerID, scope); err != nil {
			return domain.CheckoutResponse{}, err
		}
	}
	payment, err := ledger.ResolvePayment(customerID != "", req.PaymentType, req.PaymentMethod, req.Status, req.Tenders)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	var result *store.CheckoutResult
	for attempt := 1; ; attempt++ {
		result, err = s.repo.CommitCheckout(ctx, store.CheckoutCommand{
			Username:     actor.Username,
			Scope:        scope,
			CustomerID:   customerID,
			Payment:      payment,
			BuyerName:    strings.TrimSpace(req.BuyerName),
			BuyerAddress: strings.TrimSpace(req.BuyerAddress),
			SaleID:       xid.New("sale"),
			ReceiptID:    xid.Short(receiptIDLength),
			At:           s.now(),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxReceiptAttempts {
			return domain.CheckoutResponse{}, err
		}
		logger.FromContext(ctx).Warn("[service] checkout conflict, retrying with a new receipt id",
			zap.Int("attempt", attempt), zap.Error(err))
	}

	if err := s.drafts.Delete(ctx, actor.Username, scope); err != nil {
		logger.FromContext(ctx).Warn("[service] failed to discard checkout draft",
			zap.String("username", actor.Username), zap.String("scope", string(scope)), zap.Error(err))
	}

	receipt := result.Receipt
	s.metrics.CheckoutCommitted(string(scope), receipt.PaymentMethod, receipt.TotalAmount.InexactFloat64(), receipt.WalletWentNegative)
	s.logAudit(ctx, scope, "checkout", "receipt", receipt.ID,
		fmt.Sprintf("sale=%s,total=%s,discount=%s,payment=%s,status=%s,customer=%s,wallet_went_negative=%t",
			receipt.SaleID, receipt.TotalAmount, receipt.TotalDiscount, receipt.PaymentMethod,
			receipt.Status, receipt.CustomerID, receipt.WalletWentNegative))

	var notices []string
	if receipt.WalletWentNegative && result.Wallet != nil {
		notices = append(notices, fmt.Sprintf("%s: %s", walletNegativeAlert, result.Wallet.Balance.StringFixed(2)))
	}
	return domain.CheckoutResponse{
		Receipt:            receipt,
		Sale:               result.Sale,
		DispensingLogs:     result.Logs,
		WalletTransactions: result.WalletTransactions,
		Wallet:             result.Wallet,
		EffectiveStatus:    receipt.EffectiveStatus(),
		Notices:            notices,
	}, nil
}

func mergeDraft(req domain.CheckoutRequest, draft domain.CheckoutDraft) domain.CheckoutRequest {
	if strings.TrimSpace(req.CustomerID) == "" {
		req.CustomerID = draft.CustomerID
	}
	if strings.TrimSpace(req.PaymentType) == "" && strings.TrimSpace(req.PaymentMethod) == "" && len(req.Tenders) == 0 {
		req.PaymentType = draft.PaymentType
		req.PaymentMethod = draft.PaymentMethod
		req.Tenders = draft.Tenders
		if draft.PaymentType == domain.PaymentTypeSplit {
			req.PaymentMethod = ""
		}
	}
	if strings.TrimSpace(req.Status) == "" {
		req.Status = draft.Status
	}
	if strings.TrimSpace(req.BuyerName) == "" {
		req.BuyerName = draft.BuyerName
	}
	if strings.TrimSpace(req.BuyerAddress) == "" {
		req.BuyerAddress = draft.BuyerAddress
	}
	return req
}
