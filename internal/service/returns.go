package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

// ProcessReturn takes returned quantity back into stock against the most
// recent matching sales and refunds per the configured policy. A repeated
// idempotency key replays the recorded outcome instead of refunding twice.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	actor, scope, err := operatorIn(ctx, req.Scope)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" || !domain.ValidQuantity(req.Quantity) {
		return domain.ReturnResponse{}, store.ErrInvalidTransaction
	}

	returnID := strings.TrimSpace(req.IdempotencyKey)
	if returnID != "" {
		if replay, ok, err := s.replayReturn(ctx, returnID); err != nil || ok {
			return replay, err
		}
	} else {
		returnID = xid.New("ret")
	}

	result, err := s.repo.CommitReturn(ctx, store.ReturnCommand{
		ReturnID:     returnID,
		Username:     actor.Username,
		Scope:        scope,
		CustomerID:   strings.TrimSpace(req.CustomerID),
		SaleID:       strings.TrimSpace(req.SaleID),
		ItemID:       itemID,
		Quantity:     req.Quantity,
		RefundPolicy: s.opts.RefundPolicy,
		At:           s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) && strings.TrimSpace(req.IdempotencyKey) != "" {
			if replay, ok, findErr := s.replayReturn(ctx, returnID); findErr == nil && ok {
				return replay, nil
			}
		}
		return domain.ReturnResponse{}, err
	}

	s.metrics.ReturnCommitted(string(scope), s.opts.RefundPolicy.Name())
	s.logAudit(ctx, scope, "return", "item", result.Item.ID,
		fmt.Sprintf("return=%s,quantity=%s,refund=%s,discount=%s,wallet_credit=%s,sales=%d,policy=%s",
			result.ReturnID, result.Quantity, result.RefundAmount, result.DiscountAmount,
			result.WalletCredit, len(result.Allocations), s.opts.RefundPolicy.Name()))

	return domain.ReturnResponse{
		ReturnID:       result.ReturnID,
		ItemID:         result.Item.ID,
		Quantity:       result.Quantity,
		RefundAmount:   result.RefundAmount,
		DiscountAmount: result.DiscountAmount,
		WalletCredit:   result.WalletCredit,
		Allocations:    result.Allocations,
		Log:            result.Log,
		Wallet:         result.Wallet,
		Refund:         result.Refund,
		Policy:         s.opts.RefundPolicy.Name(),
	}, nil
}

// replayReturn rebuilds the response of an already applied return.
func (s *Service) replayReturn(ctx context.Context, returnID string) (domain.ReturnResponse, bool, error) {
	record, err := s.repo.FindReturn(ctx, returnID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ReturnResponse{}, false, nil
	}
	if err != nil {
		return domain.ReturnResponse{}, false, err
	}

	allocations := make([]domain.ReturnAllocation, 0, len(record.SaleReturns))
	for _, sr := range record.SaleReturns {
		allocations = append(allocations, domain.ReturnAllocation{SaleID: sr.SaleID, Amount: sr.Amount})
	}
	credit := decimal.Zero
	if record.Refund != nil {
		credit = record.Refund.Amount
	}
	return domain.ReturnResponse{
		ReturnID:       returnID,
		ItemID:         record.Log.ItemID,
		Quantity:       record.Log.Quantity,
		RefundAmount:   record.Log.Amount,
		DiscountAmount: record.Log.DiscountAmount,
		WalletCredit:   credit,
		Allocations:    allocations,
		Log:            record.Log,
		Refund:         record.Refund,
		Policy:         s.opts.RefundPolicy.Name(),
		Duplicate:      true,
	}, true, nil
}
