package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/logger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

func (s *Service) ViewCart(ctx context.Context, scope domain.Scope) (domain.CartView, error) {
	actor, scope, err := operatorIn(ctx, scope)
	if err != nil {
		return domain.CartView{}, err
	}

	lines, err := s.repo.ListCartLines(ctx, actor.Username, scope)
	if err != nil {
		return domain.CartView{}, err
	}
	if lines == nil {
		lines = []domain.CartLine{}
	}
	gross, discount, payable := ledger.CartTotals(lines)
	return domain.CartView{
		Scope:         scope,
		Lines:         lines,
		ItemsCount:    len(lines),
		GrossTotal:    gross,
		TotalDiscount: discount,
		TotalPrice:    payable,
	}, nil
}

// AddToCart reserves stock for the operator's cart. The reservation lapses
// after the configured TTL unless the cart is checked out first.
func (s *Service) AddToCart(ctx context.Context, itemID string, req domain.CartAddRequest) (domain.CartAddResponse, error) {
	actor, err := operator(ctx)
	if err != nil {
		return domain.CartAddResponse{}, err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" || !domain.ValidQuantity(req.Quantity) {
		return domain.CartAddResponse{}, store.ErrInvalidTransaction
	}

	scope := req.Scope
	if strings.TrimSpace(string(scope)) == "" {
		item, err := s.repo.GetItem(ctx, itemID)
		if err != nil {
			return domain.CartAddResponse{}, err
		}
		scope = item.Scope
	}
	if _, scope, err = operatorIn(ctx, scope); err != nil {
		return domain.CartAddResponse{}, err
	}

	now := s.now()
	line, err := s.repo.AddCartLine(ctx, store.AddCartLineCommand{
		Username:      actor.Username,
		Scope:         scope,
		ItemID:        itemID,
		Unit:          strings.TrimSpace(req.Unit),
		Quantity:      req.Quantity,
		PriceOverride: req.PriceOverride,
		ReservedUntil: now.Add(s.opts.ReservationTTL),
		At:            now,
	})
	if err != nil {
		return domain.CartAddResponse{}, err
	}

	lines, err := s.repo.ListCartLines(ctx, actor.Username, scope)
	if err != nil {
		return domain.CartAddResponse{}, err
	}
	_, _, payable := ledger.CartTotals(lines)

	if req.PriceOverride != nil {
		s.logAudit(ctx, scope, "cart_price_override", "cart_line", line.ID,
			fmt.Sprintf("item=%s,unit_price=%s", line.ItemID, line.UnitPrice))
	}
	return domain.CartAddResponse{
		Line:           *line,
		CartItemsCount: len(lines),
		TotalPrice:     payable,
	}, nil
}

func (s *Service) SetCartDiscount(ctx context.Context, lineID string, req domain.CartDiscountRequest) (domain.CartLine, error) {
	actor, err := operator(ctx)
	if err != nil {
		return domain.CartLine{}, err
	}
	if req.Amount.IsNegative() {
		return domain.CartLine{}, store.ErrInvalidTransaction
	}
	line, err := s.ownedCartLine(ctx, actor, lineID)
	if err != nil {
		return domain.CartLine{}, err
	}

	updated, err := s.repo.SetCartLineDiscount(ctx, line.ID, req.Amount, s.now())
	if err != nil {
		return domain.CartLine{}, err
	}
	s.logAudit(ctx, updated.Scope, "cart_discount", "cart_line", updated.ID,
		fmt.Sprintf("requested=%s,applied=%s", domain.Money(req.Amount), updated.DiscountAmount))
	return *updated, nil
}

// RemoveFromCart takes quantity off a line and returns it to stock.
func (s *Service) RemoveFromCart(ctx context.Context, lineID string, req domain.CartRemoveRequest) (domain.CartRemoveResponse, error) {
	actor, err := operator(ctx)
	if err != nil {
		return domain.CartRemoveResponse{}, err
	}
	if !domain.ValidQuantity(req.Quantity) {
		return domain.CartRemoveResponse{}, store.ErrInvalidTransaction
	}
	line, err := s.ownedCartLine(ctx, actor, lineID)
	if err != nil {
		return domain.CartRemoveResponse{}, err
	}

	result, err := s.repo.RemoveCartQuantity(ctx, line.ID, req.Quantity, s.now())
	if err != nil {
		return domain.CartRemoveResponse{}, err
	}
	return domain.CartRemoveResponse{
		Line:      result.Line,
		Removed:   result.Removed,
		Restocked: result.Restocked,
	}, nil
}

// ClearCart restocks and drops every line of the operator's cart and discards
// the checkout draft. When the draft names a customer the refund policy decides
// whether the cart value is credited to that customer's wallet.
func (s *Service) ClearCart(ctx context.Context, req domain.CartClearRequest) (domain.CartClearResponse, error) {
	actor, scope, err := operatorIn(ctx, req.Scope)
	if err != nil {
		return domain.CartClearResponse{}, err
	}

	draft, _, err := s.drafts.Get(ctx, actor.Username, scope)
	if err != nil {
		return domain.CartClearResponse{}, err
	}
	customerID := ""
	if draft != nil {
		customerID = draft.CustomerID
	}

	result, err := s.repo.ClearCart(ctx, store.ClearCartCommand{
		Username:         actor.Username,
		Scope:            scope,
		WalletCustomerID: customerID,
		RefundPolicy:     s.opts.RefundPolicy,
		TransactionID:    xid.New("wtx"),
		At:               s.now(),
	})
	if err != nil {
		return domain.CartClearResponse{}, err
	}

	if err := s.drafts.Delete(ctx, actor.Username, scope); err != nil {
		logger.FromContext(ctx).Warn("[service] failed to discard checkout draft",
			zap.String("username", actor.Username), zap.String("scope", string(scope)), zap.Error(err))
	}

	if len(result.Lines) > 0 {
		s.logAudit(ctx, scope, "cart_clear", "cart", actor.Username,
			fmt.Sprintf("lines=%d,restocked=%s,wallet_credit=%s,customer=%s",
				len(result.Lines), result.Restocked, result.WalletCredit, customerID))
	}
	return domain.CartClearResponse{
		LinesCleared: len(result.Lines),
		Restocked:    result.Restocked,
		WalletCredit: result.WalletCredit,
		Wallet:       result.Wallet,
		Refund:       result.Refund,
	}, nil
}

// ReleaseExpiredReservations returns the stock of cart lines whose reservation
// lapsed and reports how many lines were dropped.
func (s *Service) ReleaseExpiredReservations(ctx context.Context) (int, error) {
	released, err := s.repo.ReleaseExpiredReservations(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, line := range released {
		s.logAudit(ctx, line.Scope, "reservation_release", "cart_line", line.ID,
			fmt.Sprintf("username=%s,item=%s,quantity=%s", line.Username, line.ItemID, line.Quantity))
	}
	s.metrics.ReservationsReleased(len(released))
	return len(released), nil
}

// ownedCartLine hides other operators' lines behind ErrNotFound.
func (s *Service) ownedCartLine(ctx context.Context, actor domain.Actor, lineID string) (*domain.CartLine, error) {
	line, err := s.repo.GetCartLine(ctx, strings.TrimSpace(lineID))
	if err != nil {
		return nil, err
	}
	if line.Username != actor.Username {
		return nil, store.ErrNotFound
	}
	return line, nil
}
