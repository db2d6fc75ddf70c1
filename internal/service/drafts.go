package service

import (
	"context"
	"strings"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

// SaveCheckoutDraft records the customer and payment selection for the
// operator's cart in the given scope, replacing any earlier draft.
func (s *Service) SaveCheckoutDraft(ctx context.Context, req domain.CheckoutDraftRequest) (domain.CheckoutDraft, error) {
	actor, scope, err := operatorIn(ctx, req.Scope)
	if err != nil {
		return domain.CheckoutDraft{}, err
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		if _, err := s.customerInScope(ctx, customerID, scope); err != nil {
			return domain.CheckoutDraft{}, err
		}
	}
	payment, err := ledger.ResolvePayment(customerID != "", req.PaymentType, req.PaymentMethod, req.Status, req.Tenders)
	if err != nil {
		return domain.CheckoutDraft{}, err
	}

	now := s.now()
	draft := domain.CheckoutDraft{
		ID:            xid.New("draft"),
		Username:      actor.Username,
		Scope:         scope,
		CustomerID:    customerID,
		PaymentType:   payment.Type,
		PaymentMethod: payment.Method,
		Status:        payment.Status,
		Tenders:       payment.Tenders,
		BuyerName:     strings.TrimSpace(req.BuyerName),
		BuyerAddress:  strings.TrimSpace(req.BuyerAddress),
		CreatedAt:     now,
	}
	if err := s.drafts.Set(ctx, &draft, s.opts.DraftTTL); err != nil {
		return domain.CheckoutDraft{}, err
	}
	return draft, nil
}

func (s *Service) GetCheckoutDraft(ctx context.Context, scope domain.Scope) (domain.CheckoutDraft, error) {
	actor, scope, err := operatorIn(ctx, scope)
	if err != nil {
		return domain.CheckoutDraft{}, err
	}

	draft, ok, err := s.drafts.Get(ctx, actor.Username, scope)
	if err != nil {
		return domain.CheckoutDraft{}, err
	}
	if !ok {
		return domain.CheckoutDraft{}, store.ErrNotFound
	}
	return *draft, nil
}

func (s *Service) DiscardCheckoutDraft(ctx context.Context, scope domain.Scope) error {
	actor, scope, err := operatorIn(ctx, scope)
	if err != nil {
		return err
	}
	return s.drafts.Delete(ctx, actor.Username, scope)
}

func (s *Service) customerInScope(ctx context.Context, customerID string, scope domain.Scope) (*domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.Scope != scope {
		return nil, store.ErrInvalidTransaction
	}
	return customer, nil
}
