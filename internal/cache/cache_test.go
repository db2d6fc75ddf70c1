package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
)

func TestMemoryDraftStoreRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDraftStore()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	draft := &domain.CheckoutDraft{
		ID:          "draft-1",
		Username:    "cashier",
		Scope:       domain.ScopeRetail,
		CustomerID:  "cust-ada",
		PaymentType: domain.PaymentTypeSplit,
		Tenders: []domain.TenderInput{
			{Method: domain.TenderCash, Amount: decimal.NewFromInt(100)},
			{Method: domain.TenderWallet, Amount: decimal.NewFromInt(50)},
		},
	}
	if err := c.Set(ctx, draft, 15*time.Minute); err != nil {
		t.Fatalf("set draft: %v", err)
	}
	draft.Tenders[0].Method = domain.TenderTransfer

	got, ok, err := c.Get(ctx, "cashier", domain.ScopeRetail)
	if err != nil || !ok {
		t.Fatalf("expected draft, ok=%v err=%v", ok, err)
	}
	if got.Tenders[0].Method != domain.TenderCash {
		t.Fatalf("stored draft should not alias the caller's tenders")
	}
	if !got.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", got.ExpiresAt)
	}

	if _, ok, _ := c.Get(ctx, "cashier", domain.ScopeWholesale); ok {
		t.Fatalf("drafts are scoped per scope")
	}

	now = now.Add(16 * time.Minute)
	if _, ok, _ := c.Get(ctx, "cashier", domain.ScopeRetail); ok {
		t.Fatalf("expected draft to expire")
	}
}

func TestMemoryDraftStoreDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDraftStore()
	if err := c.Set(ctx, &domain.CheckoutDraft{ID: "d", Username: "cashier", Scope: domain.ScopeRetail}, time.Minute); err != nil {
		t.Fatalf("set draft: %v", err)
	}
	if err := c.Delete(ctx, "cashier", domain.ScopeRetail); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "cashier", domain.ScopeRetail); ok {
		t.Fatalf("expected draft to be gone")
	}
}
