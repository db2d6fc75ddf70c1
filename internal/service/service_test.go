package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/cache"
	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/store/memory"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NewMemoryDraftStore(), nil, Options{}), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func addToCart(t *testing.T, svc *Service, ctx context.Context, itemID string, qty string) domain.CartAddResponse {
	t.Helper()
	resp, err := svc.AddToCart(ctx, itemID, domain.CartAddRequest{Quantity: dec(qty)})
	if err != nil {
		t.Fatalf("add %s to cart failed: %v", itemID, err)
	}
	return resp
}

func stockOf(t *testing.T, svc *Service, itemID string) decimal.Decimal {
	t.Helper()
	item, err := svc.GetItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("get item %s failed: %v", itemID, err)
	}
	return item.Stock
}

func TestCartRequiresOperator(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.ViewCart(context.Background(), domain.ScopeRetail); !errors.Is(err, ErrOperatorRequired) {
		t.Fatalf("expected operator required, got %v", err)
	}
}

func TestAddToCartReservesStockAndSummarises(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := addToCart(t, svc, ctx, "itm-paracetamol", "2")
	if resp.CartItemsCount != 1 || !resp.TotalPrice.Equal(dec("200")) {
		t.Fatalf("unexpected add response count=%d total=%s", resp.CartItemsCount, resp.TotalPrice)
	}
	if !resp.Line.ReservedUntil.After(time.Now()) {
		t.Fatalf("expected reservation deadline in the future, got %s", resp.Line.ReservedUntil)
	}
	if got := stockOf(t, svc, "itm-paracetamol"); !got.Equal(dec("118")) {
		t.Fatalf("expected stock 118 after reservation, got %s", got)
	}

	if _, err := svc.SetCartDiscount(ctx, resp.Line.ID, domain.CartDiscountRequest{Amount: dec("500")}); err != nil {
		t.Fatalf("set discount failed: %v", err)
	}
	view, err := svc.ViewCart(ctx, domain.ScopeRetail)
	if err != nil {
		t.Fatalf("view cart failed: %v", err)
	}
	if !view.TotalDiscount.Equal(dec("200")) || !view.TotalPrice.IsZero() {
		t.Fatalf("expected discount clamped to gross, got discount=%s total=%s", view.TotalDiscount, view.TotalPrice)
	}

	if _, err := svc.AddToCart(ctx, "itm-vitamin-c", domain.CartAddRequest{Quantity: dec("6")}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCartLinesArePrivateToTheirOperator(t *testing.T) {
	svc, _ := newTestService()
	resp := addToCart(t, svc, cashierCtx(), "itm-paracetamol", "1")

	other := WithActor(context.Background(), domain.Actor{Username: "cashier-2", Role: "cashier"})
	if _, err := svc.RemoveFromCart(other, resp.Line.ID, domain.CartRemoveRequest{Quantity: dec("1")}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other operator to get not found, got %v", err)
	}
}

func TestRemoveFromCartRoundTripsStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := addToCart(t, svc, ctx, "itm-amoxicillin", "3")
	removed, err := svc.RemoveFromCart(ctx, resp.Line.ID, domain.CartRemoveRequest{Quantity: dec("3")})
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !removed.Removed || !removed.Restocked.Equal(dec("3")) {
		t.Fatalf("expected full removal, got removed=%t restocked=%s", removed.Removed, removed.Restocked)
	}
	if got := stockOf(t, svc, "itm-amoxicillin"); !got.Equal(dec("60")) {
		t.Fatalf("expected stock back at 60, got %s", got)
	}
}

func TestCheckoutWalkInDefaultsToCash(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "2")
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Scope:     domain.ScopeRetail,
		BuyerName: "Walk-in",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Receipt.PaymentMethod != domain.TenderCash || resp.EffectiveStatus != domain.StatusPaid {
		t.Fatalf("expected Cash/Paid, got %s/%s", resp.Receipt.PaymentMethod, resp.EffectiveStatus)
	}
	if len(resp.Receipt.ID) != receiptIDLength {
		t.Fatalf("expected %d character receipt id, got %q", receiptIDLength, resp.Receipt.ID)
	}
	if !resp.Receipt.TotalAmount.Equal(dec("200")) || len(resp.DispensingLogs) != 1 {
		t.Fatalf("unexpected receipt total=%s logs=%d", resp.Receipt.TotalAmount, len(resp.DispensingLogs))
	}

	view, err := svc.ViewCart(ctx, domain.ScopeRetail)
	if err != nil {
		t.Fatalf("view cart failed: %v", err)
	}
	if view.ItemsCount != 0 {
		t.Fatalf("expected empty cart after checkout, got %d lines", view.ItemsCount)
	}

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail}); !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
}

func TestCheckoutRejectsWalletForWalkIn(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "1")
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail, PaymentMethod: "wallet"})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction, got %v", err)
	}
}

func TestCheckoutFromDraftDebitsWallet(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "2")
	draft, err := svc.SaveCheckoutDraft(ctx, domain.CheckoutDraftRequest{
		Scope:      domain.ScopeRetail,
		CustomerID: "cust-ada",
	})
	if err != nil {
		t.Fatalf("save draft failed: %v", err)
	}
	if draft.PaymentMethod != domain.TenderWallet {
		t.Fatalf("expected wallet default for registered customer, got %s", draft.PaymentMethod)
	}

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail, DraftID: "draft-unknown"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown draft to be not found, got %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail, DraftID: draft.ID})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Receipt.CustomerID != "cust-ada" || resp.Wallet == nil || !resp.Wallet.Balance.Equal(dec("300")) {
		t.Fatalf("expected cust-ada wallet at 300, got %+v", resp.Wallet)
	}
	if len(resp.WalletTransactions) != 1 || resp.WalletTransactions[0].Type != domain.WalletTxPurchase {
		t.Fatalf("expected one purchase entry, got %+v", resp.WalletTransactions)
	}
	if _, err := svc.GetCheckoutDraft(ctx, domain.ScopeRetail); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected draft to be discarded after checkout, got %v", err)
	}
}

func TestCheckoutWalletOverdraftIsNoticed(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-amoxicillin", "1")
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail, CustomerID: "cust-kemi"})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Receipt.WalletWentNegative {
		t.Fatalf("expected receipt to flag the overdraft")
	}
	if len(resp.Notices) != 1 || !strings.Contains(resp.Notices[0], "-300.00") {
		t.Fatalf("expected negative balance notice, got %v", resp.Notices)
	}
}

func TestCheckoutSplitDerivesStatusFromPayments(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "2")
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Scope:      domain.ScopeRetail,
		CustomerID: "cust-ada",
		Tenders: []domain.TenderInput{
			{Method: "cash", Amount: dec("120")},
			{Method: "wallet", Amount: dec("50")},
		},
	})
	if err != nil {
		t.Fatalf("split checkout failed: %v", err)
	}
	if resp.Receipt.PaymentMethod != domain.MethodSplit || len(resp.Receipt.Payments) != 2 {
		t.Fatalf("expected split receipt with two payments, got %s/%d", resp.Receipt.PaymentMethod, len(resp.Receipt.Payments))
	}
	if resp.EffectiveStatus != domain.StatusPartiallyPaid {
		t.Fatalf("expected Partially Paid, got %s", resp.EffectiveStatus)
	}
	if !resp.Wallet.Balance.Equal(dec("450")) {
		t.Fatalf("expected wallet debited by its tender only, got %s", resp.Wallet.Balance)
	}

	receipt, err := svc.GetReceipt(ctx, strings.ToLower(resp.Receipt.ID))
	if err != nil {
		t.Fatalf("get receipt failed: %v", err)
	}
	if receipt.Status != domain.StatusPartiallyPaid {
		t.Fatalf("expected stored receipt to report derived status, got %s", receipt.Status)
	}
}

func TestCheckoutSplitUnderpaymentStoresPartiallyPaid(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-amoxicillin", "1")
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Scope:  domain.ScopeRetail,
		Status: "paid",
		Tenders: []domain.TenderInput{
			{Method: "cash", Amount: dec("100")},
			{Method: "transfer", Amount: dec("100")},
		},
	})
	if err != nil {
		t.Fatalf("split checkout failed: %v", err)
	}
	if resp.Receipt.Status != domain.StatusPartiallyPaid {
		t.Fatalf("expected checkout receipt Partially Paid, got %s", resp.Receipt.Status)
	}

	stored, err := repo.GetReceipt(context.Background(), resp.Receipt.ID)
	if err != nil {
		t.Fatalf("load stored receipt failed: %v", err)
	}
	if stored.Status != domain.StatusPartiallyPaid {
		t.Fatalf("expected persisted status Partially Paid, got %s", stored.Status)
	}
}

func TestScopedOperatorIsConfinedToGrant(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{
		Username: "depot",
		Role:     "cashier",
		Scopes:   []domain.Scope{domain.ScopeWholesale},
	})

	if _, err := svc.AddToCart(ctx, "itm-paracetamol", domain.CartAddRequest{Quantity: dec("1")}); !errors.Is(err, ErrScopeForbidden) {
		t.Fatalf("expected retail add to be forbidden, got %v", err)
	}
	if got := stockOf(t, svc, "itm-paracetamol"); !got.Equal(dec("120")) {
		t.Fatalf("expected no reservation on a forbidden add, stock %s", got)
	}
	if _, err := svc.ViewCart(ctx, "RETAIL"); !errors.Is(err, ErrScopeForbidden) {
		t.Fatalf("expected retail cart to be forbidden, got %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail}); !errors.Is(err, ErrScopeForbidden) {
		t.Fatalf("expected retail checkout to be forbidden, got %v", err)
	}
	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{Scope: domain.ScopeRetail, ItemID: "itm-paracetamol", Quantity: dec("1")}); !errors.Is(err, ErrScopeForbidden) {
		t.Fatalf("expected retail return to be forbidden, got %v", err)
	}
	if _, err := svc.DepositToWallet(ctx, "cust-ada", domain.WalletDepositRequest{Amount: dec("10")}); !errors.Is(err, ErrScopeForbidden) {
		t.Fatalf("expected retail wallet deposit to be forbidden, got %v", err)
	}
	if _, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Scope: domain.ScopeRetail, Name: "Walk-in Clinic"}); !errors.Is(err, ErrScopeForbidden) {
		t.Fatalf("expected retail customer creation to be forbidden, got %v", err)
	}

	addToCart(t, svc, ctx, "itm-paracetamol-ctn", "1")
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeWholesale, CustomerID: "cust-medplus"}); err != nil {
		t.Fatalf("wholesale checkout failed: %v", err)
	}

	admin := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin", Scopes: []domain.Scope{domain.ScopeWholesale}})
	if _, err := svc.ViewCart(admin, domain.ScopeRetail); err != nil {
		t.Fatalf("expected admins to ignore scope grants, got %v", err)
	}
}

func TestReturnIsIdempotentPerKey(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "2")
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail, CustomerID: "cust-ada"}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	req := domain.ReturnRequest{
		Scope:          domain.ScopeRetail,
		CustomerID:     "cust-ada",
		ItemID:         "itm-paracetamol",
		Quantity:       dec("1"),
		IdempotencyKey: "ret-key-1",
	}
	first, err := svc.ProcessReturn(ctx, req)
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if first.Duplicate || !first.RefundAmount.Equal(dec("100")) || !first.WalletCredit.Equal(dec("100")) {
		t.Fatalf("unexpected first return refund=%s credit=%s", first.RefundAmount, first.WalletCredit)
	}
	if first.Policy != ledger.PolicyWalletTenderOnly {
		t.Fatalf("expected default policy, got %s", first.Policy)
	}

	second, err := svc.ProcessReturn(ctx, req)
	if err != nil {
		t.Fatalf("replayed return failed: %v", err)
	}
	if !second.Duplicate || !second.RefundAmount.Equal(first.RefundAmount) {
		t.Fatalf("expected duplicate replay, got duplicate=%t refund=%s", second.Duplicate, second.RefundAmount)
	}
	if got := stockOf(t, svc, "itm-paracetamol"); !got.Equal(dec("119")) {
		t.Fatalf("expected single restock to 119, got %s", got)
	}
	customer, err := svc.GetCustomer(ctx, "cust-ada")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if !customer.Wallet.Balance.Equal(dec("400")) {
		t.Fatalf("expected wallet 400 after one refund, got %s", customer.Wallet.Balance)
	}

	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		Scope:      domain.ScopeRetail,
		CustomerID: "cust-ada",
		ItemID:     "itm-paracetamol",
		Quantity:   dec("5"),
	}); !errors.Is(err, store.ErrInsufficientReturnable) {
		t.Fatalf("expected insufficient returnable, got %v", err)
	}
}

func TestClearCartCreditsDraftCustomerPerPolicy(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NewMemoryDraftStore(), nil, Options{RefundPolicy: ledger.AlwaysCreditWallet{}})
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-amoxicillin", "2")
	if _, err := svc.SaveCheckoutDraft(ctx, domain.CheckoutDraftRequest{Scope: domain.ScopeRetail, CustomerID: "cust-kemi"}); err != nil {
		t.Fatalf("save draft failed: %v", err)
	}

	resp, err := svc.ClearCart(ctx, domain.CartClearRequest{Scope: domain.ScopeRetail})
	if err != nil {
		t.Fatalf("clear cart failed: %v", err)
	}
	if resp.LinesCleared != 1 || !resp.WalletCredit.Equal(dec("600")) {
		t.Fatalf("unexpected clear result lines=%d credit=%s", resp.LinesCleared, resp.WalletCredit)
	}
	if resp.Refund == nil || resp.Refund.Description != "Cart cleared - Refund" {
		t.Fatalf("expected cart cleared refund entry, got %+v", resp.Refund)
	}
	if _, err := svc.GetCheckoutDraft(ctx, domain.ScopeRetail); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected draft discarded, got %v", err)
	}
	if got := stockOf(t, svc, "itm-amoxicillin"); !got.Equal(dec("60")) {
		t.Fatalf("expected stock restored to 60, got %s", got)
	}
}

func TestItemManagementRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	req := domain.ItemCreateRequest{
		Scope:             domain.ScopeRetail,
		Name:              "Ibuprofen 400mg",
		Brand:             "Fidson",
		DosageForm:        "Tablet",
		Unit:              "Pack",
		Cost:              dec("120"),
		MarkupPercent:     dec("12.5"),
		Stock:             dec("40"),
		LowStockThreshold: dec("5"),
		ExpiryDate:        "2099-01-31",
	}
	if _, err := svc.CreateItem(cashierCtx(), req); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin required, got %v", err)
	}

	ctx := adminCtx()
	item, err := svc.CreateItem(ctx, req)
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}
	if !item.Price.Equal(dec("135")) || item.PriceOverridden {
		t.Fatalf("expected derived price 135, got %s overridden=%t", item.Price, item.PriceOverridden)
	}

	override := dec("150")
	updated, err := svc.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{Price: &override})
	if err != nil {
		t.Fatalf("override price failed: %v", err)
	}
	if !updated.Price.Equal(dec("150")) || !updated.PriceOverridden {
		t.Fatalf("expected override 150, got %s", updated.Price)
	}

	cost := dec("200")
	updated, err = svc.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{Cost: &cost})
	if err != nil {
		t.Fatalf("update cost failed: %v", err)
	}
	if !updated.Price.Equal(dec("150")) {
		t.Fatalf("expected override kept on cost change, got %s", updated.Price)
	}

	updated, err = svc.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{ResetPrice: true})
	if err != nil {
		t.Fatalf("reset price failed: %v", err)
	}
	if !updated.Price.Equal(dec("225")) || updated.PriceOverridden {
		t.Fatalf("expected derived price 225 after reset, got %s", updated.Price)
	}

	badMarkup := dec("13")
	if _, err := svc.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{MarkupPercent: &badMarkup}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected markup off the 2.5 grid to be rejected, got %v", err)
	}
}

func TestAdjustStockRecordsDelta(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.AdjustStock(adminCtx(), "itm-vitamin-c", domain.StockAdjustRequest{CountedStock: dec("8"), Reason: "recount"})
	if err != nil {
		t.Fatalf("adjust stock failed: %v", err)
	}
	if !resp.Previous.Equal(dec("5")) || !resp.Delta.Equal(dec("3")) || !resp.Item.Stock.Equal(dec("8")) {
		t.Fatalf("unexpected adjustment previous=%s delta=%s stock=%s", resp.Previous, resp.Delta, resp.Item.Stock)
	}
	if _, err := svc.AdjustStock(adminCtx(), "itm-vitamin-c", domain.StockAdjustRequest{CountedStock: dec("-1"), Reason: "typo"}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected negative count to be rejected, got %v", err)
	}
}

func TestReceiveAndWriteOffStock(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.ReceiveStock(cashierCtx(), "itm-vitamin-c", domain.StockMovementRequest{Quantity: dec("1"), Reason: "delivery"}); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected admin required, got %v", err)
	}

	received, err := svc.ReceiveStock(adminCtx(), "itm-vitamin-c", domain.StockMovementRequest{Quantity: dec("20"), Reason: "invoice INV-204"})
	if err != nil {
		t.Fatalf("receive stock failed: %v", err)
	}
	if !received.Previous.Equal(dec("5")) || !received.Delta.Equal(dec("20")) || !received.Item.Stock.Equal(dec("25")) {
		t.Fatalf("unexpected receipt previous=%s delta=%s stock=%s", received.Previous, received.Delta, received.Item.Stock)
	}

	if _, err := svc.WriteOffStock(adminCtx(), "itm-vitamin-c", domain.StockMovementRequest{Quantity: dec("26"), Reason: "broken"}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected write-off beyond stock to fail, got %v", err)
	}
	if got := stockOf(t, svc, "itm-vitamin-c"); !got.Equal(dec("25")) {
		t.Fatalf("expected failed write-off to leave stock at 25, got %s", got)
	}
	written, err := svc.WriteOffStock(adminCtx(), "itm-vitamin-c", domain.StockMovementRequest{Quantity: dec("25"), Reason: "cold chain failure"})
	if err != nil {
		t.Fatalf("write off failed: %v", err)
	}
	if !written.Previous.Equal(dec("25")) || !written.Delta.Equal(dec("-25")) || !written.Item.Stock.IsZero() {
		t.Fatalf("unexpected write-off previous=%s delta=%s stock=%s", written.Previous, written.Delta, written.Item.Stock)
	}

	if _, err := svc.ReceiveStock(adminCtx(), "itm-vitamin-c", domain.StockMovementRequest{Quantity: dec("5")}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected a reason to be required, got %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 0)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	if !actions["stock_receive"] || !actions["stock_write_off"] {
		t.Fatalf("expected stock movement audit entries, got %v", actions)
	}
}

func TestStockAlertsDoNotMutateStock(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.StockAlerts(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("stock alerts failed: %v", err)
	}
	if resp.Days != defaultAlertDays || len(resp.Alerts) == 0 {
		t.Fatalf("expected alerts over the default window, got days=%d alerts=%d", resp.Days, len(resp.Alerts))
	}
	first := resp.Alerts[0]
	if first.ItemID != "itm-ors" || first.Kind != domain.AlertKindExpired || first.Severity != severityCritical {
		t.Fatalf("expected expired ORS first, got %+v", first)
	}

	lowStock := false
	for _, alert := range resp.Alerts {
		if alert.ItemID == "itm-vitamin-c" && alert.Kind == domain.AlertKindLowStock {
			lowStock = true
		}
	}
	if !lowStock {
		t.Fatalf("expected vitamin C low stock alert")
	}
	if got := stockOf(t, svc, "itm-ors"); !got.Equal(dec("30")) {
		t.Fatalf("expected alerts to leave expired stock untouched, got %s", got)
	}
}

func TestSweepExpiredStockIsIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.SweepExpiredStock(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(first.WrittenOff) != 1 || first.WrittenOff[0].ItemID != "itm-ors" || !first.WrittenOff[0].Quantity.Equal(dec("30")) {
		t.Fatalf("expected ORS written off, got %+v", first.WrittenOff)
	}
	second, err := svc.SweepExpiredStock(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if len(second.WrittenOff) != 0 {
		t.Fatalf("expected nothing on second sweep, got %+v", second.WrittenOff)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 0)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "expiry_write_off" && entry.EntityID == "itm-ors" && entry.ActorUsername == "system" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected expiry write-off audit entry")
	}
}

func TestReleaseExpiredReservationsRestocks(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "4")
	released, err := svc.ReleaseExpiredReservations(context.Background())
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected fresh reservation to survive, released %d", released)
	}

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * defaultReservationTTL) }
	released, err = svc.ReleaseExpiredReservations(context.Background())
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected one released line, got %d", released)
	}
	if got := stockOf(t, svc, "itm-paracetamol"); !got.Equal(dec("120")) {
		t.Fatalf("expected stock restored to 120, got %s", got)
	}
}

func TestWalletDepositAndReset(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.DepositToWallet(cashierCtx(), "cust-kemi", domain.WalletDepositRequest{Amount: dec("250")})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if !resp.Wallet.Balance.Equal(dec("250")) || resp.Transaction.Description != depositDescription {
		t.Fatalf("unexpected deposit balance=%s description=%q", resp.Wallet.Balance, resp.Transaction.Description)
	}
	if _, err := svc.DepositToWallet(cashierCtx(), "cust-kemi", domain.WalletDepositRequest{Amount: dec("0")}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected zero deposit to be rejected, got %v", err)
	}

	if _, err := svc.ResetWallet(cashierCtx(), "cust-kemi"); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected reset to require admin, got %v", err)
	}
	reset, err := svc.ResetWallet(adminCtx(), "cust-kemi")
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !reset.Wallet.Balance.IsZero() || !reset.Transaction.BalanceChange.Equal(dec("-250")) {
		t.Fatalf("unexpected reset balance=%s change=%s", reset.Wallet.Balance, reset.Transaction.BalanceChange)
	}

	history, err := svc.ListWalletTransactions(cashierCtx(), "cust-kemi", 0)
	if err != nil {
		t.Fatalf("list wallet transactions failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected deposit and reset entries, got %d", len(history))
	}
	if _, err := svc.ListWalletTransactions(cashierCtx(), "cust-missing", 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown customer to be not found, got %v", err)
	}
}

func TestCreateCustomerStartsWithEmptyWallet(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{Scope: "Wholesale", Name: "Clinic Ltd"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	if resp.Customer.Scope != domain.ScopeWholesale || !resp.Wallet.Balance.IsZero() {
		t.Fatalf("unexpected customer %+v wallet %s", resp.Customer, resp.Wallet.Balance)
	}
	if _, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{Scope: "clinic", Name: "x"}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected unknown scope to be rejected, got %v", err)
	}
}

func TestDailySalesNetsReturns(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "2")
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	receipts, err := svc.ListReceipts(ctx, domain.ReceiptFilter{Scope: domain.ScopeRetail})
	if err != nil || len(receipts) != 1 {
		t.Fatalf("expected one receipt, got %d (%v)", len(receipts), err)
	}
	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		Scope:    domain.ScopeRetail,
		SaleID:   receipts[0].SaleID,
		ItemID:   "itm-paracetamol",
		Quantity: dec("1"),
	}); err != nil {
		t.Fatalf("walk-in return failed: %v", err)
	}

	report, err := svc.DailySales(ctx, domain.ScopeRetail, "")
	if err != nil {
		t.Fatalf("daily sales failed: %v", err)
	}
	if !report.Dispensed.Equal(dec("200")) || !report.Returned.Equal(dec("100")) || !report.Net.Equal(dec("100")) {
		t.Fatalf("unexpected report dispensed=%s returned=%s net=%s", report.Dispensed, report.Returned, report.Net)
	}
	if !report.DispensedQty.Equal(dec("2")) || !report.ReturnedQty.Equal(dec("1")) {
		t.Fatalf("unexpected quantities dispensed=%s returned=%s", report.DispensedQty, report.ReturnedQty)
	}

	if _, err := svc.DailySales(ctx, "", "18-10-2026"); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected bad date to be rejected, got %v", err)
	}
}

func TestSalesByUserRanksOperators(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "2")
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail})
	if err != nil {
		t.Fatalf("cashier checkout failed: %v", err)
	}
	addToCart(t, svc, adminCtx(), "itm-amoxicillin", "1")
	if _, err := svc.Checkout(adminCtx(), domain.CheckoutRequest{Scope: domain.ScopeRetail}); err != nil {
		t.Fatalf("admin checkout failed: %v", err)
	}
	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		Scope:    domain.ScopeRetail,
		SaleID:   resp.Receipt.SaleID,
		ItemID:   "itm-paracetamol",
		Quantity: dec("1"),
	}); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	if _, err := svc.SalesByUser(ctx, "", time.Time{}, time.Time{}); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected cashier to be refused, got %v", err)
	}
	report, err := svc.SalesByUser(adminCtx(), domain.ScopeRetail, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("sales by user failed: %v", err)
	}
	if len(report.Operators) != 2 {
		t.Fatalf("expected two operators, got %+v", report.Operators)
	}
	top, second := report.Operators[0], report.Operators[1]
	if top.Username != "admin" || !top.Dispensed.Equal(dec("300")) || top.Sales != 1 {
		t.Fatalf("expected admin first with 300, got %+v", top)
	}
	if second.Username != "cashier" || !second.ItemsQty.Equal(dec("2")) || !second.Returned.Equal(dec("100")) || !second.Net.Equal(dec("100")) {
		t.Fatalf("unexpected cashier row %+v", second)
	}
	if report.From != report.To || report.From != domain.DateOf(time.Now()).Format(dateLayout) {
		t.Fatalf("expected a one-day window for today, got %s..%s", report.From, report.To)
	}

	wholesale, err := svc.SalesByUser(adminCtx(), domain.ScopeWholesale, time.Time{}, time.Time{})
	if err != nil || len(wholesale.Operators) != 0 {
		t.Fatalf("expected no wholesale activity, got %+v (%v)", wholesale.Operators, err)
	}

	day := domain.DateOf(time.Now())
	if _, err := svc.SalesByUser(adminCtx(), "", day.Add(24*time.Hour), day); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected inverted window to be rejected, got %v", err)
	}
}

func TestListNegativeWalletsAfterOverdraft(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-amoxicillin", "1")
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail, CustomerID: "cust-kemi"}); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if _, err := svc.ListNegativeWallets(ctx, ""); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected cashier to be refused, got %v", err)
	}
	debtors, err := svc.ListNegativeWallets(adminCtx(), "")
	if err != nil {
		t.Fatalf("list negative wallets failed: %v", err)
	}
	if len(debtors) != 1 || debtors[0].Customer.ID != "cust-kemi" || !debtors[0].Wallet.Balance.Equal(dec("-300")) {
		t.Fatalf("expected cust-kemi at -300, got %+v", debtors)
	}
	debtors, err = svc.ListNegativeWallets(adminCtx(), domain.ScopeWholesale)
	if err != nil || len(debtors) != 0 {
		t.Fatalf("expected no wholesale debtors, got %+v (%v)", debtors, err)
	}
}

type conflictingRepo struct {
	store.Repository
	conflicts  int
	receiptIDs []string
}

func (r *conflictingRepo) CommitCheckout(ctx context.Context, cmd store.CheckoutCommand) (*store.CheckoutResult, error) {
	r.receiptIDs = append(r.receiptIDs, cmd.ReceiptID)
	if r.conflicts > 0 {
		r.conflicts--
		return nil, store.ErrConflict
	}
	return r.Repository.CommitCheckout(ctx, cmd)
}

func TestCheckoutRetriesReceiptIDConflicts(t *testing.T) {
	repo := &conflictingRepo{Repository: memory.NewSeeded(), conflicts: 2}
	svc := New(repo, nil, nil, Options{})
	ctx := cashierCtx()

	addToCart(t, svc, ctx, "itm-paracetamol", "1")
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if len(repo.receiptIDs) != 3 || resp.Receipt.ID != repo.receiptIDs[2] {
		t.Fatalf("expected third receipt id to win, attempts=%v got %s", repo.receiptIDs, resp.Receipt.ID)
	}

	repo.conflicts = maxReceiptAttempts
	addToCart(t, svc, ctx, "itm-paracetamol", "1")
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{Scope: domain.ScopeRetail}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict after %d attempts, got %v", maxReceiptAttempts, err)
	}
}
