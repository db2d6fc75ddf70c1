package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

type fixture struct {
	username   string
	itemID     string
	customerID string
}

func seedFixture(t *testing.T, s *Store, stamp string) fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	expiry := domain.DateOf(now).AddDate(1, 0, 0)

	item, err := s.CreateItem(ctx, domain.Item{
		ID:                "itm-" + stamp,
		Scope:             domain.ScopeRetail,
		Name:              "Paracetamol 500mg",
		Brand:             "Emzor",
		DosageForm:        "Tablet",
		Unit:              "Pack",
		Cost:              dec("80"),
		MarkupPercent:     dec("25"),
		Price:             dec("100"),
		Stock:             dec("10"),
		LowStockThreshold: dec("2"),
		ExpiryDate:        &expiry,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	customer, err := s.CreateCustomer(ctx, domain.Customer{
		ID:    "cust-" + stamp,
		Scope: domain.ScopeRetail,
		Name:  "Ada Okafor",
	})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if _, _, err := s.ApplyWalletEntry(ctx, store.WalletEntryCommand{Transaction: domain.WalletTransaction{
		CustomerID:  customer.ID,
		Type:        domain.WalletTxDeposit,
		Amount:      dec("50"),
		Description: "Opening balance",
		Username:    "admin",
	}}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	return fixture{username: "cashier-" + stamp, itemID: item.ID, customerID: customer.ID}
}

// exerciseCheckoutAndReturn runs a wallet checkout followed by a partial
// return against either dialect.
func exerciseCheckoutAndReturn(t *testing.T, s *Store, fx fixture) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	line, err := s.AddCartLine(ctx, store.AddCartLineCommand{
		Username:      fx.username,
		Scope:         domain.ScopeRetail,
		ItemID:        fx.itemID,
		Quantity:      dec("3"),
		ReservedUntil: now.Add(30 * time.Minute),
		At:            now,
	})
	if err != nil {
		t.Fatalf("add cart line: %v", err)
	}
	if _, err := s.SetCartLineDiscount(ctx, line.ID, dec("30"), now); err != nil {
		t.Fatalf("set discount: %v", err)
	}
	item, err := s.GetItem(ctx, fx.itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !item.Stock.Equal(dec("7")) {
		t.Fatalf("expected reservation to hold 3 units, stock=%s", item.Stock)
	}

	payment, err := ledger.ResolvePayment(true, "", "", "", nil)
	if err != nil {
		t.Fatalf("resolve payment: %v", err)
	}
	checkout, err := s.CommitCheckout(ctx, store.CheckoutCommand{
		Username:   fx.username,
		Scope:      domain.ScopeRetail,
		CustomerID: fx.customerID,
		Payment:    payment,
		SaleID:     xid.New("sale"),
		ReceiptID:  xid.Short(5),
		At:         now,
	})
	if err != nil {
		t.Fatalf("commit checkout: %v", err)
	}
	if !checkout.Receipt.TotalAmount.Equal(dec("270")) {
		t.Fatalf("expected receipt total 270, got %s", checkout.Receipt.TotalAmount)
	}
	if !checkout.Receipt.WalletWentNegative {
		t.Fatalf("expected wallet_went_negative to be set")
	}
	lines, err := s.ListCartLines(ctx, fx.username, domain.ScopeRetail)
	if err != nil {
		t.Fatalf("list cart: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected cart to be consumed, got %d lines", len(lines))
	}

	wallet, err := s.GetWallet(ctx, fx.customerID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !wallet.Balance.Equal(dec("-220")) {
		t.Fatalf("expected wallet -220 after checkout, got %s", wallet.Balance)
	}

	stored, err := s.GetReceipt(ctx, checkout.Receipt.ID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if stored.PaymentMethod != domain.TenderWallet || stored.EffectiveStatus() != domain.StatusPaid {
		t.Fatalf("unexpected receipt payment %s/%s", stored.PaymentMethod, stored.EffectiveStatus())
	}

	returnID := xid.New("ret")
	ret, err := s.CommitReturn(ctx, store.ReturnCommand{
		ReturnID:     returnID,
		Username:     fx.username,
		Scope:        domain.ScopeRetail,
		CustomerID:   fx.customerID,
		ItemID:       fx.itemID,
		Quantity:     dec("2"),
		RefundPolicy: ledger.CreditOnlyIfWalletTender{},
		At:           now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("commit return: %v", err)
	}
	if !ret.RefundAmount.Equal(dec("180")) || !ret.DiscountAmount.Equal(dec("20")) {
		t.Fatalf("expected refund 180 with discount 20, got %s/%s", ret.RefundAmount, ret.DiscountAmount)
	}
	if !ret.WalletCredit.Equal(dec("180")) {
		t.Fatalf("expected full wallet credit, got %s", ret.WalletCredit)
	}

	sale, err := s.GetSale(ctx, checkout.Sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(sale.Lines) != 1 || !sale.Lines[0].Quantity.Equal(dec("1")) || !sale.Lines[0].DiscountAmount.Equal(dec("10")) {
		t.Fatalf("unexpected sale lines after return: %+v", sale.Lines)
	}
	if !sale.TotalAmount.Equal(dec("90")) || !sale.IsReturned || !sale.ReturnAmount.Equal(dec("180")) {
		t.Fatalf("unexpected sale header after return: total=%s returned=%v amount=%s", sale.TotalAmount, sale.IsReturned, sale.ReturnAmount)
	}

	item, err = s.GetItem(ctx, fx.itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !item.Stock.Equal(dec("9")) {
		t.Fatalf("expected stock 9 after return, got %s", item.Stock)
	}
	wallet, err = s.GetWallet(ctx, fx.customerID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !wallet.Balance.Equal(dec("-40")) {
		t.Fatalf("expected wallet -40 after refund, got %s", wallet.Balance)
	}

	record, err := s.FindReturn(ctx, returnID)
	if err != nil {
		t.Fatalf("find return: %v", err)
	}
	if record.Refund == nil || !record.Refund.Amount.Equal(dec("180")) || len(record.SaleReturns) != 1 {
		t.Fatalf("unexpected return record: %+v", record)
	}

	logs, err := s.ListDispensingLogs(ctx, domain.DispensingLogFilter{Username: fx.username})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	statuses := map[string]int{}
	for _, entry := range logs {
		statuses[entry.Status]++
	}
	if statuses[domain.LogStatusPartiallyReturned] != 1 || statuses[domain.LogStatusReturned] != 1 {
		t.Fatalf("unexpected log statuses: %v", statuses)
	}

	if _, err := s.CommitReturn(ctx, store.ReturnCommand{
		ReturnID:   returnID,
		Username:   fx.username,
		Scope:      domain.ScopeRetail,
		CustomerID: fx.customerID,
		ItemID:     fx.itemID,
		Quantity:   dec("1"),
		At:         now.Add(2 * time.Minute),
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected replayed return id to conflict, got %v", err)
	}
	if _, err := s.CommitReturn(ctx, store.ReturnCommand{
		ReturnID:   xid.New("ret"),
		Username:   fx.username,
		Scope:      domain.ScopeRetail,
		CustomerID: fx.customerID,
		ItemID:     fx.itemID,
		Quantity:   dec("5"),
		At:         now.Add(2 * time.Minute),
	}); !errors.Is(err, store.ErrInsufficientReturnable) {
		t.Fatalf("expected insufficient returnable, got %v", err)
	}
}

func TestSQLiteCheckoutAndReturn(t *testing.T) {
	s := newSQLiteStore(t)
	exerciseCheckoutAndReturn(t, s, seedFixture(t, s, "sqlite"))
}

func TestSQLiteEmptyCartCheckoutLeavesNoTrace(t *testing.T) {
	s := newSQLiteStore(t)
	fx := seedFixture(t, s, "empty")
	ctx := context.Background()

	_, err := s.CommitCheckout(ctx, store.CheckoutCommand{
		Username:  fx.username,
		Scope:     domain.ScopeRetail,
		Payment:   store.Payment{Type: domain.PaymentTypeSingle, Method: domain.TenderCash, Status: domain.StatusPaid},
		SaleID:    "sale-empty",
		ReceiptID: "EMPTY",
		At:        time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if _, err := s.GetSale(ctx, "sale-empty"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no sale to be written, got %v", err)
	}
	receipts, err := s.ListReceipts(ctx, domain.ReceiptFilter{})
	if err != nil {
		t.Fatalf("list receipts: %v", err)
	}
	if len(receipts) != 0 {
		t.Fatalf("expected no receipts, got %d", len(receipts))
	}
}

func TestSQLiteSplitReceiptPersistsPayments(t *testing.T) {
	s := newSQLiteStore(t)
	fx := seedFixture(t, s, "split")
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.AddCartLine(ctx, store.AddCartLineCommand{
		Username:      fx.username,
		Scope:         domain.ScopeRetail,
		ItemID:        fx.itemID,
		Quantity:      dec("2"),
		ReservedUntil: now.Add(time.Hour),
		At:            now,
	}); err != nil {
		t.Fatalf("add cart line: %v", err)
	}
	payment, err := ledger.ResolvePayment(true, domain.PaymentTypeSplit, "", "", []domain.TenderInput{
		{Method: domain.TenderCash, Amount: dec("120")},
		{Method: domain.TenderWallet, Amount: dec("50")},
	})
	if err != nil {
		t.Fatalf("resolve payment: %v", err)
	}
	result, err := s.CommitCheckout(ctx, store.CheckoutCommand{
		Username:   fx.username,
		Scope:      domain.ScopeRetail,
		CustomerID: fx.customerID,
		Payment:    payment,
		SaleID:     "sale-split",
		ReceiptID:  "SPL1T",
		At:         now,
	})
	if err != nil {
		t.Fatalf("commit checkout: %v", err)
	}

	receipt, err := s.GetReceipt(ctx, result.Receipt.ID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if len(receipt.Payments) != 2 {
		t.Fatalf("expected two payment records, got %d", len(receipt.Payments))
	}
	if receipt.Payments[0].Method != domain.TenderCash || receipt.Payments[1].Method != domain.TenderWallet {
		t.Fatalf("payment order not preserved: %+v", receipt.Payments)
	}
	if receipt.EffectiveStatus() != domain.StatusPartiallyPaid {
		t.Fatalf("expected derived Partially Paid, got %s", receipt.EffectiveStatus())
	}
	if receipt.Status != domain.StatusPartiallyPaid {
		t.Fatalf("expected status column to hold Partially Paid, got %s", receipt.Status)
	}

	wallet, err := s.GetWallet(ctx, fx.customerID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !wallet.Balance.Equal(decimal.Zero) {
		t.Fatalf("expected wallet tender to drain the balance, got %s", wallet.Balance)
	}

	_, err = s.CommitCheckout(ctx, store.CheckoutCommand{
		Username:  fx.username,
		Scope:     domain.ScopeRetail,
		Payment:   store.Payment{Type: domain.PaymentTypeSingle, Method: domain.TenderCash, Status: domain.StatusPaid},
		SaleID:    "sale-other",
		ReceiptID: "SPL1T",
		At:        now,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected receipt id collision to conflict, got %v", err)
	}
}

func TestSQLiteRemoveAndReleaseRestock(t *testing.T) {
	s := newSQLiteStore(t)
	fx := seedFixture(t, s, "release")
	ctx := context.Background()
	now := time.Now().UTC()

	line, err := s.AddCartLine(ctx, store.AddCartLineCommand{
		Username:      fx.username,
		Scope:         domain.ScopeRetail,
		ItemID:        fx.itemID,
		Quantity:      dec("4"),
		ReservedUntil: now.Add(time.Minute),
		At:            now,
	})
	if err != nil {
		t.Fatalf("add cart line: %v", err)
	}
	if _, err := s.AddCartLine(ctx, store.AddCartLineCommand{
		Username:      fx.username,
		Scope:         domain.ScopeRetail,
		ItemID:        fx.itemID,
		Quantity:      dec("7"),
		ReservedUntil: now.Add(time.Minute),
		At:            now,
	}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	removed, err := s.RemoveCartQuantity(ctx, line.ID, dec("1"), now)
	if err != nil {
		t.Fatalf("remove quantity: %v", err)
	}
	if removed.Removed || removed.Line == nil || !removed.Line.Quantity.Equal(dec("3")) {
		t.Fatalf("unexpected remove result: %+v", removed)
	}

	released, err := s.ReleaseExpiredReservations(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("release reservations: %v", err)
	}
	if len(released) != 1 || released[0].ID != line.ID {
		t.Fatalf("expected the line to be released, got %+v", released)
	}
	item, err := s.GetItem(ctx, fx.itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !item.Stock.Equal(dec("10")) {
		t.Fatalf("expected stock restored to 10, got %s", item.Stock)
	}
}

func TestSQLiteExpirySweepIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	expired := domain.DateOf(time.Now().UTC()).AddDate(0, 0, -3)
	if _, err := s.CreateItem(ctx, domain.Item{
		ID:         "itm-expired",
		Scope:      domain.ScopeRetail,
		Name:       "ORS Sachet",
		Price:      dec("20"),
		Stock:      dec("12"),
		ExpiryDate: &expired,
	}); err != nil {
		t.Fatalf("create item: %v", err)
	}

	first, err := s.ZeroExpiredStock(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(first) != 1 || !first[0].Quantity.Equal(dec("12")) {
		t.Fatalf("unexpected first sweep: %+v", first)
	}
	second, err := s.ZeroExpiredStock(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %+v", second)
	}
}

func TestSQLiteStockMovesFloorAtZero(t *testing.T) {
	s := newSQLiteStore(t)
	fx := seedFixture(t, s, "shelf")
	ctx := context.Background()

	if _, err := s.DecrementStock(ctx, fx.itemID, dec("11")); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	item, err := s.DecrementStock(ctx, fx.itemID, dec("10"))
	if err != nil {
		t.Fatalf("decrement to zero: %v", err)
	}
	if !item.Stock.IsZero() {
		t.Fatalf("expected stock 0, got %s", item.Stock)
	}
	if _, err := s.DecrementStock(ctx, fx.itemID, dec("1")); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected empty shelf to refuse a decrement, got %v", err)
	}

	if _, err := s.IncrementStock(ctx, fx.itemID, dec("2.5")); err != nil {
		t.Fatalf("increment: %v", err)
	}
	stored, err := s.GetItem(ctx, fx.itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !stored.Stock.Equal(dec("2.5")) {
		t.Fatalf("expected persisted stock 2.5, got %s", stored.Stock)
	}
	if _, err := s.IncrementStock(ctx, "itm-missing", dec("1")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLiteListNegativeWallets(t *testing.T) {
	s := newSQLiteStore(t)
	fx := seedFixture(t, s, "debt")
	ctx := context.Background()

	depot, err := s.CreateCustomer(ctx, domain.Customer{ID: "cust-depot", Scope: domain.ScopeWholesale, Name: "Depot"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "cust-even", Scope: domain.ScopeRetail, Name: "Even"}); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	for customerID, amount := range map[string]string{fx.customerID: "80", depot.ID: "120"} {
		if _, _, err := s.ApplyWalletEntry(ctx, store.WalletEntryCommand{Transaction: domain.WalletTransaction{
			CustomerID:  customerID,
			Type:        domain.WalletTxDebit,
			Amount:      dec(amount),
			Description: "Credit sale",
			Username:    "admin",
		}}); err != nil {
			t.Fatalf("debit %s: %v", customerID, err)
		}
	}

	debtors, err := s.ListNegativeWallets(ctx, "")
	if err != nil {
		t.Fatalf("list negative wallets: %v", err)
	}
	if len(debtors) != 2 || debtors[0].Customer.ID != depot.ID || debtors[1].Customer.ID != fx.customerID {
		t.Fatalf("expected depot then fixture customer, got %+v", debtors)
	}
	if !debtors[0].Wallet.Balance.Equal(dec("-120")) || !debtors[1].Wallet.Balance.Equal(dec("-30")) {
		t.Fatalf("unexpected balances %s %s", debtors[0].Wallet.Balance, debtors[1].Wallet.Balance)
	}

	retail, err := s.ListNegativeWallets(ctx, domain.ScopeRetail)
	if err != nil {
		t.Fatalf("list retail negative wallets: %v", err)
	}
	if len(retail) != 1 || retail[0].Customer.ID != fx.customerID {
		t.Fatalf("expected only the retail debtor, got %+v", retail)
	}
}

func TestSQLiteUserScopesRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for _, user := range []domain.UserAccount{
		{Username: "Depot1", Password: "$2a$10$hash", Role: "cashier", Scopes: []domain.Scope{domain.ScopeWholesale}},
		{Username: "floor1", Password: "$2a$10$hash", Role: "cashier"},
	} {
		if err := s.CreateUser(ctx, user); err != nil {
			t.Fatalf("create user %s: %v", user.Username, err)
		}
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0].Username != "depot1" {
		t.Fatalf("unexpected users: %+v", users)
	}
	if len(users[0].Scopes) != 1 || users[0].Scopes[0] != domain.ScopeWholesale {
		t.Fatalf("expected wholesale grant, got %v", users[0].Scopes)
	}
	if len(users[1].Scopes) != 0 {
		t.Fatalf("expected unrestricted operator, got %v", users[1].Scopes)
	}
}

func TestPostgresCheckoutAndReturn(t *testing.T) {
	databaseURL := os.Getenv("PHARMLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PHARMLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	exerciseCheckoutAndReturn(t, s, seedFixture(t, s, fmt.Sprintf("pg%d", time.Now().UnixNano())))
}
