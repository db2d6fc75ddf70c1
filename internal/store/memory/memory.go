package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/logger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	cartLines       map[string]domain.CartLine
	customers       map[string]domain.Customer
	wallets         map[string]domain.Wallet
	walletTxs       []domain.WalletTransaction
	sales           map[string]domain.Sale
	receiptsByID    map[string]domain.Receipt
	receiptBySale   map[string]string
	saleReturns     map[string][]domain.SaleReturn
	logs            []domain.DispensingLogEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used when a database is configured.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.L().Warn("[memory-store] using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.L().Fatal("[memory-store] failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		items:           make(map[string]domain.Item),
		cartLines:       make(map[string]domain.CartLine),
		customers:       make(map[string]domain.Customer),
		wallets:         make(map[string]domain.Wallet),
		walletTxs:       make([]domain.WalletTransaction, 0, 64),
		sales:           make(map[string]domain.Sale),
		receiptsByID:    make(map[string]domain.Receipt),
		receiptBySale:   make(map[string]string),
		saleReturns:     make(map[string][]domain.SaleReturn),
		logs:            make([]domain.DispensingLogEntry, 0, 128),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users, a small formulary and three
// customers. Item and customer ids are stable so tests can refer to them.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	today := domain.DateOf(now)
	expiry := func(days int) *time.Time {
		t := today.AddDate(0, 0, days)
		return &t
	}

	items := []struct {
		id        string
		scope     domain.Scope
		name      string
		brand     string
		form      string
		unit      string
		cost      string
		markup    string
		stock     string
		threshold string
		expiry    *time.Time
	}{
		{"itm-paracetamol", domain.ScopeRetail, "Paracetamol 500mg", "Emzor", "Tablet", "Pack", "80", "25", "120", "10", expiry(365)},
		{"itm-amoxicillin", domain.ScopeRetail, "Amoxicillin 250mg", "Beecham", "Capsule", "Pack", "200", "50", "60", "10", expiry(240)},
		{"itm-vitamin-c", domain.ScopeRetail, "Vitamin C Syrup", "Emzor", "Syrup", "Bottle", "40", "25", "5", "10", expiry(45)},
		{"itm-ors", domain.ScopeRetail, "ORS Sachet", "Emzor", "Powder", "Sachet", "16", "25", "30", "5", expiry(-10)},
		{"itm-paracetamol-ctn", domain.ScopeWholesale, "Paracetamol 500mg", "Emzor", "Tablet", "Carton", "7000", "10", "40", "5", expiry(365)},
		{"itm-ciprofloxacin-ctn", domain.ScopeWholesale, "Ciprofloxacin 500mg", "Fidson", "Tablet", "Carton", "1200", "20", "25", "5", expiry(300)},
	}
	for _, it := range items {
		cost := decimal.RequireFromString(it.cost)
		markup := decimal.RequireFromString(it.markup)
		s.items[it.id] = domain.Item{
			ID:                it.id,
			Scope:             it.scope,
			Name:              it.name,
			Brand:             it.brand,
			DosageForm:        it.form,
			Unit:              it.unit,
			Cost:              cost,
			MarkupPercent:     markup,
			Price:             domain.DerivePrice(cost, markup),
			Stock:             decimal.RequireFromString(it.stock),
			LowStockThreshold: decimal.RequireFromString(it.threshold),
			ExpiryDate:        it.expiry,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}

	customers := []struct {
		id      string
		scope   domain.Scope
		name    string
		phone   string
		address string
		balance string
	}{
		{"cust-ada", domain.ScopeRetail, "Ada Okafor", "08030000001", "12 Market Road", "500"},
		{"cust-kemi", domain.ScopeRetail, "Kemi Bello", "08030000002", "4 Hospital Lane", "0"},
		{"cust-medplus", domain.ScopeWholesale, "MedPlus Pharmacy", "08030000003", "Plot 7 Industrial Estate", "10000"},
	}
	for _, c := range customers {
		s.customers[c.id] = domain.Customer{
			ID:        c.id,
			Scope:     c.scope,
			Name:      c.name,
			Phone:     c.phone,
			Address:   c.address,
			CreatedAt: now,
		}
		s.wallets[c.id] = domain.Wallet{
			CustomerID: c.id,
			Balance:    decimal.RequireFromString(c.balance),
			UpdatedAt:  now,
		}
	}

	return s
}

func (s *Store) ListItems(_ context.Context, scope domain.Scope) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if scope != "" && item.Scope != scope {
			continue
		}
		items = append(items, cloneItem(item))
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneItem(item)
	return &cloned, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Name == "" || !item.Scope.Valid() || item.Stock.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = item.CreatedAt
	s.items[item.ID] = cloneItem(item)
	created := cloneItem(item)
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if item.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	item.Scope = existing.Scope
	item.Stock = existing.Stock
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = cloneItem(item)
	updated := cloneItem(item)
	return &updated, nil
}

func (s *Store) DecrementStock(_ context.Context, itemID string, qty decimal.Decimal) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.moveStockLocked(itemID, qty, time.Now(), ledger.TakeStock)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) IncrementStock(_ context.Context, itemID string, qty decimal.Decimal) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.moveStockLocked(itemID, qty, time.Now(), ledger.PutStock)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SetStock(_ context.Context, itemID string, qty decimal.Decimal) (decimal.Decimal, *domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty.IsNegative() || !qty.Equal(domain.Quantity(qty)) {
		return decimal.Zero, nil, store.ErrInvalidTransaction
	}
	item, ok := s.items[itemID]
	if !ok {
		return decimal.Zero, nil, store.ErrNotFound
	}
	previous := item.Stock
	item.Stock = qty
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item
	updated := cloneItem(item)
	return previous, &updated, nil
}

func (s *Store) ZeroExpiredStock(_ context.Context, asOf time.Time) ([]domain.ExpiredWriteOff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	writeOffs := make([]domain.ExpiredWriteOff, 0)
	for id, item := range s.items {
		if !item.Expired(asOf) || !item.Stock.IsPositive() {
			continue
		}
		writeOffs = append(writeOffs, domain.ExpiredWriteOff{
			ItemID:     item.ID,
			Name:       item.Name,
			Scope:      item.Scope,
			Quantity:   item.Stock,
			ExpiryDate: *item.ExpiryDate,
		})
		item.Stock = decimal.Zero
		item.UpdatedAt = now
		s.items[id] = item
	}
	slices.SortFunc(writeOffs, func(a, b domain.ExpiredWriteOff) int {
		return cmpString(a.ItemID, b.ItemID)
	})
	return writeOffs, nil
}

func (s *Store) AddCartLine(_ context.Context, cmd store.AddCartLineCommand) (*domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[cmd.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if cmd.Unit == "" {
		cmd.Unit = item.Unit
	}

	var existing *domain.CartLine
	for _, line := range s.cartLines {
		if line.Username == cmd.Username && line.Scope == cmd.Scope && line.ItemID == cmd.ItemID && line.Unit == cmd.Unit {
			found := line
			existing = &found
			break
		}
	}

	line, err := ledger.ReserveCartLine(existing, item, cmd)
	if err != nil {
		return nil, err
	}
	if _, err := s.moveStockLocked(item.ID, cmd.Quantity, line.UpdatedAt, ledger.TakeStock); err != nil {
		return nil, err
	}
	s.cartLines[line.ID] = line

	saved := line
	return &saved, nil
}

func (s *Store) GetCartLine(_ context.Context, lineID string) (*domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.cartLines[lineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &line, nil
}

func (s *Store) ListCartLines(_ context.Context, username string, scope domain.Scope) ([]domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cartLinesFor(username, scope), nil
}

func (s *Store) SetCartLineDiscount(_ context.Context, lineID string, discount decimal.Decimal, at time.Time) (*domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.cartLines[lineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	line.DiscountAmount = domain.ClampDiscount(line.UnitPrice, line.Quantity, discount)
	line.UpdatedAt = at.UTC()
	s.cartLines[lineID] = line
	return &line, nil
}

func (s *Store) RemoveCartQuantity(_ context.Context, lineID string, qty decimal.Decimal, at time.Time) (store.RemoveCartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.cartLines[lineID]
	if !ok {
		return store.RemoveCartResult{}, store.ErrNotFound
	}
	updated, removed, err := ledger.ShrinkCartLine(line, qty, at)
	if err != nil {
		return store.RemoveCartResult{}, err
	}

	s.restockLocked(line.ItemID, qty, at)
	result := store.RemoveCartResult{Removed: removed, Restocked: qty}
	if removed {
		delete(s.cartLines, lineID)
		return result, nil
	}
	s.cartLines[lineID] = updated
	result.Line = &updated
	return result, nil
}

func (s *Store) ClearCart(_ context.Context, cmd store.ClearCartCommand) (store.ClearCartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := cmd.At.UTC()
	var wallet *domain.Wallet
	if cmd.WalletCustomerID != "" {
		if _, ok := s.customers[cmd.WalletCustomerID]; !ok {
			return store.ClearCartResult{}, store.ErrNotFound
		}
		w := s.walletLocked(cmd.WalletCustomerID, at)
		wallet = &w
	}

	lines := s.cartLinesFor(cmd.Username, cmd.Scope)
	result := store.ClearCartResult{Lines: lines, Restocked: decimal.Zero, WalletCredit: decimal.Zero}
	for _, line := range lines {
		s.restockLocked(line.ItemID, line.Quantity, at)
		result.Restocked = result.Restocked.Add(line.Quantity)
		delete(s.cartLines, line.ID)
	}

	if refund := ledger.ClearCartCredit(wallet, lines, cmd.RefundPolicy, cmd.TransactionID, cmd.Username, at); refund != nil {
		s.wallets[wallet.CustomerID] = *wallet
		s.walletTxs = append(s.walletTxs, *refund)
		result.WalletCredit = refund.Amount
		result.Refund = refund
	}
	result.Wallet = wallet
	return result, nil
}

func (s *Store) ReleaseExpiredReservations(_ context.Context, now time.Time) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := make([]domain.CartLine, 0)
	for id, line := range s.cartLines {
		if line.ReservedUntil.IsZero() || line.ReservedUntil.After(now) {
			continue
		}
		s.restockLocked(line.ItemID, line.Quantity, now)
		delete(s.cartLines, id)
		released = append(released, line)
	}
	slices.SortFunc(released, func(a, b domain.CartLine) int {
		return cmpString(a.ID, b.ID)
	})
	return released, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" || !customer.Scope.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	s.walletLocked(customer.ID, customer.CreatedAt)
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context, scope domain.Scope) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if scope != "" && customer.Scope != scope {
			continue
		}
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) ListNegativeWallets(_ context.Context, scope domain.Scope) ([]domain.CustomerResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CustomerResponse, 0)
	for _, wallet := range s.wallets {
		if !wallet.Balance.IsNegative() {
			continue
		}
		customer, ok := s.customers[wallet.CustomerID]
		if !ok || (scope != "" && customer.Scope != scope) {
			continue
		}
		result = append(result, domain.CustomerResponse{Customer: customer, Wallet: wallet})
	}
	slices.SortFunc(result, func(a, b domain.CustomerResponse) int {
		if c := a.Wallet.Balance.Cmp(b.Wallet.Balance); c != 0 {
			return c
		}
		return cmpString(a.Customer.ID, b.Customer.ID)
	})
	return result, nil
}

func (s *Store) GetWallet(_ context.Context, customerID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[customerID]; !ok {
		return nil, store.ErrNotFound
	}
	wallet := s.walletLocked(customerID, time.Now().UTC())
	return &wallet, nil
}

func (s *Store) ApplyWalletEntry(_ context.Context, cmd store.WalletEntryCommand) (*domain.Wallet, *domain.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customerID := cmd.Transaction.CustomerID
	if _, ok := s.customers[customerID]; !ok {
		return nil, nil, store.ErrNotFound
	}
	wallet, entry, err := ledger.ApplyWalletEntry(s.walletLocked(customerID, time.Now().UTC()), cmd)
	if err != nil {
		return nil, nil, err
	}
	s.wallets[customerID] = wallet
	s.walletTxs = append(s.walletTxs, entry)
	return &wallet, &entry, nil
}

func (s *Store) ListWalletTransactions(_ context.Context, customerID string, limit int) ([]domain.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.WalletTransaction, 0)
	for _, entry := range s.walletTxs {
		if entry.CustomerID == customerID {
			result = append(result, entry)
		}
	}
	slices.SortStableFunc(result, func(a, b domain.WalletTransaction) int {
		return compareNewestFirst(a.CreatedAt, b.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CommitCheckout(_ context.Context, cmd store.CheckoutCommand) (*store.CheckoutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receiptsByID[cmd.ReceiptID]; exists {
		return nil, store.ErrConflict
	}
	if _, exists := s.sales[cmd.SaleID]; exists {
		return nil, store.ErrConflict
	}

	in := ledger.SettlementInput{
		Command: cmd,
		Lines:   s.cartLinesFor(cmd.Username, cmd.Scope),
	}
	if cmd.CustomerID != "" {
		customer, ok := s.customers[cmd.CustomerID]
		if !ok {
			return nil, store.ErrNotFound
		}
		wallet := s.walletLocked(cmd.CustomerID, cmd.At)
		in.Customer = &customer
		in.Wallet = &wallet
	}

	settlement, err := ledger.BuildSettlement(in)
	if err != nil {
		return nil, err
	}

	s.sales[settlement.Sale.ID] = cloneSale(settlement.Sale)
	s.receiptsByID[settlement.Receipt.ID] = cloneReceipt(settlement.Receipt)
	s.receiptBySale[settlement.Sale.ID] = settlement.Receipt.ID
	s.logs = append(s.logs, settlement.Logs...)
	if settlement.Wallet != nil {
		s.wallets[settlement.Wallet.CustomerID] = *settlement.Wallet
	}
	s.walletTxs = append(s.walletTxs, settlement.WalletTransactions...)
	for _, id := range settlement.ConsumedLineIDs {
		delete(s.cartLines, id)
	}

	return &store.CheckoutResult{
		Sale:               cloneSale(settlement.Sale),
		Receipt:            cloneReceipt(settlement.Receipt),
		Logs:               append([]domain.DispensingLogEntry(nil), settlement.Logs...),
		WalletTransactions: append([]domain.WalletTransaction(nil), settlement.WalletTransactions...),
		Wallet:             settlement.Wallet,
	}, nil
}

func (s *Store) GetReceipt(_ context.Context, receiptID string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receiptsByID[receiptID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneReceipt(receipt)
	return &cloned, nil
}

func (s *Store) ListReceipts(_ context.Context, filter domain.ReceiptFilter) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Receipt, 0)
	for _, receipt := range s.receiptsByID {
		if filter.Scope != "" && receipt.Scope != filter.Scope {
			continue
		}
		if filter.CustomerID != "" && receipt.CustomerID != filter.CustomerID {
			continue
		}
		if !withinRange(receipt.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, cloneReceipt(receipt))
	}
	slices.SortFunc(result, func(a, b domain.Receipt) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		return compareNewestFirst(a.CreatedAt, b.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneSale(sale)
	return &cloned, nil
}

func (s *Store) CommitReturn(_ context.Context, cmd store.ReturnCommand) (*store.ReturnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.returnExistsLocked(cmd.ReturnID) {
		return nil, store.ErrConflict
	}
	item, ok := s.items[cmd.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}

	in := ledger.ReturnInput{
		Command:        cmd,
		Item:           cloneItem(item),
		Receipts:       map[string]domain.Receipt{},
		AppliedReturns: map[string][]domain.SaleReturn{},
	}
	if cmd.CustomerID != "" {
		customer, ok := s.customers[cmd.CustomerID]
		if !ok {
			return nil, store.ErrNotFound
		}
		wallet := s.walletLocked(cmd.CustomerID, cmd.At)
		in.Customer = &customer
		in.Wallet = &wallet
	}
	if cmd.SaleID != "" {
		if _, ok := s.sales[cmd.SaleID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	lineIDs := map[string]bool{}
	for _, sale := range s.sales {
		if sale.Scope != cmd.Scope || sale.CustomerID != cmd.CustomerID {
			continue
		}
		if cmd.SaleID != "" && sale.ID != cmd.SaleID {
			continue
		}
		in.Sales = append(in.Sales, cloneSale(sale))
		if receiptID, ok := s.receiptBySale[sale.ID]; ok {
			in.Receipts[sale.ID] = cloneReceipt(s.receiptsByID[receiptID])
		}
		in.AppliedReturns[sale.ID] = append([]domain.SaleReturn(nil), s.saleReturns[sale.ID]...)
		for _, line := range sale.Lines {
			lineIDs[line.ID] = true
		}
	}
	for _, entry := range s.logs {
		if entry.SaleLineItemID != "" && lineIDs[entry.SaleLineItemID] {
			in.Logs = append(in.Logs, entry)
		}
	}

	plan, err := ledger.PlanReturn(in)
	if err != nil {
		return nil, err
	}
	item, err = ledger.PutStock(item, plan.Quantity, cmd.At)
	if err != nil {
		return nil, err
	}

	for _, sale := range plan.Sales {
		s.sales[sale.ID] = cloneSale(sale)
	}
	for _, receipt := range plan.Receipts {
		s.receiptsByID[receipt.ID] = cloneReceipt(receipt)
	}
	for _, ret := range plan.SaleReturns {
		s.saleReturns[ret.SaleID] = append(s.saleReturns[ret.SaleID], ret)
	}
	for i := range s.logs {
		if status, ok := plan.LogStatus[s.logs[i].ID]; ok {
			s.logs[i].Status = status
		}
	}
	s.logs = append(s.logs, plan.Log)
	s.items[item.ID] = item

	if plan.Wallet != nil {
		s.wallets[plan.Wallet.CustomerID] = *plan.Wallet
	}
	if plan.Refund != nil {
		s.walletTxs = append(s.walletTxs, *plan.Refund)
	}

	sales := make([]domain.Sale, 0, len(plan.Sales))
	for _, sale := range plan.Sales {
		sales = append(sales, cloneSale(sale))
	}
	return &store.ReturnResult{
		ReturnID:       plan.ReturnID,
		Item:           cloneItem(item),
		Quantity:       plan.Quantity,
		RefundAmount:   plan.RefundAmount,
		DiscountAmount: plan.DiscountAmount,
		WalletCredit:   plan.WalletCredit,
		Allocations:    plan.Allocations,
		Log:            plan.Log,
		Sales:          sales,
		Wallet:         plan.Wallet,
		Refund:         plan.Refund,
	}, nil
}

func (s *Store) FindReturn(_ context.Context, returnID string) (*store.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if returnID == "" {
		return nil, store.ErrNotFound
	}
	var record *store.ReturnRecord
	for _, entry := range s.logs {
		if entry.ReturnID == returnID {
			record = &store.ReturnRecord{Log: entry}
			break
		}
	}
	if record == nil {
		return nil, store.ErrNotFound
	}
	for _, returns := range s.saleReturns {
		for _, ret := range returns {
			if ret.ID == returnID {
				record.SaleReturns = append(record.SaleReturns, ret)
			}
		}
	}
	slices.SortFunc(record.SaleReturns, func(a, b domain.SaleReturn) int {
		return cmpString(a.SaleID, b.SaleID)
	})
	for _, entry := range s.walletTxs {
		if entry.Type == domain.WalletTxRefund && entry.Reference == returnID {
			refund := entry
			record.Refund = &refund
			break
		}
	}
	return record, nil
}

func (s *Store) ListDispensingLogs(_ context.Context, filter domain.DispensingLogFilter) ([]domain.DispensingLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DispensingLogEntry, 0)
	for _, entry := range s.logs {
		if filter.Username != "" && entry.Username != filter.Username {
			continue
		}
		if filter.Scope != "" && entry.Scope != filter.Scope {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.ItemID != "" && entry.ItemID != filter.ItemID {
			continue
		}
		if !withinRange(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortStableFunc(result, func(a, b domain.DispensingLogEntry) int {
		return compareNewestFirst(a.CreatedAt, b.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		return compareNewestFirst(a.CreatedAt, b.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	user.Scopes = slices.Clone(user.Scopes)
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		user.Scopes = slices.Clone(user.Scopes)
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) cartLinesFor(username string, scope domain.Scope) []domain.CartLine {
	lines := make([]domain.CartLine, 0)
	for _, line := range s.cartLines {
		if line.Username == username && line.Scope == scope {
			lines = append(lines, line)
		}
	}
	slices.SortFunc(lines, func(a, b domain.CartLine) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return lines
}

// moveStockLocked applies one of the ledger stock moves to a stored item.
func (s *Store) moveStockLocked(itemID string, qty decimal.Decimal, at time.Time, move func(domain.Item, decimal.Decimal, time.Time) (domain.Item, error)) (domain.Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return domain.Item{}, store.ErrNotFound
	}
	moved, err := move(item, qty, at)
	if err != nil {
		return domain.Item{}, err
	}
	s.items[itemID] = moved
	return cloneItem(moved), nil
}

// restockLocked puts reserved quantity back. Cart lines only reference
// existing items, so a failed move is logged rather than surfaced.
func (s *Store) restockLocked(itemID string, qty decimal.Decimal, at time.Time) {
	if _, err := s.moveStockLocked(itemID, qty, at, ledger.PutStock); err != nil {
		logger.L().Warn("[memory-store] restock failed", zap.String("item_id", itemID), zap.Error(err))
	}
}

func (s *Store) walletLocked(customerID string, at time.Time) domain.Wallet {
	wallet, ok := s.wallets[customerID]
	if !ok {
		wallet = domain.Wallet{CustomerID: customerID, Balance: decimal.Zero, UpdatedAt: at.UTC()}
		s.wallets[customerID] = wallet
	}
	return wallet
}

func (s *Store) returnExistsLocked(returnID string) bool {
	for _, entry := range s.logs {
		if entry.ReturnID == returnID {
			return true
		}
	}
	return false
}

func withinRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func compareNewestFirst(a time.Time, b time.Time) int {
	return b.Compare(a)
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneItem(src domain.Item) domain.Item {
	dst := src
	if src.ExpiryDate != nil {
		expiry := *src.ExpiryDate
		dst.ExpiryDate = &expiry
	}
	return dst
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Lines = append([]domain.SaleLineItem(nil), src.Lines...)
	if src.ReturnDate != nil {
		returnDate := *src.ReturnDate
		dst.ReturnDate = &returnDate
	}
	return dst
}

func cloneReceipt(src domain.Receipt) domain.Receipt {
	dst := src
	dst.Payments = append([]domain.PaymentRecord(nil), src.Payments...)
	if src.ReturnDate != nil {
		returnDate := *src.ReturnDate
		dst.ReturnDate = &returnDate
	}
	return dst
}
