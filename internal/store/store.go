package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrInsufficientReturnable = errors.New("insufficient returnable quantity")
	ErrConflict               = errors.New("conflicting update")
)

type Repository interface {
	UserStore
	InventoryStore
	CartStore
	CustomerStore
	SettlementStore
	LogStore
	AuditStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type InventoryStore interface {
	ListItems(ctx context.Context, scope domain.Scope) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	// UpdateItem persists descriptive and pricing fields; stock is untouched.
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DecrementStock(ctx context.Context, itemID string, qty decimal.Decimal) (*domain.Item, error)
	IncrementStock(ctx context.Context, itemID string, qty decimal.Decimal) (*domain.Item, error)
	SetStock(ctx context.Context, itemID string, qty decimal.Decimal) (previous decimal.Decimal, item *domain.Item, err error)
	ZeroExpiredStock(ctx context.Context, asOf time.Time) ([]domain.ExpiredWriteOff, error)
}

type CartStore interface {
	AddCartLine(ctx context.Context, cmd AddCartLineCommand) (*domain.CartLine, error)
	GetCartLine(ctx context.Context, lineID string) (*domain.CartLine, error)
	ListCartLines(ctx context.Context, username string, scope domain.Scope) ([]domain.CartLine, error)
	SetCartLineDiscount(ctx context.Context, lineID string, discount decimal.Decimal, at time.Time) (*domain.CartLine, error)
	RemoveCartQuantity(ctx context.Context, lineID string, qty decimal.Decimal, at time.Time) (RemoveCartResult, error)
	ClearCart(ctx context.Context, cmd ClearCartCommand) (ClearCartResult, error)
	ReleaseExpiredReservations(ctx context.Context, now time.Time) ([]domain.CartLine, error)
}

type CustomerStore interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, scope domain.Scope) ([]domain.Customer, error)
	// ListNegativeWallets returns customers whose wallet is overdrawn, most
	// indebted first.
	ListNegativeWallets(ctx context.Context, scope domain.Scope) ([]domain.CustomerResponse, error)
	// GetWallet creates a zero-balance wallet on first reference.
	GetWallet(ctx context.Context, customerID string) (*domain.Wallet, error)
	ApplyWalletEntry(ctx context.Context, cmd WalletEntryCommand) (*domain.Wallet, *domain.WalletTransaction, error)
	ListWalletTransactions(ctx context.Context, customerID string, limit int) ([]domain.WalletTransaction, error)
}

type SettlementStore interface {
	CommitCheckout(ctx context.Context, cmd CheckoutCommand) (*CheckoutResult, error)
	GetReceipt(ctx context.Context, receiptID string) (*domain.Receipt, error)
	ListReceipts(ctx context.Context, filter domain.ReceiptFilter) ([]domain.Receipt, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	CommitReturn(ctx context.Context, cmd ReturnCommand) (*ReturnResult, error)
	FindReturn(ctx context.Context, returnID string) (*ReturnRecord, error)
}

type LogStore interface {
	ListDispensingLogs(ctx context.Context, filter domain.DispensingLogFilter) ([]domain.DispensingLogEntry, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type AddCartLineCommand struct {
	LineID        string
	Username      string
	Scope         domain.Scope
	ItemID        string
	Unit          string
	Quantity      decimal.Decimal
	PriceOverride *decimal.Decimal
	ReservedUntil time.Time
	At            time.Time
}

// RemoveCartResult reports a cart-line shrink. Dispensing logs are only
// written at checkout, so removing a line never touches them.
type RemoveCartResult struct {
	Line      *domain.CartLine
	Removed   bool
	Restocked decimal.Decimal
}

// ClearCartCommand empties one cart. WalletCustomerID and WalletCredit are set
// when the configured refund policy credits a registered customer.
type ClearCartCommand struct {
	Username         string
	Scope            domain.Scope
	WalletCustomerID string
	RefundPolicy     RefundPolicy
	TransactionID    string
	At               time.Time
}

type ClearCartResult struct {
	Lines        []domain.CartLine
	Restocked    decimal.Decimal
	WalletCredit decimal.Decimal
	Wallet       *domain.Wallet
	Refund       *domain.WalletTransaction
}

// RefundPolicy decides how much of a refund goes back to the customer wallet.
type RefundPolicy interface {
	Name() string
	WalletShare(amount decimal.Decimal, original *domain.Receipt) decimal.Decimal
}

type WalletEntryCommand struct {
	Transaction domain.WalletTransaction
	// Reset sets the balance to zero and derives the entry amount.
	Reset bool
}

// Payment is a resolved tender selection.
type Payment struct {
	Type    string
	Method  string
	Status  string
	Tenders []domain.TenderInput
}

type CheckoutCommand struct {
	Username     string
	Scope        domain.Scope
	CustomerID   string
	Payment      Payment
	BuyerName    string
	BuyerAddress string
	SaleID       string
	ReceiptID    string
	At           time.Time
}

type CheckoutResult struct {
	Sale               domain.Sale
	Receipt            domain.Receipt
	Logs               []domain.DispensingLogEntry
	WalletTransactions []domain.WalletTransaction
	Wallet             *domain.Wallet
}

type ReturnCommand struct {
	ReturnID     string
	Username     string
	Scope        domain.Scope
	CustomerID   string
	SaleID       string
	ItemID       string
	Quantity     decimal.Decimal
	RefundPolicy RefundPolicy
	At           time.Time
}

type ReturnResult struct {
	ReturnID       string
	Item           domain.Item
	Quantity       decimal.Decimal
	RefundAmount   decimal.Decimal
	DiscountAmount decimal.Decimal
	WalletCredit   decimal.Decimal
	Allocations    []domain.ReturnAllocation
	Log            domain.DispensingLogEntry
	Sales          []domain.Sale
	Wallet         *domain.Wallet
	Refund         *domain.WalletTransaction
}

// ReturnRecord is what remains of an applied return operation.
type ReturnRecord struct {
	Log         domain.DispensingLogEntry
	SaleReturns []domain.SaleReturn
	Refund      *domain.WalletTransaction
}
