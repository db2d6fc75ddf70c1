package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Scope string

const (
	ScopeRetail    Scope = "retail"
	ScopeWholesale Scope = "wholesale"
)

func (s Scope) Valid() bool {
	return s == ScopeRetail || s == ScopeWholesale
}

// NormalizeScopes lowercases, dedupes and orders a scope grant. It returns
// false when any entry is not a known scope. A grant naming every scope
// collapses to nil, which means unrestricted.
func NormalizeScopes(raw []Scope) ([]Scope, bool) {
	out := make([]Scope, 0, len(raw))
	for _, s := range raw {
		scope := Scope(strings.ToLower(strings.TrimSpace(string(s))))
		if !scope.Valid() {
			return nil, false
		}
		if !slices.Contains(out, scope) {
			out = append(out, scope)
		}
	}
	if len(out) == 0 || len(out) == 2 {
		return nil, true
	}
	return out, true
}

// JoinScopes renders a grant for a single text column.
func JoinScopes(scopes []Scope) string {
	parts := make([]string, 0, len(scopes))
	for _, s := range scopes {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ",")
}

// SplitScopes reverses JoinScopes. Unknown entries are kept so that
// NormalizeScopes can refuse the grant.
func SplitScopes(raw string) []Scope {
	var scopes []Scope
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			scopes = append(scopes, Scope(part))
		}
	}
	return scopes
}

const (
	TenderCash     = "Cash"
	TenderWallet   = "Wallet"
	TenderTransfer = "Transfer"
	MethodSplit    = "Split"
)

const (
	StatusPaid          = "Paid"
	StatusPartiallyPaid = "Partially Paid"
	StatusUnpaid        = "Unpaid"
)

const (
	PaymentTypeSingle = "single"
	PaymentTypeSplit  = "split"
)

const (
	LogStatusDispensed         = "Dispensed"
	LogStatusReturned          = "Returned"
	LogStatusPartiallyReturned = "Partially Returned"
)

const (
	WalletTxDeposit  = "deposit"
	WalletTxPurchase = "purchase"
	WalletTxDebit    = "debit"
	WalletTxRefund   = "refund"
)

type Item struct {
	ID                string          `json:"id"`
	Scope             Scope           `json:"scope"`
	Name              string          `json:"name"`
	Brand             string          `json:"brand"`
	DosageForm        string          `json:"dosage_form"`
	Unit              string          `json:"unit"`
	Cost              decimal.Decimal `json:"cost"`
	Price             decimal.Decimal `json:"price"`
	MarkupPercent     decimal.Decimal `json:"markup_percent"`
	PriceOverridden   bool            `json:"price_overridden"`
	Stock             decimal.Decimal `json:"stock"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (i Item) Expired(asOf time.Time) bool {
	return i.ExpiryDate != nil && i.ExpiryDate.Before(DateOf(asOf))
}

// CartLine is a stock reservation held by one operator's cart until checkout,
// removal or ReservedUntil passes.
type CartLine struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Scope          Scope           `json:"scope"`
	ItemID         string          `json:"item_id"`
	ItemName       string          `json:"item_name"`
	Brand          string          `json:"brand"`
	DosageForm     string          `json:"dosage_form"`
	Unit           string          `json:"unit"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ReservedUntil  time.Time       `json:"reserved_until"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (l CartLine) Gross() decimal.Decimal {
	return Money(l.UnitPrice.Mul(l.Quantity))
}

func (l CartLine) Subtotal() decimal.Decimal {
	return LineSubtotal(l.UnitPrice, l.Quantity, l.DiscountAmount)
}

type Customer struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type Wallet struct {
	CustomerID string          `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// WalletTransaction records one wallet event. BalanceChange is zero for
// informational entries such as a purchase settled in cash.
type WalletTransaction struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceChange decimal.Decimal `json:"balance_change"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	Reference     string          `json:"reference,omitempty"`
	Username      string          `json:"username"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Sale struct {
	ID                string          `json:"id"`
	Scope             Scope           `json:"scope"`
	Username          string          `json:"username"`
	CustomerID        string          `json:"customer_id,omitempty"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	IsReturned        bool            `json:"is_returned"`
	ReturnAmount      decimal.Decimal `json:"return_amount"`
	ReturnDate        *time.Time      `json:"return_date,omitempty"`
	ReturnProcessedBy string          `json:"return_processed_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	Lines             []SaleLineItem  `json:"lines"`
}

// RecomputeTotal re-sums the header from its lines.
func (s *Sale) RecomputeTotal() {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.Subtotal())
	}
	s.TotalAmount = Money(total)
}

type SaleLineItem struct {
	ID             string          `json:"id"`
	SaleID         string          `json:"sale_id"`
	ItemID         string          `json:"item_id"`
	ItemName       string          `json:"item_name"`
	Unit           string          `json:"unit"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

func (l SaleLineItem) Subtotal() decimal.Decimal {
	return LineSubtotal(l.UnitPrice, l.Quantity, l.DiscountAmount)
}

type Receipt struct {
	ID                 string          `json:"receipt_id"`
	SaleID             string          `json:"sale_id"`
	Scope              Scope           `json:"scope"`
	CustomerID         string          `json:"customer_id,omitempty"`
	BuyerName          string          `json:"buyer_name"`
	BuyerAddress       string          `json:"buyer_address"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalDiscount      decimal.Decimal `json:"total_discount"`
	PaymentMethod      string          `json:"payment_method"`
	Status             string          `json:"status"`
	WalletWentNegative bool            `json:"wallet_went_negative"`
	Username           string          `json:"username"`
	IsReturned         bool            `json:"is_returned"`
	ReturnAmount       decimal.Decimal `json:"return_amount"`
	ReturnDate         *time.Time      `json:"return_date,omitempty"`
	ReturnProcessedBy  string          `json:"return_processed_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	Payments           []PaymentRecord `json:"payments,omitempty"`
}

// EffectiveStatus is derived from the payment records for split receipts and
// stored verbatim otherwise.
func (r Receipt) EffectiveStatus() string {
	if r.PaymentMethod != MethodSplit || len(r.Payments) == 0 {
		return r.Status
	}
	return DeriveSplitStatus(r.TotalAmount, r.Payments)
}

// WalletPaid sums the paid wallet portion of the receipt.
func (r Receipt) WalletPaid() decimal.Decimal {
	switch r.PaymentMethod {
	case TenderWallet:
		return r.TotalAmount
	case MethodSplit:
		total := decimal.Zero
		for _, p := range r.Payments {
			if p.Method == TenderWallet {
				total = total.Add(p.Amount)
			}
		}
		return total
	default:
		return decimal.Zero
	}
}

type PaymentRecord struct {
	ID        string          `json:"id"`
	ReceiptID string          `json:"receipt_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"payment_method"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type DispensingLogEntry struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Scope          Scope           `json:"scope"`
	ItemID         string          `json:"item_id"`
	ItemName       string          `json:"item_name"`
	Brand          string          `json:"brand"`
	DosageForm     string          `json:"dosage_form"`
	Unit           string          `json:"unit"`
	Quantity       decimal.Decimal `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Status         string          `json:"status"`
	CartLineID     string          `json:"cart_line_id,omitempty"`
	SaleID         string          `json:"sale_id,omitempty"`
	SaleLineItemID string          `json:"sale_line_item_id,omitempty"`
	ReturnID       string          `json:"return_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SaleReturn is one return operation applied to one sale.
type SaleReturn struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	Amount      decimal.Decimal `json:"amount"`
	ProcessedBy string          `json:"processed_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

type TenderInput struct {
	Method string          `json:"payment_method"`
	Amount decimal.Decimal `json:"amount"`
}

// CheckoutDraft carries the selections made before the receipt is generated.
type CheckoutDraft struct {
	ID            string        `json:"id"`
	Username      string        `json:"username"`
	Scope         Scope         `json:"scope"`
	CustomerID    string        `json:"customer_id,omitempty"`
	PaymentType   string        `json:"payment_type"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	Status        string        `json:"status,omitempty"`
	Tenders       []TenderInput `json:"tenders,omitempty"`
	BuyerName     string        `json:"buyer_name,omitempty"`
	BuyerAddress  string        `json:"buyer_address,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

type StockAlert struct {
	ItemID     string          `json:"item_id"`
	Name       string          `json:"name"`
	Scope      Scope           `json:"scope"`
	Kind       string          `json:"kind"`
	Severity   string          `json:"severity"`
	Stock      decimal.Decimal `json:"stock"`
	Threshold  decimal.Decimal `json:"threshold"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
	DaysLeft   int             `json:"days_left"`
}

const (
	AlertKindExpired  = "expired"
	AlertKindExpiring = "expiring"
	AlertKindLowStock = "low_stock"
)

// ExpiredWriteOff records stock zeroed by the expiry sweep.
type ExpiredWriteOff struct {
	ItemID     string          `json:"item_id"`
	Name       string          `json:"name"`
	Scope      Scope           `json:"scope"`
	Quantity   decimal.Decimal `json:"quantity"`
	ExpiryDate time.Time       `json:"expiry_date"`
}

type Actor struct {
	Username string
	Role     string
	// Scopes restricts the operator to part of the pharmacy. Empty means
	// both retail and wholesale.
	Scopes []Scope
}

// CanOperate reports whether the actor may work carts, drafts, checkouts,
// returns and customers in scope. Admins are never restricted.
func (a Actor) CanOperate(scope Scope) bool {
	if a.Role == "admin" || len(a.Scopes) == 0 {
		return true
	}
	return slices.Contains(a.Scopes, scope)
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Scopes    []Scope
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	Scope         Scope     `json:"scope"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
