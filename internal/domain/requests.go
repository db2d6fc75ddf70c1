package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	Role        string  `json:"role"`
	Scopes      []Scope `json:"scopes"`
	ExpiresAt   string  `json:"expires_at"`
}

// OperatorCreateRequest registers a counter operator. Scopes limits them to
// retail or wholesale work; leaving it empty grants both.
type OperatorCreateRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Scopes   []Scope `json:"scopes"`
}

type Operator struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Scopes    []Scope   `json:"scopes"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	Scope             Scope            `json:"scope"`
	Name              string           `json:"name"`
	Brand             string           `json:"brand"`
	DosageForm        string           `json:"dosage_form"`
	Unit              string           `json:"unit"`
	Cost              decimal.Decimal  `json:"cost"`
	MarkupPercent     decimal.Decimal  `json:"markup_percent"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	Stock             decimal.Decimal  `json:"stock"`
	LowStockThreshold decimal.Decimal  `json:"low_stock_threshold"`
	ExpiryDate        string           `json:"expiry_date,omitempty"`
}

type ItemUpdateRequest struct {
	Name              *string          `json:"name,omitempty"`
	Brand             *string          `json:"brand,omitempty"`
	DosageForm        *string          `json:"dosage_form,omitempty"`
	Unit              *string          `json:"unit,omitempty"`
	Cost              *decimal.Decimal `json:"cost,omitempty"`
	MarkupPercent     *decimal.Decimal `json:"markup_percent,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	ResetPrice        bool             `json:"reset_price,omitempty"`
	LowStockThreshold *decimal.Decimal `json:"low_stock_threshold,omitempty"`
	ExpiryDate        *string          `json:"expiry_date,omitempty"`
}

// StockAdjustRequest sets an absolute counted quantity.
type StockAdjustRequest struct {
	CountedStock decimal.Decimal `json:"counted_stock"`
	Reason       string          `json:"reason"`
}

// StockMovementRequest books a relative quantity onto or off the shelf.
type StockMovementRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
}

type StockAdjustResponse struct {
	Item     Item            `json:"item"`
	Previous decimal.Decimal `json:"previous_stock"`
	Delta    decimal.Decimal `json:"delta"`
}

type StockAlertResponse struct {
	AsOf   string       `json:"as_of"`
	Days   int          `json:"days"`
	Alerts []StockAlert `json:"alerts"`
}

type ExpirySweepResponse struct {
	AsOf       string            `json:"as_of"`
	WrittenOff []ExpiredWriteOff `json:"written_off"`
}

type CartAddRequest struct {
	Scope         Scope            `json:"scope"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Unit          string           `json:"unit"`
	PriceOverride *decimal.Decimal `json:"price_override,omitempty"`
}

type CartDiscountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type CartRemoveRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type CartClearRequest struct {
	Scope Scope `json:"scope"`
}

type CartView struct {
	Scope         Scope           `json:"scope"`
	Lines         []CartLine      `json:"lines"`
	ItemsCount    int             `json:"cart_items_count"`
	GrossTotal    decimal.Decimal `json:"gross_total"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

type CartAddResponse struct {
	Line           CartLine        `json:"line"`
	CartItemsCount int             `json:"cart_items_count"`
	TotalPrice     decimal.Decimal `json:"total_price"`
}

type CartRemoveResponse struct {
	Line      *CartLine       `json:"line,omitempty"`
	Removed   bool            `json:"removed"`
	Restocked decimal.Decimal `json:"restocked"`
}

type CartClearResponse struct {
	LinesCleared int                `json:"lines_cleared"`
	Restocked    decimal.Decimal    `json:"restocked"`
	WalletCredit decimal.Decimal    `json:"wallet_credit"`
	Wallet       *Wallet            `json:"wallet,omitempty"`
	Refund       *WalletTransaction `json:"refund,omitempty"`
}

type CheckoutDraftRequest struct {
	Scope         Scope         `json:"scope"`
	CustomerID    string        `json:"customer_id"`
	PaymentType   string        `json:"payment_type"`
	PaymentMethod string        `json:"payment_method"`
	Status        string        `json:"status"`
	Tenders       []TenderInput `json:"tenders"`
	BuyerName     string        `json:"buyer_name"`
	BuyerAddress  string        `json:"buyer_address"`
}

type CheckoutRequest struct {
	DraftID       string        `json:"draft_id"`
	Scope         Scope         `json:"scope"`
	CustomerID    string        `json:"customer_id"`
	PaymentType   string        `json:"payment_type"`
	PaymentMethod string        `json:"payment_method"`
	Status        string        `json:"status"`
	Tenders       []TenderInput `json:"tenders"`
	BuyerName     string        `json:"buyer_name"`
	BuyerAddress  string        `json:"buyer_address"`
}

type CheckoutResponse struct {
	Receipt            Receipt              `json:"receipt"`
	Sale               Sale                 `json:"sale"`
	DispensingLogs     []DispensingLogEntry `json:"dispensing_logs"`
	WalletTransactions []WalletTransaction  `json:"wallet_transactions,omitempty"`
	Wallet             *Wallet              `json:"wallet,omitempty"`
	EffectiveStatus    string               `json:"effective_status"`
	Notices            []string             `json:"notices,omitempty"`
}

type ReturnRequest struct {
	Scope          Scope           `json:"scope"`
	CustomerID     string          `json:"customer_id"`
	SaleID         string          `json:"sale_id"`
	ItemID         string          `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ManagerPIN     string          `json:"manager_pin"`
}

type ReturnAllocation struct {
	SaleID         string          `json:"sale_id"`
	SaleLineItemID string          `json:"sale_line_item_id"`
	ReceiptID      string          `json:"receipt_id,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	Discount       decimal.Decimal `json:"discount"`
	LineRemoved    bool            `json:"line_removed"`
}

type ReturnResponse struct {
	ReturnID       string             `json:"return_id"`
	ItemID         string             `json:"item_id"`
	Quantity       decimal.Decimal    `json:"quantity"`
	RefundAmount   decimal.Decimal    `json:"refund_amount"`
	DiscountAmount decimal.Decimal    `json:"discount_amount"`
	WalletCredit   decimal.Decimal    `json:"wallet_credit"`
	Allocations    []ReturnAllocation `json:"allocations"`
	Log            DispensingLogEntry `json:"log"`
	Wallet         *Wallet            `json:"wallet,omitempty"`
	Refund         *WalletTransaction `json:"refund,omitempty"`
	Policy         string             `json:"refund_policy"`
	Duplicate      bool               `json:"duplicate,omitempty"`
}

type CustomerCreateRequest struct {
	Scope   Scope  `json:"scope"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type CustomerResponse struct {
	Customer Customer `json:"customer"`
	Wallet   Wallet   `json:"wallet"`
}

type WalletDepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type WalletResponse struct {
	Wallet      Wallet            `json:"wallet"`
	Transaction WalletTransaction `json:"transaction"`
}

type ReceiptFilter struct {
	Scope      Scope
	CustomerID string
	From       time.Time
	To         time.Time
	Limit      int
}

type DispensingLogFilter struct {
	Username string
	Scope    Scope
	Status   string
	ItemID   string
	From     time.Time
	To       time.Time
	Limit    int
}

type DailySales struct {
	Date         string          `json:"date"`
	Scope        Scope           `json:"scope,omitempty"`
	DispensedQty decimal.Decimal `json:"dispensed_quantity"`
	Dispensed    decimal.Decimal `json:"dispensed_amount"`
	ReturnedQty  decimal.Decimal `json:"returned_quantity"`
	Returned     decimal.Decimal `json:"returned_amount"`
	Discounts    decimal.Decimal `json:"discount_amount"`
	Net          decimal.Decimal `json:"net_amount"`
	LogEntries   int             `json:"log_entries"`
}

// OperatorSales is one operator's dispensing over a report window. Returns
// count against whoever processed them.
type OperatorSales struct {
	Username  string          `json:"username"`
	Sales     int             `json:"sales"`
	ItemsQty  decimal.Decimal `json:"items_quantity"`
	Dispensed decimal.Decimal `json:"dispensed_amount"`
	Returned  decimal.Decimal `json:"returned_amount"`
	Net       decimal.Decimal `json:"net_amount"`
}

type SalesByUserReport struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Scope     Scope           `json:"scope,omitempty"`
	Operators []OperatorSales `json:"operators"`
}
