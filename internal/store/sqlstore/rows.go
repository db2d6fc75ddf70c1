package sqlstore

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
)

const (
	itemColumns       = `id, scope, name, brand, dosage_form, unit, cost, price, markup_percent, price_overridden, stock, low_stock_threshold, expiry_date, created_at, updated_at`
	cartLineColumns   = `id, username, scope, item_id, item_name, brand, dosage_form, unit, quantity, unit_price, discount_amount, reserved_until, created_at, updated_at`
	customerColumns   = `id, scope, name, phone, address, created_at`
	walletColumns     = `customer_id, balance, updated_at`
	walletTxColumns   = `id, customer_id, type, amount, balance_change, balance_after, description, reference, username, created_at`
	saleColumns       = `id, scope, username, customer_id, total_amount, is_returned, return_amount, return_date, return_processed_by, created_at`
	saleLineColumns   = `id, sale_id, position, item_id, item_name, unit, quantity, unit_price, discount_amount`
	receiptColumns    = `id, sale_id, scope, customer_id, buyer_name, buyer_address, total_amount, total_discount, payment_method, status, wallet_went_negative, username, is_returned, return_amount, return_date, return_processed_by, created_at`
	paymentColumns    = `id, receipt_id, position, amount, method, status, created_at`
	logColumns        = `id, username, scope, item_id, item_name, brand, dosage_form, unit, quantity, amount, discount_amount, status, cart_line_id, sale_id, sale_line_item_id, return_id, created_at`
	saleReturnColumns = `id, sale_id, amount, processed_by, created_at`
	auditColumns      = `id, scope, actor_username, actor_role, action, entity_type, entity_id, detail, created_at`
	userColumns       = `username, password, role, scopes, active, created_at`
)

type itemRow struct {
	ID                string          `db:"id"`
	Scope             string          `db:"scope"`
	Name              string          `db:"name"`
	Brand             string          `db:"brand"`
	DosageForm        string          `db:"dosage_form"`
	Unit              string          `db:"unit"`
	Cost              decimal.Decimal `db:"cost"`
	Price             decimal.Decimal `db:"price"`
	MarkupPercent     decimal.Decimal `db:"markup_percent"`
	PriceOverridden   bool            `db:"price_overridden"`
	Stock             decimal.Decimal `db:"stock"`
	LowStockThreshold decimal.Decimal `db:"low_stock_threshold"`
	ExpiryDate        sql.NullTime    `db:"expiry_date"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r itemRow) toDomain() domain.Item {
	return domain.Item{
		ID:                r.ID,
		Scope:             domain.Scope(r.Scope),
		Name:              r.Name,
		Brand:             r.Brand,
		DosageForm:        r.DosageForm,
		Unit:              r.Unit,
		Cost:              r.Cost,
		Price:             r.Price,
		MarkupPercent:     r.MarkupPercent,
		PriceOverridden:   r.PriceOverridden,
		Stock:             r.Stock,
		LowStockThreshold: r.LowStockThreshold,
		ExpiryDate:        timePtr(r.ExpiryDate),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type cartLineRow struct {
	ID             string          `db:"id"`
	Username       string          `db:"username"`
	Scope          string          `db:"scope"`
	ItemID         string          `db:"item_id"`
	ItemName       string          `db:"item_name"`
	Brand          string          `db:"brand"`
	DosageForm     string          `db:"dosage_form"`
	Unit           string          `db:"unit"`
	Quantity       decimal.Decimal `db:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	ReservedUntil  time.Time       `db:"reserved_until"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (r cartLineRow) toDomain() domain.CartLine {
	return domain.CartLine{
		ID:             r.ID,
		Username:       r.Username,
		Scope:          domain.Scope(r.Scope),
		ItemID:         r.ItemID,
		ItemName:       r.ItemName,
		Brand:          r.Brand,
		DosageForm:     r.DosageForm,
		Unit:           r.Unit,
		Quantity:       r.Quantity,
		UnitPrice:      r.UnitPrice,
		DiscountAmount: r.DiscountAmount,
		ReservedUntil:  r.ReservedUntil.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type customerRow struct {
	ID        string    `db:"id"`
	Scope     string    `db:"scope"`
	Name      string    `db:"name"`
	Phone     string    `db:"phone"`
	Address   string    `db:"address"`
	CreatedAt time.Time `db:"created_at"`
}

func (r customerRow) toDomain() domain.Customer {
	return domain.Customer{
		ID:        r.ID,
		Scope:     domain.Scope(r.Scope),
		Name:      r.Name,
		Phone:     r.Phone,
		Address:   r.Address,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type walletRow struct {
	CustomerID string          `db:"customer_id"`
	Balance    decimal.Decimal `db:"balance"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

func (r walletRow) toDomain() domain.Wallet {
	return domain.Wallet{CustomerID: r.CustomerID, Balance: r.Balance, UpdatedAt: r.UpdatedAt.UTC()}
}

type walletTxRow struct {
	ID            string          `db:"id"`
	CustomerID    string          `db:"customer_id"`
	Type          string          `db:"type"`
	Amount        decimal.Decimal `db:"amount"`
	BalanceChange decimal.Decimal `db:"balance_change"`
	BalanceAfter  decimal.Decimal `db:"balance_after"`
	Description   string          `db:"description"`
	Reference     sql.NullString  `db:"reference"`
	Username      string          `db:"username"`
	CreatedAt     time.Time       `db:"created_at"`
}

func (r walletTxRow) toDomain() domain.WalletTransaction {
	return domain.WalletTransaction{
		ID:            r.ID,
		CustomerID:    r.CustomerID,
		Type:          r.Type,
		Amount:        r.Amount,
		BalanceChange: r.BalanceChange,
		BalanceAfter:  r.BalanceAfter,
		Description:   r.Description,
		Reference:     r.Reference.String,
		Username:      r.Username,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

type saleRow struct {
	ID                string          `db:"id"`
	Scope             string          `db:"scope"`
	Username          string          `db:"username"`
	CustomerID        sql.NullString  `db:"customer_id"`
	TotalAmount       decimal.Decimal `db:"total_amount"`
	IsReturned        bool            `db:"is_returned"`
	ReturnAmount      decimal.Decimal `db:"return_amount"`
	ReturnDate        sql.NullTime    `db:"return_date"`
	ReturnProcessedBy string          `db:"return_processed_by"`
	CreatedAt         time.Time       `db:"created_at"`
}

func (r saleRow) toDomain() domain.Sale {
	return domain.Sale{
		ID:                r.ID,
		Scope:             domain.Scope(r.Scope),
		Username:          r.Username,
		CustomerID:        r.CustomerID.String,
		TotalAmount:       r.TotalAmount,
		IsReturned:        r.IsReturned,
		ReturnAmount:      r.ReturnAmount,
		ReturnDate:        timePtr(r.ReturnDate),
		ReturnProcessedBy: r.ReturnProcessedBy,
		CreatedAt:         r.CreatedAt.UTC(),
	}
}

type saleLineRow struct {
	ID             string          `db:"id"`
	SaleID         string          `db:"sale_id"`
	Position       int             `db:"position"`
	ItemID         string          `db:"item_id"`
	ItemName       string          `db:"item_name"`
	Unit           string          `db:"unit"`
	Quantity       decimal.Decimal `db:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
}

func (r saleLineRow) toDomain() domain.SaleLineItem {
	return domain.SaleLineItem{
		ID:             r.ID,
		SaleID:         r.SaleID,
		ItemID:         r.ItemID,
		ItemName:       r.ItemName,
		Unit:           r.Unit,
		Quantity:       r.Quantity,
		UnitPrice:      r.UnitPrice,
		DiscountAmount: r.DiscountAmount,
	}
}

type receiptRow struct {
	ID                 string          `db:"id"`
	SaleID             string          `db:"sale_id"`
	Scope              string          `db:"scope"`
	CustomerID         sql.NullString  `db:"customer_id"`
	BuyerName          string          `db:"buyer_name"`
	BuyerAddress       string          `db:"buyer_address"`
	TotalAmount        decimal.Decimal `db:"total_amount"`
	TotalDiscount      decimal.Decimal `db:"total_discount"`
	PaymentMethod      string          `db:"payment_method"`
	Status             string          `db:"status"`
	WalletWentNegative bool            `db:"wallet_went_negative"`
	Username           string          `db:"username"`
	IsReturned         bool            `db:"is_returned"`
	ReturnAmount       decimal.Decimal `db:"return_amount"`
	ReturnDate         sql.NullTime    `db:"return_date"`
	ReturnProcessedBy  string          `db:"return_processed_by"`
	CreatedAt          time.Time       `db:"created_at"`
}

func (r receiptRow) toDomain() domain.Receipt {
	return domain.Receipt{
		ID:                 r.ID,
		SaleID:             r.SaleID,
		Scope:              domain.Scope(r.Scope),
		CustomerID:         r.CustomerID.String,
		BuyerName:          r.BuyerName,
		BuyerAddress:       r.BuyerAddress,
		TotalAmount:        r.TotalAmount,
		TotalDiscount:      r.TotalDiscount,
		PaymentMethod:      r.PaymentMethod,
		Status:             r.Status,
		WalletWentNegative: r.WalletWentNegative,
		Username:           r.Username,
		IsReturned:         r.IsReturned,
		ReturnAmount:       r.ReturnAmount,
		ReturnDate:         timePtr(r.ReturnDate),
		ReturnProcessedBy:  r.ReturnProcessedBy,
		CreatedAt:          r.CreatedAt.UTC(),
	}
}

type paymentRow struct {
	ID        string          `db:"id"`
	ReceiptID string          `db:"receipt_id"`
	Position  int             `db:"position"`
	Amount    decimal.Decimal `db:"amount"`
	Method    string          `db:"method"`
	Status    string          `db:"status"`
	CreatedAt time.Time       `db:"created_at"`
}

func (r paymentRow) toDomain() domain.PaymentRecord {
	return domain.PaymentRecord{
		ID:        r.ID,
		ReceiptID: r.ReceiptID,
		Amount:    r.Amount,
		Method:    r.Method,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type logRow struct {
	ID             string          `db:"id"`
	Username       string          `db:"username"`
	Scope          string          `db:"scope"`
	ItemID         string          `db:"item_id"`
	ItemName       string          `db:"item_name"`
	Brand          string          `db:"brand"`
	DosageForm     string          `db:"dosage_form"`
	Unit           string          `db:"unit"`
	Quantity       decimal.Decimal `db:"quantity"`
	Amount         decimal.Decimal `db:"amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	Status         string          `db:"status"`
	CartLineID     sql.NullString  `db:"cart_line_id"`
	SaleID         sql.NullString  `db:"sale_id"`
	SaleLineItemID sql.NullString  `db:"sale_line_item_id"`
	ReturnID       sql.NullString  `db:"return_id"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (r logRow) toDomain() domain.DispensingLogEntry {
	return domain.DispensingLogEntry{
		ID:             r.ID,
		Username:       r.Username,
		Scope:          domain.Scope(r.Scope),
		ItemID:         r.ItemID,
		ItemName:       r.ItemName,
		Brand:          r.Brand,
		DosageForm:     r.DosageForm,
		Unit:           r.Unit,
		Quantity:       r.Quantity,
		Amount:         r.Amount,
		DiscountAmount: r.DiscountAmount,
		Status:         r.Status,
		CartLineID:     r.CartLineID.String,
		SaleID:         r.SaleID.String,
		SaleLineItemID: r.SaleLineItemID.String,
		ReturnID:       r.ReturnID.String,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

type saleReturnRow struct {
	ID          string          `db:"id"`
	SaleID      string          `db:"sale_id"`
	Amount      decimal.Decimal `db:"amount"`
	ProcessedBy string          `db:"processed_by"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (r saleReturnRow) toDomain() domain.SaleReturn {
	return domain.SaleReturn{
		ID:          r.ID,
		SaleID:      r.SaleID,
		Amount:      r.Amount,
		ProcessedBy: r.ProcessedBy,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type auditRow struct {
	ID            string    `db:"id"`
	Scope         string    `db:"scope"`
	ActorUsername string    `db:"actor_username"`
	ActorRole     string    `db:"actor_role"`
	Action        string    `db:"action"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Detail        string    `db:"detail"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r auditRow) toDomain() domain.AuditLog {
	return domain.AuditLog{
		ID:            r.ID,
		Scope:         domain.Scope(r.Scope),
		ActorUsername: r.ActorUsername,
		ActorRole:     r.ActorRole,
		Action:        r.Action,
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		Detail:        r.Detail,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

type userRow struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Scopes    string    `db:"scopes"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) toDomain() domain.UserAccount {
	return domain.UserAccount{
		Username:  r.Username,
		Password:  r.Password,
		Role:      r.Role,
		Scopes:    domain.SplitScopes(r.Scopes),
		Active:    r.Active,
		CreatedAt: r.CreatedAt.UTC(),
	}
}
