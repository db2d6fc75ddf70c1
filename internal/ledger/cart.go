package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

const cartClearedDescription = "Cart cleared - Refund"

// ReserveCartLine validates an add-to-cart against the current item and
// returns the line to persist. When existing is set the quantity is merged and
// the price snapshot refreshed. The caller takes cmd.Quantity with TakeStock.
func ReserveCartLine(existing *domain.CartLine, item domain.Item, cmd store.AddCartLineCommand) (domain.CartLine, error) {
	if cmd.Username == "" || !cmd.Scope.Valid() || item.Scope != cmd.Scope {
		return domain.CartLine{}, store.ErrInvalidTransaction
	}
	if !domain.ValidQuantity(cmd.Quantity) {
		return domain.CartLine{}, store.ErrInvalidTransaction
	}
	if item.Expired(cmd.At) {
		return domain.CartLine{}, store.ErrInvalidTransaction
	}
	if cmd.Quantity.GreaterThan(item.Stock) {
		return domain.CartLine{}, store.ErrInsufficientStock
	}

	price := item.Price
	if cmd.PriceOverride != nil {
		if cmd.PriceOverride.IsNegative() {
			return domain.CartLine{}, store.ErrInvalidTransaction
		}
		price = domain.Money(*cmd.PriceOverride)
	}
	unit := cmd.Unit
	if unit == "" {
		unit = item.Unit
	}

	at := cmd.At.UTC()
	if existing != nil {
		line := *existing
		line.Quantity = domain.Quantity(line.Quantity.Add(cmd.Quantity))
		line.UnitPrice = price
		line.ItemName = item.Name
		line.Brand = item.Brand
		line.DosageForm = item.DosageForm
		line.DiscountAmount = domain.ClampDiscount(line.UnitPrice, line.Quantity, line.DiscountAmount)
		line.ReservedUntil = cmd.ReservedUntil.UTC()
		line.UpdatedAt = at
		return line, nil
	}

	lineID := cmd.LineID
	if lineID == "" {
		lineID = xid.New("cart")
	}
	return domain.CartLine{
		ID:             lineID,
		Username:       cmd.Username,
		Scope:          cmd.Scope,
		ItemID:         item.ID,
		ItemName:       item.Name,
		Brand:          item.Brand,
		DosageForm:     item.DosageForm,
		Unit:           unit,
		Quantity:       domain.Quantity(cmd.Quantity),
		UnitPrice:      price,
		DiscountAmount: decimal.Zero,
		ReservedUntil:  cmd.ReservedUntil.UTC(),
		CreatedAt:      at,
		UpdatedAt:      at,
	}, nil
}

// ShrinkCartLine takes qty off a line. removed reports that nothing is left.
func ShrinkCartLine(line domain.CartLine, qty decimal.Decimal, at time.Time) (domain.CartLine, bool, error) {
	if !domain.ValidQuantity(qty) || qty.GreaterThan(line.Quantity) {
		return domain.CartLine{}, false, store.ErrInvalidTransaction
	}
	line.Quantity = domain.Quantity(line.Quantity.Sub(qty))
	line.UpdatedAt = at.UTC()
	if !line.Quantity.IsPositive() {
		line.Quantity = decimal.Zero
		return line, true, nil
	}
	line.DiscountAmount = domain.ClampDiscount(line.UnitPrice, line.Quantity, line.DiscountAmount)
	return line, false, nil
}

// CartTotals returns the gross, discount and payable totals of a cart.
func CartTotals(lines []domain.CartLine) (gross decimal.Decimal, discount decimal.Decimal, payable decimal.Decimal) {
	gross, discount, payable = decimal.Zero, decimal.Zero, decimal.Zero
	for _, line := range lines {
		gross = gross.Add(line.Gross())
		discount = discount.Add(line.DiscountAmount)
		payable = payable.Add(line.Subtotal())
	}
	return domain.Money(gross), domain.Money(discount), domain.Money(payable)
}

// ClearCartCredit applies the refund policy to a cleared cart. It returns a nil
// transaction when nothing is credited.
func ClearCartCredit(wallet *domain.Wallet, lines []domain.CartLine, policy store.RefundPolicy, txID string, username string, at time.Time) *domain.WalletTransaction {
	if wallet == nil || policy == nil {
		return nil
	}
	_, _, payable := CartTotals(lines)
	credit := policy.WalletShare(payable, nil)
	if !credit.IsPositive() {
		return nil
	}
	refund := CreditWallet(wallet, credit, cartClearedDescription, "", username, at)
	if txID != "" {
		refund.ID = txID
	}
	return &refund
}
