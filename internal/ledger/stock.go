package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
)

// TakeStock removes qty from the item. Stock never drops below zero; asking
// for more than is on hand fails with ErrInsufficientStock.
func TakeStock(item domain.Item, qty decimal.Decimal, at time.Time) (domain.Item, error) {
	if !domain.ValidQuantity(qty) {
		return item, store.ErrInvalidTransaction
	}
	if qty.GreaterThan(item.Stock) {
		return item, store.ErrInsufficientStock
	}
	item.Stock = domain.Quantity(item.Stock.Sub(qty))
	item.UpdatedAt = at.UTC()
	return item, nil
}

// PutStock adds qty to the item, for released reservations, returns and
// deliveries.
func PutStock(item domain.Item, qty decimal.Decimal, at time.Time) (domain.Item, error) {
	if !domain.ValidQuantity(qty) {
		return item, store.ErrInvalidTransaction
	}
	item.Stock = domain.Quantity(item.Stock.Add(qty))
	item.UpdatedAt = at.UTC()
	return item, nil
}
