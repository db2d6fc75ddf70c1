package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

func (s *Store) ListItems(ctx context.Context, scope domain.Scope) ([]domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	args := []any{}
	if scope != "" {
		query += ` WHERE scope = ?`
		args = append(args, string(scope))
	}
	query += ` ORDER BY name ASC, id ASC`

	var rows []itemRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.q(query), args...); err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := s.getItem(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || !item.Scope.Valid() || item.Stock.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.UpdatedAt = item.CreatedAt

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		item.ID, string(item.Scope), item.Name, item.Brand, item.DosageForm, item.Unit,
		item.Cost, item.Price, item.MarkupPercent, item.PriceOverridden,
		item.Stock, item.LowStockThreshold, nullTime(item.ExpiryDate),
		item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	var updated domain.Item
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.getItem(ctx, tx, item.ID, true)
		if err != nil {
			return err
		}
		item.Scope = existing.Scope
		item.Stock = existing.Stock
		item.CreatedAt = existing.CreatedAt
		item.UpdatedAt = time.Now().UTC()

		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE items
			SET name = ?, brand = ?, dosage_form = ?, unit = ?, cost = ?, price = ?,
				markup_percent = ?, price_overridden = ?, low_stock_threshold = ?,
				expiry_date = ?, updated_at = ?
			WHERE id = ?
		`),
			item.Name, item.Brand, item.DosageForm, item.Unit, item.Cost, item.Price,
			item.MarkupPercent, item.PriceOverridden, item.LowStockThreshold,
			nullTime(item.ExpiryDate), item.UpdatedAt, item.ID,
		); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DecrementStock(ctx context.Context, itemID string, qty decimal.Decimal) (*domain.Item, error) {
	return s.moveStockTx(ctx, itemID, qty, ledger.TakeStock)
}

func (s *Store) IncrementStock(ctx context.Context, itemID string, qty decimal.Decimal) (*domain.Item, error) {
	return s.moveStockTx(ctx, itemID, qty, ledger.PutStock)
}

func (s *Store) moveStockTx(ctx context.Context, itemID string, qty decimal.Decimal, move stockMove) (*domain.Item, error) {
	var moved domain.Item
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		moved, err = s.moveStock(ctx, tx, itemID, qty, time.Now(), move)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

func (s *Store) SetStock(ctx context.Context, itemID string, qty decimal.Decimal) (decimal.Decimal, *domain.Item, error) {
	if qty.IsNegative() || !qty.Equal(domain.Quantity(qty)) {
		return decimal.Zero, nil, store.ErrInvalidTransaction
	}
	previous := decimal.Zero
	item, err := s.adjustStock(ctx, itemID, func(item domain.Item) (decimal.Decimal, error) {
		previous = item.Stock
		return qty, nil
	})
	if err != nil {
		return decimal.Zero, nil, err
	}
	return previous, item, nil
}

func (s *Store) ZeroExpiredStock(ctx context.Context, asOf time.Time) ([]domain.ExpiredWriteOff, error) {
	writeOffs := make([]domain.ExpiredWriteOff, 0)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var rows []itemRow
		if err := sqlx.SelectContext(ctx, tx, &rows, s.q(`
			SELECT `+itemColumns+` FROM items
			WHERE expiry_date IS NOT NULL
			ORDER BY id ASC`+s.forUpdate()),
		); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, row := range rows {
			item := row.toDomain()
			if !item.Expired(asOf) || !item.Stock.IsPositive() {
				continue
			}
			if err := s.writeStock(ctx, tx, item.ID, decimal.Zero, now); err != nil {
				return err
			}
			writeOffs = append(writeOffs, domain.ExpiredWriteOff{
				ItemID:     item.ID,
				Name:       item.Name,
				Scope:      item.Scope,
				Quantity:   item.Stock,
				ExpiryDate: *item.ExpiryDate,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return writeOffs, nil
}

// adjustStock locks the item row and writes the stock level next returns.
func (s *Store) adjustStock(ctx context.Context, itemID string, next func(domain.Item) (decimal.Decimal, error)) (*domain.Item, error) {
	var updated domain.Item
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		item, err := s.getItem(ctx, tx, itemID, true)
		if err != nil {
			return err
		}
		stock, err := next(item)
		if err != nil {
			return err
		}
		item.Stock = stock
		item.UpdatedAt = time.Now().UTC()
		if err := s.writeStock(ctx, tx, item.ID, item.Stock, item.UpdatedAt); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) getItem(ctx context.Context, ext sqlx.ExtContext, id string, lock bool) (domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ?`
	if lock {
		query += s.forUpdate()
	}
	var row itemRow
	if err := sqlx.GetContext(ctx, ext, &row, s.q(query), id); err != nil {
		return domain.Item{}, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) writeStock(ctx context.Context, tx *sqlx.Tx, itemID string, stock decimal.Decimal, at time.Time) error {
	_, err := tx.ExecContext(ctx, s.q(`UPDATE items SET stock = ?, updated_at = ? WHERE id = ?`), stock, at.UTC(), itemID)
	return err
}

type stockMove func(domain.Item, decimal.Decimal, time.Time) (domain.Item, error)

// moveStock locks the item row inside an open transaction and applies one of
// the ledger stock moves to it.
func (s *Store) moveStock(ctx context.Context, tx *sqlx.Tx, itemID string, qty decimal.Decimal, at time.Time, move stockMove) (domain.Item, error) {
	item, err := s.getItem(ctx, tx, itemID, true)
	if err != nil {
		return domain.Item{}, err
	}
	moved, err := move(item, qty, at)
	if err != nil {
		return domain.Item{}, err
	}
	if err := s.writeStock(ctx, tx, moved.ID, moved.Stock, moved.UpdatedAt); err != nil {
		return domain.Item{}, err
	}
	return moved, nil
}

// restock puts reserved quantity back inside an open transaction.
func (s *Store) restock(ctx context.Context, tx *sqlx.Tx, itemID string, qty decimal.Decimal, at time.Time) error {
	_, err := s.moveStock(ctx, tx, itemID, qty, at, ledger.PutStock)
	return err
}
