package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/store"
)

func (s *Store) AddCartLine(ctx context.Context, cmd store.AddCartLineCommand) (*domain.CartLine, error) {
	var saved domain.CartLine
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		item, err := s.getItem(ctx, tx, cmd.ItemID, true)
		if err != nil {
			return err
		}
		if cmd.Unit == "" {
			cmd.Unit = item.Unit
		}

		var existing *domain.CartLine
		var row cartLineRow
		err = sqlx.GetContext(ctx, tx, &row, s.q(`
			SELECT `+cartLineColumns+` FROM cart_lines
			WHERE username = ? AND scope = ? AND item_id = ? AND unit = ?`+s.forUpdate()),
			cmd.Username, string(cmd.Scope), cmd.ItemID, cmd.Unit,
		)
		switch err = notFound(err); {
		case err == nil:
			found := row.toDomain()
			existing = &found
		case err != store.ErrNotFound:
			return err
		}

		line, err := ledger.ReserveCartLine(existing, item, cmd)
		if err != nil {
			return err
		}
		taken, err := ledger.TakeStock(item, cmd.Quantity, line.UpdatedAt)
		if err != nil {
			return err
		}
		if err := s.writeStock(ctx, tx, taken.ID, taken.Stock, taken.UpdatedAt); err != nil {
			return err
		}
		if existing != nil {
			err = s.updateCartLine(ctx, tx, line)
		} else {
			err = s.insertCartLine(ctx, tx, line)
		}
		if err != nil {
			return err
		}
		saved = line
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *Store) GetCartLine(ctx context.Context, lineID string) (*domain.CartLine, error) {
	line, err := s.getCartLine(ctx, s.db, lineID, false)
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (s *Store) ListCartLines(ctx context.Context, username string, scope domain.Scope) ([]domain.CartLine, error) {
	return s.cartLinesFor(ctx, s.db, username, scope, false)
}

func (s *Store) SetCartLineDiscount(ctx context.Context, lineID string, discount decimal.Decimal, at time.Time) (*domain.CartLine, error) {
	var updated domain.CartLine
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		line, err := s.getCartLine(ctx, tx, lineID, true)
		if err != nil {
			return err
		}
		line.DiscountAmount = domain.ClampDiscount(line.UnitPrice, line.Quantity, discount)
		line.UpdatedAt = at.UTC()
		if err := s.updateCartLine(ctx, tx, line); err != nil {
			return err
		}
		updated = line
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) RemoveCartQuantity(ctx context.Context, lineID string, qty decimal.Decimal, at time.Time) (store.RemoveCartResult, error) {
	var result store.RemoveCartResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		line, err := s.getCartLine(ctx, tx, lineID, true)
		if err != nil {
			return err
		}
		updated, removed, err := ledger.ShrinkCartLine(line, qty, at)
		if err != nil {
			return err
		}
		if err := s.restock(ctx, tx, line.ItemID, qty, at); err != nil {
			return err
		}

		result = store.RemoveCartResult{Removed: removed, Restocked: qty}
		if removed {
			return s.deleteCartLines(ctx, tx, []string{lineID})
		}
		if err := s.updateCartLine(ctx, tx, updated); err != nil {
			return err
		}
		result.Line = &updated
		return nil
	})
	if err != nil {
		return store.RemoveCartResult{}, err
	}
	return result, nil
}

func (s *Store) ClearCart(ctx context.Context, cmd store.ClearCartCommand) (store.ClearCartResult, error) {
	at := cmd.At.UTC()
	var result store.ClearCartResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var wallet *domain.Wallet
		if cmd.WalletCustomerID != "" {
			if _, err := s.getCustomer(ctx, tx, cmd.WalletCustomerID); err != nil {
				return err
			}
			w, err := s.lockWallet(ctx, tx, cmd.WalletCustomerID, at)
			if err != nil {
				return err
			}
			wallet = &w
		}

		lines, err := s.cartLinesFor(ctx, tx, cmd.Username, cmd.Scope, true)
		if err != nil {
			return err
		}
		result = store.ClearCartResult{Lines: lines, Restocked: decimal.Zero, WalletCredit: decimal.Zero}
		ids := make([]string, 0, len(lines))
		for _, line := range lines {
			if err := s.restock(ctx, tx, line.ItemID, line.Quantity, at); err != nil {
				return err
			}
			result.Restocked = result.Restocked.Add(line.Quantity)
			ids = append(ids, line.ID)
		}
		if err := s.deleteCartLines(ctx, tx, ids); err != nil {
			return err
		}

		if refund := ledger.ClearCartCredit(wallet, lines, cmd.RefundPolicy, cmd.TransactionID, cmd.Username, at); refund != nil {
			if err := s.saveWallet(ctx, tx, *wallet); err != nil {
				return err
			}
			if err := s.insertWalletTransaction(ctx, tx, *refund); err != nil {
				return err
			}
			result.WalletCredit = refund.Amount
			result.Refund = refund
		}
		result.Wallet = wallet
		return nil
	})
	if err != nil {
		return store.ClearCartResult{}, err
	}
	return result, nil
}

func (s *Store) ReleaseExpiredReservations(ctx context.Context, now time.Time) ([]domain.CartLine, error) {
	released := make([]domain.CartLine, 0)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var rows []cartLineRow
		if err := sqlx.SelectContext(ctx, tx, &rows, s.q(`
			SELECT `+cartLineColumns+` FROM cart_lines
			WHERE reserved_until <= ?
			ORDER BY id ASC`+s.forUpdate()),
			now.UTC(),
		); err != nil {
			return err
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			line := row.toDomain()
			if err := s.restock(ctx, tx, line.ItemID, line.Quantity, now); err != nil {
				return err
			}
			ids = append(ids, line.ID)
			released = append(released, line)
		}
		return s.deleteCartLines(ctx, tx, ids)
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (s *Store) getCartLine(ctx context.Context, ext sqlx.ExtContext, lineID string, lock bool) (domain.CartLine, error) {
	query := `SELECT ` + cartLineColumns + ` FROM cart_lines WHERE id = ?`
	if lock {
		query += s.forUpdate()
	}
	var row cartLineRow
	if err := sqlx.GetContext(ctx, ext, &row, s.q(query), lineID); err != nil {
		return domain.CartLine{}, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) cartLinesFor(ctx context.Context, ext sqlx.ExtContext, username string, scope domain.Scope, lock bool) ([]domain.CartLine, error) {
	query := `SELECT ` + cartLineColumns + ` FROM cart_lines
		WHERE username = ? AND scope = ?
		ORDER BY created_at ASC, id ASC`
	if lock {
		query += s.forUpdate()
	}
	var rows []cartLineRow
	if err := sqlx.SelectContext(ctx, ext, &rows, s.q(query), username, string(scope)); err != nil {
		return nil, err
	}
	lines := make([]domain.CartLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, row.toDomain())
	}
	return lines, nil
}

func (s *Store) insertCartLine(ctx context.Context, tx *sqlx.Tx, line domain.CartLine) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO cart_lines (`+cartLineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		line.ID, line.Username, string(line.Scope), line.ItemID, line.ItemName, line.Brand,
		line.DosageForm, line.Unit, line.Quantity, line.UnitPrice, line.DiscountAmount,
		line.ReservedUntil.UTC(), line.CreatedAt.UTC(), line.UpdatedAt.UTC(),
	)
	return err
}

func (s *Store) updateCartLine(ctx context.Context, tx *sqlx.Tx, line domain.CartLine) error {
	_, err := tx.ExecContext(ctx, s.q(`
		UPDATE cart_lines
		SET item_name = ?, brand = ?, dosage_form = ?, quantity = ?, unit_price = ?,
			discount_amount = ?, reserved_until = ?, updated_at = ?
		WHERE id = ?
	`),
		line.ItemName, line.Brand, line.DosageForm, line.Quantity, line.UnitPrice,
		line.DiscountAmount, line.ReservedUntil.UTC(), line.UpdatedAt.UTC(), line.ID,
	)
	return err
}

func (s *Store) deleteCartLines(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, s.q(`DELETE FROM cart_lines WHERE id IN `+inClause(len(ids))), stringArgs(ids)...)
	return err
}
