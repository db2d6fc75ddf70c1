package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/store"
)

func (s *Store) CommitCheckout(ctx context.Context, cmd store.CheckoutCommand) (*store.CheckoutResult, error) {
	var result store.CheckoutResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		taken, err := s.exists(ctx, tx, `SELECT 1 FROM receipts WHERE id = ? OR sale_id = ?`, cmd.ReceiptID, cmd.SaleID)
		if err != nil {
			return err
		}
		if !taken {
			taken, err = s.exists(ctx, tx, `SELECT 1 FROM sales WHERE id = ?`, cmd.SaleID)
			if err != nil {
				return err
			}
		}
		if taken {
			return store.ErrConflict
		}

		lines, err := s.cartLinesFor(ctx, tx, cmd.Username, cmd.Scope, true)
		if err != nil {
			return err
		}
		in := ledger.SettlementInput{Command: cmd, Lines: lines}
		if cmd.CustomerID != "" {
			customer, err := s.getCustomer(ctx, tx, cmd.CustomerID)
			if err != nil {
				return err
			}
			wallet, err := s.lockWallet(ctx, tx, cmd.CustomerID, cmd.At)
			if err != nil {
				return err
			}
			in.Customer = &customer
			in.Wallet = &wallet
		}

		settlement, err := ledger.BuildSettlement(in)
		if err != nil {
			return err
		}

		if err := s.insertSale(ctx, tx, settlement.Sale); err != nil {
			return err
		}
		if err := s.insertReceipt(ctx, tx, settlement.Receipt); err != nil {
			return err
		}
		for _, entry := range settlement.Logs {
			if err := s.insertLog(ctx, tx, entry); err != nil {
				return err
			}
		}
		if settlement.Wallet != nil {
			if err := s.saveWallet(ctx, tx, *settlement.Wallet); err != nil {
				return err
			}
		}
		for _, entry := range settlement.WalletTransactions {
			if err := s.insertWalletTransaction(ctx, tx, entry); err != nil {
				return err
			}
		}
		if err := s.deleteCartLines(ctx, tx, settlement.ConsumedLineIDs); err != nil {
			return err
		}

		result = store.CheckoutResult{
			Sale:               settlement.Sale,
			Receipt:            settlement.Receipt,
			Logs:               settlement.Logs,
			WalletTransactions: settlement.WalletTransactions,
			Wallet:             settlement.Wallet,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) GetReceipt(ctx context.Context, receiptID string) (*domain.Receipt, error) {
	var row receiptRow
	if err := sqlx.GetContext(ctx, s.db, &row, s.q(`SELECT `+receiptColumns+` FROM receipts WHERE id = ?`), receiptID); err != nil {
		return nil, notFound(err)
	}
	receipts, err := s.attachPayments(ctx, s.db, []receiptRow{row})
	if err != nil {
		return nil, err
	}
	return &receipts[0], nil
}

func (s *Store) ListReceipts(ctx context.Context, filter domain.ReceiptFilter) ([]domain.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE 1 = 1`
	args := []any{}
	if filter.Scope != "" {
		query += ` AND scope = ?`
		args = append(args, string(filter.Scope))
	}
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.To.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []receiptRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.q(query), args...); err != nil {
		return nil, err
	}
	return s.attachPayments(ctx, s.db, rows)
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	var row saleRow
	if err := sqlx.GetContext(ctx, s.db, &row, s.q(`SELECT `+saleColumns+` FROM sales WHERE id = ?`), saleID); err != nil {
		return nil, notFound(err)
	}
	sales, err := s.attachLines(ctx, s.db, []saleRow{row})
	if err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) CommitReturn(ctx context.Context, cmd store.ReturnCommand) (*store.ReturnResult, error) {
	var result store.ReturnResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		taken, err := s.exists(ctx, tx, `SELECT 1 FROM dispensing_logs WHERE return_id = ?`, cmd.ReturnID)
		if err != nil {
			return err
		}
		if taken {
			return store.ErrConflict
		}

		item, err := s.getItem(ctx, tx, cmd.ItemID, true)
		if err != nil {
			return err
		}
		in := ledger.ReturnInput{
			Command:        cmd,
			Item:           item,
			Receipts:       map[string]domain.Receipt{},
			AppliedReturns: map[string][]domain.SaleReturn{},
		}
		if cmd.CustomerID != "" {
			customer, err := s.getCustomer(ctx, tx, cmd.CustomerID)
			if err != nil {
				return err
			}
			wallet, err := s.lockWallet(ctx, tx, cmd.CustomerID, cmd.At)
			if err != nil {
				return err
			}
			in.Customer = &customer
			in.Wallet = &wallet
		}
		if cmd.SaleID != "" {
			found, err := s.exists(ctx, tx, `SELECT 1 FROM sales WHERE id = ?`, cmd.SaleID)
			if err != nil {
				return err
			}
			if !found {
				return store.ErrNotFound
			}
		}

		if err := s.loadReturnCandidates(ctx, tx, cmd, &in); err != nil {
			return err
		}

		plan, err := ledger.PlanReturn(in)
		if err != nil {
			return err
		}
		if err := s.persistReturn(ctx, tx, plan); err != nil {
			return err
		}

		item, err = ledger.PutStock(item, plan.Quantity, cmd.At)
		if err != nil {
			return err
		}
		if err := s.writeStock(ctx, tx, item.ID, item.Stock, item.UpdatedAt); err != nil {
			return err
		}

		result = store.ReturnResult{
			ReturnID:       plan.ReturnID,
			Item:           item,
			Quantity:       plan.Quantity,
			RefundAmount:   plan.RefundAmount,
			DiscountAmount: plan.DiscountAmount,
			WalletCredit:   plan.WalletCredit,
			Allocations:    plan.Allocations,
			Log:            plan.Log,
			Sales:          plan.Sales,
			Wallet:         plan.Wallet,
			Refund:         plan.Refund,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) FindReturn(ctx context.Context, returnID string) (*store.ReturnRecord, error) {
	if returnID == "" {
		return nil, store.ErrNotFound
	}

	var logEntry logRow
	if err := sqlx.GetContext(ctx, s.db, &logEntry, s.q(`SELECT `+logColumns+` FROM dispensing_logs WHERE return_id = ?`), returnID); err != nil {
		return nil, notFound(err)
	}
	record := &store.ReturnRecord{Log: logEntry.toDomain()}

	var returns []saleReturnRow
	if err := sqlx.SelectContext(ctx, s.db, &returns, s.q(`
		SELECT `+saleReturnColumns+` FROM sale_returns
		WHERE id = ?
		ORDER BY sale_id ASC`),
		returnID,
	); err != nil {
		return nil, err
	}
	for _, row := range returns {
		record.SaleReturns = append(record.SaleReturns, row.toDomain())
	}

	var refund walletTxRow
	err := sqlx.GetContext(ctx, s.db, &refund, s.q(`
		SELECT `+walletTxColumns+` FROM wallet_transactions
		WHERE type = ? AND reference = ?
		LIMIT 1`),
		domain.WalletTxRefund, returnID,
	)
	switch {
	case err == nil:
		entry := refund.toDomain()
		record.Refund = &entry
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}
	return record, nil
}

// loadReturnCandidates reads every sale of the customer (or the named sale)
// that still holds the item, together with receipts, applied returns and the
// dispensing logs of their lines.
func (s *Store) loadReturnCandidates(ctx context.Context, tx *sqlx.Tx, cmd store.ReturnCommand, in *ledger.ReturnInput) error {
	query := `SELECT ` + saleColumns + ` FROM sales
		WHERE scope = ? AND COALESCE(customer_id, '') = ?
		AND id IN (SELECT sale_id FROM sale_line_items WHERE item_id = ?)`
	args := []any{string(cmd.Scope), cmd.CustomerID, cmd.ItemID}
	if cmd.SaleID != "" {
		query += ` AND id = ?`
		args = append(args, cmd.SaleID)
	}
	query += ` ORDER BY created_at DESC, id DESC` + s.forUpdate()

	var saleRows []saleRow
	if err := sqlx.SelectContext(ctx, tx, &saleRows, s.q(query), args...); err != nil {
		return err
	}
	if len(saleRows) == 0 {
		return nil
	}
	sales, err := s.attachLines(ctx, tx, saleRows)
	if err != nil {
		return err
	}
	in.Sales = sales

	saleIDs := make([]string, 0, len(sales))
	lineIDs := make([]string, 0)
	for _, sale := range sales {
		saleIDs = append(saleIDs, sale.ID)
		for _, line := range sale.Lines {
			lineIDs = append(lineIDs, line.ID)
		}
	}

	var receiptRows []receiptRow
	if err := sqlx.SelectContext(ctx, tx, &receiptRows, s.q(`
		SELECT `+receiptColumns+` FROM receipts
		WHERE sale_id IN `+inClause(len(saleIDs))+s.forUpdate()),
		stringArgs(saleIDs)...,
	); err != nil {
		return err
	}
	receipts, err := s.attachPayments(ctx, tx, receiptRows)
	if err != nil {
		return err
	}
	for _, receipt := range receipts {
		in.Receipts[receipt.SaleID] = receipt
	}

	var returnRows []saleReturnRow
	if err := sqlx.SelectContext(ctx, tx, &returnRows, s.q(`
		SELECT `+saleReturnColumns+` FROM sale_returns
		WHERE sale_id IN `+inClause(len(saleIDs))),
		stringArgs(saleIDs)...,
	); err != nil {
		return err
	}
	for _, row := range returnRows {
		in.AppliedReturns[row.SaleID] = append(in.AppliedReturns[row.SaleID], row.toDomain())
	}

	if len(lineIDs) == 0 {
		return nil
	}
	var logRows []logRow
	if err := sqlx.SelectContext(ctx, tx, &logRows, s.q(`
		SELECT `+logColumns+` FROM dispensing_logs
		WHERE sale_line_item_id IN `+inClause(len(lineIDs))+s.forUpdate()),
		stringArgs(lineIDs)...,
	); err != nil {
		return err
	}
	for _, row := range logRows {
		in.Logs = append(in.Logs, row.toDomain())
	}
	return nil
}

func (s *Store) persistReturn(ctx context.Context, tx *sqlx.Tx, plan ledger.ReturnPlan) error {
	for _, sale := range plan.Sales {
		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE sales
			SET total_amount = ?, is_returned = ?, return_amount = ?, return_date = ?, return_processed_by = ?
			WHERE id = ?
		`),
			sale.TotalAmount, sale.IsReturned, sale.ReturnAmount, nullTime(sale.ReturnDate), sale.ReturnProcessedBy, sale.ID,
		); err != nil {
			return err
		}
		for _, line := range sale.Lines {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE sale_line_items SET quantity = ?, discount_amount = ? WHERE id = ?`),
				line.Quantity, line.DiscountAmount, line.ID,
			); err != nil {
				return err
			}
		}
	}
	if len(plan.DeletedLineIDs) > 0 {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM sale_line_items WHERE id IN `+inClause(len(plan.DeletedLineIDs))),
			stringArgs(plan.DeletedLineIDs)...,
		); err != nil {
			return err
		}
	}
	for _, receipt := range plan.Receipts {
		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE receipts
			SET is_returned = ?, return_amount = ?, return_date = ?, return_processed_by = ?
			WHERE id = ?
		`),
			receipt.IsReturned, receipt.ReturnAmount, nullTime(receipt.ReturnDate), receipt.ReturnProcessedBy, receipt.ID,
		); err != nil {
			return err
		}
	}
	for _, ret := range plan.SaleReturns {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO sale_returns (`+saleReturnColumns+`)
			VALUES (?, ?, ?, ?, ?)
		`), ret.ID, ret.SaleID, ret.Amount, ret.ProcessedBy, ret.CreatedAt.UTC()); err != nil {
			return err
		}
	}
	for logID, status := range plan.LogStatus {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE dispensing_logs SET status = ? WHERE id = ?`), status, logID); err != nil {
			return err
		}
	}
	if err := s.insertLog(ctx, tx, plan.Log); err != nil {
		return err
	}
	if plan.Wallet != nil {
		if err := s.saveWallet(ctx, tx, *plan.Wallet); err != nil {
			return err
		}
	}
	if plan.Refund != nil {
		if err := s.insertWalletTransaction(ctx, tx, *plan.Refund); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertSale(ctx context.Context, tx *sqlx.Tx, sale domain.Sale) error {
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		sale.ID, string(sale.Scope), sale.Username, nullIfEmpty(sale.CustomerID), sale.TotalAmount,
		sale.IsReturned, sale.ReturnAmount, nullTime(sale.ReturnDate), sale.ReturnProcessedBy, sale.CreatedAt.UTC(),
	); err != nil {
		return err
	}
	for i, line := range sale.Lines {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO sale_line_items (`+saleLineColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			line.ID, sale.ID, i, line.ItemID, line.ItemName, line.Unit, line.Quantity, line.UnitPrice, line.DiscountAmount,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertReceipt(ctx context.Context, tx *sqlx.Tx, receipt domain.Receipt) error {
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		receipt.ID, receipt.SaleID, string(receipt.Scope), nullIfEmpty(receipt.CustomerID),
		receipt.BuyerName, receipt.BuyerAddress, receipt.TotalAmount, receipt.TotalDiscount,
		receipt.PaymentMethod, receipt.Status, receipt.WalletWentNegative, receipt.Username,
		receipt.IsReturned, receipt.ReturnAmount, nullTime(receipt.ReturnDate), receipt.ReturnProcessedBy,
		receipt.CreatedAt.UTC(),
	); err != nil {
		return err
	}
	for i, payment := range receipt.Payments {
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO payment_records (`+paymentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`),
			payment.ID, receipt.ID, i, payment.Amount, payment.Method, payment.Status, payment.CreatedAt.UTC(),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) attachLines(ctx context.Context, ext sqlx.ExtContext, rows []saleRow) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, len(rows))
	if len(rows) == 0 {
		return sales, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var lineRows []saleLineRow
	if err := sqlx.SelectContext(ctx, ext, &lineRows, s.q(`
		SELECT `+saleLineColumns+` FROM sale_line_items
		WHERE sale_id IN `+inClause(len(ids))+`
		ORDER BY sale_id ASC, position ASC`),
		stringArgs(ids)...,
	); err != nil {
		return nil, err
	}
	bySale := make(map[string][]domain.SaleLineItem, len(rows))
	for _, line := range lineRows {
		bySale[line.SaleID] = append(bySale[line.SaleID], line.toDomain())
	}
	for _, row := range rows {
		sale := row.toDomain()
		sale.Lines = bySale[sale.ID]
		if sale.Lines == nil {
			sale.Lines = []domain.SaleLineItem{}
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) attachPayments(ctx context.Context, ext sqlx.ExtContext, rows []receiptRow) ([]domain.Receipt, error) {
	receipts := make([]domain.Receipt, 0, len(rows))
	if len(rows) == 0 {
		return receipts, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var paymentRows []paymentRow
	if err := sqlx.SelectContext(ctx, ext, &paymentRows, s.q(`
		SELECT `+paymentColumns+` FROM payment_records
		WHERE receipt_id IN `+inClause(len(ids))+`
		ORDER BY receipt_id ASC, position ASC`),
		stringArgs(ids)...,
	); err != nil {
		return nil, err
	}
	byReceipt := make(map[string][]domain.PaymentRecord, len(rows))
	for _, payment := range paymentRows {
		byReceipt[payment.ReceiptID] = append(byReceipt[payment.ReceiptID], payment.toDomain())
	}
	for _, row := range rows {
		receipt := row.toDomain()
		receipt.Payments = byReceipt[receipt.ID]
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func (s *Store) exists(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (bool, error) {
	var one int
	err := sqlx.GetContext(ctx, ext, &one, s.q(query+` LIMIT 1`), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
