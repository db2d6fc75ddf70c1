package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// Migrate creates the schema when it does not exist yet. Decimal columns are
// NUMERIC on Postgres and TEXT on SQLite so values round-trip exactly.
func (s *Store) Migrate(ctx context.Context) error {
	decimalType, timeType := "NUMERIC(18,3)", "TIMESTAMPTZ"
	if s.dialect == DialectSQLite {
		decimalType, timeType = "TEXT", "TIMESTAMP"
	}
	replacer := strings.NewReplacer("{decimal}", decimalType, "{time}", timeType)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {time} NOT NULL,
			updated_at {time} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			name TEXT NOT NULL,
			brand TEXT NOT NULL DEFAULT '',
			dosage_form TEXT NOT NULL DEFAULT '',
			unit TEXT NOT NULL DEFAULT '',
			cost {decimal} NOT NULL,
			price {decimal} NOT NULL,
			markup_percent {decimal} NOT NULL,
			price_overridden BOOLEAN NOT NULL DEFAULT FALSE,
			stock {decimal} NOT NULL,
			low_stock_threshold {decimal} NOT NULL,
			expiry_date {time},
			created_at {time} NOT NULL,
			updated_at {time} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS items_scope_idx ON items (scope, name)`,
		`CREATE TABLE IF NOT EXISTS cart_lines (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			scope TEXT NOT NULL,
			item_id TEXT NOT NULL REFERENCES items(id),
			item_name TEXT NOT NULL,
			brand TEXT NOT NULL DEFAULT '',
			dosage_form TEXT NOT NULL DEFAULT '',
			unit TEXT NOT NULL DEFAULT '',
			quantity {decimal} NOT NULL,
			unit_price {decimal} NOT NULL,
			discount_amount {decimal} NOT NULL,
			reserved_until {time} NOT NULL,
			created_at {time} NOT NULL,
			updated_at {time} NOT NULL,
			UNIQUE (username, scope, item_id, unit)
		)`,
		`CREATE INDEX IF NOT EXISTS cart_lines_reserved_idx ON cart_lines (reserved_until)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			created_at {time} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			customer_id TEXT PRIMARY KEY REFERENCES customers(id),
			balance {decimal} NOT NULL,
			updated_at {time} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL REFERENCES customers(id),
			type TEXT NOT NULL,
			amount {decimal} NOT NULL,
			balance_change {decimal} NOT NULL,
			balance_after {decimal} NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reference TEXT,
			username TEXT NOT NULL DEFAULT '',
			created_at {time} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS wallet_transactions_customer_idx ON wallet_transactions (customer_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS wallet_transactions_reference_idx ON wallet_transactions (reference)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			username TEXT NOT NULL,
			customer_id TEXT,
			total_amount {decimal} NOT NULL,
			is_returned BOOLEAN NOT NULL DEFAULT FALSE,
			return_amount {decimal} NOT NULL,
			return_date {time},
			return_processed_by TEXT NOT NULL DEFAULT '',
			created_at {time} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sales_customer_idx ON sales (scope, customer_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS sale_line_items (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			position INTEGER NOT NULL,
			item_id TEXT NOT NULL,
			item_name TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			quantity {decimal} NOT NULL,
			unit_price {decimal} NOT NULL,
			discount_amount {decimal} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sale_line_items_sale_idx ON sale_line_items (sale_id, position)`,
		`CREATE TABLE IF NOT EXISTS receipts (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL UNIQUE REFERENCES sales(id),
			scope TEXT NOT NULL,
			customer_id TEXT,
			buyer_name TEXT NOT NULL DEFAULT '',
			buyer_address TEXT NOT NULL DEFAULT '',
			total_amount {decimal} NOT NULL,
			total_discount {decimal} NOT NULL,
			payment_method TEXT NOT NULL,
			status TEXT NOT NULL,
			wallet_went_negative BOOLEAN NOT NULL DEFAULT FALSE,
			username TEXT NOT NULL,
			is_returned BOOLEAN NOT NULL DEFAULT FALSE,
			return_amount {decimal} NOT NULL,
			return_date {time},
			return_processed_by TEXT NOT NULL DEFAULT '',
			created_at {time} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS receipts_created_idx ON receipts (created_at)`,
		`CREATE TABLE IF NOT EXISTS payment_records (
			id TEXT PRIMARY KEY,
			receipt_id TEXT NOT NULL REFERENCES receipts(id),
			position INTEGER NOT NULL,
			amount {decimal} NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at {time} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS payment_records_receipt_idx ON payment_records (receipt_id, position)`,
		`CREATE TABLE IF NOT EXISTS dispensing_logs (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			scope TEXT NOT NULL,
			item_id TEXT NOT NULL,
			item_name TEXT NOT NULL,
			brand TEXT NOT NULL DEFAULT '',
			dosage_form TEXT NOT NULL DEFAULT '',
			unit TEXT NOT NULL DEFAULT '',
			quantity {decimal} NOT NULL,
			amount {decimal} NOT NULL,
			discount_amount {decimal} NOT NULL,
			status TEXT NOT NULL,
			cart_line_id TEXT,
			sale_id TEXT,
			sale_line_item_id TEXT,
			return_id TEXT,
			created_at {time} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS dispensing_logs_created_idx ON dispensing_logs (created_at)`,
		`CREATE INDEX IF NOT EXISTS dispensing_logs_sale_line_idx ON dispensing_logs (sale_line_item_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS dispensing_logs_return_key ON dispensing_logs (return_id) WHERE return_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS sale_returns (
			id TEXT NOT NULL,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			amount {decimal} NOT NULL,
			processed_by TEXT NOT NULL,
			created_at {time} NOT NULL,
			PRIMARY KEY (id, sale_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL DEFAULT '',
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at {time} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_logs_created_idx ON audit_logs (created_at)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, replacer.Replace(stmt)); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
