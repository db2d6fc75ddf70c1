package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
)

const defaultListLimit = 100

func (s *Service) GetReceipt(ctx context.Context, receiptID string) (domain.Receipt, error) {
	receipt, err := s.repo.GetReceipt(ctx, strings.ToUpper(strings.TrimSpace(receiptID)))
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt.Status = receipt.EffectiveStatus()
	return *receipt, nil
}

func (s *Service) ListReceipts(ctx context.Context, filter domain.ReceiptFilter) ([]domain.Receipt, error) {
	scope, err := parseOptionalScope(filter.Scope)
	if err != nil {
		return nil, err
	}
	filter.Scope = scope
	if filter.Limit < 1 {
		filter.Limit = defaultListLimit
	}

	receipts, err := s.repo.ListReceipts(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range receipts {
		receipts[i].Status = receipts[i].EffectiveStatus()
	}
	return receipts, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListDispensingLogs(ctx context.Context, filter domain.DispensingLogFilter) ([]domain.DispensingLogEntry, error) {
	scope, err := parseOptionalScope(filter.Scope)
	if err != nil {
		return nil, err
	}
	filter.Scope = scope
	if filter.Limit < 1 {
		filter.Limit = defaultListLimit
	}
	return s.repo.ListDispensingLogs(ctx, filter)
}

// DailySales totals one day of the dispensing log. Entries written by a
// return count as returned; every other entry counts as dispensed whatever
// its current status.
func (s *Service) DailySales(ctx context.Context, scope domain.Scope, date string) (domain.DailySales, error) {
	scope, err := parseOptionalScope(scope)
	if err != nil {
		return domain.DailySales{}, err
	}
	day, err := s.parseDay(date)
	if err != nil {
		return domain.DailySales{}, err
	}

	entries, err := s.repo.ListDispensingLogs(ctx, domain.DispensingLogFilter{
		Scope: scope,
		From:  day,
		To:    day.Add(24 * time.Hour),
	})
	if err != nil {
		return domain.DailySales{}, err
	}

	report := domain.DailySales{
		Date:         day.Format(dateLayout),
		Scope:        scope,
		DispensedQty: decimal.Zero,
		Dispensed:    decimal.Zero,
		ReturnedQty:  decimal.Zero,
		Returned:     decimal.Zero,
		Discounts:    decimal.Zero,
		LogEntries:   len(entries),
	}
	for _, entry := range entries {
		if entry.ReturnID != "" {
			report.ReturnedQty = report.ReturnedQty.Add(entry.Quantity)
			report.Returned = report.Returned.Add(entry.Amount)
			continue
		}
		report.DispensedQty = report.DispensedQty.Add(entry.Quantity)
		report.Dispensed = report.Dispensed.Add(entry.Amount)
		report.Discounts = report.Discounts.Add(entry.DiscountAmount)
	}
	report.DispensedQty = domain.Quantity(report.DispensedQty)
	report.ReturnedQty = domain.Quantity(report.ReturnedQty)
	report.Dispensed = domain.Money(report.Dispensed)
	report.Returned = domain.Money(report.Returned)
	report.Discounts = domain.Money(report.Discounts)
	report.Net = domain.Money(report.Dispensed.Sub(report.Returned))
	return report, nil
}

// SalesByUser ranks operators by what they dispensed between from and to.
// With no bounds it reports today; an open end runs to the end of today.
func (s *Service) SalesByUser(ctx context.Context, scope domain.Scope, from time.Time, to time.Time) (domain.SalesByUserReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.SalesByUserReport{}, err
	}
	scope, err := parseOptionalScope(scope)
	if err != nil {
		return domain.SalesByUserReport{}, err
	}
	today := domain.DateOf(s.now())
	if from.IsZero() && to.IsZero() {
		from = today
	}
	if to.IsZero() {
		to = today.Add(24 * time.Hour)
	}
	if !from.IsZero() && !from.Before(to) {
		return domain.SalesByUserReport{}, store.ErrInvalidTransaction
	}

	entries, err := s.repo.ListDispensingLogs(ctx, domain.DispensingLogFilter{Scope: scope, From: from, To: to})
	if err != nil {
		return domain.SalesByUserReport{}, err
	}

	byUser := make(map[string]*domain.OperatorSales)
	sales := make(map[string]map[string]bool)
	for _, entry := range entries {
		row, ok := byUser[entry.Username]
		if !ok {
			row = &domain.OperatorSales{
				Username:  entry.Username,
				ItemsQty:  decimal.Zero,
				Dispensed: decimal.Zero,
				Returned:  decimal.Zero,
			}
			byUser[entry.Username] = row
			sales[entry.Username] = make(map[string]bool)
		}
		if entry.ReturnID != "" {
			row.Returned = row.Returned.Add(entry.Amount)
			continue
		}
		row.ItemsQty = row.ItemsQty.Add(entry.Quantity)
		row.Dispensed = row.Dispensed.Add(entry.Amount)
		if entry.SaleID != "" {
			sales[entry.Username][entry.SaleID] = true
		}
	}

	report := domain.SalesByUserReport{
		To:        to.Add(-24 * time.Hour).Format(dateLayout),
		Scope:     scope,
		Operators: make([]domain.OperatorSales, 0, len(byUser)),
	}
	if !from.IsZero() {
		report.From = from.Format(dateLayout)
	}
	for username, row := range byUser {
		row.Sales = len(sales[username])
		row.ItemsQty = domain.Quantity(row.ItemsQty)
		row.Dispensed = domain.Money(row.Dispensed)
		row.Returned = domain.Money(row.Returned)
		row.Net = domain.Money(row.Dispensed.Sub(row.Returned))
		report.Operators = append(report.Operators, *row)
	}
	slices.SortFunc(report.Operators, func(a, b domain.OperatorSales) int {
		if c := b.Dispensed.Cmp(a.Dispensed); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultListLimit
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		day, err := s.parseDay(date)
		if err != nil {
			return nil, err
		}
		from = day
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}
