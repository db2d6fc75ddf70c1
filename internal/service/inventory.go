package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/logger"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

const (
	severityCritical = "critical"
	severityHigh     = "high"
	severityMedium   = "medium"

	urgentExpiryDays = 30
)

func (s *Service) ListItems(ctx context.Context, scope domain.Scope) ([]domain.Item, error) {
	scope, err := parseOptionalScope(scope)
	if err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, scope)
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}

	scope, err := parseScope(req.Scope)
	if err != nil {
		return domain.Item{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Name == "" || req.Unit == "" {
		return domain.Item{}, store.ErrInvalidTransaction
	}
	if req.Cost.IsNegative() || !domain.ValidMarkup(req.MarkupPercent) {
		return domain.Item{}, store.ErrInvalidTransaction
	}
	if req.Stock.IsNegative() || !req.Stock.Equal(domain.Quantity(req.Stock)) || req.LowStockThreshold.IsNegative() {
		return domain.Item{}, store.ErrInvalidTransaction
	}
	expiry, err := parseExpiry(req.ExpiryDate)
	if err != nil {
		return domain.Item{}, err
	}

	now := s.now()
	item := domain.Item{
		ID:                xid.New("itm"),
		Scope:             scope,
		Name:              req.Name,
		Brand:             strings.TrimSpace(req.Brand),
		DosageForm:        strings.TrimSpace(req.DosageForm),
		Unit:              req.Unit,
		Cost:              domain.Money(req.Cost),
		MarkupPercent:     req.MarkupPercent,
		Stock:             req.Stock,
		LowStockThreshold: req.LowStockThreshold,
		ExpiryDate:        expiry,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := applyPrice(&item, req.Price, false); err != nil {
		return domain.Item{}, err
	}

	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, created.Scope, "item_create", "item", created.ID,
		fmt.Sprintf("name=%s,price=%s,stock=%s", created.Name, created.Price, created.Stock))
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}

	existing, err := s.repo.GetItem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Item{}, err
	}
	item := *existing
	previousPrice := item.Price

	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.Brand != nil {
		item.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.DosageForm != nil {
		item.DosageForm = strings.TrimSpace(*req.DosageForm)
	}
	if req.Unit != nil {
		item.Unit = strings.TrimSpace(*req.Unit)
	}
	if item.Name == "" || item.Unit == "" {
		return domain.Item{}, store.ErrInvalidTransaction
	}
	if req.Cost != nil {
		if req.Cost.IsNegative() {
			return domain.Item{}, store.ErrInvalidTransaction
		}
		item.Cost = domain.Money(*req.Cost)
	}
	if req.MarkupPercent != nil {
		if !domain.ValidMarkup(*req.MarkupPercent) {
			return domain.Item{}, store.ErrInvalidTransaction
		}
		item.MarkupPercent = *req.MarkupPercent
	}
	if req.LowStockThreshold != nil {
		if req.LowStockThreshold.IsNegative() {
			return domain.Item{}, store.ErrInvalidTransaction
		}
		item.LowStockThreshold = *req.LowStockThreshold
	}
	if req.ExpiryDate != nil {
		expiry, err := parseExpiry(*req.ExpiryDate)
		if err != nil {
			return domain.Item{}, err
		}
		item.ExpiryDate = expiry
	}
	if req.ResetPrice && req.Price != nil {
		return domain.Item{}, store.ErrInvalidTransaction
	}
	if err := applyPrice(&item, req.Price, item.PriceOverridden && !req.ResetPrice); err != nil {
		return domain.Item{}, err
	}
	item.UpdatedAt = s.now()

	updated, err := s.repo.UpdateItem(ctx, item)
	if err != nil {
		return domain.Item{}, err
	}

	if !updated.Price.Equal(previousPrice) {
		s.logAudit(ctx, updated.Scope, "item_price_change", "item", updated.ID,
			fmt.Sprintf("old_price=%s,new_price=%s,overridden=%t", previousPrice, updated.Price, updated.PriceOverridden))
	} else {
		s.logAudit(ctx, updated.Scope, "item_update", "item", updated.ID, fmt.Sprintf("name=%s", updated.Name))
	}
	return *updated, nil
}

// AdjustStock replaces the stock level with a counted quantity.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.StockAdjustResponse{}, err
	}
	if req.CountedStock.IsNegative() || !req.CountedStock.Equal(domain.Quantity(req.CountedStock)) {
		return domain.StockAdjustResponse{}, store.ErrInvalidTransaction
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.StockAdjustResponse{}, store.ErrInvalidTransaction
	}

	previous, item, err := s.repo.SetStock(ctx, strings.TrimSpace(id), req.CountedStock)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	delta := item.Stock.Sub(previous)

	s.logAudit(ctx, item.Scope, "stock_adjust", "item", item.ID,
		fmt.Sprintf("previous=%s,counted=%s,delta=%s,reason=%s", previous, item.Stock, delta, reason))
	return domain.StockAdjustResponse{Item: *item, Previous: previous, Delta: delta}, nil
}

// ReceiveStock books a delivery onto the shelf.
func (s *Service) ReceiveStock(ctx context.Context, id string, req domain.StockMovementRequest) (domain.StockAdjustResponse, error) {
	item, err := s.moveStock(ctx, id, req, "stock_receive", s.repo.IncrementStock)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	return domain.StockAdjustResponse{Item: item, Previous: item.Stock.Sub(req.Quantity), Delta: req.Quantity}, nil
}

// WriteOffStock takes damaged or missing quantity off the shelf. It fails with
// ErrInsufficientStock rather than drive stock negative.
func (s *Service) WriteOffStock(ctx context.Context, id string, req domain.StockMovementRequest) (domain.StockAdjustResponse, error) {
	item, err := s.moveStock(ctx, id, req, "stock_write_off", s.repo.DecrementStock)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	return domain.StockAdjustResponse{Item: item, Previous: item.Stock.Add(req.Quantity), Delta: req.Quantity.Neg()}, nil
}

func (s *Service) moveStock(ctx context.Context, id string, req domain.StockMovementRequest, action string,
	move func(context.Context, string, decimal.Decimal) (*domain.Item, error)) (domain.Item, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	if !domain.ValidQuantity(req.Quantity) {
		return domain.Item{}, store.ErrInvalidTransaction
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Item{}, store.ErrInvalidTransaction
	}

	item, err := move(ctx, strings.TrimSpace(id), req.Quantity)
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, item.Scope, action, "item", item.ID,
		fmt.Sprintf("quantity=%s,stock=%s,reason=%s", req.Quantity, item.Stock, reason))
	return *item, nil
}

// StockAlerts lists expired, soon-to-expire and low-stock items. It never
// mutates stock; write-offs belong to SweepExpiredStock.
func (s *Service) StockAlerts(ctx context.Context, scope domain.Scope, days int) (domain.StockAlertResponse, error) {
	scope, err := parseOptionalScope(scope)
	if err != nil {
		return domain.StockAlertResponse{}, err
	}
	if days < 1 {
		days = s.opts.AlertDays
	}

	items, err := s.repo.ListItems(ctx, scope)
	if err != nil {
		return domain.StockAlertResponse{}, err
	}

	today := domain.DateOf(s.now())
	horizon := today.AddDate(0, 0, days)
	alerts := make([]domain.StockAlert, 0)
	for _, item := range items {
		if item.ExpiryDate != nil && !item.ExpiryDate.After(horizon) {
			daysLeft := int(item.ExpiryDate.Sub(today).Hours() / 24)
			alert := domain.StockAlert{
				ItemID:     item.ID,
				Name:       item.Name,
				Scope:      item.Scope,
				Kind:       domain.AlertKindExpiring,
				Severity:   severityMedium,
				Stock:      item.Stock,
				Threshold:  item.LowStockThreshold,
				ExpiryDate: item.ExpiryDate,
				DaysLeft:   daysLeft,
			}
			switch {
			case item.Expired(today):
				alert.Kind = domain.AlertKindExpired
				alert.Severity = severityCritical
			case daysLeft <= urgentExpiryDays:
				alert.Severity = severityHigh
			}
			alerts = append(alerts, alert)
		}

		if item.Stock.LessThanOrEqual(item.LowStockThreshold) {
			alert := domain.StockAlert{
				ItemID:    item.ID,
				Name:      item.Name,
				Scope:     item.Scope,
				Kind:      domain.AlertKindLowStock,
				Severity:  severityMedium,
				Stock:     item.Stock,
				Threshold: item.LowStockThreshold,
			}
			if !item.Stock.IsPositive() {
				alert.Severity = severityHigh
			}
			alerts = append(alerts, alert)
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if severityRank(alerts[i].Severity) != severityRank(alerts[j].Severity) {
			return severityRank(alerts[i].Severity) > severityRank(alerts[j].Severity)
		}
		if alerts[i].Kind != alerts[j].Kind {
			return alerts[i].Kind < alerts[j].Kind
		}
		return alerts[i].DaysLeft < alerts[j].DaysLeft
	})

	return domain.StockAlertResponse{
		AsOf:   today.Format(dateLayout),
		Days:   days,
		Alerts: alerts,
	}, nil
}

// SweepExpiredStock writes the stock of every expired item down to zero. A
// second run on the same day finds nothing left to write off.
func (s *Service) SweepExpiredStock(ctx context.Context) (domain.ExpirySweepResponse, error) {
	asOf := s.now()
	writeOffs, err := s.repo.ZeroExpiredStock(ctx, asOf)
	if err != nil {
		return domain.ExpirySweepResponse{}, err
	}

	for _, w := range writeOffs {
		s.logAudit(ctx, w.Scope, "expiry_write_off", "item", w.ItemID,
			fmt.Sprintf("quantity=%s,expiry=%s", w.Quantity, w.ExpiryDate.Format(dateLayout)))
	}
	if len(writeOffs) > 0 {
		logger.FromContext(ctx).Info("expired stock written off", zap.Int("items", len(writeOffs)))
	}
	s.metrics.ExpiryWriteOffs(len(writeOffs))

	if writeOffs == nil {
		writeOffs = []domain.ExpiredWriteOff{}
	}
	return domain.ExpirySweepResponse{
		AsOf:       domain.DateOf(asOf).Format(dateLayout),
		WrittenOff: writeOffs,
	}, nil
}

// applyPrice sets an explicit price override or derives the price from cost
// and markup. keepOverride retains a previous override when no price is given.
func applyPrice(item *domain.Item, price *decimal.Decimal, keepOverride bool) error {
	switch {
	case price != nil:
		if price.IsNegative() {
			return store.ErrInvalidTransaction
		}
		item.Price = domain.Money(*price)
		item.PriceOverridden = true
	case keepOverride:
	default:
		item.Price = domain.DerivePrice(item.Cost, item.MarkupPercent)
		item.PriceOverridden = false
	}
	return nil
}

func parseExpiry(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, store.ErrInvalidTransaction
	}
	expiry := parsed.UTC()
	return &expiry, nil
}

func severityRank(severity string) int {
	switch severity {
	case severityCritical:
		return 3
	case severityHigh:
		return 2
	case severityMedium:
		return 1
	default:
		return 0
	}
}
