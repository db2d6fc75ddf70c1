package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

const refundDescription = "Refund for returned items"

// ReturnInput is the locked state a store hands to PlanReturn. Sales may hold
// more candidates than match; PlanReturn filters them itself.
type ReturnInput struct {
	Command        store.ReturnCommand
	Item           domain.Item
	Customer       *domain.Customer
	Wallet         *domain.Wallet
	Sales          []domain.Sale
	Receipts       map[string]domain.Receipt
	AppliedReturns map[string][]domain.SaleReturn
	Logs           []domain.DispensingLogEntry
}

// ReturnPlan lists the writes of one return operation.
type ReturnPlan struct {
	ReturnID       string
	Quantity       decimal.Decimal
	RefundAmount   decimal.Decimal
	DiscountAmount decimal.Decimal
	WalletCredit   decimal.Decimal
	Allocations    []domain.ReturnAllocation
	Sales          []domain.Sale
	DeletedLineIDs []string
	Receipts       []domain.Receipt
	SaleReturns    []domain.SaleReturn
	Log            domain.DispensingLogEntry
	LogStatus      map[string]string
	Wallet         *domain.Wallet
	Refund         *domain.WalletTransaction
}

type candidateLine struct {
	saleIndex int
	lineIndex int
	createdAt int64
	saleID    string
}

// PlanReturn consumes the most recent matching sale lines first and fails
// without side effects when they cannot cover the requested quantity.
func PlanReturn(in ReturnInput) (ReturnPlan, error) {
	cmd := in.Command
	if cmd.ReturnID == "" || cmd.Username == "" || !cmd.Scope.Valid() || cmd.ItemID == "" {
		return ReturnPlan{}, store.ErrInvalidTransaction
	}
	if !domain.ValidQuantity(cmd.Quantity) {
		return ReturnPlan{}, store.ErrInvalidTransaction
	}
	if cmd.CustomerID == "" && cmd.SaleID == "" {
		return ReturnPlan{}, store.ErrInvalidTransaction
	}
	if cmd.CustomerID != "" && in.Customer == nil {
		return ReturnPlan{}, store.ErrNotFound
	}
	if in.Item.ID != cmd.ItemID || in.Item.Scope != cmd.Scope {
		return ReturnPlan{}, store.ErrInvalidTransaction
	}
	if cmd.RefundPolicy == nil {
		cmd.RefundPolicy = CreditOnlyIfWalletTender{}
	}

	sales := make([]domain.Sale, len(in.Sales))
	for i, sale := range in.Sales {
		sales[i] = cloneSale(sale)
	}

	var candidates []candidateLine
	available := decimal.Zero
	for si, sale := range sales {
		if sale.Scope != cmd.Scope || sale.CustomerID != cmd.CustomerID {
			continue
		}
		if cmd.SaleID != "" && sale.ID != cmd.SaleID {
			continue
		}
		for li, line := range sale.Lines {
			if line.ItemID != cmd.ItemID || !line.Quantity.IsPositive() {
				continue
			}
			candidates = append(candidates, candidateLine{
				saleIndex: si,
				lineIndex: li,
				createdAt: sale.CreatedAt.UnixNano(),
				saleID:    sale.ID,
			})
			available = available.Add(line.Quantity)
		}
	}
	if available.LessThan(cmd.Quantity) {
		return ReturnPlan{}, store.ErrInsufficientReturnable
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].createdAt != candidates[j].createdAt {
			return candidates[i].createdAt > candidates[j].createdAt
		}
		return candidates[i].saleID > candidates[j].saleID
	})

	at := cmd.At.UTC()
	plan := ReturnPlan{
		ReturnID:       cmd.ReturnID,
		Quantity:       cmd.Quantity,
		RefundAmount:   decimal.Zero,
		DiscountAmount: decimal.Zero,
		WalletCredit:   decimal.Zero,
		LogStatus:      map[string]string{},
	}

	remaining := cmd.Quantity
	touched := map[int]decimal.Decimal{}
	removed := map[int]map[int]bool{}
	for _, c := range candidates {
		if !remaining.IsPositive() {
			break
		}
		line := &sales[c.saleIndex].Lines[c.lineIndex]
		take := decimal.Min(remaining, line.Quantity)

		share := domain.Money(line.DiscountAmount.Mul(take).Div(line.Quantity))
		gross := domain.Money(line.UnitPrice.Mul(take))
		amount := gross.Sub(share)
		if amount.IsNegative() {
			amount = decimal.Zero
		}

		line.Quantity = domain.Quantity(line.Quantity.Sub(take))
		line.DiscountAmount = domain.Money(line.DiscountAmount.Sub(share))
		if line.DiscountAmount.IsNegative() {
			line.DiscountAmount = decimal.Zero
		}
		lineRemoved := !line.Quantity.IsPositive()
		if lineRemoved {
			if removed[c.saleIndex] == nil {
				removed[c.saleIndex] = map[int]bool{}
			}
			removed[c.saleIndex][c.lineIndex] = true
			plan.DeletedLineIDs = append(plan.DeletedLineIDs, line.ID)
		}

		receiptID := ""
		var receipt *domain.Receipt
		if r, ok := in.Receipts[c.saleID]; ok {
			receiptID = r.ID
			receipt = &r
		}
		credit := decimal.Zero
		if in.Customer != nil {
			credit = cmd.RefundPolicy.WalletShare(amount, receipt)
		}

		plan.Allocations = append(plan.Allocations, domain.ReturnAllocation{
			SaleID:         c.saleID,
			SaleLineItemID: line.ID,
			ReceiptID:      receiptID,
			Quantity:       take,
			Amount:         amount,
			Discount:       share,
			LineRemoved:    lineRemoved,
		})
		plan.RefundAmount = plan.RefundAmount.Add(amount)
		plan.DiscountAmount = plan.DiscountAmount.Add(share)
		plan.WalletCredit = plan.WalletCredit.Add(credit)
		touched[c.saleIndex] = touched[c.saleIndex].Add(amount)

		for _, entry := range in.Logs {
			if entry.SaleLineItemID != line.ID {
				continue
			}
			if entry.Status != domain.LogStatusDispensed && entry.Status != domain.LogStatusPartiallyReturned {
				continue
			}
			if lineRemoved {
				plan.LogStatus[entry.ID] = domain.LogStatusReturned
			} else {
				plan.LogStatus[entry.ID] = domain.LogStatusPartiallyReturned
			}
		}

		remaining = remaining.Sub(take)
	}

	saleIndexes := make([]int, 0, len(touched))
	for idx := range touched {
		saleIndexes = append(saleIndexes, idx)
	}
	sort.Ints(saleIndexes)
	for _, idx := range saleIndexes {
		sale := sales[idx]
		if gone := removed[idx]; len(gone) > 0 {
			kept := make([]domain.SaleLineItem, 0, len(sale.Lines))
			for li, line := range sale.Lines {
				if !gone[li] {
					kept = append(kept, line)
				}
			}
			sale.Lines = kept
		}
		sale.RecomputeTotal()

		ret := domain.SaleReturn{
			ID:          cmd.ReturnID,
			SaleID:      sale.ID,
			Amount:      domain.Money(touched[idx]),
			ProcessedBy: cmd.Username,
			CreatedAt:   at,
		}
		applied := in.AppliedReturns[sale.ID]
		if ApplySaleReturn(&sale, applied, ret) {
			plan.SaleReturns = append(plan.SaleReturns, ret)
		}
		if receipt, ok := in.Receipts[sale.ID]; ok {
			ApplyReceiptReturn(&receipt, applied, ret)
			plan.Receipts = append(plan.Receipts, receipt)
		}
		plan.Sales = append(plan.Sales, sale)
	}

	plan.RefundAmount = domain.Money(plan.RefundAmount)
	plan.DiscountAmount = domain.Money(plan.DiscountAmount)
	plan.WalletCredit = domain.Money(plan.WalletCredit)
	plan.Log = domain.DispensingLogEntry{
		ID:             xid.New("dlog"),
		Username:       cmd.Username,
		Scope:          cmd.Scope,
		ItemID:         in.Item.ID,
		ItemName:       in.Item.Name,
		Brand:          in.Item.Brand,
		DosageForm:     in.Item.DosageForm,
		Unit:           in.Item.Unit,
		Quantity:       cmd.Quantity,
		Amount:         plan.RefundAmount,
		DiscountAmount: plan.DiscountAmount,
		Status:         domain.LogStatusReturned,
		SaleID:         singleSaleID(plan.Allocations),
		ReturnID:       cmd.ReturnID,
		CreatedAt:      at,
	}

	if in.Customer != nil && plan.WalletCredit.IsPositive() {
		wallet := domain.Wallet{CustomerID: in.Customer.ID, Balance: decimal.Zero}
		if in.Wallet != nil {
			wallet = *in.Wallet
		}
		refund := CreditWallet(&wallet, plan.WalletCredit, refundDescription, cmd.ReturnID, cmd.Username, at)
		plan.Wallet = &wallet
		plan.Refund = &refund
	}

	return plan, nil
}

// ApplySaleReturn adds one return operation to the sale. The returned flag,
// date and processor are fixed by the first return; an operation already
// applied is ignored.
func ApplySaleReturn(sale *domain.Sale, applied []domain.SaleReturn, ret domain.SaleReturn) bool {
	if returnApplied(applied, ret.ID) {
		return false
	}
	sale.ReturnAmount = domain.Money(sale.ReturnAmount.Add(ret.Amount))
	if !sale.IsReturned {
		returnedAt := ret.CreatedAt
		sale.IsReturned = true
		sale.ReturnDate = &returnedAt
		sale.ReturnProcessedBy = ret.ProcessedBy
	}
	return true
}

func ApplyReceiptReturn(receipt *domain.Receipt, applied []domain.SaleReturn, ret domain.SaleReturn) bool {
	if returnApplied(applied, ret.ID) {
		return false
	}
	receipt.ReturnAmount = domain.Money(receipt.ReturnAmount.Add(ret.Amount))
	if !receipt.IsReturned {
		returnedAt := ret.CreatedAt
		receipt.IsReturned = true
		receipt.ReturnDate = &returnedAt
		receipt.ReturnProcessedBy = ret.ProcessedBy
	}
	return true
}

func returnApplied(applied []domain.SaleReturn, returnID string) bool {
	for _, r := range applied {
		if r.ID == returnID {
			return true
		}
	}
	return false
}

func singleSaleID(allocations []domain.ReturnAllocation) string {
	if len(allocations) == 0 {
		return ""
	}
	id := allocations[0].SaleID
	for _, a := range allocations[1:] {
		if a.SaleID != id {
			return ""
		}
	}
	return id
}

func cloneSale(sale domain.Sale) domain.Sale {
	cloned := sale
	cloned.Lines = append([]domain.SaleLineItem(nil), sale.Lines...)
	if sale.ReturnDate != nil {
		returnDate := *sale.ReturnDate
		cloned.ReturnDate = &returnDate
	}
	return cloned
}
