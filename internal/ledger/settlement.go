package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

// SettlementInput is the locked state a store hands to BuildSettlement from
// inside its checkout transaction.
type SettlementInput struct {
	Command  store.CheckoutCommand
	Lines    []domain.CartLine
	Customer *domain.Customer
	Wallet   *domain.Wallet
}

// Settlement is everything a checkout writes. The receipt and its payment
// records are built together so a Split receipt never exists without them.
type Settlement struct {
	Sale               domain.Sale
	Receipt            domain.Receipt
	Logs               []domain.DispensingLogEntry
	WalletTransactions []domain.WalletTransaction
	Wallet             *domain.Wallet
	ConsumedLineIDs    []string
}

func BuildSettlement(in SettlementInput) (Settlement, error) {
	cmd := in.Command
	if len(in.Lines) == 0 {
		return Settlement{}, store.ErrEmptyCart
	}
	if cmd.SaleID == "" || cmd.ReceiptID == "" || cmd.Username == "" || !cmd.Scope.Valid() {
		return Settlement{}, store.ErrInvalidTransaction
	}
	if cmd.CustomerID != "" && in.Customer == nil {
		return Settlement{}, store.ErrNotFound
	}
	if in.Customer != nil && in.Customer.Scope != cmd.Scope {
		return Settlement{}, store.ErrInvalidTransaction
	}

	at := cmd.At.UTC()
	sale := domain.Sale{
		ID:           cmd.SaleID,
		Scope:        cmd.Scope,
		Username:     cmd.Username,
		CustomerID:   cmd.CustomerID,
		ReturnAmount: decimal.Zero,
		CreatedAt:    at,
		Lines:        make([]domain.SaleLineItem, 0, len(in.Lines)),
	}

	totalDiscount := decimal.Zero
	logs := make([]domain.DispensingLogEntry, 0, len(in.Lines))
	consumed := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		if line.Username != cmd.Username || line.Scope != cmd.Scope {
			return Settlement{}, store.ErrInvalidTransaction
		}
		if !domain.ValidQuantity(line.Quantity) || line.UnitPrice.IsNegative() {
			return Settlement{}, store.ErrInvalidTransaction
		}
		discount := domain.ClampDiscount(line.UnitPrice, line.Quantity, line.DiscountAmount)
		saleLine := domain.SaleLineItem{
			ID:             xid.New("sli"),
			SaleID:         sale.ID,
			ItemID:         line.ItemID,
			ItemName:       line.ItemName,
			Unit:           line.Unit,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			DiscountAmount: discount,
		}
		sale.Lines = append(sale.Lines, saleLine)
		totalDiscount = totalDiscount.Add(discount)

		logs = append(logs, domain.DispensingLogEntry{
			ID:             xid.New("dlog"),
			Username:       cmd.Username,
			Scope:          cmd.Scope,
			ItemID:         line.ItemID,
			ItemName:       line.ItemName,
			Brand:          line.Brand,
			DosageForm:     line.DosageForm,
			Unit:           line.Unit,
			Quantity:       line.Quantity,
			Amount:         saleLine.Subtotal(),
			DiscountAmount: discount,
			Status:         domain.LogStatusDispensed,
			CartLineID:     line.ID,
			SaleID:         sale.ID,
			SaleLineItemID: saleLine.ID,
			CreatedAt:      at,
		})
		consumed = append(consumed, line.ID)
	}
	sale.RecomputeTotal()

	receipt := domain.Receipt{
		ID:            cmd.ReceiptID,
		SaleID:        sale.ID,
		Scope:         cmd.Scope,
		CustomerID:    cmd.CustomerID,
		BuyerName:     strings.TrimSpace(cmd.BuyerName),
		BuyerAddress:  strings.TrimSpace(cmd.BuyerAddress),
		TotalAmount:   sale.TotalAmount,
		TotalDiscount: domain.Money(totalDiscount),
		PaymentMethod: cmd.Payment.Method,
		Status:        cmd.Payment.Status,
		Username:      cmd.Username,
		ReturnAmount:  decimal.Zero,
		CreatedAt:     at,
	}
	if in.Customer != nil {
		receipt.BuyerName = in.Customer.Name
		receipt.BuyerAddress = in.Customer.Address
	}

	var wallet *domain.Wallet
	if in.Customer != nil {
		w := domain.Wallet{CustomerID: in.Customer.ID, Balance: decimal.Zero}
		if in.Wallet != nil {
			w = *in.Wallet
		}
		wallet = &w
	}

	var history []domain.WalletTransaction
	debit := func(amount decimal.Decimal, description string) {
		before := wallet.Balance
		wallet.Balance = domain.Money(wallet.Balance.Sub(amount))
		wallet.UpdatedAt = at
		if !before.IsNegative() && wallet.Balance.IsNegative() {
			receipt.WalletWentNegative = true
		}
		history = append(history, domain.WalletTransaction{
			ID:            xid.New("wtx"),
			CustomerID:    wallet.CustomerID,
			Type:          domain.WalletTxPurchase,
			Amount:        amount,
			BalanceChange: amount.Neg(),
			BalanceAfter:  wallet.Balance,
			Description:   description,
			Reference:     receipt.ID,
			Username:      cmd.Username,
			CreatedAt:     at,
		})
	}
	note := func(amount decimal.Decimal, method string) {
		if wallet == nil {
			return
		}
		history = append(history, domain.WalletTransaction{
			ID:            xid.New("wtx"),
			CustomerID:    wallet.CustomerID,
			Type:          domain.WalletTxPurchase,
			Amount:        amount,
			BalanceChange: decimal.Zero,
			BalanceAfter:  wallet.Balance,
			Description:   fmt.Sprintf("Purchase payment via %s (Receipt ID: %s)", method, receipt.ID),
			Reference:     receipt.ID,
			Username:      cmd.Username,
			CreatedAt:     at,
		})
	}

	switch cmd.Payment.Type {
	case domain.PaymentTypeSingle:
		if cmd.Payment.Method == domain.TenderWallet {
			if wallet == nil {
				return Settlement{}, store.ErrInvalidTransaction
			}
			debit(receipt.TotalAmount, fmt.Sprintf("Purchase payment from wallet (Receipt ID: %s)", receipt.ID))
		} else {
			note(receipt.TotalAmount, cmd.Payment.Method)
		}
	case domain.PaymentTypeSplit:
		if len(cmd.Payment.Tenders) != splitTenderCount {
			return Settlement{}, store.ErrInvalidTransaction
		}
		if TenderTotal(cmd.Payment.Tenders).GreaterThan(receipt.TotalAmount) {
			return Settlement{}, store.ErrInvalidTransaction
		}
		receipt.Payments = make([]domain.PaymentRecord, 0, len(cmd.Payment.Tenders))
		for _, tender := range cmd.Payment.Tenders {
			receipt.Payments = append(receipt.Payments, domain.PaymentRecord{
				ID:        xid.New("pay"),
				ReceiptID: receipt.ID,
				Amount:    tender.Amount,
				Method:    tender.Method,
				Status:    cmd.Payment.Status,
				CreatedAt: at,
			})
			if !tender.Amount.IsPositive() {
				continue
			}
			if tender.Method == domain.TenderWallet {
				if wallet == nil {
					return Settlement{}, store.ErrInvalidTransaction
				}
				debit(tender.Amount, fmt.Sprintf("Split payment from wallet (Receipt ID: %s)", receipt.ID))
				continue
			}
			note(tender.Amount, tender.Method)
		}
		receipt.Status = domain.DeriveSplitStatus(receipt.TotalAmount, receipt.Payments)
	default:
		return Settlement{}, store.ErrInvalidTransaction
	}

	return Settlement{
		Sale:               sale,
		Receipt:            receipt,
		Logs:               logs,
		WalletTransactions: history,
		Wallet:             wallet,
		ConsumedLineIDs:    consumed,
	}, nil
}
