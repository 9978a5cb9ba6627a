package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/domain"
)

// BuildSale turns the lines of a cart that is being committed into the
// ledger records and the bill that will be handed to the receipt emitter.
// Both carry the same id, timestamp and totals.
func BuildSale(billID string, lines []domain.CartLine, operator string, customer *domain.Customer, at time.Time) (domain.Sale, domain.Bill) {
	phone := ""
	name := ""
	if customer != nil {
		phone = customer.Phone
		name = customer.Name
	}

	records := make([]domain.SaleRecord, 0, len(lines))
	billLines := make([]domain.BillLine, 0, len(lines))
	itemCount := 0
	total := decimal.Zero
	for i, line := range lines {
		records = append(records, domain.SaleRecord{
			BillID:          billID,
			Line:            i + 1,
			ProductCode:     line.Code,
			ItemName:        line.Name,
			Category:        line.Category,
			Qty:             line.Qty,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			LineTotal:       line.LineTotal,
			CustomerPhone:   phone,
			Operator:        operator,
			SoldAt:          at,
		})
		billLines = append(billLines, billLineOf(line.Code, line.Name, line.UnitPrice, line.DiscountPercent, line.Qty, line.LineTotal))
		itemCount += line.Qty
		total = total.Add(line.LineTotal)
	}

	sale := domain.Sale{BillID: billID, Records: records, Customer: customer, SoldAt: at}
	bill := domain.Bill{
		ID:            billID,
		Lines:         billLines,
		ItemCount:     itemCount,
		GrandTotal:    total,
		CustomerPhone: phone,
		CustomerName:  name,
		Operator:      operator,
		CreatedAt:     at,
	}
	return sale, bill
}

// BillFromRecords rebuilds a bill from its ledger records, which must all
// share one bill id and be ordered by line.
func BillFromRecords(records []domain.SaleRecord, customer *domain.Customer) domain.Bill {
	if len(records) == 0 {
		return domain.Bill{}
	}

	first := records[0]
	bill := domain.Bill{
		ID:            first.BillID,
		Lines:         make([]domain.BillLine, 0, len(records)),
		GrandTotal:    decimal.Zero,
		CustomerPhone: first.CustomerPhone,
		Operator:      first.Operator,
		CreatedAt:     first.SoldAt,
	}
	if customer != nil && customer.Phone == first.CustomerPhone {
		bill.CustomerName = customer.Name
	}
	for _, r := range records {
		bill.Lines = append(bill.Lines, billLineOf(r.ProductCode, r.ItemName, r.UnitPrice, r.DiscountPercent, r.Qty, r.LineTotal))
		bill.ItemCount += r.Qty
		bill.GrandTotal = bill.GrandTotal.Add(r.LineTotal)
	}
	return bill
}

func billLineOf(code, name string, price, discount decimal.Decimal, qty int, total decimal.Decimal) domain.BillLine {
	return domain.BillLine{
		Code:            code,
		Name:            name,
		UnitPrice:       price,
		DiscountPercent: discount,
		Qty:             qty,
		LineTotal:       total,
	}
}
