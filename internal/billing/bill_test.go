package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crackerpos/backend/internal/domain"
)

func TestBuildSaleAndRebuildFromRecords(t *testing.T) {
	var cart Cart
	_, err := cart.Add(sparklers(), 4)
	require.NoError(t, err)
	_, err = cart.Add(domain.Product{
		Code:            "FLP1",
		Name:            "Flower Pots Big",
		Category:        "FLOWERPOTS",
		Price:           decimal.RequireFromString("120.00"),
		Stock:           25,
		DiscountPercent: decimal.NewFromInt(10),
	}, 3)
	require.NoError(t, err)

	at := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	customer := &domain.Customer{Phone: "9000000001", Name: "Ravi"}
	sale, bill := BuildSale("INV-1-AAAA0000", cart.Lines(), "staff", customer, at)

	require.Len(t, sale.Records, 2)
	assert.Equal(t, 2, sale.Records[1].Line)
	assert.Equal(t, "9000000001", sale.Records[0].CustomerPhone)
	assert.Equal(t, "staff", sale.Records[1].Operator)
	assert.Equal(t, at, sale.Records[0].SoldAt)

	assert.Equal(t, 7, bill.ItemCount)
	assert.True(t, bill.GrandTotal.Equal(decimal.RequireFromString("364")), "got %s", bill.GrandTotal)
	assert.True(t, bill.GrandTotal.Equal(cart.GrandTotal()))
	assert.Equal(t, "Ravi", bill.CustomerName)

	rebuilt := BillFromRecords(sale.Records, customer)
	assert.Equal(t, bill.ID, rebuilt.ID)
	assert.Equal(t, bill.ItemCount, rebuilt.ItemCount)
	assert.True(t, bill.GrandTotal.Equal(rebuilt.GrandTotal))
	assert.Equal(t, bill.Lines, rebuilt.Lines)
	assert.Equal(t, "Ravi", rebuilt.CustomerName)
}

func TestBillFromRecordsEmpty(t *testing.T) {
	assert.Equal(t, domain.Bill{}, BillFromRecords(nil, nil))
}
