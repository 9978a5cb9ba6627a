package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crackerpos/backend/internal/domain"
)

func sampleReport() domain.SalesReport {
	at := time.Date(2026, 10, 18, 11, 0, 0, 0, time.UTC)
	return domain.SalesReport{
		Period:       domain.ReportPeriodDay,
		Label:        "2026-10-18",
		Bills:        1,
		TotalQty:     4,
		TotalRevenue: decimal.RequireFromString("40"),
		Records: []domain.SaleRecord{{
			BillID:      "INV-1-AAAAAAAA",
			Line:        1,
			ProductCode: "SPK1",
			ItemName:    "<b>Sparklers</b>",
			Category:    "SPARKLERS",
			Qty:         4,
			UnitPrice:   decimal.RequireFromString("10"),
			LineTotal:   decimal.RequireFromString("40"),
			Operator:    "=cmd",
			SoldAt:      at,
		}},
	}
}

func TestWriteSalesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSalesCSV(&buf, sampleReport()))

	r := csv.NewReader(strings.NewReader(buf.String()))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, []string{"summary", "total_revenue", "40.00"}, rows[5])
	last := rows[len(rows)-1]
	assert.Equal(t, "INV-1-AAAAAAAA", last[0])
	assert.Equal(t, "2026-10-18 11:00:00", last[2])
	assert.Equal(t, "40.00", last[9])
	assert.Equal(t, "'=cmd", last[11])
}

func TestWriteSalesHTMLEscapesFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSalesHTML(&buf, sampleReport()))

	html := buf.String()
	assert.Contains(t, html, "Sales Report 2026-10-18")
	assert.Contains(t, html, "Revenue: 40.00")
	assert.Contains(t, html, "&lt;b&gt;Sparklers&lt;/b&gt;")
	assert.NotContains(t, html, "<b>Sparklers</b>")
}

func TestWriteSalesHTMLEmptyPeriod(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSalesHTML(&buf, domain.SalesReport{Label: "2026-10"}))
	assert.Contains(t, buf.String(), "No sales in this period.")
}

func TestCategoriesCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCategoriesCSV(&buf, []domain.Category{
		{Code: "ROCKETS", Name: "Rockets", Description: "Aerial, loud"},
	}))
	assert.Equal(t, "code,name,description\nROCKETS,Rockets,\"Aerial, loud\"\n", buf.String())

	rows, err := ReadCategoriesCSV(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, domain.CategoryUpsertRequest{Code: "ROCKETS", Name: "Rockets", Description: "Aerial, loud"}, rows[0].Category)
}

func TestReadCategoriesCSVWithoutHeaderAndShortRows(t *testing.T) {
	rows, err := ReadCategoriesCSV(strings.NewReader("bombs,Bombs\nBROKEN\n\nfancy, Fancy , Sky shots\n"))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "bombs", rows[0].Category.Code)
	assert.Empty(t, rows[0].Err)
	assert.Equal(t, 2, rows[1].Line)
	assert.NotEmpty(t, rows[1].Err)
	assert.Equal(t, 4, rows[2].Line)
	assert.Equal(t, "Fancy", rows[2].Category.Name)
	assert.Equal(t, "Sky shots", rows[2].Category.Description)
}

func TestReadCategoriesCSVMalformed(t *testing.T) {
	_, err := ReadCategoriesCSV(strings.NewReader("code,name\n\"unterminated,Bad\n"))
	require.Error(t, err)
}

func TestReadProductsCSV(t *testing.T) {
	body := "code,name,category,price,stock,discount_percent\n" +
		"spk2,Sparklers 15cm,sparklers,15.50,20,5\n" +
		"FLR1,Flower Pots,FLOWERPOTS,45,,\n" +
		"BAD1,Bad Price,BOMBS,abc,1\n" +
		"BAD2,Bad Stock,BOMBS,10,many\n" +
		"SHORT,Short\n"
	rows, err := ReadProductsCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Empty(t, rows[0].Err)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "spk2", rows[0].Product.Code)
	assert.True(t, rows[0].Product.Price.Equal(decimal.RequireFromString("15.5")))
	assert.Equal(t, 20, rows[0].Product.Stock)
	assert.True(t, rows[0].Product.DiscountPercent.Equal(decimal.NewFromInt(5)))

	assert.Empty(t, rows[1].Err)
	assert.Equal(t, 0, rows[1].Product.Stock)
	assert.True(t, rows[1].Product.DiscountPercent.IsZero())

	assert.Equal(t, "price must be a number", rows[2].Err)
	assert.Equal(t, "stock must be a whole number", rows[3].Err)
	assert.Equal(t, 6, rows[4].Line)
	assert.NotEmpty(t, rows[4].Err)
}

func TestWriteCustomersCSV(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, WriteCustomersCSV(&buf, []domain.Customer{
		{Phone: "+91 90000 00001", Name: "Ravi", Address: "12 Bazaar St", CreatedAt: at, UpdatedAt: at},
	}))
	assert.Equal(t,
		"phone,name,address,created_at,updated_at\n+91 90000 00001,Ravi,12 Bazaar St,2026-10-01 08:00:00,2026-10-01 08:00:00\n",
		buf.String())
}
