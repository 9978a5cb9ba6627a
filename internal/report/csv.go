package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	categoryHeader = []string{"code", "name", "description"}
	customerHeader = []string{"phone", "name", "address", "created_at", "updated_at"}
	salesHeader    = []string{"bill_id", "line", "sold_at", "product_code", "item_name", "category", "qty", "unit_price", "discount_percent", "line_total", "customer_phone", "operator"}
)

// cell neutralizes values a spreadsheet would evaluate as a formula.
func cell(v string) string {
	if v != "" && strings.ContainsRune("=@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

func WriteSalesCSV(w io.Writer, report domain.SalesReport) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "period", report.Period},
		{"summary", "label", report.Label},
		{"summary", "bills", strconv.Itoa(report.Bills)},
		{"summary", "total_qty", strconv.Itoa(report.TotalQty)},
		{"summary", "total_revenue", report.TotalRevenue.StringFixed(2)},
		{},
		salesHeader,
	}
	for _, r := range report.Records {
		rows = append(rows, []string{
			r.BillID,
			strconv.Itoa(r.Line),
			r.SoldAt.Format(timeLayout),
			cell(r.ProductCode),
			cell(r.ItemName),
			cell(r.Category),
			strconv.Itoa(r.Qty),
			r.UnitPrice.StringFixed(2),
			r.DiscountPercent.String(),
			r.LineTotal.StringFixed(2),
			cell(r.CustomerPhone),
			cell(r.Operator),
		})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write sales csv: %w", err)
	}
	return nil
}

func WriteCategoriesCSV(w io.Writer, categories []domain.Category) error {
	cw := csv.NewWriter(w)
	rows := make([][]string, 0, len(categories)+1)
	rows = append(rows, categoryHeader)
	for _, c := range categories {
		rows = append(rows, []string{cell(c.Code), cell(c.Name), cell(c.Description)})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write categories csv: %w", err)
	}
	return nil
}

func WriteCustomersCSV(w io.Writer, customers []domain.Customer) error {
	cw := csv.NewWriter(w)
	rows := make([][]string, 0, len(customers)+1)
	rows = append(rows, customerHeader)
	for _, c := range customers {
		rows = append(rows, []string{
			cell(c.Phone),
			cell(c.Name),
			cell(c.Address),
			c.CreatedAt.Format(timeLayout),
			c.UpdatedAt.Format(timeLayout),
		})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write customers csv: %w", err)
	}
	return nil
}

// CategoryRow is one data row of a category import. Line is the 1-based
// line number in the uploaded file.
type CategoryRow struct {
	Line     int
	Category domain.CategoryUpsertRequest
	Err      string
}

// ReadCategoriesCSV parses code,name[,description] rows. The header row is
// optional. Short rows come back with Err set so the caller can skip them.
func ReadCategoriesCSV(r io.Reader) ([]CategoryRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []CategoryRow
	for first := true; ; first = false {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read categories csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if first && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "code") {
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		row := CategoryRow{Line: line}
		if len(record) < 2 {
			row.Err = "expected code,name[,description]"
			rows = append(rows, row)
			continue
		}
		row.Category = domain.CategoryUpsertRequest{
			Code: strings.TrimSpace(record[0]),
			Name: strings.TrimSpace(record[1]),
		}
		if len(record) > 2 {
			row.Category.Description = strings.TrimSpace(record[2])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ProductRow is one data row of a product import.
type ProductRow struct {
	Line    int
	Product domain.ProductUpsertRequest
	Err     string
}

// ReadProductsCSV parses code,name,category,price[,stock[,discount_percent]]
// rows. The header row is optional; blank stock and discount mean zero.
func ReadProductsCSV(r io.Reader) ([]ProductRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []ProductRow
	for first := true; ; first = false {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read products csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if first && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "code") {
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		row := ProductRow{Line: line}
		if len(record) < 4 {
			row.Err = "expected code,name,category,price[,stock[,discount_percent]]"
			rows = append(rows, row)
			continue
		}
		row.Product = domain.ProductUpsertRequest{
			Code:     strings.TrimSpace(record[0]),
			Name:     strings.TrimSpace(record[1]),
			Category: strings.TrimSpace(record[2]),
		}
		if row.Product.Price, err = decimal.NewFromString(strings.TrimSpace(record[3])); err != nil {
			row.Err = "price must be a number"
			rows = append(rows, row)
			continue
		}
		if len(record) > 4 && strings.TrimSpace(record[4]) != "" {
			if row.Product.Stock, err = strconv.Atoi(strings.TrimSpace(record[4])); err != nil {
				row.Err = "stock must be a whole number"
				rows = append(rows, row)
				continue
			}
		}
		if len(record) > 5 && strings.TrimSpace(record[5]) != "" {
			if row.Product.DiscountPercent, err = decimal.NewFromString(strings.TrimSpace(record[5])); err != nil {
				row.Err = "discount_percent must be a number"
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
