package report

import (
	"fmt"
	"html/template"
	"io"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/domain"
)

// salesHTMLTmpl renders a printable sales report. Field values are escaped by
// html/template.
var salesHTMLTmpl = template.Must(template.New("sales-report").Funcs(template.FuncMap{
	"money": func(v decimal.Decimal) string { return v.StringFixed(2) },
	"stamp": func(r domain.SaleRecord) string { return r.SoldAt.Format(timeLayout) },
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Sales Report {{.Label}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Sales Report {{.Label}}</h2>
  <p>Bills: {{.Bills}} | Items: {{.TotalQty}} | Revenue: {{money .TotalRevenue}}</p>

  <table>
    <thead><tr><th>Bill</th><th>Time</th><th>Item</th><th>Category</th><th>Qty</th><th>Price</th><th>Disc %</th><th>Total</th><th>Customer</th></tr></thead>
    <tbody>{{range .Records}}<tr><td>{{.BillID}}</td><td>{{stamp .}}</td><td>{{.ItemName}}</td><td>{{.Category}}</td><td class="num">{{.Qty}}</td><td class="num">{{money .UnitPrice}}</td><td class="num">{{.DiscountPercent}}</td><td class="num">{{money .LineTotal}}</td><td>{{.CustomerPhone}}</td></tr>
    {{else}}<tr><td colspan="9">No sales in this period.</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func WriteSalesHTML(w io.Writer, report domain.SalesReport) error {
	if err := salesHTMLTmpl.Execute(w, report); err != nil {
		return fmt.Errorf("render sales report: %w", err)
	}
	return nil
}
