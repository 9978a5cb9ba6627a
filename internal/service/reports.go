package service

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/report"
)

// SalesReport collects the ledger records of one day ("2006-01-02") or one
// month ("2006-01"). An empty date means today or the current month, in UTC.
func (s *Service) SalesReport(ctx context.Context, period string, date string) (domain.SalesReport, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		period = domain.ReportPeriodDay
	}
	date = strings.TrimSpace(date)
	now := s.now().UTC()

	var from, to time.Time
	switch period {
	case domain.ReportPeriodDay:
		if date == "" {
			from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		} else {
			parsed, err := time.Parse("2006-01-02", date)
			if err != nil {
				return domain.SalesReport{}, apperr.Validation("date", "must be YYYY-MM-DD")
			}
			from = parsed.UTC()
		}
		to = from.AddDate(0, 0, 1)
	case domain.ReportPeriodMonth:
		if date == "" {
			from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		} else {
			parsed, err := time.Parse("2006-01", date)
			if err != nil {
				return domain.SalesReport{}, apperr.Validation("date", "must be YYYY-MM")
			}
			from = parsed.UTC()
		}
		to = from.AddDate(0, 1, 0)
	default:
		return domain.SalesReport{}, apperr.Validation("period", "must be day or month")
	}

	records, err := s.repo.ListSales(ctx, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}

	rep := domain.SalesReport{
		Period:       period,
		From:         from,
		To:           to,
		TotalRevenue: decimal.Zero,
		Records:      records,
	}
	if period == domain.ReportPeriodDay {
		rep.Label = from.Format("2006-01-02")
	} else {
		rep.Label = from.Format("2006-01")
	}

	bills := map[string]struct{}{}
	for _, r := range records {
		bills[r.BillID] = struct{}{}
		rep.TotalQty += r.Qty
		rep.TotalRevenue = rep.TotalRevenue.Add(r.LineTotal)
	}
	rep.Bills = len(bills)
	return rep, nil
}

// WriteSalesReport renders a report as "csv" or "html".
func (s *Service) WriteSalesReport(w io.Writer, rep domain.SalesReport, format string) error {
	var err error
	switch format {
	case "csv":
		err = report.WriteSalesCSV(w, rep)
	case "html":
		err = report.WriteSalesHTML(w, rep)
	default:
		return apperr.Validation("format", "must be json, csv or html")
	}
	if err != nil {
		return &apperr.ExportError{Target: "sales-report-" + rep.Label + "." + format, Err: err}
	}
	return nil
}
