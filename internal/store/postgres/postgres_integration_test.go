package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/store"
)

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CRACKERPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CRACKERPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestCommitSaleDecrementsStockAndWritesLedger(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	code := fmt.Sprintf("IT%d", stamp%1_000_000_000)
	billID := fmt.Sprintf("INV-IT-%d", stamp)
	phone := fmt.Sprintf("9%09d", stamp%1_000_000_000)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE bill_id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE phone = $1`, phone)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE code = $1`, code)
	})

	price := decimal.RequireFromString("12.50")
	_, result, err := s.UpsertProduct(ctx, domain.Product{Code: code, Name: "Integration Sparkler", Category: "SPARKLERS", Price: price, Stock: 10})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	if result != domain.UpsertCreated {
		t.Fatalf("expected created, got %s", result)
	}

	soldAt := time.Now().UTC()
	err = s.CommitSale(ctx, domain.Sale{
		BillID: billID,
		SoldAt: soldAt,
		Records: []domain.SaleRecord{{
			ProductCode:   code,
			ItemName:      "Integration Sparkler",
			Category:      "SPARKLERS",
			Qty:           4,
			UnitPrice:     price,
			LineTotal:     price.Mul(decimal.NewFromInt(4)),
			CustomerPhone: phone,
			Operator:      "staff",
		}},
		Customer: &domain.Customer{Phone: phone},
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	product, err := s.GetProduct(ctx, code)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 6 || product.SoldQty != 4 {
		t.Fatalf("expected stock 6 sold 4, got stock %d sold %d", product.Stock, product.SoldQty)
	}

	records, err := s.ListSalesByBill(ctx, billID)
	if err != nil {
		t.Fatalf("list bill: %v", err)
	}
	if len(records) != 1 || !records[0].LineTotal.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("unexpected ledger rows: %+v", records)
	}

	customer, err := s.GetCustomer(ctx, phone)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.Name != store.WalkInCustomerName {
		t.Fatalf("expected walk-in customer, got %q", customer.Name)
	}
}

func TestCommitSaleShortageRollsBack(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	code := fmt.Sprintf("IS%d", stamp%1_000_000_000)
	billID := fmt.Sprintf("INV-IS-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE bill_id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE code = $1`, code)
	})

	price := decimal.RequireFromString("5.00")
	if _, _, err := s.UpsertProduct(ctx, domain.Product{Code: code, Name: "Short Stock", Price: price, Stock: 2}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}

	err := s.CommitSale(ctx, domain.Sale{
		BillID: billID,
		SoldAt: time.Now().UTC(),
		Records: []domain.SaleRecord{{
			ProductCode: code,
			ItemName:    "Short Stock",
			Qty:         3,
			UnitPrice:   price,
			LineTotal:   price.Mul(decimal.NewFromInt(3)),
		}},
	})
	var shortage *store.StockShortage
	if !errors.As(err, &shortage) {
		t.Fatalf("expected stock shortage, got %v", err)
	}
	if shortage.OnHand != 2 {
		t.Fatalf("expected on hand 2, got %d", shortage.OnHand)
	}

	product, err := s.GetProduct(ctx, code)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 2 || product.SoldQty != 0 {
		t.Fatalf("stock changed after failed commit: %+v", product)
	}
	if _, err := s.ListSalesByBill(ctx, billID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no ledger rows, got %v", err)
	}
}
