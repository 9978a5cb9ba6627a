package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/store"
)

func sparklerSale(billID string, qty int, customer *domain.Customer) domain.Sale {
	now := time.Now().UTC()
	return domain.Sale{
		BillID: billID,
		SoldAt: now,
		Records: []domain.SaleRecord{{
			ProductCode: "SPK1",
			ItemName:    "Sparklers 10cm",
			Category:    "SPARKLERS",
			Qty:         qty,
			UnitPrice:   decimal.RequireFromString("10.00"),
			LineTotal:   decimal.RequireFromString("10.00").Mul(decimal.NewFromInt(int64(qty))),
		}},
		Customer: customer,
	}
}

func TestCommitSaleDecrementsStockAndRecordsSale(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if err := s.CommitSale(ctx, sparklerSale("INV-1", 4, nil)); err != nil {
		t.Fatalf("commit sale: %v", err)
	}

	p, err := s.GetProduct(ctx, "SPK1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.Stock != 1 || p.SoldQty != 4 {
		t.Fatalf("expected stock 1 sold 4, got stock %d sold %d", p.Stock, p.SoldQty)
	}

	records, err := s.ListSalesByBill(ctx, "INV-1")
	if err != nil {
		t.Fatalf("list by bill: %v", err)
	}
	if len(records) != 1 || records[0].Line != 1 || records[0].ID == "" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestCommitSaleRejectsShortageWithoutSideEffects(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.CommitSale(ctx, sparklerSale("INV-2", 6, nil))
	var shortage *store.StockShortage
	if !errors.As(err, &shortage) || !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected stock shortage, got %v", err)
	}
	if shortage.OnHand != 5 || shortage.Requested != 6 {
		t.Fatalf("unexpected shortage %+v", shortage)
	}

	p, _ := s.GetProduct(ctx, "SPK1")
	if p.Stock != 5 || p.SoldQty != 0 {
		t.Fatalf("stock changed after rejected commit: %+v", p)
	}
	if _, err := s.ListSalesByBill(ctx, "INV-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no records, got %v", err)
	}
}

func TestCommitSaleInjectedFailureIsAtomic(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	s.FailCommitAfter(1)

	sale := sparklerSale("INV-3", 1, &domain.Customer{Phone: "9000000001", Name: "Ravi"})
	sale.Records = append(sale.Records, domain.SaleRecord{
		ProductCode: "CHK1",
		ItemName:    "Ground Chakkar",
		Qty:         2,
		UnitPrice:   decimal.RequireFromString("80.50"),
		LineTotal:   decimal.RequireFromString("161.00"),
	})

	if err := s.CommitSale(ctx, sale); err == nil {
		t.Fatalf("expected injected failure")
	}
	for code, stock := range map[string]int{"SPK1": 5, "CHK1": 60} {
		p, _ := s.GetProduct(ctx, code)
		if p.Stock != stock || p.SoldQty != 0 {
			t.Fatalf("%s changed after failed commit: %+v", code, p)
		}
	}
	if _, err := s.GetCustomer(ctx, "9000000001"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("customer must not be written on failed commit, got %v", err)
	}
}

func TestCommitSaleMergesCustomer(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if err := s.CommitSale(ctx, sparklerSale("INV-4", 1, &domain.Customer{Phone: "9000000002"})); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	c, err := s.GetCustomer(ctx, "9000000002")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if c.Name != store.WalkInCustomerName {
		t.Fatalf("expected walk-in name, got %q", c.Name)
	}

	if err := s.CommitSale(ctx, sparklerSale("INV-5", 1, &domain.Customer{Phone: "9000000002", Name: "Meena", Address: "12 Bazaar St"})); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	c, _ = s.GetCustomer(ctx, "9000000002")
	if c.Name != "Meena" || c.Address != "12 Bazaar St" {
		t.Fatalf("expected merged customer, got %+v", c)
	}
}

func TestUpsertProductAddsStockOnExistingCode(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	p, result, err := s.UpsertProduct(ctx, domain.Product{
		Code:     "SPK1",
		Name:     "Sparklers 10cm Gold",
		Category: "SPARKLERS",
		Price:    decimal.RequireFromString("12.00"),
		Stock:    10,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if result != domain.UpsertUpdated || p.Stock != 15 || !p.Price.Equal(decimal.RequireFromString("12")) {
		t.Fatalf("unexpected upsert result %s %+v", result, p)
	}

	_, result, err = s.UpsertProduct(ctx, domain.Product{Code: "NEW1", Name: "Twinkling Star", Price: decimal.NewFromInt(5), Stock: 3})
	if err != nil || result != domain.UpsertCreated {
		t.Fatalf("expected created, got %s %v", result, err)
	}

	if _, _, err := s.UpsertProduct(ctx, domain.Product{Code: "BAD", Name: "Bad", Stock: -1}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAdjustStockRejectsNegative(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.AdjustStock(ctx, "RKT1", -9, 0); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	p, err := s.AdjustStock(ctx, "RKT1", 2, 0)
	if err != nil || p.Stock != 10 {
		t.Fatalf("expected stock 10, got %+v %v", p, err)
	}
	if _, err := s.AdjustStock(ctx, "NOPE", 1, 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStockUpdatesCannotWrapAround(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	top := domain.Product{Code: "SPK1", Name: "Sparklers 10cm", Category: "SPARKLERS", Price: decimal.RequireFromString("10.00"), Stock: store.MaxStock}
	if _, _, err := s.UpsertProduct(ctx, top); !errors.Is(err, store.ErrStockOutOfRange) {
		t.Fatalf("expected stock out of range on upsert, got %v", err)
	}
	top.Stock = store.MaxStock + 1
	if _, _, err := s.UpsertProduct(ctx, top); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for oversized stock, got %v", err)
	}
	if _, err := s.AdjustStock(ctx, "SPK1", store.MaxStock, 0); !errors.Is(err, store.ErrStockOutOfRange) {
		t.Fatalf("expected stock out of range on adjust, got %v", err)
	}
	if _, err := s.AdjustStock(ctx, "SPK1", math.MinInt, 0); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for min int delta, got %v", err)
	}

	p, err := s.GetProduct(ctx, "SPK1")
	if err != nil || p.Stock != 5 {
		t.Fatalf("stock must be untouched, got %+v %v", p, err)
	}
}

func TestSearchProductsMatchesNameCodeAndCategory(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	hits, _ := s.SearchProducts(ctx, "spark", "")
	if len(hits) != 2 {
		t.Fatalf("expected 2 sparkler hits, got %d", len(hits))
	}
	hits, _ = s.SearchProducts(ctx, "", "rockets")
	if len(hits) != 1 || hits[0].Code != "RKT1" {
		t.Fatalf("expected rocket only, got %+v", hits)
	}
	hits, _ = s.SearchProducts(ctx, "zzz", "")
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}

func TestListSalesFiltersHalfOpenWindow(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	at := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	sale := sparklerSale("INV-6", 1, nil)
	sale.SoldAt = at
	sale.Records[0].SoldAt = at
	if err := s.CommitSale(ctx, sale); err != nil {
		t.Fatalf("commit: %v", err)
	}

	in, _ := s.ListSales(ctx, at, at.Add(time.Hour))
	out, _ := s.ListSales(ctx, at.Add(-time.Hour), at)
	if len(in) != 1 || len(out) != 0 {
		t.Fatalf("expected [from,to) window, got in=%d out=%d", len(in), len(out))
	}
}

func TestNewSeededReportsDefaultCredentials(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_STAFF_PASSWORD", "")
	if !NewSeeded().UsingDefaultCredentials() {
		t.Fatalf("expected dev credentials without seed passwords")
	}

	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secret-1")
	t.Setenv("SEED_STAFF_PASSWORD", "staff-secret-1")
	if NewSeeded().UsingDefaultCredentials() {
		t.Fatalf("expected configured credentials to be used")
	}
}

func TestDeletesGuardReferencedRows(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if err := s.CommitSale(ctx, sparklerSale("B-DEL", 1, nil)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.DeleteProduct(ctx, "SPK1"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for billed product, got %v", err)
	}
	if err := s.DeleteProduct(ctx, "RKT1"); err != nil {
		t.Fatalf("delete product: %v", err)
	}
	if err := s.DeleteProduct(ctx, "RKT1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.DeleteCategory(ctx, "SPARKLERS"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for category in use, got %v", err)
	}
	if err := s.DeleteCategory(ctx, "NOPE"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, _, err := s.UpsertCustomer(ctx, domain.Customer{Phone: "9000000001", Name: "Ravi"}); err != nil {
		t.Fatalf("upsert customer: %v", err)
	}
	if err := s.DeleteCustomer(ctx, "9000000001"); err != nil {
		t.Fatalf("delete customer: %v", err)
	}
	if _, err := s.GetCustomer(ctx, "9000000001"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected customer gone, got %v", err)
	}
}
