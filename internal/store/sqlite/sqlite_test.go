package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func line(code, name string, qty int, price string) domain.SaleRecord {
	p := decimal.RequireFromString(price)
	return domain.SaleRecord{
		ProductCode: code,
		ItemName:    name,
		Qty:         qty,
		UnitPrice:   p,
		LineTotal:   p.Mul(decimal.NewFromInt(int64(qty))),
		Operator:    "staff",
	}
}

func TestOpenSeedsCatalogAndUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 6)
	assert.Equal(t, "BMB1", products[0].Code, "ordered by name")

	flp, err := s.GetProduct(ctx, "FLP1")
	require.NoError(t, err)
	assert.True(t, flp.Price.Equal(decimal.NewFromInt(120)))
	assert.True(t, flp.DiscountPercent.Equal(decimal.NewFromInt(10)))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"), "seeded passwords are bcrypt hashes")

	categories, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 5)
}

func TestCommitSaleAppliesEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	err := s.CommitSale(ctx, domain.Sale{
		BillID:   "INV-1",
		SoldAt:   at,
		Records:  []domain.SaleRecord{line("SPK1", "Sparklers 10cm", 4, "10.00"), line("CHK1", "Ground Chakkar", 2, "80.50")},
		Customer: &domain.Customer{Phone: "9000000001"},
	})
	require.NoError(t, err)

	spk, err := s.GetProduct(ctx, "SPK1")
	require.NoError(t, err)
	assert.Equal(t, 1, spk.Stock)
	assert.Equal(t, 4, spk.SoldQty)

	records, err := s.ListSalesByBill(ctx, "INV-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[1].Line)
	assert.True(t, records[1].LineTotal.Equal(decimal.RequireFromString("161")))
	assert.True(t, records[0].SoldAt.Equal(at))

	customer, err := s.GetCustomer(ctx, "9000000001")
	require.NoError(t, err)
	assert.Equal(t, store.WalkInCustomerName, customer.Name)

	inDay, err := s.ListSales(ctx, at.Truncate(24*time.Hour), at.Truncate(24*time.Hour).Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, inDay, 2)
	before, err := s.ListSales(ctx, at.Add(-time.Hour), at)
	require.NoError(t, err)
	assert.Empty(t, before)
}

func TestCommitSaleRollsBackOnShortage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.CommitSale(ctx, domain.Sale{
		BillID:   "INV-2",
		SoldAt:   time.Now().UTC(),
		Records:  []domain.SaleRecord{line("CHK1", "Ground Chakkar", 2, "80.50"), line("SPK1", "Sparklers 10cm", 6, "10.00")},
		Customer: &domain.Customer{Phone: "9000000002", Name: "Ravi"},
	})
	var shortage *store.StockShortage
	require.True(t, errors.As(err, &shortage), "got %v", err)
	assert.Equal(t, 5, shortage.OnHand)

	chk, _ := s.GetProduct(ctx, "CHK1")
	assert.Equal(t, 60, chk.Stock, "earlier line must be rolled back")
	assert.Equal(t, 0, chk.SoldQty)

	_, err = s.ListSalesByBill(ctx, "INV-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetCustomer(ctx, "9000000002")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertProductAndAdjustStock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, result, err := s.UpsertProduct(ctx, domain.Product{Code: "RKT1", Name: "Rocket Whistling", Category: "ROCKETS", Price: decimal.RequireFromString("155"), Stock: 4})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, result)
	assert.Equal(t, 12, p.Stock)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(155)))

	_, result, err = s.UpsertProduct(ctx, domain.Product{Code: "NEW1", Name: "Twinkling Star", Price: decimal.NewFromInt(5), Stock: 3})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertCreated, result)

	_, err = s.AdjustStock(ctx, "NEW1", -4, 0)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	p, err = s.AdjustStock(ctx, "NEW1", -3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)

	_, err = s.AdjustStock(ctx, "MISSING", 1, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStockUpdatesCannotWrapAround(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertProduct(ctx, domain.Product{Code: "RKT1", Name: "Rocket Whistling", Category: "ROCKETS", Price: decimal.RequireFromString("150"), Stock: store.MaxStock})
	assert.ErrorIs(t, err, store.ErrStockOutOfRange)
	_, err = s.AdjustStock(ctx, "RKT1", store.MaxStock, 0)
	assert.ErrorIs(t, err, store.ErrStockOutOfRange)

	p, err := s.GetProduct(ctx, "RKT1")
	require.NoError(t, err)
	assert.Equal(t, 8, p.Stock)
}

func TestOpenReportsDefaultCredentials(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_STAFF_PASSWORD", "")
	s := openTestStore(t)
	assert.True(t, s.UsingDefaultCredentials())
}

func TestDeletesGuardReferencedRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitSale(ctx, domain.Sale{
		BillID:  "B-DEL",
		SoldAt:  time.Now().UTC(),
		Records: []domain.SaleRecord{line("SPK1", "Sparklers 10cm", 1, "10.00")},
	}))
	assert.ErrorIs(t, s.DeleteProduct(ctx, "SPK1"), store.ErrConflict)
	require.NoError(t, s.DeleteProduct(ctx, "RKT1"))
	assert.ErrorIs(t, s.DeleteProduct(ctx, "RKT1"), store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteCategory(ctx, "SPARKLERS"), store.ErrConflict)
	_, _, err := s.UpsertCategory(ctx, domain.Category{Code: "GIFTS", Name: "Gift Boxes"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteCategory(ctx, "GIFTS"))
	assert.ErrorIs(t, s.DeleteCategory(ctx, "GIFTS"), store.ErrNotFound)

	_, _, err = s.UpsertCustomer(ctx, domain.Customer{Phone: "9000000001", Name: "Ravi"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteCustomer(ctx, "9000000001"))
	assert.ErrorIs(t, s.DeleteCustomer(ctx, "9000000001"), store.ErrNotFound)
}

func TestSearchProductsEscapesWildcards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hits, err := s.SearchProducts(ctx, "SPARK", "")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.SearchProducts(ctx, "", "rockets")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "RKT1", hits[0].Code)

	hits, err = s.SearchProducts(ctx, "%", "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDirectoryUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, result, err := s.UpsertCustomer(ctx, domain.Customer{Phone: "9000000003", Name: "Meena"})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertCreated, result)
	c, result, err := s.UpsertCustomer(ctx, domain.Customer{Phone: "9000000003", Name: "Meena K", Address: "Temple St"})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, result)
	assert.Equal(t, "Temple St", c.Address)

	_, result, err = s.UpsertCategory(ctx, domain.Category{Code: "BOMBS", Name: "Bombs & Bijili"})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, result)

	result, err = s.UpsertUser(ctx, domain.UserAccount{Username: "cashier1", Password: "hash", Role: domain.RoleStaff, Active: true})
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertCreated, result)
	require.NoError(t, s.UpdateUserPassword(ctx, "cashier1", "hash2"))
	assert.ErrorIs(t, s.UpdateUserPassword(ctx, "ghost", "x"), store.ErrNotFound)
}

func TestReopenKeepsDataWithoutReseeding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.AdjustStock(ctx, "SPK1", 10, 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	p, err := s.GetProduct(ctx, "SPK1")
	require.NoError(t, err)
	assert.Equal(t, 15, p.Stock)
	products, _ := s.ListProducts(ctx)
	assert.Len(t, products, 6)
}
