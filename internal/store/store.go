package store

import (
	"context"
	"errors"
	"math"
	"time"

	"crackerpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrStockOutOfRange   = errors.New("stock out of range")
)

// MaxStock bounds on-hand and sold quantities; it matches the INTEGER columns
// of the postgres schema.
const MaxStock = math.MaxInt32

// StockAfter applies delta to onHand. ok is false when the result would leave
// [0, MaxStock]; onHand is assumed to be inside that range already.
func StockAfter(onHand int, delta int) (next int, ok bool) {
	if delta > 0 && delta > MaxStock-onHand {
		return onHand, false
	}
	if delta < 0 && delta < -onHand {
		return onHand, false
	}
	return onHand + delta, true
}

// StockShortage is returned (wrapping ErrInsufficientStock) when a checkout
// line or stock adjustment exceeds what is on hand at commit time.
type StockShortage struct {
	Code      string
	Requested int
	OnHand    int
}

func (e *StockShortage) Error() string {
	return "insufficient stock for " + e.Code
}

func (e *StockShortage) Unwrap() error {
	return ErrInsufficientStock
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	SearchProducts(ctx context.Context, text string, category string) ([]domain.Product, error)
	GetProduct(ctx context.Context, code string) (*domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, domain.UpsertResult, error)
	AdjustStock(ctx context.Context, code string, deltaQty int, deltaSold int) (*domain.Product, error)
	// DeleteProduct fails with ErrConflict once the product appears on a bill.
	DeleteProduct(ctx context.Context, code string) error

	CommitSale(ctx context.Context, sale domain.Sale) error
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleRecord, error)
	ListSalesByBill(ctx context.Context, billID string) ([]domain.SaleRecord, error)

	UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, domain.UpsertResult, error)
	GetCustomer(ctx context.Context, phone string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	DeleteCustomer(ctx context.Context, phone string) error

	UpsertCategory(ctx context.Context, category domain.Category) (*domain.Category, domain.UpsertResult, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	// DeleteCategory fails with ErrConflict while products still use the code.
	DeleteCategory(ctx context.Context, code string) error

	UpsertUser(ctx context.Context, user domain.UserAccount) (domain.UpsertResult, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// WalkInCustomerName is used when a checkout names a new phone without a name.
const WalkInCustomerName = "Walk-in"

// MergeCustomer folds a checkout's customer details into the existing entry.
// Blank incoming fields keep what is already on file.
func MergeCustomer(existing *domain.Customer, incoming domain.Customer, now time.Time) domain.Customer {
	if existing == nil {
		merged := incoming
		if merged.Name == "" {
			merged.Name = WalkInCustomerName
		}
		merged.CreatedAt = now
		merged.UpdatedAt = now
		return merged
	}

	merged := *existing
	if incoming.Name != "" {
		merged.Name = incoming.Name
	}
	if incoming.Address != "" {
		merged.Address = incoming.Address
	}
	merged.UpdatedAt = now
	return merged
}

// AggregateQuantities sums the quantity per product code across records.
func AggregateQuantities(records []domain.SaleRecord) map[string]int {
	totals := make(map[string]int, len(records))
	for _, record := range records {
		totals[record.ProductCode] += record.Qty
	}
	return totals
}
