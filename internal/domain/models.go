package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

type UpsertResult string

const (
	UpsertCreated UpsertResult = "created"
	UpsertUpdated UpsertResult = "updated"
)

type Product struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Price           decimal.Decimal `json:"price"`
	Stock           int             `json:"stock"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	SoldQty         int             `json:"sold_qty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ProductMatch is a search hit decorated with the stock still available to the
// session that searched.
type ProductMatch struct {
	Product
	Available int `json:"available"`
}

type ProductUpsertRequest struct {
	Code            string          `json:"code" validate:"required,max=32"`
	Name            string          `json:"name" validate:"required,max=120"`
	Category        string          `json:"category" validate:"max=64"`
	Price           decimal.Decimal `json:"price"`
	Stock           int             `json:"stock" validate:"gte=0"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

type ProductUpsertResponse struct {
	Product Product      `json:"product"`
	Result  UpsertResult `json:"result"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta" validate:"ne=0"`
}

type Category struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CategoryUpsertRequest struct {
	Code        string `json:"code" validate:"required,max=16"`
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
}

type ImportResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

type Customer struct {
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CustomerUpsertRequest struct {
	Phone   string `json:"phone" validate:"required,min=4,max=20"`
	Name    string `json:"name" validate:"required,max=120"`
	Address string `json:"address" validate:"max=255"`
}

type CustomerUpsertResponse struct {
	Customer Customer     `json:"customer"`
	Result   UpsertResult `json:"result"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserUpsertRequest struct {
	Username string `json:"username" validate:"required,min=4,max=32"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"required,oneof=admin staff"`
}

type UserUpsertResponse struct {
	User   UserAccount  `json:"user"`
	Result UpsertResult `json:"result"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// Quantity is the raw quantity a client typed. It accepts a JSON number or a
// JSON string so that non-numeric input reaches validation instead of failing
// at decode time.
type Quantity string

func (q *Quantity) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*q = Quantity(s)
		return nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		*q = ""
		return nil
	}
	*q = Quantity(strings.TrimSpace(string(trimmed)))
	return nil
}

type CartLine struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Qty             int             `json:"qty"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type AddToCartRequest struct {
	Code string   `json:"code" validate:"required"`
	Qty  Quantity `json:"qty"`
}

type CartView struct {
	SessionID  string          `json:"session_id"`
	Operator   string          `json:"operator"`
	State      string          `json:"state"`
	Lines      []CartLine      `json:"lines"`
	ItemCount  int             `json:"item_count"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

type AddToCartResponse struct {
	Cart      CartView `json:"cart"`
	Available int      `json:"available"`
}

type CheckoutRequest struct {
	CustomerPhone   string `json:"customer_phone" validate:"omitempty,min=4,max=20"`
	CustomerName    string `json:"customer_name" validate:"max=120"`
	CustomerAddress string `json:"customer_address" validate:"max=255"`
}

// SaleRecord is one persisted line of a committed bill. It is never modified.
type SaleRecord struct {
	ID              string          `json:"id"`
	BillID          string          `json:"bill_id"`
	Line            int             `json:"line"`
	ProductCode     string          `json:"product_code"`
	ItemName        string          `json:"item_name"`
	Category        string          `json:"category"`
	Qty             int             `json:"qty"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	Operator        string          `json:"operator,omitempty"`
	SoldAt          time.Time       `json:"sold_at"`
}

// Sale is everything one checkout writes in a single transaction.
type Sale struct {
	BillID   string
	Records  []SaleRecord
	Customer *Customer
	SoldAt   time.Time
}

type BillLine struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Qty             int             `json:"qty"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type Bill struct {
	ID            string          `json:"bill_id"`
	Lines         []BillLine      `json:"lines"`
	ItemCount     int             `json:"item_count"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Operator      string          `json:"operator"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Receipt struct {
	BillID       string   `json:"bill_id"`
	PreviewText  string   `json:"preview_text"`
	EscposBase64 string   `json:"escpos_base64"`
	FileName     string   `json:"file_name"`
	Targets      []string `json:"targets,omitempty"`
}

type CheckoutResponse struct {
	Bill         Bill     `json:"bill"`
	Receipt      *Receipt `json:"receipt,omitempty"`
	ReceiptError string   `json:"receipt_error,omitempty"`
}

type ProductSales struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	SoldQty  int             `json:"sold_qty"`
	Stock    int             `json:"stock"`
	Price    decimal.Decimal `json:"price"`
}

type CategorySales struct {
	Category string `json:"category"`
	SoldQty  int    `json:"sold_qty"`
}

type Dashboard struct {
	TotalProducts       int             `json:"total_products"`
	StockValue          decimal.Decimal `json:"stock_value"`
	LowStockThreshold   int             `json:"low_stock_threshold"`
	LowStock            []ProductSales  `json:"low_stock"`
	TotalSold           int             `json:"total_sold"`
	TotalRevenue        decimal.Decimal `json:"total_revenue"`
	CategoryPerformance []CategorySales `json:"category_performance"`
	TopProducts         []ProductSales  `json:"top_products"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

const (
	ReportPeriodDay   = "day"
	ReportPeriodMonth = "month"
)

type SalesReport struct {
	Period       string          `json:"period"`
	Label        string          `json:"label"`
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Bills        int             `json:"bills"`
	TotalQty     int             `json:"total_qty"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	Records      []SaleRecord    `json:"records"`
}
