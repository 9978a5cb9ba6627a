package billing

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// MaxQuantity is the largest count a single request may carry.
const MaxQuantity = math.MaxInt32

// LineTotal is qty × unit price × (1 − discount/100), rounded to cents.
func LineTotal(unitPrice decimal.Decimal, discountPercent decimal.Decimal, qty int) decimal.Decimal {
	gross := unitPrice.Mul(decimal.NewFromInt(int64(qty)))
	if discountPercent.IsZero() {
		return gross.Round(2)
	}
	factor := hundred.Sub(discountPercent).Div(hundred)
	return gross.Mul(factor).Round(2)
}

// ParseQuantity accepts what an operator typed and returns a positive count.
func ParseQuantity(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, apperr.Validation("qty", "is required")
	}
	qty, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, apperr.Validation("qty", "must be a whole number")
	}
	if qty < 1 {
		return 0, apperr.Validation("qty", "must be at least 1")
	}
	if qty > MaxQuantity {
		return 0, apperr.Validation("qty", "is too large")
	}
	return qty, nil
}

// Cart keeps lines in insertion order with at most one line per product code.
// It is not safe for concurrent use; Session serializes access.
type Cart struct {
	lines []domain.CartLine
}

func (c *Cart) index(code string) int {
	for i := range c.lines {
		if c.lines[i].Code == code {
			return i
		}
	}
	return -1
}

// Quantity reports how many units of code the cart already holds.
func (c *Cart) Quantity(code string) int {
	if i := c.index(code); i >= 0 {
		return c.lines[i].Qty
	}
	return 0
}

// Available is the product's stock minus what this cart already reserved,
// never below zero.
func (c *Cart) Available(product domain.Product) int {
	available := product.Stock - c.Quantity(product.Code)
	if available < 0 {
		return 0
	}
	return available
}

// Add merges qty units of product into the cart. The request fails with a
// StockError when the cart would hold more than product.Stock.
func (c *Cart) Add(product domain.Product, qty int) (domain.CartLine, error) {
	if qty < 1 {
		return domain.CartLine{}, apperr.Validation("qty", "must be at least 1")
	}

	if remaining := c.Available(product); qty > remaining {
		return domain.CartLine{}, &apperr.StockError{Code: product.Code, Requested: qty, Max: remaining}
	}

	if i := c.index(product.Code); i >= 0 {
		line := &c.lines[i]
		line.Qty += qty
		line.LineTotal = LineTotal(line.UnitPrice, line.DiscountPercent, line.Qty)
		return *line, nil
	}

	line := domain.CartLine{
		Code:            product.Code,
		Name:            product.Name,
		Category:        product.Category,
		UnitPrice:       product.Price,
		DiscountPercent: product.DiscountPercent,
		Qty:             qty,
		LineTotal:       LineTotal(product.Price, product.DiscountPercent, qty),
	}
	c.lines = append(c.lines, line)
	return line, nil
}

func (c *Cart) Remove(code string) error {
	i := c.index(code)
	if i < 0 {
		return apperr.NotFound("cart line", code)
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return nil
}

func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) ItemCount() int {
	count := 0
	for _, line := range c.lines {
		count += line.Qty
	}
	return count
}

func (c *Cart) GrandTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.LineTotal)
	}
	return total
}

func (c *Cart) Clear() {
	c.lines = nil
}
