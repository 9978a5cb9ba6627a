package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/report"
	"crackerpos/backend/internal/store"
)

var hundred = decimal.NewFromInt(100)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, code string) (domain.Product, error) {
	code = normalizeCode(code)
	product, err := s.repo.GetProduct(ctx, code)
	if err != nil {
		return domain.Product{}, translateStoreErr(err, "product", code)
	}
	return *product, nil
}

// UpsertProduct creates a product or updates an existing one. On an existing
// code the request's stock is added to what is on hand.
func (s *Service) UpsertProduct(ctx context.Context, req domain.ProductUpsertRequest) (domain.ProductUpsertResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ProductUpsertResponse{}, err
	}
	return s.upsertProduct(ctx, req)
}

func (s *Service) upsertProduct(ctx context.Context, req domain.ProductUpsertRequest) (domain.ProductUpsertResponse, error) {
	product := domain.Product{
		Code:            normalizeCode(req.Code),
		Name:            strings.TrimSpace(req.Name),
		Category:        normalizeCode(req.Category),
		Price:           req.Price,
		Stock:           req.Stock,
		DiscountPercent: req.DiscountPercent,
	}
	switch {
	case product.Code == "":
		return domain.ProductUpsertResponse{}, apperr.Validation("code", "is required")
	case product.Name == "":
		return domain.ProductUpsertResponse{}, apperr.Validation("name", "is required")
	case product.Price.IsNegative():
		return domain.ProductUpsertResponse{}, apperr.Validation("price", "must not be negative")
	case product.DiscountPercent.IsNegative() || product.DiscountPercent.GreaterThan(hundred):
		return domain.ProductUpsertResponse{}, apperr.Validation("discount_percent", "must be between 0 and 100")
	case product.Stock < 0:
		return domain.ProductUpsertResponse{}, apperr.Validation("stock", "must not be negative")
	case product.Stock > store.MaxStock:
		return domain.ProductUpsertResponse{}, apperr.Validation("stock", fmt.Sprintf("must not exceed %d", store.MaxStock))
	}
	product.Price = product.Price.Round(2)

	saved, result, err := s.repo.UpsertProduct(ctx, product)
	if err != nil {
		return domain.ProductUpsertResponse{}, translateStoreErr(err, "product", product.Code)
	}

	s.invalidateDashboard(ctx)
	s.audit(ctx, "product_"+string(result), "product", saved.Code, fmt.Sprintf("price=%s,stock=%d", saved.Price.StringFixed(2), saved.Stock))
	return domain.ProductUpsertResponse{Product: *saved, Result: result}, nil
}

// AdjustStock applies a signed correction to on-hand stock. Stock can never
// go below zero.
func (s *Service) AdjustStock(ctx context.Context, code string, delta int) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	code = normalizeCode(code)
	if delta == 0 {
		return domain.Product{}, apperr.Validation("delta", "must not be zero")
	}
	if delta > store.MaxStock || delta < -store.MaxStock {
		return domain.Product{}, apperr.Validation("delta", "is out of range")
	}

	product, err := s.repo.AdjustStock(ctx, code, delta, 0)
	if err != nil {
		return domain.Product{}, translateStoreErr(err, "product", code)
	}

	s.invalidateDashboard(ctx)
	s.audit(ctx, "stock_adjust", "product", code, fmt.Sprintf("delta=%d,stock=%d", delta, product.Stock))
	return *product, nil
}

// DeleteProduct removes a product that was never billed. Billed products stay
// so the ledger keeps resolving; restock them to zero instead.
func (s *Service) DeleteProduct(ctx context.Context, code string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	code = normalizeCode(code)

	if err := s.repo.DeleteProduct(ctx, code); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return apperr.Conflict("product " + code + " has sales on record")
		}
		return translateStoreErr(err, "product", code)
	}

	s.invalidateDashboard(ctx)
	s.audit(ctx, "product_deleted", "product", code, "")
	return nil
}

// ImportProductsCSV upserts every valid row the way UpsertProduct does, so
// stock on an existing code is added. Invalid rows are skipped and reported.
func (s *Service) ImportProductsCSV(ctx context.Context, r io.Reader) (domain.ImportResult, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ImportResult{}, err
	}

	rows, err := report.ReadProductsCSV(r)
	if err != nil {
		return domain.ImportResult{}, &apperr.ExportError{Target: "products.csv", Err: err}
	}

	var result domain.ImportResult
	for _, row := range rows {
		if row.Err != "" {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %s", row.Line, row.Err))
			continue
		}
		out, err := s.upsertProduct(ctx, row.Product)
		if err != nil {
			if apperr.CodeOf(err) != apperr.CodeValidation {
				return result, err
			}
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", row.Line, err))
			continue
		}
		if out.Result == domain.UpsertCreated {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}
