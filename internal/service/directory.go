package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/report"
	"crackerpos/backend/internal/store"
)

func validatePhone(phone string) error {
	if len(phone) < 4 || len(phone) > 20 {
		return apperr.Validation("phone", "must be 4 to 20 characters")
	}
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == ' ':
		default:
			return apperr.Validation("phone", "may only contain digits, '+', '-' and spaces")
		}
	}
	if digits == 0 {
		return apperr.Validation("phone", "must contain digits")
	}
	return nil
}

func (s *Service) UpsertCustomer(ctx context.Context, req domain.CustomerUpsertRequest) (domain.CustomerUpsertResponse, error) {
	customer := domain.Customer{
		Phone:   strings.TrimSpace(req.Phone),
		Name:    strings.TrimSpace(req.Name),
		Address: strings.TrimSpace(req.Address),
	}
	if err := validatePhone(customer.Phone); err != nil {
		return domain.CustomerUpsertResponse{}, err
	}
	if customer.Name == "" {
		return domain.CustomerUpsertResponse{}, apperr.Validation("name", "is required")
	}

	saved, result, err := s.repo.UpsertCustomer(ctx, customer)
	if err != nil {
		return domain.CustomerUpsertResponse{}, translateStoreErr(err, "customer", customer.Phone)
	}
	s.audit(ctx, "customer_"+string(result), "customer", saved.Phone, "")
	return domain.CustomerUpsertResponse{Customer: *saved, Result: result}, nil
}

func (s *Service) LookupCustomer(ctx context.Context, phone string) (domain.Customer, error) {
	phone = strings.TrimSpace(phone)
	customer, err := s.repo.GetCustomer(ctx, phone)
	if err != nil {
		return domain.Customer{}, translateStoreErr(err, "customer", phone)
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) DeleteCustomer(ctx context.Context, phone string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	phone = strings.TrimSpace(phone)
	if err := s.repo.DeleteCustomer(ctx, phone); err != nil {
		return translateStoreErr(err, "customer", phone)
	}
	s.audit(ctx, "customer_deleted", "customer", phone, "")
	return nil
}

func (s *Service) ExportCustomersCSV(ctx context.Context, w io.Writer) error {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return err
	}
	if err := report.WriteCustomersCSV(w, customers); err != nil {
		return &apperr.ExportError{Target: "customers.csv", Err: err}
	}
	return nil
}

func (s *Service) UpsertCategory(ctx context.Context, req domain.CategoryUpsertRequest) (domain.Category, domain.UpsertResult, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Category{}, "", err
	}
	return s.upsertCategory(ctx, req)
}

func (s *Service) upsertCategory(ctx context.Context, req domain.CategoryUpsertRequest) (domain.Category, domain.UpsertResult, error) {
	category := domain.Category{
		Code:        normalizeCode(req.Code),
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
	}
	switch {
	case category.Code == "":
		return domain.Category{}, "", apperr.Validation("code", "is required")
	case len(category.Code) > 16 || strings.ContainsAny(category.Code, " \t"):
		return domain.Category{}, "", apperr.Validation("code", "must be at most 16 characters without spaces")
	case category.Name == "":
		return domain.Category{}, "", apperr.Validation("name", "is required")
	}

	saved, result, err := s.repo.UpsertCategory(ctx, category)
	if err != nil {
		return domain.Category{}, "", translateStoreErr(err, "category", category.Code)
	}
	s.audit(ctx, "category_"+string(result), "category", saved.Code, "")
	return *saved, result, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

// DeleteCategory removes a category no product is filed under.
func (s *Service) DeleteCategory(ctx context.Context, code string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	code = normalizeCode(code)
	if err := s.repo.DeleteCategory(ctx, code); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return apperr.Conflict("category " + code + " still has products")
		}
		return translateStoreErr(err, "category", code)
	}
	s.audit(ctx, "category_deleted", "category", code, "")
	return nil
}

func (s *Service) ExportCategoriesCSV(ctx context.Context, w io.Writer) error {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	if err := report.WriteCategoriesCSV(w, categories); err != nil {
		return &apperr.ExportError{Target: "categories.csv", Err: err}
	}
	return nil
}

// ImportCategoriesCSV upserts every valid row. Invalid rows are skipped and
// reported; only an unreadable file fails the whole import.
func (s *Service) ImportCategoriesCSV(ctx context.Context, r io.Reader) (domain.ImportResult, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ImportResult{}, err
	}

	rows, err := report.ReadCategoriesCSV(r)
	if err != nil {
		return domain.ImportResult{}, &apperr.ExportError{Target: "categories.csv", Err: err}
	}

	var result domain.ImportResult
	for _, row := range rows {
		if row.Err != "" {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %s", row.Line, row.Err))
			continue
		}
		_, outcome, err := s.upsertCategory(ctx, row.Category)
		if err != nil {
			if apperr.CodeOf(err) != apperr.CodeValidation {
				return result, err
			}
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", row.Line, err))
			continue
		}
		if outcome == domain.UpsertCreated {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}
