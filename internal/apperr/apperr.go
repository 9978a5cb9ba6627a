// Package apperr holds the error taxonomy shared by the billing engine and the
// HTTP layer. Every user-visible failure maps to a Code with fixed metadata.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeNotFound     Code = "NOT_FOUND"
	CodeStock        Code = "STOCK_ERROR"
	CodeCheckout     Code = "CHECKOUT_FAILED"
	CodeExport       Code = "EXPORT_FAILED"
	CodeConflict     Code = "CONFLICT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeInternal     Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:   {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed"},
	CodeNotFound:     {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeStock:        {HTTPStatus: http.StatusConflict, PublicMessage: "insufficient stock"},
	CodeCheckout:     {HTTPStatus: http.StatusInternalServerError, PublicMessage: "checkout failed"},
	CodeExport:       {HTTPStatus: http.StatusBadGateway, PublicMessage: "export failed"},
	CodeConflict:     {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
	CodeUnauthorized: {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeForbidden:    {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeInternal:     {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// ValidationError reports bad or missing input. The operation is a no-op.
type ValidationError struct {
	Field  string
	Reason string
}

func Validation(field string, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Kind string
	Key  string
}

func NotFound(kind string, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// StockError reports that a request exceeds what is still available. Max is
// the largest quantity the caller could still request.
type StockError struct {
	Code      string
	Requested int
	Max       int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, at most %d more available", e.Code, e.Requested, e.Max)
}

// CheckoutError means the commit was rolled back. Nothing from the attempt
// was persisted.
type CheckoutError struct {
	Err error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout failed: %v", e.Err)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// ExportError reports a failed receipt or report hand-off. Data that was
// already committed stays committed.
type ExportError struct {
	Target string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export to %s failed: %v", e.Target, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

type ConflictError struct {
	Reason string
}

func Conflict(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}

func (e *ConflictError) Error() string {
	return e.Reason
}

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("forbidden role")
)

// CodeOf classifies err. A CheckoutError caused by a stock shortfall is
// reported as a stock problem so clients can re-prompt.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var checkoutErr *CheckoutError
	if errors.As(err, &checkoutErr) {
		var stockErr *StockError
		if errors.As(checkoutErr.Err, &stockErr) {
			return CodeStock
		}
		return CodeCheckout
	}

	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		stockErr      *StockError
		exportErr     *ExportError
		conflictErr   *ConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		return CodeValidation
	case errors.As(err, &notFoundErr):
		return CodeNotFound
	case errors.As(err, &stockErr):
		return CodeStock
	case errors.As(err, &exportErr):
		return CodeExport
	case errors.As(err, &conflictErr):
		return CodeConflict
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}

func StatusOf(err error) int {
	return MetadataFor(CodeOf(err)).HTTPStatus
}
