package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			a.log.Error(r.Context(), "health check failed", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	resp, err := a.service.UpsertProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Result == domain.UpsertCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), r.PathValue("code")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	product, err := a.service.AdjustStock(r.Context(), r.PathValue("code"), req.Delta)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.OpenSession(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cart": cart})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.GetCart(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := a.service.CloseSession(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	matches, err := a.service.Search(r.Context(), r.PathValue("id"), query.Get("q"), query.Get("category"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": matches})
}

func (a *API) handleAddLine(w http.ResponseWriter, r *http.Request) {
	var req domain.AddToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	resp, err := a.service.AddToCart(r.Context(), r.PathValue("id"), req.Code, string(req.Qty))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	cart, err := a.service.RemoveFromCart(r.Context(), r.PathValue("id"), r.PathValue("code"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

// handleCheckout answers 201 whenever the sale committed. A receipt that could
// not be delivered is reported in receipt_error.
func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
	}

	resp, err := a.service.Checkout(r.Context(), r.PathValue("id"), req)
	if err != nil {
		var exportErr *apperr.ExportError
		if !errors.As(err, &exportErr) || resp.Bill.ID == "" {
			a.writeServiceError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	rcpt, err := a.service.Receipt(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": rcpt})
}

func (a *API) handleReprint(w http.ResponseWriter, r *http.Request) {
	rcpt, err := a.service.Reprint(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": rcpt})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCustomer(r.Context(), r.PathValue("phone")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.LookupCustomer(r.Context(), r.PathValue("phone"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleUpsertCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	resp, err := a.service.UpsertCustomer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Result == domain.UpsertCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *API) handleExportCustomers(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := a.service.ExportCustomersCSV(r.Context(), &buf); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", "customers.csv", buf.Bytes())
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.ListCategories(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (a *API) handleUpsertCategory(w http.ResponseWriter, r *http.Request) {
	var req domain.CategoryUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	category, result, err := a.service.UpsertCategory(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if result == domain.UpsertCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"category": category, "result": result})
}

func (a *API) handleExportCategories(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := a.service.ExportCategoriesCSV(r.Context(), &buf); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", "categories.csv", buf.Bytes())
}

// handleImportCategories takes the CSV either as the raw body or as the
// "file" part of a multipart form.
// uploadedCSV returns the request body, or the "file" part of a multipart
// upload. The closer is nil for a plain body.
func uploadedCSV(r *http.Request) (io.Reader, io.Closer, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, nil, nil
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, apperr.Validation("file", "is required")
	}
	return file, file, nil
}

func (a *API) handleImportCategories(w http.ResponseWriter, r *http.Request) {
	a.handleImport(w, r, a.service.ImportCategoriesCSV)
}

func (a *API) handleImportProducts(w http.ResponseWriter, r *http.Request) {
	a.handleImport(w, r, a.service.ImportProductsCSV)
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request, importCSV func(context.Context, io.Reader) (domain.ImportResult, error)) {
	src, closer, err := uploadedCSV(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	result, err := importCSV(r.Context(), src)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCategory(r.Context(), r.PathValue("code")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	resp, err := a.auth.UpsertUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Result == domain.UpsertCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rep, err := a.service.SalesReport(r.Context(), query.Get("period"), query.Get("date"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, rep)
		return
	case "csv", "html":
	default:
		a.writeServiceError(w, r, apperr.Validation("format", "must be json, csv or html"))
		return
	}

	var buf bytes.Buffer
	if err := a.service.WriteSalesReport(&buf, rep, format); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if format == "csv" {
		writeAttachment(w, "text/csv; charset=utf-8", "sales-"+rep.Label+".csv", buf.Bytes())
		return
	}
	writeAttachment(w, "text/html; charset=utf-8", "", buf.Bytes())
}
