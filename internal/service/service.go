package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/billing"
	"crackerpos/backend/internal/cache"
	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/logger"
	"crackerpos/backend/internal/metrics"
	"crackerpos/backend/internal/receipt"
	"crackerpos/backend/internal/store"
	"crackerpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	DefaultLowStockThreshold = 10
	DefaultDashboardTTL      = 30 * time.Second
	dashboardCacheKey        = "dashboard"
)

// Options carries the collaborators of the billing engine. Nil fields fall
// back to no-op implementations.
type Options struct {
	Receipts          *receipt.Emitter
	DashboardCache    cache.DashboardCache
	Metrics           *metrics.POSMetrics
	Logger            *logger.Logger
	LowStockThreshold int
	DashboardTTL      time.Duration
}

type Service struct {
	repo              store.Repository
	sessions          *billing.Registry
	receipts          *receipt.Emitter
	dashboard         cache.DashboardCache
	metrics           *metrics.POSMetrics
	log               *logger.Logger
	lowStockThreshold int
	dashboardTTL      time.Duration
	now               func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Receipts == nil {
		opts.Receipts = receipt.NewEmitter("", receipt.DefaultWidth)
	}
	if opts.DashboardCache == nil {
		opts.DashboardCache = cache.NoopDashboardCache{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = DefaultLowStockThreshold
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = DefaultDashboardTTL
	}

	return &Service{
		repo:              repo,
		sessions:          billing.NewRegistry(),
		receipts:          opts.Receipts,
		dashboard:         opts.DashboardCache,
		metrics:           opts.Metrics,
		log:               opts.Logger,
		lowStockThreshold: opts.LowStockThreshold,
		dashboardTTL:      opts.DashboardTTL,
		now:               time.Now,
	}
}

func (s *Service) OpenSession(ctx context.Context) (domain.CartView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.CartView{}, apperr.ErrUnauthorized
	}

	session := s.sessions.Open(actor.Username)
	s.metrics.SetOpenSessions(s.sessions.Len())
	s.log.Info(s.log.WithSession(ctx, session.ID()), "billing session opened")
	return session.View(), nil
}

func (s *Service) GetCart(ctx context.Context, sessionID string) (domain.CartView, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	return session.View(), nil
}

// CloseSession discards the session and anything left in its cart.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	err = s.sessions.CloseIf(session.ID(), func(state billing.State) error {
		if state == billing.StateCommitting {
			return apperr.Conflict("checkout in progress")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.SetOpenSessions(s.sessions.Len())
	s.log.Info(s.log.WithSession(ctx, sessionID), "billing session closed")
	return nil
}

// Search returns products whose name or code contains text, optionally within
// one category. With a session, availability accounts for what its cart holds.
func (s *Service) Search(ctx context.Context, sessionID string, text string, category string) ([]domain.ProductMatch, error) {
	products, err := s.repo.SearchProducts(ctx, strings.TrimSpace(text), strings.ToUpper(strings.TrimSpace(category)))
	if err != nil {
		return nil, err
	}

	if sessionID == "" {
		matches := make([]domain.ProductMatch, 0, len(products))
		for _, p := range products {
			matches = append(matches, domain.ProductMatch{Product: p, Available: max(p.Stock, 0)})
		}
		return matches, nil
	}

	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Decorate(products), nil
}

func (s *Service) AddToCart(ctx context.Context, sessionID string, code string, rawQty string) (domain.AddToCartResponse, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.AddToCartResponse{}, err
	}

	qty, err := billing.ParseQuantity(rawQty)
	if err != nil {
		s.metrics.IncCartRejection("validation")
		return domain.AddToCartResponse{}, err
	}

	code = normalizeCode(code)
	if code == "" {
		s.metrics.IncCartRejection("validation")
		return domain.AddToCartResponse{}, apperr.Validation("code", "is required")
	}

	product, err := s.repo.GetProduct(ctx, code)
	if err != nil {
		s.metrics.IncCartRejection("not_found")
		return domain.AddToCartResponse{}, translateStoreErr(err, "product", code)
	}

	view, available, err := session.Add(*product, qty)
	if err != nil {
		var stockErr *apperr.StockError
		if errors.As(err, &stockErr) {
			s.metrics.IncCartRejection("stock")
		}
		return domain.AddToCartResponse{}, err
	}
	return domain.AddToCartResponse{Cart: view, Available: available}, nil
}

func (s *Service) RemoveFromCart(ctx context.Context, sessionID string, code string) (domain.CartView, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	return session.Remove(normalizeCode(code))
}

// Checkout commits the session's cart as one bill. Stock decrements, ledger
// records and the customer upsert are applied atomically by the store; on any
// failure the cart is left as it was. A receipt failure after a successful
// commit is returned as an *apperr.ExportError together with the bill.
func (s *Service) Checkout(ctx context.Context, sessionID string, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	startedAt := time.Now()

	session, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	ctx = s.log.WithSession(ctx, sessionID)

	customer, err := checkoutCustomer(req)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	lines, err := session.BeginCommit()
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	soldAt := s.now().UTC()
	sale, bill := billing.BuildSale(xid.New("INV"), lines, session.Operator(), customer, soldAt)

	if err := s.repo.CommitSale(ctx, sale); err != nil {
		session.FinishCommit(false)
		s.metrics.ObserveCheckout("rolled_back", time.Since(startedAt))
		s.log.Error(ctx, "checkout rolled back", err)
		return domain.CheckoutResponse{}, &apperr.CheckoutError{Err: translateStoreErr(err, "product", "")}
	}
	session.FinishCommit(true)

	s.metrics.ObserveCheckout("committed", time.Since(startedAt))
	s.metrics.AddRevenue(bill.GrandTotal.InexactFloat64())
	s.invalidateDashboard(ctx)
	s.audit(ctx, "checkout", "bill", bill.ID, fmt.Sprintf("items=%d,total=%s,customer=%s", bill.ItemCount, bill.GrandTotal.StringFixed(2), bill.CustomerPhone))

	resp := domain.CheckoutResponse{Bill: bill}
	rcpt, err := s.receipts.Emit(ctx, bill)
	resp.Receipt = rcpt
	if err != nil {
		resp.ReceiptError = err.Error()
		var exportErr *apperr.ExportError
		if errors.As(err, &exportErr) {
			s.metrics.IncExportFailure(exportErr.Target)
		}
		s.log.Error(ctx, "receipt emit failed for committed bill "+bill.ID, err)
		return resp, err
	}
	return resp, nil
}

// Receipt renders a committed bill without sending it anywhere.
func (s *Service) Receipt(ctx context.Context, billID string) (*domain.Receipt, error) {
	bill, err := s.billFromLedger(ctx, billID)
	if err != nil {
		return nil, err
	}
	return s.receipts.Preview(bill), nil
}

// Reprint rebuilds a committed bill from the ledger and sends it to every
// receipt sink again.
func (s *Service) Reprint(ctx context.Context, billID string) (*domain.Receipt, error) {
	bill, err := s.billFromLedger(ctx, billID)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.receipts.Emit(ctx, bill)
	if err != nil {
		var exportErr *apperr.ExportError
		if errors.As(err, &exportErr) {
			s.metrics.IncExportFailure(exportErr.Target)
		}
		return rcpt, err
	}
	s.audit(ctx, "reprint", "bill", bill.ID, "")
	return rcpt, nil
}

func (s *Service) billFromLedger(ctx context.Context, billID string) (domain.Bill, error) {
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return domain.Bill{}, apperr.Validation("bill_id", "is required")
	}
	records, err := s.repo.ListSalesByBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, translateStoreErr(err, "bill", billID)
	}

	var customer *domain.Customer
	if phone := records[0].CustomerPhone; phone != "" {
		if c, err := s.repo.GetCustomer(ctx, phone); err == nil {
			customer = c
		}
	}
	return billing.BillFromRecords(records, customer), nil
}

// session looks up a billing session the caller is allowed to drive: its own,
// or any session for an admin.
func (s *Service) session(ctx context.Context, sessionID string) (*billing.Session, error) {
	session, err := s.sessions.Get(strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if actor.Role != domain.RoleAdmin && actor.Username != session.Operator() {
			return nil, apperr.ErrForbidden
		}
	}
	return session, nil
}

func checkoutCustomer(req domain.CheckoutRequest) (*domain.Customer, error) {
	phone := strings.TrimSpace(req.CustomerPhone)
	if phone == "" {
		return nil, nil
	}
	if err := validatePhone(phone); err != nil {
		return nil, err
	}
	return &domain.Customer{
		Phone:   phone,
		Name:    strings.TrimSpace(req.CustomerName),
		Address: strings.TrimSpace(req.CustomerAddress),
	}, nil
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, apperr.ErrUnauthorized
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, apperr.ErrForbidden
}

func (s *Service) invalidateDashboard(ctx context.Context) {
	if err := s.dashboard.Delete(ctx, dashboardCacheKey); err != nil {
		s.log.Warn(ctx, "dashboard cache invalidation failed: "+err.Error())
	}
}

func (s *Service) audit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	ctx = s.log.WithFields(ctx, map[string]any{
		"audit":       true,
		"action":      action,
		"entity_type": entityType,
		"entity_id":   entityID,
		"actor":       actor.Username,
		"actor_role":  actor.Role,
		"detail":      detail,
	})
	s.log.Info(ctx, "audit")
}

// translateStoreErr maps repository sentinels onto the error taxonomy callers
// and the HTTP layer understand.
func translateStoreErr(err error, kind string, key string) error {
	var shortage *store.StockShortage
	switch {
	case errors.As(err, &shortage):
		return &apperr.StockError{Code: shortage.Code, Requested: shortage.Requested, Max: max(shortage.OnHand, 0)}
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound(kind, key)
	case errors.Is(err, store.ErrStockOutOfRange):
		return apperr.Validation("stock", fmt.Sprintf("must not exceed %d", store.MaxStock))
	case errors.Is(err, store.ErrInvalidInput):
		return apperr.Validation(kind, "is invalid")
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict(kind + " was modified concurrently")
	default:
		return err
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
