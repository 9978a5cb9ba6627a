package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/store"
	"crackerpos/backend/internal/xid"
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	categories      map[string]domain.Category
	customers       map[string]domain.Customer
	sales           []domain.SaleRecord
	usersByUsername map[string]domain.UserAccount

	defaultCredentials bool

	// failAfterRecords makes CommitSale fail once this many records of a sale
	// have been staged. Zero disables it.
	failAfterRecords int
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		categories:      make(map[string]domain.Category),
		customers:       make(map[string]domain.Customer),
		sales:           make([]domain.SaleRecord, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store holding the demo catalog and the first-boot
// accounts. It panics when a seed password cannot be hashed.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, p := range store.SeedProducts() {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.Code] = p
	}
	for _, c := range store.SeedCategories() {
		c.CreatedAt = now
		c.UpdatedAt = now
		s.categories[c.Code] = c
	}
	users, usingDefaults, err := store.SeedUsers()
	if err != nil {
		panic(fmt.Sprintf("memory store: %v", err))
	}
	s.defaultCredentials = usingDefaults
	for _, u := range users {
		s.usersByUsername[u.Username] = u
	}
	return s
}

// UsingDefaultCredentials reports whether the seeded accounts fell back to
// the dev passwords.
func (s *Store) UsingDefaultCredentials() bool {
	return s.defaultCredentials
}

// FailCommitAfter makes the next commits fail after n records were staged.
// Tests use it to prove checkout leaves no partial state behind.
func (s *Store) FailCommitAfter(n int) {
	s.mu.Lock()
	s.failAfterRecords = n
	s.mu.Unlock()
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sortProducts(products)
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, text string, category string) ([]domain.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(text))
	category = strings.TrimSpace(category)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) && !strings.Contains(strings.ToLower(p.Code), needle) {
			continue
		}
		matches = append(matches, p)
	}
	sortProducts(matches)
	return matches, nil
}

func (s *Store) GetProduct(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) (*domain.Product, domain.UpsertResult, error) {
	if product.Code == "" || product.Name == "" || product.Stock < 0 || product.Stock > store.MaxStock || product.Price.IsNegative() {
		return nil, "", store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.products[product.Code]
	if !ok {
		product.SoldQty = 0
		product.CreatedAt = now
		product.UpdatedAt = now
		s.products[product.Code] = product
		return &product, domain.UpsertCreated, nil
	}

	existing.Name = product.Name
	existing.Category = product.Category
	existing.Price = product.Price
	existing.DiscountPercent = product.DiscountPercent
	stock, ok := store.StockAfter(existing.Stock, product.Stock)
	if !ok {
		return nil, "", store.ErrStockOutOfRange
	}
	existing.Stock = stock
	existing.UpdatedAt = now
	s.products[product.Code] = existing
	return &existing, domain.UpsertUpdated, nil
}

func (s *Store) AdjustStock(_ context.Context, code string, deltaQty int, deltaSold int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	stock, ok := store.StockAfter(p.Stock, deltaQty)
	if !ok {
		if deltaQty < 0 {
			return nil, &store.StockShortage{Code: code, Requested: -deltaQty, OnHand: p.Stock}
		}
		return nil, store.ErrStockOutOfRange
	}
	sold, ok := store.StockAfter(p.SoldQty, deltaSold)
	if !ok {
		return nil, store.ErrInvalidInput
	}
	p.Stock = stock
	p.SoldQty = sold
	p.UpdatedAt = time.Now().UTC()
	s.products[code] = p
	return &p, nil
}

// CommitSale validates every line against the live catalog before touching
// anything, then applies all mutations under one lock.
func (s *Store) DeleteProduct(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[code]; !ok {
		return store.ErrNotFound
	}
	for _, r := range s.sales {
		if r.ProductCode == code {
			return store.ErrConflict
		}
	}
	delete(s.products, code)
	return nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale) error {
	if sale.BillID == "" || len(sale.Records) == 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for code, qty := range store.AggregateQuantities(sale.Records) {
		p, ok := s.products[code]
		if !ok {
			return fmt.Errorf("product %s: %w", code, store.ErrNotFound)
		}
		if p.Stock < qty {
			return &store.StockShortage{Code: code, Requested: qty, OnHand: p.Stock}
		}
	}

	staged := make([]domain.SaleRecord, 0, len(sale.Records))
	for i, record := range sale.Records {
		if s.failAfterRecords > 0 && i >= s.failAfterRecords {
			return fmt.Errorf("ledger write failed at line %d", i+1)
		}
		if record.Qty < 1 {
			return store.ErrInvalidInput
		}
		if record.ID == "" {
			record.ID = xid.New("sale")
		}
		record.BillID = sale.BillID
		record.Line = i + 1
		if record.SoldAt.IsZero() {
			record.SoldAt = sale.SoldAt
		}
		staged = append(staged, record)
	}

	now := time.Now().UTC()
	for code, qty := range store.AggregateQuantities(staged) {
		p := s.products[code]
		p.Stock -= qty
		p.SoldQty += qty
		p.UpdatedAt = now
		s.products[code] = p
	}
	s.sales = append(s.sales, staged...)

	if sale.Customer != nil && sale.Customer.Phone != "" {
		var existing *domain.Customer
		if c, ok := s.customers[sale.Customer.Phone]; ok {
			existing = &c
		}
		s.customers[sale.Customer.Phone] = store.MergeCustomer(existing, *sale.Customer, now)
	}
	return nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.SaleRecord, 0, 32)
	for _, record := range s.sales {
		if record.SoldAt.Before(from) || !record.SoldAt.Before(to) {
			continue
		}
		records = append(records, record)
	}
	sortSales(records)
	return records, nil
}

func (s *Store) ListSalesByBill(_ context.Context, billID string) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.SaleRecord, 0, 8)
	for _, record := range s.sales {
		if record.BillID == billID {
			records = append(records, record)
		}
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	sortSales(records)
	return records, nil
}

func (s *Store) UpsertCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, domain.UpsertResult, error) {
	if customer.Phone == "" || customer.Name == "" {
		return nil, "", store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.customers[customer.Phone]
	if !ok {
		customer.CreatedAt = now
		customer.UpdatedAt = now
		s.customers[customer.Phone] = customer
		return &customer, domain.UpsertCreated, nil
	}

	existing.Name = customer.Name
	existing.Address = customer.Address
	existing.UpdatedAt = now
	s.customers[customer.Phone] = existing
	return &existing, domain.UpsertUpdated, nil
}

func (s *Store) GetCustomer(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool {
		if customers[i].Name == customers[j].Name {
			return customers[i].Phone < customers[j].Phone
		}
		return customers[i].Name < customers[j].Name
	})
	return customers, nil
}

func (s *Store) DeleteCustomer(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[phone]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, phone)
	return nil
}

func (s *Store) UpsertCategory(_ context.Context, category domain.Category) (*domain.Category, domain.UpsertResult, error) {
	if category.Code == "" || category.Name == "" {
		return nil, "", store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.categories[category.Code]
	if !ok {
		category.CreatedAt = now
		category.UpdatedAt = now
		s.categories[category.Code] = category
		return &category, domain.UpsertCreated, nil
	}

	existing.Name = category.Name
	existing.Description = category.Description
	existing.UpdatedAt = now
	s.categories[category.Code] = existing
	return &existing, domain.UpsertUpdated, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		return categories[i].Code < categories[j].Code
	})
	return categories, nil
}

func (s *Store) DeleteCategory(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[code]; !ok {
		return store.ErrNotFound
	}
	for _, p := range s.products {
		if p.Category == code {
			return store.ErrConflict
		}
	}
	delete(s.categories, code)
	return nil
}

func (s *Store) UpsertUser(_ context.Context, user domain.UserAccount) (domain.UpsertResult, error) {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return "", store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.usersByUsername[user.Username]
	if !ok {
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now().UTC()
		}
		s.usersByUsername[user.Username] = user
		return domain.UpsertCreated, nil
	}

	existing.Password = user.Password
	existing.Role = user.Role
	existing.Active = user.Active
	s.usersByUsername[user.Username] = existing
	return domain.UpsertUpdated, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortProducts(products []domain.Product) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name == products[j].Name {
			return products[i].Code < products[j].Code
		}
		return products[i].Name < products[j].Name
	})
}

func sortSales(records []domain.SaleRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].SoldAt.Equal(records[j].SoldAt) {
			return records[i].SoldAt.Before(records[j].SoldAt)
		}
		if records[i].BillID != records[j].BillID {
			return records[i].BillID < records[j].BillID
		}
		return records[i].Line < records[j].Line
	})
}
