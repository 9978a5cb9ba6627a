package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/store"
	"crackerpos/backend/internal/xid"
)

type productRow struct {
	Code            string          `gorm:"primaryKey;size:32"`
	Name            string          `gorm:"size:120;not null;index"`
	Category        string          `gorm:"size:64;index"`
	Price           decimal.Decimal `gorm:"type:text;not null"`
	Stock           int             `gorm:"not null;default:0"`
	DiscountPercent decimal.Decimal `gorm:"type:text;not null"`
	SoldQty         int             `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (productRow) TableName() string { return "products" }

type categoryRow struct {
	Code        string `gorm:"primaryKey;size:16"`
	Name        string `gorm:"size:64;not null"`
	Description string `gorm:"size:255"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (categoryRow) TableName() string { return "categories" }

type customerRow struct {
	Phone     string `gorm:"primaryKey;size:20"`
	Name      string `gorm:"size:120;not null"`
	Address   string `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (customerRow) TableName() string { return "customers" }

type saleRow struct {
	ID              string          `gorm:"primaryKey;size:48"`
	BillID          string          `gorm:"size:48;not null;uniqueIndex:idx_sales_bill_line"`
	Line            int             `gorm:"not null;uniqueIndex:idx_sales_bill_line"`
	ProductCode     string          `gorm:"size:32;not null;index"`
	ItemName        string          `gorm:"size:120;not null"`
	Category        string          `gorm:"size:64"`
	Qty             int             `gorm:"not null"`
	UnitPrice       decimal.Decimal `gorm:"type:text;not null"`
	DiscountPercent decimal.Decimal `gorm:"type:text;not null"`
	LineTotal       decimal.Decimal `gorm:"type:text;not null"`
	CustomerPhone   string          `gorm:"size:20;index"`
	Operator        string          `gorm:"size:32"`
	SoldAt          time.Time       `gorm:"not null;index"`
}

func (saleRow) TableName() string { return "sales" }

type userRow struct {
	Username     string `gorm:"primaryKey;size:32"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"size:16;not null"`
	Active       bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

var _ store.Repository = (*Store)(nil)

// Store is the embedded single-file store. SQLite serializes writers, so a
// single pooled connection is used for all access.
type Store struct {
	db *gorm.DB

	defaultCredentials bool
}

// Open connects to the database at dsn, creates the schema and seeds an empty
// catalog. Use ":memory:" or a "file:...?mode=memory" DSN for throwaway stores.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.New(log.New(io.Discard, "", log.LstdFlags), gormlogger.Config{LogLevel: gormlogger.Silent}),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: conn}
	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := s.seed(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&productRow{}, &categoryRow{}, &customerRow{}, &saleRow{}, &userRow{}); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// UsingDefaultCredentials reports whether this process seeded the accounts
// with the dev passwords.
func (s *Store) UsingDefaultCredentials() bool {
	return s.defaultCredentials
}

func (s *Store) seed(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var products int64
		if err := tx.Model(&productRow{}).Count(&products).Error; err != nil {
			return err
		}
		if products == 0 {
			rows := make([]productRow, 0, 8)
			for _, p := range store.SeedProducts() {
				rows = append(rows, toProductRow(p))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("seed products: %w", err)
			}
			cats := make([]categoryRow, 0, 8)
			for _, c := range store.SeedCategories() {
				cats = append(cats, categoryRow{Code: c.Code, Name: c.Name, Description: c.Description})
			}
			if err := tx.Create(&cats).Error; err != nil {
				return fmt.Errorf("seed categories: %w", err)
			}
		}

		var users int64
		if err := tx.Model(&userRow{}).Count(&users).Error; err != nil {
			return err
		}
		if users == 0 {
			seeds, usingDefaults, err := store.SeedUsers()
			if err != nil {
				return err
			}
			s.defaultCredentials = usingDefaults
			for _, u := range seeds {
				if err := tx.Create(&userRow{Username: u.Username, PasswordHash: u.Password, Role: u.Role, Active: u.Active, CreatedAt: u.CreatedAt}).Error; err != nil {
					return fmt.Errorf("seed users: %w", err)
				}
			}
		}
		return nil
	})
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := s.db.WithContext(ctx).Order("name, code").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) SearchProducts(ctx context.Context, text string, category string) ([]domain.Product, error) {
	q := s.db.WithContext(ctx).Model(&productRow{})
	if needle := strings.ToLower(strings.TrimSpace(text)); needle != "" {
		pattern := "%" + likeEscaper.Replace(needle) + "%"
		q = q.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(code) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	if category = strings.TrimSpace(category); category != "" {
		q = q.Where("UPPER(category) = ?", strings.ToUpper(category))
	}

	var rows []productRow
	if err := q.Order("name, code").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toProducts(rows), nil
}

func (s *Store) GetProduct(ctx context.Context, code string) (*domain.Product, error) {
	var row productRow
	if err := s.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	p := fromProductRow(row)
	return &p, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, domain.UpsertResult, error) {
	if product.Code == "" || product.Name == "" || product.Stock < 0 || product.Stock > store.MaxStock || product.Price.IsNegative() {
		return nil, "", store.ErrInvalidInput
	}

	var (
		saved  productRow
		result domain.UpsertResult
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing productRow
		err := tx.Where("code = ?", product.Code).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := toProductRow(product)
			row.SoldQty = 0
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			saved, result = row, domain.UpsertCreated
			return nil
		case err != nil:
			return err
		}

		if _, ok := store.StockAfter(existing.Stock, product.Stock); !ok {
			return store.ErrStockOutOfRange
		}
		if err := tx.Model(&existing).Updates(map[string]any{
			"name":             product.Name,
			"category":         product.Category,
			"price":            product.Price,
			"discount_percent": product.DiscountPercent,
			"stock":            gorm.Expr("stock + ?", product.Stock),
		}).Error; err != nil {
			return err
		}
		if err := tx.Where("code = ?", product.Code).Take(&saved).Error; err != nil {
			return err
		}
		result = domain.UpsertUpdated
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	p := fromProductRow(saved)
	return &p, result, nil
}

func (s *Store) AdjustStock(ctx context.Context, code string, deltaQty int, deltaSold int) (*domain.Product, error) {
	var saved productRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current productRow
		if err := tx.Where("code = ?", code).Take(&current).Error; err != nil {
			return notFound(err)
		}
		if _, ok := store.StockAfter(current.SoldQty, deltaSold); !ok {
			return store.ErrInvalidInput
		}
		if _, ok := store.StockAfter(current.Stock, deltaQty); !ok && deltaQty > 0 {
			return store.ErrStockOutOfRange
		}

		res := tx.Model(&productRow{}).
			Where("code = ? AND stock + ? >= 0", code, deltaQty).
			Updates(map[string]any{
				"stock":      gorm.Expr("stock + ?", deltaQty),
				"sold_qty":   gorm.Expr("sold_qty + ?", deltaSold),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &store.StockShortage{Code: code, Requested: -deltaQty, OnHand: current.Stock}
		}
		return tx.Where("code = ?", code).Take(&saved).Error
	})
	if err != nil {
		return nil, err
	}
	p := fromProductRow(saved)
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, code string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sold int64
		if err := tx.Model(&saleRow{}).Where("product_code = ?", code).Count(&sold).Error; err != nil {
			return err
		}
		if sold > 0 {
			return store.ErrConflict
		}
		res := tx.Where("code = ?", code).Delete(&productRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// CommitSale decrements stock with a conditional update per product, inserts
// the ledger rows and merges the customer in one transaction.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) error {
	if sale.BillID == "" || len(sale.Records) == 0 {
		return store.ErrInvalidInput
	}

	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		totals := store.AggregateQuantities(sale.Records)
		codes := make([]string, 0, len(totals))
		for code := range totals {
			codes = append(codes, code)
		}
		sort.Strings(codes)

		for _, code := range codes {
			qty := totals[code]
			res := tx.Model(&productRow{}).
				Where("code = ? AND stock >= ?", code, qty).
				Updates(map[string]any{
					"stock":      gorm.Expr("stock - ?", qty),
					"sold_qty":   gorm.Expr("sold_qty + ?", qty),
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var current productRow
				if err := tx.Where("code = ?", code).Take(&current).Error; err != nil {
					return fmt.Errorf("product %s: %w", code, notFound(err))
				}
				return &store.StockShortage{Code: code, Requested: qty, OnHand: current.Stock}
			}
		}

		rows := make([]saleRow, 0, len(sale.Records))
		for i, r := range sale.Records {
			if r.Qty < 1 {
				return store.ErrInvalidInput
			}
			if r.ID == "" {
				r.ID = xid.New("sale")
			}
			if r.SoldAt.IsZero() {
				r.SoldAt = sale.SoldAt
			}
			rows = append(rows, saleRow{
				ID:              r.ID,
				BillID:          sale.BillID,
				Line:            i + 1,
				ProductCode:     r.ProductCode,
				ItemName:        r.ItemName,
				Category:        r.Category,
				Qty:             r.Qty,
				UnitPrice:       r.UnitPrice,
				DiscountPercent: r.DiscountPercent,
				LineTotal:       r.LineTotal,
				CustomerPhone:   r.CustomerPhone,
				Operator:        r.Operator,
				SoldAt:          r.SoldAt.UTC(),
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert sale rows: %w", err)
		}

		if sale.Customer == nil || sale.Customer.Phone == "" {
			return nil
		}
		var existing *domain.Customer
		var row customerRow
		err := tx.Where("phone = ?", sale.Customer.Phone).Take(&row).Error
		switch {
		case err == nil:
			c := fromCustomerRow(row)
			existing = &c
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		merged := store.MergeCustomer(existing, *sale.Customer, now)
		return tx.Save(&customerRow{
			Phone:     merged.Phone,
			Name:      merged.Name,
			Address:   merged.Address,
			CreatedAt: merged.CreatedAt,
			UpdatedAt: merged.UpdatedAt,
		}).Error
	})
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleRecord, error) {
	var rows []saleRow
	if err := s.db.WithContext(ctx).
		Where("sold_at >= ? AND sold_at < ?", from.UTC(), to.UTC()).
		Order("sold_at, bill_id, line").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toSaleRecords(rows), nil
}

func (s *Store) ListSalesByBill(ctx context.Context, billID string) ([]domain.SaleRecord, error) {
	var rows []saleRow
	if err := s.db.WithContext(ctx).Where("bill_id = ?", billID).Order("line").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return toSaleRecords(rows), nil
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, domain.UpsertResult, error) {
	if customer.Phone == "" || customer.Name == "" {
		return nil, "", store.ErrInvalidInput
	}

	var (
		saved  customerRow
		result domain.UpsertResult
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("phone = ?", customer.Phone).Take(&saved).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			saved = customerRow{Phone: customer.Phone, Name: customer.Name, Address: customer.Address}
			result = domain.UpsertCreated
			return tx.Create(&saved).Error
		case err != nil:
			return err
		}
		saved.Name = customer.Name
		saved.Address = customer.Address
		result = domain.UpsertUpdated
		return tx.Save(&saved).Error
	})
	if err != nil {
		return nil, "", err
	}
	c := fromCustomerRow(saved)
	return &c, result, nil
}

func (s *Store) GetCustomer(ctx context.Context, phone string) (*domain.Customer, error) {
	var row customerRow
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	c := fromCustomerRow(row)
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var rows []customerRow
	if err := s.db.WithContext(ctx).Order("name, phone").Find(&rows).Error; err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, 0, len(rows))
	for _, row := range rows {
		customers = append(customers, fromCustomerRow(row))
	}
	return customers, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, phone string) error {
	res := s.db.WithContext(ctx).Where("phone = ?", phone).Delete(&customerRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertCategory(ctx context.Context, category domain.Category) (*domain.Category, domain.UpsertResult, error) {
	if category.Code == "" || category.Name == "" {
		return nil, "", store.ErrInvalidInput
	}

	var (
		saved  categoryRow
		result domain.UpsertResult
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("code = ?", category.Code).Take(&saved).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			saved = categoryRow{Code: category.Code, Name: category.Name, Description: category.Description}
			result = domain.UpsertCreated
			return tx.Create(&saved).Error
		case err != nil:
			return err
		}
		saved.Name = category.Name
		saved.Description = category.Description
		result = domain.UpsertUpdated
		return tx.Save(&saved).Error
	})
	if err != nil {
		return nil, "", err
	}
	return &domain.Category{
		Code:        saved.Code,
		Name:        saved.Name,
		Description: saved.Description,
		CreatedAt:   saved.CreatedAt,
		UpdatedAt:   saved.UpdatedAt,
	}, result, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var rows []categoryRow
	if err := s.db.WithContext(ctx).Order("code").Find(&rows).Error; err != nil {
		return nil, err
	}
	categories := make([]domain.Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, domain.Category{
			Code:        row.Code,
			Name:        row.Name,
			Description: row.Description,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return categories, nil
}

func (s *Store) DeleteCategory(ctx context.Context, code string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inUse int64
		if err := tx.Model(&productRow{}).Where("category = ?", code).Count(&inUse).Error; err != nil {
			return err
		}
		if inUse > 0 {
			return store.ErrConflict
		}
		res := tx.Where("code = ?", code).Delete(&categoryRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) UpsertUser(ctx context.Context, user domain.UserAccount) (domain.UpsertResult, error) {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return "", store.ErrInvalidInput
	}

	var result domain.UpsertResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing userRow
		err := tx.Where("username = ?", user.Username).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			result = domain.UpsertCreated
			return tx.Create(&userRow{
				Username:     user.Username,
				PasswordHash: user.Password,
				Role:         user.Role,
				Active:       user.Active,
				CreatedAt:    user.CreatedAt,
			}).Error
		case err != nil:
			return err
		}
		result = domain.UpsertUpdated
		return tx.Model(&existing).Updates(map[string]any{
			"password_hash": user.Password,
			"role":          user.Role,
			"active":        user.Active,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("username").Find(&rows).Error; err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.UserAccount{
			Username:  row.Username,
			Password:  row.PasswordHash,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: row.CreatedAt,
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("username = ?", username).Update("password_hash", password)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func toProductRow(p domain.Product) productRow {
	return productRow{
		Code:            p.Code,
		Name:            p.Name,
		Category:        p.Category,
		Price:           p.Price,
		Stock:           p.Stock,
		DiscountPercent: p.DiscountPercent,
		SoldQty:         p.SoldQty,
	}
}

func fromProductRow(row productRow) domain.Product {
	return domain.Product{
		Code:            row.Code,
		Name:            row.Name,
		Category:        row.Category,
		Price:           row.Price,
		Stock:           row.Stock,
		DiscountPercent: row.DiscountPercent,
		SoldQty:         row.SoldQty,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func toProducts(rows []productRow) []domain.Product {
	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, fromProductRow(row))
	}
	return products
}

func fromCustomerRow(row customerRow) domain.Customer {
	return domain.Customer{
		Phone:     row.Phone,
		Name:      row.Name,
		Address:   row.Address,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func toSaleRecords(rows []saleRow) []domain.SaleRecord {
	records := make([]domain.SaleRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.SaleRecord{
			ID:              row.ID,
			BillID:          row.BillID,
			Line:            row.Line,
			ProductCode:     row.ProductCode,
			ItemName:        row.ItemName,
			Category:        row.Category,
			Qty:             row.Qty,
			UnitPrice:       row.UnitPrice,
			DiscountPercent: row.DiscountPercent,
			LineTotal:       row.LineTotal,
			CustomerPhone:   row.CustomerPhone,
			Operator:        row.Operator,
			SoldAt:          row.SoldAt,
		})
	}
	return records
}
