package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/store"
	"crackerpos/backend/internal/store/postgres/migrations"
	"crackerpos/backend/internal/xid"
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB

	defaultCredentials bool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// UsingDefaultCredentials reports whether this process seeded the accounts
// with the dev passwords.
func (s *Store) UsingDefaultCredentials() bool {
	return s.defaultCredentials
}

// Seed loads the demo catalog into an empty products table and the first-boot
// accounts into an empty users table.
func (s *Store) Seed(ctx context.Context) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var products int
	if err := pgTx.QueryRowContext(ctx, `SELECT count(*) FROM products`).Scan(&products); err != nil {
		return err
	}
	if products == 0 {
		for _, c := range store.SeedCategories() {
			if _, err := pgTx.ExecContext(ctx, `
				INSERT INTO categories (code, name, description) VALUES ($1,$2,$3)
				ON CONFLICT (code) DO NOTHING
			`, c.Code, c.Name, c.Description); err != nil {
				return fmt.Errorf("seed category %s: %w", c.Code, err)
			}
		}
		for _, p := range store.SeedProducts() {
			if _, err := pgTx.ExecContext(ctx, `
				INSERT INTO products (code, name, category, price, stock, discount_percent)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (code) DO NOTHING
			`, p.Code, p.Name, p.Category, p.Price, p.Stock, p.DiscountPercent); err != nil {
				return fmt.Errorf("seed product %s: %w", p.Code, err)
			}
		}
	}

	var users int
	if err := pgTx.QueryRowContext(ctx, `SELECT count(*) FROM app_users`).Scan(&users); err != nil {
		return err
	}
	if users == 0 {
		seeds, usingDefaults, err := store.SeedUsers()
		if err != nil {
			return err
		}
		s.defaultCredentials = usingDefaults
		for _, u := range seeds {
			if _, err := pgTx.ExecContext(ctx, `
				INSERT INTO app_users (username, password, role, active, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,now())
				ON CONFLICT (username) DO NOTHING
			`, u.Username, u.Password, u.Role, u.Active, u.CreatedAt); err != nil {
				return fmt.Errorf("seed user %s: %w", u.Username, err)
			}
		}
	}

	return pgTx.Commit()
}

const productColumns = `code, name, category, price, stock, discount_percent, sold_qty, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.Code, &p.Name, &p.Category, &p.Price, &p.Stock, &p.DiscountPercent, &p.SoldQty, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, code`)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) SearchProducts(ctx context.Context, text string, category string) ([]domain.Product, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(text))) + "%"
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE (lower(name) LIKE $1 OR lower(code) LIKE $1)
		  AND ($2 = '' OR upper(category) = upper($2))
		ORDER BY name, code
	`, pattern, strings.TrimSpace(category))
}

func (s *Store) GetProduct(ctx context.Context, code string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, domain.UpsertResult, error) {
	if product.Code == "" || product.Name == "" || product.Stock < 0 || product.Stock > store.MaxStock || product.Price.IsNegative() {
		return nil, "", store.ErrInvalidInput
	}

	var (
		p        domain.Product
		inserted bool
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (code, name, category, price, stock, discount_percent, sold_qty, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,now(),now())
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			discount_percent = EXCLUDED.discount_percent,
			stock = products.stock + EXCLUDED.stock,
			updated_at = now()
		RETURNING `+productColumns+`, (xmax = 0)
	`, product.Code, product.Name, product.Category, product.Price, product.Stock, product.DiscountPercent).
		Scan(&p.Code, &p.Name, &p.Category, &p.Price, &p.Stock, &p.DiscountPercent, &p.SoldQty, &p.CreatedAt, &p.UpdatedAt, &inserted)
	if err != nil {
		if isNumericOutOfRange(err) {
			return nil, "", store.ErrStockOutOfRange
		}
		return nil, "", err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if inserted {
		return &p, domain.UpsertCreated, nil
	}
	return &p, domain.UpsertUpdated, nil
}

func (s *Store) AdjustStock(ctx context.Context, code string, deltaQty int, deltaSold int) (*domain.Product, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var stock, sold int
	err = pgTx.QueryRowContext(ctx, `SELECT stock, sold_qty FROM products WHERE code = $1 FOR UPDATE`, code).Scan(&stock, &sold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if _, ok := store.StockAfter(stock, deltaQty); !ok {
		if deltaQty < 0 {
			return nil, &store.StockShortage{Code: code, Requested: -deltaQty, OnHand: stock}
		}
		return nil, store.ErrStockOutOfRange
	}
	if _, ok := store.StockAfter(sold, deltaSold); !ok {
		return nil, store.ErrInvalidInput
	}

	p, err := scanProduct(pgTx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, sold_qty = sold_qty + $3, updated_at = now()
		WHERE code = $1
		RETURNING `+productColumns, code, deltaQty, deltaSold))
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProduct relies on the sales foreign key: a product that was ever
// billed cannot be removed.
func (s *Store) DeleteProduct(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE code = $1`, code)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return deletedOne(res)
}

// CommitSale locks the sold product rows, decrements them conditionally,
// writes the ledger rows and merges the customer in one serializable
// transaction.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) error {
	if sale.BillID == "" || len(sale.Records) == 0 {
		return store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	totals := store.AggregateQuantities(sale.Records)
	codes := make([]string, 0, len(totals))
	for code := range totals {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT code, stock
		FROM products
		WHERE code = ANY($1)
		ORDER BY code
		FOR UPDATE
	`, codes)
	if err != nil {
		return err
	}
	onHand := make(map[string]int, len(codes))
	for stockRows.Next() {
		var code string
		var stock int
		if err := stockRows.Scan(&code, &stock); err != nil {
			_ = stockRows.Close()
			return err
		}
		onHand[code] = stock
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return err
	}
	_ = stockRows.Close()

	for _, code := range codes {
		stock, ok := onHand[code]
		if !ok {
			return fmt.Errorf("product %s: %w", code, store.ErrNotFound)
		}
		qty := totals[code]
		if stock < qty {
			return &store.StockShortage{Code: code, Requested: qty, OnHand: stock}
		}
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, sold_qty = sold_qty + $2, updated_at = now()
			WHERE code = $1 AND stock >= $2
		`, code, qty)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return &store.StockShortage{Code: code, Requested: qty, OnHand: stock}
		}
	}

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
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sales (id, bill_id, line, product_code, item_name, category, qty, unit_price, discount_percent, line_total, customer_phone, operator, sold_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, r.ID, sale.BillID, i+1, r.ProductCode, r.ItemName, r.Category, r.Qty, r.UnitPrice, r.DiscountPercent, r.LineTotal,
			nullIfEmpty(r.CustomerPhone), nullIfEmpty(r.Operator), r.SoldAt.UTC()); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("bill %s: %w", sale.BillID, store.ErrConflict)
			}
			return err
		}
	}

	if sale.Customer != nil && sale.Customer.Phone != "" {
		var existing *domain.Customer
		c, err := scanCustomer(pgTx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1 FOR UPDATE`, sale.Customer.Phone))
		switch {
		case err == nil:
			existing = &c
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		merged := store.MergeCustomer(existing, *sale.Customer, time.Now().UTC())
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO customers (phone, name, address, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (phone) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address, updated_at = EXCLUDED.updated_at
		`, merged.Phone, merged.Name, merged.Address, merged.CreatedAt, merged.UpdatedAt); err != nil {
			return err
		}
	}

	if err := pgTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return fmt.Errorf("commit bill %s: %w", sale.BillID, store.ErrConflict)
		}
		return err
	}
	return nil
}

const saleColumns = `id, bill_id, line, product_code, item_name, category, qty, unit_price, discount_percent, line_total, COALESCE(customer_phone, ''), COALESCE(operator, ''), sold_at`

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.SaleRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SaleRecord, 0, 32)
	for rows.Next() {
		var r domain.SaleRecord
		if err := rows.Scan(&r.ID, &r.BillID, &r.Line, &r.ProductCode, &r.ItemName, &r.Category, &r.Qty, &r.UnitPrice,
			&r.DiscountPercent, &r.LineTotal, &r.CustomerPhone, &r.Operator, &r.SoldAt); err != nil {
			return nil, err
		}
		r.SoldAt = r.SoldAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleRecord, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE sold_at >= $1 AND sold_at < $2
		ORDER BY sold_at, bill_id, line
	`, from.UTC(), to.UTC())
}

func (s *Store) ListSalesByBill(ctx context.Context, billID string) ([]domain.SaleRecord, error) {
	records, err := s.querySales(ctx, `SELECT `+saleColumns+` FROM sales WHERE bill_id = $1 ORDER BY line`, billID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return records, nil
}

const customerColumns = `phone, name, address, created_at, updated_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.Phone, &c.Name, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Customer{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *Store) UpsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, domain.UpsertResult, error) {
	if customer.Phone == "" || customer.Name == "" {
		return nil, "", store.ErrInvalidInput
	}

	var (
		c        domain.Customer
		inserted bool
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (phone, name, address, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		ON CONFLICT (phone) DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address, updated_at = now()
		RETURNING `+customerColumns+`, (xmax = 0)
	`, customer.Phone, customer.Name, customer.Address).Scan(&c.Phone, &c.Name, &c.Address, &c.CreatedAt, &c.UpdatedAt, &inserted)
	if err != nil {
		return nil, "", err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, upsertResult(inserted), nil
}

func (s *Store) GetCustomer(ctx context.Context, phone string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE phone = $1`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name, phone`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, phone string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE phone = $1`, phone)
	if err != nil {
		return err
	}
	return deletedOne(res)
}

func (s *Store) UpsertCategory(ctx context.Context, category domain.Category) (*domain.Category, domain.UpsertResult, error) {
	if category.Code == "" || category.Name == "" {
		return nil, "", store.ErrInvalidInput
	}

	var (
		c        domain.Category
		inserted bool
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (code, name, description, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = now()
		RETURNING code, name, description, created_at, updated_at, (xmax = 0)
	`, category.Code, category.Name, category.Description).Scan(&c.Code, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt, &inserted)
	if err != nil {
		return nil, "", err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, upsertResult(inserted), nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, description, created_at, updated_at FROM categories ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.Code, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) DeleteCategory(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM categories
		WHERE code = $1 AND NOT EXISTS (SELECT 1 FROM products WHERE category = $1)
	`, code)
	if err != nil {
		return err
	}
	if err := deletedOne(res); !errors.Is(err, store.ErrNotFound) {
		return err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE code = $1)`, code).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrConflict
	}
	return store.ErrNotFound
}

func (s *Store) UpsertUser(ctx context.Context, user domain.UserAccount) (domain.UpsertResult, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" || user.Role == "" {
		return "", store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (username) DO UPDATE SET password = EXCLUDED.password, role = EXCLUDED.role, active = EXCLUDED.active, updated_at = now()
		RETURNING (xmax = 0)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt).Scan(&inserted)
	if err != nil {
		return "", err
	}
	return upsertResult(inserted), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func upsertResult(inserted bool) domain.UpsertResult {
	if inserted {
		return domain.UpsertCreated
	}
	return domain.UpsertUpdated
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func deletedOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func isNumericOutOfRange(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22003"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
