package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
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

// Migrate creates missing tables. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, category, price_cents, cost_cents, units_per_box, sold_by_weight, stock, active`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.CostCents, &p.UnitsPerBox, &p.SoldByWeight, &p.Stock, &p.Active)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
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

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if product.UnitsPerBox < 1 {
		product.UnitsPerBox = 1
	}

	product.Active = true
	product.Stock = 0
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price_cents, cost_cents, units_per_box, sold_by_weight, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,true,now(),now())
	`, product.ID, product.Name, product.Category, product.PriceCents, product.CostCents, product.UnitsPerBox, product.SoldByWeight)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 1 || product.UnitsPerBox < 1 {
		return nil, store.ErrInvalidTransaction
	}

	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_cents = $4, cost_cents = $5, units_per_box = $6, active = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Category, product.PriceCents, product.CostCents, product.UnitsPerBox, product.Active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) AdjustStock(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.ProductID == "" || movement.Quantity == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var previous float64
	err = tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, movement.ProductID).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", movement.ProductID, store.ErrNotFound)
		}
		return nil, err
	}

	movement.PreviousStock = previous
	movement.NewStock = domain.ApplyStockDelta(previous, movement.Quantity)

	if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, movement.ProductID, movement.NewStock); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, quantity, previous_stock, new_stock, type, reason, operator, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, movement.ID, movement.ProductID, movement.Quantity, movement.PreviousStock, movement.NewStock,
		movement.Type, nullIfEmpty(movement.Reason), movement.Operator, nullIfEmpty(movement.Reference), movement.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &movement, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, previous_stock, new_stock, type, reason, operator, reference, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMovements(rows, limit)
}

func (s *Store) ListStockMovementsByReference(ctx context.Context, reference string) ([]domain.StockMovement, error) {
	if reference == "" {
		return []domain.StockMovement{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, previous_stock, new_stock, type, reason, operator, reference, created_at
		FROM stock_movements
		WHERE reference = $1
		ORDER BY created_at, id
	`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows, 0)
}

func scanMovements(rows *sql.Rows, capacity int) ([]domain.StockMovement, error) {
	movements := make([]domain.StockMovement, 0, capacity)
	for rows.Next() {
		var m domain.StockMovement
		var reason, reference sql.NullString
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Quantity, &m.PreviousStock, &m.NewStock, &m.Type, &reason, &m.Operator, &reference, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reason = reason.String
		m.Reference = reference.String
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, bool, error) {
	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 {
		return nil, false, store.ErrInvalidTransaction
	}
	if existing, err := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	payments, err := json.Marshal(sale.Payments)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, store_id, terminal_id, idempotency_key, customer_name, seller_name,
			payment_description, payments, total_cents, paid_cents, profit_cents, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.StoreID, sale.TerminalID, sale.IdempotencyKey, sale.CustomerName, sale.SellerName,
		sale.PaymentDescription, string(payments), sale.TotalCents, sale.PaidCents, sale.ProfitCents, sale.Status, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// lost a race against a concurrent replay of the same key
			_ = tx.Rollback()
			existing, findErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, true, nil
		}
		return nil, false, err
	}

	for i, line := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, quantity, unit_price_cents, unit_cost_cents, sale_mode, box_size)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i, line.ProductID, line.Quantity, line.UnitPriceCents, line.UnitCostCents, string(line.SaleMode), line.BoxSize)
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	created := sale
	return &created, false, nil
}

const saleColumns = `id, store_id, terminal_id, idempotency_key, customer_name, seller_name,
	payment_description, payments, total_cents, paid_cents, profit_cents, status,
	cancel_reason, cancelled_at, created_at`

func scanSale(row interface{ Scan(...any) error }) (domain.Sale, error) {
	var sale domain.Sale
	var payments string
	var cancelReason sql.NullString
	var cancelledAt sql.NullTime
	err := row.Scan(&sale.ID, &sale.StoreID, &sale.TerminalID, &sale.IdempotencyKey, &sale.CustomerName, &sale.SellerName,
		&sale.PaymentDescription, &payments, &sale.TotalCents, &sale.PaidCents, &sale.ProfitCents, &sale.Status,
		&cancelReason, &cancelledAt, &sale.CreatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	if payments != "" {
		if err := json.Unmarshal([]byte(payments), &sale.Payments); err != nil {
			return domain.Sale{}, fmt.Errorf("decode payments for sale %s: %w", sale.ID, err)
		}
	}
	sale.CancelReason = cancelReason.String
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) findSale(ctx context.Context, where string, arg any) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := s.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, `id = $1`, id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, `idempotency_key = $1`, key)
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	var from, to sql.NullTime
	if !filter.From.IsZero() {
		from = sql.NullTime{Time: filter.From, Valid: true}
	}
	if !filter.To.IsZero() {
		to = sql.NullTime{Time: filter.To, Valid: true}
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM (
			SELECT * FROM sales
			WHERE ($1 = '' OR store_id = $1)
				AND ($2::timestamptz IS NULL OR created_at >= $2)
				AND ($3::timestamptz IS NULL OR created_at < $3)
				AND ($4 = '' OR status = $4)
				AND ($5 = '' OR lower(customer_name) = lower($5))
			ORDER BY created_at DESC, seq DESC
			LIMIT $6
		) recent
		ORDER BY created_at ASC, seq ASC
	`, filter.StoreID, from, to, filter.Status, strings.TrimSpace(filter.Customer), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) attachLines(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids = append(ids, sale.ID)
		index[sale.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, quantity, unit_price_cents, unit_cost_cents, sale_mode, box_size
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID, mode string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Quantity, &line.UnitPriceCents, &line.UnitCostCents, &mode, &line.BoxSize); err != nil {
			return err
		}
		line.SaleMode = domain.SaleMode(mode)
		i := index[saleID]
		sales[i].Lines = append(sales[i].Lines, line)
	}
	return rows.Err()
}

func (s *Store) CancelSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancel_reason = $3, cancelled_at = $4
		WHERE id = $1 AND status <> $2
	`, id, domain.SaleStatusCancelled, reason, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.FindSaleByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrAlreadyCancelled
	}
	return s.FindSaleByID(ctx, id)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("username already exists")
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
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
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, strings.ToLower(strings.TrimSpace(username)), password)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
