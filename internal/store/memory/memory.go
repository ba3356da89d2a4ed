package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	movements       map[string][]domain.StockMovement
	sales           []*domain.Sale
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]*domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// Demo credentials, only installed by NewDemo.
const (
	DemoAdminPassword   = "admin123"
	DemoCashierPassword = "cashier123"
)

// seedUsers hashes the given accounts. Accounts with an empty password are
// skipped.
func seedUsers(admin string, cashier string) map[string]domain.UserAccount {
	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", admin, "admin"},
		{"cashier", cashier, "cashier"},
	} {
		if u.password == "" {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			zap.L().Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		movements:       make(map[string][]domain.StockMovement),
		sales:           make([]*domain.Sale, 0, 64),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]*domain.Sale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{ID: "ARROZ-5KG", Name: "Arroz Tipo 1 5kg", Category: "mercearia", PriceCents: 2890, CostCents: 2150, UnitsPerBox: 6, Stock: 120, Active: true},
		{ID: "FEIJAO-1KG", Name: "Feijao Carioca 1kg", Category: "mercearia", PriceCents: 849, CostCents: 610, UnitsPerBox: 10, Stock: 200, Active: true},
		{ID: "CAFE-500G", Name: "Cafe Torrado 500g", Category: "mercearia", PriceCents: 1790, CostCents: 1240, UnitsPerBox: 20, Stock: 80, Active: true},
		{ID: "LEITE-1L", Name: "Leite Integral 1L", Category: "laticinios", PriceCents: 549, CostCents: 410, UnitsPerBox: 12, Stock: 144, Active: true},
		{ID: "QUEIJO-KG", Name: "Queijo Mussarela kg", Category: "frios", PriceCents: 4590, CostCents: 3290, UnitsPerBox: 1, SoldByWeight: true, Stock: 25.5, Active: true},
		{ID: "BANANA-KG", Name: "Banana Prata kg", Category: "hortifruti", PriceCents: 699, CostCents: 380, UnitsPerBox: 1, SoldByWeight: true, Stock: 60, Active: true},
		{ID: "REFRI-2L", Name: "Refrigerante 2L", Category: "bebidas", PriceCents: 999, CostCents: 690, UnitsPerBox: 6, Stock: 96, Active: true},
		{ID: "SABAO-1KG", Name: "Sabao em Po 1kg", Category: "limpeza", PriceCents: 1490, CostCents: 990, UnitsPerBox: 12, Stock: 48, Active: true},
	} {
		s.products[p.ID] = p
	}
	// accounts only when the operator supplied passwords
	s.usersByUsername = seedUsers(os.Getenv("SEED_ADMIN_PASSWORD"), os.Getenv("SEED_CASHIER_PASSWORD"))
	return s
}

// NewDemo is NewSeeded plus the well-known demo accounts. It exists for
// DEV_MODE runs and tests.
func NewDemo() *Store {
	s := NewSeeded()
	for username, account := range seedUsers(DemoAdminPassword, DemoCashierPassword) {
		if _, ok := s.usersByUsername[username]; !ok {
			s.usersByUsername[username] = account
		}
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if product.UnitsPerBox < 1 {
		product.UnitsPerBox = 1
	}

	product.Active = true
	product.Stock = 0
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.PriceCents < 1 || product.UnitsPerBox < 1 {
		return nil, store.ErrInvalidTransaction
	}

	// stock only moves through AdjustStock
	product.Stock = existing.Stock
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) AdjustStock(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.ProductID == "" || movement.Quantity == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[movement.ProductID]
	if !exists {
		return nil, fmt.Errorf("product %s: %w", movement.ProductID, store.ErrNotFound)
	}

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	movement.PreviousStock = product.Stock
	movement.NewStock = domain.ApplyStockDelta(product.Stock, movement.Quantity)

	product.Stock = movement.NewStock
	s.products[product.ID] = product
	s.movements[product.ID] = append(s.movements[product.ID], movement)

	return &movement, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.movements[productID]
	result := make([]domain.StockMovement, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		result = append(result, history[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListStockMovementsByReference(_ context.Context, reference string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	if reference == "" {
		return result, nil
	}
	for _, history := range s.movements {
		for _, movement := range history {
			if movement.Reference == reference {
				result = append(result, movement)
			}
		}
	}
	slices.SortStableFunc(result, func(a, b domain.StockMovement) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 {
		return nil, false, store.ErrInvalidTransaction
	}
	if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
		return cloneSale(existing), true, nil
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	stored := cloneSale(&sale)
	s.sales = append(s.sales, stored)
	s.salesByID[stored.ID] = stored
	s.salesByIdem[stored.IdempotencyKey] = stored

	return cloneSale(stored), false, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

// ListSales returns matching sales oldest first; ties keep insertion order.
func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer := strings.ToLower(strings.TrimSpace(filter.Customer))
	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.StoreID != "" && sale.StoreID != filter.StoreID {
			continue
		}
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if customer != "" && strings.ToLower(sale.CustomerName) != customer {
			continue
		}
		result = append(result, *cloneSale(sale))
	}

	slices.SortStableFunc(result, func(a, b domain.Sale) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func (s *Store) CancelSale(_ context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrAlreadyCancelled
	}

	sale.Status = domain.SaleStatusCancelled
	sale.CancelReason = reason
	sale.CancelledAt = &at

	return cloneSale(sale), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("username already exists")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
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

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	out := *src
	out.Lines = append([]domain.SaleLine(nil), src.Lines...)
	out.Payments = append([]domain.Payment(nil), src.Payments...)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		out.CancelledAt = &at
	}
	return &out
}
