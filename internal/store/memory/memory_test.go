package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

func TestAdjustStockRecordsKardexAndClamps(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	exit, err := s.AdjustStock(ctx, domain.StockMovement{ProductID: "CAFE-500G", Quantity: -100, Type: domain.MovementSale, Operator: "caixa"})
	require.NoError(t, err)
	assert.Equal(t, 80.0, exit.PreviousStock)
	assert.Equal(t, 0.0, exit.NewStock)

	product, err := s.GetProduct(ctx, "CAFE-500G")
	require.NoError(t, err)
	assert.Equal(t, 0.0, product.Stock)

	_, err = s.AdjustStock(ctx, domain.StockMovement{ProductID: "CAFE-500G", Quantity: 12, Type: domain.MovementEntry, Operator: "caixa"})
	require.NoError(t, err)

	history, err := s.ListStockMovements(ctx, "CAFE-500G", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 12.0, history[0].NewStock, "newest movement first")
}

func TestListStockMovementsByReference(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, m := range []domain.StockMovement{
		{ProductID: "LEITE-1L", Quantity: -12, Type: domain.MovementSale, Reference: "sale-1"},
		{ProductID: "ARROZ-5KG", Quantity: -1, Type: domain.MovementSale, Reference: "sale-2"},
		{ProductID: "ARROZ-5KG", Quantity: -2, Type: domain.MovementSale, Reference: "sale-1"},
	} {
		m.ID = fmt.Sprintf("mov-%d", i)
		m.CreatedAt = at.Add(time.Duration(i) * time.Minute)
		_, err := s.AdjustStock(ctx, m)
		require.NoError(t, err)
	}

	rows, err := s.ListStockMovementsByReference(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "LEITE-1L", rows[0].ProductID)
	assert.Equal(t, 132.0, rows[0].NewStock)
	assert.Equal(t, "ARROZ-5KG", rows[1].ProductID)
	assert.Equal(t, 117.0, rows[1].NewStock)

	none, err := s.ListStockMovementsByReference(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func usersOf(t *testing.T, s *Store) map[string]domain.UserAccount {
	t.Helper()
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	byName := map[string]domain.UserAccount{}
	for _, u := range users {
		byName[u.Username] = u
	}
	return byName
}

func TestSeededStoreHasNoDefaultCredentials(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")

	assert.Empty(t, usersOf(t, NewSeeded()))

	demo := usersOf(t, NewDemo())
	require.Len(t, demo, 2)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(demo["admin"].Password), []byte(DemoAdminPassword)))
	assert.Equal(t, "cashier", demo["cashier"].Role)
}

func TestSeededStoreUsesOperatorPasswords(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "s3cret-admin")
	t.Setenv("SEED_CASHIER_PASSWORD", "")

	users := usersOf(t, NewSeeded())
	require.Len(t, users, 1)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users["admin"].Password), []byte("s3cret-admin")))
}

func TestAdjustStockUnknownProduct(t *testing.T) {
	s := NewSeeded()

	_, err := s.AdjustStock(context.Background(), domain.StockMovement{ProductID: "NOPE", Quantity: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSaleDeduplicatesByIdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	sale := domain.Sale{
		IdempotencyKey: "idem-1",
		Lines:          []domain.SaleLine{{ProductID: "A", Quantity: 1, UnitPriceCents: 100, SaleMode: domain.SaleModeUnit}},
		TotalCents:     100,
		Status:         domain.SaleStatusPaid,
	}

	first, duplicate, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.False(t, duplicate)

	second, duplicate, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, first.ID, second.ID)

	all, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListSalesKeepsChronologicalOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, key := range []string{"late", "early", "same-as-early"} {
		at := base.Add(time.Hour)
		if i > 0 {
			at = base
		}
		_, _, err := s.CreateSale(ctx, domain.Sale{
			IdempotencyKey: key,
			CustomerName:   key,
			Lines:          []domain.SaleLine{{ProductID: "A", Quantity: 1, UnitPriceCents: 100}},
			CreatedAt:      at,
		})
		require.NoError(t, err)
	}

	sales, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, "early", sales[0].CustomerName)
	assert.Equal(t, "same-as-early", sales[1].CustomerName)
	assert.Equal(t, "late", sales[2].CustomerName)

	limited, err := s.ListSales(ctx, domain.SaleFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "late", limited[0].CustomerName)
}

func TestCancelSaleOnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	created, _, err := s.CreateSale(ctx, domain.Sale{
		IdempotencyKey: "idem-cancel",
		Lines:          []domain.SaleLine{{ProductID: "A", Quantity: 1, UnitPriceCents: 100}},
		Status:         domain.SaleStatusPaid,
	})
	require.NoError(t, err)

	cancelled, err := s.CancelSale(ctx, created.ID, "cliente desistiu", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)

	_, err = s.CancelSale(ctx, created.ID, "de novo", time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrAlreadyCancelled)

	_, err = s.CancelSale(ctx, "missing", "x", time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
