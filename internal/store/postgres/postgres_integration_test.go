package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CAIXA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CAIXA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestAdjustStockClampsAtZero(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	productID := fmt.Sprintf("IT-CLAMP-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	_, err := s.CreateProduct(ctx, domain.Product{ID: productID, Name: "Produto IT", Category: "teste", PriceCents: 1000, UnitsPerBox: 1})
	require.NoError(t, err)

	entry, err := s.AdjustStock(ctx, domain.StockMovement{ProductID: productID, Quantity: 3, Type: domain.MovementEntry, Operator: "it"})
	require.NoError(t, err)
	require.Equal(t, 0.0, entry.PreviousStock)
	require.Equal(t, 3.0, entry.NewStock)

	reference := "sale-" + productID
	exit, err := s.AdjustStock(ctx, domain.StockMovement{ProductID: productID, Quantity: -5, Type: domain.MovementSale, Operator: "it", Reference: reference})
	require.NoError(t, err)
	require.Equal(t, 3.0, exit.PreviousStock)
	require.Equal(t, 0.0, exit.NewStock)

	history, err := s.ListStockMovements(ctx, productID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, exit.ID, history[0].ID)

	byRef, err := s.ListStockMovementsByReference(ctx, reference)
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	require.Equal(t, -3.0, byRef[0].NewStock-byRef[0].PreviousStock)
}

func TestCreateSaleIsIdempotentAndCancelsOnce(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	key := fmt.Sprintf("idem-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id IN (SELECT id FROM sales WHERE idempotency_key = $1)`, key)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE idempotency_key = $1`, key)
	})

	sale := domain.Sale{
		StoreID:        "main-store",
		IdempotencyKey: key,
		CustomerName:   "Ana",
		Payments:       []domain.Payment{{Method: "cash", AmountCents: 2000}},
		Lines:          []domain.SaleLine{{ProductID: "X", Quantity: 2, UnitPriceCents: 1000, SaleMode: domain.SaleModeUnit}},
		TotalCents:     2000,
		PaidCents:      2000,
		Status:         domain.SaleStatusPaid,
	}
	created, duplicate, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	require.False(t, duplicate)

	again, duplicate, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	require.True(t, duplicate)
	require.Equal(t, created.ID, again.ID)
	require.Len(t, again.Lines, 1)
	require.Len(t, again.Payments, 1)

	_, err = s.CancelSale(ctx, created.ID, "erro de digitacao", time.Now().UTC())
	require.NoError(t, err)
	_, err = s.CancelSale(ctx, created.ID, "de novo", time.Now().UTC())
	require.ErrorIs(t, err, store.ErrAlreadyCancelled)
}
