package store

import (
	"context"
	"errors"
	"time"

	"caixa/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrAlreadyCancelled   = errors.New("sale already cancelled")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// AdjustStock applies a signed delta and records the kardex row in one step.
	AdjustStock(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)
	// ListStockMovementsByReference returns every kardex row carrying the
	// reference, oldest first.
	ListStockMovementsByReference(ctx context.Context, reference string) ([]domain.StockMovement, error)

	// CreateSale returns the stored sale and true when the idempotency key was
	// already used; in that case nothing is written.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, bool, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	CancelSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
