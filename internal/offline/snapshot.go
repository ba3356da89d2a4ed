package offline

import (
	"context"
	"fmt"
	"strings"

	"caixa/backend/internal/analytics"
	"caixa/backend/internal/domain"
)

// Products returns the locally cached catalog, including optimistic
// deductions for sales made since the last refresh.
func (q *Queue) Products(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if _, err := q.getJSON(ctx, ProductsKey, &products); err != nil {
		return nil, err
	}
	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

func (q *Queue) Customers(ctx context.Context) ([]string, error) {
	return q.names(ctx, CustomersKey)
}

func (q *Queue) Sellers(ctx context.Context) ([]string, error) {
	return q.names(ctx, SellersKey)
}

func (q *Queue) names(ctx context.Context, key string) ([]string, error) {
	var names []string
	if _, err := q.getJSON(ctx, key, &names); err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// RefreshSnapshots overwrites the local product, customer and seller caches
// with the ledger's current view. Local edits are not merged.
func (q *Queue) RefreshSnapshots(ctx context.Context) error {
	products, err := q.ledger.FetchProducts(ctx)
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}
	now := q.opts.Now()
	sales, err := q.ledger.FetchSales(ctx, domain.SaleFilter{
		StoreID: q.opts.StoreID,
		From:    now.Add(-q.opts.SalesWindow),
		To:      now,
	})
	if err != nil {
		return fmt.Errorf("fetch sales: %w", err)
	}

	var customers []string
	for _, stat := range analytics.ClassifyCustomers(sales) {
		customers = append(customers, stat.Name)
	}
	var sellers []string
	for _, stat := range analytics.AggregateBySeller(sales) {
		if stat.Name != analytics.WalkInSellerLabel {
			sellers = append(sellers, stat.Name)
		}
	}

	if err := q.setJSON(ctx, ProductsKey, products); err != nil {
		return err
	}
	if err := q.setJSON(ctx, CustomersKey, nonNil(customers)); err != nil {
		return err
	}
	return q.setJSON(ctx, SellersKey, nonNil(sellers))
}

// applyLocalStock mirrors the ledger's clamped decrement on the snapshot so
// the till shows plausible stock while offline.
func (q *Queue) applyLocalStock(ctx context.Context, draft domain.SaleDraft) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var products []domain.Product
	ok, err := q.getJSON(ctx, ProductsKey, &products)
	if err != nil || !ok {
		return err
	}
	index := make(map[string]int, len(products))
	for i, p := range products {
		index[strings.ToUpper(p.ID)] = i
	}
	for _, line := range draft.Lines {
		i, found := index[strings.ToUpper(strings.TrimSpace(line.ProductID))]
		if !found {
			continue
		}
		products[i].Stock = domain.ApplyStockDelta(products[i].Stock, -line.StockUnits())
	}
	return q.setJSON(ctx, ProductsKey, products)
}

// fillBoxSizes gives box lines without a box size the units per box of the
// cached product, so the local deduction and the ledger agree.
func (q *Queue) fillBoxSizes(ctx context.Context, lines []domain.SaleLine) error {
	missing := false
	for _, line := range lines {
		if line.SaleMode == domain.SaleModeBox && line.BoxSize < 1 {
			missing = true
		}
	}
	if !missing {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var products []domain.Product
	if _, err := q.getJSON(ctx, ProductsKey, &products); err != nil {
		return err
	}
	perBox := make(map[string]int, len(products))
	for _, p := range products {
		perBox[strings.ToUpper(p.ID)] = p.UnitsPerBox
	}
	for i := range lines {
		if lines[i].SaleMode != domain.SaleModeBox || lines[i].BoxSize >= 1 {
			continue
		}
		if size := perBox[strings.ToUpper(strings.TrimSpace(lines[i].ProductID))]; size >= 1 {
			lines[i].BoxSize = size
		}
	}
	return nil
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
