package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/analytics"
	"caixa/backend/internal/cache"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
	"caixa/backend/internal/xid"
)

var ErrAdminRequired = errors.New("admin role required")

const (
	roleAdmin   = "admin"
	roleCashier = "cashier"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultStoreID string
	ReportCacheTTL time.Duration
	SellerPattern  *regexp.Regexp
	Now            func() time.Time
}

type Service struct {
	repo           store.Repository
	reports        cache.ReportCache
	analyzer       *analytics.Analyzer
	logger         *zap.Logger
	defaultStoreID string
	reportTTL      time.Duration
	now            func() time.Time
}

func New(repo store.Repository, reports cache.ReportCache, logger *zap.Logger, opts Options) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:           repo,
		reports:        reports,
		analyzer:       analytics.New(analytics.Options{SellerPattern: opts.SellerPattern}),
		logger:         logger,
		defaultStoreID: opts.DefaultStoreID,
		reportTTL:      opts.ReportCacheTTL,
		now:            opts.Now,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if !isAdmin(ctx) {
		return domain.Product{}, ErrAdminRequired
	}

	req.ID = strings.ToUpper(strings.TrimSpace(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.ID == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.PriceCents < 1 || req.CostCents < 0 || req.UnitsPerBox < 0 || !isFinite(req.InitialStock) || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:           req.ID,
		Name:         req.Name,
		Category:     req.Category,
		PriceCents:   req.PriceCents,
		CostCents:    req.CostCents,
		UnitsPerBox:  req.UnitsPerBox,
		SoldByWeight: req.SoldByWeight,
		Active:       true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		movement, err := s.repo.AdjustStock(ctx, domain.StockMovement{
			ID:        xid.New("mov"),
			ProductID: created.ID,
			Quantity:  req.InitialStock,
			Type:      domain.MovementEntry,
			Reason:    domain.ReasonPurchase,
			Operator:  operatorName(ctx),
			CreatedAt: s.now(),
		})
		if err != nil {
			return domain.Product{}, err
		}
		created.Stock = movement.NewStock
	}

	s.logAudit(ctx, "", "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%g", created.Name, created.PriceCents, req.InitialStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if !isAdmin(ctx) {
		return domain.Product{}, ErrAdminRequired
	}

	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.CostCents = *req.CostCents
	}
	if req.UnitsPerBox != nil {
		if *req.UnitsPerBox < 1 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.UnitsPerBox = *req.UnitsPerBox
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "", "product_update", "product", saved.ID, fmt.Sprintf("price=%d->%d,active=%t", existing.PriceCents, saved.PriceCents, saved.Active))
	return *saved, nil
}

// SubmitSale records a confirmed sale. It does not touch stock: callers adjust
// stock with separate AdjustStock calls once the sale id is known.
func (s *Service) SubmitSale(ctx context.Context, draft domain.SaleDraft) (domain.SubmitSaleResponse, error) {
	draft = draft.Clone()
	draft.StoreID = defaultString(strings.TrimSpace(draft.StoreID), s.defaultStoreID)
	draft.IdempotencyKey = strings.TrimSpace(draft.IdempotencyKey)
	if draft.IdempotencyKey == "" {
		draft.IdempotencyKey = xid.New("idem")
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, draft.IdempotencyKey); err == nil {
		return toSubmitResponse(existing, true), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SubmitSaleResponse{}, err
	}

	if len(draft.Lines) == 0 {
		return domain.SubmitSaleResponse{}, store.ErrInvalidTransaction
	}

	var costCents int64
	for i := range draft.Lines {
		line, err := s.normalizeLine(ctx, draft.Lines[i])
		if err != nil {
			return domain.SubmitSaleResponse{}, err
		}
		draft.Lines[i] = line
		costCents += line.CostCents()
	}

	totalCents := draft.LinesTotalCents()
	if draft.TotalCents != totalCents {
		return domain.SubmitSaleResponse{}, fmt.Errorf("%w: total %d does not match lines %d", store.ErrInvalidTransaction, draft.TotalCents, totalCents)
	}

	payments, err := normalizePayments(draft.Payments)
	if err != nil {
		return domain.SubmitSaleResponse{}, err
	}
	paid := draft.PaidCents()

	status := domain.SaleStatusPaid
	if paid < totalCents {
		status = domain.SaleStatusPending
	}

	createdAt := draft.CreatedAt.UTC()
	if draft.CreatedAt.IsZero() {
		createdAt = s.now()
	}

	sellerName := strings.TrimSpace(draft.SellerName)
	sale := domain.Sale{
		ID:                 xid.New("sale"),
		StoreID:            draft.StoreID,
		TerminalID:         strings.TrimSpace(draft.TerminalID),
		IdempotencyKey:     draft.IdempotencyKey,
		CustomerName:       strings.TrimSpace(draft.CustomerName),
		SellerName:         sellerName,
		PaymentDescription: describePayments(payments, sellerName),
		Payments:           payments,
		Lines:              draft.Lines,
		TotalCents:         totalCents,
		PaidCents:          min(paid, totalCents),
		ProfitCents:        totalCents - costCents,
		Status:             status,
		CreatedAt:          createdAt,
	}

	created, duplicate, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SubmitSaleResponse{}, err
	}
	if duplicate {
		return toSubmitResponse(created, true), nil
	}

	s.logAudit(ctx, created.StoreID, "sale_submit", "sale", created.ID, fmt.Sprintf("total=%d,status=%s,terminal=%s", created.TotalCents, created.Status, created.TerminalID))
	return toSubmitResponse(created, false), nil
}

func (s *Service) normalizeLine(ctx context.Context, line domain.SaleLine) (domain.SaleLine, error) {
	line.ProductID = strings.ToUpper(strings.TrimSpace(line.ProductID))
	if line.SaleMode == "" {
		line.SaleMode = domain.SaleModeUnit
	}
	if line.ProductID == "" || !line.SaleMode.Valid() {
		return line, store.ErrInvalidTransaction
	}
	if !isFinite(line.Quantity) || line.Quantity <= 0 || line.UnitPriceCents < 0 || line.UnitCostCents < 0 {
		return line, store.ErrInvalidTransaction
	}

	product, err := s.repo.GetProduct(ctx, line.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return line, fmt.Errorf("%w: unknown product %s", store.ErrInvalidTransaction, line.ProductID)
		}
		return line, err
	}

	switch line.SaleMode {
	case domain.SaleModeWeight:
		if !product.SoldByWeight {
			return line, fmt.Errorf("%w: %s is not sold by weight", store.ErrInvalidTransaction, product.ID)
		}
		line.BoxSize = 0
	case domain.SaleModeBox:
		if line.Quantity != math.Trunc(line.Quantity) {
			return line, store.ErrInvalidTransaction
		}
		if line.BoxSize < 1 {
			line.BoxSize = max(product.UnitsPerBox, 1)
		}
	default:
		if line.Quantity != math.Trunc(line.Quantity) {
			return line, store.ErrInvalidTransaction
		}
		line.BoxSize = 0
	}

	if line.UnitCostCents == 0 {
		line.UnitCostCents = product.CostCents
		if line.SaleMode == domain.SaleModeBox {
			line.UnitCostCents = product.CostCents * int64(line.BoxSize)
		}
	}
	return line, nil
}

// AdjustStock moves stock by a signed quantity. Cashiers may only post sale
// exits; everything else needs an admin.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockMovement, error) {
	req.ProductID = strings.ToUpper(strings.TrimSpace(req.ProductID))
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Reason = strings.ToLower(strings.TrimSpace(req.Reason))
	req.Reference = strings.TrimSpace(req.Reference)

	if req.ProductID == "" || !isFinite(req.Quantity) || req.Quantity == 0 {
		return domain.StockMovement{}, store.ErrInvalidTransaction
	}
	if !isMovementType(req.Type) || (req.Reason != "" && !isMovementReason(req.Reason)) {
		return domain.StockMovement{}, store.ErrInvalidTransaction
	}
	if req.Type == domain.MovementEntry && req.Quantity < 0 {
		return domain.StockMovement{}, store.ErrInvalidTransaction
	}
	if (req.Type == domain.MovementExit || req.Type == domain.MovementSale) && req.Quantity > 0 {
		return domain.StockMovement{}, store.ErrInvalidTransaction
	}

	cashierExit := req.Type == domain.MovementSale && hasRole(ctx, roleCashier)
	if !cashierExit && !isAdmin(ctx) {
		return domain.StockMovement{}, ErrAdminRequired
	}
	if req.Type == domain.MovementSale && req.Reference != "" {
		// a late exit for a cancelled sale would never be restored
		sale, err := s.repo.FindSaleByID(ctx, req.Reference)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.StockMovement{}, err
		}
		if sale != nil && sale.Status == domain.SaleStatusCancelled {
			return domain.StockMovement{}, store.ErrAlreadyCancelled
		}
	}

	movement, err := s.repo.AdjustStock(ctx, domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Type:      req.Type,
		Reason:    req.Reason,
		Operator:  operatorName(ctx),
		Reference: req.Reference,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.StockMovement{}, err
	}

	if movement.PreviousStock+movement.Quantity < 0 {
		s.logger.Warn("stock clamped at zero",
			zap.String("product_id", movement.ProductID),
			zap.Float64("previous", movement.PreviousStock),
			zap.Float64("delta", movement.Quantity),
			zap.String("reference", movement.Reference),
		)
	}

	s.logAudit(ctx, "", "stock_adjust", "product", movement.ProductID, fmt.Sprintf("type=%s,qty=%g,new=%g,ref=%s", movement.Type, movement.Quantity, movement.NewStock, movement.Reference))
	return *movement, nil
}

func (s *Service) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	productID = strings.ToUpper(strings.TrimSpace(productID))
	if productID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if limit < 1 {
		limit = 50
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListStockMovements(ctx, productID, limit)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.FindSaleByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales accepts RFC 3339 timestamps or plain dates; a plain "to" date is
// inclusive of the whole day.
func (s *Service) ListSales(ctx context.Context, from string, to string, status string, customer string, limit int) ([]domain.Sale, error) {
	filter := domain.SaleFilter{
		StoreID:  s.defaultStoreID,
		Status:   strings.ToLower(strings.TrimSpace(status)),
		Customer: customer,
		Limit:    limit,
	}
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if filter.Status != "" && filter.Status != domain.SaleStatusPaid && filter.Status != domain.SaleStatusPending && filter.Status != domain.SaleStatusCancelled {
		return nil, store.ErrInvalidTransaction
	}

	var err error
	if filter.From, err = parseBound(from, false); err != nil {
		return nil, err
	}
	if filter.To, err = parseBound(to, true); err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, filter)
}

// CancelSale flips the sale to cancelled and reverses the stock its sale
// movements actually took. The status change is guarded by the store, so stock
// is restored at most once.
func (s *Service) CancelSale(ctx context.Context, id string, req domain.CancelSaleRequest) (domain.CancelSaleResponse, error) {
	if !isAdmin(ctx) {
		return domain.CancelSaleResponse{}, ErrAdminRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.CancelSaleResponse{}, store.ErrInvalidTransaction
	}
	reason := defaultString(strings.TrimSpace(req.Reason), "cancelled at counter")

	cancelled, err := s.repo.CancelSale(ctx, id, reason, s.now())
	if err != nil {
		return domain.CancelSaleResponse{}, err
	}

	taken, err := s.repo.ListStockMovementsByReference(ctx, cancelled.ID)
	if err != nil {
		s.logger.Error("kardex lookup failed, stock not restored",
			zap.String("sale_id", cancelled.ID),
			zap.Error(err),
		)
		taken = nil
	}

	movements := make([]domain.StockMovement, 0, len(taken))
	for _, exit := range taken {
		if exit.Type != domain.MovementSale {
			continue
		}
		// a clamped exit took less than it asked for
		effect := exit.NewStock - exit.PreviousStock
		if effect >= 0 {
			continue
		}
		movement, err := s.repo.AdjustStock(ctx, domain.StockMovement{
			ID:        xid.New("mov"),
			ProductID: exit.ProductID,
			Quantity:  -effect,
			Type:      domain.MovementEntry,
			Reason:    domain.ReasonCancellation,
			Operator:  operatorName(ctx),
			Reference: cancelled.ID,
			CreatedAt: s.now(),
		})
		if err != nil {
			s.logger.Warn("stock restore failed after cancellation",
				zap.String("sale_id", cancelled.ID),
				zap.String("product_id", exit.ProductID),
				zap.Float64("delta", -effect),
				zap.Error(err),
			)
			continue
		}
		movements = append(movements, *movement)
	}

	s.logAudit(ctx, cancelled.StoreID, "sale_cancel", "sale", cancelled.ID, fmt.Sprintf("reason=%s,total=%d,restored_lines=%d", reason, cancelled.TotalCents, len(movements)))

	cancelledAt := s.now()
	if cancelled.CancelledAt != nil {
		cancelledAt = *cancelled.CancelledAt
	}
	return domain.CancelSaleResponse{
		SaleID:      cancelled.ID,
		Status:      cancelled.Status,
		CancelledAt: cancelledAt.UTC().Format(time.RFC3339),
		Movements:   movements,
	}, nil
}

func (s *Service) DailyReport(ctx context.Context, storeID string, date string) (domain.DailyReport, error) {
	storeID = defaultString(strings.TrimSpace(storeID), s.defaultStoreID)

	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := s.now()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return domain.DailyReport{}, store.ErrInvalidTransaction
		}
		day = parsed.UTC()
	}

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{StoreID: storeID, From: day, To: day.Add(24 * time.Hour)})
	if err != nil {
		return domain.DailyReport{}, err
	}

	report := analytics.SummarizeDay(sales)
	report.StoreID = storeID
	report.Date = day.Format("2006-01-02")
	return report, nil
}

func (s *Service) SellerRanking(ctx context.Context, storeID string, from string, to string) (domain.SellerRankingResponse, error) {
	storeID, fromDay, toDay, err := s.reportRange(storeID, from, to)
	if err != nil {
		return domain.SellerRankingResponse{}, err
	}

	key := reportKey("sellers", storeID, fromDay, toDay)
	var cached domain.SellerRankingResponse
	if s.readReport(ctx, key, &cached) {
		return cached, nil
	}

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{StoreID: storeID, From: fromDay, To: toDay.Add(24 * time.Hour)})
	if err != nil {
		return domain.SellerRankingResponse{}, err
	}

	resp := domain.SellerRankingResponse{
		StoreID: storeID,
		From:    fromDay.Format("2006-01-02"),
		To:      toDay.Format("2006-01-02"),
		Sellers: s.analyzer.AggregateBySeller(sales),
	}
	s.writeReport(ctx, key, resp)
	return resp, nil
}

func (s *Service) CustomerCurve(ctx context.Context, storeID string, from string, to string) (domain.CustomerCurveResponse, error) {
	storeID, fromDay, toDay, err := s.reportRange(storeID, from, to)
	if err != nil {
		return domain.CustomerCurveResponse{}, err
	}

	key := reportKey("customers", storeID, fromDay, toDay)
	var cached domain.CustomerCurveResponse
	if s.readReport(ctx, key, &cached) {
		return cached, nil
	}

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{StoreID: storeID, From: fromDay, To: toDay.Add(24 * time.Hour)})
	if err != nil {
		return domain.CustomerCurveResponse{}, err
	}

	customers := s.analyzer.ClassifyCustomers(sales)
	var total int64
	for _, c := range customers {
		total += c.TotalSpentCents
	}

	resp := domain.CustomerCurveResponse{
		StoreID:    storeID,
		From:       fromDay.Format("2006-01-02"),
		To:         toDay.Format("2006-01-02"),
		TotalCents: total,
		Customers:  customers,
	}
	s.writeReport(ctx, key, resp)
	return resp, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	storeID = defaultString(strings.TrimSpace(storeID), s.defaultStoreID)
	if limit < 1 {
		limit = 100
	}

	now := s.now()
	from, to := now.Add(-24*time.Hour), now.Add(time.Second)
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from, to = parsed.UTC(), parsed.UTC().Add(24*time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

// reportRange resolves a [from, to] day range, both inclusive. Empty bounds
// default to the last 30 days.
func (s *Service) reportRange(storeID string, from string, to string) (string, time.Time, time.Time, error) {
	storeID = defaultString(strings.TrimSpace(storeID), s.defaultStoreID)

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	toDay := today
	if strings.TrimSpace(to) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(to))
		if err != nil {
			return "", time.Time{}, time.Time{}, store.ErrInvalidTransaction
		}
		toDay = parsed.UTC()
	}
	fromDay := toDay.AddDate(0, 0, -29)
	if strings.TrimSpace(from) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(from))
		if err != nil {
			return "", time.Time{}, time.Time{}, store.ErrInvalidTransaction
		}
		fromDay = parsed.UTC()
	}
	if fromDay.After(toDay) {
		return "", time.Time{}, time.Time{}, store.ErrInvalidTransaction
	}
	return storeID, fromDay, toDay, nil
}

func (s *Service) readReport(ctx context.Context, key string, dst any) bool {
	hit, err := s.reports.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *Service) writeReport(ctx context.Context, key string, value any) {
	if err := s.reports.Set(ctx, key, value, s.reportTTL); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func reportKey(kind string, storeID string, from time.Time, to time.Time) string {
	return fmt.Sprintf("caixa:report:%s:%s:%s:%s", kind, storeID, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func toSubmitResponse(sale *domain.Sale, duplicate bool) domain.SubmitSaleResponse {
	return domain.SubmitSaleResponse{
		SaleID:    sale.ID,
		Status:    sale.Status,
		Duplicate: duplicate,
		Lines:     slices.Clone(sale.Lines),
	}
}

func normalizePayments(payments []domain.Payment) ([]domain.Payment, error) {
	out := make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		method := strings.ToLower(strings.TrimSpace(p.Method))
		if !isSupportedPaymentMethod(method) || p.AmountCents < 0 {
			return nil, store.ErrInvalidTransaction
		}
		if p.AmountCents == 0 {
			continue
		}
		out = append(out, domain.Payment{Method: method, AmountCents: p.AmountCents})
	}
	return out, nil
}

// describePayments renders the free-text payment description stored with the
// sale, e.g. "pix 12.50 | cash 3.00 | seller: Maria".
func describePayments(payments []domain.Payment, seller string) string {
	parts := make([]string, 0, len(payments)+1)
	for _, p := range payments {
		parts = append(parts, fmt.Sprintf("%s %d.%02d", p.Method, p.AmountCents/100, p.AmountCents%100))
	}
	if len(parts) == 0 {
		parts = append(parts, "on account")
	}
	if seller != "" {
		parts = append(parts, "seller: "+seller)
	}
	return strings.Join(parts, " | ")
}

func parseBound(raw string, inclusiveDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, store.ErrInvalidTransaction
	}
	if inclusiveDay {
		day = day.Add(24 * time.Hour)
	}
	return day.UTC(), nil
}

func isAdmin(ctx context.Context) bool {
	return hasRole(ctx, roleAdmin)
}

func hasRole(ctx context.Context, role string) bool {
	actor, ok := ActorFromContext(ctx)
	return ok && actor.Role == role
}

func operatorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func isMovementType(value string) bool {
	switch value {
	case domain.MovementEntry, domain.MovementExit, domain.MovementAdjustment, domain.MovementSale:
		return true
	default:
		return false
	}
}

func isMovementReason(value string) bool {
	switch value {
	case domain.ReasonSale, domain.ReasonCancellation, domain.ReasonLoss, domain.ReasonCount, domain.ReasonPurchase, domain.ReasonOfflineReplay:
		return true
	default:
		return false
	}
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "pix", "debit", "credit", "voucher":
		return true
	default:
		return false
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
