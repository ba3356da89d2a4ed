package domain

import (
	"math"
	"time"
)

type Product struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	PriceCents   int64   `json:"price_cents"`
	CostCents    int64   `json:"cost_cents"`
	UnitsPerBox  int     `json:"units_per_box"`
	SoldByWeight bool    `json:"sold_by_weight"`
	Stock        float64 `json:"stock"`
	Active       bool    `json:"active"`
}

type ProductCreateRequest struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	PriceCents   int64   `json:"price_cents"`
	CostCents    int64   `json:"cost_cents"`
	UnitsPerBox  int     `json:"units_per_box"`
	SoldByWeight bool    `json:"sold_by_weight"`
	InitialStock float64 `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Category    *string `json:"category,omitempty"`
	PriceCents  *int64  `json:"price_cents,omitempty"`
	CostCents   *int64  `json:"cost_cents,omitempty"`
	UnitsPerBox *int    `json:"units_per_box,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type SaleMode string

const (
	SaleModeUnit   SaleMode = "unit"
	SaleModeBox    SaleMode = "box"
	SaleModeWeight SaleMode = "weight"
)

func (m SaleMode) Valid() bool {
	switch m {
	case SaleModeUnit, SaleModeBox, SaleModeWeight:
		return true
	default:
		return false
	}
}

// SaleLine is one cart line. Quantity is in boxes for box mode and in
// kilograms for weight mode; BoxSize is captured when the line is built so the
// stock delta does not depend on a later catalog lookup.
type SaleLine struct {
	ProductID      string   `json:"product_id"`
	Quantity       float64  `json:"quantity"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	UnitCostCents  int64    `json:"unit_cost_cents,omitempty"`
	SaleMode       SaleMode `json:"sale_mode"`
	BoxSize        int      `json:"box_size,omitempty"`
}

func (l SaleLine) TotalCents() int64 {
	return int64(math.Round(l.Quantity * float64(l.UnitPriceCents)))
}

func (l SaleLine) CostCents() int64 {
	return int64(math.Round(l.Quantity * float64(l.UnitCostCents)))
}

// StockUnits is the number of stock units the line consumes.
func (l SaleLine) StockUnits() float64 {
	if l.SaleMode == SaleModeBox {
		size := l.BoxSize
		if size < 1 {
			size = 1
		}
		return l.Quantity * float64(size)
	}
	return l.Quantity
}

type Payment struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

// SaleDraft is a checkout that has not been confirmed by the ledger yet.
type SaleDraft struct {
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	StoreID        string     `json:"store_id,omitempty"`
	TerminalID     string     `json:"terminal_id,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	SellerName     string     `json:"seller_name,omitempty"`
	Lines          []SaleLine `json:"lines"`
	Payments       []Payment  `json:"payments"`
	TotalCents     int64      `json:"total_cents"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (d SaleDraft) LinesTotalCents() int64 {
	var total int64
	for _, line := range d.Lines {
		total += line.TotalCents()
	}
	return total
}

func (d SaleDraft) PaidCents() int64 {
	var paid int64
	for _, p := range d.Payments {
		paid += p.AmountCents
	}
	return paid
}

// Clone returns a deep copy so a queued draft cannot be changed through the
// caller's slices.
func (d SaleDraft) Clone() SaleDraft {
	out := d
	out.Lines = append([]SaleLine(nil), d.Lines...)
	out.Payments = append([]Payment(nil), d.Payments...)
	return out
}

const (
	SaleStatusPaid      = "paid"
	SaleStatusPending   = "pending"
	SaleStatusCancelled = "cancelled"
)

type Sale struct {
	ID                 string     `json:"id"`
	StoreID            string     `json:"store_id"`
	TerminalID         string     `json:"terminal_id"`
	IdempotencyKey     string     `json:"idempotency_key"`
	CustomerName       string     `json:"customer_name"`
	SellerName         string     `json:"seller_name,omitempty"`
	PaymentDescription string     `json:"payment_description"`
	Payments           []Payment  `json:"payments"`
	Lines              []SaleLine `json:"lines"`
	TotalCents         int64      `json:"total_cents"`
	PaidCents          int64      `json:"paid_cents"`
	ProfitCents        int64      `json:"profit_cents"`
	Status             string     `json:"status"`
	CancelReason       string     `json:"cancel_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type SaleFilter struct {
	StoreID  string
	From     time.Time
	To       time.Time
	Status   string
	Customer string
	Limit    int
}

// SubmitSaleResponse echoes the stored lines so callers post stock deltas from
// what the ledger recorded, box sizes included.
type SubmitSaleResponse struct {
	SaleID    string     `json:"sale_id"`
	Status    string     `json:"status"`
	Duplicate bool       `json:"duplicate"`
	Lines     []SaleLine `json:"lines,omitempty"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason"`
}

type CancelSaleResponse struct {
	SaleID      string          `json:"sale_id"`
	Status      string          `json:"status"`
	CancelledAt string          `json:"cancelled_at"`
	Movements   []StockMovement `json:"movements"`
}

const (
	MovementEntry      = "entry"
	MovementExit       = "exit"
	MovementAdjustment = "adjustment"
	MovementSale       = "sale"
)

const (
	ReasonSale          = "sale"
	ReasonCancellation  = "cancellation"
	ReasonLoss          = "loss"
	ReasonCount         = "count"
	ReasonPurchase      = "purchase"
	ReasonOfflineReplay = "offline_replay"
)

type StockAdjustRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Type      string  `json:"type"`
	Reason    string  `json:"reason,omitempty"`
	Reference string  `json:"reference,omitempty"`
}

// StockMovement is one kardex row. NewStock never goes below zero.
type StockMovement struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	Quantity      float64   `json:"quantity"`
	PreviousStock float64   `json:"previous_stock"`
	NewStock      float64   `json:"new_stock"`
	Type          string    `json:"type"`
	Reason        string    `json:"reason,omitempty"`
	Operator      string    `json:"operator"`
	Reference     string    `json:"reference,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ApplyStockDelta returns the resulting stock for a signed delta, clamped at zero.
func ApplyStockDelta(previous float64, delta float64) float64 {
	return math.Max(0, previous+delta)
}

type SellerStat struct {
	Name               string `json:"name"`
	TotalRevenueCents  int64  `json:"total_revenue_cents"`
	SalesCount         int    `json:"sales_count"`
	AverageTicketCents int64  `json:"average_ticket_cents"`
}

type CustomerStat struct {
	Name                 string    `json:"name"`
	TotalSpentCents      int64     `json:"total_spent_cents"`
	PurchaseCount        int       `json:"purchase_count"`
	LastPurchaseAt       time.Time `json:"last_purchase_at"`
	Classification       string    `json:"classification"`
	PercentageOfTotal    float64   `json:"percentage_of_total"`
	CumulativePercentage float64   `json:"cumulative_percentage"`
}

type SellerRankingResponse struct {
	StoreID string       `json:"store_id"`
	From    string       `json:"from"`
	To      string       `json:"to"`
	Sellers []SellerStat `json:"sellers"`
}

type CustomerCurveResponse struct {
	StoreID    string         `json:"store_id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	TotalCents int64          `json:"total_cents"`
	Customers  []CustomerStat `json:"customers"`
}

type DailyReportPayment struct {
	PaymentMethod string `json:"payment_method"`
	Payments      int64  `json:"payments"`
	TotalCents    int64  `json:"total_cents"`
}

type DailyReport struct {
	StoreID            string               `json:"store_id"`
	Date               string               `json:"date"`
	Sales              int64                `json:"sales"`
	CancelledSales     int64                `json:"cancelled_sales"`
	GrossSalesCents    int64                `json:"gross_sales_cents"`
	PaidCents          int64                `json:"paid_cents"`
	ReceivableCents    int64                `json:"receivable_cents"`
	ProfitCents        int64                `json:"profit_cents"`
	AverageTicketCents int64                `json:"average_ticket_cents"`
	ByPayment          []DailyReportPayment `json:"by_payment"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
