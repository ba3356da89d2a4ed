// Package analytics turns lists of confirmed sales into the seller ranking, the
// customer ABC curve and the daily summary. Every function is pure: the input
// slice is never modified and the same input order always yields the same
// output.
package analytics

import (
	"regexp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/domain"
)

const (
	WalkInSellerLabel   = "walk-in sale"
	WalkInCustomerLabel = "Cliente Avulso"
)

const (
	ClassA = "A"
	ClassB = "B"
	ClassC = "C"
)

// DefaultSellerPattern finds the seller token that legacy checkouts wrote into
// the payment description, e.g. "dinheiro 50,00 | seller: Maria".
var DefaultSellerPattern = regexp.MustCompile(`(?i)\b(?:seller|vendedor)\s*:\s*([^|;,\n]+)`)

// DefaultWalkInNames are compared case-insensitively after trimming.
var DefaultWalkInNames = []string{
	"cliente avulso",
	"consumidor final",
	"walk-in",
	"walk-in customer",
}

var (
	hundred = decimal.NewFromInt(100)
	cutA    = decimal.NewFromInt(80)
	cutB    = decimal.NewFromInt(95)
)

// ExtractLabel returns the first capture group of pattern in description,
// trimmed. It returns fallback when the pattern is nil, does not match, or
// captures only whitespace. It never fails.
func ExtractLabel(description string, pattern *regexp.Regexp, fallback string) string {
	if pattern == nil {
		return fallback
	}
	match := pattern.FindStringSubmatch(description)
	if len(match) < 2 {
		return fallback
	}
	label := strings.TrimSpace(match[1])
	if label == "" {
		return fallback
	}
	return label
}

type Options struct {
	SellerPattern *regexp.Regexp
	WalkInNames   []string
}

type Analyzer struct {
	sellerPattern *regexp.Regexp
	walkIn        map[string]struct{}
}

func New(opts Options) *Analyzer {
	pattern := opts.SellerPattern
	if pattern == nil {
		pattern = DefaultSellerPattern
	}
	names := opts.WalkInNames
	if len(names) == 0 {
		names = DefaultWalkInNames
	}
	walkIn := make(map[string]struct{}, len(names))
	for _, name := range names {
		walkIn[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return &Analyzer{sellerPattern: pattern, walkIn: walkIn}
}

var defaultAnalyzer = New(Options{})

func AggregateBySeller(sales []domain.Sale) []domain.SellerStat {
	return defaultAnalyzer.AggregateBySeller(sales)
}

func ClassifyCustomers(sales []domain.Sale) []domain.CustomerStat {
	return defaultAnalyzer.ClassifyCustomers(sales)
}

// SellerLabel prefers the structured seller field and falls back to parsing
// the payment description. Both shapes exist in stored sales.
func (a *Analyzer) SellerLabel(sale domain.Sale) string {
	if name := strings.TrimSpace(sale.SellerName); name != "" {
		return name
	}
	return ExtractLabel(sale.PaymentDescription, a.sellerPattern, WalkInSellerLabel)
}

func CustomerLabel(sale domain.Sale) string {
	if name := strings.TrimSpace(sale.CustomerName); name != "" {
		return name
	}
	return WalkInCustomerLabel
}

func (a *Analyzer) IsWalkIn(customer string) bool {
	_, ok := a.walkIn[strings.ToLower(strings.TrimSpace(customer))]
	return ok
}

// AggregateBySeller groups non-cancelled sales by seller label and sorts the
// groups by revenue, highest first. Equal revenues keep first-seen order.
func (a *Analyzer) AggregateBySeller(sales []domain.Sale) []domain.SellerStat {
	stats := make([]domain.SellerStat, 0)
	index := make(map[string]int)

	for _, sale := range sales {
		if sale.Status == domain.SaleStatusCancelled {
			continue
		}
		label := a.SellerLabel(sale)
		i, ok := index[label]
		if !ok {
			i = len(stats)
			index[label] = i
			stats = append(stats, domain.SellerStat{Name: label})
		}
		stats[i].TotalRevenueCents += sale.TotalCents
		stats[i].SalesCount++
	}

	for i := range stats {
		stats[i].AverageTicketCents = decimal.NewFromInt(stats[i].TotalRevenueCents).
			Div(decimal.NewFromInt(int64(stats[i].SalesCount))).
			Round(0).
			IntPart()
	}

	slices.SortStableFunc(stats, func(x, y domain.SellerStat) int {
		return compareDesc(x.TotalRevenueCents, y.TotalRevenueCents)
	})
	return stats
}

// ClassifyCustomers builds the Pareto table over non-cancelled, non walk-in
// sales. Customers are sorted by spend, highest first (equal spend keeps
// first-seen order), and classified on the cumulative share at their position.
func (a *Analyzer) ClassifyCustomers(sales []domain.Sale) []domain.CustomerStat {
	stats := make([]domain.CustomerStat, 0)
	index := make(map[string]int)

	for _, sale := range sales {
		if sale.Status == domain.SaleStatusCancelled {
			continue
		}
		label := CustomerLabel(sale)
		if a.IsWalkIn(label) {
			continue
		}
		i, ok := index[label]
		if !ok {
			i = len(stats)
			index[label] = i
			stats = append(stats, domain.CustomerStat{Name: label})
		}
		stats[i].TotalSpentCents += sale.TotalCents
		stats[i].PurchaseCount++
		if sale.CreatedAt.After(stats[i].LastPurchaseAt) {
			stats[i].LastPurchaseAt = sale.CreatedAt
		}
	}

	slices.SortStableFunc(stats, func(x, y domain.CustomerStat) int {
		return compareDesc(x.TotalSpentCents, y.TotalSpentCents)
	})

	grand := decimal.Zero
	for _, stat := range stats {
		grand = grand.Add(decimal.NewFromInt(stat.TotalSpentCents))
	}

	accumulated := decimal.Zero
	for i := range stats {
		spent := decimal.NewFromInt(stats[i].TotalSpentCents)
		accumulated = accumulated.Add(spent)

		stats[i].Classification = classifyShare(accumulated, grand)
		if grand.IsZero() {
			continue
		}
		stats[i].PercentageOfTotal = spent.Mul(hundred).Div(grand).InexactFloat64()
		stats[i].CumulativePercentage = accumulated.Mul(hundred).Div(grand).InexactFloat64()
	}
	return stats
}

// ClassifyCumulative applies the ABC cut to a cumulative percentage:
// A up to and including 80, B up to and including 95, C above.
func ClassifyCumulative(cumulativePct decimal.Decimal) string {
	switch {
	case cumulativePct.LessThanOrEqual(cutA):
		return ClassA
	case cumulativePct.LessThanOrEqual(cutB):
		return ClassB
	default:
		return ClassC
	}
}

// classifyShare compares accumulated/grand*100 against the cuts without
// dividing, so a share of exactly 80% or 95% never rounds across a boundary.
// A zero grand total counts as 0%.
func classifyShare(accumulated decimal.Decimal, grand decimal.Decimal) string {
	if grand.IsZero() {
		return ClassifyCumulative(decimal.Zero)
	}
	scaled := accumulated.Mul(hundred)
	switch {
	case scaled.LessThanOrEqual(grand.Mul(cutA)):
		return ClassA
	case scaled.LessThanOrEqual(grand.Mul(cutB)):
		return ClassB
	default:
		return ClassC
	}
}

// SummarizeDay totals the given sales for the daily report. Cancelled sales are
// only counted, never summed.
func SummarizeDay(sales []domain.Sale) domain.DailyReport {
	report := domain.DailyReport{ByPayment: make([]domain.DailyReportPayment, 0, 4)}
	byPayment := map[string]*domain.DailyReportPayment{}

	for _, sale := range sales {
		if sale.Status == domain.SaleStatusCancelled {
			report.CancelledSales++
			continue
		}
		report.Sales++
		report.GrossSalesCents += sale.TotalCents
		report.PaidCents += sale.PaidCents
		report.ReceivableCents += sale.TotalCents - sale.PaidCents
		report.ProfitCents += sale.ProfitCents

		for _, p := range sale.Payments {
			entry := byPayment[p.Method]
			if entry == nil {
				entry = &domain.DailyReportPayment{PaymentMethod: p.Method}
				byPayment[p.Method] = entry
			}
			entry.Payments++
			entry.TotalCents += p.AmountCents
		}
	}

	if report.Sales > 0 {
		report.AverageTicketCents = decimal.NewFromInt(report.GrossSalesCents).
			Div(decimal.NewFromInt(report.Sales)).
			Round(0).
			IntPart()
	}
	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(x, y domain.DailyReportPayment) int {
		return strings.Compare(x.PaymentMethod, y.PaymentMethod)
	})
	return report
}

func compareDesc(a int64, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
