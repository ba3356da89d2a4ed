package analytics

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixa/backend/internal/domain"
)

var day = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func sale(customer string, seller string, total int64, minute int) domain.Sale {
	return domain.Sale{
		ID:           fmt.Sprintf("sale-%d", minute),
		CustomerName: customer,
		SellerName:   seller,
		TotalCents:   total,
		PaidCents:    total,
		Status:       domain.SaleStatusPaid,
		CreatedAt:    day.Add(time.Duration(minute) * time.Minute),
	}
}

func TestExtractLabel(t *testing.T) {
	cases := []struct {
		name        string
		description string
		want        string
	}{
		{"english token", "pix 20,00 | seller: Maria Souza", "Maria Souza"},
		{"portuguese token", "dinheiro; Vendedor: João, troco 5", "João"},
		{"case insensitive", "SELLER:ana", "ana"},
		{"stops at newline", "seller: Rui\nobs: entregar", "Rui"},
		{"no token", "cartão crédito 3x", "fallback"},
		{"empty capture", "seller:   |", "fallback"},
		{"empty description", "", "fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractLabel(tc.description, DefaultSellerPattern, "fallback"))
		})
	}

	assert.Equal(t, "fallback", ExtractLabel("seller: x", nil, "fallback"))
}

func TestAggregateBySellerGroupsAndRanks(t *testing.T) {
	sales := []domain.Sale{
		sale("", "Ana", 1000, 1),
		sale("", "", 300, 2),
		{PaymentDescription: "pix | vendedor: Bruno", TotalCents: 2500, Status: domain.SaleStatusPaid, CreatedAt: day},
		sale("", "Ana", 2001, 3),
		sale("", "Bruno", 500, 4),
	}
	cancelled := sale("", "Ana", 99999, 5)
	cancelled.Status = domain.SaleStatusCancelled
	sales = append(sales, cancelled)

	stats := AggregateBySeller(sales)

	require.Len(t, stats, 3)
	assert.Equal(t, domain.SellerStat{Name: "Ana", TotalRevenueCents: 3001, SalesCount: 2, AverageTicketCents: 1501}, stats[0])
	assert.Equal(t, domain.SellerStat{Name: "Bruno", TotalRevenueCents: 3000, SalesCount: 2, AverageTicketCents: 1500}, stats[1])
	assert.Equal(t, WalkInSellerLabel, stats[2].Name)
	assert.Equal(t, int64(300), stats[2].TotalRevenueCents)
}

func TestAggregateBySellerKeepsFirstSeenOrderOnTies(t *testing.T) {
	stats := AggregateBySeller([]domain.Sale{
		sale("", "Carla", 700, 1),
		sale("", "Ana", 700, 2),
		sale("", "Bruno", 700, 3),
	})

	require.Len(t, stats, 3)
	assert.Equal(t, "Carla", stats[0].Name)
	assert.Equal(t, "Ana", stats[1].Name)
	assert.Equal(t, "Bruno", stats[2].Name)
}

func TestAggregateBySellerRevenueSumsToInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	sellers := []string{"Ana", "Bruno", "Carla", "Davi", ""}

	for round := 0; round < 50; round++ {
		var sales []domain.Sale
		var want int64
		for i := 0; i < 1+rng.IntN(40); i++ {
			total := int64(rng.IntN(100000))
			want += total
			sales = append(sales, sale("", sellers[rng.IntN(len(sellers))], total, i))
		}

		var got int64
		for _, stat := range AggregateBySeller(sales) {
			got += stat.TotalRevenueCents
		}
		require.Equal(t, want, got, "round %d", round)
	}
}

func TestAggregateBySellerEmptyInput(t *testing.T) {
	stats := AggregateBySeller(nil)
	assert.NotNil(t, stats)
	assert.Empty(t, stats)
}

func TestClassifyCustomersParetoExample(t *testing.T) {
	stats := ClassifyCustomers([]domain.Sale{
		sale("Carla", "", 5000, 1),
		sale("Ana", "", 50000, 2),
		sale("Bruno", "", 15000, 3),
		sale("Ana", "", 30000, 4),
	})

	require.Len(t, stats, 3)
	assert.Equal(t, "Ana", stats[0].Name)
	assert.Equal(t, ClassA, stats[0].Classification)
	assert.Equal(t, 2, stats[0].PurchaseCount)
	assert.Equal(t, day.Add(4*time.Minute), stats[0].LastPurchaseAt)
	assert.InDelta(t, 80.0, stats[0].CumulativePercentage, 1e-9)

	assert.Equal(t, "Bruno", stats[1].Name)
	assert.Equal(t, ClassB, stats[1].Classification)
	assert.InDelta(t, 15.0, stats[1].PercentageOfTotal, 1e-9)

	assert.Equal(t, "Carla", stats[2].Name)
	assert.Equal(t, ClassC, stats[2].Classification)
	assert.Equal(t, 100.0, stats[2].CumulativePercentage)
}

func TestClassifyCustomersBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		totals []int64
		want   []string
	}{
		{"exactly 80 and 95", []int64{8000, 1500, 500}, []string{ClassA, ClassB, ClassC}},
		{"small totals", []int64{800, 150, 50}, []string{ClassA, ClassB, ClassC}},
		{"just above 80", []int64{8001, 1499, 500}, []string{ClassB, ClassB, ClassC}},
		{"just above 95", []int64{8000, 1501, 499}, []string{ClassA, ClassC, ClassC}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sales []domain.Sale
			for i, total := range tc.totals {
				sales = append(sales, sale(fmt.Sprintf("c%d", i), "", total, i))
			}
			stats := ClassifyCustomers(sales)
			require.Len(t, stats, len(tc.want))
			for i := range tc.want {
				assert.Equal(t, tc.want[i], stats[i].Classification, "customer %s", stats[i].Name)
			}
		})
	}
}

func TestClassifyCumulative(t *testing.T) {
	cases := map[string]string{
		"0":     ClassA,
		"80":    ClassA,
		"80.00": ClassA,
		"80.01": ClassB,
		"95":    ClassB,
		"95.0":  ClassB,
		"95.01": ClassC,
		"100":   ClassC,
	}
	for input, want := range cases {
		assert.Equal(t, want, ClassifyCumulative(decimal.RequireFromString(input)), input)
	}
}

func TestClassifyCustomersExcludesWalkIns(t *testing.T) {
	stats := ClassifyCustomers([]domain.Sale{
		sale("Ana", "", 1000, 1),
		sale("", "", 500000, 2),
		sale("Cliente Avulso", "", 900000, 3),
		sale("  CONSUMIDOR FINAL ", "", 100, 4),
		sale("Bruno", "", 1000, 5),
	})

	require.Len(t, stats, 2)
	assert.Equal(t, "Ana", stats[0].Name)
	assert.InDelta(t, 50.0, stats[0].PercentageOfTotal, 1e-9)
	assert.Equal(t, "Bruno", stats[1].Name)
	assert.Equal(t, 100.0, stats[1].CumulativePercentage)
}

func TestClassifyCustomersSkipsCancelled(t *testing.T) {
	cancelled := sale("Ana", "", 100000, 1)
	cancelled.Status = domain.SaleStatusCancelled

	stats := ClassifyCustomers([]domain.Sale{cancelled, sale("Bruno", "", 100, 2)})

	require.Len(t, stats, 1)
	assert.Equal(t, "Bruno", stats[0].Name)
}

func TestClassifyCustomersPercentagesAddUp(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 11))

	for round := 0; round < 50; round++ {
		var sales []domain.Sale
		for i := 0; i < 1+rng.IntN(60); i++ {
			sales = append(sales, sale(fmt.Sprintf("cliente-%d", rng.IntN(15)), "", int64(1+rng.IntN(50000)), i))
		}

		stats := ClassifyCustomers(sales)
		require.NotEmpty(t, stats)

		var share float64
		for i, stat := range stats {
			share += stat.PercentageOfTotal
			if i > 0 {
				require.GreaterOrEqual(t, stats[i-1].TotalSpentCents, stat.TotalSpentCents)
				require.GreaterOrEqual(t, stat.Classification, stats[i-1].Classification)
			}
		}
		require.InDelta(t, 100.0, share, 1e-6)
		require.Equal(t, 100.0, stats[len(stats)-1].CumulativePercentage)
	}
}

func TestClassifyCustomersZeroSpend(t *testing.T) {
	stats := ClassifyCustomers([]domain.Sale{sale("Ana", "", 0, 1)})

	require.Len(t, stats, 1)
	assert.Equal(t, ClassA, stats[0].Classification)
	assert.Zero(t, stats[0].CumulativePercentage)
}

func TestAnalyzerCustomPatternAndWalkIns(t *testing.T) {
	a := New(Options{
		SellerPattern: regexp.MustCompile(`op=(\w+)`),
		WalkInNames:   []string{"balcão"},
	})

	assert.Equal(t, "jose", a.SellerLabel(domain.Sale{PaymentDescription: "pix op=jose"}))
	assert.True(t, a.IsWalkIn(" Balcão "))
	assert.False(t, a.IsWalkIn("Cliente Avulso"))
}

func TestSummarizeDay(t *testing.T) {
	first := sale("Ana", "", 10000, 1)
	first.ProfitCents = 3000
	first.Payments = []domain.Payment{{Method: "pix", AmountCents: 10000}}

	second := sale("Bruno", "", 5000, 2)
	second.PaidCents = 2000
	second.Status = domain.SaleStatusPending
	second.ProfitCents = 1000
	second.Payments = []domain.Payment{{Method: "cash", AmountCents: 2000}}

	cancelled := sale("Carla", "", 7000, 3)
	cancelled.Status = domain.SaleStatusCancelled
	cancelled.Payments = []domain.Payment{{Method: "pix", AmountCents: 7000}}

	report := SummarizeDay([]domain.Sale{first, second, cancelled})

	assert.Equal(t, int64(2), report.Sales)
	assert.Equal(t, int64(1), report.CancelledSales)
	assert.Equal(t, int64(15000), report.GrossSalesCents)
	assert.Equal(t, int64(12000), report.PaidCents)
	assert.Equal(t, int64(3000), report.ReceivableCents)
	assert.Equal(t, int64(4000), report.ProfitCents)
	assert.Equal(t, int64(7500), report.AverageTicketCents)
	assert.Equal(t, []domain.DailyReportPayment{
		{PaymentMethod: "cash", Payments: 1, TotalCents: 2000},
		{PaymentMethod: "pix", Payments: 1, TotalCents: 10000},
	}, report.ByPayment)
}
