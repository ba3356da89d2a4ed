package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"caixa/backend/internal/domain"
)

func writeCSV(w http.ResponseWriter, filename string, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	out := csv.NewWriter(w)
	_ = out.WriteAll(rows)
}

func dailyReportRows(report domain.DailyReport) [][]string {
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "date", report.Date},
		{"summary", "store_id", report.StoreID},
		{"summary", "sales", strconv.FormatInt(report.Sales, 10)},
		{"summary", "cancelled_sales", strconv.FormatInt(report.CancelledSales, 10)},
		{"summary", "gross_sales_cents", strconv.FormatInt(report.GrossSalesCents, 10)},
		{"summary", "paid_cents", strconv.FormatInt(report.PaidCents, 10)},
		{"summary", "receivable_cents", strconv.FormatInt(report.ReceivableCents, 10)},
		{"summary", "profit_cents", strconv.FormatInt(report.ProfitCents, 10)},
		{"summary", "average_ticket_cents", strconv.FormatInt(report.AverageTicketCents, 10)},
	}
	for _, payment := range report.ByPayment {
		rows = append(rows,
			[]string{"payment", payment.PaymentMethod + "_payments", strconv.FormatInt(payment.Payments, 10)},
			[]string{"payment", payment.PaymentMethod + "_total_cents", strconv.FormatInt(payment.TotalCents, 10)},
		)
	}
	return rows
}

func customerCurveRows(resp domain.CustomerCurveResponse) [][]string {
	rows := [][]string{{"customer", "total_spent_cents", "purchases", "last_purchase_at", "share_pct", "cumulative_pct", "class"}}
	for _, c := range resp.Customers {
		rows = append(rows, []string{
			c.Name,
			strconv.FormatInt(c.TotalSpentCents, 10),
			strconv.Itoa(c.PurchaseCount),
			c.LastPurchaseAt.UTC().Format(time.RFC3339),
			strconv.FormatFloat(c.PercentageOfTotal, 'f', 2, 64),
			strconv.FormatFloat(c.CumulativePercentage, 'f', 2, 64),
			c.Classification,
		})
	}
	return rows
}
