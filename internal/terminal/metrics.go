package terminal

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"caixa/backend/internal/offline"
)

type Metrics struct {
	registry      *prometheus.Registry
	replayed      *prometheus.CounterVec
	replayRuns    *prometheus.CounterVec
	stockWarnings prometheus.Counter
	submissions   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caixa_offline_replay_total",
			Help: "Queued sales processed by replay, by result.",
		}, []string{"result"}),
		replayRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caixa_offline_replay_runs_total",
			Help: "Replay invocations, by outcome.",
		}, []string{"outcome"}),
		stockWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caixa_offline_stock_warnings_total",
			Help: "Stock adjustments that failed after their sale was committed.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caixa_terminal_sales_total",
			Help: "Sales submitted at this terminal, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.replayed, m.replayRuns, m.stockWarnings, m.submissions)
	return m
}

// TrackQueue exposes the queue depth as a gauge read at scrape time.
func (m *Metrics) TrackQueue(queue *offline.Queue) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "caixa_offline_queue_depth",
		Help: "Sales waiting in the offline queue.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := queue.Count(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}))
}

func (m *Metrics) ObserveReplay(result offline.ReplayResult) {
	if result.Skipped {
		m.replayRuns.WithLabelValues("skipped").Inc()
		return
	}
	outcome := "drained"
	if result.Failed > 0 {
		outcome = "stopped"
	}
	m.replayRuns.WithLabelValues(outcome).Inc()
	m.replayed.WithLabelValues("succeeded").Add(float64(result.Succeeded))
	m.replayed.WithLabelValues("failed").Add(float64(result.Failed))
	m.stockWarnings.Add(float64(len(result.Warnings)))
}

func (m *Metrics) ObserveSubmit(outcome offline.SubmitOutcome) {
	if outcome.Queued {
		m.submissions.WithLabelValues("queued").Inc()
		return
	}
	m.submissions.WithLabelValues("committed").Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
