package offline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor probes the ledger and drains the queue whenever connectivity comes
// back. There is no timed retry while the ledger stays reachable; a failed
// entry waits for the next transition or a manual replay.
type Monitor struct {
	queue    *Queue
	ledger   Ledger
	interval time.Duration
	logger   *zap.Logger
	probed   bool
}

func NewMonitor(queue *Queue, ledger Ledger, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{queue: queue, ledger: ledger, interval: interval, logger: logger}
}

func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe checks the ledger once. The first successful probe counts as a
// transition so entries left over from a previous run are replayed.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval/2)
	err := m.ledger.Ping(probeCtx)
	cancel()

	online := err == nil
	wasOnline := m.queue.Online() && m.probed
	m.probed = true
	m.queue.SetOnline(online)

	switch {
	case online && !wasOnline:
		m.logger.Info("ledger reachable, replaying offline queue")
		result := m.queue.Replay(ctx)
		if result.Failed == 0 && !result.Skipped {
			if err := m.queue.RefreshSnapshots(ctx); err != nil {
				m.logger.Warn("snapshot refresh failed", zap.Error(err))
			}
		}
	case !online && wasOnline:
		m.logger.Warn("ledger unreachable, sales will be queued", zap.Error(err))
	}
	return online
}
