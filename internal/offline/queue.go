// Package offline keeps sales made while the ledger is unreachable in a
// durable local queue and replays them, oldest first, once it is back.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"caixa/backend/internal/domain"
)

const (
	QueueKey     = "caixa:offline:queue"
	ProductsKey  = "caixa:cache:products"
	CustomersKey = "caixa:cache:customers"
	SellersKey   = "caixa:cache:sellers"
)

const (
	StatusPending    = "pending"
	StatusSubmitting = "submitting"
	StatusFailed     = "failed"
)

// Ledger is the remote system of record the queue replays into.
type Ledger interface {
	SubmitSale(ctx context.Context, draft domain.SaleDraft) (domain.SubmitSaleResponse, error)
	AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockMovement, error)
	FetchSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	FetchProducts(ctx context.Context) ([]domain.Product, error)
	Ping(ctx context.Context) error
}

// Entry is one queued sale. Draft is frozen at enqueue time. SaleID and
// LinesSynced record replay progress so a retried entry resumes its stock
// adjustments instead of repeating them.
type Entry struct {
	LocalID             int64            `json:"local_id"`
	ClientTransactionID string           `json:"client_transaction_id"`
	Draft               domain.SaleDraft `json:"draft"`
	Status              string           `json:"status"`
	Attempts            int              `json:"attempts"`
	LastError           string           `json:"last_error,omitempty"`
	SaleID              string           `json:"sale_id,omitempty"`
	LinesSynced         int              `json:"lines_synced,omitempty"`
	EnqueuedAt          time.Time        `json:"enqueued_at"`
	LastAttemptAt       *time.Time       `json:"last_attempt_at,omitempty"`
}

type queueState struct {
	NextID  int64   `json:"next_id"`
	Entries []Entry `json:"entries"`
}

type CommittedSale struct {
	LocalID   int64  `json:"local_id"`
	SaleID    string `json:"sale_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type ReplayResult struct {
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Remaining int                `json:"remaining"`
	Skipped   bool               `json:"skipped,omitempty"`
	Committed []CommittedSale    `json:"committed,omitempty"`
	Warnings  []PartialStockSync `json:"warnings,omitempty"`
	LastError string             `json:"last_error,omitempty"`
}

// SubmitOutcome tells the till whether a sale reached the ledger right away or
// is waiting in the queue.
type SubmitOutcome struct {
	Queued    bool               `json:"queued"`
	Entry     Entry              `json:"entry"`
	SaleID    string             `json:"sale_id,omitempty"`
	Duplicate bool               `json:"duplicate,omitempty"`
	Warnings  []PartialStockSync `json:"warnings,omitempty"`
}

type Options struct {
	TerminalID string
	StoreID    string
	// SalesWindow bounds how far back RefreshSnapshots reads sales to build
	// the customer and seller name lists.
	SalesWindow time.Duration
	Now         func() time.Time
	// OnReplay observes every replay pass that was not skipped.
	OnReplay func(ReplayResult)
}

type Queue struct {
	kv     KV
	ledger Ledger
	logger *zap.Logger
	opts   Options

	// mu serializes read-modify-write cycles on the persisted queue.
	mu        sync.Mutex
	replaying atomic.Bool
	offline   atomic.Bool
}

func New(kv KV, ledger Ledger, logger *zap.Logger, opts Options) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.SalesWindow <= 0 {
		opts.SalesWindow = 90 * 24 * time.Hour
	}
	return &Queue{kv: kv, ledger: ledger, logger: logger, opts: opts}
}

// Online reports the last known connectivity to the ledger.
func (q *Queue) Online() bool {
	return !q.offline.Load()
}

func (q *Queue) SetOnline(online bool) {
	q.offline.Store(!online)
}

// Enqueue stores a frozen copy of the draft at the tail of the queue and
// applies its stock deduction to the local product snapshot.
func (q *Queue) Enqueue(ctx context.Context, draft domain.SaleDraft) (Entry, error) {
	if len(draft.Lines) == 0 {
		return Entry{}, ErrEmptyDraft
	}
	frozen := draft.Clone()
	now := q.opts.Now()
	if frozen.CreatedAt.IsZero() {
		frozen.CreatedAt = now
	}
	if frozen.TerminalID == "" {
		frozen.TerminalID = q.opts.TerminalID
	}
	if frozen.StoreID == "" {
		frozen.StoreID = q.opts.StoreID
	}
	if frozen.TotalCents == 0 {
		frozen.TotalCents = frozen.LinesTotalCents()
	}
	if err := q.fillBoxSizes(ctx, frozen.Lines); err != nil {
		q.logger.Warn("box sizes not resolved from snapshot", zap.Error(err))
	}
	key := strings.TrimSpace(frozen.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	frozen.IdempotencyKey = key

	q.mu.Lock()
	state, err := q.load(ctx)
	if err != nil {
		q.mu.Unlock()
		return Entry{}, err
	}
	state.NextID++
	entry := Entry{
		LocalID:             state.NextID,
		ClientTransactionID: key,
		Draft:               frozen,
		Status:              StatusPending,
		EnqueuedAt:          now,
	}
	state.Entries = append(state.Entries, entry)
	err = q.save(ctx, state)
	q.mu.Unlock()
	if err != nil {
		return Entry{}, err
	}

	if err := q.applyLocalStock(ctx, frozen); err != nil {
		q.logger.Warn("local stock snapshot not updated", zap.Int64("local_id", entry.LocalID), zap.Error(err))
	}
	q.logger.Info("sale queued",
		zap.Int64("local_id", entry.LocalID),
		zap.String("client_transaction_id", key),
		zap.Int64("total_cents", frozen.TotalCents),
	)
	return entry, nil
}

// Count returns the number of entries not yet accepted by the ledger.
func (q *Queue) Count(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(state.Entries), nil
}

// Entries returns the queue in insertion order.
func (q *Queue) Entries(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(state.Entries))
	copy(out, state.Entries)
	return out, nil
}

// Discard drops an entry the ledger will never accept. Its local stock
// deduction is not reverted; the next snapshot refresh overwrites it.
func (q *Queue) Discard(ctx context.Context, localID int64) (Entry, error) {
	if q.replaying.Load() {
		return Entry{}, ErrReplayInProgress
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load(ctx)
	if err != nil {
		return Entry{}, err
	}
	for i, entry := range state.Entries {
		if entry.LocalID != localID {
			continue
		}
		state.Entries = append(state.Entries[:i], state.Entries[i+1:]...)
		if err := q.save(ctx, state); err != nil {
			return Entry{}, err
		}
		q.logger.Warn("queued sale discarded",
			zap.Int64("local_id", localID),
			zap.String("client_transaction_id", entry.ClientTransactionID),
			zap.String("last_error", entry.LastError),
		)
		return entry, nil
	}
	return Entry{}, ErrEntryNotFound
}

// Submit writes the sale to the queue first and then drains the queue, so a
// sale made online never overtakes older offline sales.
func (q *Queue) Submit(ctx context.Context, draft domain.SaleDraft) (SubmitOutcome, error) {
	entry, err := q.Enqueue(ctx, draft)
	if err != nil {
		return SubmitOutcome{}, err
	}
	outcome := SubmitOutcome{Queued: true, Entry: entry}
	if !q.Online() {
		return outcome, nil
	}

	// a till that hangs up must not abandon an entry between its sale and stock calls
	result := q.Replay(context.WithoutCancel(ctx))
	for _, committed := range result.Committed {
		if committed.LocalID != entry.LocalID {
			continue
		}
		outcome.Queued = false
		outcome.SaleID = committed.SaleID
		outcome.Duplicate = committed.Duplicate
	}
	for _, warning := range result.Warnings {
		if warning.LocalID == entry.LocalID {
			outcome.Warnings = append(outcome.Warnings, warning)
		}
	}
	return outcome, nil
}

// Replay submits queued entries in insertion order until the queue is empty
// or a submission fails. Only one pass runs at a time; a concurrent call
// returns immediately with Skipped set.
func (q *Queue) Replay(ctx context.Context) ReplayResult {
	if !q.replaying.CompareAndSwap(false, true) {
		remaining, _ := q.Count(ctx)
		result := ReplayResult{Skipped: true, Remaining: remaining}
		if q.opts.OnReplay != nil {
			q.opts.OnReplay(result)
		}
		return result
	}
	defer q.replaying.Store(false)

	result := ReplayResult{}
	for {
		if err := ctx.Err(); err != nil {
			result.LastError = err.Error()
			break
		}
		entry, ok, err := q.claimHead(ctx)
		if err != nil {
			q.logger.Error("offline queue unreadable", zap.Error(err))
			result.LastError = err.Error()
			break
		}
		if !ok {
			break
		}
		committed, warnings, err := q.replayEntry(ctx, entry)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			result.Failed++
			result.LastError = err.Error()
			// our own cancellation says nothing about the ledger
			if errors.Is(err, ErrNetworkUnavailable) && ctx.Err() == nil {
				q.SetOnline(false)
			}
			break
		}
		result.Succeeded++
		result.Committed = append(result.Committed, committed)
	}

	remaining, err := q.Count(ctx)
	if err != nil {
		q.logger.Error("offline queue unreadable", zap.Error(err))
	}
	result.Remaining = remaining
	if result.Succeeded > 0 || result.Failed > 0 {
		q.logger.Info("offline replay finished",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Int("remaining", result.Remaining),
			zap.Int("stock_warnings", len(result.Warnings)),
		)
	}
	if q.opts.OnReplay != nil {
		q.opts.OnReplay(result)
	}
	return result
}

// claimHead marks the oldest entry as submitting and returns it. An entry left
// in submitting by a crash is claimed again like any other.
func (q *Queue) claimHead(ctx context.Context) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load(ctx)
	if err != nil || len(state.Entries) == 0 {
		return Entry{}, false, err
	}
	now := q.opts.Now()
	head := &state.Entries[0]
	head.Status = StatusSubmitting
	head.Attempts++
	head.LastAttemptAt = &now
	if err := q.save(ctx, state); err != nil {
		return Entry{}, false, err
	}
	return *head, true, nil
}

func (q *Queue) replayEntry(ctx context.Context, entry Entry) (CommittedSale, []PartialStockSync, error) {
	draft := entry.Draft.Clone()
	draft.IdempotencyKey = entry.ClientTransactionID

	resp, err := q.ledger.SubmitSale(ctx, draft)
	if err != nil {
		q.logger.Warn("queued sale not accepted",
			zap.Int64("local_id", entry.LocalID),
			zap.Int("attempts", entry.Attempts),
			zap.Error(err),
		)
		if uerr := q.update(ctx, entry.LocalID, func(e *Entry) {
			e.Status = StatusFailed
			e.LastError = err.Error()
		}); uerr != nil {
			q.logger.Error("offline queue not updated", zap.Int64("local_id", entry.LocalID), zap.Error(uerr))
		}
		return CommittedSale{}, nil, err
	}
	q.SetOnline(true)
	// the sale is committed; its stock lines are finished even if the caller leaves
	ctx = context.WithoutCancel(ctx)

	if entry.SaleID == "" {
		entry.SaleID = resp.SaleID
		if err := q.update(ctx, entry.LocalID, func(e *Entry) { e.SaleID = resp.SaleID }); err != nil {
			q.logger.Error("offline queue not updated", zap.Int64("local_id", entry.LocalID), zap.Error(err))
		}
	}

	lines := draft.Lines
	if len(resp.Lines) == len(draft.Lines) {
		lines = resp.Lines
	}

	var warnings []PartialStockSync
	for i := entry.LinesSynced; i < len(lines); i++ {
		line := lines[i]
		delta := -line.StockUnits()
		_, err := q.ledger.AdjustStock(ctx, domain.StockAdjustRequest{
			ProductID: line.ProductID,
			Quantity:  delta,
			Type:      domain.MovementSale,
			Reason:    domain.ReasonOfflineReplay,
			Reference: resp.SaleID,
		})
		if err != nil {
			warning := PartialStockSync{
				LocalID:   entry.LocalID,
				SaleID:    resp.SaleID,
				ProductID: line.ProductID,
				Delta:     delta,
				Reason:    err.Error(),
			}
			q.logger.Warn("stock not synced for replayed sale", zap.Error(warning))
			warnings = append(warnings, warning)
		}
		synced := i + 1
		if err := q.update(ctx, entry.LocalID, func(e *Entry) { e.LinesSynced = synced }); err != nil {
			q.logger.Error("offline queue not updated", zap.Int64("local_id", entry.LocalID), zap.Error(err))
		}
	}

	if err := q.remove(ctx, entry.LocalID); err != nil {
		// The ledger deduplicates by client transaction id, so a retry is safe.
		q.logger.Error("replayed sale left in queue", zap.Int64("local_id", entry.LocalID), zap.Error(err))
	}
	q.logger.Info("queued sale committed",
		zap.Int64("local_id", entry.LocalID),
		zap.String("sale_id", resp.SaleID),
		zap.Bool("duplicate", resp.Duplicate),
	)
	return CommittedSale{LocalID: entry.LocalID, SaleID: resp.SaleID, Duplicate: resp.Duplicate}, warnings, nil
}

func (q *Queue) update(ctx context.Context, localID int64, fn func(*Entry)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i := range state.Entries {
		if state.Entries[i].LocalID == localID {
			fn(&state.Entries[i])
			return q.save(ctx, state)
		}
	}
	return ErrEntryNotFound
}

func (q *Queue) remove(ctx context.Context, localID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i := range state.Entries {
		if state.Entries[i].LocalID == localID {
			state.Entries = append(state.Entries[:i], state.Entries[i+1:]...)
			return q.save(ctx, state)
		}
	}
	return nil
}

func (q *Queue) load(ctx context.Context) (queueState, error) {
	var state queueState
	ok, err := q.getJSON(ctx, QueueKey, &state)
	if err != nil {
		return queueState{}, fmt.Errorf("load offline queue: %w", err)
	}
	if !ok {
		return queueState{}, nil
	}
	return state, nil
}

func (q *Queue) save(ctx context.Context, state queueState) error {
	if err := q.setJSON(ctx, QueueKey, state); err != nil {
		return fmt.Errorf("save offline queue: %w", err)
	}
	return nil
}

func (q *Queue) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := q.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) setJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return q.kv.Set(ctx, key, raw)
}
