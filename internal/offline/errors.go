package offline

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnavailable means the ledger could not be reached at all.
	ErrNetworkUnavailable = errors.New("ledger unreachable")
	// ErrSubmissionRejected means the ledger answered but refused the request.
	ErrSubmissionRejected = errors.New("submission rejected by ledger")

	ErrEmptyDraft       = errors.New("sale draft has no lines")
	ErrEntryNotFound    = errors.New("queued entry not found")
	ErrReplayInProgress = errors.New("replay in progress")
)

// PartialStockSync records a stock adjustment that failed after its sale was
// already accepted by the ledger. It is reported, never retried.
type PartialStockSync struct {
	LocalID   int64   `json:"local_id"`
	SaleID    string  `json:"sale_id"`
	ProductID string  `json:"product_id"`
	Delta     float64 `json:"delta"`
	Reason    string  `json:"error"`
}

func (p PartialStockSync) Error() string {
	return fmt.Sprintf("sale %s committed but stock for %s (%g) not adjusted: %s", p.SaleID, p.ProductID, p.Delta, p.Reason)
}
