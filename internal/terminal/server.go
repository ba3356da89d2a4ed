// Package terminal serves the till UI from the terminal agent. It listens on
// loopback only and carries no authentication of its own.
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/offline"
)

const maxBodyBytes = 1 << 20

type Server struct {
	queue   *offline.Queue
	metrics *Metrics
	logger  *zap.Logger
}

func NewServer(queue *offline.Queue, metrics *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{queue: queue, metrics: metrics, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/sales", s.handleSales)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/queue/", s.handleQueueEntry)
	mux.HandleFunc("/products", s.handleProducts)
	mux.HandleFunc("/customers", s.handleNames(s.queue.Customers, "customers"))
	mux.HandleFunc("/sellers", s.handleNames(s.queue.Sellers, "sellers"))
	mux.Handle("/metrics", s.metrics.Handler())
	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(started)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	count, err := s.queue.Count(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"online": s.queue.Online(),
		"queued": count,
	})
}

// handleSales answers 201 when the ledger took the sale and 202 when it was
// queued for later.
func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var draft domain.SaleDraft
	if err := decodeJSON(r, &draft); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := s.queue.Submit(r.Context(), draft)
	if err != nil {
		if errors.Is(err, offline.ErrEmptyDraft) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.ObserveSubmit(outcome)

	status := http.StatusCreated
	if outcome.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	entries, err := s.queue.Entries(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":  s.queue.Online(),
		"count":   len(entries),
		"entries": entries,
	})
}

// handleQueueEntry serves POST /queue/replay and DELETE /queue/{local_id}.
func (s *Server) handleQueueEntry(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/queue/"), "/")
	if tail == "replay" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, s.queue.Replay(r.Context()))
		return
	}

	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	localID, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || localID < 1 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid queue entry id %q", tail))
		return
	}
	entry, err := s.queue.Discard(r.Context(), localID)
	switch {
	case errors.Is(err, offline.ErrEntryNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, offline.ErrReplayInProgress):
		s.writeError(w, http.StatusConflict, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"discarded": entry})
	}
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	products, err := s.queue.Products(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) handleNames(load func(context.Context) ([]string, error), key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		names, err := load(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{key: names})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		s.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
