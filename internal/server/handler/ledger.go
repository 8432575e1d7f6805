package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quantleap/chronosim/internal/domain"
)

// LedgerService defines the methods the ledger handler needs from the
// service layer.
type LedgerService interface {
	GetLedger(ctx context.Context, timelineID string, sinceSeq int64, limit int) ([]domain.Flap, error)
}

// LedgerHandler serves the append-only flap ledger for a timeline.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler with the given service and logger.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger,
	}
}

// ledgerResponse wraps the flap list with cursor metadata so clients can
// resume from the last sequence they saw.
type ledgerResponse struct {
	Flaps   []domain.Flap `json:"flaps"`
	NextSeq int64         `json:"next_seq"`
}

// GetLedger returns flaps for a timeline in sequence order, starting after
// since_seq.
// GET /api/timelines/{id}/flaps?since_seq=0&limit=100
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing timeline id")
		return
	}

	q := r.URL.Query()

	var sinceSeq int64
	if v := q.Get("since_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid since_seq")
			return
		}
		sinceSeq = n
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}

	flaps, err := h.ledger.GetLedger(r.Context(), id, sinceSeq, limit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "timeline not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get ledger failed",
			slog.String("timeline_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	next := sinceSeq
	if len(flaps) > 0 {
		next = flaps[len(flaps)-1].Seq
	}

	writeJSON(w, http.StatusOK, ledgerResponse{
		Flaps:   flaps,
		NextSeq: next,
	})
}
