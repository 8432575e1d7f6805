package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantleap/chronosim/internal/domain"
)

// PositionService defines the methods the position handler needs from the
// service layer.
type PositionService interface {
	ListPositions(ctx context.Context, actorID string, opts domain.ListOpts) ([]domain.OutcomePosition, error)
}

// PositionHandler serves per-actor outcome share holdings.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the position list output.
type listPositionsResponse struct {
	Positions []domain.OutcomePosition `json:"positions"`
	Limit     int                      `json:"limit"`
	Offset    int                      `json:"offset"`
}

// ListPositions returns the outcome positions held by an actor across all
// timelines.
// GET /api/actors/{actor_id}/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	actorID := pathParam(r, "actor_id")
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "missing actor id")
		return
	}

	opts := parseListOpts(r)

	positions, err := h.positions.ListPositions(r.Context(), actorID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("actor_id", actorID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: positions,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}
