package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantleap/chronosim/internal/domain"
)

// ParadoxService defines the methods the paradox handler needs from the
// service layer.
type ParadoxService interface {
	Extract(ctx context.Context, timelineID, actorID string) (domain.ParadoxIncident, float64, error)
	ListParadoxes(ctx context.Context, timelineID string, opts domain.ListOpts) ([]domain.ParadoxIncident, error)
}

// ParadoxHandler serves paradox incident endpoints: incident history and the
// extraction operation that resolves an active incident before its deadline.
type ParadoxHandler struct {
	paradoxes ParadoxService
	logger    *slog.Logger
}

// NewParadoxHandler creates a ParadoxHandler with the given service and logger.
func NewParadoxHandler(paradoxes ParadoxService, logger *slog.Logger) *ParadoxHandler {
	return &ParadoxHandler{
		paradoxes: paradoxes,
		logger:    logger,
	}
}

// listParadoxesResponse wraps incident history output.
type listParadoxesResponse struct {
	Paradoxes []domain.ParadoxIncident `json:"paradoxes"`
	Limit     int                      `json:"limit"`
	Offset    int                      `json:"offset"`
}

// ListParadoxes returns the incident history for a timeline, newest first.
// GET /api/timelines/{id}/paradoxes
func (h *ParadoxHandler) ListParadoxes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing timeline id")
		return
	}

	opts := parseListOpts(r)

	incidents, err := h.paradoxes.ListParadoxes(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list paradoxes failed",
			slog.String("timeline_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list paradoxes")
		return
	}

	writeJSON(w, http.StatusOK, listParadoxesResponse{
		Paradoxes: incidents,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// extractRequest is the JSON body for an extraction attempt.
type extractRequest struct {
	ActorID string `json:"actor_id"`
}

// extractResponse reports the resolved incident and the cost actually paid.
type extractResponse struct {
	Incident domain.ParadoxIncident `json:"incident"`
	CostPaid float64                `json:"cost_paid"`
}

// Extract resolves the active paradox on a timeline. The first extractor
// becomes the carrier; subsequent attempts by other actors are rejected.
// POST /api/timelines/{id}/paradox/extract
func (h *ParadoxHandler) Extract(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing timeline id")
		return
	}

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "missing actor_id")
		return
	}

	incident, cost, err := h.paradoxes.Extract(r.Context(), id, req.ActorID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "timeline not found")
		case errors.Is(err, domain.ErrNoParadox):
			writeError(w, http.StatusConflict, "no active paradox")
		case errors.Is(err, domain.ErrNotCarrier):
			writeError(w, http.StatusForbidden, "another actor carries this incident")
		case errors.Is(err, domain.ErrDeadlineRace):
			writeError(w, http.StatusConflict, "incident already detonated")
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: extract failed",
				slog.String("timeline_id", id),
				slog.String("actor_id", req.ActorID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to extract paradox")
		}
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{
		Incident: incident,
		CostPaid: cost,
	})
}
