package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/engine"
)

// TimelineService defines the methods that the timeline handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type TimelineService interface {
	Create(ctx context.Context, spec engine.CreateSpec, topics []string) (domain.Timeline, error)
	Get(ctx context.Context, id string) (domain.Timeline, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Timeline, error)
	GetState(ctx context.Context, id string) (domain.TimelineState, *domain.ParadoxIncident, error)
	Archive(ctx context.Context, id string) error
}

// TimelineHandler serves timeline-related HTTP endpoints.
type TimelineHandler struct {
	timelines TimelineService
	logger    *slog.Logger
}

// NewTimelineHandler creates a TimelineHandler with the given service and logger.
func NewTimelineHandler(timelines TimelineService, logger *slog.Logger) *TimelineHandler {
	return &TimelineHandler{
		timelines: timelines,
		logger:    logger,
	}
}

// createTimelineRequest is the JSON body for timeline creation. The committed
// parameters are hashed at creation and can never change afterwards.
type createTimelineRequest struct {
	Title            string   `json:"title"`
	Outcomes         []string `json:"outcomes"`
	RealityOutcome   int      `json:"reality_outcome"`
	LiquidityB       float64  `json:"liquidity_b"`
	DecayPerHour     float64  `json:"decay_per_hour"`
	ResolutionRefs   []string `json:"resolution_refs"`
	InitialStability float64  `json:"initial_stability"`
	Topics           []string `json:"topics"`
}

// CreateTimeline registers a new timeline and returns it with its commitment.
// POST /api/timelines
func (h *TimelineHandler) CreateTimeline(w http.ResponseWriter, r *http.Request) {
	var req createTimelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tl, err := h.timelines.Create(r.Context(), engine.CreateSpec{
		Title:            req.Title,
		Outcomes:         req.Outcomes,
		RealityOutcome:   req.RealityOutcome,
		LiquidityB:       req.LiquidityB,
		DecayPerHour:     req.DecayPerHour,
		ResolutionRefs:   req.ResolutionRefs,
		InitialStability: req.InitialStability,
	}, req.Topics)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create timeline failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create timeline")
		return
	}

	writeJSON(w, http.StatusCreated, tl)
}

// listTimelinesResponse wraps the list endpoint output with pagination metadata.
type listTimelinesResponse struct {
	Timelines []domain.Timeline `json:"timelines"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// ListTimelines returns active timelines with pagination.
// GET /api/timelines?limit=50&offset=0
func (h *TimelineHandler) ListTimelines(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	timelines, err := h.timelines.ListActive(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list timelines failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list timelines")
		return
	}

	writeJSON(w, http.StatusOK, listTimelinesResponse{
		Timelines: timelines,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// GetTimeline returns a single timeline by its ID.
// GET /api/timelines/{id}
func (h *TimelineHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing timeline id")
		return
	}

	tl, err := h.timelines.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "timeline not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get timeline failed",
			slog.String("timeline_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get timeline")
		return
	}

	writeJSON(w, http.StatusOK, tl)
}

// stateResponse pairs the live state with the active incident, if any.
type stateResponse struct {
	State    domain.TimelineState    `json:"state"`
	Incident *domain.ParadoxIncident `json:"incident,omitempty"`
}

// GetState returns the current replayable state of a timeline, along with the
// active paradox incident when one exists.
// GET /api/timelines/{id}/state
func (h *TimelineHandler) GetState(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing timeline id")
		return
	}

	state, incident, err := h.timelines.GetState(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "timeline not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get state failed",
			slog.String("timeline_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get state")
		return
	}

	writeJSON(w, http.StatusOK, stateResponse{
		State:    state,
		Incident: incident,
	})
}

// ArchiveTimeline marks a timeline as archived. Archived timelines reject all
// further actions; their ledger remains readable.
// POST /api/timelines/{id}/archive
func (h *TimelineHandler) ArchiveTimeline(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing timeline id")
		return
	}

	if err := h.timelines.Archive(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "timeline not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: archive timeline failed",
			slog.String("timeline_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to archive timeline")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"timeline_id": id,
		"status":      string(domain.TimelineStatusArchived),
	})
}
