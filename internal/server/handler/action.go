package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quantleap/chronosim/internal/domain"
	"github.com/quantleap/chronosim/internal/engine"
)

// ActionService defines the methods the action handler needs from the
// service layer.
type ActionService interface {
	SubmitAction(ctx context.Context, timelineID string, act engine.Action) (domain.Flap, error)
}

// ActionHandler accepts externally submitted actions (trades, shields,
// sabotage) against a timeline. System-generated flap kinds are rejected at
// the engine; this handler only exposes the external vocabulary.
type ActionHandler struct {
	actions ActionService
	logger  *slog.Logger
}

// NewActionHandler creates an ActionHandler with the given service and logger.
func NewActionHandler(actions ActionService, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		actions: actions,
		logger:  logger,
	}
}

// submitActionRequest is the JSON body for action submission. Kind selects
// which of the optional field groups is read.
type submitActionRequest struct {
	Kind    string `json:"kind"` // "trade", "shield", or "sabotage"
	ActorID string `json:"actor_id"`

	// Trade fields.
	Side     string  `json:"side,omitempty"` // "buy" or "sell"
	Outcome  int     `json:"outcome,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`

	// Shield fields.
	Strength float64 `json:"strength,omitempty"`

	// Sabotage fields.
	Stake float64 `json:"stake,omitempty"`
}

// SubmitAction applies a single external action to a timeline and returns the
// resulting ledger entry.
// POST /api/timelines/{id}/actions
func (h *ActionHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing timeline id")
		return
	}

	var req submitActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	act, err := req.toAction()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flap, err := h.actions.SubmitAction(r.Context(), id, act)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "timeline not found")
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrTimelineArchived):
			writeError(w, http.StatusConflict, "timeline is not active")
		default:
			h.logger.ErrorContext(r.Context(), "handler: submit action failed",
				slog.String("timeline_id", id),
				slog.String("kind", req.Kind),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to submit action")
		}
		return
	}

	writeJSON(w, http.StatusCreated, flap)
}

// toAction maps the wire request onto an engine action. Only the externally
// permitted kinds are accepted here.
func (r submitActionRequest) toAction() (engine.Action, error) {
	act := engine.Action{ActorID: r.ActorID}

	switch strings.ToLower(strings.TrimSpace(r.Kind)) {
	case "trade":
		act.Kind = domain.FlapTrade
		switch strings.ToLower(r.Side) {
		case "buy":
			act.Side = domain.TradeBuy
		case "sell":
			act.Side = domain.TradeSell
		default:
			return engine.Action{}, errors.New("side must be \"buy\" or \"sell\"")
		}
		act.Outcome = r.Outcome
		act.Quantity = r.Quantity
	case "shield":
		act.Kind = domain.FlapShield
		act.Strength = r.Strength
	case "sabotage":
		act.Kind = domain.FlapSabotage
		act.Stake = r.Stake
	default:
		return engine.Action{}, errors.New("kind must be \"trade\", \"shield\", or \"sabotage\"")
	}

	return act, nil
}
