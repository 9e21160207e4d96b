package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/livesync"
	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/rules"
	"github.com/mcdev12/picklesync/go/internal/store"
	"github.com/mcdev12/picklesync/go/internal/transport"
)

// GameController is the part of the sync coordinator the HTTP API drives.
type GameController interface {
	CurrentGame(ctx context.Context) (*models.Game, error)
	TimerState(ctx context.Context) (livesync.TimerState, error)
	PendingConflict(ctx context.Context) (*livesync.Conflict, error)
	Stats(ctx context.Context) (livesync.Stats, error)

	StartNewGame(ctx context.Context, req livesync.NewGameRequest) (*models.Game, error)
	StartGame(ctx context.Context) error
	ScorePoint(ctx context.Context, side models.Side) error
	UndoLastPoint(ctx context.Context) error
	ServiceFault(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	CompleteGame(ctx context.Context) error
	ResetGame(ctx context.Context) error
	DeleteGame(ctx context.Context) error

	SyncNow(ctx context.Context) error
	RequestHistory(ctx context.Context) error
	AcceptConflict(ctx context.Context) error
	RejectConflict(ctx context.Context) error

	Subscribe(buffer int) (<-chan livesync.Event, func())
}

// HistoryReader lists completed games.
type HistoryReader interface {
	FetchCompletedGames(ctx context.Context) ([]*models.Game, error)
}

// GameStateResponse is the live game as shown to the UI.
type GameStateResponse struct {
	Game            *models.Game        `json:"game"`
	Timer           livesync.TimerState `json:"timer"`
	PendingConflict *livesync.Conflict  `json:"pending_conflict,omitempty"`
}

type newGameRequest struct {
	GameType    string          `json:"game_type"`
	Rules       *models.RuleSet `json:"rules,omitempty"`
	VariationID *uuid.UUID      `json:"variation_id,omitempty"`
}

type scoreRequest struct {
	Side models.Side `json:"side"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StateHandler serves the game API.
type StateHandler struct {
	games   GameController
	history HistoryReader
}

func NewStateHandler(games GameController, history HistoryReader) *StateHandler {
	return &StateHandler{
		games:   games,
		history: history,
	}
}

// HandleGame serves GET (current state), POST (new game) and DELETE on
// /api/game.
func (h *StateHandler) HandleGame(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeState(w, r)
	case http.MethodPost:
		var req newGameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.GameType == "" {
			req.GameType = "doubles"
		}
		if _, err := h.games.StartNewGame(r.Context(), livesync.NewGameRequest{
			GameType:    req.GameType,
			Rules:       req.Rules,
			VariationID: req.VariationID,
		}); err != nil {
			h.fail(w, "new_game", err)
			return
		}
		state, err := h.state(r.Context())
		if err != nil {
			h.fail(w, "state", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, state)
	case http.MethodDelete:
		if err := h.games.DeleteGame(r.Context()); err != nil {
			h.fail(w, "delete", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleScore handles POST /api/game/score.
func (h *StateHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be 1 or 2")
		return
	}
	if err := h.games.ScorePoint(r.Context(), req.Side); err != nil {
		h.fail(w, "score", err)
		return
	}
	h.writeState(w, r)
}

// action adapts a no-argument coordinator call to a POST endpoint that
// answers with the new state.
func (h *StateHandler) action(name string, fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := fn(r.Context()); err != nil {
			h.fail(w, name, err)
			return
		}
		h.writeState(w, r)
	}
}

// HandleConflict handles GET /api/conflict.
func (h *StateHandler) HandleConflict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cf, err := h.games.PendingConflict(r.Context())
	if err != nil {
		h.fail(w, "conflict", err)
		return
	}
	if cf == nil {
		writeError(w, http.StatusNotFound, livesync.ErrNoPendingConflict.Error())
		return
	}
	writeJSON(w, cf)
}

// HandleHistory handles GET /api/history.
func (h *StateHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	games, err := h.history.FetchCompletedGames(r.Context())
	if err != nil {
		h.fail(w, "history", err)
		return
	}
	out := make([]models.GameSummary, 0, len(games))
	for _, g := range games {
		out = append(out, models.Summarize(g))
	}
	writeJSON(w, out)
}

// HandleHistoryRequest handles POST /api/history/request.
func (h *StateHandler) HandleHistoryRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.games.RequestHistory(r.Context()); err != nil {
		h.fail(w, "history_request", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleStats handles GET /api/stats.
func (h *StateHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.games.Stats(r.Context())
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	writeJSON(w, stats)
}

func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/game", h.HandleGame)
	mux.HandleFunc("/api/game/score", h.HandleScore)
	mux.HandleFunc("/api/game/start", h.action("start", h.games.StartGame))
	mux.HandleFunc("/api/game/undo", h.action("undo", h.games.UndoLastPoint))
	mux.HandleFunc("/api/game/fault", h.action("fault", h.games.ServiceFault))
	mux.HandleFunc("/api/game/pause", h.action("pause", h.games.Pause))
	mux.HandleFunc("/api/game/resume", h.action("resume", h.games.Resume))
	mux.HandleFunc("/api/game/complete", h.action("complete", h.games.CompleteGame))
	mux.HandleFunc("/api/game/reset", h.action("reset", h.games.ResetGame))
	mux.HandleFunc("/api/sync", h.action("sync", h.games.SyncNow))
	mux.HandleFunc("/api/conflict", h.HandleConflict)
	mux.HandleFunc("/api/conflict/accept", h.action("conflict_accept", h.games.AcceptConflict))
	mux.HandleFunc("/api/conflict/reject", h.action("conflict_reject", h.games.RejectConflict))
	mux.HandleFunc("/api/history", h.HandleHistory)
	mux.HandleFunc("/api/history/request", h.HandleHistoryRequest)
	mux.HandleFunc("/api/stats", h.HandleStats)
}

// state reads everything the UI shows before any status is written.
func (h *StateHandler) state(ctx context.Context) (GameStateResponse, error) {
	g, err := h.games.CurrentGame(ctx)
	if err != nil {
		return GameStateResponse{}, err
	}
	ts, err := h.games.TimerState(ctx)
	if err != nil {
		return GameStateResponse{}, err
	}
	cf, err := h.games.PendingConflict(ctx)
	if err != nil {
		return GameStateResponse{}, err
	}
	return GameStateResponse{Game: g, Timer: ts, PendingConflict: cf}, nil
}

func (h *StateHandler) writeState(w http.ResponseWriter, r *http.Request) {
	state, err := h.state(r.Context())
	if err != nil {
		h.fail(w, "state", err)
		return
	}
	writeJSON(w, state)
}

func (h *StateHandler) fail(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("action", action).Msg("game request failed")
	} else {
		log.Debug().Err(err).Str("action", action).Msg("game request rejected")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, livesync.ErrNoActiveGame),
		errors.Is(err, livesync.ErrNoPendingConflict),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, transport.ErrPeerUnreachable),
		errors.Is(err, transport.ErrTransportUnavailable),
		errors.Is(err, livesync.ErrStopped),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: msg}); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}
