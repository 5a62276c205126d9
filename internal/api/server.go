// Package api provides the HTTP surface of the market: owner registration,
// order intake, status and history queries, and the WebSocket feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kumanofoo/tako/internal/market"
	"github.com/kumanofoo/tako/internal/metrics"
	"github.com/kumanofoo/tako/internal/model"
	"github.com/kumanofoo/tako/internal/season"
	"github.com/kumanofoo/tako/internal/store"
)

// Server holds the HTTP handlers.
type Server struct {
	engine  *market.Engine
	seasons *season.Controller
	store   store.Store
	hub     *WSHub // optional, nil disables the feed
}

// NewServer creates the API server. Pass nil for hub if the WebSocket feed
// is not needed.
func NewServer(e *market.Engine, sc *season.Controller, st store.Store, hub *WSHub) *Server {
	return &Server{
		engine:  e,
		seasons: sc,
		store:   st,
		hub:     hub,
	}
}

// Routes mounts all handlers under /api/v1.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Post("/owners", s.RegisterOwner)
		r.Delete("/owners/{ownerID}", s.UnregisterOwner)
		r.Get("/owners/{ownerID}/status", s.GetStatus)
		r.Get("/owners/{ownerID}/history", s.GetHistory)

		r.Post("/orders", s.PlaceOrder)

		r.Get("/rounds/current", s.GetCurrentRound)
		r.Get("/rounds/next", s.GetNextRound)
		r.Get("/rounds/{roundID}", s.GetRound)
		r.Get("/rounds/{roundID}/result", s.GetRoundResult)

		r.Get("/leaderboard", s.GetLeaderboard)
		r.Get("/seasons/current", s.GetCurrentSeason)
		r.Get("/seasons/{seasonID}/records", s.GetSeasonRecords)
	})
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for owner registration.
type RegisterRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OrderRequest is the JSON body for POST /orders. Quantity zero withdraws
// any standing order.
type OrderRequest struct {
	OwnerID  string `json:"owner_id"`
	Quantity int64  `json:"quantity"`
}

// RoundView is a round plus the demand expected under its forecast.
type RoundView struct {
	Round         model.Round `json:"round"`
	ExpectedSales int64       `json:"expected_sales"`
}

// --- Handlers ---

// RegisterOwner handles POST /api/v1/owners.
func (s *Server) RegisterOwner(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "bad_request", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		writeError(w, "id is required", "bad_request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	owner, err := s.engine.Register(r.Context(), req.ID, req.Name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.RegisteredOwners.Inc()

	writeJSON(w, http.StatusCreated, owner)
}

// UnregisterOwner handles DELETE /api/v1/owners/{ownerID}.
func (s *Server) UnregisterOwner(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if err := s.engine.Unregister(r.Context(), ownerID); err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.RegisteredOwners.Dec()
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus handles GET /api/v1/owners/{ownerID}/status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetStatus(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetHistory handles GET /api/v1/owners/{ownerID}/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := s.engine.History(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// PlaceOrder handles POST /api/v1/orders.
func (s *Server) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "bad_request", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", "bad_request", http.StatusBadRequest)
		return
	}

	receipt, err := s.engine.PlaceOrder(r.Context(), req.OwnerID, req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// GetCurrentRound handles GET /api/v1/rounds/current: the open round, or
// the next scheduled one.
func (s *Server) GetCurrentRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.engine.CurrentRound(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RoundView{
		Round:         *round,
		ExpectedSales: s.engine.ExpectedSales(round.Forecast),
	})
}

// GetNextRound handles GET /api/v1/rounds/next: the scheduled round that has
// not opened yet.
func (s *Server) GetNextRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.engine.NextRound(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RoundView{
		Round:         *round,
		ExpectedSales: s.engine.ExpectedSales(round.Forecast),
	})
}

// GetRound handles GET /api/v1/rounds/{roundID}.
func (s *Server) GetRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.store.GetRound(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// GetRoundResult handles GET /api/v1/rounds/{roundID}/result.
func (s *Server) GetRoundResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RoundResult(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetLeaderboard handles GET /api/v1/leaderboard.
func (s *Server) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Leaderboard(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetCurrentSeason handles GET /api/v1/seasons/current.
func (s *Server) GetCurrentSeason(w http.ResponseWriter, r *http.Request) {
	sn, err := s.store.ActiveSeason(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sn)
}

// GetSeasonRecords handles GET /api/v1/seasons/{seasonID}/records: the final
// standings of an ended season.
func (s *Server) GetSeasonRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.SeasonRecords(r.Context(), chi.URLParam(r, "seasonID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []model.SeasonRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a stable machine code.
func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// writeEngineError maps domain errors onto codes and HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrInvalidQuantity):
		metrics.OrderRejections.WithLabelValues("invalid_quantity").Inc()
		writeError(w, err.Error(), "invalid_quantity", http.StatusBadRequest)
	case errors.Is(err, market.ErrUnknownOwner):
		writeError(w, err.Error(), "unknown_owner", http.StatusNotFound)
	case errors.Is(err, market.ErrRoundNotOpen):
		metrics.OrderRejections.WithLabelValues("round_not_open").Inc()
		writeError(w, err.Error(), "round_not_open", http.StatusConflict)
	case errors.Is(err, market.ErrRoundNotClosed):
		writeError(w, err.Error(), "round_not_closed", http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), "not_found", http.StatusNotFound)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, err.Error(), "already_exists", http.StatusConflict)
	case errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), "conflict", http.StatusConflict)
	default:
		writeError(w, "internal error", "store_unavailable", http.StatusInternalServerError)
	}
}
