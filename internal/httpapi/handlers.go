// Package httpapi is the administrative HTTP surface consumed by
// dashboards and ops tooling, not by end-user clients.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aaronwang/auction-live/internal/auction"
	"github.com/aaronwang/auction-live/internal/chat"
	"github.com/aaronwang/auction-live/internal/metrics"
	"github.com/aaronwang/auction-live/internal/presence"
	"github.com/aaronwang/auction-live/internal/store"
)

// ConnectionCounter reports live local WebSocket connections. Implemented
// by the gateway's connection manager.
type ConnectionCounter interface {
	ConnectionCount() int
}

// Handler contains the admin HTTP request handlers.
type Handler struct {
	auctions    *auction.Manager
	presence    *presence.Manager
	chat        *chat.Log
	metrics     *metrics.Recorder
	connections ConnectionCounter
	store       *store.Client
	clock       clockwork.Clock
	log         zerolog.Logger
}

func NewHandler(
	auctions *auction.Manager,
	pres *presence.Manager,
	chatLog *chat.Log,
	rec *metrics.Recorder,
	connections ConnectionCounter,
	st *store.Client,
	clock clockwork.Clock,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		auctions:    auctions,
		presence:    pres,
		chat:        chatLog,
		metrics:     rec,
		connections: connections,
		store:       st,
		clock:       clock,
		log:         log.With().Str("component", "httpapi").Logger(),
	}
}

// SetupRoutes configures all HTTP routes. ws, when non-nil, is mounted
// at /ws so the gateway and admin surface share one listener.
func (h *Handler) SetupRoutes(ws http.HandlerFunc) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.Health).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auctions/active", h.ListActive).Methods("GET")
	api.HandleFunc("/auctions/{id}/state", h.GetState).Methods("GET")
	api.HandleFunc("/auctions/{id}/participants", h.GetParticipants).Methods("GET")
	api.HandleFunc("/auctions/{id}/chat", h.GetChat).Methods("GET")
	api.HandleFunc("/auctions/{id}/initialize", h.InitializeAuction).Methods("POST")
	api.HandleFunc("/metrics", h.Metrics).Methods("GET")

	if ws != nil {
		router.HandleFunc("/ws", ws)
	}

	router.Use(h.loggingMiddleware)

	return router
}

// Health reports service status with the coarse realtime gauges.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "healthy"
	if err := h.store.Ping(ctx); err != nil {
		h.log.Error().Err(err).Msg("store ping failed")
		status = "degraded"
	}

	online, err := h.presence.OnlineCount(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read online count")
	}
	today, err := h.metrics.Today(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read daily metrics")
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"service":      "auction-live",
		"time":         h.clock.Now().UTC().Format(time.RFC3339),
		"connections":  h.connections.ConnectionCount(),
		"online_users": online,
		"metrics":      today,
	})
}

// GetState returns an auction's live state, or 404 when no state is
// recorded. Store connectivity failure is a 502, distinct from absence.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	state, err := h.auctions.State(r.Context(), auctionID)
	if err != nil {
		h.log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to read auction state")
		respondError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	if state == nil {
		respondError(w, http.StatusNotFound, "auction not found")
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// GetParticipants returns the room's (user, connection) pairs and count.
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	participants, err := h.presence.Participants(r.Context(), auctionID)
	if err != nil {
		h.log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to list participants")
		respondError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"auction_id":   auctionID,
		"participants": participants,
		"count":        len(participants),
	})
}

// GetChat returns the room's recent chat, oldest first. ?limit=N caps
// the result; the default and maximum are the log's retention cap.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	limit := chat.MaxMessages
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	messages, err := h.chat.Recent(r.Context(), auctionID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to read chat history")
		respondError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"auction_id": auctionID,
		"messages":   messages,
	})
}

type initializeRequest struct {
	StartingBid float64 `json:"starting_bid"`
}

// InitializeAuction creates or resets an auction's live state.
func (h *Handler) InitializeAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StartingBid < 0 {
		respondError(w, http.StatusBadRequest, "starting_bid must not be negative")
		return
	}

	state, err := h.auctions.Initialize(r.Context(), auctionID, req.StartingBid)
	if err != nil {
		h.log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to initialize auction")
		respondError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	respondJSON(w, http.StatusCreated, state)
}

// ListActive returns every live auction state.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	states, err := h.auctions.ListActive(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list active auctions")
		respondError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"auctions": states,
		"count":    len(states),
	})
}

// Metrics returns the retained daily counters plus the online-user
// count.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days, err := h.metrics.All(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read metrics")
		respondError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	online, err := h.presence.OnlineCount(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read online count")
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"daily":        days,
		"online_users": online,
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
