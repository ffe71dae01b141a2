package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kicker-achievements/internal/domain"
	"github.com/kicker-achievements/internal/engine"
	"github.com/kicker-achievements/internal/feed"
	"github.com/kicker-achievements/internal/service"
	"github.com/kicker-achievements/internal/websocket"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the achievement API
type Handler struct {
	dispatcher *engine.Dispatcher
	admin      *service.AdminService
	players    *service.PlayerService
	feed       *feed.Service
	hub        *websocket.Hub
	checks     map[string]Pinger
	logger     *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	dispatcher *engine.Dispatcher,
	admin *service.AdminService,
	players *service.PlayerService,
	feedService *feed.Service,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		admin:      admin,
		players:    players,
		feed:       feedService,
		hub:        hub,
		checks:     make(map[string]Pinger),
		logger:     logger,
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SelectRewardRequest selects or clears (reward_id null) a reward
type SelectRewardRequest struct {
	RewardType domain.RewardType `json:"reward_type"`
	RewardID   *string           `json:"reward_id"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", h.SubmitEvent)

		r.Route("/admin", func(r chi.Router) {
			r.Route("/categories", func(r chi.Router) {
				r.Post("/", h.CreateCategory)
				r.Get("/", h.ListCategories)
				r.Get("/{categoryID}", h.GetCategory)
				r.Put("/{categoryID}", h.UpdateCategory)
				r.Delete("/{categoryID}", h.DeleteCategory)
			})
			r.Route("/definitions", func(r chi.Router) {
				r.Post("/", h.CreateDefinition)
				r.Get("/", h.ListDefinitions)
				r.Get("/{definitionID}", h.GetDefinition)
				r.Put("/{definitionID}", h.UpdateDefinition)
				r.Delete("/{definitionID}", h.DeleteDefinition)
			})
			r.Route("/rewards", func(r chi.Router) {
				r.Post("/", h.CreateReward)
				r.Get("/", h.ListRewards)
				r.Get("/{rewardID}", h.GetReward)
			})
		})

		r.Route("/players/{playerID}", func(r chi.Router) {
			r.Get("/achievements", h.GetPlayerAchievements)
			r.Get("/unlocks", h.GetPlayerUnlocks)
			r.Get("/rewards", h.GetPlayerRewards)
			r.Get("/rewards/selected", h.GetSelectedRewards)
			r.Put("/rewards/selected", h.SelectReward)
		})

		r.Route("/kickers/{kickerID}", func(r chi.Router) {
			r.Get("/feed", h.GetFeed)
			r.Get("/points/top", h.GetTopPlayers)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeCreated writes a 201 JSON response
func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error to its status code. Anything
// unclassified is logged and reported as an internal error.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Data:    ve.Problems,
			Error:   ve.Error(),
		})
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrUnknownMetric),
		errors.Is(err, domain.ErrUnknownTrigger):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrRewardNotAccessible):
		h.writeError(w, http.StatusForbidden, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("failed to "+op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decode reads a JSON request body. Condition decoding reports field
// problems, which are passed through.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if domain.IsValidationError(err) {
			h.writeServiceError(w, err, "decode request")
			return false
		}
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return false
	}
	return true
}

// intQuery parses a positive integer query parameter
func intQuery(r *http.Request, name string, fallback int) int {
	if s := r.URL.Query().Get(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	}
	if kickerID := r.URL.Query().Get("kicker_id"); kickerID != "" {
		stats["kicker_subscribers"] = h.hub.GetSubscriberCount(kickerID)
	}
	h.writeSuccess(w, stats)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck checks every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks)+1)
	ready := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		status["status"] = "not ready"
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "not ready"})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, status)
}

// SubmitEvent evaluates one domain event synchronously
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.Event
	if !h.decode(w, r, &ev) {
		return
	}

	report, err := h.dispatcher.Process(r.Context(), ev)
	if err != nil {
		h.writeServiceError(w, err, "process event")
		return
	}

	h.writeSuccess(w, report)
}

// CreateCategory handles category creation
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var c domain.Category
	if !h.decode(w, r, &c) {
		return
	}

	created, err := h.admin.CreateCategory(r.Context(), c)
	if err != nil {
		h.writeServiceError(w, err, "create category")
		return
	}

	h.writeCreated(w, created)
}

// ListCategories returns all categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.admin.ListCategories(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list categories")
		return
	}

	h.writeSuccess(w, categories)
}

// GetCategory returns a category by ID
func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.admin.GetCategory(r.Context(), chi.URLParam(r, "categoryID"))
	if err != nil {
		h.writeServiceError(w, err, "get category")
		return
	}

	h.writeSuccess(w, c)
}

// UpdateCategory replaces a category
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var c domain.Category
	if !h.decode(w, r, &c) {
		return
	}

	updated, err := h.admin.UpdateCategory(r.Context(), chi.URLParam(r, "categoryID"), c)
	if err != nil {
		h.writeServiceError(w, err, "update category")
		return
	}

	h.writeSuccess(w, updated)
}

// DeleteCategory deletes a category and its definitions
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteCategory(r.Context(), chi.URLParam(r, "categoryID")); err != nil {
		h.writeServiceError(w, err, "delete category")
		return
	}

	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// CreateDefinition handles achievement definition creation
func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var d domain.Definition
	if !h.decode(w, r, &d) {
		return
	}

	created, err := h.admin.CreateDefinition(r.Context(), d)
	if err != nil {
		h.writeServiceError(w, err, "create definition")
		return
	}

	h.writeCreated(w, created)
}

// ListDefinitions returns all achievement definitions
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.admin.ListDefinitions(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list definitions")
		return
	}

	h.writeSuccess(w, defs)
}

// GetDefinition returns a definition by ID
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	d, err := h.admin.GetDefinition(r.Context(), chi.URLParam(r, "definitionID"))
	if err != nil {
		h.writeServiceError(w, err, "get definition")
		return
	}

	h.writeSuccess(w, d)
}

// UpdateDefinition replaces a definition
func (h *Handler) UpdateDefinition(w http.ResponseWriter, r *http.Request) {
	var d domain.Definition
	if !h.decode(w, r, &d) {
		return
	}

	updated, err := h.admin.UpdateDefinition(r.Context(), chi.URLParam(r, "definitionID"), d)
	if err != nil {
		h.writeServiceError(w, err, "update definition")
		return
	}

	h.writeSuccess(w, updated)
}

// DeleteDefinition deletes a definition that parents no other
func (h *Handler) DeleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteDefinition(r.Context(), chi.URLParam(r, "definitionID")); err != nil {
		h.writeServiceError(w, err, "delete definition")
		return
	}

	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// CreateReward handles reward definition creation
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var rd domain.RewardDefinition
	if !h.decode(w, r, &rd) {
		return
	}

	created, err := h.admin.CreateReward(r.Context(), rd)
	if err != nil {
		h.writeServiceError(w, err, "create reward")
		return
	}

	h.writeCreated(w, created)
}

// ListRewards returns all reward definitions
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.admin.ListRewards(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list rewards")
		return
	}

	h.writeSuccess(w, rewards)
}

// GetReward returns a reward definition by ID
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	rd, err := h.admin.GetReward(r.Context(), chi.URLParam(r, "rewardID"))
	if err != nil {
		h.writeServiceError(w, err, "get reward")
		return
	}

	h.writeSuccess(w, rd)
}

// GetPlayerAchievements returns a player's achievements with progress
func (h *Handler) GetPlayerAchievements(w http.ResponseWriter, r *http.Request) {
	q := service.AchievementQuery{KickerID: r.URL.Query().Get("kicker_id")}
	if season := r.URL.Query().Get("season_id"); season != "" {
		q.SeasonID = &season
	}

	page, err := h.players.Achievements(r.Context(), chi.URLParam(r, "playerID"), q)
	if err != nil {
		h.writeServiceError(w, err, "get player achievements")
		return
	}

	h.writeSuccess(w, page)
}

// GetPlayerUnlocks returns a player's unlock history, newest first
func (h *Handler) GetPlayerUnlocks(w http.ResponseWriter, r *http.Request) {
	filter := domain.UnlockFilter{
		PlayerID: chi.URLParam(r, "playerID"),
		KickerID: r.URL.Query().Get("kicker_id"),
		Limit:    h.feed.Limit(intQuery(r, "limit", 0)),
	}

	unlocks, err := h.feed.History(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "get player unlocks")
		return
	}

	h.writeSuccess(w, unlocks)
}

// GetPlayerRewards returns the rewards a player may select
func (h *Handler) GetPlayerRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.players.Rewards(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, err, "get player rewards")
		return
	}

	h.writeSuccess(w, rewards)
}

// GetSelectedRewards returns the player's selection per reward type
func (h *Handler) GetSelectedRewards(w http.ResponseWriter, r *http.Request) {
	selected, err := h.players.SelectedRewards(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, err, "get selected rewards")
		return
	}

	h.writeSuccess(w, selected)
}

// SelectReward selects or clears the player's reward of one type
func (h *Handler) SelectReward(w http.ResponseWriter, r *http.Request) {
	var req SelectRewardRequest
	if !h.decode(w, r, &req) {
		return
	}

	playerID := chi.URLParam(r, "playerID")
	if err := h.players.SelectReward(r.Context(), playerID, req.RewardType, req.RewardID); err != nil {
		h.writeServiceError(w, err, "select reward")
		return
	}

	h.writeSuccess(w, map[string]string{"status": "selected"})
}

// GetFeed returns a kicker's grouped unlock feed
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	groups, err := h.feed.Feed(r.Context(), chi.URLParam(r, "kickerID"), intQuery(r, "limit", 0))
	if err != nil {
		h.writeServiceError(w, err, "get feed")
		return
	}

	h.writeSuccess(w, groups)
}

// GetTopPlayers returns a kicker's achievement points ranking
func (h *Handler) GetTopPlayers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.feed.TopPlayers(r.Context(), chi.URLParam(r, "kickerID"), intQuery(r, "limit", 10))
	if err != nil {
		h.writeServiceError(w, err, "get top players")
		return
	}

	h.writeSuccess(w, entries)
}
