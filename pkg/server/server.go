package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/elonfeng/pricewatch/internal/scheduler"
	"github.com/elonfeng/pricewatch/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Trigger starts a tracking cycle on demand.
type Trigger interface {
	TryRunCycle(ctx context.Context) error
}

// Server provides the registration HTTP API.
type Server struct {
	store   store.Store
	trigger Trigger
	logger  *zap.Logger
	port    int
}

// New creates a new HTTP server. trigger may be nil when no scheduler
// is attached (serve-only mode).
func New(s store.Store, trigger Trigger, logger *zap.Logger, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:   s,
		trigger: trigger,
		logger:  logger,
		port:    port,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Post("/api/users", s.handleCreateUser)
	r.Post("/api/products", s.handleAddProduct)
	r.Get("/api/products", s.handleListProducts)
	r.Get("/api/products/{id}/history", s.handleHistory)
	r.Post("/api/track", s.handleTrack)
	return r
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("api server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<h2>Product Price Tracker API is running</h2>")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email           string `json:"email"`
		Phone           string `json:"phone"`
		AlertPreference string `json:"alert_preference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email required")
		return
	}

	id, err := s.store.CreateUser(r.Context(), req.Email, req.Phone, req.AlertPreference)
	if err != nil {
		s.logger.Warn("create user", zap.String("email", req.Email), zap.Error(err))
		writeError(w, http.StatusBadRequest, "user already exists")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user_id": id})
}

func (s *Server) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL         string  `json:"url"`
		TargetPrice float64 `json:"target_price"`
		UserID      int64   `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" || req.TargetPrice == 0 || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "missing parameters")
		return
	}

	productID, err := s.store.GetOrCreateProduct(r.Context(), req.URL, nameFromURL(req.URL), req.TargetPrice)
	if err != nil {
		s.logger.Warn("add product", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusBadRequest, "could not add product")
		return
	}

	if err := s.store.CreateTracking(r.Context(), req.UserID, productID, req.TargetPrice); err != nil {
		s.logger.Warn("create tracking", zap.Int64("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusBadRequest, "could not create tracking")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "product_id": productID})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": products, "count": len(products)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	history, err := s.store.History(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": history, "count": len(history)})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	if err := s.trigger.TryRunCycle(r.Context()); err != nil {
		if errors.Is(err, scheduler.ErrCycleRunning) {
			writeError(w, http.StatusConflict, "cycle already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// nameFromURL derives a display name from the last URL path segment,
// matching how products are named at registration time.
func nameFromURL(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
