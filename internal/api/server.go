// Package api exposes the engine's synchronous command surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/catalog"
	"github.com/patrickwarner/promoserve/internal/directory"
	"github.com/patrickwarner/promoserve/internal/lifecycle"
	"github.com/patrickwarner/promoserve/internal/models"
	"github.com/patrickwarner/promoserve/internal/observability"
	"github.com/patrickwarner/promoserve/internal/revenue"
	"github.com/patrickwarner/promoserve/internal/rotation"
	"github.com/patrickwarner/promoserve/internal/store"
	"github.com/patrickwarner/promoserve/internal/sweeper"
	"github.com/patrickwarner/promoserve/internal/tracking"
)

var tracer = otel.Tracer("promoserve/api")

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Store     store.Store
	Catalog   *catalog.Catalog
	Lifecycle *lifecycle.Manager
	Selector  rotation.Selector
	Tracker   *tracking.Tracker
	Sweeper   *sweeper.Sweeper
	Revenue   *revenue.Aggregator
	Directory *directory.Directory
	Metrics   observability.MetricsRegistry

	now func() time.Time
}

// NewServer constructs a Server. A nil selector falls back to the random
// rotation selector.
func NewServer(logger *zap.Logger, st store.Store, cat *catalog.Catalog, lc *lifecycle.Manager,
	selector rotation.Selector, tracker *tracking.Tracker, sw *sweeper.Sweeper,
	rev *revenue.Aggregator, dir *directory.Directory, metrics observability.MetricsRegistry) *Server {
	if selector == nil {
		selector = rotation.NewRandomSelector(st)
	}
	return &Server{
		Logger:    logger,
		Store:     st,
		Catalog:   cat,
		Lifecycle: lc,
		Selector:  selector,
		Tracker:   tracker,
		Sweeper:   sw,
		Revenue:   rev,
		Directory: dir,
		Metrics:   metrics,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// writeDomainError maps domain errors onto HTTP status codes. Every failed
// transition surfaces; nothing is silently swallowed.
func writeDomainError(w http.ResponseWriter, err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAlreadyDecided):
		// The admin console shows this as "already processed" on a
		// double-tap instead of an error state.
		writeJSON(w, http.StatusConflict, errorBody{Error: "request already processed"})
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidStateTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return http.StatusConflict
	case errors.Is(err, models.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return http.StatusConflict
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return http.StatusInternalServerError
	}
}
