package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/middleware"
)

// ImpressionHandler handles POST /entries/{id}/impression. Impressions are
// counted only; unlike clicks no per-event row is written.
func (s *Server) ImpressionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "impression"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	ctx, span := tracer.Start(r.Context(), "api.impression")
	defer span.End()

	code := http.StatusNoContent
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("entry.id", id))

	if err := s.Tracker.RecordImpression(ctx, id); err != nil {
		logger.Warn("record impression", zap.Error(err), zap.String("entry_id", id))
		s.Metrics.IncrementImpressions("error")
		code = writeDomainError(w, err)
		return
	}

	s.Metrics.IncrementImpressions("ok")
	w.WriteHeader(code)
}

// ClickHandler handles POST /entries/{id}/click. The counter increment and
// the CTR recompute are applied atomically by the store; the click is also
// appended to the immutable audit log.
func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "click"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	ctx, span := tracer.Start(r.Context(), "api.click")
	defer span.End()

	code := http.StatusNoContent
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("entry.id", id))

	if err := s.Tracker.RecordClick(ctx, id); err != nil {
		logger.Warn("record click", zap.Error(err), zap.String("entry_id", id))
		s.Metrics.IncrementClicks("error")
		code = writeDomainError(w, err)
		return
	}

	s.Metrics.IncrementClicks("ok")
	w.WriteHeader(code)
}
