package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/middleware"
)

// RotationHandler handles GET /rotation/{key}?limit=. It returns the
// eligible entries for a placement or category key in randomized order.
// Expiry is re-verified against the request clock, so an entry whose
// window has elapsed never serves even if the sweeper has not caught up
// with it yet. An empty rotation is a normal outcome, not an error.
func (s *Server) RotationHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "rotation"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	key := mux.Vars(r)["key"]
	entries, err := s.Selector.SelectEligible(r.Context(), key, s.now().UTC())
	if err != nil {
		logger.Error("select eligible", zap.Error(err), zap.String("key", key))
		code = writeDomainError(w, err)
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			code = http.StatusBadRequest
			writeJSON(w, code, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		if limit < len(entries) {
			entries = entries[:limit]
		}
	}

	if len(entries) == 0 {
		s.Metrics.IncrementEmptyRotations()
	}
	writeJSON(w, code, map[string]any{
		"key":     key,
		"entries": entries,
		"count":   len(entries),
	})
}
