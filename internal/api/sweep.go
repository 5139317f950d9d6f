package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/middleware"
)

// SweepHandler handles POST /sweep: an on-demand expiration pass outside
// the periodic schedule. Safe to call any number of times; entries already
// expired are skipped.
func (s *Server) SweepHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "sweep"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	now := s.now().UTC()
	expired, err := s.Sweeper.Sweep(r.Context(), now)
	if err != nil {
		logger.Error("manual sweep", zap.Error(err))
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, map[string]any{
		"swept_at": now,
		"expired":  expired,
	})
}
