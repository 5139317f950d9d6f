package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/middleware"
)

// StatsHandler handles GET /entries/{id}/stats: lifetime counters plus the
// derived CTR, CPC and CPM for one entry.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "entry_stats"
	const method = "GET"

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	id := mux.Vars(r)["id"]
	stats, err := s.Tracker.GetStats(r.Context(), id)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Warn("entry stats",
			zap.Error(err), zap.String("entry_id", id))
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, stats)
}

// GetEntryHandler handles GET /entries/{id}.
func (s *Server) GetEntryHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "get_entry"
	const method = "GET"

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	id := mux.Vars(r)["id"]
	entry, err := s.Store.GetEntry(r.Context(), id)
	if err != nil {
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, entry)
}
