package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/middleware"
)

// parseReportTime accepts RFC 3339 timestamps or bare dates. Operators
// mostly paste dates, dashboards send full timestamps.
func parseReportTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// RevenueHandler handles GET /revenue?start=&end=. It sums completed
// payments in [start, end) grouped by tier; pending payments from rejected
// or undecided requests never contribute.
func (s *Server) RevenueHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "revenue"
	const method = "GET"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		code = http.StatusBadRequest
		writeJSON(w, code, errorBody{Error: "start and end are required"})
		return
	}
	from, err := parseReportTime(startStr)
	if err != nil {
		code = http.StatusBadRequest
		writeJSON(w, code, errorBody{Error: "start must be RFC 3339 or YYYY-MM-DD"})
		return
	}
	to, err := parseReportTime(endStr)
	if err != nil {
		code = http.StatusBadRequest
		writeJSON(w, code, errorBody{Error: "end must be RFC 3339 or YYYY-MM-DD"})
		return
	}
	if !from.Before(to) {
		code = http.StatusBadRequest
		writeJSON(w, code, errorBody{Error: "start must be before end"})
		return
	}

	summary, err := s.Revenue.Revenue(r.Context(), from, to)
	if err != nil {
		logger.Error("revenue report", zap.Error(err),
			zap.Time("start", from), zap.Time("end", to))
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, summary)
}
