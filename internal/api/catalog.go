package api

import (
	"net/http"
	"strconv"
	"time"
)

// TiersHandler handles GET /tiers: the immutable tier catalog clients
// choose from.
func (s *Server) TiersHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "tiers"
	const method = "GET"

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	tiers := s.Catalog.List()
	writeJSON(w, code, map[string]any{"tiers": tiers, "count": len(tiers)})
}

// PaymentNumbersHandler handles GET /payment-numbers: the static directory
// customers transfer to. Display-only; settlement is verified manually by
// operators before approval.
func (s *Server) PaymentNumbersHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "payment_numbers"
	const method = "GET"

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	numbers := s.Directory.List()
	writeJSON(w, code, map[string]any{"payment_numbers": numbers})
}
