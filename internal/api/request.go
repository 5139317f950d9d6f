package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/middleware"
	"github.com/patrickwarner/promoserve/internal/models"
)

// createRequestBody is the payload for POST /requests.
type createRequestBody struct {
	TargetID string `json:"target_id"`
	TierID   string `json:"tier_id"`
	// RequestID lets clients retry creation idempotently. When empty the
	// server assigns one.
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CreateRequestHandler handles POST /requests: a customer asks for a
// promotion. The request starts pending until an operator decides it.
func (s *Server) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "create_request"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	code := http.StatusCreated
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		code = http.StatusBadRequest
		writeJSON(w, code, errorBody{Error: "invalid JSON body"})
		return
	}
	if body.TargetID == "" || body.TierID == "" {
		code = http.StatusBadRequest
		writeJSON(w, code, errorBody{Error: "target_id and tier_id are required"})
		return
	}

	req, err := s.Lifecycle.CreateRequest(r.Context(), body.TargetID, body.TierID, body.RequestID, body.Metadata)
	if err != nil {
		logger.Warn("create request",
			zap.Error(err),
			zap.String("target_id", body.TargetID),
			zap.String("tier_id", body.TierID))
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, req)
}

// ListRequestsHandler handles GET /requests?status=. Without a status
// filter it returns everything, oldest first.
func (s *Server) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "list_requests"
	const method = "GET"

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	status := r.URL.Query().Get("status")
	switch status {
	case "", models.RequestPending, models.RequestApproved, models.RequestRejected:
	default:
		code = http.StatusBadRequest
		writeJSON(w, code, errorBody{Error: "unknown status filter"})
		return
	}

	reqs, err := s.Store.ListRequests(r.Context(), status)
	if err != nil {
		middleware.LoggerFromRequest(r, s.Logger).Error("list requests", zap.Error(err))
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, map[string]any{"requests": reqs, "count": len(reqs)})
}

// GetRequestHandler handles GET /requests/{id}.
func (s *Server) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "get_request"
	const method = "GET"

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	id := mux.Vars(r)["id"]
	req, err := s.Store.GetRequest(r.Context(), id)
	if err != nil {
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, req)
}

// approveResponse bundles the decided request with the entry it produced.
type approveResponse struct {
	Request *models.Request     `json:"request"`
	Entry   *models.ActiveEntry `json:"entry"`
}

// ApproveRequestHandler handles POST /requests/{id}/approve. Approval is a
// single conditional transition: of any number of concurrent decisions on
// the same request exactly one wins, the rest get a conflict.
func (s *Server) ApproveRequestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "approve_request"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	id := mux.Vars(r)["id"]
	entry, err := s.Lifecycle.Approve(r.Context(), id)
	if err != nil {
		logger.Warn("approve request", zap.Error(err), zap.String("request_id", id))
		code = writeDomainError(w, err)
		return
	}

	req, err := s.Store.GetRequest(r.Context(), id)
	if err != nil {
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, approveResponse{Request: req, Entry: entry})
}

// rejectBody carries the optional operator-supplied reason.
type rejectBody struct {
	Reason string `json:"reason"`
}

// RejectRequestHandler handles POST /requests/{id}/reject. Rejection has
// no side effects beyond the status change; the payment stays pending and
// no entry is created.
func (s *Server) RejectRequestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "reject_request"
	const method = "POST"
	logger := middleware.LoggerFromRequest(r, s.Logger)

	code := http.StatusOK
	defer func() {
		s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(code))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	}()

	id := mux.Vars(r)["id"]
	var body rejectBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body) // reason is optional
	}

	req, err := s.Lifecycle.Reject(r.Context(), id, body.Reason)
	if err != nil {
		logger.Warn("reject request", zap.Error(err), zap.String("request_id", id))
		code = writeDomainError(w, err)
		return
	}
	writeJSON(w, code, req)
}
