package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/analytics"
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

type testEnv struct {
	srv    *Server
	store  *store.Memory
	audit  *analytics.Mock
	router *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	metrics := &observability.MockMetricsRegistry{}

	cat, err := catalog.New(catalog.Defaults())
	require.NoError(t, err)

	st := store.NewMemory()
	require.NoError(t, st.UpsertTarget(context.Background(), &models.Target{
		ID:       "tgt-1",
		Name:     "Vintage camera",
		OwnerID:  "user-9",
		Category: "electronics",
	}))

	audit := analytics.NewMock()
	manager := lifecycle.NewManager(st, cat, logger, metrics)
	tracker := tracking.NewTracker(st, cat, nil, audit, logger)
	sw := sweeper.New(st, logger, metrics)
	agg := revenue.NewAggregator(st)
	dir := directory.Parse("mpesa:0712345678")

	srv := NewServer(logger, st, cat, manager, rotation.NewRandomSelector(st), tracker, sw, agg, dir, metrics)

	r := mux.NewRouter()
	r.HandleFunc("/requests", srv.CreateRequestHandler).Methods("POST")
	r.HandleFunc("/requests", srv.ListRequestsHandler).Methods("GET")
	r.HandleFunc("/requests/{id}", srv.GetRequestHandler).Methods("GET")
	r.HandleFunc("/requests/{id}/approve", srv.ApproveRequestHandler).Methods("POST")
	r.HandleFunc("/requests/{id}/reject", srv.RejectRequestHandler).Methods("POST")
	r.HandleFunc("/rotation/{key}", srv.RotationHandler).Methods("GET")
	r.HandleFunc("/entries/{id}", srv.GetEntryHandler).Methods("GET")
	r.HandleFunc("/entries/{id}/impression", srv.ImpressionHandler).Methods("POST")
	r.HandleFunc("/entries/{id}/click", srv.ClickHandler).Methods("POST")
	r.HandleFunc("/entries/{id}/stats", srv.StatsHandler).Methods("GET")
	r.HandleFunc("/sweep", srv.SweepHandler).Methods("POST")
	r.HandleFunc("/revenue", srv.RevenueHandler).Methods("GET")
	r.HandleFunc("/tiers", srv.TiersHandler).Methods("GET")
	r.HandleFunc("/payment-numbers", srv.PaymentNumbersHandler).Methods("GET")
	r.HandleFunc("/health", srv.HealthHandler).Methods("GET")

	return &testEnv{srv: srv, store: st, audit: audit, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestCreateRequestEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/requests", map[string]any{
		"target_id": "tgt-1",
		"tier_id":   "BOOST_24H",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req := decodeJSON[models.Request](t, w)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.RequestPending, req.Status)
	assert.Equal(t, 500.0, req.Price)
}

func TestCreateRequestRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/requests", map[string]any{"tier_id": "BOOST_24H"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/requests", map[string]any{"target_id": "tgt-1", "tier_id": "NOPE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/requests", map[string]any{"target_id": "ghost", "tier_id": "BOOST_24H"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApproveFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env.srv.Lifecycle.SetClock(func() time.Time { return now })
	env.srv.SetClock(func() time.Time { return now })

	w := env.do(t, "POST", "/requests", map[string]any{
		"target_id": "tgt-1",
		"tier_id":   "BOOST_24H",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeJSON[models.Request](t, w)

	w = env.do(t, "POST", "/requests/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decodeJSON[approveResponse](t, w)
	require.NotNil(t, approved.Entry)
	assert.Equal(t, models.RequestApproved, approved.Request.Status)
	assert.Equal(t, now.Add(24*time.Hour), approved.Entry.ExpiresAt)

	// The entry now rotates under its category key.
	w = env.do(t, "GET", "/rotation/category:electronics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rot := decodeJSON[map[string]any](t, w)
	assert.Equal(t, float64(1), rot["count"])

	// A second approve is a conflict, surfaced as already processed.
	w = env.do(t, "POST", "/requests/"+created.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeJSON[errorBody](t, w)
	assert.Equal(t, "request already processed", body.Error)

	// And a reject after approval conflicts too.
	w = env.do(t, "POST", "/requests/"+created.ID+"/reject", map[string]any{"reason": "nope"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTrackingEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/requests", map[string]any{"target_id": "tgt-1", "tier_id": "BOOST_24H"})
	created := decodeJSON[models.Request](t, w)
	w = env.do(t, "POST", "/requests/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	approved := decodeJSON[approveResponse](t, w)
	entryID := approved.Entry.ID

	for i := 0; i < 10; i++ {
		w = env.do(t, "POST", "/entries/"+entryID+"/impression", nil)
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	for i := 0; i < 2; i++ {
		w = env.do(t, "POST", "/entries/"+entryID+"/click", nil)
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	w = env.do(t, "GET", "/entries/"+entryID+"/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeJSON[tracking.Stats](t, w)
	assert.Equal(t, int64(10), stats.Impressions)
	assert.Equal(t, int64(2), stats.Clicks)
	assert.Equal(t, 20.0, stats.CTR)
	assert.Equal(t, 250.0, stats.CPC)

	assert.Len(t, env.audit.Recorded(), 2, "each click is audited")

	w = env.do(t, "POST", "/entries/ghost/impression", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSweepEndpoint(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env.srv.Lifecycle.SetClock(func() time.Time { return now })

	w := env.do(t, "POST", "/requests", map[string]any{"target_id": "tgt-1", "tier_id": "BOOST_24H"})
	created := decodeJSON[models.Request](t, w)
	w = env.do(t, "POST", "/requests/"+created.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Advance past the 24h window and sweep.
	env.srv.SetClock(func() time.Time { return now.Add(24 * time.Hour) })
	w = env.do(t, "POST", "/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeJSON[map[string]any](t, w)
	assert.Equal(t, float64(1), res["expired"])

	// The rotation is empty afterwards.
	w = env.do(t, "GET", "/rotation/category:electronics", nil)
	rot := decodeJSON[map[string]any](t, w)
	assert.Equal(t, float64(0), rot["count"])

	// Sweeping again finds nothing.
	w = env.do(t, "POST", "/sweep", nil)
	res = decodeJSON[map[string]any](t, w)
	assert.Equal(t, float64(0), res["expired"])
}

func TestRevenueEndpoint(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env.srv.Lifecycle.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		w := env.do(t, "POST", "/requests", map[string]any{"target_id": "tgt-1", "tier_id": "BOOST_24H"})
		created := decodeJSON[models.Request](t, w)
		w = env.do(t, "POST", "/requests/"+created.ID+"/approve", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	// A rejected request's payment never completes and never counts.
	w := env.do(t, "POST", "/requests", map[string]any{"target_id": "tgt-1", "tier_id": "HOME_BANNER_7D"})
	created := decodeJSON[models.Request](t, w)
	w = env.do(t, "POST", "/requests/"+created.ID+"/reject", map[string]any{"reason": "no payment"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/revenue?start=2025-06-01&end=2025-06-02", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sum := decodeJSON[revenue.Summary](t, w)
	assert.Equal(t, 1000.0, sum.Total)
	assert.Equal(t, int64(2), sum.Count)

	w = env.do(t, "GET", "/revenue?start=2025-06-02&end=2025-06-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/revenue?start=2025-06-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRotationLimit(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		w := env.do(t, "POST", "/requests", map[string]any{
			"target_id":  "tgt-1",
			"tier_id":    "CATEGORY_BANNER_7D",
			"request_id": fmt.Sprintf("order-%d", i),
		})
		created := decodeJSON[models.Request](t, w)
		w = env.do(t, "POST", "/requests/"+created.ID+"/approve", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, "GET", "/rotation/category_banner?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rot := decodeJSON[map[string]any](t, w)
	assert.Equal(t, float64(2), rot["count"])

	w = env.do(t, "GET", "/rotation/category_banner?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndGetRequests(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/requests", map[string]any{"target_id": "tgt-1", "tier_id": "BOOST_24H"})
	created := decodeJSON[models.Request](t, w)

	w = env.do(t, "GET", "/requests?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeJSON[map[string]any](t, w)
	assert.Equal(t, float64(1), list["count"])

	w = env.do(t, "GET", "/requests?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/requests/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/requests/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/tiers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tiers := decodeJSON[map[string]any](t, w)
	assert.Equal(t, float64(6), tiers["count"])

	w = env.do(t, "GET", "/payment-numbers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "0712345678")

	w = env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
