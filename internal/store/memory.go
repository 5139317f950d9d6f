package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patrickwarner/promoserve/internal/models"
)

// Memory is an in-process Store used by tests and local development. All
// operations run under one mutex, which gives the same conditional-write
// semantics the Postgres implementation gets from single SQL statements.
type Memory struct {
	mu       sync.Mutex
	requests map[string]*models.Request
	entries  map[string]*models.ActiveEntry
	byReq    map[string]string // request id -> entry id
	payments map[string]*models.PaymentRecord
	targets  map[string]*models.Target
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		requests: make(map[string]*models.Request),
		entries:  make(map[string]*models.ActiveEntry),
		byReq:    make(map[string]string),
		payments: make(map[string]*models.PaymentRecord),
		targets:  make(map[string]*models.Target),
	}
}

func (m *Memory) InsertRequest(ctx context.Context, req *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; ok {
		return models.ErrConflict
	}
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *Memory) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *Memory) ListRequests(ctx context.Context, status string) ([]models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Request
	for _, req := range m.requests {
		if status == "" || req.Status == status {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DecideRequest(ctx context.Context, id, status string, decidedAt time.Time, reason string) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if req.Status != models.RequestPending {
		if req.Status == status {
			return nil, models.ErrAlreadyDecided
		}
		return nil, models.ErrInvalidStateTransition
	}
	req.Status = status
	ts := decidedAt
	req.DecidedAt = &ts
	req.RejectionReason = reason
	cp := *req
	return &cp, nil
}

func (m *Memory) ReopenRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return models.ErrNotFound
	}
	if _, activated := m.byReq[id]; activated {
		return nil
	}
	if req.Status != models.RequestApproved {
		return nil
	}
	req.Status = models.RequestPending
	req.DecidedAt = nil
	return nil
}

func (m *Memory) UpsertActiveEntry(ctx context.Context, e *models.ActiveEntry, maxConcurrent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byReq[e.RequestID]; ok {
		return nil // retried approval, entry already exists
	}
	if maxConcurrent > 0 {
		eligible := 0
		for _, ex := range m.entries {
			if ex.Key == e.Key && ex.Status == models.EntryActive && e.ActivatedAt.Before(ex.ExpiresAt) {
				eligible++
			}
		}
		if eligible >= maxConcurrent {
			return models.ErrConflict
		}
	}
	cp := *e
	m.entries[e.ID] = &cp
	m.byReq[e.RequestID] = e.ID
	return nil
}

func (m *Memory) GetEntry(ctx context.Context, id string) (*models.ActiveEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) GetEntryByRequest(ctx context.Context, requestID string) (*models.ActiveEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byReq[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *m.entries[id]
	return &cp, nil
}

func (m *Memory) ListEntriesByKey(ctx context.Context, key string) ([]models.ActiveEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActiveEntry
	for _, e := range m.entries {
		if e.Key == key && e.Status == models.EntryActive {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.Before(out[j].ActivatedAt) })
	return out, nil
}

func (m *Memory) ListExpiredEntries(ctx context.Context, now time.Time) ([]models.ActiveEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActiveEntry
	for _, e := range m.entries {
		if e.Status == models.EntryActive && !now.Before(e.ExpiresAt) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *Memory) ExpireEntry(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if e.Status != models.EntryActive {
		return false, nil
	}
	e.Status = models.EntryExpired
	return true, nil
}

func (m *Memory) HasActiveEntryForTarget(ctx context.Context, targetID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.TargetID == targetID && e.Status == models.EntryActive && now.Before(e.ExpiresAt) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) IncrementImpressions(ctx context.Context, entryID string) (models.EntryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return models.EntryStats{}, models.ErrNotFound
	}
	e.Stats.Impressions++
	e.CTR = models.CTRPercent(e.Stats.Clicks, e.Stats.Impressions)
	return e.Stats, nil
}

func (m *Memory) IncrementClicks(ctx context.Context, entryID string) (models.EntryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return models.EntryStats{}, models.ErrNotFound
	}
	e.Stats.Clicks++
	e.CTR = models.CTRPercent(e.Stats.Clicks, e.Stats.Impressions)
	return e.Stats, nil
}

func (m *Memory) UpsertPayment(ctx context.Context, p *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return nil
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *Memory) CompletePayment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return models.ErrNotFound
	}
	if p.Status == models.PaymentPending {
		p.Status = models.PaymentCompleted
	}
	return nil
}

func (m *Memory) GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListCompletedPayments(ctx context.Context, start, end time.Time) ([]models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentRecord
	for _, p := range m.payments {
		if p.Status != models.PaymentCompleted {
			continue
		}
		if p.CreatedAt.Before(start) || !p.CreatedAt.Before(end) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpsertTarget(ctx context.Context, t *models.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.targets[t.ID] = &cp
	return nil
}

func (m *Memory) LookupTarget(ctx context.Context, id string) (*models.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) SetTargetPromoted(ctx context.Context, targetID string, promoted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[targetID]
	if !ok {
		return models.ErrNotFound
	}
	t.Promoted = promoted
	return nil
}
