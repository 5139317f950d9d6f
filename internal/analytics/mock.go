package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/patrickwarner/promoserve/internal/models"
)

// MockEvent captures one recorded click for assertions.
type MockEvent struct {
	EntryID   string
	RequestID string
	TierID    string
	Key       string
	Timestamp time.Time
}

// Mock implements Service in memory for tests.
type Mock struct {
	mu     sync.Mutex
	Events []MockEvent
	Err    error // when set, RecordClick returns it
}

// NewMock returns an empty mock analytics service.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) RecordClick(ctx context.Context, entry *models.ActiveEntry, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, MockEvent{
		EntryID:   entry.ID,
		RequestID: entry.RequestID,
		TierID:    entry.TierID,
		Key:       entry.Key,
		Timestamp: ts,
	})
	return nil
}

// Recorded returns a copy of the captured events.
func (m *Mock) Recorded() []MockEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockEvent, len(m.Events))
	copy(out, m.Events)
	return out
}
