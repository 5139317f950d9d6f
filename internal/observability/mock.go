package observability

import "time"

// MockMetricsRegistry is a no-op implementation of MetricsRegistry for testing.
type MockMetricsRegistry struct{}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementRequestsCreated(tier string)                                 {}
func (m *MockMetricsRegistry) IncrementDecisions(decision string)                                   {}
func (m *MockMetricsRegistry) IncrementImpressions(status string)                                   {}
func (m *MockMetricsRegistry) IncrementClicks(status string)                                        {}
func (m *MockMetricsRegistry) IncrementEmptyRotations()                                             {}
func (m *MockMetricsRegistry) AddExpiredEntries(count int)                                          {}
func (m *MockMetricsRegistry) RecordSweepDuration(duration time.Duration)                           {}
func (m *MockMetricsRegistry) IncrementSweepErrors()                                                {}
