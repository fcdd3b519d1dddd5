package testing

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// MockPriceSource is a mock implementation of domain.PriceSource for testing
type MockPriceSource struct {
	mu      sync.RWMutex
	name    string
	history map[string][]domain.PricePoint
	latest  map[string]*domain.PricePoint
	err     error
	calls   []string
}

// NewMockPriceSource creates a new mock price source
func NewMockPriceSource(name string) *MockPriceSource {
	return &MockPriceSource{
		name:    name,
		history: make(map[string][]domain.PricePoint),
		latest:  make(map[string]*domain.PricePoint),
	}
}

// SetHistory sets the history returned for symbol
func (m *MockPriceSource) SetHistory(symbol string, points []domain.PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[symbol] = points
}

// SetLatest sets the latest quote returned for symbol
func (m *MockPriceSource) SetLatest(symbol string, point domain.PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[symbol] = &point
}

// SetError sets the error to return
func (m *MockPriceSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the symbols requested so far, in order
func (m *MockPriceSource) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.calls...)
}

// Name returns the provider name
func (m *MockPriceSource) Name() string {
	return m.name
}

// FetchHistory returns the configured points inside [start, end]
func (m *MockPriceSource) FetchHistory(_ context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, symbol)
	if m.err != nil {
		return nil, m.err
	}

	var out []domain.PricePoint
	for _, p := range m.history[symbol] {
		if p.Date.Before(domain.Day(start)) || p.Date.After(domain.Day(end)) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// FetchLatest returns the configured latest quote
func (m *MockPriceSource) FetchLatest(_ context.Context, symbol string) (*domain.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, symbol)
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.latest[symbol]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

// MockRateLimiter is a mock implementation of domain.RateLimiter that never sleeps
type MockRateLimiter struct {
	mu         sync.Mutex
	waits      int
	violations int
}

// WaitIfNeeded records the call and returns ctx's error, if any
func (m *MockRateLimiter) WaitIfNeeded(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits++
	return ctx.Err()
}

// ReportViolation records a violation
func (m *MockRateLimiter) ReportViolation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations++
}

// Counts returns the number of waits and violations recorded
func (m *MockRateLimiter) Counts() (waits, violations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waits, m.violations
}
