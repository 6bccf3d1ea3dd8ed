// Package service contains application services.
package service

import (
	"sync"
	"sync/atomic"
)

// StatsService tracks runtime pipeline statistics using lock-free atomic
// counters, queried by the admin status endpoint. All operations are
// safe for concurrent access from the forward loops and the admin HTTP
// handlers.
type StatsService struct {
	forwarded atomic.Int64
	held      atomic.Int64
	modified  atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64

	mu             sync.Mutex
	directionCounts map[string]int64
	transportCounts map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		directionCounts: make(map[string]int64),
		transportCounts: make(map[string]int64),
	}
}

// RecordForwarded increments the forwarded counter.
func (s *StatsService) RecordForwarded() {
	s.forwarded.Add(1)
}

// RecordHeld increments the held counter, each time a message enters the
// intercept engine's held registry.
func (s *StatsService) RecordHeld() {
	s.held.Add(1)
}

// RecordModified increments the modified counter, each time an operator
// releases a held message with a replacement envelope.
func (s *StatsService) RecordModified() {
	s.modified.Add(1)
}

// RecordDropped increments the dropped counter.
func (s *StatsService) RecordDropped() {
	s.dropped.Add(1)
}

// RecordError increments the error counter.
func (s *StatsService) RecordError() {
	s.errors.Add(1)
}

// RecordDirection increments the counter for the given direction string.
func (s *StatsService) RecordDirection(direction string) {
	if direction == "" {
		return
	}
	s.mu.Lock()
	s.directionCounts[direction]++
	s.mu.Unlock()
}

// RecordTransport increments the counter for the given transport name.
func (s *StatsService) RecordTransport(transport string) {
	if transport == "" {
		return
	}
	s.mu.Lock()
	s.transportCounts[transport]++
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Forwarded       int64            `json:"forwarded"`
	Held            int64            `json:"held"`
	Modified        int64            `json:"modified"`
	Dropped         int64            `json:"dropped"`
	Errors          int64            `json:"errors"`
	DirectionCounts map[string]int64 `json:"direction_counts"`
	TransportCounts map[string]int64 `json:"transport_counts"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	dc := make(map[string]int64, len(s.directionCounts))
	for k, v := range s.directionCounts {
		dc[k] = v
	}
	tc := make(map[string]int64, len(s.transportCounts))
	for k, v := range s.transportCounts {
		tc[k] = v
	}
	s.mu.Unlock()

	return Stats{
		Forwarded:       s.forwarded.Load(),
		Held:            s.held.Load(),
		Modified:        s.modified.Load(),
		Dropped:         s.dropped.Load(),
		Errors:          s.errors.Load(),
		DirectionCounts: dc,
		TransportCounts: tc,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.forwarded.Store(0)
	s.held.Store(0)
	s.modified.Store(0)
	s.dropped.Store(0)
	s.errors.Store(0)

	s.mu.Lock()
	s.directionCounts = make(map[string]int64)
	s.transportCounts = make(map[string]int64)
	s.mu.Unlock()
}
