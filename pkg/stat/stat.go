// Package stat provides lightweight throughput accounting for data paths.
//
// A Statistics value counts messages and bytes with atomic counters and can
// render a human-readable rate summary, typically logged when a stream ends.
package stat

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics accumulates message and byte counts from a fixed start time.
// Observe is safe for concurrent use.
type Statistics struct {
	start    time.Time
	messages atomic.Int64
	bytes    atomic.Int64
}

// New creates a Statistics with the clock started.
func New() *Statistics {
	return &Statistics{start: time.Now()}
}

// Observe records one message of n bytes.
func (s *Statistics) Observe(n int) {
	s.messages.Add(1)
	s.bytes.Add(int64(n))
}

// Messages returns the number of messages observed.
func (s *Statistics) Messages() int64 {
	return s.messages.Load()
}

// Bytes returns the number of bytes observed.
func (s *Statistics) Bytes() int64 {
	return s.bytes.Load()
}

// Elapsed returns the time since the statistics were created or last reset.
func (s *Statistics) Elapsed() time.Duration {
	return time.Since(s.start)
}

// Reset zeroes the counters and restarts the clock.
func (s *Statistics) Reset() {
	s.messages.Store(0)
	s.bytes.Store(0)
	s.start = time.Now()
}

// Summary renders counts and rates, e.g.
// "10000 messages (1.50 MB) in 2.0s: 5000 msg/s, 0.75 MB/s".
func (s *Statistics) Summary() string {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}
	messages := s.messages.Load()
	bytes := s.bytes.Load()
	mb := float64(bytes) / 1e6

	return fmt.Sprintf("%d messages (%.2f MB) in %.1fs: %.0f msg/s, %.2f MB/s",
		messages, mb, s.Elapsed().Seconds(),
		float64(messages)/elapsed, mb/elapsed)
}
