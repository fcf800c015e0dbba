package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the trailing window used for per-identity limiting.
const DefaultWindow = time.Minute

const defaultSweepEvery = 1024

// Limiter admits or rejects a request for key given a per-window limit.
type Limiter interface {
	Admit(ctx context.Context, key string, limit int) (bool, error)
}

// SlidingWindowConfig configures an in-memory sliding-window limiter.
type SlidingWindowConfig struct {
	Window     time.Duration
	Clock      func() time.Time
	SweepEvery int
}

// SlidingWindow keeps, per key, the timestamps of admitted requests inside the trailing window.
// Mutation is serialized per key, so admission never exceeds the limit.
type SlidingWindow struct {
	window     time.Duration
	clock      func() time.Time
	sweepEvery uint64

	mu         sync.Mutex
	entries    map[string]*windowEntry
	admissions uint64
}

type windowEntry struct {
	mu      sync.Mutex
	stamps  []time.Time
	evicted bool
}

// NewSlidingWindow constructs an in-memory limiter.
func NewSlidingWindow(cfg SlidingWindowConfig) *SlidingWindow {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sweepEvery := cfg.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepEvery
	}
	return &SlidingWindow{
		window:     window,
		clock:      clock,
		sweepEvery: uint64(sweepEvery),
		entries:    make(map[string]*windowEntry),
	}
}

// Admit prunes timestamps at or before now-window, rejects when the remaining count
// reaches limit, and otherwise records now.
func (s *SlidingWindow) Admit(_ context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	for {
		entry, shouldSweep := s.lookup(key)
		entry.mu.Lock()
		if entry.evicted {
			entry.mu.Unlock()
			continue
		}
		now := s.clock()
		entry.stamps = prune(entry.stamps, now.Add(-s.window))
		admitted := len(entry.stamps) < limit
		if admitted {
			entry.stamps = append(entry.stamps, now)
		}
		entry.mu.Unlock()

		if shouldSweep {
			s.Sweep()
		}
		return admitted, nil
	}
}

// Sweep drops keys whose newest timestamp has left the window.
func (s *SlidingWindow) Sweep() int {
	cutoff := s.clock().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		entry.mu.Lock()
		entry.stamps = prune(entry.stamps, cutoff)
		if len(entry.stamps) == 0 {
			entry.evicted = true
			delete(s.entries, key)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// Keys reports how many identities currently hold window state.
func (s *SlidingWindow) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *SlidingWindow) lookup(key string) (*windowEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &windowEntry{}
		s.entries[key] = entry
	}
	s.admissions++
	return entry, s.admissions%s.sweepEvery == 0
}

// prune drops leading timestamps at or before cutoff. Timestamps are appended in order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	index := 0
	for index < len(stamps) && !stamps[index].After(cutoff) {
		index++
	}
	if index == 0 {
		return stamps
	}
	remaining := make([]time.Time, len(stamps)-index)
	copy(remaining, stamps[index:])
	return remaining
}
