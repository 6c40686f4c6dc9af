package scrollsync

import (
	"sync"
	"time"
)

// FrameInterval approximates one display frame.
const FrameInterval = 16 * time.Millisecond

// FrameScheduler defers work to the next frame boundary.
type FrameScheduler interface {
	Schedule(fn func())
}

// ManualScheduler queues work until Flush is called.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (m *ManualScheduler) Schedule(fn func()) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Flush runs every queued function and reports how many ran.
func (m *ManualScheduler) Flush() int {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
	return len(pending)
}

// Pending reports the number of queued functions.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// TickerScheduler runs queued work on a fixed interval for hosts without a
// display refresh callback.
type TickerScheduler struct {
	mu      sync.Mutex
	pending []func()

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	if interval <= 0 {
		interval = FrameInterval
	}
	s := &TickerScheduler{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *TickerScheduler) Schedule(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
}

func (s *TickerScheduler) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.mu.Lock()
			pending := s.pending
			s.pending = nil
			s.mu.Unlock()

			for _, fn := range pending {
				fn()
			}
		}
	}
}

// Stop halts the ticker. Pending work is dropped.
func (s *TickerScheduler) Stop() {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
}
