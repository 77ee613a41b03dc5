package timeutil

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/trackedvideo/internal/monitoring"
)

var schedLogf = monitoring.Component("Scheduler")

type subscription struct {
	id   int
	name string
	fn   func(now time.Time)
}

// Scheduler fans clock ticks out to subscribers. Subscribers run one after
// another on the goroutine that calls Run (or Tick), in subscription order,
// which makes that goroutine the single thread the acquisition engine runs
// on.
type Scheduler struct {
	clock    Clock
	interval time.Duration

	mu     sync.Mutex
	subs   []subscription
	nextID int
	ticks  uint64
}

// NewScheduler creates a scheduler ticking every interval on clock. A nil
// clock uses RealClock.
func NewScheduler(clock Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{clock: clock, interval: interval}
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Clock returns the clock the scheduler reads.
func (s *Scheduler) Clock() Clock { return s.clock }

// Subscribe registers fn under name. It is safe to call from inside a tick;
// the new subscriber first runs on the following tick. The returned function
// unsubscribes and may be called more than once.
func (s *Scheduler) Subscribe(name string, fn func(now time.Time)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, name: name, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Subscribers returns the names of current subscribers in call order.
func (s *Scheduler) Subscribers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.subs))
	for i, sub := range s.subs {
		names[i] = sub.name
	}
	return names
}

// Ticks returns how many ticks have been dispatched.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Tick dispatches one tick to the subscribers registered when it starts.
// A subscriber cancelled by an earlier one during the same tick is skipped.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	s.ticks++
	snapshot := append([]subscription(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range snapshot {
		if !s.subscribed(sub.id) {
			continue
		}
		sub.fn(now)
	}
}

func (s *Scheduler) subscribed(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.id == id {
			return true
		}
	}
	return false
}

// Run dispatches ticks from the clock until ctx is done and returns the
// context error.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	schedLogf("running every %v with %d subscriber(s)", s.interval, len(s.Subscribers()))
	for {
		select {
		case <-ctx.Done():
			schedLogf("stopped after %d ticks", s.Ticks())
			return ctx.Err()
		case now := <-ticker.C():
			s.Tick(now)
		}
	}
}
