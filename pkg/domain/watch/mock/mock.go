package mock

import (
	"sync"
	"time"

	"github.com/anvilworks/anvil/pkg/domain/watch"
)

// Scheduler is a hand-driven watch.Scheduler. Nothing fires on its own;
// tests call Tick and FireDeadline to advance sessions.
type Scheduler struct {
	mu sync.Mutex

	recurring []*Item
	oneShot   []*Item
}

// Item is one scheduled unit of work.
type Item struct {
	Interval  time.Duration
	Run       func()
	cancelled bool
	mu        *sync.Mutex
}

func (i *Item) Cancel() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cancelled = true
}

func (i *Item) Cancelled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cancelled
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) Every(interval time.Duration, run func()) watch.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &Item{Interval: interval, Run: run, mu: &s.mu}
	s.recurring = append(s.recurring, item)
	return item
}

func (s *Scheduler) After(delay time.Duration, run func()) watch.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &Item{Interval: delay, Run: run, mu: &s.mu}
	s.oneShot = append(s.oneShot, item)
	return item
}

// Tick runs every live recurring item once, as if its interval elapsed.
// Cancelled items do not run; returns how many ran.
func (s *Scheduler) Tick() int {
	ran := 0
	for _, item := range s.live(&s.recurring) {
		item.Run()
		ran++
	}
	return ran
}

// FireDeadline runs every live one-shot item once, as if its delay
// elapsed, and marks it spent.
func (s *Scheduler) FireDeadline() int {
	items := s.live(&s.oneShot)
	for _, item := range items {
		item.Run()
		item.Cancel()
	}
	return len(items)
}

// Pending counts items that are scheduled and not cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.recurring {
		if !item.cancelled {
			n++
		}
	}
	for _, item := range s.oneShot {
		if !item.cancelled {
			n++
		}
	}
	return n
}

func (s *Scheduler) live(pool *[]*Item) []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*Item{}
	for _, item := range *pool {
		if !item.cancelled {
			out = append(out, item)
		}
	}
	return out
}

// Subscriber records what a session delivers to it.
type Subscriber struct {
	mu sync.Mutex

	// when non-nil, Ping reports this error (subscriber unreachable)
	PingErr error

	// when non-nil, Push reports this error (push transport broken)
	PushErr error

	events []watch.Event
	pings  int
	closed int
}

func NewSubscriber() *Subscriber {
	return &Subscriber{}
}

func (s *Subscriber) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.PingErr
}

func (s *Subscriber) Push(e watch.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PushErr != nil {
		return s.PushErr
	}
	s.events = append(s.events, e)
	return nil
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *Subscriber) Events() []watch.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]watch.Event, len(s.events))
	copy(out, s.events)
	return out
}

// LastEvent returns the most recent event and true, or false when none.
func (s *Subscriber) LastEvent() (watch.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return watch.Event{}, false
	}
	return s.events[len(s.events)-1], true
}

func (s *Subscriber) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed > 0
}

// Fail flips the subscriber into an unreachable state for both Ping and
// Push from now on.
func (s *Subscriber) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingErr = err
	s.PushErr = err
}
