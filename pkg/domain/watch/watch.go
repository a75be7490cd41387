package watch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anvilworks/anvil/pkg/domain/resource"
)

// Key identifies one watched resource. Sessions on different keys are
// fully independent.
type Key struct {
	Kind resource.Kind
	Id   string
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.Id
}

// Event names pushed to subscribers.
const (
	// a status snapshot. Resource is populated.
	EventStatus = "status"

	// the watched resource reached a terminal status. closes the stream.
	EventComplete = "complete"

	// the session hit its absolute deadline. closes the stream.
	EventTimeout = "timeout"

	// the session was stopped explicitly. closes the stream.
	EventStopped = "stopped"
)

type Event struct {
	Name     string
	Resource resource.Resource
}

// Subscriber is one live consumer of a session's events.
//
// Ping is a no-op reachability probe; Push delivers an event. Both report
// transport trouble as an error, on which the session detaches the
// subscriber. Close releases the transport and is called exactly once.
type Subscriber interface {
	Ping() error
	Push(Event) error
	Close()
}

// Check reads the current snapshot of the watched resource.
type Check func(ctx context.Context, key Key) (resource.Resource, error)

// Registry owns one PollSession per watched key.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]*PollSession

	ctx       context.Context
	scheduler Scheduler
	check     Check
	logger    *log.Logger
}

func NewRegistry(ctx context.Context, scheduler Scheduler, check Check, logger *log.Logger) *Registry {
	return &Registry{
		sessions:  map[Key]*PollSession{},
		ctx:       ctx,
		scheduler: scheduler,
		check:     check,
		logger:    logger,
	}
}

// Watch attaches s to the session of key, creating the session when it is
// the first subscriber. interval and timeout take effect only at session
// creation; later subscribers join the running cadence.
func (reg *Registry) Watch(key Key, interval, timeout time.Duration, s Subscriber) *Subscription {
	return reg.watch(key, interval, timeout, s, false)
}

// WatchOnce is the one-shot variant: the session runs its tick body at
// most once and then stops, whatever the outcome of the single run.
func (reg *Registry) WatchOnce(key Key, interval, timeout time.Duration, s Subscriber) *Subscription {
	return reg.watch(key, interval, timeout, s, true)
}

func (reg *Registry) watch(key Key, interval, timeout time.Duration, s Subscriber, once bool) *Subscription {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	session, ok := reg.sessions[key]
	if !ok {
		session = &PollSession{
			key:    key,
			check:  reg.check,
			ctx:    reg.ctx,
			logger: reg.logger,
			once:   once,
			remove: func() { reg.drop(key) },
		}
		session.first.Store(true)
		reg.sessions[key] = session

		session.setHandles(
			reg.scheduler.Every(interval, session.tick),
			reg.scheduler.After(timeout, func() {
				session.finish(EventTimeout)
			}),
		)
	}
	session.attach(s)
	return &Subscription{session: session, subscriber: s}
}

func (reg *Registry) drop(key Key) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.sessions, key)
}

// Stop ends the session of key, if any, pushing a terminal stopped event.
func (reg *Registry) Stop(key Key) {
	reg.mu.Lock()
	session, ok := reg.sessions[key]
	reg.mu.Unlock()
	if ok {
		session.finish(EventStopped)
	}
}

// Active reports whether a session currently exists for key.
func (reg *Registry) Active(key Key) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.sessions[key]
	return ok
}

// Subscription binds one subscriber to one session.
type Subscription struct {
	session    *PollSession
	subscriber Subscriber
}

// Detach removes the subscriber from its session. Detaching the last
// subscriber stops the session.
func (s *Subscription) Detach() {
	s.session.detach(s.subscriber)
}

// PollSession drives the recurring status check of one key and fans the
// snapshots out to its subscribers.
//
// At most one tick body runs at a time; a tick arriving while the
// previous one is still checking is skipped, not queued. Cancellation is
// cooperative: an in-flight tick finishes, the next one observes the
// stopped flag and returns.
type PollSession struct {
	key    Key
	check  Check
	ctx    context.Context
	logger *log.Logger

	mu          sync.Mutex
	subscribers []Subscriber
	stopped     bool

	inProgress atomic.Bool
	first      atomic.Bool
	once       bool
	onceRan    atomic.Bool

	tickHandle     Handle
	deadlineHandle Handle
	remove         func()
}

// setHandles publishes the scheduler handles. When a fast first tick has
// already finished the session, the handles are cancelled on the spot so
// that no timer outlives the session.
func (s *PollSession) setHandles(tick, deadline Handle) {
	s.mu.Lock()
	s.tickHandle = tick
	s.deadlineHandle = deadline
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		tick.Cancel()
		deadline.Cancel()
	}
}

func (s *PollSession) attach(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		sub.Close()
		return
	}
	s.subscribers = append(s.subscribers, sub)
}

func (s *PollSession) detach(sub Subscriber) {
	s.mu.Lock()
	rest := make([]Subscriber, 0, len(s.subscribers))
	for _, each := range s.subscribers {
		if each != sub {
			rest = append(rest, each)
		}
	}
	removed := len(rest) < len(s.subscribers)
	s.subscribers = rest
	empty := len(rest) == 0 && !s.stopped
	s.mu.Unlock()

	if removed {
		sub.Close()
	}
	if empty {
		s.finish(EventStopped)
	}
}

func (s *PollSession) tick() {
	if !s.inProgress.CompareAndSwap(false, true) {
		return
	}
	defer s.inProgress.Store(false)

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	if s.once {
		if !s.onceRan.CompareAndSwap(false, true) {
			return
		}
		defer s.finish(EventStopped)
	}

	// the very first tick skips the liveness probe so that a subscriber
	// registered just before the session start is not pruned mid-handshake
	if !s.first.Swap(false) {
		for _, sub := range s.snapshot() {
			if err := sub.Ping(); err != nil {
				s.logger.Printf("watch %s: pruning unreachable subscriber: %s", s.key, err)
				s.detach(sub)
			}
		}
	}

	subs := s.snapshot()
	if len(subs) == 0 {
		// nobody is listening. detach already stopped the session when it
		// removed the last subscriber; pruning everyone above ends here too.
		s.finish(EventStopped)
		return
	}

	r, err := s.check(s.ctx, s.key)
	if err != nil {
		s.logger.Printf("watch %s: status check: %s", s.key, err)
		return
	}

	for _, sub := range subs {
		if err := sub.Push(Event{Name: EventStatus, Resource: r}); err != nil {
			s.logger.Printf("watch %s: push failed, detaching subscriber: %s", s.key, err)
			s.detach(sub)
		}
	}

	if r.Status.Terminal() {
		s.finish(EventComplete)
	}
}

func (s *PollSession) snapshot() []Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscriber, len(s.subscribers))
	copy(out, s.subscribers)
	return out
}

// finish ends the session: terminal event to every subscriber, close them
// all, cancel the schedule, drop the registry entry. Safe to call from
// the deadline task, an explicit stop and the tick body concurrently;
// only the first call acts.
func (s *PollSession) finish(event string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	subs := s.subscribers
	s.subscribers = nil
	tick, deadline := s.tickHandle, s.deadlineHandle
	s.mu.Unlock()

	if tick != nil {
		tick.Cancel()
	}
	if deadline != nil {
		deadline.Cancel()
	}

	for _, sub := range subs {
		if err := sub.Push(Event{Name: event}); err != nil {
			s.logger.Printf("watch %s: terminal push: %s", s.key, err)
		}
		sub.Close()
	}
	s.remove()
}
