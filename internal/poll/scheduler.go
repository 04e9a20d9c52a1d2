package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultInterval is used when Start is given a non-positive interval
const DefaultInterval = 3 * time.Second

// Verdict is returned by a tick to continue or finish a poll
type Verdict int

const (
	Continue Verdict = iota
	Done
)

func (v Verdict) String() string {
	if v == Done {
		return "done"
	}
	return "continue"
}

// TickFunc performs one poll step. The context is cancelled only when the
// scheduler is closed, not when the poll itself is cancelled.
type TickFunc func(ctx context.Context) Verdict

// Reasons a poll ends without a Done verdict
var (
	ErrCancelled  = errors.New("poll cancelled")
	ErrSuperseded = errors.New("poll superseded")
	ErrClosed     = errors.New("scheduler closed")
)

// poll is the bookkeeping for one started poll
type poll struct {
	key      string
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	err      error // guarded by Scheduler.mu
}

// Handle refers to one started poll. It stays valid after the poll ended
// and never affects a later poll on the same key.
type Handle struct {
	s *Scheduler
	p *poll
}

// Key returns the key the poll was started on
func (h *Handle) Key() string {
	return h.p.key
}

// Cancel stops this poll if it is still active and reports whether it did.
// It returns false once the poll finished, was superseded or the scheduler
// was closed; a later poll on the same key is left alone.
func (h *Handle) Cancel() bool {
	return h.s.stopPoll(h.p, ErrCancelled)
}

// Done is closed when the poll has ended for any reason. When the poll ended
// with a Done verdict, onDone has returned before Done is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.p.done
}

// Err reports why the poll ended: nil while it runs or after a Done verdict,
// otherwise ErrCancelled, ErrSuperseded or ErrClosed.
func (h *Handle) Err() error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.p.err
}

// Scheduler runs keyed periodic polls. At most one poll is active per key and
// ticks of a poll never overlap; the next tick is scheduled interval after
// the previous one completed.
type Scheduler struct {
	clock  clock.Clock
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	polls  map[string]*poll
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the clock used for tick timers
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		clock:  clock.RealClock{},
		ctx:    ctx,
		cancel: cancel,
		polls:  make(map[string]*poll),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins polling key. An existing poll on the same key is superseded
// first. The first tick runs after interval; onDone is called once when a
// tick returns Done, unless the poll was stopped meanwhile. The returned
// handle reports when and why the poll ended. Starting on a closed scheduler
// returns a handle that has already ended with ErrClosed.
func (s *Scheduler) Start(key string, interval time.Duration, tick TickFunc, onDone func()) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &poll{key: key, interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
	h := &Handle{s: s, p: p}

	s.mu.Lock()
	if s.closed {
		p.err = ErrClosed
		s.mu.Unlock()
		close(p.done)
		slog.Warn("Poll started on closed scheduler", "key", key)
		return h
	}
	if prev, ok := s.polls[key]; ok {
		prev.err = ErrSuperseded
		close(prev.stop)
		slog.Debug("Superseding active poll", "key", key)
	}
	s.polls[key] = p
	s.wg.Add(1)
	s.mu.Unlock()

	slog.Debug("Poll started", "key", key, "interval", interval)
	go s.run(p, tick, onDone)
	return h
}

// Cancel stops polling key. Unknown or inactive keys are ignored.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	p, ok := s.polls[key]
	s.mu.Unlock()
	if ok {
		s.stopPoll(p, ErrCancelled)
	}
}

// stopPoll ends p with reason if p is still the active poll for its key
func (s *Scheduler) stopPoll(p *poll, reason error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.polls[p.key] != p {
		return false
	}
	delete(s.polls, p.key)
	p.err = reason
	close(p.stop)
	slog.Debug("Poll cancelled", "key", p.key)
	return true
}

// Active reports whether a poll is active for key
func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.polls[key]
	return ok
}

// Len returns the number of active polls
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.polls)
}

// Close cancels every poll, aborts in-flight ticks and waits for all poll
// goroutines to return. Handles from later Start calls are already done
// with ErrClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for key, p := range s.polls {
		p.err = ErrClosed
		close(p.stop)
		delete(s.polls, key)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(p *poll, tick TickFunc, onDone func()) {
	defer s.wg.Done()
	defer close(p.done)

	for {
		timer := s.clock.NewTimer(p.interval)
		select {
		case <-p.stop:
			timer.Stop()
			return
		case <-timer.C():
		}

		// The timer and stop may become ready together
		if !s.isActive(p) {
			return
		}

		verdict := tick(s.ctx)
		if verdict == Continue {
			continue
		}

		if s.finish(p) && onDone != nil {
			onDone()
		}
		return
	}
}

func (s *Scheduler) isActive(p *poll) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[p.key] == p
}

// finish removes p if it is still the active poll for its key
func (s *Scheduler) finish(p *poll) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.polls[p.key] != p {
		slog.Debug("Discarding verdict of inactive poll", "key", p.key)
		return false
	}
	delete(s.polls, p.key)
	return true
}
