package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/swipe/offline-catalog/app/connectivity"
	"github.com/swipe/offline-catalog/app/logger"
)

// DefaultTaskName names the pending-products drain task.
const DefaultTaskName = "Sync Product Work"

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("retry scheduler closed")

// DrainFunc uploads the pending queue. A non-nil error asks for a retry.
type DrainFunc func(ctx context.Context) error

type Options struct {
	Name         string        // task name, DefaultTaskName when empty
	PollInterval time.Duration // connectivity polling while waiting
	Backoff      time.Duration // delay before the second attempt, doubled after
	MaxAttempts  int           // attempts of one task, including the first
	Slots        SlotStore
	Notifier     Notifier
	Log          *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = DefaultTaskName
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 30 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.Slots == nil {
		o.Slots = NewMemorySlots()
	}
	if o.Log == nil {
		o.Log = logger.Discard()
	}
	if o.Notifier == nil {
		o.Notifier = LogNotifier{Log: o.Log}
	}
}

type task struct {
	id      string
	attempt int
	delay   time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// Scheduler holds at most one outstanding drain task. Scheduling replaces a
// task that has not started yet; a started task owns no slot, so a new one
// can be armed while it runs. Drains never overlap.
type Scheduler struct {
	drain  DrainFunc
	oracle connectivity.Oracle
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *task
	closed  bool

	runMu sync.Mutex
}

func NewScheduler(drain DrainFunc, oracle connectivity.Oracle, opts Options) *Scheduler {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		drain:  drain,
		oracle: oracle,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule arms a drain that runs once connectivity is available, replacing
// any task still waiting.
func (s *Scheduler) Schedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(ctx, uuid.NewString(), 1, 0)
}

// Resume re-arms a task left in the slot store by a previous process.
func (s *Scheduler) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.opts.Slots.Get(ctx, s.opts.Name)
	if err != nil || !ok {
		return err
	}
	s.opts.Log.WithField("task", id).Info("resuming pending sync task")
	return s.enqueueLocked(ctx, id, 1, 0)
}

// Pending reports the id of the task waiting to run, if any.
func (s *Scheduler) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.id, true
}

// Close cancels waiting and running tasks and waits for them to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.current != nil {
		s.current.cancel()
		s.current = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) enqueueLocked(ctx context.Context, id string, attempt int, delay time.Duration) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.opts.Slots.Put(ctx, s.opts.Name, id); err != nil {
		return err
	}

	t := &task{id: id, attempt: attempt, delay: delay}
	t.ctx, t.cancel = context.WithCancel(s.ctx)
	if s.current != nil {
		s.opts.Log.WithField("task", s.current.id).Debug("replacing pending sync task")
		s.current.cancel()
	}
	s.current = t

	s.wg.Add(1)
	go s.run(t)
	return nil
}

func (s *Scheduler) run(t *task) {
	defer s.wg.Done()
	defer t.cancel()

	if t.delay > 0 && !s.sleep(t.ctx, t.delay) {
		return
	}
	for !s.oracle.IsAvailable() {
		if !s.sleep(t.ctx, s.opts.PollInterval) {
			return
		}
	}
	if !s.consume(t) {
		return
	}

	s.runMu.Lock()
	s.opts.Notifier.Notify(Event{Kind: EventStarted, TaskID: t.id, Attempt: t.attempt})
	err := s.drain(s.ctx)
	s.runMu.Unlock()

	if err == nil {
		s.opts.Notifier.Notify(Event{Kind: EventCompleted, TaskID: t.id, Attempt: t.attempt})
		return
	}
	s.opts.Notifier.Notify(Event{Kind: EventFailed, TaskID: t.id, Attempt: t.attempt, Err: err})

	if t.attempt >= s.opts.MaxAttempts {
		s.opts.Log.WithField("task", t.id).Warn("pending sync gave up after max attempts")
		return
	}
	s.retryLater(t)
}

// consume clears the slot if t still owns it. A replaced task returns false.
func (s *Scheduler) consume(t *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != t {
		return false
	}
	s.current = nil
	if err := s.opts.Slots.Delete(s.ctx, s.opts.Name, t.id); err != nil {
		s.opts.Log.WithError(err).Warn("failed to clear retry slot")
	}
	return true
}

// retryLater re-arms t with a doubled delay, unless a newer task is waiting.
func (s *Scheduler) retryLater(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil || s.closed {
		return
	}
	delay := s.opts.Backoff << (t.attempt - 1)
	if err := s.enqueueLocked(s.ctx, t.id, t.attempt+1, delay); err != nil {
		s.opts.Log.WithError(err).Error("failed to re-arm pending sync")
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
