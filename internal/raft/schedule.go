package raft

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/atomic"
)

// schedulerStopWait bounds how long Stop waits for the dispatcher.
const schedulerStopWait = time.Second

// ElectionTimeout is a pending election timeout.
type ElectionTimeout interface {
	// Cancel prevents the timeout from firing. It is idempotent and safe
	// to call after the timeout fired.
	Cancel()
	// Reschedule cancels this timeout and schedules the same task again
	// with a fresh random delay.
	Reschedule() ElectionTimeout
}

// LogReplicationTask is a repeating replication tick.
type LogReplicationTask interface {
	// Cancel stops further ticks. It is idempotent.
	Cancel()
}

// Scheduler produces election timeouts and replication ticks.
// Each task receives the handle it was scheduled under, so the receiver
// can tell a current timer from a superseded one.
type Scheduler interface {
	ScheduleElectionTimeout(task func(ElectionTimeout)) ElectionTimeout
	ScheduleLogReplicationTask(task func(LogReplicationTask)) LogReplicationTask
	// Stop cancels everything pending and waits a bounded time for a
	// running task to return.
	Stop() error
}

// DefaultScheduler runs tasks one at a time on a single dispatcher goroutine.
type DefaultScheduler struct {
	minElectionTimeout     time.Duration
	maxElectionTimeout     time.Duration
	logReplicationDelay    time.Duration
	logReplicationInterval time.Duration

	rndMu deadlock.Mutex
	rnd   *rand.Rand

	tasks    chan func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	stopped  *atomic.Bool

	logger Logger
}

// NewDefaultScheduler creates a scheduler with the timing bounds of cfg.
func NewDefaultScheduler(cfg NodeConfig) (*DefaultScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &DefaultScheduler{
		minElectionTimeout:     cfg.MinElectionTimeout,
		maxElectionTimeout:     cfg.MaxElectionTimeout,
		logReplicationDelay:    cfg.LogReplicationDelay,
		logReplicationInterval: cfg.LogReplicationInterval,
		rnd:                    rand.New(rand.NewSource(time.Now().UnixNano())),
		tasks:                  make(chan func()),
		stopCh:                 make(chan struct{}),
		doneCh:                 make(chan struct{}),
		stopped:                atomic.NewBool(false),
		logger:                 &defaultLogger{},
	}
	go s.dispatch()
	return s, nil
}

// SetLogger sets the logger for the scheduler.
func (s *DefaultScheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// dispatch runs submitted tasks sequentially until Stop.
func (s *DefaultScheduler) dispatch() {
	defer close(s.doneCh)
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.stopCh:
			return
		}
	}
}

// submit hands a task to the dispatcher. It gives up when the scheduler stops.
func (s *DefaultScheduler) submit(task func()) {
	select {
	case s.tasks <- task:
	case <-s.stopCh:
	}
}

// electionTimeout returns a uniformly random duration in [min, max).
func (s *DefaultScheduler) electionTimeout() time.Duration {
	if s.maxElectionTimeout == s.minElectionTimeout {
		return s.minElectionTimeout
	}
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return s.minElectionTimeout + time.Duration(s.rnd.Int63n(int64(s.maxElectionTimeout-s.minElectionTimeout)))
}

// ScheduleElectionTimeout schedules task to run once after a random timeout.
func (s *DefaultScheduler) ScheduleElectionTimeout(task func(ElectionTimeout)) ElectionTimeout {
	t := &electionTimeout{scheduler: s, task: task, cancelled: atomic.NewBool(false)}
	if s.stopped.Load() {
		t.cancelled.Store(true)
		return t
	}

	timeout := s.electionTimeout()
	s.logger.Debug("schedule election timeout", "timeout", timeout)
	t.timer = time.AfterFunc(timeout, func() {
		s.submit(func() {
			if t.cancelled.Load() {
				return
			}
			task(t)
		})
	})
	return t
}

// ScheduleLogReplicationTask schedules task to run after the replication
// delay and then with a fixed delay between runs.
func (s *DefaultScheduler) ScheduleLogReplicationTask(task func(LogReplicationTask)) LogReplicationTask {
	t := &replicationTask{cancelled: atomic.NewBool(false), done: make(chan struct{})}
	if s.stopped.Load() {
		t.Cancel()
		return t
	}

	s.logger.Debug("schedule log replication task")
	go func() {
		timer := time.NewTimer(s.logReplicationDelay)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				ran := make(chan struct{})
				s.submit(func() {
					defer close(ran)
					if t.cancelled.Load() {
						return
					}
					task(t)
				})
				select {
				case <-ran:
				case <-t.done:
					return
				case <-s.stopCh:
					return
				}
				timer.Reset(s.logReplicationInterval)
			case <-t.done:
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	return t
}

// Stop stops the scheduler. Pending timers never fire after Stop returns.
func (s *DefaultScheduler) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Debug("stop scheduler")
		s.stopped.Store(true)
		close(s.stopCh)
	})

	select {
	case <-s.doneCh:
		return nil
	case <-time.After(schedulerStopWait):
		return ErrTimeout
	}
}

type electionTimeout struct {
	scheduler *DefaultScheduler
	task      func(ElectionTimeout)
	timer     *time.Timer
	cancelled *atomic.Bool
}

func (t *electionTimeout) Cancel() {
	if t.cancelled.Swap(true) {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *electionTimeout) Reschedule() ElectionTimeout {
	t.Cancel()
	return t.scheduler.ScheduleElectionTimeout(t.task)
}

type replicationTask struct {
	cancelled *atomic.Bool
	done      chan struct{}
}

func (t *replicationTask) Cancel() {
	if t.cancelled.Swap(true) {
		return
	}
	close(t.done)
}

// ManualScheduler is a Scheduler whose timers only fire when told to.
// It lets tests drive elections and replication deterministically.
type ManualScheduler struct {
	mu       deadlock.Mutex
	timeouts []*manualElectionTimeout
	tasks    []*manualReplicationTask
	stopped  bool
}

// NewManualScheduler creates a manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// ScheduleElectionTimeout records the timeout without arming anything.
func (s *ManualScheduler) ScheduleElectionTimeout(task func(ElectionTimeout)) ElectionTimeout {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualElectionTimeout{scheduler: s, task: task, cancelled: atomic.NewBool(s.stopped)}
	s.timeouts = append(s.timeouts, t)
	return t
}

// ScheduleLogReplicationTask records the task without arming anything.
func (s *ManualScheduler) ScheduleLogReplicationTask(task func(LogReplicationTask)) LogReplicationTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualReplicationTask{task: task, cancelled: atomic.NewBool(s.stopped)}
	s.tasks = append(s.tasks, t)
	return t
}

// FireElectionTimeout runs the most recently scheduled election timeout
// that is still pending. It reports whether one was found.
func (s *ManualScheduler) FireElectionTimeout() bool {
	s.mu.Lock()
	var pending *manualElectionTimeout
	for i := len(s.timeouts) - 1; i >= 0; i-- {
		if !s.timeouts[i].cancelled.Load() {
			pending = s.timeouts[i]
			break
		}
	}
	s.mu.Unlock()

	if pending == nil {
		return false
	}
	pending.cancelled.Store(true)
	pending.task(pending)
	return true
}

// FireHandle runs the task scheduled under t even if t was cancelled, as
// a timer racing its own cancellation would.
func (s *ManualScheduler) FireHandle(t ElectionTimeout) {
	if m, ok := t.(*manualElectionTimeout); ok {
		m.task(m)
	}
}

// LatestElectionTimeout returns the most recently scheduled timeout.
func (s *ManualScheduler) LatestElectionTimeout() ElectionTimeout {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timeouts) == 0 {
		return nil
	}
	return s.timeouts[len(s.timeouts)-1]
}

// PendingElectionTimeouts returns how many timeouts are still pending.
func (s *ManualScheduler) PendingElectionTimeouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.timeouts {
		if !t.cancelled.Load() {
			count++
		}
	}
	return count
}

// Tick runs every replication task that has not been cancelled. It
// reports how many ran.
func (s *ManualScheduler) Tick() int {
	s.mu.Lock()
	tasks := make([]*manualReplicationTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.cancelled.Load() {
			tasks = append(tasks, t)
		}
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.task(t)
	}
	return len(tasks)
}

// Stop cancels everything that is pending.
func (s *ManualScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, t := range s.timeouts {
		t.Cancel()
	}
	for _, t := range s.tasks {
		t.Cancel()
	}
	return nil
}

type manualElectionTimeout struct {
	scheduler *ManualScheduler
	task      func(ElectionTimeout)
	cancelled *atomic.Bool
}

func (t *manualElectionTimeout) Cancel() { t.cancelled.Store(true) }

func (t *manualElectionTimeout) Reschedule() ElectionTimeout {
	t.Cancel()
	return t.scheduler.ScheduleElectionTimeout(t.task)
}

type manualReplicationTask struct {
	task      func(LogReplicationTask)
	cancelled *atomic.Bool
}

func (t *manualReplicationTask) Cancel() { t.cancelled.Store(true) }
