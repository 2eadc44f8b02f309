package raft

import (
	"time"

	"go.uber.org/atomic"
)

// StateMachine receives committed entries in log order.
type StateMachine interface {
	// Apply applies a committed command entry. An error leaves the entry
	// unapplied; it is retried the next time the commit index moves.
	Apply(entry *LogEntry) error
}

// applier hands committed entries to the state machine off the event loop.
type applier struct {
	log          Log
	stateMachine StateMachine
	logger       Logger

	lastApplied *atomic.Uint64
	signal      chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     *atomic.Bool
}

func newApplier(log Log, sm StateMachine, logger Logger) *applier {
	return &applier{
		log:          log,
		stateMachine: sm,
		logger:       logger,
		lastApplied:  atomic.NewUint64(0),
		signal:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		running:      atomic.NewBool(false),
	}
}

func (a *applier) start() {
	if a.running.CompareAndSwap(false, true) {
		go a.run()
	}
}

// notify wakes the applier. It never blocks.
func (a *applier) notify() {
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

func (a *applier) stop(timeout time.Duration) {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	close(a.stopCh)
	select {
	case <-a.doneCh:
	case <-time.After(timeout):
		a.logger.Warn("applier did not stop in time")
	}
}

func (a *applier) run() {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case <-a.signal:
			a.applyCommitted()
		}
	}
}

// applyCommitted applies (lastApplied, commitIndex] in order.
func (a *applier) applyCommitted() {
	commitIndex := a.log.CommitIndex()
	for next := a.lastApplied.Load() + 1; next <= commitIndex; next++ {
		select {
		case <-a.stopCh:
			return
		default:
		}

		entry, err := a.log.Get(next)
		if err != nil {
			a.logger.Error("committed entry missing", "index", next, "error", err)
			return
		}
		if entry.Kind == EntryCommand && a.stateMachine != nil {
			if err := a.stateMachine.Apply(entry); err != nil {
				a.logger.Warn("failed to apply entry", "index", next, "error", err)
				return
			}
		}
		a.lastApplied.Store(next)
	}
}
