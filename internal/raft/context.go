package raft

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

// releaseWait bounds each collaborator shutdown in Release.
const releaseWait = time.Second

// NodeContext holds the collaborators a node runs on and owns their
// lifecycle. The log and store are expected to be open already; the
// connector starts accepting RPCs when the node starts.
type NodeContext struct {
	SelfID    NodeID
	Group     *NodeGroup
	Store     NodeStore
	Log       Log
	Scheduler Scheduler
	Connector Connector
	Logger    Logger

	// StandbyMode keeps the node out of elections. It still follows a
	// leader and replicates its log.
	StandbyMode bool

	monitorOnce sync.Once
	monitor     *monitor
}

func (c *NodeContext) validate() error {
	switch {
	case c.SelfID == "":
		return errors.Wrap(ErrInvalidConfig, "node context: self id is empty")
	case c.Group == nil:
		return errors.Wrap(ErrInvalidConfig, "node context: group is nil")
	case c.Store == nil:
		return errors.Wrap(ErrInvalidConfig, "node context: store is nil")
	case c.Log == nil:
		return errors.Wrap(ErrInvalidConfig, "node context: log is nil")
	case c.Scheduler == nil:
		return errors.Wrap(ErrInvalidConfig, "node context: scheduler is nil")
	case c.Connector == nil:
		return errors.Wrap(ErrInvalidConfig, "node context: connector is nil")
	case c.Group.Self() != c.SelfID:
		return errors.Wrapf(ErrInvalidConfig, "node context: group belongs to %q, not %q", c.Group.Self(), c.SelfID)
	}
	if c.Logger == nil {
		c.Logger = &defaultLogger{}
	}
	return nil
}

func (c *NodeContext) taskMonitor() *monitor {
	c.monitorOnce.Do(func() {
		c.monitor = newMonitor(c.Logger)
	})
	return c.monitor
}

// initialize starts the connector with handler as the inbound target.
func (c *NodeContext) initialize(handler InboundHandler) error {
	if err := c.Connector.Initialize(handler); err != nil {
		return errors.Wrap(err, "initialize connector")
	}
	return nil
}

// AddNode adds a member whose replication starts at the log's next index.
func (c *NodeContext) AddNode(endpoint NodeEndpoint, voting bool) *GroupMember {
	return c.Group.AddNode(endpoint, c.Log.NextIndex(), voting)
}

// ResetReplicationStates restarts replication of every peer from the
// log's next index.
func (c *NodeContext) ResetReplicationStates() {
	c.Group.ResetReplicationStates(c.Log.NextIndex())
}

// RunWithMonitor runs task in the background and logs its failure.
// Tasks submitted after Release are dropped.
func (c *NodeContext) RunWithMonitor(name string, task func() error) {
	c.taskMonitor().run(name, task)
}

// Release shuts collaborators down in reverse order of initialization:
// connector, scheduler, log, store and finally the background monitor.
// Every step runs even if an earlier one failed; the first error is returned.
func (c *NodeContext) Release() error {
	var first error
	record := func(what string, err error) {
		if err == nil {
			return
		}
		c.Logger.Warn("failed to release", "component", what, "error", err)
		if first == nil {
			first = errors.Wrapf(err, "release %s", what)
		}
	}

	record("connector", c.Connector.Close())
	record("scheduler", c.Scheduler.Stop())
	record("log", c.Log.Close())
	record("store", c.Store.Close())
	record("monitor", c.taskMonitor().close(releaseWait))
	return first
}

// monitor runs background tasks and logs their failures.
type monitor struct {
	logger Logger
	mu     deadlock.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newMonitor(logger Logger) *monitor {
	return &monitor{logger: logger}
}

func (m *monitor) run(name string, task func() error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Debug("monitor closed, task dropped", "task", name)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		id := uuid.NewString()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("background task panicked", "task", name, "task_id", id, "panic", fmt.Sprint(r))
			}
		}()

		if err := task(); err != nil {
			var channelErr *ChannelError
			if errors.As(err, &channelErr) {
				m.logger.Warn(err.Error(), "task_id", id)
				return
			}
			m.logger.Warn("failure", "task", name, "task_id", id, "error", err)
		}
	}()
}

// close stops accepting tasks and waits up to timeout for running ones.
func (m *monitor) close(timeout time.Duration) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrTimeout
	}
}
