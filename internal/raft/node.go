package raft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Logger interface for Raft logging
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// defaultLogger is a no-op logger
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, args ...interface{}) {}
func (l *defaultLogger) Info(msg string, args ...interface{})  {}
func (l *defaultLogger) Warn(msg string, args ...interface{})  {}
func (l *defaultLogger) Error(msg string, args ...interface{}) {}

const (
	eventQueueSize = 256
	shutdownWait   = time.Second
	drainWait      = shutdownWait / 2
)

// Status is a point-in-time view of a node.
type Status struct {
	ID          NodeID   `json:"id"`
	Role        RoleName `json:"-"`
	RoleName    string   `json:"role"`
	LeaderID    NodeID   `json:"leaderId"`
	Term        uint64   `json:"term"`
	CommitIndex uint64   `json:"commitIndex"`
	LastIndex   uint64   `json:"lastIndex"`
	LastApplied uint64   `json:"lastApplied"`
	Standby     bool     `json:"standby"`
}

// PeerStatus is a point-in-time view of one group member.
type PeerStatus struct {
	ID         NodeID `json:"id"`
	Address    string `json:"address"`
	Voting     bool   `json:"voting"`
	Self       bool   `json:"self"`
	NextIndex  uint64 `json:"nextIndex"`
	MatchIndex uint64 `json:"matchIndex"`
}

// Node represents a Raft node in the group.
// All protocol state is owned by a single event loop goroutine.
type Node struct {
	ctx    *NodeContext
	config NodeConfig
	logger Logger

	// Owned by the event loop.
	role RoleState

	events   chan event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// Cancelled on shutdown so in-flight sends give up.
	sendCtx    context.Context
	cancelSend context.CancelFunc

	started *atomic.Bool
	stopped *atomic.Bool
	err     *atomic.Error
	status  atomic.Pointer[Status]

	applier *applier
}

// NewNode creates a new Raft node. sm may be nil.
func NewNode(ctx *NodeContext, cfg NodeConfig, sm StateMachine) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.validate(); err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithCancel(context.Background())
	n := &Node{
		ctx:        ctx,
		config:     cfg,
		logger:     ctx.Logger,
		events:     make(chan event, eventQueueSize),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		sendCtx:    sendCtx,
		cancelSend: cancel,
		started:    atomic.NewBool(false),
		stopped:    atomic.NewBool(false),
		err:        atomic.NewError(nil),
		applier:    newApplier(ctx.Log, sm, ctx.Logger),
	}
	n.status.Store(&Status{ID: ctx.SelfID, Role: RoleFollower, RoleName: RoleFollower.String(), Standby: ctx.StandbyMode})
	return n, nil
}

// ID returns the node's ID.
func (n *Node) ID() NodeID {
	return n.ctx.SelfID
}

// Start loads the persisted term and vote, becomes a follower and starts
// processing events. A node can be started once.
func (n *Node) Start() error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}

	term, votedFor := n.ctx.Store.Term(), n.ctx.Store.VotedFor()
	n.role = newFollowerRole(term, votedFor, "", n.scheduleElectionTimeout())
	n.publishStatus()

	if err := n.ctx.initialize(n); err != nil {
		n.role.cancelTimeoutOrTask()
		n.stopOnce.Do(func() { close(n.stopCh) })
		close(n.doneCh)
		return err
	}

	go n.run()
	n.applier.start()

	n.logger.Info("raft node started",
		"id", n.ctx.SelfID,
		"term", term,
		"votedFor", votedFor,
		"lastIndex", n.ctx.Log.LastIndex(),
		"standby", n.ctx.StandbyMode)
	return nil
}

// Stop shuts the node down and releases its collaborators. Every wait is
// bounded, so Stop returns even if a collaborator hangs.
func (n *Node) Stop() error {
	if !n.started.Load() || !n.stopped.CompareAndSwap(false, true) {
		return nil
	}

	n.logger.Info("stopping raft node", "id", n.ctx.SelfID)
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.cancelSend()

	select {
	case <-n.doneCh:
	case <-time.After(shutdownWait):
		n.logger.Warn("event loop did not stop in time")
	}
	n.applier.stop(shutdownWait)

	return n.ctx.Release()
}

// Err returns the error that halted the node, if any.
func (n *Node) Err() error {
	return n.err.Load()
}

// Done is closed once the event loop has exited.
func (n *Node) Done() <-chan struct{} {
	return n.doneCh
}

// Status returns the latest published view of the node.
func (n *Node) Status() Status {
	status := *n.status.Load()
	status.LastApplied = n.applier.lastApplied.Load()
	return status
}

// IsLeader returns true if this node is the leader.
func (n *Node) IsLeader() bool {
	return n.status.Load().Role == RoleLeader
}

// RoleNameAndLeaderID returns the role and known leader as last published.
func (n *Node) RoleNameAndLeaderID() RoleNameAndLeaderID {
	status := n.status.Load()
	return RoleNameAndLeaderID{RoleName: status.Role, LeaderID: status.LeaderID}
}

// Propose appends payload to the log as a command. It returns the index
// the entry was given without waiting for it to commit.
func (n *Node) Propose(ctx context.Context, payload []byte) (uint64, error) {
	var index uint64
	err := n.call(ctx, func() error {
		leader, ok := n.role.(*LeaderRole)
		if !ok {
			return errors.Wrapf(ErrNotLeader, "leader is %q", n.role.LeaderID(n.ctx.SelfID))
		}
		entry := &LogEntry{
			Index:   n.ctx.Log.NextIndex(),
			Term:    leader.term,
			Kind:    EntryCommand,
			Payload: payload,
		}
		if err := n.ctx.Log.Append(entry); err != nil {
			return errors.Wrap(err, "append proposed entry")
		}
		index = entry.Index
		n.advanceCommitIndex()
		return nil
	})
	return index, err
}

// AddNode adds a member to the group. Replication to it starts at the
// local log's next index.
func (n *Node) AddNode(ctx context.Context, endpoint NodeEndpoint, voting bool) error {
	return n.call(ctx, func() error {
		if endpoint.ID == "" {
			return errors.Wrap(ErrInvalidConfig, "add node: empty id")
		}
		_, existed := n.ctx.Group.Member(endpoint.ID)
		n.ctx.AddNode(endpoint, voting)
		if !existed {
			n.logger.Info("node added", "id", endpoint.ID, "address", endpoint.Address, "voting", voting)
		}
		return nil
	})
}

// RemoveNode removes a member from the group.
func (n *Node) RemoveNode(ctx context.Context, id NodeID) error {
	return n.call(ctx, func() error {
		if id == n.ctx.SelfID {
			return errors.Errorf("raft: cannot remove self (%s)", id)
		}
		if n.ctx.Group.RemoveNode(id) {
			n.logger.Info("node removed", "id", id)
			// Fewer voters can complete a pending commit.
			n.advanceCommitIndex()
		}
		return nil
	})
}

// Peers returns a snapshot of the group.
func (n *Node) Peers(ctx context.Context) ([]PeerStatus, error) {
	var peers []PeerStatus
	err := n.call(ctx, func() error {
		_, leading := n.role.(*LeaderRole)
		for _, m := range n.ctx.Group.Members() {
			p := PeerStatus{
				ID:      m.Endpoint.ID,
				Address: m.Endpoint.Address,
				Voting:  m.Voting,
				Self:    m.Endpoint.ID == n.ctx.SelfID,
			}
			if leading && !p.Self && m.Replication != nil {
				p.NextIndex = m.Replication.NextIndex
				p.MatchIndex = m.Replication.MatchIndex
			}
			peers = append(peers, p)
		}
		return nil
	})
	return peers, err
}

// HandleRequestVote processes a RequestVote RPC from a peer.
func (n *Node) HandleRequestVote(ctx context.Context, rpc *RequestVoteRPC) (*RequestVoteResult, error) {
	ev := requestVoteEvent{rpc: rpc, reply: make(chan *RequestVoteResult, 1)}
	if err := n.post(ctx, ev); err != nil {
		return nil, err
	}
	select {
	case result := <-ev.reply:
		if result == nil {
			return nil, ErrUnknownPeer
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.doneCh:
		return nil, ErrNodeStopped
	}
}

// HandleAppendEntries processes an AppendEntries RPC from a peer.
func (n *Node) HandleAppendEntries(ctx context.Context, rpc *AppendEntriesRPC) (*AppendEntriesResult, error) {
	ev := appendEntriesEvent{rpc: rpc, reply: make(chan *AppendEntriesResult, 1)}
	if err := n.post(ctx, ev); err != nil {
		return nil, err
	}
	select {
	case result := <-ev.reply:
		if result == nil {
			return nil, ErrUnknownPeer
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.doneCh:
		return nil, ErrNodeStopped
	}
}

// Events consumed by the loop.
type (
	event interface{}

	electionTimeoutEvent struct {
		timeout ElectionTimeout
	}

	replicationTickEvent struct {
		task LogReplicationTask
	}

	requestVoteEvent struct {
		rpc   *RequestVoteRPC
		reply chan *RequestVoteResult
	}

	requestVoteResultEvent struct {
		from   NodeID
		rpc    *RequestVoteRPC
		result *RequestVoteResult
	}

	appendEntriesEvent struct {
		rpc   *AppendEntriesRPC
		reply chan *AppendEntriesResult
	}

	appendEntriesResultEvent struct {
		from   NodeID
		rpc    *AppendEntriesRPC
		result *AppendEntriesResult
	}

	callEvent struct {
		fn   func() error
		done chan error
	}
)

// post queues an event for the loop.
func (n *Node) post(ctx context.Context, ev event) error {
	if !n.started.Load() {
		return ErrNodeNotStarted
	}
	select {
	case <-n.stopCh:
		return ErrNodeStopped
	default:
	}
	select {
	case n.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopCh:
		return ErrNodeStopped
	}
}

// call runs fn on the loop and waits for its result.
func (n *Node) call(ctx context.Context, fn func() error) error {
	ev := callEvent{fn: fn, done: make(chan error, 1)}
	if err := n.post(ctx, ev); err != nil {
		return err
	}
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-n.doneCh:
		return ErrNodeStopped
	}
}

func (n *Node) run() {
	defer close(n.doneCh)

	for {
		select {
		case <-n.stopCh:
			n.shutdownLoop()
			return
		case ev := <-n.events:
			if err := n.step(ev); err != nil {
				n.halt(err)
				return
			}
			n.publishStatus()
		}
	}
}

// step processes one event.
func (n *Node) step(ev event) error {
	switch e := ev.(type) {
	case electionTimeoutEvent:
		return n.onElectionTimeout(e.timeout)
	case replicationTickEvent:
		n.onReplicationTick(e.task)
		return nil
	case requestVoteEvent:
		result, err := n.onReceiveRequestVote(e.rpc)
		if err != nil {
			return err
		}
		e.reply <- result
		return nil
	case requestVoteResultEvent:
		return n.onReceiveRequestVoteResult(e.from, e.rpc, e.result)
	case appendEntriesEvent:
		result, err := n.onReceiveAppendEntries(e.rpc)
		if err != nil {
			return err
		}
		e.reply <- result
		return nil
	case appendEntriesResultEvent:
		return n.onReceiveAppendEntriesResult(e.from, e.rpc, e.result)
	case callEvent:
		e.done <- e.fn()
		return nil
	default:
		n.logger.Warn("unrouted event", "type", fmt.Sprintf("%T", ev))
		return nil
	}
}

// halt stops protocol processing after a fatal error. Queued events are
// dropped; their callers see ErrNodeStopped.
func (n *Node) halt(err error) {
	n.err.Store(err)
	n.logger.Error("raft node halted", "id", n.ctx.SelfID, "error", err)
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.cancelSend()
	n.role.cancelTimeoutOrTask()
	n.dropQueued()
	n.publishStatus()
}

// shutdownLoop cancels the role's timer, then processes the events queued
// before Stop for at most drainWait. Timer events are skipped. Whatever is
// left after the deadline is dropped.
func (n *Node) shutdownLoop() {
	n.role.cancelTimeoutOrTask()
	n.drainQueued()
	// A drained event may have installed a role with a fresh timer.
	n.role.cancelTimeoutOrTask()
	n.publishStatus()
}

func (n *Node) drainQueued() {
	deadline := time.After(drainWait)
	for {
		select {
		case <-deadline:
			n.dropQueued()
			return
		case ev := <-n.events:
			switch ev.(type) {
			case electionTimeoutEvent, replicationTickEvent:
				continue
			}
			if err := n.step(ev); err != nil {
				n.err.Store(err)
				n.logger.Error("raft node halted", "id", n.ctx.SelfID, "error", err)
				n.dropQueued()
				return
			}
		default:
			return
		}
	}
}

func (n *Node) dropQueued() {
	for {
		select {
		case <-n.events:
		default:
			return
		}
	}
}

func (n *Node) publishStatus() {
	view := nameAndLeaderID(n.role, n.ctx.SelfID)
	n.status.Store(&Status{
		ID:          n.ctx.SelfID,
		Role:        view.RoleName,
		RoleName:    view.RoleName.String(),
		LeaderID:    view.LeaderID,
		Term:        n.role.Term(),
		CommitIndex: n.ctx.Log.CommitIndex(),
		LastIndex:   n.ctx.Log.LastIndex(),
		Standby:     n.ctx.StandbyMode,
	})
}

func (n *Node) scheduleElectionTimeout() ElectionTimeout {
	return n.ctx.Scheduler.ScheduleElectionTimeout(func(t ElectionTimeout) {
		n.post(context.Background(), electionTimeoutEvent{timeout: t})
	})
}

func (n *Node) scheduleLogReplicationTask() LogReplicationTask {
	return n.ctx.Scheduler.ScheduleLogReplicationTask(func(t LogReplicationTask) {
		n.post(context.Background(), replicationTickEvent{task: t})
	})
}

// rpcTimeout bounds a single outbound RPC.
func (n *Node) rpcTimeout() time.Duration {
	return n.config.MaxElectionTimeout
}
