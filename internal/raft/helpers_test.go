package raft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockStateMachine is a mock implementation of StateMachine for testing.
type MockStateMachine struct {
	mu       sync.Mutex
	applied  []*LogEntry
	applyErr error
}

func NewMockStateMachine() *MockStateMachine {
	return &MockStateMachine{}
}

func (m *MockStateMachine) Apply(entry *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = append(m.applied, entry)
	return nil
}

func (m *MockStateMachine) AppliedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

func (m *MockStateMachine) AppliedPayloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	payloads := make([]string, len(m.applied))
	for i, e := range m.applied {
		payloads[i] = string(e.Payload)
	}
	return payloads
}

func (m *MockStateMachine) SetApplyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
}

// failingStore is a NodeStore whose writes can be made to fail.
type failingStore struct {
	*MemoryNodeStore
	mu   sync.Mutex
	fail bool
}

func newFailingStore() *failingStore {
	return &failingStore{MemoryNodeStore: NewMemoryNodeStore()}
}

func (s *failingStore) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *failingStore) SetTermAndVote(term uint64, votedFor NodeID) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.MemoryNodeStore.SetTermAndVote(term, votedFor)
}

// recordingLogger keeps every message logged at warn or above.
type recordingLogger struct {
	defaultLogger
	mu       sync.Mutex
	warnings []string
	errors   []string
}

func (l *recordingLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, msg)
}

func (l *recordingLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnings...)
}

// testNodeOptions tweaks a node built by TestCluster.
type testNodeOptions struct {
	store   NodeStore
	entries []*LogEntry
	standby bool
}

// TestCluster manages a group of nodes on an in-memory network.
type TestCluster struct {
	t          *testing.T
	ids        []NodeID
	network    *InMemoryNetwork
	nodes      map[NodeID]*Node
	logs       map[NodeID]*MemoryLog
	stores     map[NodeID]NodeStore
	machines   map[NodeID]*MockStateMachine
	schedulers map[NodeID]*ManualScheduler
	config     NodeConfig
	manual     bool
}

// testConfig has short timeouts for clusters driven by real timers.
func testConfig() NodeConfig {
	return NodeConfig{
		MinElectionTimeout:     50 * time.Millisecond,
		MaxElectionTimeout:     100 * time.Millisecond,
		LogReplicationDelay:    0,
		LogReplicationInterval: 10 * time.Millisecond,
		MaxReplicationEntries:  16,
	}
}

// NewTestCluster creates a cluster driven by DefaultScheduler.
func NewTestCluster(t *testing.T, ids ...NodeID) *TestCluster {
	return newTestCluster(t, false, nil, ids...)
}

// NewManualCluster creates a cluster whose timers only fire on demand.
func NewManualCluster(t *testing.T, ids ...NodeID) *TestCluster {
	return newTestCluster(t, true, nil, ids...)
}

func newTestCluster(t *testing.T, manual bool, opts map[NodeID]testNodeOptions, ids ...NodeID) *TestCluster {
	t.Helper()

	c := &TestCluster{
		t:          t,
		ids:        ids,
		network:    NewInMemoryNetwork(),
		nodes:      make(map[NodeID]*Node),
		logs:       make(map[NodeID]*MemoryLog),
		stores:     make(map[NodeID]NodeStore),
		machines:   make(map[NodeID]*MockStateMachine),
		schedulers: make(map[NodeID]*ManualScheduler),
		config:     testConfig(),
		manual:     manual,
	}
	if manual {
		c.config = DefaultNodeConfig()
	}

	endpoints := make([]NodeEndpoint, len(ids))
	for i, id := range ids {
		endpoints[i] = NodeEndpoint{ID: id, Address: string(id)}
	}

	for _, id := range ids {
		opt := opts[id]

		store := opt.store
		if store == nil {
			store = NewMemoryNodeStore()
		}
		log, err := NewMemoryLogFrom(opt.entries)
		if err != nil {
			t.Fatalf("Failed to build log for %s: %v", id, err)
		}

		var scheduler Scheduler
		if manual {
			ms := NewManualScheduler()
			c.schedulers[id] = ms
			scheduler = ms
		} else {
			ds, err := NewDefaultScheduler(c.config)
			if err != nil {
				t.Fatalf("Failed to create scheduler: %v", err)
			}
			scheduler = ds
		}

		ctx := &NodeContext{
			SelfID:      id,
			Group:       NewNodeGroup(id, endpoints),
			Store:       store,
			Log:         log,
			Scheduler:   scheduler,
			Connector:   c.network.NewConnector(id),
			StandbyMode: opt.standby,
		}
		sm := NewMockStateMachine()
		node, err := NewNode(ctx, c.config, sm)
		if err != nil {
			t.Fatalf("Failed to create node %s: %v", id, err)
		}

		c.nodes[id] = node
		c.logs[id] = log
		c.stores[id] = store
		c.machines[id] = sm
	}

	t.Cleanup(c.Stop)
	return c
}

// Start starts all nodes.
func (c *TestCluster) Start() {
	c.t.Helper()
	for _, id := range c.ids {
		if err := c.nodes[id].Start(); err != nil {
			c.t.Fatalf("Failed to start node %s: %v", id, err)
		}
	}
}

// Stop stops all nodes.
func (c *TestCluster) Stop() {
	for _, node := range c.nodes {
		node.Stop()
	}
}

// Node returns the node with the given id.
func (c *TestCluster) Node(id NodeID) *Node {
	return c.nodes[id]
}

// Leader returns the current leader node, or nil if none.
func (c *TestCluster) Leader() *Node {
	var leader *Node
	var term uint64
	for _, node := range c.nodes {
		status := node.Status()
		if status.Role == RoleLeader && status.Term >= term {
			leader, term = node, status.Term
		}
	}
	return leader
}

// WaitForLeader waits for a leader to be elected.
func (c *TestCluster) WaitForLeader(timeout time.Duration) *Node {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if leader := c.Leader(); leader != nil {
			return leader
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Elect fires id's election timeout and waits until it leads.
func (c *TestCluster) Elect(id NodeID) *Node {
	c.t.Helper()
	if !c.schedulers[id].FireElectionTimeout() {
		c.t.Fatalf("No pending election timeout on %s", id)
	}
	node := c.nodes[id]
	waitFor(c.t, time.Second, "leader "+string(id), func() bool {
		return node.Status().Role == RoleLeader
	})
	return node
}

// TickUntil runs replication ticks on id until cond holds.
func (c *TestCluster) TickUntil(id NodeID, what string, cond func() bool) {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		c.schedulers[id].Tick()
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("Timed out waiting for %s", what)
}

// waitFor polls cond until it holds or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// syncNode waits until the node has processed every event queued so far.
func syncNode(t *testing.T, n *Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func entries(terms ...uint64) []*LogEntry {
	result := make([]*LogEntry, len(terms))
	for i, term := range terms {
		result[i] = &LogEntry{Index: uint64(i + 1), Term: term, Kind: EntryCommand, Payload: []byte{byte(i + 1)}}
	}
	return result
}

func logTerms(l Log) []uint64 {
	var terms []uint64
	for i := uint64(1); i <= l.LastIndex(); i++ {
		terms = append(terms, l.TermAt(i))
	}
	return terms
}
