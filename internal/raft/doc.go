// Package raft implements the Raft consensus algorithm for distributed consensus.
//
// Raft lets a group of nodes agree on an ordered log of commands despite crashes and
// message loss. One leader is elected per term and entries are committed once a majority
// of the group has stored them.
//
// # Architecture
//
// A Node is driven by a single event loop. Inbound RPCs, replies to outbound RPCs and
// timer firings are all posted to that loop and processed one at a time, so the role
// state, the term and the commit index are only ever touched by one goroutine:
//   - Follower: waits for heartbeats, starts an election when its timeout fires
//   - Candidate: asks every peer for a vote, becomes leader on a majority
//   - Leader: replicates entries on every replication tick and advances the commit index
//
// Every role change installs a fresh RoleState value; role values are never mutated.
//
// Collaborators are reached through narrow interfaces held by a NodeContext:
//   - NodeStore persists the current term and vote
//   - Log stores entries and the commit index
//   - Scheduler produces election timeouts and replication ticks
//   - Connector sends RPCs to peers and delivers inbound RPCs to the node
//
// # Usage
//
//	cfg := raft.DefaultNodeConfig()
//	scheduler, err := raft.NewDefaultScheduler(cfg)
//	if err != nil {
//	    return err
//	}
//
//	group := raft.NewNodeGroup("a", endpoints)
//	ctx := &raft.NodeContext{
//	    SelfID:    "a",
//	    Group:     group,
//	    Store:     raft.NewMemoryNodeStore(),
//	    Log:       raft.NewMemoryLog(),
//	    Scheduler: scheduler,
//	    Connector: raft.NewTCPConnector("localhost:4445"),
//	}
//
//	node, err := raft.NewNode(ctx, cfg, stateMachine)
//	if err != nil {
//	    return err
//	}
//	if err := node.Start(); err != nil {
//	    return err
//	}
//	defer node.Stop()
//
// # Failure Handling
//
// Outbound RPC failures are logged and otherwise ignored: the next replication tick or
// election round is the only retry. A failure to persist the term and vote halts the
// node, since continuing could grant two votes in one term after a restart.
//
// # References
//
//   - Raft Paper: https://raft.github.io/raft.pdf
package raft
