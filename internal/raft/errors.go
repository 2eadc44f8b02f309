package raft

import "github.com/pkg/errors"

// Raft errors.
var (
	// ErrNotLeader is returned when a write operation is attempted on a non-leader node.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrNodeStopped is returned when operation is attempted on a stopped node.
	ErrNodeStopped = errors.New("raft: node stopped")

	// ErrNodeNotStarted is returned when operation is attempted before Start.
	ErrNodeNotStarted = errors.New("raft: node not started")

	// ErrLogCorrupted is returned when log data is corrupted.
	ErrLogCorrupted = errors.New("raft: log corrupted")

	// ErrLogIndexOutOfRange is returned when accessing an invalid log index.
	ErrLogIndexOutOfRange = errors.New("raft: log index out of range")

	// ErrCommittedEntry is returned when a change would overwrite a committed entry.
	ErrCommittedEntry = errors.New("raft: entry already committed")

	// ErrTransportClosed is returned when transport is closed.
	ErrTransportClosed = errors.New("raft: transport closed")

	// ErrConnectFailed is returned when connection to peer fails.
	ErrConnectFailed = errors.New("raft: connection failed")

	// ErrUnknownPeer is returned when a message comes from a node outside the group.
	ErrUnknownPeer = errors.New("raft: unknown peer")

	// ErrPersistFailed is returned when term and vote could not be made durable.
	ErrPersistFailed = errors.New("raft: persisting term and vote failed")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("raft: operation timeout")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("raft: invalid configuration")
)
