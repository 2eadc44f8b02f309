package raft

import "github.com/sasha-s/go-deadlock"

// NodeStore persists the current term and the vote cast in it.
// SetTermAndVote must be durable before it returns; the node replies to
// RPCs and sends votes only after it does.
type NodeStore interface {
	Term() uint64
	VotedFor() NodeID
	SetTermAndVote(term uint64, votedFor NodeID) error
	Close() error
}

// MemoryNodeStore is a NodeStore without durability, for tests and
// throwaway nodes.
type MemoryNodeStore struct {
	mu       deadlock.RWMutex
	term     uint64
	votedFor NodeID
}

// NewMemoryNodeStore creates an empty store at term 0.
func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{}
}

// Term returns the stored term.
func (s *MemoryNodeStore) Term() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.term
}

// VotedFor returns the stored vote.
func (s *MemoryNodeStore) VotedFor() NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.votedFor
}

// SetTermAndVote stores term and vote together.
func (s *MemoryNodeStore) SetTermAndVote(term uint64, votedFor NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
	s.votedFor = votedFor
	return nil
}

// Close is a no-op.
func (s *MemoryNodeStore) Close() error {
	return nil
}
