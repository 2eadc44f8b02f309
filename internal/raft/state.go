package raft

import "fmt"

// RoleName names the role a node plays in its current term.
type RoleName uint8

// Node roles.
const (
	RoleFollower RoleName = iota
	RoleCandidate
	RoleLeader
)

// String returns the string representation of a role.
func (r RoleName) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// RoleNameAndLeaderID is a consistent view of a node's role and the
// leader it currently knows of.
type RoleNameAndLeaderID struct {
	RoleName RoleName
	LeaderID NodeID
}

// RoleState is the role a node plays together with its per-role data.
// It is implemented by *FollowerRole, *CandidateRole and *LeaderRole only.
// Values are never modified; every transition installs a new one.
type RoleState interface {
	Name() RoleName
	Term() uint64
	// LeaderID returns the leader this role knows of, given the local id.
	LeaderID(self NodeID) NodeID
	// cancelTimeoutOrTask cancels the timer the role owns.
	cancelTimeoutOrTask()
	fmt.Stringer
}

// FollowerRole is a node accepting entries from a leader.
type FollowerRole struct {
	term            uint64
	votedFor        NodeID
	leaderID        NodeID
	electionTimeout ElectionTimeout
}

func newFollowerRole(term uint64, votedFor, leaderID NodeID, timeout ElectionTimeout) *FollowerRole {
	return &FollowerRole{term: term, votedFor: votedFor, leaderID: leaderID, electionTimeout: timeout}
}

func (r *FollowerRole) Name() RoleName { return RoleFollower }
func (r *FollowerRole) Term() uint64   { return r.term }

// VotedFor returns the candidate voted for in this term, if any.
func (r *FollowerRole) VotedFor() NodeID { return r.votedFor }

// LeaderID returns the leader heard from in this term, if any.
func (r *FollowerRole) LeaderID(NodeID) NodeID { return r.leaderID }

func (r *FollowerRole) cancelTimeoutOrTask() {
	r.electionTimeout.Cancel()
}

func (r *FollowerRole) String() string {
	return fmt.Sprintf("Follower{term=%d, votedFor=%q, leaderID=%q}", r.term, r.votedFor, r.leaderID)
}

// CandidateRole is a node asking for votes in its term.
type CandidateRole struct {
	term            uint64
	votes           map[NodeID]struct{}
	electionTimeout ElectionTimeout
}

func newCandidateRole(term uint64, self NodeID, timeout ElectionTimeout) *CandidateRole {
	return &CandidateRole{
		term:            term,
		votes:           map[NodeID]struct{}{self: {}},
		electionTimeout: timeout,
	}
}

func (r *CandidateRole) Name() RoleName         { return RoleCandidate }
func (r *CandidateRole) Term() uint64           { return r.term }
func (r *CandidateRole) LeaderID(NodeID) NodeID { return "" }

// VotesCount returns the number of votes received, including its own.
func (r *CandidateRole) VotesCount() int { return len(r.votes) }

// HasVoteFrom reports whether id granted a vote.
func (r *CandidateRole) HasVoteFrom(id NodeID) bool {
	_, ok := r.votes[id]
	return ok
}

// withVote returns a copy of the role that also counts a vote from id.
// The election timeout is shared with the original.
func (r *CandidateRole) withVote(id NodeID) *CandidateRole {
	votes := make(map[NodeID]struct{}, len(r.votes)+1)
	for v := range r.votes {
		votes[v] = struct{}{}
	}
	votes[id] = struct{}{}
	return &CandidateRole{term: r.term, votes: votes, electionTimeout: r.electionTimeout}
}

func (r *CandidateRole) cancelTimeoutOrTask() {
	r.electionTimeout.Cancel()
}

func (r *CandidateRole) String() string {
	return fmt.Sprintf("Candidate{term=%d, votes=%d}", r.term, len(r.votes))
}

// LeaderRole is a node replicating its log to the group.
type LeaderRole struct {
	term            uint64
	replicationTask LogReplicationTask
}

func newLeaderRole(term uint64, task LogReplicationTask) *LeaderRole {
	return &LeaderRole{term: term, replicationTask: task}
}

func (r *LeaderRole) Name() RoleName              { return RoleLeader }
func (r *LeaderRole) Term() uint64                { return r.term }
func (r *LeaderRole) LeaderID(self NodeID) NodeID { return self }

func (r *LeaderRole) cancelTimeoutOrTask() {
	r.replicationTask.Cancel()
}

func (r *LeaderRole) String() string {
	return fmt.Sprintf("Leader{term=%d}", r.term)
}

// nameAndLeaderID returns the query view of a role.
func nameAndLeaderID(role RoleState, self NodeID) RoleNameAndLeaderID {
	return RoleNameAndLeaderID{RoleName: role.Name(), LeaderID: role.LeaderID(self)}
}
