package raft

import (
	"context"

	"github.com/pkg/errors"
)

// changeRole installs a new role value.
func (n *Node) changeRole(role RoleState) {
	prev := n.role
	n.role = role
	if prev == nil || prev.Name() != role.Name() || prev.Term() != role.Term() {
		n.logger.Info("role changed", "id", n.ctx.SelfID, "from", prev, "to", role)
		return
	}
	n.logger.Debug("role updated", "id", n.ctx.SelfID, "role", role)
}

// becomeFollower cancels the current role's timer and installs a follower
// with a fresh election timeout. When persist is set, the term and vote
// are made durable first and a failure is fatal.
func (n *Node) becomeFollower(term uint64, votedFor, leaderID NodeID, persist bool) error {
	if persist {
		if err := n.persist(term, votedFor); err != nil {
			return err
		}
	}
	n.role.cancelTimeoutOrTask()
	n.changeRole(newFollowerRole(term, votedFor, leaderID, n.scheduleElectionTimeout()))
	return nil
}

func (n *Node) persist(term uint64, votedFor NodeID) error {
	if err := n.ctx.Store.SetTermAndVote(term, votedFor); err != nil {
		return errors.Wrapf(ErrPersistFailed, "term %d, voted for %q: %v", term, votedFor, err)
	}
	return nil
}

// becomeLeader takes leadership of term and sends the first heartbeat.
func (n *Node) becomeLeader(term uint64) {
	n.role.cancelTimeoutOrTask()
	n.ctx.ResetReplicationStates()
	n.changeRole(newLeaderRole(term, n.scheduleLogReplicationTask()))
	n.logger.Info("became leader", "id", n.ctx.SelfID, "term", term, "lastIndex", n.ctx.Log.LastIndex())

	n.replicateLog()
	n.advanceCommitIndex()
}

// currentElectionTimeout returns the election timeout the current role owns, if any.
func (n *Node) currentElectionTimeout() ElectionTimeout {
	switch r := n.role.(type) {
	case *FollowerRole:
		return r.electionTimeout
	case *CandidateRole:
		return r.electionTimeout
	default:
		return nil
	}
}

func (n *Node) onElectionTimeout(timeout ElectionTimeout) error {
	current := n.currentElectionTimeout()
	if current == nil || current != timeout {
		n.logger.Debug("stale election timeout ignored", "role", n.role)
		return nil
	}

	if n.ctx.StandbyMode || !n.ctx.Group.IsVoting(n.ctx.SelfID) {
		n.logger.Debug("not starting election", "standby", n.ctx.StandbyMode)
		switch r := n.role.(type) {
		case *FollowerRole:
			n.changeRole(newFollowerRole(r.term, r.votedFor, r.leaderID, r.electionTimeout.Reschedule()))
		case *CandidateRole:
			n.changeRole(newFollowerRole(r.term, n.ctx.SelfID, "", r.electionTimeout.Reschedule()))
		}
		return nil
	}

	term := n.role.Term() + 1
	if err := n.persist(term, n.ctx.SelfID); err != nil {
		return err
	}
	n.role.cancelTimeoutOrTask()

	candidate := newCandidateRole(term, n.ctx.SelfID, n.scheduleElectionTimeout())
	n.changeRole(candidate)
	n.logger.Info("start election", "id", n.ctx.SelfID, "term", term)

	if n.ctx.Group.IsMajority(candidate.votes) {
		n.becomeLeader(term)
		return nil
	}

	rpc := &RequestVoteRPC{
		Term:         term,
		CandidateID:  n.ctx.SelfID,
		LastLogIndex: n.ctx.Log.LastIndex(),
		LastLogTerm:  n.ctx.Log.LastTerm(),
	}
	for _, peer := range n.ctx.Group.Peers() {
		if peer.Voting {
			n.sendRequestVote(peer.Endpoint, rpc)
		}
	}
	return nil
}

func (n *Node) sendRequestVote(peer NodeEndpoint, rpc *RequestVoteRPC) {
	n.ctx.RunWithMonitor("request vote "+string(peer.ID), func() error {
		ctx, cancel := context.WithTimeout(n.sendCtx, n.rpcTimeout())
		defer cancel()

		result, err := n.ctx.Connector.SendRequestVote(ctx, peer, rpc)
		if err != nil {
			return err
		}
		n.post(n.sendCtx, requestVoteResultEvent{from: peer.ID, rpc: rpc, result: result})
		return nil
	})
}

// onReceiveRequestVote decides a vote. A nil result drops the request.
func (n *Node) onReceiveRequestVote(rpc *RequestVoteRPC) (*RequestVoteResult, error) {
	if !n.ctx.Group.IsMember(rpc.CandidateID) {
		n.logger.Warn("request vote from unknown node dropped", "candidate", rpc.CandidateID)
		return nil, nil
	}

	term := n.role.Term()
	if rpc.Term < term {
		n.logger.Debug("term from request vote < current term, reject", "term", rpc.Term, "currentTerm", term)
		return &RequestVoteResult{Term: term}, nil
	}

	upToDate := isLogUpToDate(rpc.LastLogTerm, rpc.LastLogIndex, n.ctx.Log.LastTerm(), n.ctx.Log.LastIndex())

	if rpc.Term > term {
		var votedFor NodeID
		if upToDate {
			votedFor = rpc.CandidateID
		}
		if err := n.becomeFollower(rpc.Term, votedFor, "", true); err != nil {
			return nil, err
		}
		return &RequestVoteResult{Term: rpc.Term, VoteGranted: upToDate}, nil
	}

	follower, ok := n.role.(*FollowerRole)
	if !ok {
		// Candidates and leaders voted for themselves in this term.
		return &RequestVoteResult{Term: term}, nil
	}

	switch {
	case follower.votedFor == rpc.CandidateID:
		if err := n.becomeFollower(term, rpc.CandidateID, follower.leaderID, false); err != nil {
			return nil, err
		}
		return &RequestVoteResult{Term: term, VoteGranted: true}, nil
	case follower.votedFor == "" && upToDate:
		if err := n.becomeFollower(term, rpc.CandidateID, follower.leaderID, true); err != nil {
			return nil, err
		}
		return &RequestVoteResult{Term: term, VoteGranted: true}, nil
	default:
		return &RequestVoteResult{Term: term}, nil
	}
}

func (n *Node) onReceiveRequestVoteResult(from NodeID, rpc *RequestVoteRPC, result *RequestVoteResult) error {
	if !n.ctx.Group.IsMember(from) {
		n.logger.Warn("request vote result from unknown node dropped", "from", from)
		return nil
	}

	term := n.role.Term()
	if result.Term > term {
		return n.becomeFollower(result.Term, "", "", true)
	}

	candidate, ok := n.role.(*CandidateRole)
	if !ok || candidate.term != rpc.Term {
		n.logger.Debug("receive request vote result and current role is not candidate, ignore", "role", n.role)
		return nil
	}
	if !result.VoteGranted || !n.ctx.Group.IsVoting(from) {
		return nil
	}

	next := candidate.withVote(from)
	n.logger.Debug("votes count", "count", next.VotesCount(), "voting", n.ctx.Group.VotingCount())
	if n.ctx.Group.IsMajority(next.votes) {
		n.becomeLeader(term)
		return nil
	}
	n.changeRole(next)
	return nil
}

func (n *Node) onReplicationTick(task LogReplicationTask) {
	leader, ok := n.role.(*LeaderRole)
	if !ok || leader.replicationTask != task {
		n.logger.Debug("stale replication tick ignored", "role", n.role)
		return
	}
	n.replicateLog()
}

// replicateLog sends AppendEntries to every peer from its next index.
func (n *Node) replicateLog() {
	leader := n.role.(*LeaderRole)
	for _, peer := range n.ctx.Group.Peers() {
		n.sendAppendEntries(peer.Endpoint, n.buildAppendEntries(leader.term, peer.Replication.NextIndex))
	}
}

func (n *Node) buildAppendEntries(term, nextIndex uint64) *AppendEntriesRPC {
	if nextIndex == 0 {
		nextIndex = 1
	}
	prev := nextIndex - 1
	return &AppendEntriesRPC{
		Term:         term,
		LeaderID:     n.ctx.SelfID,
		PrevLogIndex: prev,
		PrevLogTerm:  n.ctx.Log.TermAt(prev),
		Entries:      n.ctx.Log.EntriesFrom(nextIndex, n.config.MaxReplicationEntries),
		LeaderCommit: n.ctx.Log.CommitIndex(),
	}
}

func (n *Node) sendAppendEntries(peer NodeEndpoint, rpc *AppendEntriesRPC) {
	n.ctx.RunWithMonitor("append entries "+string(peer.ID), func() error {
		ctx, cancel := context.WithTimeout(n.sendCtx, n.rpcTimeout())
		defer cancel()

		result, err := n.ctx.Connector.SendAppendEntries(ctx, peer, rpc)
		if err != nil {
			return err
		}
		n.post(n.sendCtx, appendEntriesResultEvent{from: peer.ID, rpc: rpc, result: result})
		return nil
	})
}

// onReceiveAppendEntries processes entries from a leader. A nil result
// drops the request.
func (n *Node) onReceiveAppendEntries(rpc *AppendEntriesRPC) (*AppendEntriesResult, error) {
	if !n.ctx.Group.IsMember(rpc.LeaderID) {
		n.logger.Warn("append entries from unknown node dropped", "leader", rpc.LeaderID)
		return nil, nil
	}

	term := n.role.Term()
	if rpc.Term < term {
		n.logger.Debug("term from append entries < current term, reject", "term", rpc.Term, "currentTerm", term)
		return n.appendEntriesResult(term, false), nil
	}

	if rpc.Term > term {
		if err := n.becomeFollower(rpc.Term, "", rpc.LeaderID, true); err != nil {
			return nil, err
		}
		return n.appendEntries(rpc), nil
	}

	switch r := n.role.(type) {
	case *FollowerRole:
		if err := n.becomeFollower(term, r.votedFor, rpc.LeaderID, false); err != nil {
			return nil, err
		}
	case *CandidateRole:
		// Another candidate won this term.
		if err := n.becomeFollower(term, n.ctx.SelfID, rpc.LeaderID, false); err != nil {
			return nil, err
		}
	case *LeaderRole:
		n.logger.Warn("receive append entries from another leader, ignore", "leader", rpc.LeaderID, "term", term)
		return n.appendEntriesResult(term, false), nil
	}
	return n.appendEntries(rpc), nil
}

func (n *Node) appendEntriesResult(term uint64, success bool) *AppendEntriesResult {
	return &AppendEntriesResult{
		Term:         term,
		Success:      success,
		LastLogIndex: n.ctx.Log.LastIndex(),
		LastLogTerm:  n.ctx.Log.LastTerm(),
	}
}

// appendEntries runs the consistency check and merges the entries.
func (n *Node) appendEntries(rpc *AppendEntriesRPC) *AppendEntriesResult {
	log := n.ctx.Log

	if rpc.PrevLogIndex > 0 {
		prev, err := log.Get(rpc.PrevLogIndex)
		if err != nil || prev.Term != rpc.PrevLogTerm {
			n.logger.Debug("previous log entry mismatch, reject",
				"prevLogIndex", rpc.PrevLogIndex, "prevLogTerm", rpc.PrevLogTerm, "lastIndex", log.LastIndex())
			return n.appendEntriesResult(rpc.Term, false)
		}
	}

	if err := n.mergeEntries(rpc); err != nil {
		n.logger.Warn("failed to append entries", "error", err)
		return n.appendEntriesResult(rpc.Term, false)
	}

	if commit := min(rpc.LeaderCommit, rpc.LastEntryIndex()); commit > log.CommitIndex() {
		if err := log.SetCommitIndex(commit); err != nil {
			n.logger.Warn("failed to advance commit index", "commitIndex", commit, "error", err)
		} else {
			n.applier.notify()
		}
	}
	return n.appendEntriesResult(rpc.Term, true)
}

// mergeEntries appends the entries that are not already present, first
// truncating a conflicting suffix. Entries already present are left alone.
func (n *Node) mergeEntries(rpc *AppendEntriesRPC) error {
	log := n.ctx.Log
	for i, entry := range rpc.Entries {
		index := rpc.PrevLogIndex + 1 + uint64(i)
		if entry.Index != index {
			return errors.Wrapf(ErrLogIndexOutOfRange, "entry %d carries index %d", index, entry.Index)
		}

		existing, err := log.Get(index)
		if err == nil && existing.Term == entry.Term {
			continue
		}
		if err == nil {
			if err := log.TruncateFrom(index); err != nil {
				return err
			}
		}
		return log.Append(rpc.Entries[i:]...)
	}
	return nil
}

func (n *Node) onReceiveAppendEntriesResult(from NodeID, rpc *AppendEntriesRPC, result *AppendEntriesResult) error {
	member, ok := n.ctx.Group.Member(from)
	if !ok {
		n.logger.Warn("append entries result from unknown node dropped", "from", from)
		return nil
	}

	term := n.role.Term()
	if result.Term > term {
		return n.becomeFollower(result.Term, "", "", true)
	}

	leader, ok := n.role.(*LeaderRole)
	if !ok || leader.term != rpc.Term {
		n.logger.Debug("receive append entries result when not leader of its term, ignore", "role", n.role)
		return nil
	}

	if result.Success {
		if member.Replication.advance(rpc.LastEntryIndex()) {
			n.advanceCommitIndex()
		}
		return nil
	}

	if member.Replication.backOff(rpc.PrevLogIndex+1, result.LastLogIndex) {
		n.logger.Debug("next index moved back", "peer", from, "nextIndex", member.Replication.NextIndex)
	}
	return nil
}

// advanceCommitIndex commits the highest index stored on a majority, as
// long as that entry belongs to the current term.
func (n *Node) advanceCommitIndex() {
	leader, ok := n.role.(*LeaderRole)
	if !ok {
		return
	}

	log := n.ctx.Log
	index := n.ctx.Group.QuorumMatchIndex(log.LastIndex())
	if index <= log.CommitIndex() {
		return
	}
	if log.TermAt(index) != leader.term {
		n.logger.Debug("majority index is from an earlier term, not committing", "index", index)
		return
	}
	if err := log.SetCommitIndex(index); err != nil {
		n.logger.Warn("failed to advance commit index", "commitIndex", index, "error", err)
		return
	}
	n.logger.Debug("commit index advanced", "commitIndex", index)
	n.applier.notify()
}
