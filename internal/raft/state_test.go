package raft

import "testing"

func TestRoleNameString(t *testing.T) {
	tests := []struct {
		role RoleName
		want string
	}{
		{RoleFollower, "follower"},
		{RoleCandidate, "candidate"},
		{RoleLeader, "leader"},
		{RoleName(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("RoleName(%d).String() = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestRoleLeaderID(t *testing.T) {
	s := NewManualScheduler()
	timeout := s.ScheduleElectionTimeout(func(ElectionTimeout) {})
	task := s.ScheduleLogReplicationTask(func(LogReplicationTask) {})

	tests := []struct {
		name string
		role RoleState
		want RoleNameAndLeaderID
	}{
		{"follower without leader", newFollowerRole(1, "", "", timeout), RoleNameAndLeaderID{RoleFollower, ""}},
		{"follower with leader", newFollowerRole(2, "b", "b", timeout), RoleNameAndLeaderID{RoleFollower, "b"}},
		{"candidate", newCandidateRole(3, "a", timeout), RoleNameAndLeaderID{RoleCandidate, ""}},
		{"leader", newLeaderRole(4, task), RoleNameAndLeaderID{RoleLeader, "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nameAndLeaderID(tt.role, "a"); got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestCandidateWithVote(t *testing.T) {
	s := NewManualScheduler()
	timeout := s.ScheduleElectionTimeout(func(ElectionTimeout) {})

	c := newCandidateRole(5, "a", timeout)
	if c.VotesCount() != 1 || !c.HasVoteFrom("a") {
		t.Fatalf("Candidate should start with its own vote, got %d", c.VotesCount())
	}

	next := c.withVote("b")
	if next.VotesCount() != 2 || !next.HasVoteFrom("b") {
		t.Errorf("Expected vote from b, got %s", next)
	}
	if c.VotesCount() != 1 || c.HasVoteFrom("b") {
		t.Error("withVote modified the original role")
	}
	if next.Term() != 5 || next.electionTimeout != timeout {
		t.Error("withVote did not keep term and timeout")
	}

	// A repeated vote is counted once.
	if again := next.withVote("b"); again.VotesCount() != 2 {
		t.Errorf("Duplicate vote counted: %d", again.VotesCount())
	}
}

func TestRoleCancelsItsTimer(t *testing.T) {
	s := NewManualScheduler()
	fired := 0
	timeout := s.ScheduleElectionTimeout(func(ElectionTimeout) { fired++ })
	ticks := 0
	task := s.ScheduleLogReplicationTask(func(LogReplicationTask) { ticks++ })

	newFollowerRole(1, "", "", timeout).cancelTimeoutOrTask()
	newLeaderRole(1, task).cancelTimeoutOrTask()

	if s.FireElectionTimeout() || fired != 0 {
		t.Error("Cancelled election timeout fired")
	}
	if s.Tick() != 0 || ticks != 0 {
		t.Error("Cancelled replication task ran")
	}
}
