package raft

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// NodeID identifies a node in the group. The empty ID means "none".
type NodeID string

// NodeEndpoint is the network identity of a node.
type NodeEndpoint struct {
	ID      NodeID
	Address string
}

// ReplicationState is the leader's view of one peer's log.
type ReplicationState struct {
	NextIndex  uint64 // Next log index to send
	MatchIndex uint64 // Highest index known to be replicated
}

// advance records a successful append up to match. It reports whether the
// match index moved.
func (s *ReplicationState) advance(match uint64) bool {
	if match <= s.MatchIndex {
		return false
	}
	s.MatchIndex = match
	s.NextIndex = match + 1
	return true
}

// backOff moves NextIndex back after a rejected append that was sent with
// sentNext. Replies for a NextIndex that has since changed are ignored.
// followerLast is the last index the follower reported.
func (s *ReplicationState) backOff(sentNext, followerLast uint64) bool {
	if sentNext != s.NextIndex || s.NextIndex <= 1 {
		return false
	}
	next := s.NextIndex - 1
	if followerLast+1 < next {
		next = followerLast + 1
	}
	if next < 1 {
		next = 1
	}
	// A follower that reports fewer entries than its match index lost them.
	if next <= s.MatchIndex {
		s.MatchIndex = next - 1
	}
	s.NextIndex = next
	return true
}

// GroupMember is one node of the group as seen locally.
type GroupMember struct {
	Endpoint    NodeEndpoint
	Voting      bool
	Replication *ReplicationState // Only meaningful while leader
}

// ID returns the member's node id.
func (m *GroupMember) ID() NodeID {
	return m.Endpoint.ID
}

// NodeGroup is the set of nodes taking part in consensus, including self.
// It is not safe for concurrent use; the node only touches it from its
// event loop.
type NodeGroup struct {
	self    NodeID
	members map[NodeID]*GroupMember
}

// NewNodeGroup creates a group of voting members. The local node must be
// listed among the endpoints; it is added with an empty address otherwise.
func NewNodeGroup(self NodeID, endpoints []NodeEndpoint) *NodeGroup {
	g := &NodeGroup{
		self:    self,
		members: make(map[NodeID]*GroupMember, len(endpoints)+1),
	}
	for _, ep := range endpoints {
		g.members[ep.ID] = &GroupMember{Endpoint: ep, Voting: true, Replication: &ReplicationState{NextIndex: 1}}
	}
	if _, ok := g.members[self]; !ok {
		g.members[self] = &GroupMember{Endpoint: NodeEndpoint{ID: self}, Voting: true, Replication: &ReplicationState{NextIndex: 1}}
	}
	return g
}

// Self returns the local node id.
func (g *NodeGroup) Self() NodeID {
	return g.self
}

// AddNode adds a member with its replication state seeded at nextIndex.
// Adding an existing member updates its voting flag and address only.
func (g *NodeGroup) AddNode(endpoint NodeEndpoint, nextIndex uint64, voting bool) *GroupMember {
	if m, ok := g.members[endpoint.ID]; ok {
		m.Voting = voting
		if endpoint.Address != "" {
			m.Endpoint.Address = endpoint.Address
		}
		return m
	}
	m := &GroupMember{
		Endpoint:    endpoint,
		Voting:      voting,
		Replication: &ReplicationState{NextIndex: nextIndex},
	}
	g.members[endpoint.ID] = m
	return m
}

// RemoveNode removes a member. It reports whether the member existed.
func (g *NodeGroup) RemoveNode(id NodeID) bool {
	if _, ok := g.members[id]; !ok {
		return false
	}
	delete(g.members, id)
	return true
}

// Member returns the member with the given id.
func (g *NodeGroup) Member(id NodeID) (*GroupMember, bool) {
	m, ok := g.members[id]
	return m, ok
}

// IsMember reports whether id belongs to the group.
func (g *NodeGroup) IsMember(id NodeID) bool {
	_, ok := g.members[id]
	return ok
}

// IsVoting reports whether id is a voting member.
func (g *NodeGroup) IsVoting(id NodeID) bool {
	m, ok := g.members[id]
	return ok && m.Voting
}

// Members returns all members sorted by id.
func (g *NodeGroup) Members() []*GroupMember {
	members := make([]*GroupMember, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Endpoint.ID < members[j].Endpoint.ID })
	return members
}

// Peers returns all members except self, sorted by id.
func (g *NodeGroup) Peers() []*GroupMember {
	peers := make([]*GroupMember, 0, len(g.members))
	for _, m := range g.Members() {
		if m.Endpoint.ID != g.self {
			peers = append(peers, m)
		}
	}
	return peers
}

// VotingCount returns the number of voting members.
func (g *NodeGroup) VotingCount() int {
	count := 0
	for _, m := range g.members {
		if m.Voting {
			count++
		}
	}
	return count
}

// IsMajority reports whether the given voters form a majority of the
// voting members. Ids that are not voting members are not counted.
func (g *NodeGroup) IsMajority(voters map[NodeID]struct{}) bool {
	count := 0
	for id := range voters {
		if g.IsVoting(id) {
			count++
		}
	}
	total := g.VotingCount()
	return total > 0 && count > total/2
}

// ResetReplicationStates sets every peer's next index to nextIndex and its
// match index to 0.
func (g *NodeGroup) ResetReplicationStates(nextIndex uint64) {
	for _, m := range g.members {
		m.Replication = &ReplicationState{NextIndex: nextIndex}
	}
}

// QuorumMatchIndex returns the highest index replicated on a majority of
// voting members. selfMatch stands in for the local node's match index.
func (g *NodeGroup) QuorumMatchIndex(selfMatch uint64) uint64 {
	matches := make([]uint64, 0, len(g.members))
	for id, m := range g.members {
		if !m.Voting {
			continue
		}
		if id == g.self {
			matches = append(matches, selfMatch)
			continue
		}
		matches = append(matches, m.Replication.MatchIndex)
	}
	return quorumValue(matches)
}

// quorumValue returns the largest value that at least a majority of
// values are greater than or equal to. It sorts values in place.
func quorumValue[T constraints.Unsigned](values []T) T {
	if len(values) == 0 {
		var zero T
		return zero
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[(len(values)-1)/2]
}
