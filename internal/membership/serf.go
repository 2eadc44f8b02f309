// Package membership feeds group changes discovered by serf into a raft
// node.
//
// Every raftd process runs a serf agent tagged with its raft address.
// Members that join or update are added to the raft group and members
// that leave gracefully are removed from it. Failed or reaped members stay
// in the group until they leave or an operator removes them.
package membership

import (
	"context"
	"io"
	"time"

	"github.com/hashicorp/serf/serf"
	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// Member tags.
const (
	TagRaftAddr  = "raft_addr"
	TagRaftVoter = "raft_voter"
)

const (
	eventBuffer        = 64
	defaultCallTimeout = 2 * time.Second
)

// Registry is the part of a raft node membership changes are applied to.
type Registry interface {
	AddNode(ctx context.Context, endpoint raft.NodeEndpoint, voting bool) error
	RemoveNode(ctx context.Context, id raft.NodeID) error
}

// Config configures a SerfSource.
type Config struct {
	NodeID   raft.NodeID
	RaftAddr string // Advertised to other members
	Voting   bool

	BindAddr string
	BindPort int
	Join     []string // Seed addresses; failing to reach them is not fatal

	Logger raft.Logger
}

// SerfSource runs a serf agent and applies its member events to a Registry.
type SerfSource struct {
	cfg         Config
	registry    Registry
	logger      raft.Logger
	callTimeout time.Duration

	serf   *serf.Serf
	events chan serf.Event
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSerfSource validates cfg and returns a source that is not yet running.
func NewSerfSource(cfg Config, registry Registry) (*SerfSource, error) {
	switch {
	case cfg.NodeID == "":
		return nil, errors.Wrap(raft.ErrInvalidConfig, "membership: node id is empty")
	case cfg.RaftAddr == "":
		return nil, errors.Wrap(raft.ErrInvalidConfig, "membership: raft address is empty")
	case cfg.BindPort < 0 || cfg.BindPort > 65535:
		return nil, errors.Wrapf(raft.ErrInvalidConfig, "membership: bind port %d out of range", cfg.BindPort)
	case registry == nil:
		return nil, errors.Wrap(raft.ErrInvalidConfig, "membership: registry is nil")
	}
	return newSerfSource(cfg, registry), nil
}

func newSerfSource(cfg Config, registry Registry) *SerfSource {
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &SerfSource{
		cfg:         cfg,
		registry:    registry,
		logger:      logger,
		callTimeout: defaultCallTimeout,
		events:      make(chan serf.Event, eventBuffer),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start creates the serf agent, begins handling events and joins the
// seed addresses.
func (s *SerfSource) Start() error {
	conf := serf.DefaultConfig()
	conf.Init()
	conf.NodeName = string(s.cfg.NodeID)
	conf.Tags[TagRaftAddr] = s.cfg.RaftAddr
	if !s.cfg.Voting {
		conf.Tags[TagRaftVoter] = "false"
	}
	conf.EventCh = s.events
	conf.LogOutput = io.Discard
	conf.MemberlistConfig.LogOutput = io.Discard
	if s.cfg.BindAddr != "" {
		conf.MemberlistConfig.BindAddr = s.cfg.BindAddr
	}
	conf.MemberlistConfig.BindPort = s.cfg.BindPort

	agent, err := serf.Create(conf)
	if err != nil {
		return errors.Wrap(err, "create serf agent")
	}
	s.serf = agent
	go s.run()

	if len(s.cfg.Join) > 0 {
		n, err := agent.Join(s.cfg.Join, true)
		if err != nil {
			s.logger.Warn("failed to join cluster, starting own", "seeds", s.cfg.Join, "error", err)
		} else {
			s.logger.Info("joined cluster", "contacted", n)
		}
	}
	return nil
}

// NumMembers returns the number of members serf knows of.
func (s *SerfSource) NumMembers() int {
	if s.serf == nil {
		return 0
	}
	return s.serf.NumNodes()
}

// Stop leaves the cluster and shuts the agent down.
func (s *SerfSource) Stop() error {
	if s.serf == nil {
		return nil
	}
	select {
	case <-s.stopCh:
		return nil
	default:
	}

	var first error
	if err := s.serf.Leave(); err != nil {
		first = errors.Wrap(err, "leave serf cluster")
	}
	if err := s.serf.Shutdown(); err != nil && first == nil {
		first = errors.Wrap(err, "shutdown serf agent")
	}
	close(s.stopCh)
	<-s.doneCh
	return first
}

func (s *SerfSource) run() {
	defer close(s.doneCh)
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-s.stopCh:
			return
		}
	}
}

// handleEvent applies a member event to the registry. Other events,
// events about self and members without a raft address are ignored.
func (s *SerfSource) handleEvent(ev serf.Event) {
	me, ok := ev.(serf.MemberEvent)
	if !ok {
		return
	}

	for _, m := range me.Members {
		id := raft.NodeID(m.Name)
		if id == s.cfg.NodeID {
			continue
		}
		addr := m.Tags[TagRaftAddr]
		if addr == "" {
			s.logger.Debug("member without raft address", "member", m.Name, "event", me.Type.String())
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
		var err error
		switch me.Type {
		case serf.EventMemberJoin, serf.EventMemberUpdate:
			voting := m.Tags[TagRaftVoter] != "false"
			err = s.registry.AddNode(ctx, raft.NodeEndpoint{ID: id, Address: addr}, voting)
			if err == nil {
				s.logger.Info("member added", "member", m.Name, "address", addr, "voting", voting)
			}
		case serf.EventMemberLeave:
			err = s.registry.RemoveNode(ctx, id)
			if err == nil {
				s.logger.Info("member removed", "member", m.Name, "event", me.Type.String())
			}
		case serf.EventMemberFailed, serf.EventMemberReap:
			// Only a graceful leave shrinks the group.
			s.logger.Warn("member unreachable, keeping it in the group",
				"member", m.Name, "event", me.Type.String())
		}
		cancel()

		if err != nil {
			s.logger.Warn("failed to apply member event", "member", m.Name, "event", me.Type.String(), "error", err)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
