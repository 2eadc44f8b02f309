// Package config loads and validates the raftd configuration.
package config

import (
	"time"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// Transport kinds.
const (
	TransportTCP  = "tcp"
	TransportGRPC = "grpc"
)

// Config holds the complete server configuration.
type Config struct {
	Node       NodeConfig       `mapstructure:"node"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Timing     TimingConfig     `mapstructure:"timing"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Membership MembershipConfig `mapstructure:"membership"`
	REST       RESTConfig       `mapstructure:"rest"`
	Logging    LogConfig        `mapstructure:"logging"`
}

// NodeConfig identifies the local node.
type NodeConfig struct {
	ID      string `mapstructure:"id" split_words:"true"`
	Address string `mapstructure:"address"`
	DataDir string `mapstructure:"dataDir" split_words:"true"`
	Standby bool   `mapstructure:"standby"`
}

// ClusterConfig lists the statically known members.
type ClusterConfig struct {
	Peers []PeerConfig `mapstructure:"peers" ignored:"true"`
}

// PeerConfig describes one statically configured member.
type PeerConfig struct {
	ID      string `mapstructure:"id"`
	Address string `mapstructure:"address"`
	Voting  *bool  `mapstructure:"voting"` // Defaults to true
}

// IsVoting reports whether the peer counts toward majorities.
func (p PeerConfig) IsVoting() bool {
	return p.Voting == nil || *p.Voting
}

// TimingConfig holds the raft timing bounds.
type TimingConfig struct {
	MinElectionTimeout     time.Duration `mapstructure:"minElectionTimeout" split_words:"true"`
	MaxElectionTimeout     time.Duration `mapstructure:"maxElectionTimeout" split_words:"true"`
	LogReplicationDelay    time.Duration `mapstructure:"logReplicationDelay" split_words:"true"`
	LogReplicationInterval time.Duration `mapstructure:"logReplicationInterval" split_words:"true"`
	MaxReplicationEntries  int           `mapstructure:"maxReplicationEntries" split_words:"true"`
}

// NodeConfig converts the timing section into a raft.NodeConfig.
func (t TimingConfig) NodeConfig() raft.NodeConfig {
	return raft.NodeConfig{
		MinElectionTimeout:     t.MinElectionTimeout,
		MaxElectionTimeout:     t.MaxElectionTimeout,
		LogReplicationDelay:    t.LogReplicationDelay,
		LogReplicationInterval: t.LogReplicationInterval,
		MaxReplicationEntries:  t.MaxReplicationEntries,
	}
}

// TransportConfig selects the inter-node transport.
type TransportConfig struct {
	Kind        string        `mapstructure:"kind"`
	DialTimeout time.Duration `mapstructure:"dialTimeout" split_words:"true"`
}

// MembershipConfig configures serf-based discovery.
type MembershipConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BindAddr string   `mapstructure:"bindAddr" split_words:"true"`
	BindPort int      `mapstructure:"bindPort" split_words:"true"`
	Join     []string `mapstructure:"join"`
}

// RESTConfig configures the HTTP status API.
type RESTConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
