package config

import (
	"time"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	timing := raft.DefaultNodeConfig()
	return &Config{
		Node: NodeConfig{
			Address: "127.0.0.1:7000",
			DataDir: "/var/lib/raftd",
		},
		Timing: TimingConfig{
			MinElectionTimeout:     timing.MinElectionTimeout,
			MaxElectionTimeout:     timing.MaxElectionTimeout,
			LogReplicationDelay:    timing.LogReplicationDelay,
			LogReplicationInterval: timing.LogReplicationInterval,
			MaxReplicationEntries:  timing.MaxReplicationEntries,
		},
		Transport: TransportConfig{
			Kind:        TransportTCP,
			DialTimeout: 2 * time.Second,
		},
		Membership: MembershipConfig{
			Enabled:  false,
			BindAddr: "0.0.0.0",
			BindPort: 7946,
		},
		REST: RESTConfig{
			Enabled: false,
			Address: ":8080",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
