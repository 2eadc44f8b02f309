package raft

import (
	"time"

	"github.com/pkg/errors"
)

// NodeConfig holds the timing configuration of a Raft node.
// It is validated once at construction and never changes afterwards.
type NodeConfig struct {
	MinElectionTimeout     time.Duration // Lower bound of the randomized election timeout
	MaxElectionTimeout     time.Duration // Upper bound (exclusive) of the election timeout
	LogReplicationDelay    time.Duration // Delay before the first replication tick
	LogReplicationInterval time.Duration // Interval between replication ticks
	MaxReplicationEntries  int           // Max entries per AppendEntries, 0 means unlimited
}

// DefaultNodeConfig returns default configuration.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		MinElectionTimeout:     150 * time.Millisecond,
		MaxElectionTimeout:     300 * time.Millisecond,
		LogReplicationDelay:    0,
		LogReplicationInterval: 50 * time.Millisecond,
		MaxReplicationEntries:  64,
	}
}

// Validate checks if the configuration is valid.
func (c NodeConfig) Validate() error {
	if c.MinElectionTimeout <= 0 || c.MaxElectionTimeout <= 0 || c.MinElectionTimeout > c.MaxElectionTimeout {
		return errors.Wrapf(ErrInvalidConfig, "election timeout should not be 0 or min > max (min %v, max %v)",
			c.MinElectionTimeout, c.MaxElectionTimeout)
	}
	if c.LogReplicationDelay < 0 || c.LogReplicationInterval <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "log replication delay < 0 or log replication interval <= 0 (delay %v, interval %v)",
			c.LogReplicationDelay, c.LogReplicationInterval)
	}
	if c.MaxReplicationEntries < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max replication entries < 0 (%d)", c.MaxReplicationEntries)
	}
	return nil
}
