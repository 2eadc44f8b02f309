package raft

import (
	"errors"
	"testing"
	"time"
)

func TestNodeConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*NodeConfig)
		wantErr bool
	}{
		{"default", func(c *NodeConfig) {}, false},
		{"equal bounds", func(c *NodeConfig) { c.MaxElectionTimeout = c.MinElectionTimeout }, false},
		{"zero min", func(c *NodeConfig) { c.MinElectionTimeout = 0 }, true},
		{"zero max", func(c *NodeConfig) { c.MaxElectionTimeout = 0 }, true},
		{"min above max", func(c *NodeConfig) { c.MinElectionTimeout = time.Second }, true},
		{"negative delay", func(c *NodeConfig) { c.LogReplicationDelay = -time.Millisecond }, true},
		{"zero interval", func(c *NodeConfig) { c.LogReplicationInterval = 0 }, true},
		{"negative max entries", func(c *NodeConfig) { c.MaxReplicationEntries = -1 }, true},
		{"unlimited entries", func(c *NodeConfig) { c.MaxReplicationEntries = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultNodeConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultNodeConfig(t *testing.T) {
	cfg := DefaultNodeConfig()

	if cfg.MinElectionTimeout != 150*time.Millisecond || cfg.MaxElectionTimeout != 300*time.Millisecond {
		t.Errorf("Unexpected election bounds: %v..%v", cfg.MinElectionTimeout, cfg.MaxElectionTimeout)
	}
	if cfg.LogReplicationDelay != 0 || cfg.LogReplicationInterval != 50*time.Millisecond {
		t.Errorf("Unexpected replication timing: %v, %v", cfg.LogReplicationDelay, cfg.LogReplicationInterval)
	}
}
