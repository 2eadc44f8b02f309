// Package config loads and validates the raftd configuration.
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/raftd/raftd.yaml")
//	if err != nil {
//	    return err
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    // report errs
//	}
//
// Loading happens in four steps:
//
//  1. ${VAR} and ${VAR:-default} references are replaced from the environment.
//  2. The YAML subset is parsed into a tree of maps and lists.
//  3. The tree is decoded onto DefaultConfig(); absent keys keep their defaults.
//  4. RAFTD_* environment variables override individual fields.
//
// # File Format
//
//	node:
//	  id: n1
//	  address: 10.0.0.1:7000
//	  dataDir: /var/lib/raftd
//
//	cluster:
//	  peers:
//	    - id: n2
//	      address: 10.0.0.2:7000
//	    - id: n3
//	      address: 10.0.0.3:7000
//	      voting: false
//
//	timing:
//	  minElectionTimeout: 150ms
//	  maxElectionTimeout: 300ms
//	  logReplicationInterval: 50ms
//	  maxReplicationEntries: 64
//
//	transport:
//	  kind: grpc          # tcp or grpc
//	  dialTimeout: 2s
//
//	membership:
//	  enabled: true
//	  bindPort: 7946
//	  join: [10.0.0.2:7946]
//
//	rest:
//	  enabled: true
//	  address: :8080
//
//	logging:
//	  level: info
//	  format: json
//	  output: stdout
//
// Durations accept Go syntax plus a day suffix ("7d"). Booleans accept
// true/false, yes/no, on/off and 1/0.
//
// # Environment Overrides
//
// Every scalar field can be overridden with RAFTD_<SECTION>_<FIELD>, the
// field name split on word boundaries:
//
//	RAFTD_NODE_ID=n1
//	RAFTD_NODE_DATA_DIR=/data
//	RAFTD_TIMING_MIN_ELECTION_TIMEOUT=200ms
//	RAFTD_MEMBERSHIP_JOIN=10.0.0.2:7946,10.0.0.3:7946
//
// Static peers can only be set in the file.
package config
