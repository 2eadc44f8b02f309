package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
# raftd test configuration
node:
  id: n1
  address: 127.0.0.1:7001
  dataDir: ${RAFTD_TEST_DATA:-/tmp/raftd}
  standby: no

cluster:
  peers:
    - id: n2
      address: "127.0.0.1:7002"
    - id: n3
      address: 127.0.0.1:7003
      voting: false

timing:
  minElectionTimeout: 200ms
  maxElectionTimeout: 400ms
  logReplicationInterval: 40ms
  maxReplicationEntries: 16

transport:
  kind: grpc   # tcp or grpc
  dialTimeout: 1s

membership:
  enabled: on
  bindPort: 7950
  join:
    - 127.0.0.1:7946
    - 127.0.0.1:7947

rest:
  enabled: true
  address: :9090

logging:
  level: debug
  format: text
`

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	t.Run("timing defaults", func(t *testing.T) {
		if config.Timing.MinElectionTimeout != 150*time.Millisecond || config.Timing.MaxElectionTimeout != 300*time.Millisecond {
			t.Errorf("unexpected election timeouts %v..%v", config.Timing.MinElectionTimeout, config.Timing.MaxElectionTimeout)
		}
		if err := config.Timing.NodeConfig().Validate(); err != nil {
			t.Errorf("default timing is invalid: %v", err)
		}
	})

	t.Run("transport defaults", func(t *testing.T) {
		if config.Transport.Kind != TransportTCP {
			t.Errorf("expected tcp transport, got %q", config.Transport.Kind)
		}
	})

	t.Run("logging defaults", func(t *testing.T) {
		if config.Logging.Level != "info" || config.Logging.Format != "json" || config.Logging.Output != "stdout" {
			t.Errorf("unexpected logging defaults %+v", config.Logging)
		}
	})

	t.Run("optional services disabled", func(t *testing.T) {
		if config.Membership.Enabled || config.REST.Enabled {
			t.Error("membership and REST should be disabled by default")
		}
	})
}

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if config.Node.ID != "n1" || config.Node.Address != "127.0.0.1:7001" || config.Node.Standby {
		t.Errorf("unexpected node section %+v", config.Node)
	}
	if config.Node.DataDir != "/tmp/raftd" {
		t.Errorf("expected substituted default data dir, got %q", config.Node.DataDir)
	}

	peers := config.Cluster.Peers
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %+v", peers)
	}
	if peers[0].ID != "n2" || peers[0].Address != "127.0.0.1:7002" || !peers[0].IsVoting() {
		t.Errorf("unexpected first peer %+v", peers[0])
	}
	if peers[1].ID != "n3" || peers[1].IsVoting() {
		t.Errorf("expected n3 to be non-voting, got %+v", peers[1])
	}

	timing := config.Timing
	if timing.MinElectionTimeout != 200*time.Millisecond || timing.MaxElectionTimeout != 400*time.Millisecond ||
		timing.LogReplicationInterval != 40*time.Millisecond || timing.MaxReplicationEntries != 16 {
		t.Errorf("unexpected timing %+v", timing)
	}
	if timing.LogReplicationDelay != 0 {
		t.Errorf("absent key should keep its default, got %v", timing.LogReplicationDelay)
	}

	if config.Transport.Kind != TransportGRPC || config.Transport.DialTimeout != time.Second {
		t.Errorf("unexpected transport %+v", config.Transport)
	}

	m := config.Membership
	if !m.Enabled || m.BindPort != 7950 || m.BindAddr != "0.0.0.0" {
		t.Errorf("unexpected membership %+v", m)
	}
	if len(m.Join) != 2 || m.Join[1] != "127.0.0.1:7947" {
		t.Errorf("unexpected join list %v", m.Join)
	}

	if !config.REST.Enabled || config.REST.Address != ":9090" {
		t.Errorf("unexpected rest %+v", config.REST)
	}
	if config.Logging.Level != "debug" || config.Logging.Format != "text" || config.Logging.Output != "stdout" {
		t.Errorf("unexpected logging %+v", config.Logging)
	}

	if errs := ValidateConfig(config); len(errs) != 0 {
		t.Errorf("sample config should validate, got %v", errs)
	}
}

func TestParseConfigLayouts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(*Config) bool
	}{
		{
			name:  "inline join array",
			input: "membership:\n  join: [\"a:1\", b:2]\n",
			check: func(c *Config) bool { return len(c.Membership.Join) == 2 && c.Membership.Join[0] == "a:1" },
		},
		{
			name:  "single join value",
			input: "membership:\n  join: a:1\n",
			check: func(c *Config) bool { return len(c.Membership.Join) == 1 && c.Membership.Join[0] == "a:1" },
		},
		{
			name:  "list items at key indentation",
			input: "cluster:\n  peers:\n  - id: n2\n    address: b:7000\n  - id: n3\n    address: c:7000\nrest:\n  enabled: true\n",
			check: func(c *Config) bool {
				return len(c.Cluster.Peers) == 2 && c.Cluster.Peers[1].Address == "c:7000" && c.REST.Enabled
			},
		},
		{
			name:  "day duration",
			input: "transport:\n  dialTimeout: 1d\n",
			check: func(c *Config) bool { return c.Transport.DialTimeout == 24*time.Hour },
		},
		{
			name:  "empty value keeps default",
			input: "node:\n  address:\n",
			check: func(c *Config) bool { return c.Node.Address == "127.0.0.1:7000" },
		},
		{
			name:  "unknown keys are ignored",
			input: "directory:\n  baseDN: dc=example\n",
			check: func(c *Config) bool { return c.Node.Address == "127.0.0.1:7000" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := ParseConfig([]byte(tt.input))
			if err != nil {
				t.Fatalf("ParseConfig failed: %v", err)
			}
			if !tt.check(config) {
				t.Errorf("unexpected config %+v", config)
			}
		})
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"not a mapping", "node\n", ErrInvalidYAML},
		{"bad duration", "timing:\n  minElectionTimeout: soon\n", ErrInvalidDuration},
		{"bad bool", "rest:\n  enabled: maybe\n", ErrInvalidBool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Decoder errors carry the cause by message only.
			_, err := ParseConfig([]byte(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want.Error()) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := ParseConfig([]byte("timing:\n  maxReplicationEntries: lots\n")); err == nil {
		t.Error("expected an error for a non-numeric integer")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RAFTD_NODE_ID", "from-env")
	t.Setenv("RAFTD_NODE_DATA_DIR", "/data/raftd")
	t.Setenv("RAFTD_TIMING_MIN_ELECTION_TIMEOUT", "250ms")
	t.Setenv("RAFTD_MEMBERSHIP_JOIN", "x:1,y:2")
	t.Setenv("RAFTD_REST_ENABLED", "false")

	config, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if config.Node.ID != "from-env" || config.Node.DataDir != "/data/raftd" {
		t.Errorf("node overrides not applied: %+v", config.Node)
	}
	if config.Timing.MinElectionTimeout != 250*time.Millisecond {
		t.Errorf("timing override not applied: %v", config.Timing.MinElectionTimeout)
	}
	if len(config.Membership.Join) != 2 || config.Membership.Join[0] != "x:1" {
		t.Errorf("join override not applied: %v", config.Membership.Join)
	}
	if config.REST.Enabled {
		t.Error("rest override not applied")
	}
	// Values without an override stay as parsed.
	if config.Node.Address != "127.0.0.1:7001" {
		t.Errorf("address changed unexpectedly: %q", config.Node.Address)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("RAFTD_TEST_SET", "value")

	tests := []struct {
		input    string
		expected string
	}{
		{"a: ${RAFTD_TEST_SET}", "a: value"},
		{"a: ${RAFTD_TEST_UNSET}", "a: "},
		{"a: ${RAFTD_TEST_UNSET:-fallback}", "a: fallback"},
		{"a: ${RAFTD_TEST_SET:-fallback}", "a: value"},
	}

	for _, tt := range tests {
		if got := string(substituteEnvVars([]byte(tt.input))); got != tt.expected {
			t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raftd.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Node.ID != "n1" {
		t.Errorf("expected node id n1, got %q", config.Node.ID)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Node.ID = "n1"
		c.Cluster.Peers = []PeerConfig{{ID: "n2", Address: "127.0.0.1:7002"}}
		return c
	}
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"missing id", func(c *Config) { c.Node.ID = "" }, "node.id"},
		{"bad node address", func(c *Config) { c.Node.Address = "nohost" }, "node.address"},
		{"missing data dir", func(c *Config) { c.Node.DataDir = "" }, "node.dataDir"},
		{"peer without id", func(c *Config) { c.Cluster.Peers = append(c.Cluster.Peers, PeerConfig{Address: "a:1"}) }, "cluster.peers[1].id"},
		{"duplicate peer", func(c *Config) { c.Cluster.Peers = append(c.Cluster.Peers, PeerConfig{ID: "n2", Address: "a:1"}) }, "cluster.peers[1].id"},
		{"bad peer address", func(c *Config) { c.Cluster.Peers[0].Address = "" }, "cluster.peers[0].address"},
		{"self with other address", func(c *Config) {
			c.Cluster.Peers = append(c.Cluster.Peers, PeerConfig{ID: "n1", Address: "10.0.0.9:7000"})
		}, "cluster.peers[1].address"},
		{"min above max", func(c *Config) { c.Timing.MinElectionTimeout = time.Second }, "timing"},
		{"zero interval", func(c *Config) { c.Timing.LogReplicationInterval = 0 }, "timing"},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "udp" }, "transport.kind"},
		{"bad bind port", func(c *Config) { c.Membership.Enabled = true; c.Membership.BindPort = 70000 }, "membership.bindPort"},
		{"bad bind addr", func(c *Config) { c.Membership.Enabled = true; c.Membership.BindAddr = "host" }, "membership.bindAddr"},
		{"bad seed", func(c *Config) { c.Membership.Enabled = true; c.Membership.Join = []string{"seed"} }, "membership.join[0]"},
		{"bad rest address", func(c *Config) { c.REST.Enabled = true; c.REST.Address = "8080" }, "rest.address"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"relative output", func(c *Config) { c.Logging.Output = "raftd.log" }, "logging.output"},
	}

	if errs := ValidateConfig(valid()); len(errs) != 0 {
		t.Fatalf("valid config rejected: %v", errs)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			errs := ValidateConfig(c)
			found := false
			for _, err := range errs {
				var ve ValidationError
				if errors.As(err, &ve) && ve.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error on %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidationErrorString(t *testing.T) {
	err := ValidationError{Field: "node.id", Message: "node ID is required"}
	if !strings.Contains(err.Error(), "node.id: node ID is required") {
		t.Errorf("unexpected error string %q", err.Error())
	}
}

func TestSelfInPeersIsAllowed(t *testing.T) {
	c := DefaultConfig()
	c.Node.ID = "n1"
	c.Cluster.Peers = []PeerConfig{{ID: "n1"}, {ID: "n2", Address: "127.0.0.1:7002"}}
	if errs := ValidateConfig(c); len(errs) != 0 {
		t.Errorf("listing self without an address should be valid, got %v", errs)
	}
}
