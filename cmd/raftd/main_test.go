package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRun_NoArgs(t *testing.T) {
	exitCode := run([]string{"raftd"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for no args, got %d", exitCode)
	}
}

func TestRun_Help(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"help command", []string{"raftd", "help"}},
		{"short flag", []string{"raftd", "-h"}},
		{"long flag", []string{"raftd", "--help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exitCode := run(tt.args)
			if exitCode != 0 {
				t.Errorf("expected exit code 0 for help, got %d", exitCode)
			}
		})
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	exitCode := run([]string{"raftd", "unknown"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for unknown command, got %d", exitCode)
	}
}

func TestRun_Version(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"plain", []string{"raftd", "version"}},
		{"short", []string{"raftd", "version", "-short"}},
		{"help", []string{"raftd", "version", "-h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if exitCode := run(tt.args); exitCode != 0 {
				t.Errorf("expected exit code 0, got %d", exitCode)
			}
		})
	}
}

func TestRun_VersionInvalidFlag(t *testing.T) {
	exitCode := run([]string{"raftd", "version", "-bogus"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for invalid flag, got %d", exitCode)
	}
}

func TestRun_ServeHelp(t *testing.T) {
	exitCode := run([]string{"raftd", "serve", "-h"})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for serve -h, got %d", exitCode)
	}
}

const validConfig = `node:
  id: n1
  address: 127.0.0.1:7000
  dataDir: /var/lib/raftd

cluster:
  peers:
    - id: n2
      address: 127.0.0.1:7001
    - id: n3
      address: 127.0.0.1:7002
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raftd.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestRun_Config(t *testing.T) {
	valid := writeConfig(t, validConfig)
	invalid := writeConfig(t, "node:\n  id: \"\"\n  address: nowhere\n")

	tests := []struct {
		name     string
		args     []string
		expected int
	}{
		{"no subcommand", []string{"raftd", "config"}, 0},
		{"help", []string{"raftd", "config", "help"}, 0},
		{"unknown subcommand", []string{"raftd", "config", "bogus"}, 1},
		{"validate valid", []string{"raftd", "config", "validate", "-config", valid}, 0},
		{"validate invalid", []string{"raftd", "config", "validate", "-config", invalid}, 1},
		{"validate missing flag", []string{"raftd", "config", "validate"}, 1},
		{"validate missing file", []string{"raftd", "config", "validate", "-config", "/nonexistent/raftd.yaml"}, 1},
		{"validate help", []string{"raftd", "config", "validate", "-h"}, 0},
		{"show defaults", []string{"raftd", "config", "show"}, 0},
		{"show file", []string{"raftd", "config", "show", "-config", valid}, 0},
		{"show missing file", []string{"raftd", "config", "show", "-config", "/nonexistent/raftd.yaml"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if exitCode := run(tt.args); exitCode != tt.expected {
				t.Errorf("expected exit code %d, got %d", tt.expected, exitCode)
			}
		})
	}
}
