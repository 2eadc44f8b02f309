package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `raftd - Raft consensus node

Usage:
  raftd <command> [options]

Commands:
  serve       Start a raft node
  config      Configuration management
  version     Show version information

Use "raftd <command> -h" for more information about a command.
`)
}

// printServeUsage prints the serve command usage.
func printServeUsage(w io.Writer) {
	fmt.Fprint(w, `Start a raft node

Usage:
  raftd serve [options]

Options:
  -config string
        Path to configuration file
  -id string
        Node ID (overrides config)
  -address string
        Raft listen address (overrides config, default "127.0.0.1:7000")
  -data-dir string
        Data directory path (overrides config, default "/var/lib/raftd")
  -log-level string
        Log level: debug, info, warn, error (overrides config)
  -h, -help
        Show this help message

Environment Variables:
  RAFTD_NODE_ID            Override node ID
  RAFTD_NODE_ADDRESS       Override raft listen address
  RAFTD_NODE_DATA_DIR      Override data directory path
  RAFTD_LOGGING_LEVEL      Override log level
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  raftd config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  show        Show effective configuration as JSON

Use "raftd config <subcommand> -h" for more information.
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  raftd version [options]

Options:
  -short
        Show only version number
  -h, -help
        Show this help message
`)
}
