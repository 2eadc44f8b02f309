// Package logging provides structured logging for raftd.
//
// # Creating a Logger
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/raftd/raftd.log",
//	})
//
// NewDefault logs at info level as text to stderr. NewNop discards
// everything.
//
// # Structured Logging
//
// Every call takes a message followed by key-value pairs:
//
//	logger.Info("became leader", "term", 7, "peers", 2)
//
// Output (JSON format):
//
//	{"ts":"2026-02-18T10:30:00Z","level":"info","msg":"became leader","peers":2,"term":7}
//
// Text format:
//
//	2026-02-18T10:30:00Z [info] became leader peers=2 term=7
//
// Error values are logged by their message.
//
// # Derived Loggers
//
// WithComponent, WithRequestID and WithFields return loggers that add
// their fields to every entry and share the parent's output:
//
//	raftLog := logger.WithComponent("raft").WithFields("node", "n1")
//
// Request IDs for the REST API are UUIDs from GenerateRequestID and travel
// in request contexts via ContextWithRequestID.
package logging
