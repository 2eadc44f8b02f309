package main

import (
	"go.uber.org/atomic"

	"github.com/KilimcininKorOglu/raftd/internal/logging"
	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// logStateMachine records applied commands in the log. raftd carries no
// application state of its own.
type logStateMachine struct {
	logger      logging.Logger
	lastApplied atomic.Uint64
}

func newLogStateMachine(logger logging.Logger) *logStateMachine {
	return &logStateMachine{logger: logger}
}

func (m *logStateMachine) Apply(entry *raft.LogEntry) error {
	m.logger.Debug("applied entry",
		"index", entry.Index,
		"term", entry.Term,
		"bytes", len(entry.Payload))
	m.lastApplied.Store(entry.Index)
	return nil
}

// LastApplied returns the index of the last applied command.
func (m *logStateMachine) LastApplied() uint64 {
	return m.lastApplied.Load()
}
