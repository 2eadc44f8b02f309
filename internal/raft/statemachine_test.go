package raft

import (
	"errors"
	"testing"
	"time"
)

func newTestApplier(t *testing.T, terms ...uint64) (*applier, *MemoryLog, *MockStateMachine) {
	t.Helper()

	log, err := NewMemoryLogFrom(entries(terms...))
	if err != nil {
		t.Fatalf("NewMemoryLogFrom failed: %v", err)
	}
	sm := NewMockStateMachine()
	a := newApplier(log, sm, &defaultLogger{})
	a.start()
	t.Cleanup(func() { a.stop(time.Second) })
	return a, log, sm
}

func TestApplierAppliesCommittedEntries(t *testing.T) {
	a, log, sm := newTestApplier(t, 1, 1, 1, 1)

	log.SetCommitIndex(2)
	a.notify()
	waitFor(t, time.Second, "two entries applied", func() bool { return a.lastApplied.Load() == 2 })

	log.SetCommitIndex(4)
	a.notify()
	waitFor(t, time.Second, "all entries applied", func() bool { return a.lastApplied.Load() == 4 })

	got := sm.AppliedPayloads()
	want := []string{"\x01", "\x02", "\x03", "\x04"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Entry %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestApplierSkipsNoopEntries(t *testing.T) {
	log := NewMemoryLog()
	log.Append(
		&LogEntry{Index: 1, Term: 1, Kind: EntryNoop},
		&LogEntry{Index: 2, Term: 1, Kind: EntryCommand, Payload: []byte("x")},
	)
	sm := NewMockStateMachine()
	a := newApplier(log, sm, &defaultLogger{})
	a.start()
	defer a.stop(time.Second)

	log.SetCommitIndex(2)
	a.notify()
	waitFor(t, time.Second, "entries applied", func() bool { return a.lastApplied.Load() == 2 })

	if n := sm.AppliedCount(); n != 1 {
		t.Errorf("Expected 1 applied command, got %d", n)
	}
}

func TestApplierRetriesAfterError(t *testing.T) {
	a, log, sm := newTestApplier(t, 1, 1)
	sm.SetApplyError(errors.New("busy"))

	log.SetCommitIndex(2)
	a.notify()
	time.Sleep(20 * time.Millisecond)
	if applied := a.lastApplied.Load(); applied != 0 {
		t.Fatalf("Failed entry counted as applied: %d", applied)
	}

	sm.SetApplyError(nil)
	a.notify()
	waitFor(t, time.Second, "retry to apply", func() bool { return a.lastApplied.Load() == 2 })
	if n := sm.AppliedCount(); n != 2 {
		t.Errorf("Expected 2 applied entries, got %d", n)
	}
}

func TestApplierWithoutStateMachine(t *testing.T) {
	log, _ := NewMemoryLogFrom(entries(1, 2))
	a := newApplier(log, nil, &defaultLogger{})
	a.start()
	defer a.stop(time.Second)

	log.SetCommitIndex(2)
	a.notify()
	waitFor(t, time.Second, "entries marked applied", func() bool { return a.lastApplied.Load() == 2 })
}

func TestApplierStopIdempotent(t *testing.T) {
	a, _, _ := newTestApplier(t, 1)
	a.stop(time.Second)
	a.stop(time.Second)
	a.notify()
}
