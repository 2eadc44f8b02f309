package raft

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

// EntryKind identifies what a log entry carries.
type EntryKind uint8

// Log entry kinds.
const (
	EntryNoop    EntryKind = iota // No-op entry, never handed to the state machine
	EntryCommand                  // Opaque client command
)

func (k EntryKind) String() string {
	switch k {
	case EntryNoop:
		return "noop"
	case EntryCommand:
		return "command"
	default:
		return "unknown"
	}
}

// LogEntry represents a single entry in the Raft log.
type LogEntry struct {
	Index   uint64    // Log index (1-based)
	Term    uint64    // Term when entry was created
	Kind    EntryKind // Entry kind
	Payload []byte    // Opaque payload
}

// entryHeaderSize is the fixed part of a serialized entry.
const entryHeaderSize = 8 + 8 + 1 + 4

// Serialize encodes the log entry to bytes.
// Format: [Index:8][Term:8][Kind:1][PayloadLen:4][Payload:N]
func (e *LogEntry) Serialize() []byte {
	buf := make([]byte, entryHeaderSize+len(e.Payload))

	binary.LittleEndian.PutUint64(buf[0:8], e.Index)
	binary.LittleEndian.PutUint64(buf[8:16], e.Term)
	buf[16] = uint8(e.Kind)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(e.Payload)))
	copy(buf[21:], e.Payload)

	return buf
}

// DeserializeLogEntry decodes a log entry from bytes.
func DeserializeLogEntry(data []byte) (*LogEntry, error) {
	if len(data) < entryHeaderSize {
		return nil, ErrLogCorrupted
	}

	payloadLen := binary.LittleEndian.Uint32(data[17:21])
	if len(data) < entryHeaderSize+int(payloadLen) {
		return nil, ErrLogCorrupted
	}

	entry := &LogEntry{
		Index: binary.LittleEndian.Uint64(data[0:8]),
		Term:  binary.LittleEndian.Uint64(data[8:16]),
		Kind:  EntryKind(data[16]),
	}
	if payloadLen > 0 {
		entry.Payload = make([]byte, payloadLen)
		copy(entry.Payload, data[21:21+payloadLen])
	}
	return entry, nil
}

func writeString(w io.Writer, s string) error {
	data := []byte(s)
	if err := binary.Write(w, binary.LittleEndian, uint16(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readString(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func writeBytes(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	if len(data) > 0 {
		_, err := w.Write(data)
		return err
	}
	return nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Log is the node's view of its replicated log.
// Index 0 is a sentinel with term 0 that every log carries.
// Implementations must be safe for concurrent use.
type Log interface {
	// Append adds entries at the end of the log. The first entry must
	// carry NextIndex() and the rest must be contiguous.
	Append(entries ...*LogEntry) error
	// TruncateFrom removes the entry at index and everything after it.
	// Committed entries cannot be truncated.
	TruncateFrom(index uint64) error
	// Get returns the entry at index.
	Get(index uint64) (*LogEntry, error)
	// EntriesFrom returns up to max entries starting at index (0 means no limit).
	EntriesFrom(index uint64, max int) []*LogEntry
	// TermAt returns the term of the entry at index, or 0 if absent.
	TermAt(index uint64) uint64
	LastIndex() uint64
	LastTerm() uint64
	NextIndex() uint64
	CommitIndex() uint64
	// SetCommitIndex advances the commit index. It never moves backwards
	// and never past LastIndex().
	SetCommitIndex(index uint64) error
	Close() error
}

// MemoryLog is a Log kept entirely in memory.
type MemoryLog struct {
	mu          deadlock.RWMutex
	entries     []*LogEntry
	commitIndex uint64
}

// NewMemoryLog creates a new empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		entries: []*LogEntry{{Index: 0, Term: 0}},
	}
}

// NewMemoryLogFrom creates a log holding the given entries.
// Entries must start at index 1 and be contiguous.
func NewMemoryLogFrom(entries []*LogEntry) (*MemoryLog, error) {
	l := NewMemoryLog()
	if err := l.Append(entries...); err != nil {
		return nil, err
	}
	return l, nil
}

// Append adds entries to the log.
func (l *MemoryLog) Append(entries ...*LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := uint64(len(l.entries))
	for i, e := range entries {
		if e.Index != next+uint64(i) {
			return errors.Wrapf(ErrLogIndexOutOfRange, "append index %d, expected %d", e.Index, next+uint64(i))
		}
	}
	l.entries = append(l.entries, entries...)
	return nil
}

// Get returns the entry at the given index.
func (l *MemoryLog) Get(index uint64) (*LogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index >= uint64(len(l.entries)) {
		return nil, ErrLogIndexOutOfRange
	}
	return l.entries[index], nil
}

// EntriesFrom returns entries starting from the given index.
func (l *MemoryLog) EntriesFrom(index uint64, max int) []*LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return sliceEntries(l.entries, index, max)
}

// TermAt returns the term of the entry at the given index.
func (l *MemoryLog) TermAt(index uint64) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index >= uint64(len(l.entries)) {
		return 0
	}
	return l.entries[index].Term
}

// LastIndex returns the index of the last entry.
func (l *MemoryLog) LastIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries) - 1)
}

// LastTerm returns the term of the last entry.
func (l *MemoryLog) LastTerm() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Term
}

// NextIndex returns the index the next appended entry will get.
func (l *MemoryLog) NextIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries))
}

// TruncateFrom removes all entries from the given index onwards.
func (l *MemoryLog) TruncateFrom(index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index == 0 || index <= l.commitIndex {
		return errors.Wrapf(ErrCommittedEntry, "truncate from %d, commit index %d", index, l.commitIndex)
	}
	if index < uint64(len(l.entries)) {
		l.entries = l.entries[:index]
	}
	return nil
}

// CommitIndex returns the highest index known to be committed.
func (l *MemoryLog) CommitIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commitIndex
}

// SetCommitIndex advances the commit index.
func (l *MemoryLog) SetCommitIndex(index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index > uint64(len(l.entries)-1) {
		return errors.Wrapf(ErrLogIndexOutOfRange, "commit index %d beyond last index %d", index, len(l.entries)-1)
	}
	if index > l.commitIndex {
		l.commitIndex = index
	}
	return nil
}

// Close is a no-op for the in-memory log.
func (l *MemoryLog) Close() error {
	return nil
}

// sliceEntries returns up to max entries of a sentinel-prefixed slice starting at index.
func sliceEntries(entries []*LogEntry, index uint64, max int) []*LogEntry {
	if index == 0 {
		index = 1
	}
	if index >= uint64(len(entries)) {
		return nil
	}
	end := uint64(len(entries))
	if max > 0 && index+uint64(max) < end {
		end = index + uint64(max)
	}
	result := make([]*LogEntry, end-index)
	copy(result, entries[index:end])
	return result
}

// isLogUpToDate reports whether a log ending at (lastTerm, lastIndex) is at
// least as up-to-date as the local one ending at (localTerm, localIndex).
func isLogUpToDate(lastTerm, lastIndex, localTerm, localIndex uint64) bool {
	if lastTerm != localTerm {
		return lastTerm > localTerm
	}
	return lastIndex >= localIndex
}
