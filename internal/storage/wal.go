package storage

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// LogFileName is the name of the log file inside a data directory.
const LogFileName = "log.bin"

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("storage: closed")

var _ raft.Log = (*FileLog)(nil)

// FileLog is a raft.Log persisted as a write-ahead log of entries.
// The whole log is held in memory; the file is read once, when opened.
// The commit index is not persisted.
type FileLog struct {
	*raft.MemoryLog

	mu        deadlock.Mutex
	file      *os.File
	path      string
	offsets   []int64 // offsets[i] is where the record of entry i+1 starts
	size      int64
	truncated int64
	closed    bool
}

// OpenFileLog opens or creates the log file at path and loads its entries.
// A torn or corrupted tail, as left by a crash during Append, is cut off.
func OpenFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open log")
	}

	l := &FileLog{
		MemoryLog: raft.NewMemoryLog(),
		file:      file,
		path:      path,
	}
	if err := l.recover(); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "recover log %s", path)
	}
	return l, nil
}

// recover reads every valid record and truncates whatever follows them.
func (l *FileLog) recover() error {
	info, err := l.file.Stat()
	if err != nil {
		return err
	}

	r := bufio.NewReader(l.file)
	var offset int64
	header := make([]byte, WALRecordHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			// io.EOF on a record boundary, io.ErrUnexpectedEOF on a torn header.
			break
		}
		length, checksum, err := decodeWALRecordHeader(header)
		if err != nil {
			break
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			break
		}
		entry, err := decodeWALRecordBody(data, checksum)
		if err != nil || entry.Index != uint64(len(l.offsets))+1 {
			break
		}
		if err := l.MemoryLog.Append(entry); err != nil {
			return err
		}
		l.offsets = append(l.offsets, offset)
		offset += int64(WALRecordHeaderSize) + int64(length)
	}

	if offset < info.Size() {
		l.truncated = info.Size() - offset
		if err := l.file.Truncate(offset); err != nil {
			return err
		}
		if err := l.file.Sync(); err != nil {
			return err
		}
	}
	l.size = offset
	return nil
}

// Path returns the location of the log file.
func (l *FileLog) Path() string {
	return l.path
}

// Truncated returns how many trailing bytes were dropped when the log
// was opened.
func (l *FileLog) Truncated() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncated
}

// Append writes entries to the file and syncs it before adding them to
// the in-memory log.
func (l *FileLog) Append(entries ...*raft.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	next := l.MemoryLog.NextIndex()
	var buf []byte
	offsets := make([]int64, 0, len(entries))
	for i, e := range entries {
		if e.Index != next+uint64(i) {
			return errors.Wrapf(raft.ErrLogIndexOutOfRange, "append index %d, expected %d", e.Index, next+uint64(i))
		}
		record, err := encodeWALRecord(e)
		if err != nil {
			return errors.Wrapf(err, "encode entry %d", e.Index)
		}
		offsets = append(offsets, l.size+int64(len(buf)))
		buf = append(buf, record...)
	}

	if _, err := l.file.WriteAt(buf, l.size); err != nil {
		l.file.Truncate(l.size)
		return errors.Wrap(err, "write log")
	}
	if err := l.file.Sync(); err != nil {
		l.file.Truncate(l.size)
		return errors.Wrap(err, "sync log")
	}

	l.offsets = append(l.offsets, offsets...)
	l.size += int64(len(buf))
	return l.MemoryLog.Append(entries...)
}

// TruncateFrom removes the entry at index and everything after it from
// the file and from memory.
func (l *FileLog) TruncateFrom(index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if index == 0 || index <= l.MemoryLog.CommitIndex() {
		return l.MemoryLog.TruncateFrom(index)
	}
	if index > l.MemoryLog.LastIndex() {
		return nil
	}

	offset := l.offsets[index-1]
	if err := l.file.Truncate(offset); err != nil {
		return errors.Wrap(err, "truncate log")
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "sync log")
	}
	l.offsets = l.offsets[:index-1]
	l.size = offset
	return l.MemoryLog.TruncateFrom(index)
}

// Close syncs and closes the log file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return errors.Wrap(err, "sync log")
	}
	return errors.Wrap(l.file.Close(), "close log")
}
