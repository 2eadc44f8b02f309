package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// NodeStoreFileName is the name of the term file inside a data directory.
const NodeStoreFileName = "term.dat"

// nodeStoreHeaderSize is the fixed part of the term file.
// Layout: [term:8][votedForLen:2][votedFor:N]
const nodeStoreHeaderSize = 8 + 2

// ErrNodeStoreCorrupted is returned when the term file cannot be decoded.
var ErrNodeStoreCorrupted = errors.New("storage: term file corrupted")

var _ raft.NodeStore = (*FileNodeStore)(nil)

// FileNodeStore is a raft.NodeStore kept in a single file that is
// replaced atomically on every write.
type FileNodeStore struct {
	mu       deadlock.RWMutex
	dir      string
	path     string
	term     uint64
	votedFor raft.NodeID
	closed   bool
}

// OpenFileNodeStore opens the term file in dir, creating dir if needed.
// A missing file means term 0 with no vote.
func OpenFileNodeStore(dir string) (*FileNodeStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}

	s := &FileNodeStore{
		dir:  dir,
		path: filepath.Join(dir, NodeStoreFileName),
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, errors.Wrap(err, "read term file")
	}

	term, votedFor, err := decodeNodeState(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", s.path)
	}
	s.term = term
	s.votedFor = votedFor
	return s, nil
}

func encodeNodeState(term uint64, votedFor raft.NodeID) []byte {
	buf := make([]byte, nodeStoreHeaderSize+len(votedFor))
	binary.LittleEndian.PutUint64(buf[0:8], term)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(votedFor)))
	copy(buf[nodeStoreHeaderSize:], votedFor)
	return buf
}

func decodeNodeState(data []byte) (uint64, raft.NodeID, error) {
	if len(data) < nodeStoreHeaderSize {
		return 0, "", ErrNodeStoreCorrupted
	}
	length := int(binary.LittleEndian.Uint16(data[8:10]))
	if len(data) != nodeStoreHeaderSize+length {
		return 0, "", ErrNodeStoreCorrupted
	}
	return binary.LittleEndian.Uint64(data[0:8]), raft.NodeID(data[nodeStoreHeaderSize:]), nil
}

// Term returns the stored term.
func (s *FileNodeStore) Term() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.term
}

// VotedFor returns the stored vote.
func (s *FileNodeStore) VotedFor() raft.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.votedFor
}

// SetTermAndVote writes term and vote to a temporary file, syncs it and
// renames it over the term file. The in-memory copy changes only after
// the rename succeeded.
func (s *FileNodeStore) SetTermAndVote(term uint64, votedFor raft.NodeID) error {
	if len(votedFor) > 0xFFFF {
		return errors.Errorf("storage: node id of %d bytes is too long", len(votedFor))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tmp := s.path + ".tmp"
	if err := writeFileSync(tmp, encodeNodeState(term, votedFor)); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "write term file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replace term file")
	}
	if err := syncDir(s.dir); err != nil {
		return errors.Wrap(err, "sync data directory")
	}

	s.term = term
	s.votedFor = votedFor
	return nil
}

// Close marks the store closed. The file is not held open between writes.
func (s *FileNodeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
