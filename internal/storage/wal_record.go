package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// WAL record constants.
const (
	// WALRecordHeaderSize is the fixed size of the WAL record header.
	// Layout:
	//   - Bytes 0-3: Length of the entry that follows (uint32)
	//   - Bytes 4-7: Checksum (CRC32 of the entry bytes)
	WALRecordHeaderSize = 8

	// MaxWALRecordSize bounds a single serialized entry.
	MaxWALRecordSize = 64 * 1024 * 1024
)

// Errors for WAL record operations.
var (
	ErrWALRecordTooSmall = errors.New("WAL record buffer too small")
	ErrWALRecordChecksum = errors.New("WAL record checksum mismatch")
	ErrWALRecordTooLarge = errors.New("WAL record exceeds maximum size")
)

// encodeWALRecord frames a log entry for the write-ahead log.
func encodeWALRecord(entry *raft.LogEntry) ([]byte, error) {
	data := entry.Serialize()
	if len(data) > MaxWALRecordSize {
		return nil, ErrWALRecordTooLarge
	}

	buf := make([]byte, WALRecordHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(data))
	copy(buf[WALRecordHeaderSize:], data)
	return buf, nil
}

// decodeWALRecordHeader returns the entry length and checksum of a header.
func decodeWALRecordHeader(header []byte) (uint32, uint32, error) {
	if len(header) < WALRecordHeaderSize {
		return 0, 0, ErrWALRecordTooSmall
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	if length == 0 || length > MaxWALRecordSize {
		return 0, 0, ErrWALRecordTooLarge
	}
	return length, binary.LittleEndian.Uint32(header[4:8]), nil
}

// decodeWALRecordBody validates the entry bytes against checksum and
// decodes them.
func decodeWALRecordBody(data []byte, checksum uint32) (*raft.LogEntry, error) {
	if crc32.ChecksumIEEE(data) != checksum {
		return nil, ErrWALRecordChecksum
	}
	return raft.DeserializeLogEntry(data)
}
