// Package storage provides durable implementations of the raft log and
// the raft node store.
//
// # Layout
//
// A node keeps two files in its data directory:
//
//	term.dat   current term and vote, replaced atomically on every change
//	log.bin    write-ahead log of entries, appended and synced
//
// # Write-Ahead Log
//
// Each log record is framed as:
//
//	[length:4][crc32:4][entry:N]
//
// where entry is the serialized raft.LogEntry. Records are appended and
// the file is synced before Append returns. On open, records are read
// from the start of the file; the first record that is incomplete, fails
// its checksum or breaks index contiguity ends the log and everything
// after it is truncated.
//
// # Usage
//
//	store, err := storage.OpenFileNodeStore(dataDir)
//	if err != nil {
//	    return err
//	}
//	log, err := storage.OpenFileLog(filepath.Join(dataDir, storage.LogFileName))
//	if err != nil {
//	    store.Close()
//	    return err
//	}
//
// Both values are handed to a raft.NodeContext, which closes them when the
// node is released.
package storage
