package raft

import (
	"bytes"
	"encoding/binary"
	"io"
)

// RPC message types.
const (
	RPCRequestVote uint8 = iota
	RPCRequestVoteResult
	RPCAppendEntries
	RPCAppendEntriesResult
)

// RequestVoteRPC is sent by candidates to gather votes.
type RequestVoteRPC struct {
	Term         uint64 // Candidate's term
	CandidateID  NodeID // Candidate requesting vote
	LastLogIndex uint64 // Index of candidate's last log entry
	LastLogTerm  uint64 // Term of candidate's last log entry
}

// Serialize encodes RequestVoteRPC to bytes.
// Format: [Term:8][CandidateIDLen:2][CandidateID][LastLogIndex:8][LastLogTerm:8]
func (r *RequestVoteRPC) Serialize() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, r.Term)
	writeString(&buf, string(r.CandidateID))
	binary.Write(&buf, binary.LittleEndian, r.LastLogIndex)
	binary.Write(&buf, binary.LittleEndian, r.LastLogTerm)
	return buf.Bytes()
}

// DeserializeRequestVoteRPC decodes RequestVoteRPC from bytes.
func DeserializeRequestVoteRPC(data []byte) (*RequestVoteRPC, error) {
	reader := bytes.NewReader(data)
	rpc := &RequestVoteRPC{}

	if err := binary.Read(reader, binary.LittleEndian, &rpc.Term); err != nil {
		return nil, ErrLogCorrupted
	}
	candidate, err := readString(reader)
	if err != nil {
		return nil, ErrLogCorrupted
	}
	rpc.CandidateID = NodeID(candidate)
	if err := binary.Read(reader, binary.LittleEndian, &rpc.LastLogIndex); err != nil {
		return nil, ErrLogCorrupted
	}
	if err := binary.Read(reader, binary.LittleEndian, &rpc.LastLogTerm); err != nil {
		return nil, ErrLogCorrupted
	}
	return rpc, nil
}

// RequestVoteResult is the response to RequestVote.
type RequestVoteResult struct {
	Term        uint64 // Current term, for candidate to update itself
	VoteGranted bool   // True if candidate received vote
}

// Serialize encodes RequestVoteResult to bytes.
func (r *RequestVoteResult) Serialize() []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint64(buf[0:8], r.Term)
	if r.VoteGranted {
		buf[8] = 1
	}
	return buf
}

// DeserializeRequestVoteResult decodes RequestVoteResult from bytes.
func DeserializeRequestVoteResult(data []byte) (*RequestVoteResult, error) {
	if len(data) < 9 {
		return nil, ErrLogCorrupted
	}
	return &RequestVoteResult{
		Term:        binary.LittleEndian.Uint64(data[0:8]),
		VoteGranted: data[8] == 1,
	}, nil
}

// AppendEntriesRPC is sent by leader to replicate log entries.
type AppendEntriesRPC struct {
	Term         uint64      // Leader's term
	LeaderID     NodeID      // So follower can redirect clients
	PrevLogIndex uint64      // Index of log entry immediately preceding new ones
	PrevLogTerm  uint64      // Term of prevLogIndex entry
	Entries      []*LogEntry // Log entries to store (empty for heartbeat)
	LeaderCommit uint64      // Leader's commitIndex
}

// LastEntryIndex returns the index of the last entry carried, or
// PrevLogIndex for a heartbeat.
func (a *AppendEntriesRPC) LastEntryIndex() uint64 {
	return a.PrevLogIndex + uint64(len(a.Entries))
}

// Serialize encodes AppendEntriesRPC to bytes.
// Format: [Term:8][LeaderIDLen:2][LeaderID][PrevLogIndex:8][PrevLogTerm:8]
// [LeaderCommit:8][NumEntries:4] followed by length-prefixed entries.
func (a *AppendEntriesRPC) Serialize() []byte {
	var buf bytes.Buffer

	binary.Write(&buf, binary.LittleEndian, a.Term)
	writeString(&buf, string(a.LeaderID))
	header := make([]byte, 28)
	binary.LittleEndian.PutUint64(header[0:8], a.PrevLogIndex)
	binary.LittleEndian.PutUint64(header[8:16], a.PrevLogTerm)
	binary.LittleEndian.PutUint64(header[16:24], a.LeaderCommit)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(a.Entries)))
	buf.Write(header)

	for _, entry := range a.Entries {
		writeBytes(&buf, entry.Serialize())
	}

	return buf.Bytes()
}

// DeserializeAppendEntriesRPC decodes AppendEntriesRPC from bytes.
func DeserializeAppendEntriesRPC(data []byte) (*AppendEntriesRPC, error) {
	reader := bytes.NewReader(data)
	rpc := &AppendEntriesRPC{}

	if err := binary.Read(reader, binary.LittleEndian, &rpc.Term); err != nil {
		return nil, ErrLogCorrupted
	}
	leader, err := readString(reader)
	if err != nil {
		return nil, ErrLogCorrupted
	}
	rpc.LeaderID = NodeID(leader)

	header := make([]byte, 28)
	if _, err := io.ReadFull(reader, header); err != nil {
		return nil, ErrLogCorrupted
	}
	rpc.PrevLogIndex = binary.LittleEndian.Uint64(header[0:8])
	rpc.PrevLogTerm = binary.LittleEndian.Uint64(header[8:16])
	rpc.LeaderCommit = binary.LittleEndian.Uint64(header[16:24])
	numEntries := binary.LittleEndian.Uint32(header[24:28])

	// Every entry takes at least its length prefix and header.
	if uint64(numEntries)*(4+entryHeaderSize) > uint64(reader.Len()) {
		return nil, ErrLogCorrupted
	}

	rpc.Entries = make([]*LogEntry, 0, numEntries)
	for i := uint32(0); i < numEntries; i++ {
		entryData, err := readBytes(reader)
		if err != nil {
			return nil, ErrLogCorrupted
		}
		entry, err := DeserializeLogEntry(entryData)
		if err != nil {
			return nil, err
		}
		rpc.Entries = append(rpc.Entries, entry)
	}

	return rpc, nil
}

// AppendEntriesResult is the response to AppendEntries.
// LastLogIndex and LastLogTerm describe the follower's log after the
// call and let the leader skip ahead on a mismatch.
type AppendEntriesResult struct {
	Term         uint64 // Current term, for leader to update itself
	Success      bool   // True if follower contained entry matching prevLogIndex and prevLogTerm
	LastLogIndex uint64 // Follower's last log index
	LastLogTerm  uint64 // Follower's last log term
}

// Serialize encodes AppendEntriesResult to bytes.
func (r *AppendEntriesResult) Serialize() []byte {
	buf := make([]byte, 25)
	binary.LittleEndian.PutUint64(buf[0:8], r.Term)
	if r.Success {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint64(buf[9:17], r.LastLogIndex)
	binary.LittleEndian.PutUint64(buf[17:25], r.LastLogTerm)
	return buf
}

// DeserializeAppendEntriesResult decodes AppendEntriesResult from bytes.
func DeserializeAppendEntriesResult(data []byte) (*AppendEntriesResult, error) {
	if len(data) < 25 {
		return nil, ErrLogCorrupted
	}
	return &AppendEntriesResult{
		Term:         binary.LittleEndian.Uint64(data[0:8]),
		Success:      data[8] == 1,
		LastLogIndex: binary.LittleEndian.Uint64(data[9:17]),
		LastLogTerm:  binary.LittleEndian.Uint64(data[17:25]),
	}, nil
}
