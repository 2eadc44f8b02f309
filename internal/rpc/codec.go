// Package rpc carries raft RPCs over gRPC.
//
// Messages keep the binary layout of the raft package; they are framed by
// a gRPC codec registered as "raftbin" instead of protobuf, so no
// generated code is involved. The service is described by hand:
//
//	raftd.Raft/RequestVote    RequestVoteRPC   -> RequestVoteResult
//	raftd.Raft/AppendEntries  AppendEntriesRPC -> AppendEntriesResult
package rpc

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// CodecName is the gRPC content subtype of raft messages.
const CodecName = "raftbin"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec marshals raft messages with their own binary encoding.
type codec struct{}

func (codec) Name() string {
	return CodecName
}

func (codec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *raft.RequestVoteRPC:
		return m.Serialize(), nil
	case *raft.RequestVoteResult:
		return m.Serialize(), nil
	case *raft.AppendEntriesRPC:
		return m.Serialize(), nil
	case *raft.AppendEntriesResult:
		return m.Serialize(), nil
	default:
		return nil, errors.Errorf("rpc: cannot marshal %T", v)
	}
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *raft.RequestVoteRPC:
		decoded, err := raft.DeserializeRequestVoteRPC(data)
		if err != nil {
			return err
		}
		*m = *decoded
	case *raft.RequestVoteResult:
		decoded, err := raft.DeserializeRequestVoteResult(data)
		if err != nil {
			return err
		}
		*m = *decoded
	case *raft.AppendEntriesRPC:
		decoded, err := raft.DeserializeAppendEntriesRPC(data)
		if err != nil {
			return err
		}
		*m = *decoded
	case *raft.AppendEntriesResult:
		decoded, err := raft.DeserializeAppendEntriesResult(data)
		if err != nil {
			return err
		}
		*m = *decoded
	default:
		return errors.Errorf("rpc: cannot unmarshal into %T", v)
	}
	return nil
}
