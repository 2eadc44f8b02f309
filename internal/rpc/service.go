package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// Full method names of the raft service.
const (
	serviceName         = "raftd.Raft"
	requestVoteMethod   = "/raftd.Raft/RequestVote"
	appendEntriesMethod = "/raftd.Raft/AppendEntries"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*raft.InboundHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftd/raft",
}

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.RequestVoteRPC)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := srv.(raft.InboundHandler)
	if interceptor == nil {
		return handler.HandleRequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: requestVoteMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return handler.HandleRequestVote(ctx, req.(*raft.RequestVoteRPC))
	})
}

func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.AppendEntriesRPC)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := srv.(raft.InboundHandler)
	if interceptor == nil {
		return handler.HandleAppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: appendEntriesMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return handler.HandleAppendEntries(ctx, req.(*raft.AppendEntriesRPC))
	})
}
