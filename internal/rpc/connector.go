package rpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// DefaultCallTimeout bounds calls whose context carries no deadline.
const DefaultCallTimeout = 5 * time.Second

var _ raft.Connector = (*GRPCConnector)(nil)

// GRPCConnector implements raft.Connector over gRPC. One client
// connection is kept per peer address and rebuilt once it shuts down.
type GRPCConnector struct {
	addr        string
	callTimeout time.Duration

	mu       deadlock.Mutex
	conns    map[string]*grpc.ClientConn
	server   *grpc.Server
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewGRPCConnector creates a connector that serves on addr once initialized.
func NewGRPCConnector(addr string) *GRPCConnector {
	return &GRPCConnector{
		addr:        addr,
		callTimeout: DefaultCallTimeout,
		conns:       make(map[string]*grpc.ClientConn),
	}
}

// SetCallTimeout sets the timeout applied to calls without a deadline.
func (c *GRPCConnector) SetCallTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callTimeout = d
}

// LocalAddr returns the address the server listens on.
func (c *GRPCConnector) LocalAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.addr
}

// Initialize starts the gRPC server with handler behind the raft service.
func (c *GRPCConnector) Initialize(handler raft.InboundHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return raft.ErrTransportClosed
	}
	if c.server != nil {
		return errors.New("rpc: connector already initialized")
	}

	listener, err := net.Listen("tcp", c.addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", c.addr)
	}

	server := grpc.NewServer()
	server.RegisterService(&serviceDesc, handler)
	c.server = server
	c.listener = listener

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		server.Serve(listener)
	}()
	return nil
}

// SendRequestVote sends a RequestVote RPC to peer.
func (c *GRPCConnector) SendRequestVote(ctx context.Context, peer raft.NodeEndpoint, rpc *raft.RequestVoteRPC) (*raft.RequestVoteResult, error) {
	result := new(raft.RequestVoteResult)
	if err := c.invoke(ctx, peer, requestVoteMethod, rpc, result); err != nil {
		return nil, &raft.ChannelError{Peer: peer.ID, Op: "request vote", Err: err}
	}
	return result, nil
}

// SendAppendEntries sends an AppendEntries RPC to peer.
func (c *GRPCConnector) SendAppendEntries(ctx context.Context, peer raft.NodeEndpoint, rpc *raft.AppendEntriesRPC) (*raft.AppendEntriesResult, error) {
	result := new(raft.AppendEntriesResult)
	if err := c.invoke(ctx, peer, appendEntriesMethod, rpc, result); err != nil {
		return nil, &raft.ChannelError{Peer: peer.ID, Op: "append entries", Err: err}
	}
	return result, nil
}

func (c *GRPCConnector) invoke(ctx context.Context, peer raft.NodeEndpoint, method string, in, out interface{}) error {
	conn, timeout, err := c.connFor(peer.Address)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(CodecName))
}

// connFor returns the cached connection to addr, replacing it when it
// has shut down.
func (c *GRPCConnector) connFor(addr string) (*grpc.ClientConn, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, 0, raft.ErrTransportClosed
	}
	if addr == "" {
		return nil, 0, raft.ErrConnectFailed
	}
	if conn, ok := c.conns[addr]; ok {
		if conn.GetState() != connectivity.Shutdown {
			return conn, c.callTimeout, nil
		}
		delete(c.conns, addr)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, 0, errors.Wrapf(raft.ErrConnectFailed, "dial %s: %v", addr, err)
	}
	c.conns[addr] = conn
	return conn, c.callTimeout, nil
}

// Close stops the server and closes every client connection.
func (c *GRPCConnector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	server := c.server
	conns := c.conns
	c.conns = make(map[string]*grpc.ClientConn)
	c.mu.Unlock()

	var first error
	for addr, conn := range conns {
		if err := conn.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close connection to %s", addr)
		}
	}
	if server != nil {
		server.Stop()
	}
	c.wg.Wait()
	return first
}
