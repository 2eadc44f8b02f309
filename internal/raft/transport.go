package raft

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

// Connector sends RPCs to peers and delivers inbound RPCs to the node.
type Connector interface {
	// Initialize starts accepting inbound RPCs and hands them to handler.
	Initialize(handler InboundHandler) error
	SendRequestVote(ctx context.Context, peer NodeEndpoint, rpc *RequestVoteRPC) (*RequestVoteResult, error)
	SendAppendEntries(ctx context.Context, peer NodeEndpoint, rpc *AppendEntriesRPC) (*AppendEntriesResult, error)
	Close() error
}

// InboundHandler processes RPCs received from peers.
type InboundHandler interface {
	HandleRequestVote(ctx context.Context, rpc *RequestVoteRPC) (*RequestVoteResult, error)
	HandleAppendEntries(ctx context.Context, rpc *AppendEntriesRPC) (*AppendEntriesResult, error)
}

// ChannelError is a failure to exchange an RPC with a peer.
type ChannelError struct {
	Peer NodeID
	Op   string
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("raft: %s to %s: %v", e.Op, e.Peer, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// rpcRejected marks a response frame whose request the receiver refused.
const rpcRejected uint8 = 0xFF

// maxFrameSize bounds the payload of a single frame.
const maxFrameSize = 64 * 1024 * 1024

// exchangeFunc sends one request frame and returns the response payload.
type exchangeFunc func(ctx context.Context, peer NodeEndpoint, msgType uint8, data []byte) ([]byte, error)

func sendRequestVote(ctx context.Context, exchange exchangeFunc, peer NodeEndpoint, rpc *RequestVoteRPC) (*RequestVoteResult, error) {
	resp, err := exchange(ctx, peer, RPCRequestVote, rpc.Serialize())
	if err != nil {
		return nil, &ChannelError{Peer: peer.ID, Op: "request vote", Err: err}
	}
	result, err := DeserializeRequestVoteResult(resp)
	if err != nil {
		return nil, &ChannelError{Peer: peer.ID, Op: "request vote", Err: err}
	}
	return result, nil
}

func sendAppendEntries(ctx context.Context, exchange exchangeFunc, peer NodeEndpoint, rpc *AppendEntriesRPC) (*AppendEntriesResult, error) {
	resp, err := exchange(ctx, peer, RPCAppendEntries, rpc.Serialize())
	if err != nil {
		return nil, &ChannelError{Peer: peer.ID, Op: "append entries", Err: err}
	}
	result, err := DeserializeAppendEntriesResult(resp)
	if err != nil {
		return nil, &ChannelError{Peer: peer.ID, Op: "append entries", Err: err}
	}
	return result, nil
}

// dispatchInbound decodes a request frame, hands it to handler and encodes
// the reply. Undecodable frames are refused without reaching the handler.
func dispatchInbound(ctx context.Context, handler InboundHandler, msgType uint8, data []byte) ([]byte, error) {
	switch msgType {
	case RPCRequestVote:
		rpc, err := DeserializeRequestVoteRPC(data)
		if err != nil {
			return nil, err
		}
		result, err := handler.HandleRequestVote(ctx, rpc)
		if err != nil {
			return nil, err
		}
		return result.Serialize(), nil
	case RPCAppendEntries:
		rpc, err := DeserializeAppendEntriesRPC(data)
		if err != nil {
			return nil, err
		}
		result, err := handler.HandleAppendEntries(ctx, rpc)
		if err != nil {
			return nil, err
		}
		return result.Serialize(), nil
	default:
		return nil, errors.Errorf("raft: unknown message type %d", msgType)
	}
}

// TCPConnector implements Connector over TCP.
// Message format: [type:1][length:4][data:N]
type TCPConnector struct {
	addr     string
	listener net.Listener
	conns    map[string]*tcpConn // address -> connection
	handler  InboundHandler
	timeout  time.Duration
	closed   bool
	mu       deadlock.RWMutex
	wg       sync.WaitGroup
}

// tcpConn serializes request/response exchanges on one connection. Its
// lock is held for a whole network round trip.
type tcpConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewTCPConnector creates a new TCP connector listening on addr.
func NewTCPConnector(addr string) *TCPConnector {
	return &TCPConnector{
		addr:    addr,
		conns:   make(map[string]*tcpConn),
		timeout: 5 * time.Second,
	}
}

// SetTimeout sets the connection timeout.
func (t *TCPConnector) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// LocalAddr returns the address the connector listens on.
func (t *TCPConnector) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Initialize starts accepting connections and handling RPCs.
func (t *TCPConnector) Initialize(handler InboundHandler) error {
	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = listener
	t.handler = handler
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop()

	return nil
}

// SendRequestVote sends a RequestVote RPC to peer.
func (t *TCPConnector) SendRequestVote(ctx context.Context, peer NodeEndpoint, rpc *RequestVoteRPC) (*RequestVoteResult, error) {
	return sendRequestVote(ctx, t.exchange, peer, rpc)
}

// SendAppendEntries sends an AppendEntries RPC to peer.
func (t *TCPConnector) SendAppendEntries(ctx context.Context, peer NodeEndpoint, rpc *AppendEntriesRPC) (*AppendEntriesResult, error) {
	return sendAppendEntries(ctx, t.exchange, peer, rpc)
}

func (t *TCPConnector) exchange(ctx context.Context, peer NodeEndpoint, msgType uint8, data []byte) ([]byte, error) {
	conn, timeout, err := t.connFor(peer.Address)
	if err != nil {
		return nil, err
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.conn.SetDeadline(deadline)

	header := make([]byte, 5)
	header[0] = msgType
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(data)))

	if _, err := conn.conn.Write(header); err != nil {
		t.removeConn(peer.Address, conn)
		return nil, err
	}
	if _, err := conn.conn.Write(data); err != nil {
		t.removeConn(peer.Address, conn)
		return nil, err
	}

	respHeader := make([]byte, 5)
	if _, err := io.ReadFull(conn.conn, respHeader); err != nil {
		t.removeConn(peer.Address, conn)
		return nil, err
	}

	respLen := binary.LittleEndian.Uint32(respHeader[1:5])
	if respLen > maxFrameSize {
		t.removeConn(peer.Address, conn)
		return nil, ErrLogCorrupted
	}
	respData := make([]byte, respLen)
	if respLen > 0 {
		if _, err := io.ReadFull(conn.conn, respData); err != nil {
			t.removeConn(peer.Address, conn)
			return nil, err
		}
	}
	if respHeader[0] == rpcRejected {
		return nil, errors.Errorf("raft: request refused by %s", peer.Address)
	}

	return respData, nil
}

func (t *TCPConnector) connFor(addr string) (*tcpConn, time.Duration, error) {
	if addr == "" {
		return nil, 0, ErrConnectFailed
	}

	t.mu.RLock()
	closed, timeout := t.closed, t.timeout
	conn, ok := t.conns[addr]
	t.mu.RUnlock()
	if closed {
		return nil, 0, ErrTransportClosed
	}
	if ok {
		return conn, timeout, nil
	}

	// Dial unlocked; sends to other peers must not queue behind it.
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		c.Close()
		return nil, 0, ErrTransportClosed
	}
	if existing, ok := t.conns[addr]; ok {
		c.Close()
		return existing, t.timeout, nil
	}
	conn = &tcpConn{conn: c}
	t.conns[addr] = conn
	return conn, t.timeout, nil
}

func (t *TCPConnector) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			continue
		}

		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCPConnector) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	for {
		t.mu.RLock()
		closed := t.closed
		handler := t.handler
		timeout := t.timeout
		t.mu.RUnlock()
		if closed {
			return
		}

		conn.SetReadDeadline(time.Now().Add(timeout * 2))

		header := make([]byte, 5)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		msgType := header[0]
		dataLen := binary.LittleEndian.Uint32(header[1:5])

		// Sanity check: prevent allocation of unreasonably large buffers
		if dataLen > maxFrameSize {
			return
		}

		data := make([]byte, dataLen)
		if dataLen > 0 {
			if _, err := io.ReadFull(conn, data); err != nil {
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		resp, err := dispatchInbound(ctx, handler, msgType, data)
		cancel()
		if err != nil {
			msgType = rpcRejected
			resp = nil
		}

		respHeader := make([]byte, 5)
		respHeader[0] = msgType
		binary.LittleEndian.PutUint32(respHeader[1:5], uint32(len(resp)))

		conn.SetWriteDeadline(time.Now().Add(timeout))
		if _, err := conn.Write(respHeader); err != nil {
			return
		}
		if len(resp) > 0 {
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
	}
}

func (t *TCPConnector) removeConn(addr string, conn *tcpConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.conns[addr]; ok && current == conn {
		delete(t.conns, addr)
	}
	conn.conn.Close()
}

// Close shuts down the connector.
func (t *TCPConnector) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener := t.listener
	for _, conn := range t.conns {
		conn.conn.Close()
	}
	t.conns = make(map[string]*tcpConn)
	t.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	t.wg.Wait()

	return nil
}

// InMemoryNetwork simulates a network for testing. Links between nodes
// can be cut in either direction.
type InMemoryNetwork struct {
	connectors map[NodeID]*InMemoryConnector
	cut        map[link]struct{}
	mu         deadlock.RWMutex
}

type link struct {
	from, to NodeID
}

// NewInMemoryNetwork creates a new in-memory network.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{
		connectors: make(map[NodeID]*InMemoryConnector),
		cut:        make(map[link]struct{}),
	}
}

// NewConnector creates a new in-memory connector for a node.
func (n *InMemoryNetwork) NewConnector(id NodeID) *InMemoryConnector {
	c := &InMemoryConnector{
		id:      id,
		network: n,
	}

	n.mu.Lock()
	n.connectors[id] = c
	n.mu.Unlock()

	return c
}

// Disconnect cuts the link between a and b in both directions.
func (n *InMemoryNetwork) Disconnect(a, b NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[link{a, b}] = struct{}{}
	n.cut[link{b, a}] = struct{}{}
}

// DisconnectOneWay drops messages from a to b only.
func (n *InMemoryNetwork) DisconnectOneWay(from, to NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[link{from, to}] = struct{}{}
}

// Connect restores the link between a and b.
func (n *InMemoryNetwork) Connect(a, b NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cut, link{a, b})
	delete(n.cut, link{b, a})
}

// Isolate cuts id off from every other registered node.
func (n *InMemoryNetwork) Isolate(id NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for other := range n.connectors {
		if other != id {
			n.cut[link{id, other}] = struct{}{}
			n.cut[link{other, id}] = struct{}{}
		}
	}
}

// Heal restores every link.
func (n *InMemoryNetwork) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut = make(map[link]struct{})
}

func (n *InMemoryNetwork) reachable(from, to NodeID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, cut := n.cut[link{from, to}]
	return !cut
}

func (n *InMemoryNetwork) connector(id NodeID) (*InMemoryConnector, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.connectors[id]
	return c, ok
}

// InMemoryConnector implements Connector for testing. Messages are passed
// through the binary codecs so receivers never share memory with senders.
type InMemoryConnector struct {
	id      NodeID
	network *InMemoryNetwork
	handler InboundHandler
	closed  bool
	mu      deadlock.RWMutex
}

// Initialize registers the handler for inbound RPCs.
func (c *InMemoryConnector) Initialize(handler InboundHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return nil
}

// SendRequestVote sends a RequestVote RPC to peer.
func (c *InMemoryConnector) SendRequestVote(ctx context.Context, peer NodeEndpoint, rpc *RequestVoteRPC) (*RequestVoteResult, error) {
	return sendRequestVote(ctx, c.exchange, peer, rpc)
}

// SendAppendEntries sends an AppendEntries RPC to peer.
func (c *InMemoryConnector) SendAppendEntries(ctx context.Context, peer NodeEndpoint, rpc *AppendEntriesRPC) (*AppendEntriesResult, error) {
	return sendAppendEntries(ctx, c.exchange, peer, rpc)
}

func (c *InMemoryConnector) exchange(ctx context.Context, peer NodeEndpoint, msgType uint8, data []byte) ([]byte, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrTransportClosed
	}

	if !c.network.reachable(c.id, peer.ID) {
		return nil, ErrConnectFailed
	}
	remote, ok := c.network.connector(peer.ID)
	if !ok {
		return nil, ErrConnectFailed
	}

	remote.mu.RLock()
	handler := remote.handler
	remoteClosed := remote.closed
	remote.mu.RUnlock()
	if remoteClosed || handler == nil {
		return nil, ErrConnectFailed
	}

	resp, err := dispatchInbound(ctx, handler, msgType, data)
	if err != nil {
		return nil, err
	}

	// The reply travels back over the reverse link.
	if !c.network.reachable(peer.ID, c.id) {
		return nil, ErrConnectFailed
	}
	return resp, nil
}

// Close shuts down the connector.
func (c *InMemoryConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.handler = nil
	return nil
}
