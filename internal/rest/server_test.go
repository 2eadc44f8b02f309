package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/raftd/internal/logging"
	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

type fakeNode struct {
	status   raft.Status
	err      error
	done     chan struct{}
	peers    []raft.PeerStatus
	peersErr error
	panics   bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		status: raft.Status{ID: "n1", Role: raft.RoleLeader, RoleName: "leader", LeaderID: "n1", Term: 3, CommitIndex: 5, LastIndex: 6},
		done:   make(chan struct{}),
		peers: []raft.PeerStatus{
			{ID: "n1", Address: "127.0.0.1:7001", Voting: true, Self: true},
			{ID: "n2", Address: "127.0.0.1:7002", Voting: true, NextIndex: 7, MatchIndex: 6},
		},
	}
}

func (n *fakeNode) Status() raft.Status   { return n.status }
func (n *fakeNode) Err() error            { return n.err }
func (n *fakeNode) Done() <-chan struct{} { return n.done }

func (n *fakeNode) Peers(ctx context.Context) ([]raft.PeerStatus, error) {
	if n.panics {
		panic("peers exploded")
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("peers called without a deadline")
	}
	return n.peers, n.peersErr
}

func newTestServer(node NodeView, buf *bytes.Buffer) *Server {
	logger := logging.NewWithWriter(logging.LevelDebug, logging.FormatJSON, buf)
	return NewServer(DefaultServerConfig(), node, logger)
}

func do(t *testing.T, s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestHandleStatus(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(newFakeNode(), &buf)

	rec := do(t, s, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	decode(t, rec, &body)
	if body["role"] != "leader" || body["leaderId"] != "n1" || body["term"] != float64(3) || body["isLeader"] != true {
		t.Errorf("Unexpected status body: %v", body)
	}
	if _, ok := body["Role"]; ok {
		t.Error("Numeric role should not be serialized")
	}
}

func TestHandlePeers(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(newFakeNode(), &buf)

	rec := do(t, s, http.MethodGet, "/api/v1/peers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body PeersResponse
	decode(t, rec, &body)
	if body.Total != 2 || len(body.Peers) != 2 {
		t.Fatalf("Expected 2 peers, got %+v", body)
	}
	if p := body.Peers[1]; p.ID != "n2" || p.NextIndex != 7 || p.MatchIndex != 6 {
		t.Errorf("Unexpected peer: %+v", p)
	}
}

func TestHandlePeersErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"stopped", raft.ErrNodeStopped, http.StatusServiceUnavailable, "node_stopped"},
		{"timeout", errors.Wrap(context.DeadlineExceeded, "peers"), http.StatusGatewayTimeout, "timeout"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode()
			node.peersErr = tt.err
			var buf bytes.Buffer
			rec := do(t, newTestServer(node, &buf), http.MethodGet, "/api/v1/peers", nil)

			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
			var body ErrorResponse
			decode(t, rec, &body)
			if body.Error != tt.code || body.Code != tt.status {
				t.Errorf("Unexpected error body: %+v", body)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	node := newFakeNode()
	var buf bytes.Buffer
	s := newTestServer(node, &buf)

	rec := do(t, s, http.MethodGet, "/api/v1/health", nil)
	var body HealthResponse
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body.Status != "ok" {
		t.Errorf("Expected healthy node, got %d %+v", rec.Code, body)
	}

	node.err = errors.Wrap(raft.ErrPersistFailed, "disk full")
	rec = do(t, s, http.MethodGet, "/api/v1/health", nil)
	body = HealthResponse{}
	decode(t, rec, &body)
	if rec.Code != http.StatusServiceUnavailable || body.Status != "stopped" || !strings.Contains(body.Error, "disk full") {
		t.Errorf("Expected halted node, got %d %+v", rec.Code, body)
	}
}

func TestHandleHealthAfterStop(t *testing.T) {
	node := newFakeNode()
	close(node.done)
	var buf bytes.Buffer

	rec := do(t, newTestServer(node, &buf), http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 once stopped, got %d", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(newFakeNode(), &buf)

	rec := do(t, s, http.MethodGet, "/api/v1/status", nil)
	generated := rec.Header().Get(RequestIDHeader)
	if generated == "" {
		t.Fatal("Expected a generated request id")
	}
	if !strings.Contains(buf.String(), generated) {
		t.Errorf("Request id %s missing from log: %s", generated, buf.String())
	}

	rec = do(t, s, http.MethodGet, "/api/v1/status", http.Header{RequestIDHeader: {"client-id"}})
	if got := rec.Header().Get(RequestIDHeader); got != "client-id" {
		t.Errorf("Expected the client's request id to be kept, got %q", got)
	}
	if !strings.Contains(buf.String(), `"request_id":"client-id"`) {
		t.Errorf("Client request id missing from log: %s", buf.String())
	}
}

func TestRecovery(t *testing.T) {
	node := newFakeNode()
	node.panics = true
	var buf bytes.Buffer

	rec := do(t, newTestServer(node, &buf), http.MethodGet, "/api/v1/peers", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("Expected panic to be logged: %s", buf.String())
	}
}

func TestRouting(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(newFakeNode(), &buf)

	tests := []struct {
		method string
		path   string
		status int
		code   string
	}{
		{http.MethodGet, "/api/v1/entries", http.StatusNotFound, "not_found"},
		{http.MethodGet, "/metrics", http.StatusNotFound, "not_found"},
		{http.MethodPost, "/api/v1/status", http.StatusMethodNotAllowed, "method_not_allowed"},
		{http.MethodDelete, "/api/v1/peers", http.StatusMethodNotAllowed, "method_not_allowed"},
		{http.MethodPut, "/api/v1/health", http.StatusMethodNotAllowed, "method_not_allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, nil)
			if rec.Code != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, rec.Code)
			}
			var body ErrorResponse
			decode(t, rec, &body)
			if body.Error != tt.code || body.Code != tt.status {
				t.Errorf("Expected %s/%d, got %s/%d", tt.code, tt.status, body.Error, body.Code)
			}
		})
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	s := NewServer(cfg, newFakeNode(), logging.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
