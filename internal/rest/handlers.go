package rest

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/atomic"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// Version is reported by the health endpoint.
var Version = "dev"

// NodeView is the part of a raft node the API reads.
type NodeView interface {
	Status() raft.Status
	Err() error
	Done() <-chan struct{}
	Peers(ctx context.Context) ([]raft.PeerStatus, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	node         NodeView
	queryTimeout time.Duration
	startTime    time.Time
	requestCount *atomic.Int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(node NodeView, queryTimeout time.Duration) *Handlers {
	return &Handlers{
		node:         node,
		queryTimeout: queryTimeout,
		startTime:    time.Now(),
		requestCount: atomic.NewInt64(0),
	}
}

// HandleHealth handles GET /api/v1/health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	resp := HealthResponse{
		Status:     "ok",
		Version:    Version,
		Uptime:     uptime.String(),
		UptimeSecs: int64(uptime.Seconds()),
		StartTime:  h.startTime,
		Requests:   h.requestCount.Load(),
	}

	status := http.StatusOK
	select {
	case <-h.node.Done():
		resp.Status = "stopped"
		status = http.StatusServiceUnavailable
	default:
	}
	if err := h.node.Err(); err != nil {
		resp.Status = "stopped"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// HandleStatus handles GET /api/v1/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.requestCount.Inc()

	status := h.node.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:   status,
		IsLeader: status.Role == raft.RoleLeader,
	})
}

// HandlePeers handles GET /api/v1/peers
func (h *Handlers) HandlePeers(w http.ResponseWriter, r *http.Request) {
	h.requestCount.Inc()

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	peers, err := h.node.Peers(ctx)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	if peers == nil {
		peers = []raft.PeerStatus{}
	}
	writeJSON(w, http.StatusOK, PeersResponse{Peers: peers, Total: len(peers)})
}
