package rest

import (
	"time"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Uptime     string    `json:"uptime"`
	UptimeSecs int64     `json:"uptimeSecs"`
	StartTime  time.Time `json:"startTime"`
	Requests   int64     `json:"requests"`
	Error      string    `json:"error,omitempty"`
}

// StatusResponse wraps the node status.
type StatusResponse struct {
	raft.Status
	IsLeader bool `json:"isLeader"`
}

// PeersResponse lists group members.
type PeersResponse struct {
	Peers []raft.PeerStatus `json:"peers"`
	Total int               `json:"total"`
}
