// Package rest provides a read-only HTTP API for inspecting a raft node.
//
// # Endpoints
//
//	GET /api/v1/health - Liveness, 503 once the node has halted
//	GET /api/v1/status - Role, term, leader and log indexes
//	GET /api/v1/peers  - Group members and their replication progress
//
// Every response is JSON. Errors use a common body:
//
//	{"error": "node_stopped", "code": 503, "message": "raft: node stopped"}
//
// Each request is given an ID that is logged with it and returned in the
// X-Request-ID header. A request that already carries the header keeps it.
//
// # Example Usage
//
//	curl http://localhost:8080/api/v1/status
package rest
