package rest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// mapNodeError maps a node error to HTTP status and error code.
func mapNodeError(err error) (int, string) {
	switch {
	case errors.Is(err, raft.ErrNodeStopped):
		return http.StatusServiceUnavailable, "node_stopped"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, raft.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Code:    status,
		Message: message,
	})
}

func writeNodeError(w http.ResponseWriter, err error) {
	status, code := mapNodeError(err)
	writeError(w, status, code, err.Error())
}
