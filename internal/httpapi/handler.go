// Package httpapi serves the public HTTP surface: the streaming ask
// endpoint plus SSE and WebSocket tails over a session's event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/streaming"
)

// TurnRunner runs one pipeline turn for a session.
type TurnRunner interface {
	ProcessTurn(ctx context.Context, sessionID, message string) (models.FinalPayload, error)
}

// Handler exposes the pipeline over HTTP.
type Handler struct {
	runner    TurnRunner
	streams   *streaming.Manager
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewHandler(runner TurnRunner, streams *streaming.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		runner:    runner,
		streams:   streams,
		logger:    logger,
		heartbeat: 15 * time.Second,
	}
}

// RegisterRoutes registers the public endpoints on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ask-session-stream", h.handleAsk)
	mux.HandleFunc("/stream/sse", h.handleSSE)
	mux.HandleFunc("/stream/ws", h.handleWS)
	mux.HandleFunc("/", h.handleRoot)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"service": "finsight",
		"status":  "running",
	})
}
