package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-lab/finsight/internal/metrics"
	"github.com/finsight-lab/finsight/internal/streaming"
)

type askRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleAsk runs one pipeline turn and streams its step events as SSE. The
// response ends after the done (or error) event; the session handle comes
// back in the X-Session-ID header so follow-ups can reuse it.
// POST /ask-session-stream {"session_id": "...", "message": "..."}
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		http.Error(w, `{"error":"message required"}`, http.StatusBadRequest)
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// CORS (dev-friendly)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID")
	w.Header().Set("X-Session-ID", sessionID)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	metrics.ActiveStreams.WithLabelValues("sse").Inc()
	defer metrics.ActiveStreams.WithLabelValues("sse").Dec()

	// Subscribe before the run starts so no step event is missed.
	ch := h.streams.Subscribe(sessionID, 256)
	defer h.streams.Unsubscribe(sessionID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", sessionID)
	flusher.Flush()

	// The run is detached from the request context: a dropped client must
	// not cancel the turn, so the session still records the answer.
	runCtx := context.WithoutCancel(r.Context())
	runDone := make(chan error, 1)
	go func() {
		_, err := h.runner.ProcessTurn(runCtx, sessionID, message)
		runDone <- err
	}()

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Ask client disconnected", zap.String("session_id", sessionID))
			return
		case evt := <-ch:
			writeSSE(w, evt)
			flusher.Flush()
			if evt.Type == streaming.EventDone || evt.Type == streaming.EventError {
				return
			}
		case err := <-runDone:
			// The terminal event is already in the channel (or was dropped
			// for a slow reader); keep draining until it arrives.
			if err != nil {
				h.logger.Error("Pipeline turn failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
