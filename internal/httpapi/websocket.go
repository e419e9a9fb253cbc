package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/finsight-lab/finsight/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secure via proxy in prod
}

// handleWS tails a session's event stream over a WebSocket. Each event is
// sent as one text message carrying the wire JSON.
// GET /stream/ws?session_id=<id>
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	var lastID uint64
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	metrics.ActiveStreams.WithLabelValues("websocket").Inc()
	defer metrics.ActiveStreams.WithLabelValues("websocket").Dec()

	ch := h.streams.Subscribe(sessionID, 256)
	defer h.streams.Unsubscribe(sessionID, ch)

	// Replay backlog
	if lastID > 0 {
		for _, evt := range h.streams.ReplaySince(sessionID, lastID) {
			if err := conn.WriteMessage(websocket.TextMessage, evt.Body); err != nil {
				return
			}
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// Reader pump: client messages are discarded, but reads drive pong
	// handling and surface closes.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, evt.Body); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}
