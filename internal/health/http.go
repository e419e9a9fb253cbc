package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves the probe endpoints backed by a Manager.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the probe endpoints on mux. /healthz and /readyz
// follow the usual k8s probe contract; /health/detailed is for operators.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.probe("alive", func(o OverallHealth) bool { return o.Live }))
	mux.HandleFunc("/readyz", h.probe("ready", func(o OverallHealth) bool { return o.Ready }))
	mux.HandleFunc("/health/detailed", h.handleDetailed)
}

// probe builds a GET handler reporting one facet of overall health as
// 200 or 503.
func (h *HTTPHandler) probe(facet string, pass func(OverallHealth) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			h.respond(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
			return
		}
		overall := h.manager.GetOverallHealth(r.Context())
		ok := pass(overall)
		status, code := facet, http.StatusOK
		if !ok {
			status, code = "not "+facet, http.StatusServiceUnavailable
		}
		h.respond(w, code, map[string]interface{}{
			"status":    status,
			"ok":        ok,
			"timestamp": time.Now().Unix(),
		})
	}
}

func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respond(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
		return
	}
	detailed := h.manager.GetDetailedHealth(r.Context())
	code := http.StatusOK
	if !detailed.Overall.Ready {
		code = http.StatusServiceUnavailable
	}
	h.respond(w, code, detailed)
}

func (h *HTTPHandler) respond(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
