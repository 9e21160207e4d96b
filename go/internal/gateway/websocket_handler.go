package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler serves the UI event stream.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleEvents upgrades GET /ws/events to a stream of game events.
func (h *WebSocketHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "anonymous"
	}

	// On failure the upgrader has already answered the request.
	if err := h.connectionManager.UpgradeConnection(w, r, clientID); err != nil {
		log.Error().
			Err(err).
			Str("client_id", clientID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats reports how many UI clients are connected.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{
		"total_connections": h.connectionManager.ConnectionCount(),
	})
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/events", h.HandleEvents)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
