package api

import (
	"encoding/json"
	"net/http"

	"github.com/smartnetguru/Securecom-Messaging-Server/internal/model"
)

// HealthHandler reports liveness and basic channel state.
type HealthHandler struct {
	relayID string
	clients *model.ClientRegistry
}

// NewHealthHandler creates the health endpoint handler.
func NewHealthHandler(relayID string, clients *model.ClientRegistry) *HealthHandler {
	return &HealthHandler{relayID: relayID, clients: clients}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"relay_id":    h.relayID,
		"connections": h.clients.Count(),
	})
}
