package relay

import (
	"encoding/json"
	"net/http"
)

// GamePath is the prefix of the existence check route, GET /game/{gameID}.
const GamePath = "/game"

// HTTPHandler serves the plain HTTP endpoints next to the websocket relay.
type HTTPHandler struct {
	registry *Registry
}

func NewHTTPHandler(registry *Registry) *HTTPHandler {
	return &HTTPHandler{registry: registry}
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]string{"error": message})
}

// HandleGetGame is the handler for GET /game/{gameID}. It answers 200 when the
// game has connected participants and 404 otherwise.
func (h *HTTPHandler) HandleGetGame(w http.ResponseWriter, r *http.Request) {
	// The ID is read from the decoded path exactly like the websocket
	// handler does, so both sides agree on the registry key whatever
	// percent-encoding the client used.
	gameID, err := ParseGameID(r.URL.Path, GamePath)
	if err != nil || !h.registry.Exists(gameID) {
		h.writeError(w, http.StatusNotFound, "game not found")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.Stats())
}

func (h *HTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
