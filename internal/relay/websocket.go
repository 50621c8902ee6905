package relay

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketConfig tunes the websocket transport.
type WebsocketConfig struct {
	PathPrefix     string
	AllowedOrigins []string
	ReadLimit      int64
	WriteWait      time.Duration
	PongWait       time.Duration
}

// ParseGameID extracts the game ID from a request path of the form
// "<prefix>/<gameID>". The ID is the single remaining path segment.
func ParseGameID(path, prefix string) (string, error) {
	rest, ok := strings.CutPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", ErrInvalidGameID
	}
	return rest, nil
}

// WebsocketHandler accepts game connections and feeds their lifecycle into a Relay.
type WebsocketHandler struct {
	relay    *Relay
	cfg      WebsocketConfig
	upgrader websocket.Upgrader
}

func NewWebsocketHandler(relay *Relay, cfg WebsocketConfig) *WebsocketHandler {
	h := &WebsocketHandler{relay: relay, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebsocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeHTTP is the entry point for a game connection. It validates the game ID,
// upgrades the request and then blocks for the lifetime of the connection.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The game ID is the single path segment after the configured prefix.
	// It is taken from the decoded path, the same source the existence check
	// uses, and is stored on the participant once. A request without one is
	// rejected while it is still plain HTTP so nothing gets registered under
	// an empty key.
	gameID, err := ParseGameID(r.URL.Path, h.cfg.PathPrefix)
	if err != nil {
		slog.Warn("Rejecting websocket request without game ID", "path", r.URL.Path)
		http.Error(w, "Game ID is required", http.StatusBadRequest)
		return
	}

	// Upgrade the HTTP connection to a WebSocket connection. On failure the
	// upgrader has already written an HTTP error response (e.g. 403 for a
	// disallowed origin).
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "gameID", gameID, "error", err)
		return
	}

	// Register the participant before reading anything, so that the first
	// message it sends is already relayed to its own group. Open only fails
	// once the relay is shutting down; the peer is told to go away.
	p := NewParticipant(gameID, conn, h.cfg.WriteWait)
	if err := h.relay.Open(p); err != nil {
		slog.Warn("Refusing participant", "gameID", gameID, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	// handleConnection runs until the peer disconnects or the transport fails.
	h.handleConnection(conn, p)
}

// handleConnection is the read pump for a single participant.
func (h *WebsocketHandler) handleConnection(conn *websocket.Conn, p *Participant) {
	// Whatever ends the loop (peer close, read deadline, write failure that
	// closed the transport, shutdown), the deferred cleanup reports the close
	// to the relay, which deregisters the participant and drops the game once
	// it is empty.
	stopPing := make(chan struct{})
	defer func() {
		close(stopPing)
		h.relay.Close(p)
		conn.Close()
	}()

	// Oversized frames fail the read and end the connection.
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}
	// A peer that neither sends nor answers pings within PongWait is
	// considered dead. Every pong pushes the deadline forward.
	if h.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
			return nil
		})
		go h.pingLoop(conn, stopPing)
	}

	// gorilla allows a single concurrent reader, and this loop is it. Each
	// text frame is handed to the relay as is; broadcasting happens on this
	// goroutine, and per-target write locks keep concurrent broadcasts from
	// other participants from interleaving on the same connection.
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Warn("WebSocket connection closed unexpectedly", "gameID", p.GameID(), "participantID", p.ID(), "error", err)
			}
			return
		}
		// Only text payloads are relayed. A binary frame ends the connection
		// with 1003 (unsupported data) instead of being forwarded.
		if messageType != websocket.TextMessage {
			slog.Warn("Closing connection that sent a non-text frame", "gameID", p.GameID(), "participantID", p.ID())
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "text messages only"),
				time.Now().Add(time.Second))
			return
		}
		h.relay.Receive(p, payload)
	}
}

// pingLoop keeps the read deadline alive. WriteControl is safe to call
// concurrently with the participant's own writes.
func (h *WebsocketHandler) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait())); err != nil {
				return
			}
		}
	}
}

func (h *WebsocketHandler) writeWait() time.Duration {
	if h.cfg.WriteWait > 0 {
		return h.cfg.WriteWait
	}
	return 10 * time.Second
}
