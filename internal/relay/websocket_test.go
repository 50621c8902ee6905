package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "/ws/game"

type testServer struct {
	*httptest.Server
	registry *Registry
	relay    *Relay
}

func newTestServer(t *testing.T, origins ...string) *testServer {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	registry := NewRegistry()
	rl := NewRelay(registry, nil)
	ws := NewWebsocketHandler(rl, WebsocketConfig{
		PathPrefix:     testPrefix,
		AllowedOrigins: origins,
		ReadLimit:      4096,
		WriteWait:      time.Second,
		PongWait:       time.Minute,
	})
	srv := httptest.NewServer(NewRouter(testPrefix, ws, NewHTTPHandler(registry)))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, registry: registry, relay: rl}
}

func (s *testServer) dial(t *testing.T, gameID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + testPrefix + "/" + gameID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *testServer) waitForGroupSize(t *testing.T, gameID string, size int) {
	t.Helper()
	require.Eventually(t, func() bool {
		members, _ := s.registry.Lookup(gameID)
		return len(members) == size
	}, 2*time.Second, 5*time.Millisecond)
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

func TestParseGameID(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		prefix  string
		want    string
		wantErr bool
	}{
		{name: "plain id", path: "/ws/game/42", prefix: "/ws/game", want: "42"},
		{name: "prefix with trailing slash", path: "/ws/game/abc-def", prefix: "/ws/game/", want: "abc-def"},
		{name: "missing id", path: "/ws/game/", prefix: "/ws/game", wantErr: true},
		{name: "no separator", path: "/ws/game", prefix: "/ws/game", wantErr: true},
		{name: "nested path", path: "/ws/game/42/extra", prefix: "/ws/game", wantErr: true},
		{name: "other prefix", path: "/ws/lobby/42", prefix: "/ws/game", wantErr: true},
		{name: "glued to prefix", path: "/ws/game42", prefix: "/ws/game", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGameID(tt.path, tt.prefix)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGameID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebsocket_RelayScenario(t *testing.T) {
	srv := newTestServer(t)

	c1 := srv.dial(t, "42")
	srv.waitForGroupSize(t, "42", 1)
	c2 := srv.dial(t, "42")
	srv.waitForGroupSize(t, "42", 2)

	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte("fire:3,4")))
	assert.Equal(t, "fire:3,4", readText(t, c1))
	assert.Equal(t, "fire:3,4", readText(t, c2))

	require.NoError(t, c2.Close())
	srv.waitForGroupSize(t, "42", 1)

	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte("fire:5,5")))
	assert.Equal(t, "fire:5,5", readText(t, c1))

	require.NoError(t, c1.Close())
	require.Eventually(t, func() bool { return !srv.registry.Exists("42") }, 2*time.Second, 5*time.Millisecond)
}

func TestWebsocket_GamesAreIsolated(t *testing.T) {
	srv := newTestServer(t)

	a := srv.dial(t, "A")
	b := srv.dial(t, "B")
	srv.waitForGroupSize(t, "A", 1)
	srv.waitForGroupSize(t, "B", 1)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("only-a")))
	assert.Equal(t, "only-a", readText(t, a))

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte("only-b")))
	assert.Equal(t, "only-b", readText(t, b), "b must not see a's message first")
}

func TestWebsocket_RejectsMissingGameID(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + testPrefix + "/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
	}
	assert.Equal(t, Stats{}, srv.registry.Stats())
}

func TestWebsocket_RejectsDisallowedOrigin(t *testing.T) {
	srv := newTestServer(t, "http://game.example")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + testPrefix + "/42"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://game.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestWebsocket_BinaryFrameClosesConnection(t *testing.T) {
	srv := newTestServer(t)

	conn := srv.dial(t, "42")
	srv.waitForGroupSize(t, "42", 1)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "got %v", err)

	require.Eventually(t, func() bool { return !srv.registry.Exists("42") }, 2*time.Second, 5*time.Millisecond)
}

func TestHTTPHandler_GameExistence(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/game/42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn := srv.dial(t, "42")
	srv.waitForGroupSize(t, "42", 1)

	resp, err = http.Get(srv.URL + "/game/42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn.Close()
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/game/42")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocket_EncodedGameIDSharesRegistryKey(t *testing.T) {
	srv := newTestServer(t)

	conn := srv.dial(t, "a%41")
	srv.waitForGroupSize(t, "aA", 1)

	for _, path := range []string{"/game/aA", "/game/a%41"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
	conn.Close()
}

func TestWebsocket_ConnectionsAfterShutdownAreRefused(t *testing.T) {
	srv := newTestServer(t)
	existing := srv.dial(t, "42")
	srv.waitForGroupSize(t, "42", 1)

	srv.relay.Shutdown()

	existing.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := existing.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	late := srv.dial(t, "42")
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.False(t, srv.registry.Exists("42"))
}
