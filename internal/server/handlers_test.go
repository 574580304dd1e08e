package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/mycord/internal/history"
	"github.com/Tyrowin/mycord/internal/protocol"
)

// TestHealthHandler verifies that the health endpoint reports the number of
// connected users for any method.
func TestHealthHandler(t *testing.T) {
	srv := NewServer(testConfig(), nil)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := httptest.NewRequest(method, "/", http.NoBody)
		rr := httptest.NewRecorder()

		srv.HealthHandler(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("%s: handler returned wrong status code: got %v want %v", method, rr.Code, http.StatusOK)
		}
		expected := "mycord server is running! 0 user(s) connected."
		if rr.Body.String() != expected {
			t.Errorf("%s: handler returned unexpected body: got %q want %q", method, rr.Body.String(), expected)
		}
	}
}

// TestWebSocketHandlerMethodValidation verifies that only GET requests reach
// the upgrader.
func TestWebSocketHandlerMethodValidation(t *testing.T) {
	srv := NewServer(testConfig(), nil)

	tests := []struct {
		method         string
		expectedStatus int
	}{
		{http.MethodPost, http.StatusMethodNotAllowed},
		{http.MethodPut, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
		{http.MethodGet, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ws", http.NoBody)
			rr := httptest.NewRecorder()

			srv.WebSocketHandler(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
		})
	}
}

// TestCreateServer verifies the address, handler and timeout settings.
func TestCreateServer(t *testing.T) {
	mux := SetupRoutes(NewServer(testConfig(), nil))
	s := CreateServer(":8081", mux)

	if s.Addr != ":8081" {
		t.Errorf("Expected server addr :8081, got %s", s.Addr)
	}
	if s.Handler != mux {
		t.Error("Server handler not set correctly")
	}
	if s.ReadTimeout != 15*time.Second || s.WriteTimeout != 15*time.Second || s.IdleTimeout != 60*time.Second {
		t.Errorf("unexpected timeouts: read=%v write=%v idle=%v", s.ReadTimeout, s.WriteTimeout, s.IdleTimeout)
	}
}

func startHTTP(t *testing.T, cfg *Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(cfg, history.NewMemory())
	ts := httptest.NewServer(SetupRoutes(srv))
	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
		ts.Close()
	})
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if ws != nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	return ws, resp, err
}

func wsSend(t *testing.T, ws *websocket.Conn, kind protocol.Kind, username, body string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, protocol.Encode(protocol.NewMessage(kind, username, body))))
}

func wsRecv(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(recvTimeout)))
	mt, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	m, err := protocol.Decode(data)
	require.NoError(t, err)
	return m
}

func TestWebSocketSession(t *testing.T) {
	cfg := testConfig()
	srv, ts := startHTTP(t, cfg)

	alice, _, err := dialWS(t, ts, "")
	require.NoError(t, err)
	wsSend(t, alice, protocol.KindLogin, "alice", "")
	assert.Equal(t, loggedInText("alice"), wsRecv(t, alice).Body)
	assert.Equal(t, welcomeText(1), wsRecv(t, alice).Body)

	bob, _, err := dialWS(t, ts, "http://localhost:8081")
	require.NoError(t, err)
	wsSend(t, bob, protocol.KindLogin, "bob", "")
	assert.Equal(t, loggedInText("bob"), wsRecv(t, bob).Body)
	assert.Equal(t, welcomeText(2), wsRecv(t, bob).Body)
	assert.Equal(t, loggedInText("bob"), wsRecv(t, alice).Body)

	wsSend(t, alice, protocol.KindMessageSend, "alice", "over websocket")
	m := wsRecv(t, bob)
	assert.Equal(t, protocol.KindMessageRecv, m.Kind)
	assert.Equal(t, "alice", m.Username)
	assert.Equal(t, "over websocket", m.Body)

	wsSend(t, alice, protocol.KindLogout, "alice", "")
	assert.Equal(t, disconnectedText("alice"), wsRecv(t, bob).Body)
	assert.Equal(t, []string{"bob"}, srv.Hub().Usernames())
}

func TestWebSocketSplitFrame(t *testing.T) {
	_, ts := startHTTP(t, testConfig())

	ws, _, err := dialWS(t, ts, "")
	require.NoError(t, err)

	frame := protocol.Encode(protocol.NewMessage(protocol.KindLogin, "alice", ""))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame[:100]))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame[100:]))

	assert.Equal(t, loggedInText("alice"), wsRecv(t, ws).Body)
}

func TestWebSocketOriginValidation(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://chat.example"}
	_, ts := startHTTP(t, cfg)

	_, resp, err := dialWS(t, ts, "https://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := dialWS(t, ts, "HTTPS://Chat.Example")
	require.NoError(t, err)
	assert.NotNil(t, ws)
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"https://a.example"}, "", true},
		{"listed origin", []string{"https://a.example"}, "https://a.example", true},
		{"case insensitive", []string{"https://A.example"}, "https://a.EXAMPLE", true},
		{"other origin", []string{"https://a.example"}, "https://b.example", false},
		{"scheme mismatch", []string{"https://a.example"}, "http://a.example", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"invalid configured origin", []string{"not-a-url"}, "https://a.example", false},
		{"empty allow list", nil, "https://a.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.check(req))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, ts := startHTTP(t, testConfig())

	ws, _, err := dialWS(t, ts, "")
	require.NoError(t, err)
	wsSend(t, ws, protocol.KindLogin, "alice", "")
	wsRecv(t, ws)
	wsRecv(t, ws)

	m := srv.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	wsSend(t, ws, protocol.KindLogout, "alice", "")
	waitFor(t, func() bool { return testutil.ToFloat64(m.ActiveSessions) == 0 })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects.WithLabelValues("logout")))
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.Broadcasts.Add(3)
	m.HistoryFailureHook()(assert.AnError)

	expected := `
# HELP mycord_broadcasts_total Chat messages broadcast to the room.
# TYPE mycord_broadcasts_total counter
mycord_broadcasts_total 3
# HELP mycord_history_append_failures_total History entries that could not be written to the backing file.
# TYPE mycord_history_append_failures_total counter
mycord_history_append_failures_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected),
		"mycord_broadcasts_total", "mycord_history_append_failures_total"))
}
