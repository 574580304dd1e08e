package server

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/mycord/internal/history"
	"github.com/Tyrowin/mycord/internal/protocol"
)

const recvTimeout = 2 * time.Second

// testConfig returns a configuration with short timeouts and no seeding.
func testConfig() *Config {
	cfg := NewConfig()
	cfg.SeedHistory = false
	cfg.HTTPAddr = ""
	cfg.LoginTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.DrainTimeout = 200 * time.Millisecond
	return cfg
}

// startServer runs a Server on a loopback listener and shuts it down when
// the test ends.
func startServer(t *testing.T, cfg *Config, store *history.Store) (*Server, string) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if store == nil {
		store = history.NewMemory()
	}
	srv := NewServer(cfg, store)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after shutdown")
		}
	})
	return srv, ln.Addr().String()
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, recvTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(kind protocol.Kind, username, body string) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteMessage(c.conn, protocol.NewMessage(kind, username, body)))
}

func (c *testClient) recv() protocol.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	m, err := protocol.ReadMessage(c.conn)
	require.NoError(c.t, err)
	return m
}

// expect reads one frame and checks its kind, sender and body.
func (c *testClient) expect(kind protocol.Kind, username, body string) protocol.Message {
	c.t.Helper()
	m := c.recv()
	require.Equal(c.t, kind, m.Kind, "body: %q", m.Body)
	require.Equal(c.t, username, m.Username)
	require.Equal(c.t, body, m.Body)
	return m
}

func (c *testClient) expectSystem(body string) {
	c.t.Helper()
	c.expect(protocol.KindSystem, SystemUsername, body)
}

// expectSilence fails if any frame arrives within d.
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	m, err := protocol.ReadMessage(c.conn)
	if err == nil {
		c.t.Fatalf("unexpected frame %s from %q: %q", m.Kind, m.Username, m.Body)
	}
	require.True(c.t, errors.Is(err, os.ErrDeadlineExceeded), "unexpected error: %v", err)
}

// expectClosed checks that the server closed the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	_, err := protocol.ReadMessage(c.conn)
	require.Error(c.t, err)
	require.False(c.t, errors.Is(err, os.ErrDeadlineExceeded), "connection still open")
}

// login logs in as name on an empty history and consumes the join
// announcement and the welcome.
func (c *testClient) login(name string, connected int) {
	c.t.Helper()
	c.send(protocol.KindLogin, name, "")
	c.expectSystem(loggedInText(name))
	c.expectSystem(welcomeText(connected))
}

// waitFor polls cond until it holds or the receive timeout passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, recvTimeout, 10*time.Millisecond)
}
