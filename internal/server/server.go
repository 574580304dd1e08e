// Package server implements the chat server core: sessions, the hub, and
// the accept loop that hands connections to them.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/mycord/internal/history"
	"github.com/Tyrowin/mycord/internal/protocol"
)

// Server owns the shared Hub and history Store and spawns one session per
// accepted connection.
type Server struct {
	cfg     Config
	hub     *Hub
	store   *history.Store
	metrics *Metrics
	log     *zap.Logger
	origins originPolicy

	mu        sync.Mutex
	closing   bool
	listeners map[net.Listener]struct{}
	active    map[*Client]struct{}
	sessions  sync.WaitGroup

	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics collectors. Without it the server creates its own.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewServer creates a Server. A nil cfg means defaults; a nil store means an
// in-memory history.
func NewServer(cfg *Config, store *history.Store, opts ...Option) *Server {
	c := defaultConfig()
	if cfg != nil {
		c = *cfg
	}
	c = sanitizeConfig(c)

	if store == nil {
		store = history.NewMemory()
	}

	s := &Server{
		cfg:       c,
		store:     store,
		log:       zap.NewNop(),
		listeners: make(map[net.Listener]struct{}),
		active:    make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.hub = NewHub(s.log.Named("hub"))
	s.origins = newOriginPolicy(c.AllowedOrigins, s.log)
	return s
}

// Hub returns the client registry.
func (s *Server) Hub() *Hub { return s.hub }

// Store returns the history store.
func (s *Server) Store() *history.Store { return s.store }

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Config returns a copy of the effective configuration.
func (s *Server) Config() Config {
	c := s.cfg
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// HandleConn starts a session for conn on its own goroutine and returns
// immediately. During shutdown the connection is refused with a DISCONNECT.
func (s *Server) HandleConn(conn net.Conn) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.refuse(conn, reasonShutdown)
		return
	}
	sess := s.newSession(conn)
	s.active[sess.client] = struct{}{}
	s.sessions.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.sessions.Done()
		defer s.forget(sess.client)
		sess.run()
	}()
}

func (s *Server) forget(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, c)
}

// refuse sends a best-effort DISCONNECT to a connection that never gets a
// session, then closes it.
func (s *Server) refuse(conn net.Conn, reason string) {
	s.metrics.RejectedConnections.Inc()
	c := NewClient(conn, peerHost(conn.RemoteAddr()), s.cfg.DrainTimeout)
	if err := c.Send(protocol.NewMessage(protocol.KindDisconnect, unknownUsername, reason)); err != nil {
		s.log.Debug("refusal notice failed", zap.String("remote", c.addr), zap.Error(err))
	}
	_ = c.Close()
}

// Serve accepts connections from ln until Shutdown is called or ln fails.
// It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return nil
	}
	defer s.untrackListener(ln)

	var limiter *rate.Limiter
	if s.cfg.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.AcceptRate), s.cfg.AcceptBurst)
	}

	s.log.Info("accepting connections", zap.String("addr", ln.Addr().String()))

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = nextDelay(tempDelay)
				s.log.Warn("accept error; retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		if limiter != nil && !limiter.Allow() {
			s.log.Warn("connection throttled", zap.String("remote", conn.RemoteAddr().String()))
			s.refuse(conn, reasonTooManyConns)
			continue
		}

		s.log.Info("accepted connection", zap.String("remote", conn.RemoteAddr().String()))
		s.HandleConn(conn)
	}
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown stops accepting connections, drains every registered client and
// waits up to timeout for all sessions to finish. Only the first call does
// any work. It returns context.DeadlineExceeded if sessions are still
// running when timeout expires.
func (s *Server) Shutdown(timeout time.Duration) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.shutdown(timeout)
	})
	return err
}

func (s *Server) shutdown(timeout time.Duration) error {
	s.log.Info("initiating server shutdown")

	s.mu.Lock()
	s.closing = true
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("closing listener", zap.Error(err))
		}
	}

	drained := s.hub.Drain(reasonShutdown, s.cfg.DrainTimeout, func(c *Client) {
		s.store.Append(history.NewEntry(c.addr, protocol.KindDisconnect, c.username, reasonShutdown))
	})
	s.metrics.ActiveSessions.Set(0)
	s.log.Info("disconnected clients", zap.Int("count", len(drained)))

	// Connections still waiting to log in were never registered with the hub.
	s.mu.Lock()
	pending := make([]*Client, 0, len(s.active))
	for c := range s.active {
		if !c.isClosed() {
			pending = append(pending, c)
		}
	}
	s.mu.Unlock()
	var wg sync.WaitGroup
	for _, c := range pending {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.sendBounded(protocol.NewMessage(protocol.KindDisconnect, unknownUsername, reasonShutdown), s.cfg.DrainTimeout); err != nil {
				s.log.Debug("shutdown notice failed", zap.String("remote", c.addr), zap.Error(err))
			}
			_ = c.Close()
		}(c)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("server shutdown completed")
		return nil
	case <-time.After(timeout):
		s.log.Warn("server shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}

// peerHost returns the host part of addr, or its full string when it has no port.
func peerHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
