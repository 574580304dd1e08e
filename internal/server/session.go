package server

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/mycord/internal/history"
	"github.com/Tyrowin/mycord/internal/protocol"
)

type sessionState int32

const (
	stateAwaitingLogin sessionState = iota
	stateReplayingHistory
	stateActive
	stateTerminated
)

func (st sessionState) String() string {
	switch st {
	case stateAwaitingLogin:
		return "AWAITING_LOGIN"
	case stateReplayingHistory:
		return "REPLAYING_HISTORY"
	case stateActive:
		return "ACTIVE"
	case stateTerminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("sessionState(%d)", int32(st))
}

// session drives one connection through login, history replay and the live
// loop. It owns its client's transport and rate limiter; the Hub and the
// history Store are shared with every other session.
type session struct {
	srv     *Server
	client  *Client
	id      string
	log     *zap.Logger
	limiter *rateLimiter

	state        atomic.Int32
	teardownOnce sync.Once
}

func (s *Server) newSession(conn net.Conn) *session {
	addr := peerHost(conn.RemoteAddr())
	id := uuid.NewString()
	return &session{
		srv:     s,
		client:  NewClient(conn, addr, s.cfg.WriteTimeout),
		id:      id,
		log:     s.log.With(zap.String("session", id), zap.String("remote", addr)),
		limiter: newRateLimiter(s.cfg.RateLimit.Burst, s.cfg.RateLimit.Window),
	}
}

func (s *session) setState(st sessionState) {
	s.state.Store(int32(st))
}

func (s *session) currentState() sessionState {
	return sessionState(s.state.Load())
}

// run executes the whole lifecycle. Every exit path, including a panic,
// ends in teardown.
func (s *session) run() {
	defer s.teardown()
	defer s.recoverPanic()

	err := s.login()
	if err == nil {
		s.replayHistory()
		err = s.join()
	}
	if err == nil {
		err = s.loop()
	}
	s.finish(err)
}

func (s *session) recoverPanic() {
	if r := recover(); r != nil {
		s.log.Error("session panic", zap.Any("panic", r), zap.Stack("stack"))
		s.finish(disconnect(reasonServerError, fmt.Errorf("panic: %v", r)))
	}
}

func (s *session) login() error {
	s.setState(stateAwaitingLogin)
	cfg := s.srv.cfg
	conn := s.client.conn

	if err := conn.SetReadDeadline(time.Now().Add(cfg.LoginTimeout)); err != nil {
		return fmt.Errorf("%w: set login deadline: %w", ErrTransport, err)
	}
	s.log.Debug("waiting for LOGIN")
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		timeout := loginTimeoutReason(cfg.LoginTimeout)
		return s.readError(err, timeout, timeout, reasonLoginParse)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%w: clear login deadline: %w", ErrTransport, err)
	}

	if msg.Kind != protocol.KindLogin {
		return disconnect(reasonFirstNotLogin, ErrValidation)
	}
	name := msg.Username
	if strings.TrimSpace(name) == "" {
		return disconnect(reasonUsernameEmpty, ErrValidation)
	}
	if !validUsername(name) {
		return disconnect(reasonUsernameCharset, ErrValidation)
	}
	if s.srv.hub.UsernameTaken(name) {
		return &DisconnectError{Reason: reasonUsernameTaken, Username: name, Err: ErrValidation}
	}
	if _, reserved := reservedUsernames[name]; reserved {
		return &DisconnectError{Reason: reasonUsernameReserved, Username: name, Err: ErrValidation}
	}

	s.client.username = name
	s.log = s.log.With(zap.String("user", name))
	s.log.Info("login succeeded")
	return nil
}

// replayHistory sends recent chat messages to the client. Failures are
// logged and never end the session.
func (s *session) replayHistory() {
	s.setState(stateReplayingHistory)

	entries := s.srv.store.RecentSends(s.srv.cfg.HistoryLimit)
	for i, e := range entries {
		if err := s.client.Send(e.Message(protocol.KindMessageRecv)); err != nil {
			s.log.Warn("history replay failed", zap.Int("sent", i), zap.Int("total", len(entries)), zap.Error(err))
			return
		}
	}
	s.log.Debug("history sent", zap.Int("entries", len(entries)))
}

// join registers the client, records and announces the login, and welcomes
// the new user privately.
func (s *session) join() error {
	name := s.client.username
	n, err := s.srv.hub.Add(s.client)
	if err != nil {
		if errors.Is(err, errHubClosed) {
			return disconnect(reasonShutdown, ErrShutdown)
		}
		return &DisconnectError{Reason: reasonUsernameTaken, Username: name, Err: ErrValidation}
	}
	s.srv.metrics.Logins.Inc()
	s.srv.metrics.ActiveSessions.Inc()

	s.srv.store.Append(history.NewEntry(s.client.addr, protocol.KindLogin, name, loggedInText(name)))
	s.srv.hub.Broadcast(protocol.NewMessage(protocol.KindSystem, SystemUsername, loggedInText(name)), nil)

	if err := s.client.Send(protocol.NewMessage(protocol.KindSystem, SystemUsername, welcomeText(n))); err != nil {
		s.log.Warn("welcome message failed", zap.Error(err))
	}
	s.log.Info("joined", zap.Int("connected", n))
	return nil
}

func (s *session) loop() error {
	s.setState(stateActive)
	idle := s.srv.cfg.IdleTimeout
	conn := s.client.conn

	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return fmt.Errorf("%w: set idle deadline: %w", ErrTransport, err)
		}
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			return s.readError(err, idleTimeoutReason(idle), reasonReceive, reasonParse)
		}

		switch msg.Kind {
		case protocol.KindLogout:
			s.srv.store.Append(history.NewEntry(s.client.addr, protocol.KindLogout, s.client.username, loggedOutText(s.client.username)))
			return errLogout
		case protocol.KindMessageSend:
			if err := s.handleSend(msg); err != nil {
				return err
			}
		default:
			return disconnect(reasonUnsupported, ErrValidation)
		}
	}
}

func (s *session) handleSend(msg protocol.Message) error {
	rl := s.srv.cfg.RateLimit
	if !s.limiter.allow() {
		return disconnect(rateLimitReason(rl.Burst, rl.Window), ErrRateLimited)
	}
	if reason := validateBody(msg.Body); reason != "" {
		return disconnect(reason, ErrValidation)
	}

	entry := history.NewEntry(s.client.addr, protocol.KindMessageSend, s.client.username, msg.Body)
	s.srv.store.Append(entry)

	switch msg.Body {
	case "!help":
		return s.reply(helpText)
	case "!list":
		return s.reply(listText(s.srv.hub.Usernames()))
	case "!disconnect":
		return disconnect(reasonUserRequest, errClientRequest)
	}

	delivered := s.srv.hub.Broadcast(entry.Message(protocol.KindMessageRecv), s.client)
	s.srv.metrics.Broadcasts.Inc()
	s.log.Debug("message broadcast", zap.Int("recipients", delivered))
	return nil
}

// reply sends a private SYSTEM message to this client.
func (s *session) reply(text string) error {
	if err := s.client.Send(protocol.NewMessage(protocol.KindSystem, SystemUsername, text)); err != nil {
		return fmt.Errorf("%w: reply: %w", ErrTransport, err)
	}
	return nil
}

// readError classifies a failed frame read. A transport closed by this
// server (drain or teardown) ends the session without a notice.
func (s *session) readError(err error, timeoutReason, receiveReason, parseReason string) error {
	switch {
	case s.client.isClosed():
		if s.srv.isClosing() {
			return fmt.Errorf("%w: %w", ErrShutdown, err)
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	case errors.Is(err, protocol.ErrUnknownKind), errors.Is(err, protocol.ErrFrameSize):
		return disconnect(parseReason, fmt.Errorf("%w: %w", ErrFrame, err))
	case isTimeout(err):
		return disconnect(timeoutReason, fmt.Errorf("%w: %w", ErrTimeout, err))
	default:
		return disconnect(receiveReason, fmt.Errorf("%w: %w", ErrTransport, err))
	}
}

// finish reports how the session ended: a DisconnectError is sent to the
// client, an unexpected error becomes a server-error notice, and a logout or
// dead transport ends silently.
func (s *session) finish(err error) {
	s.srv.metrics.Disconnects.WithLabelValues(reasonClass(err)).Inc()

	var de *DisconnectError
	switch {
	case errors.As(err, &de):
		s.log.Info("disconnecting client", zap.String("reason", de.Reason), zap.Error(de.Err))
		s.sendDisconnect(de.Username, de.Reason)
	case errors.Is(err, errLogout):
		s.log.Info("client logged out")
	case errors.Is(err, ErrTransport), errors.Is(err, ErrShutdown):
		s.log.Info("connection closed", zap.Error(err))
	default:
		s.log.Error("session error", zap.Error(err))
		s.sendDisconnect("", reasonServerError)
	}
}

// sendDisconnect records and sends a DISCONNECT notice. The send is best
// effort.
func (s *session) sendDisconnect(username, reason string) {
	if username == "" {
		username = s.client.username
	}
	if username == "" {
		username = unknownUsername
	}
	s.srv.store.Append(history.NewEntry(s.client.addr, protocol.KindDisconnect, username, reason))
	if err := s.client.Send(protocol.NewMessage(protocol.KindDisconnect, username, reason)); err != nil {
		s.log.Debug("disconnect notice not delivered", zap.Error(err))
	}
}

// teardown unregisters and closes the client and announces the departure.
// It runs at most once however many exit paths reach it.
func (s *session) teardown() {
	s.teardownOnce.Do(func() {
		s.setState(stateTerminated)

		removed := s.srv.hub.Remove(s.client)
		if removed {
			s.srv.metrics.ActiveSessions.Dec()
		}
		if err := s.client.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("closing connection", zap.Error(err))
		}
		if removed {
			s.srv.hub.Broadcast(protocol.NewMessage(protocol.KindSystem, SystemUsername, disconnectedText(s.client.username)), nil)
		}
		s.log.Info("session closed")
	})
}

// validUsername reports whether name is non-empty ASCII letters and digits.
func validUsername(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			return false
		}
	}
	return true
}

// validateBody returns the rejection reason for a chat body, or "".
func validateBody(body string) string {
	if body == "" {
		return reasonBodyEmpty
	}
	if strings.Contains(body, "\n") {
		return reasonBodyNewline
	}
	for i := 0; i < len(body); i++ {
		if body[i] < 0x20 || body[i] > 0x7e {
			return reasonBodyCharset
		}
	}
	return ""
}
