// Package server coordinates client registration, message broadcast, and
// connection drain for the chat system via the Hub type.
package server

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/mycord/internal/protocol"
)

// Hub is the registry of logged-in clients. Membership changes and full
// reads are serialized by one mutex; network I/O always happens on a
// snapshot taken under the lock and never while holding it.
type Hub struct {
	mu      sync.Mutex
	clients []*Client
	closed  bool
	log     *zap.Logger
}

var (
	errUsernameTaken = errors.New("username already registered")
	errHubClosed     = errors.New("hub is drained")
)

// NewHub creates an empty Hub that logs delivery failures to l.
func NewHub(l *zap.Logger) *Hub {
	if l == nil {
		l = zap.NewNop()
	}
	return &Hub{log: l}
}

// Add registers c and returns the number of registered clients. The
// username check is repeated under the lock so two logins racing for one
// name cannot both register. Add fails once the Hub has been drained.
func (h *Hub) Add(c *Client) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return len(h.clients), errHubClosed
	}
	for _, other := range h.clients {
		if other.username == c.username {
			return len(h.clients), errUsernameTaken
		}
	}
	h.clients = append(h.clients, c)
	return len(h.clients), nil
}

// Remove unregisters c. It returns false when c was not registered, which
// makes repeated removal harmless.
func (h *Hub) Remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, other := range h.clients {
		if other == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time copy of the registered clients.
func (h *Hub) Snapshot() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Client(nil), h.clients...)
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// UsernameTaken reports whether a registered client uses name. The match is
// exact and case-sensitive.
func (h *Hub) UsernameTaken(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if c.username == name {
			return true
		}
	}
	return false
}

// Usernames returns the registered usernames in join order.
func (h *Hub) Usernames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.clients))
	for _, c := range h.clients {
		names = append(names, c.username)
	}
	return names
}

// Broadcast sends m to every registered client except skip (which may be
// nil) and returns how many deliveries succeeded. Recipients are written to
// concurrently and Broadcast returns once every write has finished, so
// successive broadcasts from one caller arrive in order. A failed write is
// logged and does not affect the other recipients.
func (h *Hub) Broadcast(m protocol.Message, skip *Client) int {
	clients := h.Snapshot()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, c := range clients {
		if c == skip {
			continue
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.Send(m); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warn("broadcast delivery failed",
						zap.String("remote", c.addr),
						zap.String("user", c.username),
						zap.Stringer("kind", m.Kind),
						zap.Error(err))
				}
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return delivered
}

// Drain sends a DISCONNECT with reason to every registered client, allowing
// each send at most timeout even behind a write already in progress, and
// closes every transport whether or not the send worked. The Hub is emptied
// before the first send and later calls to Add fail. notify, if non-nil, is
// called once per client before its send. The drained clients are returned.
func (h *Hub) Drain(reason string, timeout time.Duration, notify func(*Client)) []*Client {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if notify != nil {
				notify(c)
			}
			msg := protocol.NewMessage(protocol.KindDisconnect, c.username, reason)
			if err := c.sendBounded(msg, timeout); err != nil {
				h.log.Warn("drain notice failed", zap.String("remote", c.addr), zap.String("user", c.username), zap.Error(err))
			}
			if err := c.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("drain close failed", zap.String("remote", c.addr), zap.Error(err))
			}
		}(c)
	}
	wg.Wait()

	h.log.Info("hub drained", zap.Int("clients", len(clients)))
	return clients
}
