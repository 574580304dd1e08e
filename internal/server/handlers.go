// Package server exposes HTTP handlers: the WebSocket transport for the chat
// protocol and a health check.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/mycord/internal/protocol"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  protocol.FrameSize,
		WriteBufferSize: protocol.FrameSize,
		CheckOrigin:     s.origins.check,
	}
}

// WebSocketHandler upgrades the request and runs a regular chat session over
// the connection. Frames travel as binary websocket messages.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(protocol.FrameSize)

	s.log.Info("accepted websocket connection", zap.String("remote", r.RemoteAddr))
	s.HandleConn(newWSConn(ws))
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mycord server is running! %d user(s) connected.", s.hub.Len())
}
