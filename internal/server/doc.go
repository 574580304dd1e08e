// Package server implements the core of the mycord chat server.
//
// Each accepted connection, raw TCP or WebSocket, is driven by its own
// session goroutine through LOGIN, history replay and the live message loop.
// Sessions share two services: the Hub, which tracks logged-in clients and
// fans out broadcasts, and the history Store. Shutdown drains the Hub by
// sending every client a DISCONNECT before closing it.
//
// The implementation is organized into specialized files for configuration,
// hub management, sessions, transports and HTTP handlers.
package server
