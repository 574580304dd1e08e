// Package server defines shared message texts and utility helpers that are
// reused across session, hub and transport logic.
package server

import (
	"fmt"
	"strings"
	"time"
)

// SystemUsername is the sender of every server-originated SYSTEM frame.
const SystemUsername = "SYSTEM"

// unknownUsername fills the username of DISCONNECT frames sent before login.
const unknownUsername = "???"

var reservedUsernames = map[string]struct{}{
	"SYSTEM": {},
	"SERVER": {},
	"ADMIN":  {},
	"ROOT":   {},
}

const (
	reasonFirstNotLogin    = "First message must be LOGIN"
	reasonLoginParse       = "Failed to parse LOGIN message"
	reasonUsernameEmpty    = "Username must not be empty"
	reasonUsernameCharset  = "Username must be alphanumeric and ASCII"
	reasonUsernameTaken    = "Username already connected"
	reasonUsernameReserved = "Username is reserved"
	reasonReceive          = "Failed to receive message"
	reasonParse            = "Failed to parse message"
	reasonUnsupported      = "Message type not supported"
	reasonBodyEmpty        = "Messages must not be empty"
	reasonBodyNewline      = "Messages must not contain newlines"
	reasonBodyCharset      = "Messages must be ASCII"
	reasonUserRequest      = "User asked to be disconnected"
	reasonServerError      = "You caused a server error"
	reasonShutdown         = "Server is shutting down"
	reasonTooManyConns     = "Too many connections, try again later"

	helpText = "Commands: !help, !list, !disconnect"
)

func loginTimeoutReason(d time.Duration) string {
	return "Failed to receive LOGIN message within " + shortDuration(d)
}

func idleTimeoutReason(d time.Duration) string {
	return fmt.Sprintf("Disconnected due to timeout (no message received in %s)", humanDuration(d))
}

func rateLimitReason(burst int, window time.Duration) string {
	per := "a second"
	if window != time.Second {
		per = humanDuration(window)
	}
	return fmt.Sprintf("Too many messages at once (>%d in %s)", burst, per)
}

func welcomeText(n int) string {
	return fmt.Sprintf("Welcome! There are %d user(s) connected. Type !help for commands.", n)
}

func listText(names []string) string {
	return fmt.Sprintf("There are %d user(s) connected: %s", len(names), strings.Join(names, ", "))
}

func loggedInText(username string) string     { return username + " logged in" }
func loggedOutText(username string) string    { return username + " logged out" }
func disconnectedText(username string) string { return username + " has disconnected" }

// shortDuration renders whole minutes as "15m" and anything else in Go syntax.
func shortDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return d.String()
}

// humanDuration renders whole minutes as "15 minutes" and anything else in Go syntax.
func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	}
	return d.String()
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "io: read/write on closed pipe") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
