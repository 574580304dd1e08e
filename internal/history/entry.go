// Package history keeps the append-only chat log: an in-memory sequence of
// entries mirrored to a flat text file, one entry per line.
package history

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Tyrowin/mycord/internal/protocol"
)

const fieldSep = "|"

// ErrMalformedEntry is returned when a log line cannot be parsed.
var ErrMalformedEntry = errors.New("history: malformed entry")

// Entry is one persisted event. Entries are never mutated once appended.
type Entry struct {
	Peer      string
	Kind      protocol.Kind
	Timestamp uint32
	Username  string
	Body      string
}

// NewEntry builds an entry stamped with the current time.
func NewEntry(peer string, kind protocol.Kind, username, body string) Entry {
	return Entry{
		Peer:      peer,
		Kind:      kind,
		Timestamp: protocol.Now(),
		Username:  username,
		Body:      body,
	}
}

// String serializes the entry as peer|kind|timestamp|username|body.
func (e Entry) String() string {
	return strings.Join([]string{
		e.Peer,
		strconv.FormatUint(uint64(e.Kind), 10),
		strconv.FormatUint(uint64(e.Timestamp), 10),
		e.Username,
		e.Body,
	}, fieldSep)
}

// Message converts the entry into a frame of the given kind, keeping the
// original sender and timestamp.
func (e Entry) Message(kind protocol.Kind) protocol.Message {
	return protocol.Message{
		Kind:      kind,
		Username:  e.Username,
		Body:      e.Body,
		Timestamp: e.Timestamp,
	}
}

// ParseEntry parses one serialized line. The body is everything after the
// fourth separator and may itself contain separators.
func ParseEntry(line string) (Entry, error) {
	parts := strings.SplitN(line, fieldSep, 5)
	if len(parts) != 5 {
		return Entry{}, fmt.Errorf("%w: want 5 fields, got %d", ErrMalformedEntry, len(parts))
	}
	kind, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: kind %q: %v", ErrMalformedEntry, parts[1], err)
	}
	ts, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedEntry, parts[2], err)
	}
	return Entry{
		Peer:      parts[0],
		Kind:      protocol.Kind(kind),
		Timestamp: uint32(ts),
		Username:  parts[3],
		Body:      parts[4],
	}, nil
}
