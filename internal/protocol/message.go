// Package protocol defines the fixed-size binary frame exchanged between chat
// clients and the server, and the pure encode/decode pair for it.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// Frame geometry. Text fields are zero-padded and always keep room for a
// terminating zero byte.
const (
	UsernameSize = 32
	BodySize     = 1024
	headerSize   = 8
	FrameSize    = headerSize + UsernameSize + BodySize
)

var (
	// ErrFrameSize is returned when a block is not exactly FrameSize bytes.
	ErrFrameSize = errors.New("protocol: invalid frame size")
	// ErrUnknownKind is returned when the kind tag is not one of the known kinds.
	ErrUnknownKind = errors.New("protocol: unknown message kind")
)

// Kind is the message type tag carried in the first four bytes of a frame.
type Kind uint32

// Known message kinds and their wire values.
const (
	KindLogin       Kind = 0
	KindLogout      Kind = 1
	KindMessageSend Kind = 2
	KindMessageRecv Kind = 10
	KindDisconnect  Kind = 12
	KindSystem      Kind = 13
)

// Valid reports whether k is one of the six known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLogin, KindLogout, KindMessageSend, KindMessageRecv, KindDisconnect, KindSystem:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "LOGIN"
	case KindLogout:
		return "LOGOUT"
	case KindMessageSend:
		return "MESSAGE_SEND"
	case KindMessageRecv:
		return "MESSAGE_RECV"
	case KindDisconnect:
		return "DISCONNECT"
	case KindSystem:
		return "SYSTEM"
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// Message is one protocol unit.
type Message struct {
	Kind      Kind
	Username  string
	Body      string
	Timestamp uint32
}

// NewMessage builds a Message stamped with the current time.
func NewMessage(kind Kind, username, body string) Message {
	return Message{
		Kind:      kind,
		Username:  username,
		Body:      body,
		Timestamp: Now(),
	}
}

// Now returns the current time in the frame's timestamp representation.
func Now() uint32 {
	return uint32(time.Now().Unix())
}

// Time converts the frame timestamp back to a time.Time.
func (m Message) Time() time.Time {
	return time.Unix(int64(m.Timestamp), 0)
}

// Encode returns the fixed-size frame for m. Text fields longer than their
// field allow are clipped at the last whole code point that fits.
func Encode(m Message) []byte {
	buf := make([]byte, FrameSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Kind))
	binary.BigEndian.PutUint32(buf[4:8], m.Timestamp)
	putText(buf[headerSize:headerSize+UsernameSize], m.Username)
	putText(buf[headerSize+UsernameSize:], m.Body)
	return buf
}

// Decode parses one frame. The block must be exactly FrameSize bytes and carry
// a known kind.
func Decode(b []byte) (Message, error) {
	if len(b) != FrameSize {
		return Message{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(b), FrameSize)
	}
	kind := Kind(binary.BigEndian.Uint32(b[0:4]))
	if !kind.Valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint32(kind))
	}
	return Message{
		Kind:      kind,
		Timestamp: binary.BigEndian.Uint32(b[4:8]),
		Username:  getText(b[headerSize : headerSize+UsernameSize]),
		Body:      getText(b[headerSize+UsernameSize:]),
	}, nil
}

// ReadMessage reads exactly one frame from r and decodes it. Short reads are
// retried until the frame is complete or r fails.
func ReadMessage(r io.Reader) (Message, error) {
	buf := make([]byte, FrameSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, err
	}
	return Decode(buf)
}

// WriteMessage encodes m and writes the whole frame to w.
func WriteMessage(w io.Writer, m Message) error {
	_, err := w.Write(Encode(m))
	return err
}

// Clip shortens s to at most max bytes without splitting a UTF-8 sequence.
func Clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func putText(field []byte, s string) {
	copy(field, Clip(s, len(field)-1))
}

func getText(field []byte) string {
	if i := strings.IndexByte(string(field), 0); i >= 0 {
		field = field[:i]
	}
	return strings.ToValidUTF8(string(field), "�")
}
