package history

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/mycord/internal/protocol"
)

const (
	// DefaultScanWindow bounds how far back RecentSends looks.
	DefaultScanWindow = 100
	// SeedCount is the number of illustrative entries written to a new log.
	SeedCount = 30
)

var seedUsers = []string{"abc123", "def456", "ghi789"}

// Store is the shared history log. All methods are safe for concurrent use.
// mu guards entries; fileMu orders file writes and guards file.
type Store struct {
	mu      sync.Mutex
	entries []Entry

	fileMu sync.Mutex
	file   *os.File

	path       string
	scanWindow int
	seed       bool
	mention    string
	log        *zap.Logger
	onFailure  func(error)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence warnings.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithSeed makes Open write SeedCount illustrative entries when the backing
// file does not exist yet. One of them mentions @mention when it is not empty.
func WithSeed(mention string) Option {
	return func(s *Store) {
		s.seed = true
		s.mention = mention
	}
}

// WithScanWindow overrides DefaultScanWindow.
func WithScanWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanWindow = n
		}
	}
}

// WithFailureHook registers a callback invoked for every failed file append.
func WithFailureHook(fn func(error)) Option {
	return func(s *Store) { s.onFailure = fn }
}

func newStore(opts []Option) *Store {
	s := &Store{
		scanWindow: DefaultScanWindow,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemory returns a Store with no backing file.
func NewMemory(opts ...Option) *Store {
	return newStore(opts)
}

// Open loads the log at path and keeps it open for appending. Lines that fail
// to parse are skipped with a warning. A missing file is created, and seeded
// when WithSeed was given.
func Open(path string, opts ...Option) (*Store, error) {
	s := newStore(opts)
	s.path = path

	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	if !fresh {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open history %s: %w", path, err)
		}
		loaded, err := s.load(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read history %s: %w", path, err)
		}
		s.log.Info("history loaded", zap.String("path", path), zap.Int("entries", loaded))
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history %s for append: %w", path, err)
	}
	s.file = f

	if fresh {
		s.log.Info("history file created", zap.String("path", path))
		if s.seed {
			s.writeSeed()
		}
	}
	return s, nil
}

// load reads one entry per line. Lines of any length are accepted; those
// that do not parse are skipped.
func (s *Store) load(r io.Reader) (int, error) {
	br := bufio.NewReader(r)
	lineNo, loaded := 0, 0
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lineNo++
			if s.loadLine(lineNo, strings.TrimRight(line, "\r\n")) {
				loaded++
			}
		}
		if errors.Is(err, io.EOF) {
			return loaded, nil
		}
		if err != nil {
			return loaded, err
		}
	}
}

func (s *Store) loadLine(lineNo int, line string) bool {
	if line == "" {
		return false
	}
	e, err := ParseEntry(line)
	if err != nil {
		s.log.Warn("skipping history line", zap.Int("line", lineNo), zap.Int("bytes", len(line)), zap.Error(err))
		return false
	}
	s.entries = append(s.entries, e)
	return true
}

func (s *Store) writeSeed() {
	for i := 1; i <= SeedCount; i++ {
		body := fmt.Sprintf("This is an old message %d", i)
		if i%28 == 0 && s.mention != "" {
			body += fmt.Sprintf(" with @%s mention", s.mention)
		}
		s.Append(NewEntry("0.0.0.0", protocol.KindMessageSend, seedUsers[i%len(seedUsers)], body))
	}
}

// Append records e in memory and writes it to the backing file. A failed
// write is logged and reported to the failure hook; it never reaches the
// caller. Readers are only blocked for the in-memory append.
func (s *Store) Append(e Entry) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	if s.file == nil {
		return
	}
	if _, err := s.file.WriteString(e.String() + "\n"); err != nil {
		s.log.Warn("history append failed",
			zap.String("path", s.path),
			zap.Stringer("kind", e.Kind),
			zap.String("user", e.Username),
			zap.Error(err))
		if s.onFailure != nil {
			s.onFailure(err)
		}
	}
}

// RecentSends returns up to limit of the most recent MESSAGE_SEND entries in
// chronological order. Only the last scan-window entries are searched.
func (s *Store) RecentSends(limit int) []Entry {
	if limit <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.entries) - s.scanWindow
	if start < 0 {
		start = 0
	}

	var out []Entry
	for _, e := range s.entries[start:] {
		if e.Kind == protocol.KindMessageSend {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of entries held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of all entries.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Close closes the backing file, if any.
func (s *Store) Close() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
