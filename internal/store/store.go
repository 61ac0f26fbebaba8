// Package store keeps the live rooms of a process, keyed by room code.
package store

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/botornot/internal/room"
)

const (
	// CodeLength is the length of generated room codes.
	CodeLength = 6

	// CodeChars excludes characters that are easy to misread.
	CodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// MaxCodeAttempts bounds retries on code collisions.
	MaxCodeAttempts = 32
)

// Entry guards a single room. Hold the lock for the whole of a transition.
type Entry struct {
	code string

	mu     sync.Mutex
	room   *room.Room
	closed bool

	// pub orders fan-out. Take it before releasing mu and hold it until the
	// transition's messages are published.
	pub sync.Mutex
}

// Code returns the room code, which never changes.
func (e *Entry) Code() string {
	return e.code
}

func (e *Entry) Lock() {
	e.mu.Lock()
}

func (e *Entry) Unlock() {
	e.mu.Unlock()
}

// LockPublish must be called while holding the room lock.
func (e *Entry) LockPublish() {
	e.pub.Lock()
}

func (e *Entry) UnlockPublish() {
	e.pub.Unlock()
}

// Room returns the guarded room. The lock must be held.
func (e *Entry) Room() *room.Room {
	return e.room
}

// Replace swaps the guarded room, used to roll back a failed transition.
// The lock must be held.
func (e *Entry) Replace(r *room.Room) {
	e.room = r
}

// Closed reports whether the room was removed from the store after the
// entry was looked up. The lock must be held.
func (e *Entry) Closed() bool {
	return e.closed
}

type Store struct {
	mu    sync.RWMutex
	rooms map[string]*Entry

	now     func() time.Time
	newCode func() (string, error)
	logf    func(format string, args ...any)
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithCodeGenerator overrides random code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Store) {
		s.newCode = gen
	}
}

// WithLogger routes store logging through logf.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(s *Store) {
		s.logf = logf
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		rooms:   make(map[string]*Entry),
		now:     time.Now,
		newCode: GenerateCode,
		logf:    func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateCode returns a random room code drawn from CodeChars.
func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	size := big.NewInt(int64(len(CodeChars)))
	for i := range code {
		n, err := crand.Int(crand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = CodeChars[n.Int64()]
	}
	return string(code), nil
}

// Create registers a new room owned by ownerID under a fresh code.
func (s *Store) Create(ownerID, ownerName string) (string, *Entry, error) {
	r, err := room.New("", ownerID, ownerName, s.now())
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for range MaxCodeAttempts {
		code, err := s.newCode()
		if err != nil {
			return "", nil, err
		}
		if _, exists := s.rooms[code]; exists {
			continue
		}

		r.Code = code
		e := &Entry{code: code, room: r}
		s.rooms[code] = e
		s.logf("ROOMS: Created room %s (%d live)", code, len(s.rooms))
		return code, e, nil
	}

	return "", nil, room.ErrCodeSpaceExhausted
}

// Get looks up a room by code, ignoring case and surrounding space.
func (s *Store) Get(code string) (*Entry, error) {
	code = NormalizeCode(code)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rooms[code]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	return e, nil
}

// DestroyIfEmpty removes the room once its last player is gone and reports
// whether it did. The entry lock must be held.
func (s *Store) DestroyIfEmpty(e *Entry) bool {
	if e.closed || !e.room.Empty() {
		return false
	}
	e.closed = true
	s.remove(e)
	return true
}

// Len returns the number of live rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Reap removes rooms with no activity since cutoff and returns their codes.
func (s *Store) Reap(cutoff time.Time) []string {
	s.mu.RLock()
	entries := make([]*Entry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var reaped []*Entry
	for _, e := range entries {
		e.Lock()
		if !e.closed && e.room.LastActive.Before(cutoff) {
			e.closed = true
			reaped = append(reaped, e)
		}
		e.Unlock()
	}

	codes := make([]string, 0, len(reaped))
	for _, e := range reaped {
		s.remove(e)
		codes = append(codes, e.code)
	}
	return codes
}

// Run reaps rooms idle for longer than idle until ctx is done, calling
// evict for every removed code.
func (s *Store) Run(ctx context.Context, idle time.Duration, evict func(code string)) {
	if idle <= 0 {
		return
	}

	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, code := range s.Reap(s.now().Add(-idle)) {
				s.logf("ROOMS: Reaped idle room %s", code)
				if evict != nil {
					evict(code)
				}
			}
		}
	}
}

func (s *Store) remove(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rooms[e.code] == e {
		delete(s.rooms, e.code)
		s.logf("ROOMS: Destroyed room %s (%d live)", e.code, len(s.rooms))
	}
}

// NormalizeCode upper-cases and trims a user-supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
