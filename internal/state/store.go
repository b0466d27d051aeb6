package state

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrNoPrimary is reported by Ping when no shared backend is configured
var ErrNoPrimary = errors.New("no shared cache backend configured")

// Store tracks transient processing state shared across the pipeline:
// the in-flight dedup set, the stream resumption cursor and generic
// key-value entries. All mutations are atomic at the store level.
type Store interface {
	// MarkInFlight atomically adds an address to the in-flight set.
	// It returns false when the address was already marked.
	MarkInFlight(ctx context.Context, address string) (bool, error)

	// UnmarkInFlight removes an address from the in-flight set.
	// Removing an absent address is not an error.
	UnmarkInFlight(ctx context.Context, address string) error

	// IsInFlight reports whether an address is currently marked.
	IsInFlight(ctx context.Context, address string) (bool, error)

	// SetCursor persists the stream resumption token. The cursor is
	// opaque; when both old and new values parse as slots the store
	// refuses to move backward.
	SetCursor(ctx context.Context, cursor string) error

	// GetCursor returns the persisted cursor, empty when unset.
	GetCursor(ctx context.Context) (string, error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Ping verifies backend reachability for health probes.
	Ping(ctx context.Context) error

	Close() error
}

// cursorAdvances reports whether next may replace prev. Opaque
// (non-numeric) cursors always advance; numeric slot cursors only
// move forward.
func cursorAdvances(prev, next string) bool {
	if prev == "" {
		return true
	}
	prevSlot, errPrev := strconv.ParseUint(prev, 10, 64)
	nextSlot, errNext := strconv.ParseUint(next, 10, 64)
	if errPrev != nil || errNext != nil {
		return true
	}
	return nextSlot >= prevSlot
}

// MemoryStore is the in-process fallback used when the shared cache
// is unavailable. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	inFlight map[string]time.Time
	cursor   string
	kv       map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inFlight: make(map[string]time.Time),
		kv:       make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) MarkInFlight(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inFlight[address]; exists {
		return false, nil
	}
	s.inFlight[address] = time.Now()
	return true, nil
}

func (s *MemoryStore) UnmarkInFlight(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, address)
	return nil
}

func (s *MemoryStore) IsInFlight(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.inFlight[address]
	return exists, nil
}

func (s *MemoryStore) SetCursor(ctx context.Context, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursorAdvances(s.cursor, cursor) {
		s.cursor = cursor
	}
	return nil
}

func (s *MemoryStore) GetCursor(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.kv[key]
	if !exists {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.kv, key)
		return "", nil
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.kv[key] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
