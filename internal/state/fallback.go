package state

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// FallbackStore degrades to an in-process store when the shared
// backend is unreachable, so a cache outage never stalls the pipeline.
// Dedup guarantees weaken to per-process while degraded; the health
// monitor surfaces the outage.
type FallbackStore struct {
	primary  Store
	fallback *MemoryStore
	logger   *logrus.Logger
	degraded atomic.Bool
}

// NewFallbackStore wraps a primary store with an in-process fallback.
// primary may be nil, in which case the store runs degraded from the start.
func NewFallbackStore(primary Store, logger *logrus.Logger) *FallbackStore {
	s := &FallbackStore{
		primary:  primary,
		fallback: NewMemoryStore(),
		logger:   logger,
	}
	if primary == nil {
		s.degraded.Store(true)
	}
	return s
}

// Degraded reports whether the store is currently running on the
// in-process fallback.
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

func (s *FallbackStore) noteFailure(op string, err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.WithError(err).WithField("operation", op).
			Warn("Shared cache unreachable, degrading to in-process state")
	}
}

func (s *FallbackStore) noteRecovery() {
	if s.degraded.CompareAndSwap(true, false) {
		s.logger.Info("Shared cache recovered")
	}
}

func (s *FallbackStore) MarkInFlight(ctx context.Context, address string) (bool, error) {
	if s.primary != nil {
		marked, err := s.primary.MarkInFlight(ctx, address)
		if err == nil {
			s.noteRecovery()
			// Mirror into the fallback so a mid-flight degradation
			// still sees the marker.
			s.fallback.MarkInFlight(ctx, address)
			return marked, nil
		}
		s.noteFailure("mark_in_flight", err)
	}
	return s.fallback.MarkInFlight(ctx, address)
}

func (s *FallbackStore) UnmarkInFlight(ctx context.Context, address string) error {
	s.fallback.UnmarkInFlight(ctx, address)
	if s.primary != nil {
		if err := s.primary.UnmarkInFlight(ctx, address); err != nil {
			s.noteFailure("unmark_in_flight", err)
			return nil
		}
		s.noteRecovery()
	}
	return nil
}

func (s *FallbackStore) IsInFlight(ctx context.Context, address string) (bool, error) {
	if s.primary != nil {
		inFlight, err := s.primary.IsInFlight(ctx, address)
		if err == nil {
			s.noteRecovery()
			return inFlight, nil
		}
		s.noteFailure("is_in_flight", err)
	}
	return s.fallback.IsInFlight(ctx, address)
}

func (s *FallbackStore) SetCursor(ctx context.Context, cursor string) error {
	s.fallback.SetCursor(ctx, cursor)
	if s.primary != nil {
		if err := s.primary.SetCursor(ctx, cursor); err != nil {
			s.noteFailure("set_cursor", err)
			return nil
		}
		s.noteRecovery()
	}
	return nil
}

func (s *FallbackStore) GetCursor(ctx context.Context) (string, error) {
	if s.primary != nil {
		cursor, err := s.primary.GetCursor(ctx)
		if err == nil {
			s.noteRecovery()
			return cursor, nil
		}
		s.noteFailure("get_cursor", err)
	}
	return s.fallback.GetCursor(ctx)
}

func (s *FallbackStore) Get(ctx context.Context, key string) (string, error) {
	if s.primary != nil {
		value, err := s.primary.Get(ctx, key)
		if err == nil {
			s.noteRecovery()
			return value, nil
		}
		s.noteFailure("get", err)
	}
	return s.fallback.Get(ctx, key)
}

func (s *FallbackStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.fallback.Set(ctx, key, value, ttl)
	if s.primary != nil {
		if err := s.primary.Set(ctx, key, value, ttl); err != nil {
			s.noteFailure("set", err)
			return nil
		}
		s.noteRecovery()
	}
	return nil
}

func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	s.fallback.Delete(ctx, key)
	if s.primary != nil {
		if err := s.primary.Delete(ctx, key); err != nil {
			s.noteFailure("delete", err)
			return nil
		}
		s.noteRecovery()
	}
	return nil
}

// Ping reports the primary backend's health. A degraded store is
// operational but unhealthy.
func (s *FallbackStore) Ping(ctx context.Context) error {
	if s.primary == nil {
		return ErrNoPrimary
	}
	if err := s.primary.Ping(ctx); err != nil {
		s.noteFailure("ping", err)
		return err
	}
	s.noteRecovery()
	return nil
}

func (s *FallbackStore) Close() error {
	if s.primary != nil {
		return s.primary.Close()
	}
	return nil
}
