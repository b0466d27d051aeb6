package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_MarkInFlightMutualExclusion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	winners := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			marked, err := store.MarkInFlight(ctx, "MintAAA")
			assert.NoError(t, err)
			winners <- marked
		}()
	}
	wg.Wait()
	close(winners)

	wins := 0
	for marked := range winners {
		if marked {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent mark must win")
}

func TestMemoryStore_UnmarkAllowsRemark(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	marked, err := store.MarkInFlight(ctx, "MintBBB")
	require.NoError(t, err)
	require.True(t, marked)

	require.NoError(t, store.UnmarkInFlight(ctx, "MintBBB"))

	inFlight, err := store.IsInFlight(ctx, "MintBBB")
	require.NoError(t, err)
	assert.False(t, inFlight)

	marked, err = store.MarkInFlight(ctx, "MintBBB")
	require.NoError(t, err)
	assert.True(t, marked)
}

func TestMemoryStore_UnmarkAbsentIsNotError(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.UnmarkInFlight(context.Background(), "never-marked"))
}

func TestMemoryStore_CursorMonotonic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SetCursor(ctx, "100"))
	require.NoError(t, store.SetCursor(ctx, "250"))

	cursor, err := store.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "250", cursor)

	// Numeric cursors never move backward
	require.NoError(t, store.SetCursor(ctx, "90"))
	cursor, err = store.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "250", cursor)

	// Opaque signatures replace freely
	require.NoError(t, store.SetCursor(ctx, "5gW2abSigXyz"))
	cursor, err = store.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5gW2abSigXyz", cursor)
}

func TestMemoryStore_KVWithTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 20*time.Millisecond))

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	time.Sleep(30 * time.Millisecond)

	value, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, value, "expired entries read as empty")
}

// failingStore errors on every call to exercise fallback degradation
type failingStore struct{}

var errBackendDown = errors.New("backend down")

func (f *failingStore) MarkInFlight(ctx context.Context, address string) (bool, error) {
	return false, errBackendDown
}
func (f *failingStore) UnmarkInFlight(ctx context.Context, address string) error {
	return errBackendDown
}
func (f *failingStore) IsInFlight(ctx context.Context, address string) (bool, error) {
	return false, errBackendDown
}
func (f *failingStore) SetCursor(ctx context.Context, cursor string) error { return errBackendDown }
func (f *failingStore) GetCursor(ctx context.Context) (string, error)      { return "", errBackendDown }
func (f *failingStore) Get(ctx context.Context, key string) (string, error) {
	return "", errBackendDown
}
func (f *failingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errBackendDown
}
func (f *failingStore) Delete(ctx context.Context, key string) error { return errBackendDown }
func (f *failingStore) Ping(ctx context.Context) error               { return errBackendDown }
func (f *failingStore) Close() error                                 { return nil }

func TestFallbackStore_DegradesOnPrimaryFailure(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	store := NewFallbackStore(&failingStore{}, log)
	ctx := context.Background()

	marked, err := store.MarkInFlight(ctx, "MintCCC")
	require.NoError(t, err, "fallback must absorb primary failures")
	assert.True(t, marked)
	assert.True(t, store.Degraded())

	// Dedup still holds within the process while degraded
	marked, err = store.MarkInFlight(ctx, "MintCCC")
	require.NoError(t, err)
	assert.False(t, marked)

	// Ping still surfaces the outage for the health monitor
	assert.Error(t, store.Ping(ctx))
}

func TestFallbackStore_NilPrimaryStartsDegraded(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	store := NewFallbackStore(nil, log)

	assert.True(t, store.Degraded())
	assert.ErrorIs(t, store.Ping(context.Background()), ErrNoPrimary)

	marked, err := store.MarkInFlight(context.Background(), "MintDDD")
	require.NoError(t, err)
	assert.True(t, marked)
}
