package breaker_test

import (
	"context"
	"testing"
	"time"

	"github.com/commercekit/eventrelay/breaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *breaker.Breaker {
	return breaker.New(
		breaker.WithFailureThreshold(5),
		breaker.WithCooldown(10*time.Second),
		breaker.WithFailureWindow(time.Minute),
		breaker.WithClock(clock.Now),
	)
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow(ctx, "X"))
		require.NoError(t, b.RecordFailure(ctx, "X"))
	}

	state, err := b.State(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, breaker.Closed, state)

	require.NoError(t, b.Allow(ctx, "X"))
	require.NoError(t, b.RecordFailure(ctx, "X"))

	state, err = b.State(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, breaker.Open, state)

	err = b.Allow(ctx, "X")
	require.Error(t, err)
	assert.True(t, breaker.IsOpen(err))

	var openErr *breaker.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "X", openErr.Name)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "X"))
	}
	require.Error(t, b.Allow(ctx, "X"))

	// Cooldown elapses: the next call is allowed as a half-open trial
	clock.Advance(11 * time.Second)
	require.NoError(t, b.Allow(ctx, "X"))

	state, err := b.State(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, breaker.HalfOpen, state)

	require.NoError(t, b.RecordSuccess(ctx, "X"))

	state, err = b.State(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, breaker.Closed, state)
	require.NoError(t, b.Allow(ctx, "X"))
}

func TestBreakerReopensOnFailedTrial(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "X"))
	}

	clock.Advance(11 * time.Second)
	require.NoError(t, b.Allow(ctx, "X"))
	require.NoError(t, b.RecordFailure(ctx, "X"))

	state, err := b.State(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, breaker.Open, state)

	// Cooldown restarts from the failed trial
	clock.Advance(5 * time.Second)
	require.Error(t, b.Allow(ctx, "X"))
	clock.Advance(6 * time.Second)
	require.NoError(t, b.Allow(ctx, "X"))
}

func TestBreakerFailureCounterDecays(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "X"))
	}

	// Old failures fall out of the window; the counter restarts
	clock.Advance(2 * time.Minute)
	require.NoError(t, b.RecordFailure(ctx, "X"))

	state, err := b.State(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, breaker.Closed, state)
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "X"))
	}
	require.NoError(t, b.RecordSuccess(ctx, "X"))

	// Counter was reset, so four more failures do not trip
	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "X"))
	}

	state, err := b.State(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, breaker.Closed, state)
}

// contendedStore injects a competing write from "another replica"
// between the breaker's read and its first write, so the write lands on
// a stale version.
type contendedStore struct {
	breaker.Store
	raced bool
}

func (s *contendedStore) Put(ctx context.Context, name string, rec breaker.Record) error {
	if !s.raced {
		s.raced = true
		fresh, err := s.Store.Get(ctx, name)
		if err != nil {
			return err
		}
		fresh.Failures++
		fresh.LastFailureAt = time.Now()
		if err := s.Store.Put(ctx, name, fresh); err != nil {
			return err
		}
	}
	return s.Store.Put(ctx, name, rec)
}

func TestBreakerKeepsConcurrentFailureIncrements(t *testing.T) {
	ctx := context.Background()
	store := &contendedStore{Store: breaker.NewMemoryStore()}
	clock := &fakeClock{now: time.Now()}
	b := breaker.New(
		breaker.WithFailureThreshold(2),
		breaker.WithCooldown(10*time.Second),
		breaker.WithFailureWindow(time.Minute),
		breaker.WithClock(clock.Now),
		breaker.WithStore(store),
	)

	// The competing replica's failure and ours must both survive, which
	// together reach the threshold of two.
	require.NoError(t, b.RecordFailure(ctx, "X"))

	rec, err := store.Get(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Failures)

	state, err := b.State(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, breaker.Open, state)
}

func TestMemoryStoreRejectsStaleWrites(t *testing.T) {
	ctx := context.Background()
	store := breaker.NewMemoryStore()

	rec, err := store.Get(ctx, "X")
	require.NoError(t, err)
	rec.Failures = 1
	require.NoError(t, store.Put(ctx, "X", rec))

	// A writer that read before the update landed must not clobber it
	stale := breaker.Record{Failures: 9}
	assert.ErrorIs(t, store.Put(ctx, "X", stale), breaker.ErrStaleRecord)

	current, err := store.Get(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Failures)
	assert.EqualValues(t, 1, current.Version)
}

func TestBreakerIsolatesNames(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "bad"))
	}

	require.Error(t, b.Allow(ctx, "bad"))
	require.NoError(t, b.Allow(ctx, "good"))
}
