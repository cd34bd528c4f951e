package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

/* Breaker is an explicit circuit breaker state machine with pluggable
 * state storage. One Breaker guards many names (one circuit per name),
 * so a single instance can protect every downstream service.
 */

// Record is the persisted circuit state for one name. Version is the
// store's write counter, used for optimistic concurrency.
type Record struct {
	State         State
	Failures      int
	LastFailureAt time.Time
	OpenedAt      time.Time
	Version       int64
}

// ErrStaleRecord is returned by Put when the record changed since it
// was read. The breaker re-reads and reapplies its transition, so
// concurrent writers, in-process or across replicas sharing a store,
// never lose an increment.
var ErrStaleRecord = errors.New("stale circuit record")

// Store persists circuit records. Put is a compare-and-set on
// Record.Version: it must reject a record whose version no longer
// matches the stored one with ErrStaleRecord, and bump the version on
// success.
type Store interface {
	Get(ctx context.Context, name string) (Record, error)
	Put(ctx context.Context, name string, rec Record) error
}

// OpenError is returned when a circuit is open and the cooldown has not
// elapsed. It is a distinct, caller-visible failure: no call was made.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Name, e.RetryAfter)
}

// IsOpen reports whether err is a circuit-open error.
func IsOpen(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
	DefaultFailureWindow    = 60 * time.Second
)

// Option is a functional option for configuring the breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many failures within the failure window
// trip the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		b.failureThreshold = n
	}
}

// WithCooldown sets how long an open circuit rejects calls before
// allowing a half-open trial.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		b.cooldown = d
	}
}

// WithFailureWindow sets the sliding window for the failure counter.
// Failures older than the window decay to zero.
func WithFailureWindow(d time.Duration) Option {
	return func(b *Breaker) {
		b.failureWindow = d
	}
}

// WithStore sets the state storage adapter.
func WithStore(store Store) Option {
	return func(b *Breaker) {
		b.store = store
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

type Breaker struct {
	mu               sync.Mutex
	store            Store
	failureThreshold int
	cooldown         time.Duration
	failureWindow    time.Duration
	now              func() time.Time
}

// New creates a breaker with the given options. Without options it uses
// an in-memory store and the default threshold, cooldown and window.
func New(options ...Option) *Breaker {
	b := &Breaker{
		store:            NewMemoryStore(),
		failureThreshold: DefaultFailureThreshold,
		cooldown:         DefaultCooldown,
		failureWindow:    DefaultFailureWindow,
		now:              time.Now,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Allow reports whether a call for name may proceed. When the circuit is
// open and the cooldown has not elapsed it returns *OpenError without any
// state change. Once the cooldown elapses the circuit moves to half-open
// and the call is allowed through as a trial.
func (b *Breaker) Allow(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		rec, err := b.get(ctx, name)
		if err != nil {
			return err
		}

		if rec.State != Open {
			return nil
		}

		elapsed := b.now().Sub(rec.OpenedAt)
		if elapsed < b.cooldown {
			return &OpenError{Name: name, RetryAfter: b.cooldown - elapsed}
		}

		rec.State = HalfOpen
		switch err := b.store.Put(ctx, name, rec); {
		case errors.Is(err, ErrStaleRecord):
			// Another replica moved the circuit; re-read and reapply
			continue
		case err != nil:
			return fmt.Errorf("storing circuit state: %w", err)
		}
		return nil
	}
}

// RecordSuccess resets the failure counter and closes a half-open circuit.
func (b *Breaker) RecordSuccess(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		rec, err := b.get(ctx, name)
		if err != nil {
			return err
		}

		rec.Failures = 0
		if rec.State == HalfOpen {
			rec.State = Closed
		}

		switch err := b.store.Put(ctx, name, rec); {
		case errors.Is(err, ErrStaleRecord):
			continue
		case err != nil:
			return fmt.Errorf("storing circuit state: %w", err)
		}
		return nil
	}
}

// RecordFailure increments the failure counter, letting failures older
// than the window decay first. Crossing the threshold, or failing the
// half-open trial, opens the circuit and restarts the cooldown.
func (b *Breaker) RecordFailure(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		rec, err := b.get(ctx, name)
		if err != nil {
			return err
		}

		now := b.now()
		if !rec.LastFailureAt.IsZero() && now.Sub(rec.LastFailureAt) > b.failureWindow {
			rec.Failures = 0
		}
		rec.Failures++
		rec.LastFailureAt = now

		if rec.State == HalfOpen || rec.Failures >= b.failureThreshold {
			rec.State = Open
			rec.OpenedAt = now
		}

		// A lost CAS means another replica recorded an outcome between
		// our read and write; retrying keeps both increments.
		switch err := b.store.Put(ctx, name, rec); {
		case errors.Is(err, ErrStaleRecord):
			continue
		case err != nil:
			return fmt.Errorf("storing circuit state: %w", err)
		}
		return nil
	}
}

// State returns the current circuit state for name.
func (b *Breaker) State(ctx context.Context, name string) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.get(ctx, name)
	if err != nil {
		return Closed, err
	}
	return rec.State, nil
}

func (b *Breaker) get(ctx context.Context, name string) (Record, error) {
	rec, err := b.store.Get(ctx, name)
	if err != nil {
		return Record{}, fmt.Errorf("loading circuit state: %w", err)
	}
	if rec.State == 0 {
		rec.State = Closed
	}
	return rec, nil
}
