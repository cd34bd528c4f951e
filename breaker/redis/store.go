package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/commercekit/eventrelay/breaker"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of breaker.Store for multi-process deployments.
 * Uses a hash per circuit: circuit:{name}. Writes go through WATCH so
 * replicas sharing a circuit never overwrite each other's updates:
 * Put is a compare-and-set on the record version, per the breaker.Store
 * contract.
 */

const hashPrefix = "circuit"

type Store struct {
	client *redis.Client
}

// NewStore creates a circuit store on an existing Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Get retrieves the circuit record for name; a missing name yields a
// zero record, matching the in-memory store.
func (s *Store) Get(ctx context.Context, name string) (breaker.Record, error) {
	data, err := s.client.HGetAll(ctx, key(name)).Result()
	if err != nil {
		return breaker.Record{}, fmt.Errorf("getting circuit state: %w", err)
	}
	if len(data) == 0 {
		return breaker.Record{}, nil
	}

	rec := breaker.Record{
		State:    breaker.NewState(data["state"]),
		Failures: int(parseInt64(data["failures"])),
	}
	if v := parseInt64(data["last_failure_at"]); v > 0 {
		rec.LastFailureAt = time.Unix(0, v)
	}
	if v := parseInt64(data["opened_at"]); v > 0 {
		rec.OpenedAt = time.Unix(0, v)
	}
	rec.Version = parseInt64(data["version"])
	return rec, nil
}

// Put stores the circuit record for name when rec.Version still matches
// the stored version, and returns breaker.ErrStaleRecord otherwise. The
// hash stays under WATCH between the version check and the write, so a
// competing replica's update aborts the transaction instead of being
// overwritten.
func (s *Store) Put(ctx context.Context, name string, rec breaker.Record) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key(name), "version").Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("reading circuit version: %w", err)
		}
		if parseInt64(current) != rec.Version {
			return breaker.ErrStaleRecord
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key(name), map[string]interface{}{
				"state":           rec.State.String(),
				"failures":        rec.Failures,
				"last_failure_at": rec.LastFailureAt.UnixNano(),
				"opened_at":       rec.OpenedAt.UnixNano(),
				"version":         rec.Version + 1,
			})
			return nil
		})
		return err
	}, key(name))

	switch {
	case err == redis.TxFailedErr:
		// The hash changed under WATCH before EXEC
		return breaker.ErrStaleRecord
	case err != nil && err != breaker.ErrStaleRecord:
		return fmt.Errorf("storing circuit state: %w", err)
	}
	return err
}

func key(name string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, name)
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
