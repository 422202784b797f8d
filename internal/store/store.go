// Package store adapts the shared state store (Redis) behind a circuit
// breaker so a transient outage degrades signaling gracefully instead of
// panicking callers.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/aldernet/voicepair/internal/logging"
	"github.com/aldernet/voicepair/internal/metrics"
)

// ErrUnavailable is returned by every operation while the circuit breaker
// is open, so the caller knows the store did not perform it.
var ErrUnavailable = errors.New("store: shared state store unavailable")

// Store wraps a Redis client with circuit-breaker protected operations.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client exposes the underlying Redis client, e.g. for wiring into the
// rate limiter's store driver.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Options configures a new Store.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to the shared state store and verifies connectivity with a
// PING before returning.
func New(opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to shared state store: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "sss",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("sss").Set(v)
		},
	}

	logging.Info(context.Background(), "connected to shared state store")
	return &Store{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// NewFromClient wraps an already-constructed client (used by tests with
// miniredis, where New's Ping-on-connect options don't apply).
func NewFromClient(client *redis.Client) *Store {
	st := gobreaker.Settings{
		Name:        "sss",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
	}
	return &Store{client: client, cb: gobreaker.NewCircuitBreaker(st)}
}

func (s *Store) execute(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	res, err := s.cb.Execute(fn)
	metrics.SSSOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CircuitBreakerFailures.WithLabelValues("sss").Inc()
			metrics.SSSOperationsTotal.WithLabelValues(op, "breaker_open").Inc()
			logging.Warn(ctx, "sss circuit breaker open, degrading")
			return nil, ErrUnavailable
		}
		metrics.SSSOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, err
	}
	metrics.SSSOperationsTotal.WithLabelValues(op, "ok").Inc()
	return res, nil
}

// Ping verifies connectivity, used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.execute(ctx, "ping", func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ZAdd adds member to a sorted set with the given score (used to enqueue
// waiting users, scored by enqueue time).
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	_, err := s.execute(ctx, "zadd", func() (interface{}, error) {
		return nil, s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
	return err
}

// ZPopMin removes and returns the lowest-scored member of a sorted set, or
// ("", false, nil) if the set is empty.
func (s *Store) ZPopMin(ctx context.Context, key string) (string, bool, error) {
	res, err := s.execute(ctx, "zpopmin", func() (interface{}, error) {
		return s.client.ZPopMin(ctx, key, 1).Result()
	})
	if err != nil {
		return "", false, err
	}

	zs := res.([]redis.Z)
	if len(zs) == 0 {
		return "", false, nil
	}
	member, ok := zs[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("store: unexpected zset member type %T", zs[0].Member)
	}
	return member, true, nil
}

// ZRem removes a member from a sorted set, returning whether it was present.
func (s *Store) ZRem(ctx context.Context, key, member string) (bool, error) {
	res, err := s.execute(ctx, "zrem", func() (interface{}, error) {
		return s.client.ZRem(ctx, key, member).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(int64) > 0, nil
}

// ZScore reports whether member is present in a sorted set.
func (s *Store) ZScore(ctx context.Context, key, member string) (bool, error) {
	_, err := s.execute(ctx, "zscore", func() (interface{}, error) {
		return s.client.ZScore(ctx, key, member).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetWithTTL writes a string key with an expiry.
func (s *Store) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.execute(ctx, "set", func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// Get reads a string key, returning ("", false, nil) if it does not exist.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := s.execute(ctx, "get", func() (interface{}, error) {
		return s.client.Get(ctx, key).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		if errors.Is(err, ErrUnavailable) {
			return "", false, err
		}
		return "", false, err
	}
	return res.(string), true, nil
}

// Del removes one or more string/zset/set keys, best-effort (used for
// rollback; errors are returned for the caller to log, not retried).
func (s *Store) Del(ctx context.Context, keys ...string) error {
	_, err := s.execute(ctx, "del", func() (interface{}, error) {
		return nil, s.client.Del(ctx, keys...).Err()
	})
	return err
}

// SAdd adds a member to a set.
func (s *Store) SAdd(ctx context.Context, key, member string) error {
	_, err := s.execute(ctx, "sadd", func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})
	return err
}

// SRem removes a member from a set.
func (s *Store) SRem(ctx context.Context, key, member string) error {
	_, err := s.execute(ctx, "srem", func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	return err
}

// SCard reports the number of active rooms.
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	res, err := s.execute(ctx, "scard", func() (interface{}, error) {
		return s.client.SCard(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// ZCard reports the number of waiting users.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	res, err := s.execute(ctx, "zcard", func() (interface{}, error) {
		return s.client.ZCard(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// HIncrBy increments a hash counter field.
func (s *Store) HIncrBy(ctx context.Context, key, field string, incr int64) error {
	_, err := s.execute(ctx, "hincrby", func() (interface{}, error) {
		return nil, s.client.HIncrBy(ctx, key, field, incr).Err()
	})
	return err
}

// HGetAll reads every field of a hash.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := s.execute(ctx, "hgetall", func() (interface{}, error) {
		return s.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]string), nil
}
