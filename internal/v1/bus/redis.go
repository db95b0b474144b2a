// Package bus provides the optional Redis-backed shared store whose client
// the rate limiter uses when running more than one server instance behind a
// load balancer; the idempotency cache does not use it. Cross-room event replication between
// instances is out of scope; each instance owns the rooms it hosts.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Store wraps a Redis client with circuit-breaker protection and fails open
// (acts as a no-op, never blocking a caller) whenever Redis is unreachable or
// the breaker is open. Callers that need strict cross-instance correctness
// (like idempotency conflict detection) must treat a fail-open miss as
// "unknown" rather than "absent".
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, for components (like the rate
// limiter) that need to hand it to a third-party store adapter directly.
// Returns nil in single-instance mode.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewStore creates a circuit-breaker-guarded Redis connection.
func NewStore(addr, password string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("connected to redis", "addr", addr)
	return &Store{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Get fetches a key's value. Returns ("", false, nil) on a cache miss or
// while the breaker is open (single-instance / degraded mode).
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, nil
	}

	start := time.Now()
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, key).Result()
	})
	metrics.StoreOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == redis.Nil {
			metrics.StoreOperationsTotal.WithLabelValues("get", "miss").Inc()
			return "", false, nil
		}
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.StoreOperationsTotal.WithLabelValues("get", "breaker_open").Inc()
			slog.Warn("redis circuit breaker open: treating get as miss", "key", key)
			return "", false, nil
		}
		metrics.StoreOperationsTotal.WithLabelValues("get", "error").Inc()
		slog.Error("redis get failed", "key", key, "error", err)
		return "", false, err
	}

	metrics.StoreOperationsTotal.WithLabelValues("get", "hit").Inc()
	return res.(string), true, nil
}

// SetNX sets key=value with the given TTL only if the key does not already
// exist, returning whether this call won the race. In degraded mode it
// returns true (best-effort single-writer assumption) so callers don't
// deadlock waiting on a dependency that isn't there.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if s == nil || s.client == nil {
		return true, nil
	}

	start := time.Now()
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SetNX(ctx, key, value, ttl).Result()
	})
	metrics.StoreOperationDuration.WithLabelValues("setnx").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.StoreOperationsTotal.WithLabelValues("setnx", "breaker_open").Inc()
			slog.Warn("redis circuit breaker open: treating setnx as won", "key", key)
			return true, nil
		}
		metrics.StoreOperationsTotal.WithLabelValues("setnx", "error").Inc()
		slog.Error("redis setnx failed", "key", key, "error", err)
		return false, err
	}

	metrics.StoreOperationsTotal.WithLabelValues("setnx", "ok").Inc()
	return res.(bool), nil
}

// Set unconditionally sets key=value with the given TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}

	start := time.Now()
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	metrics.StoreOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.StoreOperationsTotal.WithLabelValues("set", "breaker_open").Inc()
			slog.Warn("redis circuit breaker open: dropping set", "key", key)
			return nil
		}
		metrics.StoreOperationsTotal.WithLabelValues("set", "error").Inc()
		slog.Error("redis set failed", "key", key, "error", err)
		return err
	}

	metrics.StoreOperationsTotal.WithLabelValues("set", "ok").Inc()
	return nil
}

// Del removes a key.
func (s *Store) Del(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, key).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil
		}
		slog.Error("redis del failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Ping checks Redis connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
