// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Gate serializes withdrawals per funding source. Acquire blocks until the
// key is free or ctx is done. The returned release function must be called
// exactly once.
type Gate interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// LocalGate is a process local Gate holding a one slot semaphore per key.
type LocalGate struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalGate returns an empty LocalGate.
func NewLocalGate() *LocalGate {
	return &LocalGate{slots: make(map[string]chan struct{})}
}

func (g *LocalGate) slot(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		g.slots[key] = s
	}
	return s
}

// Acquire implements Gate.
func (g *LocalGate) Acquire(ctx context.Context, key string) (func(), error) {
	s := g.slot(key)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-s })
	}, nil
}

//go:embed lua/release_lease.lua
var luaReleaseLease string

const (
	// DefaultLeaseTTL bounds how long a crashed process can hold a
	// funding source. It exceeds the sum of the upstream and database
	// timeouts of one withdrawal.
	DefaultLeaseTTL = 2 * time.Minute

	// DefaultLeasePoll is the retry interval while the lease is held by
	// another process.
	DefaultLeasePoll = 100 * time.Millisecond
)

// RedisGate extends a LocalGate with a Redis lease so that several gateway
// processes sharing one funding registry stay serialized.
type RedisGate struct {
	local   *LocalGate
	rdb     redis.UniversalClient
	ttl     time.Duration
	poll    time.Duration
	prefix  string
	release *redis.Script
}

// NewRedisGate returns a gate leasing keys in rdb. Zero durations select
// the defaults.
func NewRedisGate(rdb redis.UniversalClient, ttl,
	poll time.Duration) *RedisGate {

	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if poll <= 0 {
		poll = DefaultLeasePoll
	}
	return &RedisGate{
		local:   NewLocalGate(),
		rdb:     rdb,
		ttl:     ttl,
		poll:    poll,
		prefix:  "cgsd:gate:",
		release: redis.NewScript(luaReleaseLease),
	}
}

// ConnectRedis opens a client for addr and checks that the server answers.
func ConnectRedis(ctx context.Context, addr, password string,
	db int) (*redis.Client, error) {

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Acquire implements Gate.
func (g *RedisGate) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := g.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	leaseKey := g.prefix + key
	token := uuid.NewString()
	if err := g.lease(ctx, leaseKey, token); err != nil {
		releaseLocal()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The lease is dropped even when the request context is
			// already done.
			ctx, cancel := context.WithTimeout(
				context.Background(), 5*time.Second,
			)
			defer cancel()

			err := g.release.Run(ctx, g.rdb, []string{leaseKey},
				token).Err()
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Warnf("Unable to release lease %s: %v",
					leaseKey, err)
			}
			releaseLocal()
		})
	}, nil
}

// lease polls SET NX until the lease is obtained or ctx is done.
func (g *RedisGate) lease(ctx context.Context, key, token string) error {
	t := time.NewTicker(g.poll)
	defer t.Stop()

	for {
		ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
		if err != nil {
			return fmt.Errorf("lease %s: %w", key, err)
		}
		if ok {
			return nil
		}

		log.Debugf("Lease %s is held elsewhere, waiting", key)
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
