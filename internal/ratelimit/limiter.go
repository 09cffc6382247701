// Package ratelimit admission-controls keyed operations to at most N per
// window. It prefers a shared Redis counter so limits hold across process
// instances, and degrades to a process-local counter when Redis is
// unreachable. Check never fails: the caller always gets a decision.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	defaultPrefix = "ratelimit"
)

// Result is one admission decision. RetryAfter (seconds until the window
// resets) is populated only when the call is denied.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
	RetryAfter int       `json:"retry_after,omitempty"`
}

// Status reports the current counter for one key.
type Status struct {
	Key       string    `json:"key"`
	Count     int64     `json:"count"`
	ResetTime time.Time `json:"reset_time"`
	Backend   string    `json:"backend"`
}

// ServiceStatus reports which backend is active. Entries is -1 under Redis:
// enumerating every key just to count them is not worth the round trips.
type ServiceStatus struct {
	Backend string `json:"backend"`
	Healthy bool   `json:"healthy"`
	Entries int    `json:"entries"`
}

type Limiter struct {
	rdb      *redis.Client
	local    *localStore
	prefix   string
	degraded atomic.Bool
	log      zerolog.Logger
}

// New builds a limiter. A non-empty redisURL selects Redis mode; an
// unparseable URL or a failed initial ping starts the limiter degraded.
// Degradation is permanent for the process lifetime.
func New(redisURL, prefix string, log zerolog.Logger) *Limiter {
	if prefix == "" {
		prefix = defaultPrefix
	}
	l := &Limiter{
		local:  newLocalStore(),
		prefix: prefix,
		log:    log,
	}

	if redisURL == "" {
		l.degraded.Store(true)
		return l
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid redis url, rate limiter using local fallback")
		l.degraded.Store(true)
		return l
	}
	l.rdb = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, rate limiter using local fallback")
		l.degraded.Store(true)
	}
	return l
}

func (l *Limiter) key(key string) string {
	return l.prefix + ":" + key
}

func (l *Limiter) usingRedis() bool {
	return l.rdb != nil && !l.degraded.Load()
}

// Backend reports which store is currently serving decisions.
func (l *Limiter) Backend() string {
	if l.usingRedis() {
		return BackendRedis
	}
	return BackendMemory
}

// degrade flips to the local backend for the remainder of the process.
func (l *Limiter) degrade(op string, err error) {
	if l.degraded.CompareAndSwap(false, true) {
		l.log.Warn().Err(err).Str("op", op).Msg("redis error, rate limiter degraded to local fallback")
	}
}

// Check counts one call against key and decides whether it is allowed.
// The Redis path issues a single pipelined INCR + PEXPIRE, refreshing the
// key's expiry on every call: the window reset is anchored to the most
// recent call, not a fixed calendar boundary.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	if l.usingRedis() {
		res, err := l.checkRedis(ctx, key, limit, window)
		if err == nil {
			return res
		}
		l.degrade("check", err)
	}
	return l.local.check(key, limit, window)
}

func (l *Limiter) checkRedis(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	k := l.key(key)
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	count := incr.Val()
	reset := time.Now().Add(window)
	res := Result{
		Allowed:   count <= int64(limit),
		ResetTime: reset,
	}
	if remaining := int64(limit) - count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	if !res.Allowed {
		res.RetryAfter = retryAfterSeconds(window)
	}
	return res, nil
}

// Status returns the current counter for key without incrementing it.
func (l *Limiter) Status(ctx context.Context, key string) Status {
	if l.usingRedis() {
		st, err := l.statusRedis(ctx, key)
		if err == nil {
			return st
		}
		l.degrade("status", err)
	}
	return l.local.status(key)
}

func (l *Limiter) statusRedis(ctx context.Context, key string) (Status, error) {
	k := l.key(key)
	count, err := l.rdb.Get(ctx, k).Int64()
	if err == redis.Nil {
		return Status{Key: key, Backend: BackendRedis}, nil
	}
	if err != nil {
		return Status{}, err
	}
	ttl, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Status{}, err
	}
	st := Status{Key: key, Count: count, Backend: BackendRedis}
	if ttl > 0 {
		st.ResetTime = time.Now().Add(ttl)
	}
	return st, nil
}

// Reset clears the counter for one key on both backends.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	l.local.reset(key)
	if l.usingRedis() {
		if err := l.rdb.Del(ctx, l.key(key)).Err(); err != nil {
			l.degrade("reset", err)
			return err
		}
	}
	return nil
}

// ClearAll purges every rate limit entry. Under Redis this scans the
// limiter's key prefix and bulk-deletes the matches.
func (l *Limiter) ClearAll(ctx context.Context) error {
	l.local.clear()
	if !l.usingRedis() {
		return nil
	}

	iter := l.rdb.Scan(ctx, 0, l.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		l.degrade("clear", err)
		return err
	}
	if len(keys) > 0 {
		if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
			l.degrade("clear", err)
			return err
		}
	}
	return nil
}

// CleanupExpired sweeps expired local entries. Under Redis this is a no-op:
// key TTLs handle expiry server-side.
func (l *Limiter) CleanupExpired() int {
	if l.usingRedis() {
		return 0
	}
	return l.local.sweep()
}

// ServiceStatus reports the active backend and its health.
func (l *Limiter) ServiceStatus(ctx context.Context) ServiceStatus {
	if l.usingRedis() {
		healthy := l.rdb.Ping(ctx).Err() == nil
		return ServiceStatus{Backend: BackendRedis, Healthy: healthy, Entries: -1}
	}
	return ServiceStatus{Backend: BackendMemory, Healthy: true, Entries: l.local.len()}
}

// Close releases the Redis connection, if any.
func (l *Limiter) Close() error {
	if l.rdb != nil {
		return l.rdb.Close()
	}
	return nil
}

func retryAfterSeconds(until time.Duration) int {
	s := int((until + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
