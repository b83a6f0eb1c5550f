// Package ratelimit keeps the distributed concurrent- and monthly-deployment
// counters every tenant is admitted against, backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/obtura/deploy-core/internal/errs"
)

const (
	concurrentTTL = 2 * time.Hour
	monthlyTTL    = 60 * 24 * time.Hour
)

// admitScript checks the concurrent and monthly counters against their caps
// and increments both in the same invocation, so two Admit calls racing for
// the last slot can never both observe room and both succeed: Redis runs
// the whole script single-threaded.
var admitScript = redis.NewScript(`
	local concurrent_key = KEYS[1]
	local monthly_key = KEYS[2]
	local max_concurrent = tonumber(ARGV[1])
	local max_monthly = tonumber(ARGV[2])
	local concurrent_ttl = tonumber(ARGV[3])
	local monthly_ttl = tonumber(ARGV[4])

	local concurrent = tonumber(redis.call('GET', concurrent_key)) or 0
	if concurrent >= max_concurrent then
		return {0, concurrent, 0}
	end

	local monthly = tonumber(redis.call('GET', monthly_key)) or 0
	if monthly >= max_monthly then
		return {0, concurrent, monthly}
	end

	concurrent = redis.call('INCR', concurrent_key)
	redis.call('EXPIRE', concurrent_key, concurrent_ttl)
	monthly = redis.call('INCR', monthly_key)
	redis.call('EXPIRE', monthly_key, monthly_ttl)

	return {1, concurrent, monthly}
`)

// Limiter guards per-company concurrent/monthly deployment counters.
type Limiter struct {
	redis *redis.Client
}

func New(redisURL string) (*Limiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Limiter{redis: client}, nil
}

func concurrentKey(companyID string) string {
	return fmt.Sprintf("deployments:concurrent:company:%s", companyID)
}

func monthlyKey(companyID string, at time.Time) string {
	return fmt.Sprintf("deployments:monthly:company:%s:%s", companyID, at.Format("200601"))
}

// Release decrements the concurrent counter it was issued for. It is safe
// to call more than once; only the first call has any effect.
type Release func(ctx context.Context) error

// Admit checks the company's concurrent and monthly counters against
// maxConcurrent/maxMonthly and increments both in one atomic round trip via
// admitScript, so two concurrent callers racing for the last slot can never
// both be admitted. Returns a Release the caller must invoke exactly once
// on every exit path. Admit fails with errs.Quota if either cap is already
// reached.
func (l *Limiter) Admit(ctx context.Context, companyID string, maxConcurrent, maxMonthly int) (Release, error) {
	ck := concurrentKey(companyID)
	mk := monthlyKey(companyID, time.Now())

	res, err := admitScript.Run(ctx, l.redis, []string{ck, mk},
		maxConcurrent, maxMonthly, int(concurrentTTL.Seconds()), int(monthlyTTL.Seconds()),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("checking and incrementing deployment counters: %w", err)
	}

	allowed, _ := res[0].(int64)
	if allowed == 0 {
		concurrent, _ := res[1].(int64)
		monthly, _ := res[2].(int64)
		if concurrent >= int64(maxConcurrent) {
			return nil, errs.New(errs.Quota, fmt.Errorf("concurrent deployment limit reached (%d/%d)", concurrent, maxConcurrent))
		}
		return nil, errs.New(errs.Quota, fmt.Errorf("monthly deployment limit reached (%d/%d)", monthly, maxMonthly))
	}

	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		return l.redis.Decr(ctx, ck).Err()
	}, nil
}

// Concurrent returns the current in-flight count for a company.
func (l *Limiter) Concurrent(ctx context.Context, companyID string) (int, error) {
	n, err := l.redis.Get(ctx, concurrentKey(companyID)).Int()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return n, nil
}

// SetConcurrent forces the concurrent counter to an absolute value, used by
// the reconciler to true it up against the SQL store.
func (l *Limiter) SetConcurrent(ctx context.Context, companyID string, n int) error {
	return l.redis.Set(ctx, concurrentKey(companyID), n, concurrentTTL).Err()
}

func (l *Limiter) Close() error {
	return l.redis.Close()
}
