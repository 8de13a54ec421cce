package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/docuchat/internal/logger"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Unlimited admits everything. It is used when no Redis is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// FixedWindow counts requests per key in fixed windows stored in Redis.
type FixedWindow struct {
	limit  int64
	window time.Duration
	now    func() time.Time
	incr   func(ctx context.Context, key string, ttl time.Duration) (int64, error)
	log    *logrus.Entry
}

// NewFixedWindow allows limit requests per window for every key. Windows
// are whole seconds; shorter ones are raised to one second and a zero window
// means one minute.
func NewFixedWindow(client redis.Cmdable, limit int, window time.Duration) *FixedWindow {
	switch {
	case window <= 0:
		window = time.Minute
	case window < time.Second:
		window = time.Second
	default:
		window = window.Truncate(time.Second)
	}
	return &FixedWindow{
		limit:  int64(limit),
		window: window,
		now:    time.Now,
		incr: func(ctx context.Context, key string, ttl time.Duration) (int64, error) {
			var count *redis.IntCmd
			_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
				count = p.Incr(ctx, key)
				p.Expire(ctx, key, ttl)
				return nil
			})
			if err != nil {
				return 0, err
			}
			return count.Val(), nil
		},
		log: logger.New("ratelimit"),
	}
}

func (l *FixedWindow) windowKey(key string) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, l.now().Unix()/int64(l.window/time.Second))
}

// Allow increments the current window. Redis failures admit the request and
// are returned alongside so callers can log them.
func (l *FixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	n, err := l.incr(ctx, l.windowKey(key), l.window+time.Second)
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
		return true, err
	}
	return n <= l.limit, nil
}
