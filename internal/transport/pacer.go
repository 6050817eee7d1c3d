package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Pacer spaces consecutive provider calls. Wait returns only when the
// caller may send or ctx is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedPacer keeps at least Delay between sends of one process.
type FixedPacer struct {
	Delay time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewFixedPacer(delay time.Duration) *FixedPacer {
	return &FixedPacer{Delay: delay, now: time.Now}
}

func (p *FixedPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Delay > 0 && !p.last.IsZero() {
		if wait := p.last.Add(p.Delay).Sub(p.now()); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.last = p.now()
	return nil
}

type slotClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisPacer shares one send slot per Delay across every dispatcher
// process using SET NX PX. When Redis is unreachable it degrades to a local
// fixed delay.
type RedisPacer struct {
	Key   string
	Delay time.Duration

	client   slotClient
	owner    string
	fallback *FixedPacer
}

func NewRedisPacer(client slotClient, key string, delay time.Duration) *RedisPacer {
	return &RedisPacer{
		Key:      key,
		Delay:    delay,
		client:   client,
		owner:    uuid.NewString(),
		fallback: NewFixedPacer(delay),
	}
}

func (p *RedisPacer) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	for {
		ok, err := p.client.SetNX(ctx, p.Key, p.owner, p.Delay).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithError(err).Warn("redis pacer unavailable, using local delay")
			return p.fallback.Wait(ctx)
		}
		if ok {
			return nil
		}

		ttl, err := p.client.PTTL(ctx, p.Key).Result()
		if err != nil || ttl <= 0 {
			ttl = 10 * time.Millisecond
		}
		if ttl > p.Delay {
			ttl = p.Delay
		}
		if err := sleep(ctx, ttl); err != nil {
			return err
		}
	}
}

// NewRedisClient parses url and fails fast if the server is unreachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
