package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-customer-orders/internal/logger"
)

// release deletes the key only while it still holds our token.
var release = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extend pushes the expiry out only while the key still holds our token.
var extend = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Options tune lock behaviour. Zero values fall back to defaults.
type Options struct {
	Prefix     string        // key prefix, default "customer-orders:lock:"
	TTL        time.Duration // lease length, renewed every TTL/3 while held; default 10s
	RetryDelay time.Duration // wait between attempts, default 25ms
}

// Locker is an orders.Locker shared by every instance pointed at the same
// Redis. The holder renews its lease until it unlocks; a lease expires
// after TTL only if its holder dies or loses Redis for that long.
type Locker struct {
	rdb  goredis.UniversalClient
	opts Options
	log  *logger.Logger
}

func New(rdb goredis.UniversalClient, opts Options, log *logger.Logger) *Locker {
	if opts.Prefix == "" {
		opts.Prefix = "customer-orders:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 25 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Locker{rdb: rdb, opts: opts, log: log.With("component", "redislock")}
}

// Dial connects to addr and checks the connection with a ping.
func Dial(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Lock retries SET NX until it wins or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	full := l.opts.Prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, full, token, l.opts.TTL).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("redis setnx %s: %w", full, err)
		}
		if ok {
			stop, done := make(chan struct{}), make(chan struct{})
			go l.renew(full, token, stop, done)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					l.unlock(full, token)
				})
			}, nil
		}
		t := time.NewTimer(l.opts.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Locker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := l.opts.TTL / 3
	if every <= 0 {
		every = time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := extend.Run(ctx, l.rdb, []string{key}, token, l.opts.TTL.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			l.log.Warn("redis lease renewal failed", "key", key, "error", err)
		case n == 0:
			l.log.Warn("lock lease lost while held", "key", key)
			return
		}
	}
}

func (l *Locker) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := release.Run(ctx, l.rdb, []string{key}, token).Int()
	if err != nil {
		l.log.Warn("redis unlock failed", "key", key, "error", err)
		return
	}
	if n == 0 {
		l.log.Warn("lock lease expired before unlock", "key", key)
	}
}
