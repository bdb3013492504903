package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Adaptive caps concurrent fetches per source host and, when backed by
// redis, keeps a shared cooldown breaker for hosts that keep failing.
type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

type Options struct {
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// New returns a limiter. rdb may be nil, in which case the breaker is
// always closed and only the in-process slots apply.
func New(rdb *redis.Client, opts Options) *Adaptive {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	return &Adaptive{
		rdb:         rdb,
		maxInflight: opts.MaxInflight,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		sem:         map[string]chan struct{}{},
	}
}

func (a *Adaptive) key(host string) string {
	return fmt.Sprintf("cb:source:%s", strings.ToLower(host))
}

// IsOpen returns true if the breaker for host is open (cooldown active).
func (a *Adaptive) IsOpen(ctx context.Context, host string) bool {
	if a.rdb == nil {
		return false
	}
	ts, err := a.rdb.Get(ctx, a.key(host)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < ts
}

// Open sets or extends the cooldown; each consecutive failure doubles it
// up to maxBackoff.
func (a *Adaptive) Open(ctx context.Context, host string) time.Duration {
	if a.rdb == nil {
		return 0
	}
	k := a.key(host)
	var incr *redis.IntCmd
	_, _ = a.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k+":attempts")
		p.Expire(ctx, k+":attempts", a.attemptsTTL())
		return nil
	})
	attempts, _ := incr.Result()
	d := Backoff(attempts, a.baseBackoff, a.maxBackoff)
	until := time.Now().Add(d).Unix()
	_ = a.rdb.Set(ctx, k, until, d).Err()
	return d
}

// attemptsTTL bounds how long a failure streak is remembered once a host
// stops failing without ever being closed.
func (a *Adaptive) attemptsTTL() time.Duration { return 2 * a.maxBackoff }

// Close resets the breaker for host.
func (a *Adaptive) Close(ctx context.Context, host string) {
	if a.rdb == nil {
		return
	}
	k := a.key(host)
	_ = a.rdb.Del(ctx, k, k+":attempts").Err()
}

// Backoff returns base doubled per attempt after the first, capped at max.
func Backoff(attempts int64, base, max time.Duration) time.Duration {
	d := base
	for i := int64(1); i < attempts && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Allow tries to reserve an in-process slot for host. It returns a release
// function and true if allowed; otherwise a no-op and false.
func (a *Adaptive) Allow(host string) (func(), bool) {
	key := strings.ToLower(host)
	a.mu.Lock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	a.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}
