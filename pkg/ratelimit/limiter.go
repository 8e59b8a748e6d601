package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapetech/slskdn-mesh/pkg/types"
)

// Options configures the two control-traffic quotas. The pre-auth limit is
// deliberately stricter than the post-auth one: proving an identity is itself
// a cost, so authenticated traffic earns a higher quota.
type Options struct {
	Window        time.Duration
	PreAuthLimit  int
	PostAuthLimit int
	SweepInterval time.Duration
	Now           func() time.Time
}

// DefaultOptions returns the quotas a conforming peer applies.
func DefaultOptions() Options {
	return Options{
		Window:        10 * time.Second,
		PreAuthLimit:  30,
		PostAuthLimit: 300,
		SweepInterval: time.Minute,
	}
}

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter bounds inbound control traffic, separately for unauthenticated
// senders (by network address) and authenticated ones (by peer identity).
// Buckets reset on a fixed rolling window; there is no lock shared across
// unrelated keys beyond the map mutex.
type Limiter struct {
	mu   sync.Mutex
	pre  map[string]*bucket
	post map[types.PeerID]*bucket

	window    time.Duration
	preLimit  int
	postLimit int
	sweep     time.Duration
	now       func() time.Time

	logger *zap.Logger
	stopCh chan struct{}
}

// New creates a limiter. Start must be called to enable stale-bucket purging.
func New(opts Options, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Limiter{
		pre:       make(map[string]*bucket),
		post:      make(map[types.PeerID]*bucket),
		window:    opts.Window,
		preLimit:  opts.PreAuthLimit,
		postLimit: opts.PostAuthLimit,
		sweep:     opts.SweepInterval,
		now:       opts.Now,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic purge of stale buckets.
func (l *Limiter) Start() {
	go l.sweepLoop()
}

// Stop halts the purge sweep.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

// AllowPreAuth applies the coarse per-address quota used before any identity
// is established.
func (l *Limiter) AllowPreAuth(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.pre[addr]
	if b == nil {
		b = &bucket{}
		l.pre[addr] = b
	}
	if !l.take(b, l.preLimit) {
		l.logger.Warn("pre-auth rate limit exceeded", zap.String("addr", addr))
		return false
	}
	return true
}

// AllowPostAuth applies the looser per-identity quota for verified peers.
func (l *Limiter) AllowPostAuth(peer types.PeerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.post[peer]
	if b == nil {
		b = &bucket{}
		l.post[peer] = b
	}
	if !l.take(b, l.postLimit) {
		l.logger.Warn("post-auth rate limit exceeded", zap.String("peer", peer.Short()))
		return false
	}
	return true
}

func (l *Limiter) take(b *bucket, limit int) bool {
	now := l.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.count = 0
	}
	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

// Purge drops buckets whose window ended more than one window ago.
func (l *Limiter) Purge() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, b := range l.pre {
		if now.Sub(b.windowStart) >= 2*l.window {
			delete(l.pre, addr)
		}
	}
	for peer, b := range l.post {
		if now.Sub(b.windowStart) >= 2*l.window {
			delete(l.post, peer)
		}
	}
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Purge()
		case <-l.stopCh:
			return
		}
	}
}
