package replay

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapetech/slskdn-mesh/pkg/types"
	"github.com/snapetech/slskdn-mesh/pkg/wire"
)

// Options configures the replay cache windows.
type Options struct {
	// MaxSkew bounds how far an envelope timestamp may deviate from the
	// receiver's wall clock in either direction.
	MaxSkew time.Duration
	// Retention is how long a message id stays in the seen set.
	Retention time.Duration
	// SweepInterval is how often expired entries are purged.
	SweepInterval time.Duration
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// DefaultOptions returns the windows a conforming peer uses.
func DefaultOptions() Options {
	return Options{
		MaxSkew:       2 * time.Minute,
		Retention:     10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Cache tracks recently seen control-message ids per peer and enforces the
// clock-skew window. Entries are keyed per peer so one noisy peer cannot
// evict another's replay history.
type Cache struct {
	mu   sync.Mutex
	seen map[types.PeerID]map[string]time.Time

	maxSkew   time.Duration
	retention time.Duration
	sweep     time.Duration
	now       func() time.Time

	logger *zap.Logger
	stopCh chan struct{}
}

// New creates a replay cache. Start must be called to enable the purge sweep.
func New(opts Options, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Cache{
		seen:      make(map[types.PeerID]map[string]time.Time),
		maxSkew:   opts.MaxSkew,
		retention: opts.Retention,
		sweep:     opts.SweepInterval,
		now:       opts.Now,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic purge sweep.
func (c *Cache) Start() {
	go c.sweepLoop()
}

// Stop halts the purge sweep.
func (c *Cache) Stop() {
	close(c.stopCh)
}

// ValidateAndRecord checks the envelope timestamp against the skew window,
// then the message id against the seen set. Only an envelope passing both is
// recorded, so a legitimate retry after a rejected replay is not itself
// blocked.
func (c *Cache) ValidateAndRecord(peer types.PeerID, e *wire.Envelope) bool {
	now := c.now()
	ts := time.UnixMilli(e.TimestampUnixMs)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > c.maxSkew {
		c.logger.Warn("envelope rejected: timestamp outside skew window",
			zap.String("peer", peer.Short()),
			zap.String("message_id", e.MessageID),
			zap.Duration("skew", skew))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.seen[peer]
	if ids == nil {
		ids = make(map[string]time.Time)
		c.seen[peer] = ids
	}
	if seenAt, ok := ids[e.MessageID]; ok && now.Sub(seenAt) <= c.retention {
		c.logger.Warn("envelope rejected: replayed message id",
			zap.String("peer", peer.Short()),
			zap.String("message_id", e.MessageID))
		return false
	}

	ids[e.MessageID] = now
	return true
}

// Purge drops entries older than the retention window.
func (c *Cache) Purge() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for peer, ids := range c.seen {
		for id, seenAt := range ids {
			if now.Sub(seenAt) > c.retention {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(c.seen, peer)
		}
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Purge()
		case <-c.stopCh:
			return
		}
	}
}
