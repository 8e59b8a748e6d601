package pincache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapetech/slskdn-mesh/pkg/descriptor"
	"github.com/snapetech/slskdn-mesh/pkg/dht"
	"github.com/snapetech/slskdn-mesh/pkg/identity"
	"github.com/snapetech/slskdn-mesh/pkg/seqtrack"
	"github.com/snapetech/slskdn-mesh/pkg/types"
	"github.com/snapetech/slskdn-mesh/pkg/wire"
)

// ErrNoPin is the safe failure mode: the caller learns only that no verified
// pin is known for the endpoint. Whether an unpinned connection may proceed
// is the caller's policy, never this layer's.
var ErrNoPin = errors.New("pincache: no pin known")

// Policy controls first-contact trust for peers with no prior sequence
// record.
type Policy int

const (
	// TrustFirstUse accepts the first fully verified descriptor of an
	// unknown peer. The descriptor is still self-certifying; TOFU only
	// concedes that no prior sequence floor exists to compare against.
	TrustFirstUse Policy = iota
	// RequireAnchor refuses pins for peers never seen before, for
	// deployments that provision sequence anchors out of band.
	RequireAnchor
)

// TrustPin is the verified result the cache hands out: the pins a TLS
// channel to the peer must match. It exists only after a descriptor passed
// full verification.
type TrustPin struct {
	PeerID      types.PeerID
	ControlPins []string
	DataPins    []string
	ExpiresAt   time.Time
}

// Options configures the cache.
type Options struct {
	TTL    time.Duration
	Policy Policy
	Now    func() time.Time
}

// DefaultOptions returns the cache defaults.
func DefaultOptions() Options {
	return Options{TTL: 5 * time.Minute, Policy: TrustFirstUse}
}

type cacheEntry struct {
	pin         TrustPin
	signingKeys [][]byte
	seq         uint64
	fetchedAt   time.Time
}

// PinCache resolves a network endpoint to the peer's expected TLS pins by
// fetching, verifying, and caching its descriptor from the DHT. A descriptor
// failing any check is treated as absent.
type PinCache struct {
	mu    sync.RWMutex
	cache map[types.PeerID]*cacheEntry

	store    dht.Store
	registry Registry
	signer   *descriptor.Signer
	seqs     *seqtrack.Tracker
	limits   wire.SizeLimits

	ttl    time.Duration
	policy Policy
	now    func() time.Time
	logger *zap.Logger
}

// New wires the cache to its collaborators.
func New(store dht.Store, registry Registry, signer *descriptor.Signer, seqs *seqtrack.Tracker, limits wire.SizeLimits, opts Options, logger *zap.Logger) *PinCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	return &PinCache{
		cache:    make(map[types.PeerID]*cacheEntry),
		store:    store,
		registry: registry,
		signer:   signer,
		seqs:     seqs,
		limits:   limits,
		ttl:      opts.TTL,
		policy:   opts.Policy,
		now:      opts.Now,
		logger:   logger,
	}
}

// ControlPins returns the expected control-channel SPKI pins for endpoint.
func (c *PinCache) ControlPins(ctx context.Context, endpoint string) ([]string, error) {
	pin, err := c.lookup(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return pin.ControlPins, nil
}

// DataPins returns the expected data-channel SPKI pins for endpoint.
func (c *PinCache) DataPins(ctx context.Context, endpoint string) ([]string, error) {
	pin, err := c.lookup(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return pin.DataPins, nil
}

// ControlKeys returns the verified control-signing keys cached for peer.
// Only peers whose descriptor already passed full verification have keys
// here; there is no fetch on this path.
func (c *PinCache) ControlKeys(peer types.PeerID) ([][]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[peer]
	if !ok || c.expired(entry) {
		return nil, false
	}
	return entry.signingKeys, true
}

// Invalidate evicts any cached pin for peer.
func (c *PinCache) Invalidate(peer types.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, peer)
}

func (c *PinCache) lookup(ctx context.Context, endpoint string) (*TrustPin, error) {
	peer, ok := c.registry.PeerForEndpoint(endpoint)
	if !ok {
		return nil, ErrNoPin
	}

	c.mu.RLock()
	entry, ok := c.cache[peer]
	c.mu.RUnlock()
	if ok && !c.expired(entry) {
		pin := entry.pin
		return &pin, nil
	}

	raw, err := c.store.Get(ctx, identity.DescriptorKey(peer))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// A cancelled fetch must not populate the cache.
			return nil, ctxErr
		}
		if !errors.Is(err, dht.ErrNotFound) {
			c.logger.Error("descriptor fetch failed",
				zap.String("peer", peer.Short()),
				zap.Error(err))
		}
		return nil, ErrNoPin
	}

	d, err := c.limits.DecodeDescriptor(raw, c.signer.Limits())
	if err != nil {
		c.logger.Warn("descriptor rejected before decode completed",
			zap.String("peer", peer.Short()),
			zap.Error(err))
		return nil, ErrNoPin
	}

	if !c.signer.Verify(d) {
		return nil, ErrNoPin
	}
	if d.PeerID != peer {
		c.logger.Warn("descriptor peer id does not match registry binding",
			zap.String("endpoint", endpoint),
			zap.String("expected", peer.Short()),
			zap.String("got", d.PeerID.Short()))
		return nil, ErrNoPin
	}

	if _, known := c.seqs.Last(peer); !known && c.policy == RequireAnchor {
		c.logger.Warn("first-contact descriptor refused, no anchor on record",
			zap.String("peer", peer.Short()))
		return nil, ErrNoPin
	}

	if !c.seqs.ValidateAndUpdate(peer, d.DescriptorSeq) {
		// Rollback attempt: the stale cache entry, if any, stays as is and
		// is never replaced by the rolled-back descriptor.
		return nil, ErrNoPin
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.now()
	expires := now.Add(c.ttl)
	if descExpiry := time.UnixMilli(d.ExpiresAt); descExpiry.Before(expires) {
		expires = descExpiry
	}

	entry = &cacheEntry{
		pin: TrustPin{
			PeerID:      peer,
			ControlPins: d.ControlPins,
			DataPins:    d.DataPins,
			ExpiresAt:   expires,
		},
		signingKeys: d.ControlSigningKeys,
		seq:         d.DescriptorSeq,
		fetchedAt:   now,
	}

	c.mu.Lock()
	// A higher-sequence descriptor may have been cached while this fetch ran.
	if existing, ok := c.cache[peer]; !ok || existing.seq <= entry.seq {
		c.cache[peer] = entry
	} else {
		entry = existing
	}
	c.mu.Unlock()

	pin := entry.pin
	return &pin, nil
}

func (c *PinCache) expired(entry *cacheEntry) bool {
	return !c.now().Before(entry.pin.ExpiresAt)
}
