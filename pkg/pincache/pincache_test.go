package pincache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snapetech/slskdn-mesh/pkg/descriptor"
	"github.com/snapetech/slskdn-mesh/pkg/dht"
	"github.com/snapetech/slskdn-mesh/pkg/identity"
	"github.com/snapetech/slskdn-mesh/pkg/seqtrack"
	"github.com/snapetech/slskdn-mesh/pkg/wire"
)

const endpoint = "198.51.100.7:2234"

type fixture struct {
	store    *dht.MemoryStore
	registry *MemoryRegistry
	signer   *descriptor.Signer
	tracker  *seqtrack.Tracker
	cache    *PinCache
	remote   *identity.Identity
	clock    time.Time
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()

	key, err := seqtrack.DeriveStateKey([]byte("local-node-seed"))
	require.NoError(t, err)
	tracker, err := seqtrack.New(filepath.Join(t.TempDir(), "seqs.json"), key, nil)
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })

	remote, err := identity.Generate()
	require.NoError(t, err)

	f := &fixture{
		store:    dht.NewMemoryStore(),
		registry: NewMemoryRegistry(),
		signer:   descriptor.NewSigner(descriptor.DefaultLimits(), nil),
		tracker:  tracker,
		remote:   remote,
		clock:    time.Now(),
	}

	opts := DefaultOptions()
	opts.Policy = policy
	opts.Now = func() time.Time { return f.clock }
	f.cache = New(f.store, f.registry, f.signer, f.tracker, wire.DefaultSizeLimits(), opts, nil)

	f.registry.Bind(endpoint, remote.PeerID())
	return f
}

func (f *fixture) descriptor(seq uint64, pin string) *descriptor.Descriptor {
	now := time.Now()
	return &descriptor.Descriptor{
		PeerID:             f.remote.PeerID(),
		IdentityPublicKey:  f.remote.PublicKey,
		SchemaVersion:      descriptor.SchemaVersion,
		Endpoints:          []string{endpoint},
		ControlSigningKeys: [][]byte{f.remote.PublicKey},
		ControlPins:        []string{pin},
		DataPins:           []string{pin},
		IssuedAt:           now.UnixMilli(),
		ExpiresAt:          now.Add(time.Hour).UnixMilli(),
		DescriptorSeq:      seq,
	}
}

func (f *fixture) publish(t *testing.T, seq uint64, pin string) {
	t.Helper()
	err := Publish(context.Background(), f.store, f.signer, f.descriptor(seq, pin), f.remote.PrivateKey)
	require.NoError(t, err)
}

func TestFetchVerifyAndCache(t *testing.T) {
	f := newFixture(t, TrustFirstUse)
	pin := strings.Repeat("ab", 32)
	f.publish(t, 1, pin)

	ctx := context.Background()
	pins, err := f.cache.ControlPins(ctx, endpoint)
	require.NoError(t, err)
	require.Equal(t, []string{pin}, pins)

	dataPins, err := f.cache.DataPins(ctx, endpoint)
	require.NoError(t, err)
	require.Equal(t, []string{pin}, dataPins)

	// The verified entry is served from cache: even with the store emptied,
	// lookups keep succeeding until the TTL elapses.
	f.store.Delete(identity.DescriptorKey(f.remote.PeerID()))
	pins, err = f.cache.ControlPins(ctx, endpoint)
	require.NoError(t, err)
	require.Equal(t, []string{pin}, pins)

	keys, ok := f.cache.ControlKeys(f.remote.PeerID())
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte(f.remote.PublicKey)}, keys)
}

func TestCacheEntryExpires(t *testing.T) {
	f := newFixture(t, TrustFirstUse)
	pin := strings.Repeat("ab", 32)
	f.publish(t, 1, pin)

	ctx := context.Background()
	_, err := f.cache.ControlPins(ctx, endpoint)
	require.NoError(t, err)

	f.store.Delete(identity.DescriptorKey(f.remote.PeerID()))
	f.clock = f.clock.Add(DefaultOptions().TTL + time.Minute)

	_, err = f.cache.ControlPins(ctx, endpoint)
	require.ErrorIs(t, err, ErrNoPin, "expired entry forces a refetch, which finds nothing")

	_, ok := f.cache.ControlKeys(f.remote.PeerID())
	require.False(t, ok)
}

func TestRollbackDoesNotReplaceTrustedState(t *testing.T) {
	f := newFixture(t, TrustFirstUse)
	goodPin := strings.Repeat("ab", 32)
	f.publish(t, 2, goodPin)

	ctx := context.Background()
	pins, err := f.cache.ControlPins(ctx, endpoint)
	require.NoError(t, err)
	require.Equal(t, []string{goodPin}, pins)

	// The attacker replays an older, validly signed descriptor advertising
	// a different pin and forces a refetch.
	rolledBackPin := strings.Repeat("cd", 32)
	f.publish(t, 1, rolledBackPin)
	f.cache.Invalidate(f.remote.PeerID())

	_, err = f.cache.ControlPins(ctx, endpoint)
	require.ErrorIs(t, err, ErrNoPin, "rolled-back descriptor must not produce a pin")

	_, ok := f.cache.ControlKeys(f.remote.PeerID())
	require.False(t, ok, "the evicted entry is not replaced by the rolled-back one")

	seq, known := f.tracker.Last(f.remote.PeerID())
	require.True(t, known)
	require.Equal(t, uint64(2), seq, "the sequence floor is unchanged")
}

func TestUnknownEndpoint(t *testing.T) {
	f := newFixture(t, TrustFirstUse)
	_, err := f.cache.ControlPins(context.Background(), "192.0.2.1:1")
	require.ErrorIs(t, err, ErrNoPin)
}

func TestGarbageDescriptorTreatedAsAbsent(t *testing.T) {
	f := newFixture(t, TrustFirstUse)
	key := identity.DescriptorKey(f.remote.PeerID())
	require.NoError(t, f.store.Put(context.Background(), key, []byte("not a descriptor")))

	_, err := f.cache.ControlPins(context.Background(), endpoint)
	require.ErrorIs(t, err, ErrNoPin)
}

func TestTamperedSignatureTreatedAsAbsent(t *testing.T) {
	f := newFixture(t, TrustFirstUse)
	pin := strings.Repeat("ab", 32)

	d := f.descriptor(1, pin)
	require.NoError(t, f.signer.Sign(d, f.remote.PrivateKey))
	d.Signature[0] ^= 0x01
	raw, err := descriptor.Encode(d)
	require.NoError(t, err)
	key := identity.DescriptorKey(f.remote.PeerID())
	require.NoError(t, f.store.Put(context.Background(), key, raw))

	_, err = f.cache.ControlPins(context.Background(), endpoint)
	require.ErrorIs(t, err, ErrNoPin)
}

func TestRegistryMismatchTreatedAsAbsent(t *testing.T) {
	f := newFixture(t, TrustFirstUse)

	// A well-formed descriptor from a different identity, planted under the
	// expected peer's key.
	other, err := identity.Generate()
	require.NoError(t, err)
	now := time.Now()
	d := &descriptor.Descriptor{
		PeerID:             other.PeerID(),
		IdentityPublicKey:  other.PublicKey,
		SchemaVersion:      descriptor.SchemaVersion,
		Endpoints:          []string{endpoint},
		ControlSigningKeys: [][]byte{other.PublicKey},
		IssuedAt:           now.UnixMilli(),
		ExpiresAt:          now.Add(time.Hour).UnixMilli(),
		DescriptorSeq:      1,
	}
	require.NoError(t, f.signer.Sign(d, other.PrivateKey))
	raw, err := descriptor.Encode(d)
	require.NoError(t, err)
	key := identity.DescriptorKey(f.remote.PeerID())
	require.NoError(t, f.store.Put(context.Background(), key, raw))

	_, err = f.cache.ControlPins(context.Background(), endpoint)
	require.ErrorIs(t, err, ErrNoPin)
}

func TestCancelledFetchDoesNotPopulateCache(t *testing.T) {
	f := newFixture(t, TrustFirstUse)
	f.publish(t, 1, strings.Repeat("ab", 32))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.cache.ControlPins(ctx, endpoint)
	require.ErrorIs(t, err, context.Canceled)

	_, ok := f.cache.ControlKeys(f.remote.PeerID())
	require.False(t, ok)
}

func TestFirstContactPolicy(t *testing.T) {
	t.Run("require anchor refuses unknown peers", func(t *testing.T) {
		f := newFixture(t, RequireAnchor)
		f.publish(t, 2, strings.Repeat("ab", 32))

		_, err := f.cache.ControlPins(context.Background(), endpoint)
		require.ErrorIs(t, err, ErrNoPin)
	})

	t.Run("require anchor accepts anchored peers", func(t *testing.T) {
		f := newFixture(t, RequireAnchor)
		require.True(t, f.tracker.ValidateAndUpdate(f.remote.PeerID(), 1))
		f.publish(t, 2, strings.Repeat("ab", 32))

		_, err := f.cache.ControlPins(context.Background(), endpoint)
		require.NoError(t, err)
	})

	t.Run("trust on first use accepts unknown peers", func(t *testing.T) {
		f := newFixture(t, TrustFirstUse)
		f.publish(t, 1, strings.Repeat("ab", 32))

		_, err := f.cache.ControlPins(context.Background(), endpoint)
		require.NoError(t, err)
	})
}
