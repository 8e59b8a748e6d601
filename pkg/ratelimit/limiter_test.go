package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snapetech/slskdn-mesh/pkg/types"
)

const peerA = types.PeerID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func fixedLimiter(now time.Time) (*Limiter, *time.Time) {
	clock := now
	opts := DefaultOptions()
	opts.Now = func() time.Time { return clock }
	l := New(opts, nil)
	return l, &clock
}

func TestPreAuthExactLimit(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l, clock := fixedLimiter(now)
	limit := DefaultOptions().PreAuthLimit

	for i := 0; i < limit; i++ {
		require.True(t, l.AllowPreAuth("203.0.113.9:51820"), "call %d within limit", i+1)
	}
	require.False(t, l.AllowPreAuth("203.0.113.9:51820"), "call limit+1 must fail")

	// The window rolls over and the quota is restored.
	*clock = now.Add(DefaultOptions().Window)
	require.True(t, l.AllowPreAuth("203.0.113.9:51820"))
}

func TestPreAuthIsPerAddress(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l, _ := fixedLimiter(now)
	limit := DefaultOptions().PreAuthLimit

	for i := 0; i < limit; i++ {
		require.True(t, l.AllowPreAuth("203.0.113.9:51820"))
	}
	require.False(t, l.AllowPreAuth("203.0.113.9:51820"))
	require.True(t, l.AllowPreAuth("203.0.113.10:51820"), "another address has its own bucket")
}

func TestPostAuthQuotaIsLooser(t *testing.T) {
	opts := DefaultOptions()
	require.Greater(t, opts.PostAuthLimit, opts.PreAuthLimit,
		"verified identities earn a higher quota than anonymous addresses")

	now := time.UnixMilli(1_700_000_000_000)
	l, _ := fixedLimiter(now)
	for i := 0; i < opts.PostAuthLimit; i++ {
		require.True(t, l.AllowPostAuth(peerA))
	}
	require.False(t, l.AllowPostAuth(peerA))
}

func TestPurgeDropsStaleBuckets(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	l, clock := fixedLimiter(now)

	for i := 0; i < 5; i++ {
		require.True(t, l.AllowPreAuth(fmt.Sprintf("203.0.113.%d:1", i)))
	}
	l.mu.Lock()
	require.Len(t, l.pre, 5)
	l.mu.Unlock()

	*clock = now.Add(3 * DefaultOptions().Window)
	l.Purge()

	l.mu.Lock()
	require.Empty(t, l.pre)
	l.mu.Unlock()
}
