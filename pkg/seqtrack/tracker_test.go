package seqtrack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snapetech/slskdn-mesh/pkg/types"
)

const peerA = types.PeerID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
const peerB = types.PeerID("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

func newTestTracker(t *testing.T, path string) *Tracker {
	t.Helper()
	key, err := DeriveStateKey([]byte("test-identity-seed"))
	require.NoError(t, err)
	tr, err := New(path, key, nil)
	require.NoError(t, err)
	return tr
}

func TestSequenceMonotonicity(t *testing.T) {
	tr := newTestTracker(t, filepath.Join(t.TempDir(), "seqs.json"))
	defer tr.Close()

	require.True(t, tr.ValidateAndUpdate(peerA, 5))
	require.False(t, tr.ValidateAndUpdate(peerA, 5), "equal sequence is a rollback")
	require.False(t, tr.ValidateAndUpdate(peerA, 3), "lower sequence is a rollback")
	require.True(t, tr.ValidateAndUpdate(peerA, 6))

	seq, known := tr.Last(peerA)
	require.True(t, known)
	require.Equal(t, uint64(6), seq, "accepted sequence becomes the new floor")
}

func TestPerPeerIsolation(t *testing.T) {
	tr := newTestTracker(t, filepath.Join(t.TempDir(), "seqs.json"))
	defer tr.Close()

	require.True(t, tr.ValidateAndUpdate(peerA, 10))
	require.True(t, tr.ValidateAndUpdate(peerB, 1), "peers track independent floors")
}

func TestPersistenceRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seqs.json")

	tr := newTestTracker(t, path)
	require.True(t, tr.ValidateAndUpdate(peerA, 42))
	require.NoError(t, tr.Close())

	reopened := newTestTracker(t, path)
	defer reopened.Close()

	require.False(t, reopened.ValidateAndUpdate(peerA, 42), "floor must survive restart")
	require.True(t, reopened.ValidateAndUpdate(peerA, 43))
}

func TestTamperedStateDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seqs.json")

	tr := newTestTracker(t, path)
	require.True(t, tr.ValidateAndUpdate(peerA, 42))
	require.NoError(t, tr.Close())

	// Lower the persisted floor directly, keeping the file well-formed.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var state stateFile
	require.NoError(t, json.Unmarshal(data, &state))
	state.Seqs[peerA] = 1
	tampered, err := json.Marshal(&state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0600))

	// The tag no longer verifies, so the state degrades to "nothing known"
	// rather than accepting the attacker's lowered floor.
	reopened := newTestTracker(t, path)
	defer reopened.Close()

	_, known := reopened.Last(peerA)
	require.False(t, known)
	require.True(t, reopened.ValidateAndUpdate(peerA, 1))
}

func TestWrongKeyDiscardsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seqs.json")

	tr := newTestTracker(t, path)
	require.True(t, tr.ValidateAndUpdate(peerA, 7))
	require.NoError(t, tr.Close())

	otherKey, err := DeriveStateKey([]byte("different-seed"))
	require.NoError(t, err)
	reopened, err := New(path, otherKey, nil)
	require.NoError(t, err)
	defer reopened.Close()

	_, known := reopened.Last(peerA)
	require.False(t, known)
}

func TestFlushWithoutChangesIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seqs.json")
	tr := newTestTracker(t, path)
	defer tr.Close()

	require.NoError(t, tr.Flush())
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "nothing accepted, nothing written")
}
