package seqtrack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/snapetech/slskdn-mesh/pkg/types"
)

const stateKeyInfo = "slskdn-mesh/seqtrack/v1"

// DeriveStateKey derives the HMAC key protecting the persisted sequence state
// from a locally held secret, normally the identity private key's seed. A
// remote attacker who can edit the state file cannot forge a valid tag
// without that secret.
func DeriveStateKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(stateKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive state key: %w", err)
	}
	return key, nil
}

// stateFile is the on-disk shape: the sequence table plus an HMAC tag over
// its canonical JSON encoding.
type stateFile struct {
	Seqs map[types.PeerID]uint64 `json:"seqs"`
	Tag  string                  `json:"tag"`
}

// Tracker persists, per remote peer, the highest descriptor sequence ever
// accepted, and rejects anything that does not strictly increase it. The
// accept decision is synchronous; persistence is a best-effort background
// flush with Flush/Close for shutdown paths and tests.
type Tracker struct {
	mu    sync.Mutex
	path  string
	key   []byte
	seqs  map[types.PeerID]uint64
	dirty bool

	logger  *zap.Logger
	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New loads any persisted state from path, discarding it if the integrity
// tag does not verify, and starts the background flusher.
func New(path string, key []byte, logger *zap.Logger) (*Tracker, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("missing state key")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracker{
		path:    path,
		key:     key,
		seqs:    make(map[types.PeerID]uint64),
		logger:  logger,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	t.load()

	go t.flushLoop()
	return t, nil
}

// ValidateAndUpdate accepts newSeq for peer only if it strictly exceeds the
// last accepted sequence (0 if the peer is unseen), records it, and schedules
// a flush. A rejected sequence is a rollback signal.
func (t *Tracker) ValidateAndUpdate(peer types.PeerID, newSeq uint64) bool {
	t.mu.Lock()
	last := t.seqs[peer]
	if newSeq <= last {
		t.mu.Unlock()
		t.logger.Warn("descriptor sequence rollback rejected",
			zap.String("peer", peer.Short()),
			zap.Uint64("last_seq", last),
			zap.Uint64("offered_seq", newSeq))
		return false
	}
	t.seqs[peer] = newSeq
	t.dirty = true
	t.mu.Unlock()

	select {
	case t.flushCh <- struct{}{}:
	default:
	}
	return true
}

// Last returns the highest accepted sequence for peer and whether the peer
// has ever been seen.
func (t *Tracker) Last(peer types.PeerID) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq, ok := t.seqs[peer]
	return seq, ok
}

// Flush writes the current state synchronously.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	seqs := make(map[types.PeerID]uint64, len(t.seqs))
	for peer, seq := range t.seqs {
		seqs[peer] = seq
	}
	t.dirty = false
	t.mu.Unlock()

	payload, err := json.Marshal(seqs)
	if err != nil {
		return fmt.Errorf("failed to encode sequence state: %w", err)
	}
	state := stateFile{
		Seqs: seqs,
		Tag:  hex.EncodeToString(t.tag(payload)),
	}
	data, err := json.Marshal(&state)
	if err != nil {
		return fmt.Errorf("failed to encode sequence state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write sequence state: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace sequence state: %w", err)
	}
	return nil
}

// Close stops the background flusher and performs a final synchronous flush.
func (t *Tracker) Close() error {
	close(t.stopCh)
	<-t.doneCh
	return t.Flush()
}

func (t *Tracker) flushLoop() {
	defer close(t.doneCh)
	for {
		select {
		case <-t.flushCh:
			if err := t.Flush(); err != nil {
				t.logger.Error("sequence state flush failed", zap.Error(err))
			}
		case <-t.stopCh:
			return
		}
	}
}

// load reads persisted state, trusting it only if the tag verifies. A bad
// tag degrades to "no prior sequence known" so the process stays available
// under tampering.
func (t *Tracker) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Error("failed to read sequence state", zap.Error(err))
		}
		return
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		t.logger.Warn("sequence state unreadable, starting empty", zap.Error(err))
		return
	}
	if state.Seqs == nil {
		state.Seqs = make(map[types.PeerID]uint64)
	}

	payload, err := json.Marshal(state.Seqs)
	if err != nil {
		t.logger.Warn("sequence state unreadable, starting empty", zap.Error(err))
		return
	}
	tag, err := hex.DecodeString(state.Tag)
	if err != nil || !hmac.Equal(tag, t.tag(payload)) {
		t.logger.Warn("sequence state integrity tag invalid, starting empty",
			zap.String("path", t.path))
		return
	}

	t.seqs = state.Seqs
}

func (t *Tracker) tag(payload []byte) []byte {
	mac := hmac.New(sha256.New, t.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
