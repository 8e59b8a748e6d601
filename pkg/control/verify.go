package control

import (
	"crypto/ed25519"
	"fmt"

	"github.com/snapetech/slskdn-mesh/pkg/wire"
)

// Verify checks an envelope's signature against the caller-supplied list of
// a peer's control-signing keys, taken from its verified descriptor. A key
// carried in the envelope itself is never consulted: an attacker can embed
// any key and "prove" authorship of a forgery with it. Multiple keys are
// tried to support rotation; a peer typically advertises 1-3 at a time.
func Verify(e *wire.Envelope, allowedKeys [][]byte) bool {
	if e == nil || len(allowedKeys) == 0 {
		return false
	}
	if len(e.Signature) != ed25519.SignatureSize {
		return false
	}

	payload, err := e.SigningPayload()
	if err != nil {
		return false
	}

	for _, key := range allowedKeys {
		if len(key) != ed25519.PublicKeySize {
			continue
		}
		if ed25519.Verify(ed25519.PublicKey(key), payload, e.Signature) {
			return true
		}
	}
	return false
}

// Sign writes an envelope signature with one of the sender's control-signing
// keys.
func Sign(e *wire.Envelope, priv ed25519.PrivateKey) error {
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("control signing key has length %d, want %d", len(priv), ed25519.PrivateKeySize)
	}
	payload, err := e.SigningPayload()
	if err != nil {
		return err
	}
	e.Signature = ed25519.Sign(priv, payload)
	return nil
}
