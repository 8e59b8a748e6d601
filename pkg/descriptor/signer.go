package descriptor

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/snapetech/slskdn-mesh/pkg/identity"
)

// Signer signs the local node's descriptors and verifies remote ones.
// Verification never panics on malformed input; malformed input is simply
// untrusted.
type Signer struct {
	limits Limits
	logger *zap.Logger
	now    func() time.Time
}

// NewSigner creates a signer enforcing the given limits.
func NewSigner(limits Limits, logger *zap.Logger) *Signer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Signer{
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (s *Signer) SetClock(now func() time.Time) {
	s.now = now
}

// Limits returns the bounds this signer enforces.
func (s *Signer) Limits() Limits {
	return s.limits
}

// Sign validates the descriptor's bounds, then writes an Ed25519 signature
// over its canonical payload. Out-of-bounds input is a programmer error at
// the construction site and fails loudly before any signature work.
func (s *Signer) Sign(d *Descriptor, priv ed25519.PrivateKey) error {
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("identity private key has length %d, want %d", len(priv), ed25519.PrivateKeySize)
	}
	if err := s.limits.Check(d); err != nil {
		return fmt.Errorf("descriptor out of bounds: %w", err)
	}
	if d.SchemaVersion != SchemaVersion {
		return fmt.Errorf("descriptor schema version %d, want %d", d.SchemaVersion, SchemaVersion)
	}
	if d.ExpiresAt <= d.IssuedAt {
		return fmt.Errorf("descriptor expires before it is issued")
	}
	if time.Duration(d.ExpiresAt-d.IssuedAt)*time.Millisecond > s.limits.MaxLifetime {
		return fmt.Errorf("descriptor lifetime exceeds %s", s.limits.MaxLifetime)
	}

	payload, err := signingPayload(d)
	if err != nil {
		return err
	}
	d.Signature = ed25519.Sign(priv, payload)
	return nil
}

// Verify checks, in order: schema version, bounded-list cardinalities, the
// validity window, PeerID derivation, and finally the signature. Any failure
// yields false with no partial trust.
func (s *Signer) Verify(d *Descriptor) bool {
	if d == nil {
		return false
	}
	if d.SchemaVersion != SchemaVersion {
		s.logger.Warn("descriptor rejected: schema version mismatch",
			zap.Uint32("schema_version", d.SchemaVersion),
			zap.String("peer", d.PeerID.Short()))
		return false
	}
	if err := s.limits.Check(d); err != nil {
		s.logger.Warn("descriptor rejected: bounds violation",
			zap.String("peer", d.PeerID.Short()),
			zap.Error(err))
		return false
	}

	now := s.now()
	issued := time.UnixMilli(d.IssuedAt)
	expires := time.UnixMilli(d.ExpiresAt)
	if !expires.After(issued) {
		return false
	}
	if expires.Sub(issued) > s.limits.MaxLifetime {
		s.logger.Warn("descriptor rejected: lifetime exceeds maximum",
			zap.String("peer", d.PeerID.Short()),
			zap.Duration("lifetime", expires.Sub(issued)))
		return false
	}
	if issued.After(now.Add(s.limits.ClockSkew)) {
		s.logger.Warn("descriptor rejected: issued in the future",
			zap.String("peer", d.PeerID.Short()),
			zap.Time("issued_at", issued))
		return false
	}
	if now.After(expires.Add(s.limits.ClockSkew)) {
		s.logger.Warn("descriptor rejected: expired",
			zap.String("peer", d.PeerID.Short()),
			zap.Time("expires_at", expires))
		return false
	}

	if len(d.IdentityPublicKey) != ed25519.PublicKeySize {
		return false
	}
	pub := ed25519.PublicKey(d.IdentityPublicKey)
	if identity.PeerIDFromPublicKey(pub) != d.PeerID {
		s.logger.Warn("descriptor rejected: peer id does not match identity key",
			zap.String("peer", d.PeerID.Short()))
		return false
	}

	if len(d.Signature) != ed25519.SignatureSize {
		return false
	}
	payload, err := signingPayload(d)
	if err != nil {
		return false
	}
	if !ed25519.Verify(pub, payload, d.Signature) {
		s.logger.Warn("descriptor rejected: invalid signature",
			zap.String("peer", d.PeerID.Short()),
			zap.Uint64("descriptor_seq", d.DescriptorSeq))
		return false
	}

	return true
}
