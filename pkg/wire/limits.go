package wire

import (
	"fmt"

	"github.com/snapetech/slskdn-mesh/pkg/descriptor"
)

// SizeLimits are the hard byte ceilings applied to untrusted payloads before
// any structured decode is attempted. They are part of the wire contract:
// a conforming peer enforces the same ceilings to avoid becoming an
// amplification vector.
type SizeLimits struct {
	MaxEnvelopeBytes   int
	MaxPayloadBytes    int
	MaxMessageIDLength int
	MaxDescriptorBytes int
}

// DefaultSizeLimits returns the ceilings a conforming peer enforces. The
// descriptor ceiling is deliberately larger than the envelope ceiling.
func DefaultSizeLimits() SizeLimits {
	return SizeLimits{
		MaxEnvelopeBytes:   16 << 10,
		MaxPayloadBytes:    12 << 10,
		MaxMessageIDLength: 64,
		MaxDescriptorBytes: 64 << 10,
	}
}

// DecodeEnvelope applies the raw byte ceiling, decodes, then re-checks the
// decoded structure: a small wire payload can still describe oversized fields.
func (l SizeLimits) DecodeEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty envelope")
	}
	if len(raw) > l.MaxEnvelopeBytes {
		return nil, fmt.Errorf("envelope size %d exceeds ceiling %d", len(raw), l.MaxEnvelopeBytes)
	}

	var e Envelope
	if err := decMode.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	if !e.Type.Valid() {
		return nil, fmt.Errorf("unknown message type %d", uint8(e.Type))
	}
	if e.MessageID == "" || len(e.MessageID) > l.MaxMessageIDLength {
		return nil, fmt.Errorf("message id length %d out of bounds", len(e.MessageID))
	}
	if !e.SenderPeerID.Valid() {
		return nil, fmt.Errorf("malformed sender peer id")
	}
	if len(e.Payload) > l.MaxPayloadBytes {
		return nil, fmt.Errorf("payload size %d exceeds ceiling %d", len(e.Payload), l.MaxPayloadBytes)
	}
	return &e, nil
}

// DecodeDescriptor applies the descriptor's own raw ceiling, decodes, and
// re-checks field cardinalities against the structural bounds.
func (l SizeLimits) DecodeDescriptor(raw []byte, bounds descriptor.Limits) (*descriptor.Descriptor, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty descriptor")
	}
	if len(raw) > l.MaxDescriptorBytes {
		return nil, fmt.Errorf("descriptor size %d exceeds ceiling %d", len(raw), l.MaxDescriptorBytes)
	}

	d, err := descriptor.Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := bounds.Check(d); err != nil {
		return nil, err
	}
	return d, nil
}
