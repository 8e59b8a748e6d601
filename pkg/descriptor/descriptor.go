package descriptor

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/snapetech/slskdn-mesh/pkg/types"
)

// SchemaVersion is the only descriptor schema this build accepts.
const SchemaVersion = 1

// Descriptor is the signed, versioned record a peer publishes about itself.
// Once verified it is treated as immutable; a change to endpoints, pins, or
// signing keys produces a new descriptor with a higher DescriptorSeq.
type Descriptor struct {
	PeerID             types.PeerID `cbor:"1,keyasint" json:"peer_id"`
	IdentityPublicKey  []byte       `cbor:"2,keyasint" json:"identity_public_key"`
	SchemaVersion      uint32       `cbor:"3,keyasint" json:"schema_version"`
	Endpoints          []string     `cbor:"4,keyasint" json:"endpoints"`
	ControlSigningKeys [][]byte     `cbor:"5,keyasint" json:"control_signing_keys"`
	ControlPins        []string     `cbor:"6,keyasint" json:"control_pins"`
	DataPins           []string     `cbor:"7,keyasint" json:"data_pins"`
	IssuedAt           int64        `cbor:"8,keyasint" json:"issued_at"`
	ExpiresAt          int64        `cbor:"9,keyasint" json:"expires_at"`
	DescriptorSeq      uint64       `cbor:"10,keyasint" json:"descriptor_seq"`
	Signature          []byte       `cbor:"11,keyasint,omitempty" json:"signature,omitempty"`
}

// Limits bounds every list a descriptor may carry and its validity window.
// All cardinalities are checked before any content is trusted.
type Limits struct {
	MaxEndpoints      int
	MaxEndpointLength int
	MaxSigningKeys    int
	MaxPins           int
	MaxLifetime       time.Duration
	ClockSkew         time.Duration
}

// DefaultLimits returns the bounds a conforming peer enforces.
func DefaultLimits() Limits {
	return Limits{
		MaxEndpoints:      8,
		MaxEndpointLength: 256,
		MaxSigningKeys:    3,
		MaxPins:           4,
		MaxLifetime:       7 * 24 * time.Hour,
		ClockSkew:         2 * time.Minute,
	}
}

// Check validates the descriptor's structural bounds: list cardinalities,
// key sizes, and pin formats. It does not touch timestamps or the signature.
func (l Limits) Check(d *Descriptor) error {
	if len(d.Endpoints) > l.MaxEndpoints {
		return fmt.Errorf("descriptor lists %d endpoints, limit is %d", len(d.Endpoints), l.MaxEndpoints)
	}
	for _, ep := range d.Endpoints {
		if len(ep) == 0 || len(ep) > l.MaxEndpointLength {
			return fmt.Errorf("descriptor endpoint length %d out of bounds", len(ep))
		}
	}
	if len(d.ControlSigningKeys) == 0 {
		return fmt.Errorf("descriptor has no control signing keys")
	}
	if len(d.ControlSigningKeys) > l.MaxSigningKeys {
		return fmt.Errorf("descriptor lists %d signing keys, limit is %d", len(d.ControlSigningKeys), l.MaxSigningKeys)
	}
	for _, key := range d.ControlSigningKeys {
		if len(key) != 32 {
			return fmt.Errorf("descriptor signing key has length %d, want 32", len(key))
		}
	}
	if len(d.ControlPins) > l.MaxPins {
		return fmt.Errorf("descriptor lists %d control pins, limit is %d", len(d.ControlPins), l.MaxPins)
	}
	if len(d.DataPins) > l.MaxPins {
		return fmt.Errorf("descriptor lists %d data pins, limit is %d", len(d.DataPins), l.MaxPins)
	}
	for _, pin := range append(append([]string{}, d.ControlPins...), d.DataPins...) {
		raw, err := hex.DecodeString(pin)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("descriptor pin %q is not a hex SHA-256 digest", pin)
		}
	}
	return nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 128,
		MaxMapPairs:      128,
		MaxNestedLevels:  8,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes the descriptor, signature included, in deterministic CBOR.
func Encode(d *Descriptor) ([]byte, error) {
	raw, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode descriptor: %w", err)
	}
	return raw, nil
}

// Decode deserializes a descriptor. Callers must apply the raw byte ceiling
// before calling this and the structural Limits check after.
func Decode(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := decMode.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor: %w", err)
	}
	return &d, nil
}

// signingPayload is the canonical encoding of every field except Signature.
func signingPayload(d *Descriptor) ([]byte, error) {
	unsigned := *d
	unsigned.Signature = nil
	raw, err := encMode.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode descriptor payload: %w", err)
	}
	return raw, nil
}
