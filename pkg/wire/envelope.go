package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/snapetech/slskdn-mesh/pkg/types"
)

// MessageType is the closed set of control-plane message kinds. Dispatch
// switches over it exhaustively; an unknown value never reaches a handler.
type MessageType uint8

const (
	MessageInvalid MessageType = iota
	MessageHandshake
	MessagePing
	MessagePeerExchange
	MessageSwarmAnnounce
	MessageShareOffer
	MessageRevocation
)

// Valid reports whether t names a known message kind.
func (t MessageType) Valid() bool {
	switch t {
	case MessageHandshake, MessagePing, MessagePeerExchange,
		MessageSwarmAnnounce, MessageShareOffer, MessageRevocation:
		return true
	}
	return false
}

func (t MessageType) String() string {
	switch t {
	case MessageHandshake:
		return "handshake"
	case MessagePing:
		return "ping"
	case MessagePeerExchange:
		return "peer_exchange"
	case MessageSwarmAnnounce:
		return "swarm_announce"
	case MessageShareOffer:
		return "share_offer"
	case MessageRevocation:
		return "revocation"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(t))
	}
}

// Envelope is the unit of transport for control-plane messages. The payload
// is opaque to this layer; only the envelope fields participate in replay and
// signature checks.
type Envelope struct {
	Type            MessageType  `cbor:"1,keyasint" json:"type"`
	TimestampUnixMs int64        `cbor:"2,keyasint" json:"timestamp_unix_ms"`
	MessageID       string       `cbor:"3,keyasint" json:"message_id"`
	SenderPeerID    types.PeerID `cbor:"4,keyasint" json:"sender_peer_id"`
	Payload         []byte       `cbor:"5,keyasint" json:"payload"`
	Signature       []byte       `cbor:"6,keyasint,omitempty" json:"signature,omitempty"`
	SignerKeyID     string       `cbor:"7,keyasint,omitempty" json:"signer_key_id,omitempty"`
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
		MaxArrayElements: 64,
		MaxMapPairs:      64,
		MaxNestedLevels:  8,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// SigningPayload returns the canonical encoding of every envelope field
// except the signature.
func (e *Envelope) SigningPayload() ([]byte, error) {
	unsigned := *e
	unsigned.Signature = nil
	raw, err := encMode.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope payload: %w", err)
	}
	return raw, nil
}

// EncodeEnvelope serializes an envelope in deterministic CBOR.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	raw, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return raw, nil
}
