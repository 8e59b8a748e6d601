package control

import (
	"go.uber.org/zap"

	"github.com/snapetech/slskdn-mesh/pkg/ratelimit"
	"github.com/snapetech/slskdn-mesh/pkg/replay"
	"github.com/snapetech/slskdn-mesh/pkg/types"
	"github.com/snapetech/slskdn-mesh/pkg/wire"
)

// RejectReason is the closed set of admission outcomes. The dispatch layer
// switches over it exhaustively.
type RejectReason int

const (
	Admitted RejectReason = iota
	RejectOversize
	RejectRateLimited
	RejectMalformed
	RejectUnknownSender
	RejectReplay
	RejectBadSignature
)

func (r RejectReason) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case RejectOversize:
		return "oversize"
	case RejectRateLimited:
		return "rate_limited"
	case RejectMalformed:
		return "malformed"
	case RejectUnknownSender:
		return "unknown_sender"
	case RejectReplay:
		return "replay"
	case RejectBadSignature:
		return "bad_signature"
	default:
		return "unknown"
	}
}

// KeySource supplies the verified control-signing keys of a peer, normally
// the pin cache's descriptor-derived view.
type KeySource interface {
	ControlKeys(peer types.PeerID) ([][]byte, bool)
}

// Gate is the composed inbound admission pipeline: size, then rate, then
// replay, then signature, cheapest first, so malicious traffic is rejected
// before any public-key work is spent on it.
type Gate struct {
	limits wire.SizeLimits
	rates  *ratelimit.Limiter
	replay *replay.Cache
	keys   KeySource
	logger *zap.Logger
}

// NewGate wires the pipeline.
func NewGate(limits wire.SizeLimits, rates *ratelimit.Limiter, replayCache *replay.Cache, keys KeySource, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		limits: limits,
		rates:  rates,
		replay: replayCache,
		keys:   keys,
		logger: logger,
	}
}

// Admit runs a raw inbound control frame through the full pipeline and
// returns the decoded envelope on success. Each check is independent and
// short-circuits on first failure; no rejection path panics.
func (g *Gate) Admit(remoteAddr string, raw []byte) (*wire.Envelope, RejectReason) {
	if len(raw) > g.limits.MaxEnvelopeBytes {
		return nil, RejectOversize
	}
	if !g.rates.AllowPreAuth(remoteAddr) {
		return nil, RejectRateLimited
	}

	e, err := g.limits.DecodeEnvelope(raw)
	if err != nil {
		g.logger.Warn("control envelope rejected: malformed",
			zap.String("addr", remoteAddr),
			zap.Error(err))
		return nil, RejectMalformed
	}

	keys, ok := g.keys.ControlKeys(e.SenderPeerID)
	if !ok {
		g.logger.Warn("control envelope rejected: sender has no verified descriptor",
			zap.String("peer", e.SenderPeerID.Short()),
			zap.String("type", e.Type.String()))
		return nil, RejectUnknownSender
	}
	if !g.rates.AllowPostAuth(e.SenderPeerID) {
		return nil, RejectRateLimited
	}
	if !g.replay.ValidateAndRecord(e.SenderPeerID, e) {
		return nil, RejectReplay
	}
	if !Verify(e, keys) {
		g.logger.Warn("control envelope rejected: signature not from an advertised key",
			zap.String("peer", e.SenderPeerID.Short()),
			zap.String("type", e.Type.String()),
			zap.String("message_id", e.MessageID))
		return nil, RejectBadSignature
	}

	return e, Admitted
}
