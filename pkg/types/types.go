package types

// PeerID is the hex-encoded SHA-256 digest of a peer's identity public key.
// It is never assigned; it is always derived, so any party can check that a
// claimed PeerID matches a claimed public key.
type PeerID string

func (p PeerID) String() string {
	return string(p)
}

// Short returns a truncated form suitable for log fields.
func (p PeerID) Short() string {
	if len(p) <= 12 {
		return string(p)
	}
	return string(p[:12])
}

// Valid reports whether the id has the length of a hex-encoded SHA-256 digest.
func (p PeerID) Valid() bool {
	if len(p) != 64 {
		return false
	}
	for _, c := range p {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
