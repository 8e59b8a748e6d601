package pinning

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// ComputeSpkiSha256 returns the hex SHA-256 digest of the certificate public
// key's standard SPKI encoding. Elliptic-curve keys are preferred on the
// mesh; RSA is accepted for interop with older peers.
func ComputeSpkiSha256(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", fmt.Errorf("nil certificate")
	}

	switch cert.PublicKey.(type) {
	case *ecdsa.PublicKey, ed25519.PublicKey, *rsa.PublicKey:
	default:
		return "", fmt.Errorf("unsupported public key type %T", cert.PublicKey)
	}

	spki, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}

	sum := sha256.Sum256(spki)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeSpkiSha256Raw parses a DER certificate and pins its public key.
func ComputeSpkiSha256Raw(der []byte) (string, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	return ComputeSpkiSha256(cert)
}

// Match reports whether pin appears in the expected set.
func Match(expected []string, pin string) bool {
	for _, p := range expected {
		if p == pin {
			return true
		}
	}
	return false
}
