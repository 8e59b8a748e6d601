package pinning

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// VerifyPin returns a VerifyPeerCertificate callback that accepts a
// connection only if the presented leaf certificate's SPKI pin is in the
// expected set. Chain validation is skipped on purpose: mesh identities are
// self-signed and the pin, not an authority, is what binds the channel.
func VerifyPin(expected []string) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no certificates provided")
		}
		pin, err := ComputeSpkiSha256Raw(rawCerts[0])
		if err != nil {
			return err
		}
		if !Match(expected, pin) {
			return fmt.Errorf("certificate pin %s not in expected set", pin)
		}
		return nil
	}
}

// ClientTLSConfig returns a client config that presents cert and refuses any
// server whose leaf pin is not in expected.
func ClientTLSConfig(cert tls.Certificate, expected []string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		// Pin comparison replaces chain validation entirely.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: VerifyPin(expected),
	}
}

// ServerTLSConfig returns a server config that presents cert and, when
// expected is non-empty, requires a client certificate matching one of the
// expected pins.
func ServerTLSConfig(cert tls.Certificate, expected []string) *tls.Config {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if len(expected) > 0 {
		cfg.ClientAuth = tls.RequireAnyClientCert
		cfg.VerifyPeerCertificate = VerifyPin(expected)
	}
	return cfg
}
