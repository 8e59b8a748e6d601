package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/snapetech/slskdn-mesh/pkg/types"
)

const (
	keyFileName = "identity.key"
	pubFileName = "identity.pub"
)

// Identity is a node's long-lived Ed25519 identity keypair. The PeerID is
// derived from the public key, so the keypair is the root of all trust the
// mesh layer establishes.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// PeerIDFromPublicKey derives the self-certifying PeerID for a public key.
func PeerIDFromPublicKey(pub ed25519.PublicKey) types.PeerID {
	sum := sha256.Sum256(pub)
	return types.PeerID(hex.EncodeToString(sum[:]))
}

// DescriptorKey returns the deterministic DHT key a peer's descriptor is
// published under.
func DescriptorKey(peer types.PeerID) string {
	return "mesh/descriptor/" + string(peer)
}

// Generate creates a fresh identity keypair.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return &Identity{PrivateKey: priv, PublicKey: pub}, nil
}

// PeerID returns the identity's derived PeerID.
func (id *Identity) PeerID() types.PeerID {
	return PeerIDFromPublicKey(id.PublicKey)
}

// Save writes the keypair under dir with owner-only permissions on the
// private key.
func (id *Identity) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	if err := os.WriteFile(filepath.Join(dir, keyFileName), privPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(id.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	if err := os.WriteFile(filepath.Join(dir, pubFileName), pubPEM, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}

// Load reads a previously saved identity from dir.
func Load(dir string) (*Identity, error) {
	keyPEM, err := os.ReadFile(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity key: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to parse identity key PEM")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity key: %w", err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity key is not Ed25519")
	}

	return &Identity{
		PrivateKey: priv,
		PublicKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// LoadOrCreate loads the identity under dir, generating and saving a new one
// if none exists yet.
func LoadOrCreate(dir string) (*Identity, error) {
	if _, err := os.Stat(filepath.Join(dir, keyFileName)); err == nil {
		return Load(dir)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(dir); err != nil {
		return nil, err
	}
	return id, nil
}
