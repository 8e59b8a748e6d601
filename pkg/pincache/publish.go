package pincache

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/snapetech/slskdn-mesh/pkg/descriptor"
	"github.com/snapetech/slskdn-mesh/pkg/dht"
	"github.com/snapetech/slskdn-mesh/pkg/identity"
)

// Publish signs the local node's descriptor and puts it in the descriptor
// store under its deterministic key. It is the counterpart of the fetch path
// and runs whenever the node's endpoints, pins, or signing keys change.
func Publish(ctx context.Context, store dht.Store, signer *descriptor.Signer, d *descriptor.Descriptor, priv ed25519.PrivateKey) error {
	if err := signer.Sign(d, priv); err != nil {
		return fmt.Errorf("failed to sign descriptor: %w", err)
	}

	raw, err := descriptor.Encode(d)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, identity.DescriptorKey(d.PeerID), raw); err != nil {
		return fmt.Errorf("failed to publish descriptor: %w", err)
	}
	return nil
}
