package pincache

import (
	"sync"

	"github.com/snapetech/slskdn-mesh/pkg/types"
)

// Registry maps a network endpoint to the PeerID expected there. It is
// populated by the handshake layer, which owns endpoint discovery; this layer
// only reads it.
type Registry interface {
	PeerForEndpoint(endpoint string) (types.PeerID, bool)
}

// MemoryRegistry is a concurrent in-process Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	peers map[string]types.PeerID
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{peers: make(map[string]types.PeerID)}
}

// Bind associates an endpoint with a peer, replacing any prior binding.
func (r *MemoryRegistry) Bind(endpoint string, peer types.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[endpoint] = peer
}

// Unbind removes an endpoint's binding.
func (r *MemoryRegistry) Unbind(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, endpoint)
}

func (r *MemoryRegistry) PeerForEndpoint(endpoint string) (types.PeerID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[endpoint]
	return peer, ok
}
