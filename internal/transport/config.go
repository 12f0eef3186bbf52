package transport

import (
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/pkg/logging"
)

// DefaultDHTPrefix and DefaultDiscoveryNamespace namespace this
// node's swarm apart from any other libp2p network reachable on the
// same DHT.
const (
	DefaultDHTPrefix           = "/threshold-node"
	DefaultDiscoveryNamespace = "threshold-node"
)

// PeerInfo is one allowed counterparty: its derived Identifier, its
// libp2p peer identity, and the addresses this node dials it at.
// Built from config's allowed_peers list plus out-of-band address
// discovery (bootstrap list, DHT, or mDNS).
type PeerInfo struct {
	Identifier types.Identifier
	PeerID     peer.ID
	Addrs      []multiaddr.Multiaddr
}

// Config bundles everything Transport needs to stand up a libp2p host
// bound to this node's identity and peer set.
type Config struct {
	PrivateKey  crypto.PrivKey
	ListenAddrs []string
	Peers       []PeerInfo

	EnableDHT  bool
	EnableMDNS bool

	DHTPrefix          string
	DiscoveryNamespace string

	Logger *logging.Logger
}

func (c Config) dhtPrefix() string {
	if c.DHTPrefix != "" {
		return c.DHTPrefix
	}
	return DefaultDHTPrefix
}

func (c Config) discoveryNamespace() string {
	if c.DiscoveryNamespace != "" {
		return c.DiscoveryNamespace
	}
	return DefaultDiscoveryNamespace
}
