// Package transport wires the node's single Transport interface to a
// real libp2p network: six GossipSub topics for the node's broadcast
// traffic, plus one direct-message stream protocol. Grounded on
// internal/node/node.go's host/pubsub/dht/mdns wiring and
// internal/node/swap_handler.go's topic-join/subscribe/publish idiom,
// generalized from the swap protocol's two topics to this node's six.
package transport

// Topic names GossipSub joins at startup, one per spec.md §6 gossip
// channel.
const (
	TopicStartDKG         = "/threshold-node/dkg/start/1.0.0"
	TopicRound1           = "/threshold-node/dkg/round1/1.0.0"
	TopicDepositIntents   = "/threshold-node/deposit-intents/1.0.0"
	TopicBlockProposals   = "/threshold-node/consensus/block-proposals/1.0.0"
	TopicVotes            = "/threshold-node/consensus/votes/1.0.0"
	TopicWithdrawalGossip = "/threshold-node/withdrawals/1.0.0"
)

// DirectProtocol is the libp2p stream protocol ID for addressed,
// single-recipient delivery, the equivalent of stream_handler.go's
// SwapDirectProtocol.
const DirectProtocol = "/threshold-node/direct/1.0.0"
