// Package transport wires noded.Node to a real libp2p swarm: a
// GossipSub topic per broadcast channel, a Kademlia DHT plus mDNS for
// peer discovery, and a direct-message stream protocol for addressed
// delivery. Grounded on internal/node/node.go's host/DHT/pubsub/mDNS
// construction and internal/node/swap_handler.go's topic join and
// receive-loop idiom.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/noded"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/pkg/logging"
)

// joinedTopic bundles a GossipSub topic with the subscription this
// node keeps open on it.
type joinedTopic struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// Transport implements noded.Transport over a real libp2p host. It
// joins every gossip topic in New and feeds each inbound message,
// translated from wire bytes into the matching noded event, into the
// node's single event channel.
type Transport struct {
	cfg  Config
	node *noded.Node
	self types.Identifier
	log  *logging.Logger

	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub

	mdnsService mdns.Service
	routingDisc *drouting.RoutingDiscovery

	startDKG  joinedTopic
	round1    joinedTopic
	deposits  joinedTopic
	blocks    joinedTopic
	votes     joinedTopic
	withdraws joinedTopic

	encryptor *messageEncryptor

	mu    sync.RWMutex
	peers map[types.Identifier]PeerInfo

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs the libp2p host and joins every gossip topic but does
// not yet dial bootstrap peers or start receive loops; call Start for
// that.
func New(ctx context.Context, cfg Config, self types.Identifier, node *noded.Node) (*Transport, error) {
	ctx, cancel := context.WithCancel(ctx)

	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}
	log = log.Component("transport")

	t := &Transport{
		cfg:    cfg,
		node:   node,
		self:   self,
		log:    log,
		peers:  make(map[types.Identifier]PeerInfo, len(cfg.Peers)),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, p := range cfg.Peers {
		t.peers[p.Identifier] = p
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("transport: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.PrivateKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: create libp2p host: %w", err)
	}
	t.host = h

	if cfg.EnableDHT {
		if err := t.initDHT(ctx); err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("transport: init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithFloodPublish(true))
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: init pubsub: %w", err)
	}
	t.pubsub = ps

	if err := t.joinTopics(); err != nil {
		h.Close()
		cancel()
		return nil, err
	}

	enc, err := newMessageEncryptor(cfg.PrivateKey, h.ID())
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: init message encryptor: %w", err)
	}
	t.encryptor = enc

	h.SetStreamHandler(protocol.ID(DirectProtocol), t.handleIncomingStream)

	if cfg.EnableMDNS {
		t.mdnsService = mdns.NewMdnsService(h, cfg.discoveryNamespace(), t)
		if err := t.mdnsService.Start(); err != nil {
			t.log.Warn("mdns start failed", "error", err)
		}
	}

	return t, nil
}

func (t *Transport) initDHT(ctx context.Context) error {
	var err error
	t.dht, err = dht.New(ctx, t.host, dht.Mode(dht.ModeAutoServer), dht.ProtocolPrefix(protocol.ID(t.cfg.dhtPrefix())))
	if err != nil {
		return err
	}
	if err := t.dht.Bootstrap(ctx); err != nil {
		return err
	}
	t.routingDisc = drouting.NewRoutingDiscovery(t.dht)
	return nil
}

func (t *Transport) joinTopics() error {
	joins := []struct {
		name string
		dst  *joinedTopic
	}{
		{TopicStartDKG, &t.startDKG},
		{TopicRound1, &t.round1},
		{TopicDepositIntents, &t.deposits},
		{TopicBlockProposals, &t.blocks},
		{TopicVotes, &t.votes},
		{TopicWithdrawalGossip, &t.withdraws},
	}
	for _, j := range joins {
		topic, err := t.pubsub.Join(j.name)
		if err != nil {
			return fmt.Errorf("transport: join topic %s: %w", j.name, err)
		}
		sub, err := topic.Subscribe()
		if err != nil {
			return fmt.Errorf("transport: subscribe topic %s: %w", j.name, err)
		}
		*j.dst = joinedTopic{topic: topic, sub: sub}
	}
	return nil
}

// Start dials bootstrap peers already present in Config.Peers and
// launches one receive loop per joined topic, except the withdrawals
// topic, which is joined but not read.
func (t *Transport) Start() error {
	for _, p := range t.cfg.Peers {
		if len(p.Addrs) == 0 {
			continue
		}
		t.host.Peerstore().AddAddrs(p.PeerID, p.Addrs, peerstore.PermanentAddrTTL)
		go t.dial(p.PeerID)
	}

	if t.routingDisc != nil {
		go dutil.Advertise(t.ctx, t.routingDisc, t.cfg.discoveryNamespace())
	}

	go t.receiveStartDKG()
	go t.receiveRound1()
	go t.receiveDepositIntents()
	go t.receiveBlocks()
	go t.receiveVotes()

	t.log.Info("transport started", "peer_id", t.host.ID().String())
	return nil
}

func (t *Transport) dial(id peer.ID) {
	ctx, cancel := context.WithTimeout(t.ctx, 30*time.Second)
	defer cancel()
	info := t.host.Peerstore().PeerInfo(id)
	if err := t.host.Connect(ctx, info); err != nil {
		t.log.Warn("failed to connect to peer", "peer", id.String(), "error", err)
	}
}

// HandlePeerFound implements mdns.Notifee.
func (t *Transport) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == t.host.ID() {
		return
	}
	t.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	go t.dial(pi.ID)
}

// Stop tears down every subscription, topic, and the host itself.
func (t *Transport) Stop() error {
	t.cancel()
	for _, jt := range []joinedTopic{t.startDKG, t.round1, t.deposits, t.blocks, t.votes, t.withdraws} {
		if jt.sub != nil {
			jt.sub.Cancel()
		}
		if jt.topic != nil {
			jt.topic.Close()
		}
	}
	if t.mdnsService != nil {
		t.mdnsService.Close()
	}
	if t.dht != nil {
		t.dht.Close()
	}
	return t.host.Close()
}

// HostID reports this transport's libp2p peer identity, for logging
// and for building this node's own PeerInfo entry to distribute to
// peers out of band.
func (t *Transport) HostID() peer.ID { return t.host.ID() }

// --- receive loops ---

func (t *Transport) receiveStartDKG() {
	for {
		msg, err := t.startDKG.sub.Next(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		if err := t.node.Enqueue(noded.EvStartDKG{}); err != nil {
			t.log.Warn("enqueue start-dkg event", "error", err)
		}
	}
}

func (t *Transport) receiveRound1() {
	for {
		msg, err := t.round1.sub.Next(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		pkg, err := decodeRound1(msg.Data)
		if err != nil {
			t.log.Warn("decode round1 package", "error", err)
			continue
		}
		if err := t.node.Enqueue(noded.EvDKGRound1{Sender: pkg.Sender, Package: pkg}); err != nil {
			t.log.Warn("enqueue round1 event", "error", err)
		}
	}
}

func (t *Transport) receiveDepositIntents() {
	for {
		msg, err := t.deposits.sub.Next(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		intent, err := decodeDepositIntent(msg.Data)
		if err != nil {
			t.log.Warn("decode deposit intent", "error", err)
			continue
		}
		if err := t.node.Enqueue(noded.EvDepositIntentGossip{Intent: intent}); err != nil {
			t.log.Warn("enqueue deposit intent event", "error", err)
		}
	}
}

func (t *Transport) receiveBlocks() {
	for {
		msg, err := t.blocks.sub.Next(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		round, block, err := decodeBlockProposal(msg.Data)
		if err != nil {
			t.log.Warn("decode block proposal", "error", err)
			continue
		}
		if err := t.node.Enqueue(noded.EvBlockProposalGossip{Round: round, Block: block}); err != nil {
			t.log.Warn("enqueue block proposal event", "error", err)
		}
	}
}

func (t *Transport) receiveVotes() {
	for {
		msg, err := t.votes.sub.Next(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		sender, round, hash, voteType, err := decodeVote(msg.Data)
		if err != nil {
			t.log.Warn("decode vote", "error", err)
			continue
		}
		if err := t.node.Enqueue(noded.EvVoteGossip{Sender: sender, Round: round, BlockHash: hash, VoteType: voteType}); err != nil {
			t.log.Warn("enqueue vote event", "error", err)
		}
	}
}

// --- noded.Transport / deposit.Publisher / consensus.Broadcaster ---

func (t *Transport) PublishStartDKG(ctx context.Context) error {
	data, err := encodeStartDKG(t.self)
	if err != nil {
		return err
	}
	return t.startDKG.topic.Publish(ctx, data)
}

func (t *Transport) PublishRound1(ctx context.Context, pkg frost.Round1Package) error {
	data, err := encodeRound1(pkg)
	if err != nil {
		return err
	}
	return t.round1.topic.Publish(ctx, data)
}

func (t *Transport) PublishDepositIntent(ctx context.Context, intent *types.DepositIntent) error {
	data, err := encodeDepositIntent(intent)
	if err != nil {
		return err
	}
	return t.deposits.topic.Publish(ctx, data)
}

func (t *Transport) BroadcastBlockProposal(ctx context.Context, round uint32, block *chainengine.Block) error {
	data, err := encodeBlockProposal(round, block)
	if err != nil {
		return err
	}
	return t.blocks.topic.Publish(ctx, data)
}

func (t *Transport) BroadcastVote(ctx context.Context, round uint32, blockHash [32]byte, voteType consensus.VoteType) error {
	data, err := encodeVote(t.self, round, blockHash, voteType)
	if err != nil {
		return err
	}
	return t.votes.topic.Publish(ctx, data)
}

// peerFor resolves a node Identifier to the libp2p peer it derives
// from, the lookup types.Identifier's one-way hash makes necessary.
func (t *Transport) peerFor(id types.Identifier) (PeerInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}
