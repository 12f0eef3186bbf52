// Package main provides noded, the threshold-custody network's daemon:
// one participant in a FROST signing group that watches Bitcoin
// deposits, proposes and confirms withdrawals, and keeps an internal
// ledger in consensus with its peers over libp2p.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/deposit"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/noded"
	"github.com/klingon-exchange/threshold-node/internal/nodeconfig"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/rpc"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/transport"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/internal/wallet"
	"github.com/klingon-exchange/threshold-node/internal/withdrawal"
	"github.com/klingon-exchange/threshold-node/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir       = flag.String("data-dir", "~/.threshold-node", "Data directory")
		configFile    = flag.String("config", "", "Config file path (default: <data-dir>/config.json)")
		password      = flag.String("password", "", "Password protecting the node's identity key (required unless NODED_PASSWORD is set)")
		listenAddr    = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		apiAddr       = flag.String("api", "127.0.0.1:8080", "JSON-RPC Control API address")
		enableMDNS    = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT     = flag.Bool("dht", true, "Enable DHT discovery")
		testnet       = flag.Bool("testnet", false, "Run on testnet")
		dkgMaxSigners = flag.Int("dkg-max-signers", 0, "DKG group size (0: derive from config's allowed_peers)")
		dkgMinSigners = flag.Int("dkg-min-signers", 0, "DKG signing threshold (0: majority of dkg-max-signers)")
		oracleURL     = flag.String("oracle-url", "", "mempool.space-compatible REST API base URL (empty: use the in-memory fake oracle)")
		logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion   = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("noded %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	configPath := *configFile
	if configPath == "" {
		configPath = nodeconfig.ConfigPath(effectiveDataDir)
	}
	cfg, err := nodeconfig.Load(configPath)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	pw := *password
	if pw == "" {
		pw = os.Getenv("NODED_PASSWORD")
	}
	if pw == "" {
		log.Fatal("identity key password required: pass -password or set NODED_PASSWORD")
	}

	privKeyBytes, err := cfg.IdentityKey(pw)
	if err != nil {
		log.Fatal("failed to decrypt identity key", "error", err)
	}
	privKey, err := crypto.UnmarshalEd25519PrivateKey(privKeyBytes)
	if err != nil {
		log.Fatal("failed to parse identity key", "error", err)
	}

	hostID, err := peer.IDFromPrivateKey(privKey)
	if err != nil {
		log.Fatal("failed to derive peer id", "error", err)
	}
	self := types.IdentifierFromPeerBytes([]byte(hostID))

	peers, allIdentifiers, err := buildPeerList(cfg.AllowedPeers)
	if err != nil {
		log.Fatal("failed to build peer list", "error", err)
	}
	allIdentifiers = append(allIdentifiers, self)

	maxSigners := *dkgMaxSigners
	if maxSigners <= 0 {
		maxSigners = len(allIdentifiers)
	}
	minSigners := *dkgMinSigners
	if minSigners <= 0 {
		minSigners = maxSigners/2 + 1
	}

	params := &chaincfg.MainNetParams
	if *testnet {
		params = &chaincfg.TestNet3Params
	}

	st, err := store.Open(store.Config{DataDir: expandPath(effectiveDataDir)})
	if err != nil {
		log.Fatal("failed to open store", "error", err)
	}
	defer st.Close()

	var o oracle.Oracle
	if *oracleURL != "" {
		o = oracle.NewMempoolOracleWithConfirmationDepth(*oracleURL, cfg.ConfirmationDepth)
		log.Info("chain oracle backed by mempool.space-compatible API", "url", *oracleURL)
	} else {
		o = oracle.NewFake()
		log.Warn("no --oracle-url given; using the in-memory fake chain oracle")
	}

	// A restored DKG group key would seed groupXOnly here; until the
	// node has one it starts unkeyed and waits for a DKG run to
	// complete, the same state a brand-new participant is always in.
	var groupXOnly [32]byte

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := wallet.New(groupXOnly, params, o, st)
	vm := ledger.NewVM(o)
	chain := chainengine.New(st, vm)
	if err := chain.Load(ctx); err != nil {
		log.Fatal("failed to load chain state", "error", err)
	}
	consensusValidators := allIdentifiers
	if _, ok := chain.Tip(); !ok {
		if _, err := chain.CreateGenesis(ctx, chainengine.GenesisState{
			Validators: allIdentifiers,
			Config: chainengine.ChainConfig{
				MinSigners:       minSigners,
				MaxSigners:       maxSigners,
				BlockTimeSeconds: uint64(consensus.DefaultRoundTime / time.Second),
			},
		}, time.Now()); err != nil {
			log.Fatal("failed to create genesis", "error", err)
		}
	} else if gen, ok, err := chain.Genesis(ctx); err != nil {
		log.Fatal("failed to load genesis record", "error", err)
	} else if ok {
		// The validator set this chain was actually bootstrapped with,
		// rather than whatever the current config's allowed_peers
		// happens to list on this restart.
		consensusValidators = gen.Validators
	}

	cons := consensus.New(self, chain, nil, nil)
	for _, id := range consensusValidators {
		cons.AddValidator(id)
	}

	depositEngine := deposit.New(groupXOnly, w, chain, st, nil)
	if err := depositEngine.Load(ctx); err != nil {
		log.Fatal("failed to load deposit intents", "error", err)
	}

	n := noded.New(noded.Config{
		Self:          self,
		Peers:         allIdentifiers,
		Params:        params,
		Chain:         chain,
		Wallet:        w,
		Deposit:       depositEngine,
		Consensus:     cons,
		DKGMaxSigners: maxSigners,
		DKGMinSigners: minSigners,
	})
	n.SetWithdrawal(withdrawal.New(params, w, chain, o, n))

	listen := *listenAddr
	if listen == "" {
		listen = "/ip4/0.0.0.0/tcp/" + strconv.Itoa(defaultPort(cfg.LibP2PTCPPort))
	}
	listenAddrs := []string{listen}

	tr, err := transport.New(ctx, transport.Config{
		PrivateKey:  privKey,
		ListenAddrs: listenAddrs,
		Peers:       peers,
		EnableDHT:   *enableDHT,
		EnableMDNS:  *enableMDNS,
		Logger:      log,
	}, self, n)
	if err != nil {
		log.Fatal("failed to create transport", "error", err)
	}

	// Transport implements noded.Transport, deposit.Publisher and
	// consensus.Broadcaster, but those subsystems were constructed
	// before it existed (they, in turn, are needed to construct Node
	// before Transport). Rewire the deposit/consensus engines' gossip
	// sinks now that a real one exists.
	depositEngine.SetPublisher(tr)
	cons.SetBroadcaster(tr)
	n.SetTransport(tr)

	if err := tr.Start(); err != nil {
		log.Fatal("failed to start transport", "error", err)
	}

	rpcServer := rpc.NewServer(n)
	if err := rpcServer.Start(*apiAddr); err != nil {
		log.Fatal("failed to start control api", "error", err)
	}

	go func() {
		_ = n.Run(ctx)
	}()

	go func() {
		ticker := time.NewTicker(consensus.DefaultRoundTime)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := n.TickRoundTimer(now); err != nil {
					log.Warn("round timer tick", "error", err)
				}
			}
		}
	}()

	printBanner(log, tr, *apiAddr, *testnet)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()
	if err := rpcServer.Stop(); err != nil {
		log.Error("error stopping control api", "error", err)
	}
	if err := tr.Stop(); err != nil {
		log.Error("error stopping transport", "error", err)
	}
	log.Info("goodbye")
}

func buildPeerList(allowed []nodeconfig.AllowedPeer) ([]transport.PeerInfo, []types.Identifier, error) {
	peers := make([]transport.PeerInfo, 0, len(allowed))
	ids := make([]types.Identifier, 0, len(allowed))
	for _, ap := range allowed {
		pubKeyBytes := base58.Decode(ap.PublicKey)
		pubKey, err := crypto.UnmarshalEd25519PublicKey(pubKeyBytes)
		if err != nil {
			return nil, nil, err
		}
		peerID, err := peer.IDFromPublicKey(pubKey)
		if err != nil {
			return nil, nil, err
		}
		id := types.IdentifierFromPeerBytes([]byte(peerID))
		peers = append(peers, transport.PeerInfo{
			Identifier: id,
			PeerID:     peerID,
			// Addrs intentionally left nil: peers are found via
			// mDNS/DHT discovery rather than a static address book.
		})
		ids = append(ids, id)
	}
	return peers, ids, nil
}

func defaultPort(configured int) int {
	if configured <= 0 {
		return 4001
	}
	return configured
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func printBanner(log *logging.Logger, tr *transport.Transport, apiAddr string, testnet bool) {
	networkLabel := "mainnet"
	if testnet {
		networkLabel = "TESTNET"
	}
	log.Info("=================================================")
	log.Infof("  threshold-node (%s)", networkLabel)
	log.Infof("  version: %s (commit %s)", version, commit)
	log.Infof("  peer id: %s", tr.HostID().String())
	log.Infof("  control api: http://%s", apiAddr)
	log.Infof("  control api ws: ws://%s/ws", apiAddr)
	log.Info("=================================================")
}
