package node

import (
	"context"
	"crypto/elliptic"
	crand "crypto/rand"
	"errors"
	"fmt"
	"net/netip"

	"filippo.io/keygen"
	log "github.com/koinos/koinos-log-golang"
	koinosmq "github.com/koinos/koinos-mq-golang"
	"github.com/koinos/koinos-narwhal/internal/options"
	"github.com/koinos/koinos-narwhal/internal/p2p"
	"github.com/koinos/koinos-narwhal/internal/pending"
	"github.com/koinos/koinos-narwhal/internal/rpc"
	"github.com/koinos/koinos-narwhal/internal/transmission"
	"github.com/koinos/koinos-proto-golang/koinos/broadcast"
	"google.golang.org/protobuf/proto"

	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	multiaddr "github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multihash"
)

const (
	transactionAcceptTopic = "koinos.transaction.accept"
)

// NarwhalNode is the core object representing a narwhal worker
type NarwhalNode struct {
	Host              host.Host
	DHT               *dht.IpfsDHT
	PubSub            *pubsub.PubSub
	Pending           *pending.Pending[transmission.ID]
	TransmissionCache *p2p.TransmissionCache
	AddressBook       *p2p.AddressBook
	Fetcher           *p2p.TransmissionFetcher
	Gossip            *p2p.TransmissionGossip
	ConnectionManager *p2p.ConnectionManager
	PeerErrorHandler  *p2p.PeerErrorHandler
	Metrics           *p2p.Metrics

	Options options.Config

	cancel context.CancelFunc
}

func generatePrivateKey(seed string) (crypto.PrivKey, error) {
	if seed == "" {
		privateKey, _, err := crypto.GenerateKeyPairWithReader(crypto.ECDSA, 0, crand.Reader)
		return privateKey, err
	}

	digest, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	if err != nil {
		return nil, err
	}

	decoded, err := multihash.Decode(digest)
	if err != nil {
		return nil, err
	}

	// The same seed always derives the same identity
	ecdsaKey, err := keygen.ECDSA(elliptic.P256(), decoded.Digest)
	if err != nil {
		return nil, err
	}

	privateKey, _, err := crypto.ECDSAKeyPairFromKey(ecdsaKey)
	if err != nil {
		return nil, err
	}

	return privateKey, nil
}

// NewNarwhalNode creates a libp2p node object listening on the given multiaddress.
// seed is used to generate the node's identity. An empty seed generates a random identity.
// localRPC and requestHandler may be nil, disabling the local chain.
func NewNarwhalNode(
	ctx context.Context,
	listenAddr string,
	localRPC rpc.LocalRPC,
	requestHandler *koinosmq.RequestHandler,
	seed string,
	config *options.Config,
	metrics *p2p.Metrics) (*NarwhalNode, error) {

	privateKey, err := generatePrivateKey(seed)
	if err != nil {
		return nil, err
	}

	initialPeers := make([]peer.AddrInfo, 0, len(config.NodeOptions.InitialPeers))
	for _, peerStr := range config.NodeOptions.InitialPeers {
		addrInfo, err := peer.AddrInfoFromString(peerStr)
		if err != nil {
			return nil, fmt.Errorf("invalid initial peer address %s: %w", peerStr, err)
		}
		initialPeers = append(initialPeers, *addrInfo)
	}

	node := new(NarwhalNode)
	node.Options = *config
	node.Metrics = metrics

	hostOptions := []libp2p.Option{
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Identity(privateKey),
		libp2p.ProtocolVersion(p2p.NarwhalProtocolVersionString()),
	}

	if config.NodeOptions.EnableDHT {
		hostOptions = append(hostOptions, libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			idht, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
			node.DHT = idht
			return idht, err
		}))
	}

	host, err := libp2p.New(hostOptions...)
	if err != nil {
		return nil, err
	}
	node.Host = host

	ps, err := pubsub.NewGossipSub(
		ctx, node.Host,
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithPeerExchange(true),
	)
	if err != nil {
		_ = host.Close()
		return nil, err
	}
	node.PubSub = ps

	peerErrorChan := make(chan p2p.PeerError)
	disconnectPeerChan := make(chan peer.ID)

	node.Pending = pending.NewPending[transmission.ID]()
	node.TransmissionCache = p2p.NewTransmissionCache(config.TransmissionCacheOptions.CacheDuration)
	node.AddressBook = p2p.NewAddressBook()
	node.PeerErrorHandler = p2p.NewPeerErrorHandler(disconnectPeerChan, peerErrorChan, config.PeerErrorHandlerOptions)

	node.ConnectionManager = p2p.NewConnectionManager(
		node.Host,
		node.TransmissionCache,
		node.AddressBook,
		node.PeerErrorHandler,
		&config.ConnectionManagerOptions,
		initialPeers,
		disconnectPeerChan,
		peerErrorChan,
	)

	node.Fetcher = p2p.NewTransmissionFetcher(
		node.Pending,
		node.TransmissionCache,
		node.AddressBook,
		node.ConnectionManager,
		localRPC,
		peerErrorChan,
		metrics,
		localRPC != nil && config.NodeOptions.ApplyTransactions,
		config.FetcherOptions,
	)

	node.Gossip = p2p.NewTransmissionGossip(
		ps,
		node.Fetcher,
		node.AddressBook,
		peerErrorChan,
		node.Host.ID(),
		config.GossipOptions,
	)

	if requestHandler != nil {
		requestHandler.SetBroadcastHandler(transactionAcceptTopic, node.handleTransactionAccepted)
	}

	return node, nil
}

func (n *NarwhalNode) handleTransactionAccepted(topic string, data []byte) {
	trxBroadcast := &broadcast.TransactionAccepted{}
	if err := proto.Unmarshal(data, trxBroadcast); err != nil {
		log.Warnf("Unable to parse koinos.transaction.accept broadcast: %s", err.Error())
		return
	}

	if trxBroadcast.Transaction == nil {
		log.Warn("Received koinos.transaction.accept broadcast without a transaction")
		return
	}

	if _, err := n.AddTransaction(context.Background(), trxBroadcast); err != nil {
		log.Warnf("Unable to announce accepted transaction: %s", err.Error())
	}
}

// AddTransaction makes an accepted transaction ready and announces it
func (n *NarwhalNode) AddTransaction(ctx context.Context, trxBroadcast *broadcast.TransactionAccepted) (transmission.ID, error) {
	t, err := transmission.FromTransaction(trxBroadcast.Transaction)
	if err != nil {
		return transmission.ID{}, err
	}

	if err := n.AddTransmission(ctx, t); err != nil {
		return transmission.ID{}, err
	}

	return t.ID, nil
}

// AddTransmission makes a local transmission ready and announces it
func (n *NarwhalNode) AddTransmission(ctx context.Context, t *transmission.Transmission) error {
	if !n.Fetcher.AddLocal(t) {
		return nil
	}

	log.Debugf("Announcing transmission %s", t.ID)
	return n.Gossip.Announce(ctx, t.ID)
}

// Fetch returns a transmission held by the peer at addr
func (n *NarwhalNode) Fetch(ctx context.Context, addr netip.AddrPort, id transmission.ID) (*transmission.Transmission, error) {
	return n.Fetcher.Fetch(ctx, addr, id)
}

// GetListenAddress returns the multiaddress on which the node is listening
func (n *NarwhalNode) GetListenAddress() multiaddr.Multiaddr {
	return n.Host.Addrs()[0]
}

// GetPeerAddress returns the ipfs multiaddress to which other peers should connect
func (n *NarwhalNode) GetPeerAddress() multiaddr.Multiaddr {
	hostAddr, _ := multiaddr.NewMultiaddr(fmt.Sprintf("/p2p/%s", n.Host.ID()))
	return n.GetListenAddress().Encapsulate(hostAddr)
}

// Start starts background goroutines
func (n *NarwhalNode) Start(ctx context.Context) error {
	nodeContext, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.PeerErrorHandler.Start(nodeContext)
	n.ConnectionManager.Start(nodeContext)
	n.Host.Network().Notify(n.ConnectionManager)
	n.Fetcher.Start(nodeContext)

	if err := n.Gossip.Start(nodeContext); err != nil {
		cancel()
		return err
	}

	if n.DHT != nil {
		if err := n.DHT.Bootstrap(nodeContext); err != nil {
			log.Warnf("Error bootstrapping DHT: %s", err.Error())
		}
	}

	return nil
}

// Close closes the node
func (n *NarwhalNode) Close() error {
	n.Host.Network().StopNotify(n.ConnectionManager)

	if n.cancel != nil {
		n.cancel()
	}

	var err error
	if n.DHT != nil {
		err = n.DHT.Close()
	}

	return errors.Join(err, n.Host.Close())
}
