package node

import (
	"context"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koinos/koinos-narwhal/internal/options"
	"github.com/koinos/koinos-narwhal/internal/p2p"
	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/koinos/koinos-narwhal/internal/rpc"
	"github.com/koinos/koinos-narwhal/internal/transmission"
	"github.com/koinos/koinos-proto-golang/koinos/broadcast"
	"github.com/koinos/koinos-proto-golang/koinos/protocol"
	"github.com/koinos/koinos-proto-golang/koinos/rpc/chain"
	"github.com/libp2p/go-libp2p/core/crypto"
	pb "github.com/libp2p/go-libp2p/core/crypto/pb"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

type TestRPC struct {
	Applied map[string]*protocol.Transaction
	Mutex   sync.Mutex
}

func (k *TestRPC) ApplyTransaction(ctx context.Context, trx *protocol.Transaction) (*chain.SubmitTransactionResponse, error) {
	k.Mutex.Lock()
	defer k.Mutex.Unlock()

	k.Applied[string(trx.Id)] = trx
	return &chain.SubmitTransactionResponse{}, nil
}

func (k *TestRPC) IsConnectedToChain(ctx context.Context) (bool, error) {
	return true, nil
}

func (k *TestRPC) numApplied() int {
	k.Mutex.Lock()
	defer k.Mutex.Unlock()

	return len(k.Applied)
}

func newTestNode(t *testing.T, ctx context.Context, seed string, localRPC *TestRPC) *NarwhalNode {
	config := options.NewConfig()
	config.FetcherOptions.FetchTimeout = 5 * time.Second

	var local rpc.LocalRPC
	if localRPC != nil {
		local = localRPC
	}

	n, err := NewNarwhalNode(ctx, "/ip4/127.0.0.1/tcp/0", local, nil, seed, config, p2p.NopMetrics())
	require.NoError(t, err)
	require.NoError(t, n.Start(ctx))

	t.Cleanup(func() { _ = n.Close() })
	return n
}

func connectNodes(t *testing.T, ctx context.Context, from, to *NarwhalNode) {
	addrInfo, err := peer.AddrInfoFromP2pAddr(to.GetPeerAddress())
	require.NoError(t, err)
	require.NoError(t, from.Host.Connect(ctx, *addrInfo))

	require.Eventually(t, func() bool {
		_, ok := from.AddressBook.PeerAddr(to.Host.ID())
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func hasTopicPeer(n *NarwhalNode, id peer.ID) bool {
	for _, pid := range n.PubSub.ListPeers(p2p.TransmissionTopicName) {
		if pid == id {
			return true
		}
	}
	return false
}

func TestNarwhalNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := newTestNode(t, ctx, "1234", nil)
	assert.True(t, strings.HasPrefix(n.GetPeerAddress().String(), "/ip4/127.0.0.1/tcp/"))
	assert.True(t, strings.HasSuffix(n.GetPeerAddress().String(), "/p2p/"+n.Host.ID().String()))

	// The same seed gives the same identity
	same, err := NewNarwhalNode(ctx, "/ip4/127.0.0.1/tcp/0", nil, nil, "1234", options.NewConfig(), p2p.NopMetrics())
	require.NoError(t, err)
	assert.Equal(t, n.Host.ID(), same.Host.ID())
	require.NoError(t, same.Close())

	// An empty seed gives a random identity
	random, err := NewNarwhalNode(ctx, "/ip4/127.0.0.1/tcp/0", nil, nil, "", options.NewConfig(), p2p.NopMetrics())
	require.NoError(t, err)
	assert.NotEqual(t, n.Host.ID(), random.Host.ID())
	require.NoError(t, random.Close())

	_, err = NewNarwhalNode(ctx, "---", nil, nil, "", options.NewConfig(), p2p.NopMetrics())
	assert.Error(t, err)

	config := options.NewConfig()
	config.NodeOptions.InitialPeers = []string{"not a peer"}
	_, err = NewNarwhalNode(ctx, "/ip4/127.0.0.1/tcp/0", nil, nil, "", config, p2p.NopMetrics())
	assert.Error(t, err)
}

func TestGeneratePrivateKey(t *testing.T) {
	a, err := generatePrivateKey("seed a")
	require.NoError(t, err)
	again, err := generatePrivateKey("seed a")
	require.NoError(t, err)
	b, err := generatePrivateKey("seed b")
	require.NoError(t, err)

	assert.Equal(t, pb.KeyType(crypto.ECDSA), a.Type())
	assert.True(t, a.Equals(again))
	assert.False(t, a.Equals(b))

	random, err := generatePrivateKey("")
	require.NoError(t, err)
	otherRandom, err := generatePrivateKey("")
	require.NoError(t, err)
	assert.False(t, random.Equals(otherRandom))
}

func TestFetchFromPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localRPC := &TestRPC{Applied: make(map[string]*protocol.Transaction)}
	holder := newTestNode(t, ctx, "holder", nil)
	fetcher := newTestNode(t, ctx, "fetcher", localRPC)
	connectNodes(t, ctx, fetcher, holder)

	trx := &protocol.Transaction{Id: []byte{0x12, 0x34}}
	id, err := holder.AddTransaction(ctx, &broadcast.TransactionAccepted{Transaction: trx})
	require.NoError(t, err)

	holderAddr, ok := fetcher.AddressBook.PeerAddr(holder.Host.ID())
	require.True(t, ok)

	tr, err := fetcher.Fetch(ctx, holderAddr, id)
	require.NoError(t, err)
	assert.Equal(t, id, tr.ID)

	decoded, err := tr.Transaction()
	require.NoError(t, err)
	assert.True(t, proto.Equal(trx, decoded))

	assert.True(t, fetcher.TransmissionCache.Contains(id))
	assert.True(t, fetcher.Pending.IsEmpty())
	require.Eventually(t, func() bool { return localRPC.numApplied() == 1 }, 5*time.Second, 10*time.Millisecond)

	// A transmission the holder does not have
	missing, err := transmission.NewTransmission(transmission.Solution, []byte("missing"))
	require.NoError(t, err)

	fetchCtx, fetchCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer fetchCancel()
	_, err = fetcher.Fetch(fetchCtx, holderAddr, missing.ID)
	assert.ErrorIs(t, err, p2perrors.ErrTransmissionFetchTimeout)
	assert.True(t, fetcher.Pending.ContainsPeer(missing.ID, holderAddr))
}

func TestAnnouncedTransmissionIsFetched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	holder := newTestNode(t, ctx, "", nil)
	fetcher := newTestNode(t, ctx, "", nil)
	connectNodes(t, ctx, fetcher, holder)
	connectNodes(t, ctx, holder, fetcher)

	// Both sides of the topic must see each other before anything is published
	require.Eventually(t, func() bool {
		return hasTopicPeer(holder, fetcher.Host.ID()) && hasTopicPeer(fetcher, holder.Host.ID())
	}, 10*time.Second, 10*time.Millisecond)

	tr, err := transmission.NewTransmission(transmission.Ratification, []byte("ratification"))
	require.NoError(t, err)
	require.NoError(t, holder.AddTransmission(ctx, tr))

	// The mesh may still be forming, so keep announcing until it arrives
	require.Eventually(t, func() bool {
		if fetcher.TransmissionCache.Contains(tr.ID) {
			return true
		}
		assert.NoError(t, holder.Gossip.Announce(ctx, tr.ID))
		return false
	}, 20*time.Second, 250*time.Millisecond)
	assert.True(t, fetcher.Pending.IsEmpty())

	// Announcing again is a no-op
	assert.NoError(t, holder.AddTransmission(ctx, tr))
}

func TestHandleTransactionAccepted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := newTestNode(t, ctx, "", nil)

	trx := &protocol.Transaction{Id: []byte{0x56, 0x78}}
	data, err := proto.Marshal(&broadcast.TransactionAccepted{Transaction: trx})
	require.NoError(t, err)

	n.handleTransactionAccepted(transactionAcceptTopic, data)

	expected, err := transmission.FromTransaction(trx)
	require.NoError(t, err)
	assert.True(t, n.TransmissionCache.Contains(expected.ID))

	// Garbage is dropped
	n.handleTransactionAccepted(transactionAcceptTopic, []byte{0xff, 0xff})
	assert.Equal(t, 1, n.TransmissionCache.Len())
}

func TestTimeoutErrorIsClassified(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := options.NewConfig()
	config.FetcherOptions.FetchTimeout = 100 * time.Millisecond

	n, err := NewNarwhalNode(ctx, "/ip4/127.0.0.1/tcp/0", nil, nil, "", config, p2p.NopMetrics())
	require.NoError(t, err)
	require.NoError(t, n.Start(ctx))
	defer n.Close()

	missing, err := transmission.NewTransmission(transmission.Solution, []byte("nowhere"))
	require.NoError(t, err)

	// Nobody is behind the address, so no request is sent and the fetch times out
	_, err = n.Fetch(ctx, netip.MustParseAddrPort("10.0.0.1:1234"), missing.ID)
	assert.ErrorIs(t, err, p2perrors.ErrTransmissionFetchTimeout)
}
