package p2p

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/koinos/koinos-narwhal/internal/options"
	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/koinos/koinos-narwhal/internal/transmission"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAnnouncementHandler struct {
	mu        sync.Mutex
	announced map[transmission.ID]netip.AddrPort
}

func (h *testAnnouncementHandler) HandleAnnouncement(_ context.Context, addr netip.AddrPort, id transmission.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.announced[id] = addr
}

func makeTestMessage(from peer.ID, data []byte) *pubsub.Message {
	return &pubsub.Message{
		Message:      &pb.Message{From: []byte(from), Data: data},
		ReceivedFrom: from,
	}
}

func TestDecodeAnnouncement(t *testing.T) {
	ids := []transmission.ID{makeTestTransmission(t, "a").ID, makeTestTransmission(t, "b").ID}

	data, err := EncodeAnnouncement(ids)
	require.NoError(t, err)

	decoded, err := DecodeAnnouncement(data, 2)
	require.NoError(t, err)
	assert.Equal(t, ids, decoded)

	_, err = DecodeAnnouncement(data, 1)
	assert.ErrorIs(t, err, p2perrors.ErrDeserialization)

	empty, err := EncodeAnnouncement(nil)
	require.NoError(t, err)
	_, err = DecodeAnnouncement(empty, 2)
	assert.ErrorIs(t, err, p2perrors.ErrDeserialization)

	_, err = DecodeAnnouncement([]byte{0xff, 0x00}, 2)
	assert.ErrorIs(t, err, p2perrors.ErrDeserialization)
}

func TestHandleAnnouncementMessage(t *testing.T) {
	handler := &testAnnouncementHandler{announced: make(map[transmission.ID]netip.AddrPort)}
	book := NewAddressBook()
	book.Add(testPeerAddr(1), testPeerID(1))

	tg := &TransmissionGossip{
		handler:     handler,
		addressBook: book,
		myPeerID:    testPeerID(0),
		opts:        *options.NewGossipOptions(),
	}

	ids := []transmission.ID{makeTestTransmission(t, "a").ID, makeTestTransmission(t, "b").ID}
	data, err := EncodeAnnouncement(ids)
	require.NoError(t, err)

	// Echo of our own announcement
	tg.handleMessage(context.Background(), makeTestMessage(testPeerID(0), data))
	assert.Empty(t, handler.announced)

	// Unconnected originator
	tg.handleMessage(context.Background(), makeTestMessage(testPeerID(2), data))
	assert.Empty(t, handler.announced)

	tg.handleMessage(context.Background(), makeTestMessage(testPeerID(1), data))
	require.Len(t, handler.announced, 2)
	for _, id := range ids {
		assert.Equal(t, testPeerAddr(1), handler.announced[id])
	}
}

func TestValidateAnnouncement(t *testing.T) {
	peerErrorChan := make(chan PeerError, 1)
	tg := &TransmissionGossip{
		peerErrorChan: peerErrorChan,
		opts:          *options.NewGossipOptions(),
	}

	data, err := EncodeAnnouncement([]transmission.ID{makeTestTransmission(t, "a").ID})
	require.NoError(t, err)
	assert.True(t, tg.validateAnnouncement(context.Background(), testPeerID(1), makeTestMessage(testPeerID(1), data)))

	assert.False(t, tg.validateAnnouncement(context.Background(), testPeerID(1), makeTestMessage(testPeerID(1), []byte("garbage"))))
	perr := <-peerErrorChan
	assert.Equal(t, testPeerID(1), perr.id)
	assert.ErrorIs(t, perr.err, p2perrors.ErrDeserialization)
}
