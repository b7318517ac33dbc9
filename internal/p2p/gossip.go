package p2p

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	log "github.com/koinos/koinos-log-golang"
	"github.com/koinos/koinos-narwhal/internal/options"
	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/koinos/koinos-narwhal/internal/transmission"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	announcementBuffer int = 32

	// TransmissionTopicName is the transmission announcement topic string
	TransmissionTopicName string = "koinos.narwhal.transmissions"
)

// Announcement lists transmissions the sender holds
type Announcement struct {
	IDs [][]byte `cbor:"1,keyasint"`
}

// EncodeAnnouncement serializes the IDs of an announcement
func EncodeAnnouncement(ids []transmission.ID) ([]byte, error) {
	announcement := Announcement{IDs: make([][]byte, len(ids))}
	for i, id := range ids {
		announcement.IDs[i] = id.Bytes()
	}

	data, err := cbor.Marshal(announcement)
	if err != nil {
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrSerialization, err)
	}

	return data, nil
}

// DecodeAnnouncement deserializes an announcement of at most maxSize IDs
func DecodeAnnouncement(data []byte, maxSize int) ([]transmission.ID, error) {
	var announcement Announcement
	if err := cbor.Unmarshal(data, &announcement); err != nil {
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrDeserialization, err)
	}

	if len(announcement.IDs) == 0 {
		return nil, fmt.Errorf("%w, empty announcement", p2perrors.ErrDeserialization)
	}

	if len(announcement.IDs) > maxSize {
		return nil, fmt.Errorf("%w, announcement of %d transmissions exceeds %d", p2perrors.ErrDeserialization, len(announcement.IDs), maxSize)
	}

	ids := make([]transmission.ID, len(announcement.IDs))
	for i, b := range announcement.IDs {
		id, err := transmission.IDFromBytes(b)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	return ids, nil
}

// GossipManager manages gossip on a given topic
type GossipManager struct {
	ps          *pubsub.PubSub
	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	cancel      context.CancelFunc
	topicName   string
	enableMutex sync.Mutex
	Enabled     bool
}

// NewGossipManager creates and returns a new instance of gossipManager
func NewGossipManager(ps *pubsub.PubSub, topicName string) *GossipManager {
	gm := GossipManager{
		ps:        ps,
		topicName: topicName,
		Enabled:   false,
	}

	topic, err := gm.ps.Join(gm.topicName)
	if err != nil {
		log.Errorf("could not connect to gossip topic: %s", gm.topicName)
	} else {
		gm.topic = topic
	}

	return &gm
}

// RegisterValidator registers the validate function to be used for messages
func (gm *GossipManager) RegisterValidator(val interface{}) error {
	return gm.ps.RegisterTopicValidator(gm.topicName, val)
}

// Start starts gossiping on this topic
func (gm *GossipManager) Start(ctx context.Context, ch chan<- *pubsub.Message) error {
	gm.enableMutex.Lock()
	defer gm.enableMutex.Unlock()
	if gm.Enabled {
		return nil
	}

	if gm.topic == nil {
		return fmt.Errorf("cannot start gossip on nil topic: %s", gm.topicName)
	}

	sub, err := gm.topic.Subscribe()
	if err != nil {
		return err
	}
	gm.sub = sub
	subCtx, cancel := context.WithCancel(ctx)
	gm.cancel = cancel

	go readMessages(subCtx, ch, gm.sub, gm.topicName)

	gm.Enabled = true

	return nil
}

// Stop stops all gossiping on this topic
func (gm *GossipManager) Stop() {
	gm.enableMutex.Lock()
	defer gm.enableMutex.Unlock()
	if !gm.Enabled {
		return
	}

	gm.cancel()
	gm.sub.Cancel()
	gm.sub = nil
	gm.Enabled = false
}

// PublishMessage publishes the given object to this manager's topic
func (gm *GossipManager) PublishMessage(ctx context.Context, bytes []byte) error {
	gm.enableMutex.Lock()
	defer gm.enableMutex.Unlock()

	if !gm.Enabled {
		return fmt.Errorf("gossip on %s is not enabled", gm.topicName)
	}

	log.Debugf("Publishing message on %s", gm.topicName)
	return gm.topic.Publish(ctx, bytes)
}

func readMessages(ctx context.Context, ch chan<- *pubsub.Message, sub *pubsub.Subscription, topicName string) {
	// Messages reaching here already passed the topic validator
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warnf("Error getting message for topic %s: %s", topicName, err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case ch <- msg:
		}
	}
}

// AnnouncementHandler handles transmissions announced by peers
type AnnouncementHandler interface {
	HandleAnnouncement(ctx context.Context, addr netip.AddrPort, id transmission.ID)
}

// TransmissionGossip announces ready transmissions and fetches the ones
// peers announce
type TransmissionGossip struct {
	manager       *GossipManager
	handler       AnnouncementHandler
	addressBook   *AddressBook
	peerErrorChan chan<- PeerError
	myPeerID      peer.ID
	opts          options.GossipOptions

	recentAnnouncements uint32
}

// NewTransmissionGossip constructs a new TransmissionGossip
func NewTransmissionGossip(
	ps *pubsub.PubSub,
	handler AnnouncementHandler,
	addressBook *AddressBook,
	peerErrorChan chan<- PeerError,
	id peer.ID,
	opts options.GossipOptions) *TransmissionGossip {
	return &TransmissionGossip{
		manager:       NewGossipManager(ps, TransmissionTopicName),
		handler:       handler,
		addressBook:   addressBook,
		peerErrorChan: peerErrorChan,
		myPeerID:      id,
		opts:          opts,
	}
}

// Start listening for announcements
func (tg *TransmissionGossip) Start(ctx context.Context) error {
	if err := tg.manager.RegisterValidator(tg.validateAnnouncement); err != nil {
		return err
	}

	messageChan := make(chan *pubsub.Message, announcementBuffer)
	if err := tg.manager.Start(ctx, messageChan); err != nil {
		return err
	}
	log.Info("Started transmission gossip listener")

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case msg := <-messageChan:
				tg.handleMessage(ctx, msg)
			case <-ticker.C:
				if num := atomic.SwapUint32(&tg.recentAnnouncements, 0); num > 0 {
					log.Infof("Recently received %v transmission announcement(s)", num)
				}
			case <-ctx.Done():
				tg.manager.Stop()
				return
			}
		}
	}()

	return nil
}

// Announce publishes the IDs of ready transmissions
func (tg *TransmissionGossip) Announce(ctx context.Context, ids ...transmission.ID) error {
	for len(ids) > 0 {
		n := len(ids)
		if n > tg.opts.MaxAnnouncementSize {
			n = tg.opts.MaxAnnouncementSize
		}

		data, err := EncodeAnnouncement(ids[:n])
		if err != nil {
			return err
		}

		publishCtx, cancel := context.WithTimeout(ctx, tg.opts.AnnouncementTimeout)
		err = tg.manager.PublishMessage(publishCtx, data)
		cancel()
		if err != nil {
			return err
		}

		ids = ids[n:]
	}

	return nil
}

func (tg *TransmissionGossip) validateAnnouncement(ctx context.Context, pid peer.ID, msg *pubsub.Message) bool {
	if _, err := DecodeAnnouncement(msg.Data, tg.opts.MaxAnnouncementSize); err != nil {
		log.Warnf("Invalid transmission announcement from peer %v: %s", msg.ReceivedFrom, err)
		go func() {
			select {
			case tg.peerErrorChan <- PeerError{id: msg.ReceivedFrom, err: err}:
			case <-ctx.Done():
			}
		}()
		return false
	}

	return true
}

func (tg *TransmissionGossip) handleMessage(ctx context.Context, msg *pubsub.Message) {
	// Our own announcements are echoed back
	if msg.GetFrom() == tg.myPeerID {
		return
	}

	ids, err := DecodeAnnouncement(msg.Data, tg.opts.MaxAnnouncementSize)
	if err != nil {
		log.Debugf("Dropping announcement from %v: %s", msg.GetFrom(), err)
		return
	}

	// Only the originator is known to hold the transmissions
	addr, ok := tg.addressBook.PeerAddr(msg.GetFrom())
	if !ok {
		log.Debugf("Dropping announcement from unconnected peer %v", msg.GetFrom())
		return
	}

	atomic.AddUint32(&tg.recentAnnouncements, 1)

	for _, id := range ids {
		tg.handler.HandleAnnouncement(ctx, addr, id)
	}
}
