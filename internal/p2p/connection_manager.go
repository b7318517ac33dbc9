package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	log "github.com/koinos/koinos-log-golang"
	"github.com/koinos/koinos-narwhal/internal/options"
	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/koinos/koinos-narwhal/internal/rpc"

	gorpc "github.com/libp2p/go-libp2p-gorpc"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	multiaddr "github.com/multiformats/go-multiaddr"
)

type connectionMessage struct {
	net  network.Network
	conn network.Conn
}

type numConnectionsMessage struct {
	returnChan chan<- int
}

type isConnectedMessage struct {
	id         peer.ID
	returnChan chan<- bool
}

type peerConnectionContext struct {
	conn   network.Conn
	cancel context.CancelFunc
}

// ConnectionManager tracks connected peers using the network.Notifiee interface.
// It keeps the address book current, checks each peer's protocol version,
// serves peer RPC and closes connections the error handler rejects.
type ConnectionManager struct {
	host   host.Host
	server *gorpc.Server
	client *gorpc.Client

	opts         *options.ConnectionManagerOptions
	addressBook  *AddressBook
	errorHandler *PeerErrorHandler

	initialPeers   map[peer.ID]peer.AddrInfo
	connectedPeers map[peer.ID]*peerConnectionContext

	peerConnectedChan    chan connectionMessage
	peerDisconnectedChan chan connectionMessage
	disconnectPeerChan   <-chan peer.ID
	peerErrorChan        chan<- PeerError
	numConnectionsChan   chan *numConnectionsMessage
	isConnectedChan      chan *isConnectedMessage

	done <-chan struct{}
}

// NewConnectionManager creates a new ConnectionManager object
func NewConnectionManager(
	host host.Host,
	provider rpc.TransmissionProvider,
	addressBook *AddressBook,
	errorHandler *PeerErrorHandler,
	managerOpts *options.ConnectionManagerOptions,
	initialPeers []peer.AddrInfo,
	disconnectPeerChan <-chan peer.ID,
	peerErrorChan chan<- PeerError) *ConnectionManager {

	connectionManager := ConnectionManager{
		host:                 host,
		client:               gorpc.NewClient(host, rpc.PeerRPCID),
		server:               gorpc.NewServer(host, rpc.PeerRPCID),
		opts:                 managerOpts,
		addressBook:          addressBook,
		errorHandler:         errorHandler,
		initialPeers:         make(map[peer.ID]peer.AddrInfo),
		connectedPeers:       make(map[peer.ID]*peerConnectionContext),
		peerConnectedChan:    make(chan connectionMessage),
		peerDisconnectedChan: make(chan connectionMessage),
		disconnectPeerChan:   disconnectPeerChan,
		peerErrorChan:        peerErrorChan,
		numConnectionsChan:   make(chan *numConnectionsMessage),
		isConnectedChan:      make(chan *isConnectedMessage),
	}

	log.Debug("Registering Peer RPC Service")
	err := connectionManager.server.Register(rpc.NewPeerRPCService(provider))
	if err != nil {
		log.Errorf("Error registering Peer RPC Service: %s", err.Error())
		panic(err)
	}
	log.Debug("Peer RPC Service successfully registered")

	for _, peer := range initialPeers {
		connectionManager.initialPeers[peer.ID] = peer
	}

	return &connectionManager
}

// RemoteRPC returns the RemoteRPC of a peer
func (c *ConnectionManager) RemoteRPC(id peer.ID) rpc.RemoteRPC {
	return rpc.NewPeerRPC(c.client, id)
}

// OpenedStream is part of the libp2p network.Notifiee interface
func (c *ConnectionManager) OpenedStream(n network.Network, s network.Stream) {
}

// ClosedStream is part of the libp2p network.Notifiee interface
func (c *ConnectionManager) ClosedStream(n network.Network, s network.Stream) {
}

// Connected is part of the libp2p network.Notifiee interface
func (c *ConnectionManager) Connected(net network.Network, conn network.Conn) {
	select {
	case c.peerConnectedChan <- connectionMessage{net: net, conn: conn}:
	case <-c.done:
	}
}

// Disconnected is part of the libp2p network.Notifiee interface
func (c *ConnectionManager) Disconnected(net network.Network, conn network.Conn) {
	select {
	case c.peerDisconnectedChan <- connectionMessage{net: net, conn: conn}:
	case <-c.done:
	}
}

// Listen is part of the libp2p network.Notifiee interface
func (c *ConnectionManager) Listen(n network.Network, _ multiaddr.Multiaddr) {
}

// ListenClose is part of the libp2p network.Notifiee interface
func (c *ConnectionManager) ListenClose(n network.Network, _ multiaddr.Multiaddr) {
}

func (c *ConnectionManager) GetNumConnections(ctx context.Context) int {
	returnChan := make(chan int, 1)

	select {
	case c.numConnectionsChan <- &numConnectionsMessage{returnChan}:
	case <-ctx.Done():
		return 0
	}

	select {
	case num := <-returnChan:
		return num
	case <-ctx.Done():
		return 0
	}
}

func (c *ConnectionManager) IsConnected(ctx context.Context, pid peer.ID) bool {
	returnChan := make(chan bool, 1)

	select {
	case c.isConnectedChan <- &isConnectedMessage{pid, returnChan}:
	case <-ctx.Done():
		return false
	}

	select {
	case connected := <-returnChan:
		return connected
	case <-ctx.Done():
		return false
	}
}

func (c *ConnectionManager) readProtocolVersion(pid peer.ID) (string, error) {
	peerVersion, err := c.host.Peerstore().Get(pid, "ProtocolVersion")
	if err != nil {
		return "", err
	}

	switch peerVersion := peerVersion.(type) {
	case string:
		return peerVersion, nil
	default:
		return "", p2perrors.ErrProtocolMissing
	}
}

// GetProtocolVersion waits for identify to report the peer's protocol version
func (c *ConnectionManager) GetProtocolVersion(ctx context.Context, pid peer.ID) (*semver.Version, error) {
	versionCtx, cancel := context.WithTimeout(ctx, c.opts.ProtocolVersionTimeout)
	defer cancel()

	for {
		versionString, err := c.readProtocolVersion(pid)
		if err == nil && len(versionString) > 0 {
			version, ok := ParseProtocolVersion(versionString)
			if !ok {
				return nil, fmt.Errorf("%w, %s", p2perrors.ErrProtocolMismatch, versionString)
			}

			return version, nil
		}

		select {
		case <-time.After(c.opts.ProtocolVersionRetryTime):
		case <-versionCtx.Done():
			return nil, p2perrors.ErrProtocolMissing
		}
	}
}

func (c *ConnectionManager) checkPeer(ctx context.Context, pid peer.ID) {
	if c.errorHandler != nil && !c.errorHandler.CanConnect(ctx, pid) {
		log.Infof("Closing connection to peer %s with high error score", pid)
		_ = c.host.Network().ClosePeer(pid)
		return
	}

	version, err := c.GetProtocolVersion(ctx, pid)
	if err == nil && !IsCompatibleVersion(version) {
		err = fmt.Errorf("%w, peer version %s", p2perrors.ErrProtocolMismatch, version)
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}

		select {
		case c.peerErrorChan <- PeerError{id: pid, err: err}:
		case <-ctx.Done():
		}
	}
}

func (c *ConnectionManager) handleConnected(ctx context.Context, msg connectionMessage) {
	pid := msg.conn.RemotePeer()
	s := fmt.Sprintf("%s/p2p/%s", msg.conn.RemoteMultiaddr(), pid)

	log.Debugf("Connected to peer: %s", s)

	if _, ok := c.connectedPeers[pid]; ok {
		return
	}

	addr, err := PeerAddrFromMultiaddr(msg.conn.RemoteMultiaddr())
	if err != nil {
		log.Warnf("Cannot track peer %s: %s", s, err)
	} else {
		c.addressBook.Add(addr, pid)
	}

	childCtx, cancel := context.WithCancel(ctx)
	c.connectedPeers[pid] = &peerConnectionContext{
		conn:   msg.conn,
		cancel: cancel,
	}

	go c.checkPeer(childCtx, pid)
}

func (c *ConnectionManager) handleDisconnected(msg connectionMessage) {
	pid := msg.conn.RemotePeer()

	// Another connection to the peer may still be open
	if len(c.host.Network().ConnsToPeer(pid)) > 0 {
		return
	}

	if peerConn, ok := c.connectedPeers[pid]; ok {
		peerConn.cancel()
		delete(c.connectedPeers, pid)
		c.addressBook.Remove(pid)
	} else {
		return
	}

	s := fmt.Sprintf("%s/p2p/%s", msg.conn.RemoteMultiaddr(), msg.conn.RemotePeer())
	log.Debugf("Disconnected from peer: %s", s)
}

func (c *ConnectionManager) handleGetNumConnections(ctx context.Context, msg *numConnectionsMessage) {
	select {
	case msg.returnChan <- len(c.connectedPeers):
	case <-ctx.Done():
	}
}

func (c *ConnectionManager) handleIsConnected(ctx context.Context, msg *isConnectedMessage) {
	_, connected := c.connectedPeers[msg.id]

	select {
	case msg.returnChan <- connected:
	case <-ctx.Done():
	}
}

func (c *ConnectionManager) connectInitialPeers(ctx context.Context) {
	for {
		for peer, addr := range c.initialPeers {
			if !c.IsConnected(ctx, peer) {
				log.Infof("Attempting to connect to seed %v", peer)
				if err := c.host.Connect(ctx, addr); err != nil {
					log.Infof("Error connecting to seed %v: %s", peer, err)
				}
			}
		}

		select {
		case <-time.After(c.opts.InitialPeerRetryTime):
		case <-ctx.Done():
			return
		}
	}
}

func (c *ConnectionManager) managerLoop(ctx context.Context) {
	for {
		select {
		case connMsg := <-c.peerConnectedChan:
			c.handleConnected(ctx, connMsg)
		case connMsg := <-c.peerDisconnectedChan:
			c.handleDisconnected(connMsg)
		case pid := <-c.disconnectPeerChan:
			log.Infof("Disconnecting from peer %s", pid)
			// Closing notifies Disconnected, which needs this loop
			go func() {
				_ = c.host.Network().ClosePeer(pid)
			}()
		case numConnectionsMsg := <-c.numConnectionsChan:
			c.handleGetNumConnections(ctx, numConnectionsMsg)
		case isConnectedMsg := <-c.isConnectedChan:
			c.handleIsConnected(ctx, isConnectedMsg)

		case <-ctx.Done():
			for _, conn := range c.connectedPeers {
				conn.cancel()
			}

			c.connectedPeers = make(map[peer.ID]*peerConnectionContext)
			return
		}
	}
}

// Start the connection manager. Must be called before registering it with
// the network.
func (c *ConnectionManager) Start(ctx context.Context) {
	c.done = ctx.Done()

	go func() {
		for _, peer := range c.host.Network().Peers() {
			conns := c.host.Network().ConnsToPeer(peer)
			if len(conns) > 0 {
				c.Connected(c.host.Network(), conns[0])
			}
		}

		go c.connectInitialPeers(ctx)
	}()

	go c.managerLoop(ctx)
}
