package p2p

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// PeerAddrFromMultiaddr converts a libp2p transport address to the address a
// peer is tracked by
func PeerAddrFromMultiaddr(addr multiaddr.Multiaddr) (netip.AddrPort, error) {
	netAddr, err := manet.ToNetAddr(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w, %s", p2perrors.ErrUnknownPeerAddress, err)
	}

	return peerAddrFromNetAddr(netAddr)
}

// IPv4 peers are always tracked by their plain IPv4 address, never the
// IPv4-mapped IPv6 form
func peerAddrFromNetAddr(netAddr net.Addr) (netip.AddrPort, error) {
	var ap netip.AddrPort
	switch a := netAddr.(type) {
	case *net.TCPAddr:
		ap = a.AddrPort()
	case *net.UDPAddr:
		ap = a.AddrPort()
	default:
		return netip.AddrPort{}, fmt.Errorf("%w, unsupported address %s", p2perrors.ErrUnknownPeerAddress, netAddr)
	}

	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// AddressBook maps the addresses of connected peers to their IDs
type AddressBook struct {
	peers map[netip.AddrPort]peer.ID
	addrs map[peer.ID]netip.AddrPort
	mu    sync.RWMutex
}

// NewAddressBook creates an empty AddressBook
func NewAddressBook() *AddressBook {
	return &AddressBook{
		peers: make(map[netip.AddrPort]peer.ID),
		addrs: make(map[peer.ID]netip.AddrPort),
	}
}

// Add records a connected peer, replacing any previous address it had
func (a *AddressBook) Add(addr netip.AddrPort, id peer.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.addrs[id]; ok {
		delete(a.peers, old)
	}

	a.peers[addr] = id
	a.addrs[id] = addr
}

// Remove forgets a peer
func (a *AddressBook) Remove(id peer.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if addr, ok := a.addrs[id]; ok {
		delete(a.peers, addr)
		delete(a.addrs, id)
	}
}

// PeerID returns the peer behind an address
func (a *AddressBook) PeerID(addr netip.AddrPort) (peer.ID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if id, ok := a.peers[addr]; ok {
		return id, nil
	}

	return "", fmt.Errorf("%w, %s", p2perrors.ErrUnknownPeerAddress, addr)
}

// PeerAddr returns the address of a peer
func (a *AddressBook) PeerAddr(id peer.ID) (netip.AddrPort, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	addr, ok := a.addrs[id]
	return addr, ok
}

// Len returns the number of known peers
func (a *AddressBook) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.peers)
}
