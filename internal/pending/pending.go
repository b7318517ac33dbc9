package pending

import (
	"net/netip"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Pending tracks items that have been requested from the network but not yet
// resolved. For each item it keeps the set of peers known to have it and the
// callbacks of local callers waiting for it.
//
// The peer table and the callback table are locked independently. Callbacks
// are always fired with neither lock held, so a woken caller may call back
// into the tracker.
type Pending[T comparable] struct {
	pending   map[T]mapset.Set[netip.AddrPort]
	pendingMu sync.RWMutex

	// TODO: expire callbacks for items that are never removed once the
	// fetcher knows the current round; today they live until Remove.
	callbacks   map[T][]*Callback
	callbacksMu sync.Mutex
}

// NewPending creates an empty tracker
func NewPending[T comparable]() *Pending[T] {
	return &Pending[T]{
		pending:   make(map[T]mapset.Set[netip.AddrPort]),
		callbacks: make(map[T][]*Callback),
	}
}

// IsEmpty returns true if no item is pending
func (p *Pending[T]) IsEmpty() bool {
	return p.Len() == 0
}

// Len returns the number of pending items
func (p *Pending[T]) Len() int {
	p.pendingMu.RLock()
	defer p.pendingMu.RUnlock()

	return len(p.pending)
}

// Contains returns true if item is pending
func (p *Pending[T]) Contains(item T) bool {
	p.pendingMu.RLock()
	defer p.pendingMu.RUnlock()

	_, ok := p.pending[item]
	return ok
}

// ContainsPeer returns true if item is pending and peer is known to have it
func (p *Pending[T]) ContainsPeer(item T, peer netip.AddrPort) bool {
	p.pendingMu.RLock()
	defer p.pendingMu.RUnlock()

	if peers, ok := p.pending[item]; ok {
		return peers.Contains(peer)
	}

	return false
}

// Get returns a copy of the peers known to have item
func (p *Pending[T]) Get(item T) (mapset.Set[netip.AddrPort], bool) {
	p.pendingMu.RLock()
	defer p.pendingMu.RUnlock()

	if peers, ok := p.pending[item]; ok {
		return peers.Clone(), true
	}

	return nil, false
}

// NumCallbacks returns the number of callbacks waiting on item
func (p *Pending[T]) NumCallbacks(item T) int {
	p.callbacksMu.Lock()
	defer p.callbacksMu.Unlock()

	return len(p.callbacks[item])
}

// Insert records that peer has item. If callback is not nil, it is fired
// when item is next removed.
func (p *Pending[T]) Insert(item T, peer netip.AddrPort, callback *Callback) {
	p.pendingMu.Lock()
	if peers, ok := p.pending[item]; ok {
		peers.Add(peer)
	} else {
		p.pending[item] = mapset.NewThreadUnsafeSet(peer)
	}
	p.pendingMu.Unlock()

	if callback != nil {
		p.callbacksMu.Lock()
		p.callbacks[item] = append(p.callbacks[item], callback)
		p.callbacksMu.Unlock()
	}
}

// Remove drops item from the tracker and fires its callbacks in the order
// they were inserted. Returns true if item was pending.
func (p *Pending[T]) Remove(item T) bool {
	p.pendingMu.Lock()
	_, ok := p.pending[item]
	delete(p.pending, item)
	p.pendingMu.Unlock()

	p.callbacksMu.Lock()
	callbacks := p.callbacks[item]
	delete(p.callbacks, item)
	p.callbacksMu.Unlock()

	for _, cb := range callbacks {
		cb.fire()
	}

	return ok
}
