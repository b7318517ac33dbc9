package p2p

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	log "github.com/koinos/koinos-log-golang"
	"github.com/koinos/koinos-narwhal/internal/options"
	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/koinos/koinos-narwhal/internal/pending"
	"github.com/koinos/koinos-narwhal/internal/rpc"
	"github.com/koinos/koinos-narwhal/internal/transmission"
	"github.com/libp2p/go-libp2p/core/peer"
)

// RemoteRPCProvider returns the RemoteRPC of a connected peer
type RemoteRPCProvider interface {
	RemoteRPC(id peer.ID) rpc.RemoteRPC
}

type fetchRequest struct {
	addr netip.AddrPort
	id   transmission.ID
}

// TransmissionFetcher fetches transmissions announced by peers. Concurrent
// fetches of the same transmission share requests through the pending tracker.
type TransmissionFetcher struct {
	pending     *pending.Pending[transmission.ID]
	ready       *TransmissionCache
	addressBook *AddressBook
	remote      RemoteRPCProvider
	localRPC    rpc.LocalRPC
	metrics     *Metrics

	requestChan   chan fetchRequest
	peerErrorChan chan<- PeerError

	// Requests sent and not yet returned, per transmission
	inFlight   map[transmission.ID]int
	inFlightMu sync.Mutex

	applyTransactions bool
	opts              options.FetcherOptions
}

// NewTransmissionFetcher creates a TransmissionFetcher. The pending tracker is
// shared with every other component resolving transmissions.
func NewTransmissionFetcher(
	tracker *pending.Pending[transmission.ID],
	ready *TransmissionCache,
	addressBook *AddressBook,
	remote RemoteRPCProvider,
	localRPC rpc.LocalRPC,
	peerErrorChan chan<- PeerError,
	metrics *Metrics,
	applyTransactions bool,
	opts options.FetcherOptions) *TransmissionFetcher {
	return &TransmissionFetcher{
		pending:           tracker,
		ready:             ready,
		addressBook:       addressBook,
		remote:            remote,
		localRPC:          localRPC,
		metrics:           metrics,
		requestChan:       make(chan fetchRequest),
		inFlight:          make(map[transmission.ID]int),
		peerErrorChan:     peerErrorChan,
		applyTransactions: applyTransactions,
		opts:              opts,
	}
}

// HandleAnnouncement starts fetching a transmission a peer announced, unless
// it is ready or already pending from that peer
func (f *TransmissionFetcher) HandleAnnouncement(ctx context.Context, addr netip.AddrPort, id transmission.ID) {
	if f.ready.Contains(id) || f.pending.ContainsPeer(id, addr) {
		return
	}

	go func() {
		if _, err := f.Fetch(ctx, addr, id); err != nil {
			log.Debugf("Could not fetch announced transmission %s from %s: %s", id, addr, err)
		}
	}()
}

// Fetch returns a transmission, requesting it from the peer at addr if it is
// not ready. At most MaxRedundantRequests requests per transmission are in
// flight at once.
func (f *TransmissionFetcher) Fetch(ctx context.Context, addr netip.AddrPort, id transmission.ID) (*transmission.Transmission, error) {
	if t, ok := f.ready.Get(id); ok {
		return t, nil
	}

	if !f.pending.Contains(id) && f.pending.Len() >= f.opts.MaxPendingTransmissions {
		return nil, fmt.Errorf("%w, dropping %s", p2perrors.ErrMaxPendingTransmissions, id)
	}

	callback, done := pending.NewCallback()
	send := f.track(id, addr, callback)
	f.metrics.Pending.Set(float64(f.pending.Len()))

	// A response may have landed between the ready check and the insert
	if f.ready.Contains(id) {
		if send {
			f.finishRequest(id)
		}
		f.Resolve(id)
	} else if send {
		f.metrics.Requested.Inc()
		select {
		case f.requestChan <- fetchRequest{addr: addr, id: id}:
		case <-ctx.Done():
			f.finishRequest(id)
		}
	} else {
		f.metrics.Deduplicated.Inc()
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.opts.FetchTimeout)
	defer cancel()

	if err := pending.Wait(waitCtx, done); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			f.metrics.TimedOut.Inc()
			return nil, fmt.Errorf("%w, %s", p2perrors.ErrTransmissionFetchTimeout, id)
		}
		return nil, err
	}

	if t, ok := f.ready.Get(id); ok {
		return t, nil
	}

	return nil, fmt.Errorf("%w, %s resolved without data", p2perrors.ErrTransmissionNotFound, id)
}

// track records that the peer at addr has id and reports whether it should be
// asked for it. Only a peer new to id is asked, and only while fewer than
// MaxRedundantRequests requests for id are in flight.
func (f *TransmissionFetcher) track(id transmission.ID, addr netip.AddrPort, callback *pending.Callback) bool {
	f.inFlightMu.Lock()
	defer f.inFlightMu.Unlock()

	isNewPeer := !f.pending.ContainsPeer(id, addr)
	f.pending.Insert(id, addr, callback)

	if !isNewPeer || f.inFlight[id] >= f.opts.MaxRedundantRequests {
		return false
	}

	f.inFlight[id]++
	return true
}

func (f *TransmissionFetcher) finishRequest(id transmission.ID) {
	f.inFlightMu.Lock()
	defer f.inFlightMu.Unlock()

	if f.inFlight[id] <= 1 {
		delete(f.inFlight, id)
	} else {
		f.inFlight[id]--
	}
}

func (f *TransmissionFetcher) numInFlight(id transmission.ID) int {
	f.inFlightMu.Lock()
	defer f.inFlightMu.Unlock()

	return f.inFlight[id]
}

// HandleResponse accepts a transmission sent by the peer at addr. The peer
// must have been asked for it.
func (f *TransmissionFetcher) HandleResponse(ctx context.Context, addr netip.AddrPort, t *transmission.Transmission) error {
	peers, ok := f.pending.Get(t.ID)
	if !ok && f.ready.Contains(t.ID) {
		// A redundant request answered after the first
		return nil
	}

	if !ok || !peers.Contains(addr) {
		f.metrics.Rejected.Inc()
		return fmt.Errorf("%w, %s from %s", p2perrors.ErrUnsolicitedTransmission, t.ID, addr)
	}

	if err := t.Verify(); err != nil {
		f.metrics.Rejected.Inc()
		return err
	}

	first := f.ready.Add(t)
	f.Resolve(t.ID)
	f.metrics.Ready.Set(float64(f.ready.Len()))

	if first && f.applyTransactions && t.ID.Kind == transmission.Transaction {
		return f.applyTransaction(ctx, t)
	}

	return nil
}

// Resolve finalizes a transmission, waking everybody waiting on it
func (f *TransmissionFetcher) Resolve(id transmission.ID) bool {
	removed := f.pending.Remove(id)
	if removed {
		f.metrics.Resolved.Inc()
	}
	f.metrics.Pending.Set(float64(f.pending.Len()))

	return removed
}

// AddLocal makes a locally produced transmission ready. Returns false if it
// already was.
func (f *TransmissionFetcher) AddLocal(t *transmission.Transmission) bool {
	added := f.ready.Add(t)
	f.Resolve(t.ID)
	f.metrics.Ready.Set(float64(f.ready.Len()))

	return added
}

func (f *TransmissionFetcher) applyTransaction(ctx context.Context, t *transmission.Transmission) error {
	trx, err := t.Transaction()
	if err != nil {
		return err
	}

	rpcContext, cancel := context.WithTimeout(ctx, f.opts.LocalRPCTimeout)
	defer cancel()

	_, err = f.localRPC.ApplyTransaction(rpcContext, trx)
	return err
}

func (f *TransmissionFetcher) reportError(ctx context.Context, id peer.ID, err error) {
	select {
	case f.peerErrorChan <- PeerError{id: id, err: err}:
	case <-ctx.Done():
	}
}

func (f *TransmissionFetcher) request(ctx context.Context, req fetchRequest) {
	defer f.finishRequest(req.id)

	pid, err := f.addressBook.PeerID(req.addr)
	if err != nil {
		log.Debugf("Cannot request transmission %s: %s", req.id, err)
		return
	}

	rpcContext, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()

	transmissions, err := f.remote.RemoteRPC(pid).GetTransmissions(rpcContext, []transmission.ID{req.id})
	if err != nil {
		f.reportError(ctx, pid, err)
		return
	}

	if len(transmissions) == 0 {
		f.reportError(ctx, pid, fmt.Errorf("%w, %s", p2perrors.ErrTransmissionNotFound, req.id))
		return
	}

	for _, t := range transmissions {
		if err := f.HandleResponse(ctx, req.addr, t); err != nil {
			if errors.Is(err, p2perrors.ErrLocalRPC) || errors.Is(err, p2perrors.ErrLocalRPCTimeout) {
				log.Warnf("Error applying transaction %s: %s", t.ID, err)
				continue
			}
			f.reportError(ctx, pid, err)
		}
	}
}

// Start sending requests
func (f *TransmissionFetcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case req := <-f.requestChan:
				go f.request(ctx, req)
			case <-ctx.Done():
				return
			}
		}
	}()
}
