package pending

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	id int
}

func testAddr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestPending(t *testing.T) {
	pending := NewPending[testItem]()

	// Check initially empty
	assert.True(t, pending.IsEmpty())
	assert.Equal(t, 0, pending.Len())

	item1 := testItem{1}
	item2 := testItem{2}
	item3 := testItem{3}
	unknown := testItem{4}

	addr1 := testAddr(1234)
	addr2 := testAddr(2345)
	addr3 := testAddr(3456)

	pending.Insert(item1, addr1, nil)
	pending.Insert(item2, addr2, nil)
	pending.Insert(item3, addr3, nil)

	assert.Equal(t, 3, pending.Len())
	assert.False(t, pending.IsEmpty())

	items := []testItem{item1, item2, item3}
	peers := []netip.AddrPort{addr1, addr2, addr3}
	for i := range items {
		assert.True(t, pending.Contains(items[i]))
		assert.True(t, pending.ContainsPeer(items[i], peers[i]))
	}
	assert.False(t, pending.Contains(unknown))
	assert.False(t, pending.ContainsPeer(item1, addr2))
	assert.False(t, pending.ContainsPeer(unknown, addr1))

	for i := range items {
		peerSet, ok := pending.Get(items[i])
		require.True(t, ok)
		assert.True(t, peerSet.Equal(mapset.NewThreadUnsafeSet(peers[i])))
	}
	_, ok := pending.Get(unknown)
	assert.False(t, ok)

	assert.True(t, pending.Remove(item1))
	assert.True(t, pending.Remove(item2))
	assert.True(t, pending.Remove(item3))
	assert.False(t, pending.Remove(unknown))

	assert.True(t, pending.IsEmpty())
}

func TestPendingMultiplePeers(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}

	pending.Insert(item, testAddr(1), nil)
	pending.Insert(item, testAddr(2), nil)
	pending.Insert(item, testAddr(3), nil)

	assert.Equal(t, 1, pending.Len())

	peerSet, ok := pending.Get(item)
	require.True(t, ok)
	assert.True(t, peerSet.Equal(mapset.NewThreadUnsafeSet(testAddr(1), testAddr(2), testAddr(3))))

	// Inserting the same peer again is a no-op on the set
	pending.Insert(item, testAddr(2), nil)
	peerSet, _ = pending.Get(item)
	assert.Equal(t, 3, peerSet.Cardinality())
}

func TestPendingGetReturnsCopy(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}
	pending.Insert(item, testAddr(1), nil)

	peerSet, ok := pending.Get(item)
	require.True(t, ok)
	peerSet.Add(testAddr(2))

	assert.False(t, pending.ContainsPeer(item, testAddr(2)))
}

func TestPendingRemoveTwice(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}
	pending.Insert(item, testAddr(1), nil)

	assert.True(t, pending.Remove(item))
	assert.False(t, pending.Contains(item))
	_, ok := pending.Get(item)
	assert.False(t, ok)
	assert.False(t, pending.Remove(item))
}

func TestPendingCallbacks(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}

	cb1, done1 := NewCallback()
	cb2, done2 := NewCallback()
	cb3, done3 := NewCallback()

	pending.Insert(item, testAddr(1), cb1)
	pending.Insert(item, testAddr(2), cb2)
	pending.Insert(item, testAddr(1), cb3)

	assert.Equal(t, 3, pending.NumCallbacks(item))
	assert.Equal(t, []*Callback{cb1, cb2, cb3}, pending.callbacks[item])

	assert.False(t, isClosed(done1))
	assert.False(t, isClosed(done2))
	assert.False(t, isClosed(done3))

	assert.True(t, pending.Remove(item))

	assert.True(t, isClosed(done1))
	assert.True(t, isClosed(done2))
	assert.True(t, isClosed(done3))
	assert.Equal(t, 0, pending.NumCallbacks(item))

	// A second remove has nothing left to fire
	assert.False(t, pending.Remove(item))
}

func TestPendingCallbackOrder(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}

	const numCallbacks = 16
	dones := make([]<-chan struct{}, numCallbacks)
	for i := 0; i < numCallbacks; i++ {
		var cb *Callback
		cb, dones[i] = NewCallback()
		pending.Insert(item, testAddr(uint16(i)), cb)
	}

	// Each callback observes its predecessors as already fired
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range dones {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-dones[i]
			for j := 0; j < i; j++ {
				assert.True(t, isClosed(dones[j]))
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}

	pending.Remove(item)
	wg.Wait()
	assert.Len(t, order, numCallbacks)
}

func TestPendingCallbackSeesRemoval(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}

	cb, done := NewCallback()
	pending.Insert(item, testAddr(1), cb)

	result := make(chan bool, 1)
	go func() {
		<-done
		result <- pending.Contains(item)
	}()

	assert.True(t, pending.Remove(item))

	select {
	case contains := <-result:
		assert.False(t, contains)
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestPendingAbandonedCallback(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}

	abandoned, _ := NewCallback()
	live, done := NewCallback()

	pending.Insert(item, testAddr(1), abandoned)
	pending.Insert(item, testAddr(2), live)

	assert.NotPanics(t, func() {
		assert.True(t, pending.Remove(item))
	})
	assert.True(t, isClosed(done))
}

func TestPendingCallbackWithoutPeerEntry(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}

	cb, done := NewCallback()
	pending.callbacksMu.Lock()
	pending.callbacks[item] = append(pending.callbacks[item], cb)
	pending.callbacksMu.Unlock()

	assert.False(t, pending.Contains(item))
	assert.Equal(t, 1, pending.NumCallbacks(item))

	// Nothing was pending, but the waiter is still woken
	assert.False(t, pending.Remove(item))
	assert.True(t, isClosed(done))
}

func TestPendingCallbackAfterRemove(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}

	first, firstDone := NewCallback()
	pending.Insert(item, testAddr(1), first)
	assert.True(t, pending.Remove(item))
	assert.True(t, isClosed(firstDone))

	// A new fetch cycle
	second, secondDone := NewCallback()
	pending.Insert(item, testAddr(1), second)
	assert.False(t, isClosed(secondDone))
	assert.True(t, pending.Contains(item))

	assert.True(t, pending.Remove(item))
	assert.True(t, isClosed(secondDone))
}

func TestPendingIndependentItems(t *testing.T) {
	pending := NewPending[testItem]()
	x := testItem{1}
	y := testItem{2}

	cbX, doneX := NewCallback()
	cbY, doneY := NewCallback()
	pending.Insert(x, testAddr(1), cbX)
	pending.Insert(y, testAddr(2), cbY)

	assert.True(t, pending.Remove(x))
	assert.True(t, isClosed(doneX))
	assert.False(t, isClosed(doneY))
	assert.True(t, pending.Contains(y))
	assert.True(t, pending.ContainsPeer(y, testAddr(2)))
	assert.False(t, pending.ContainsPeer(y, testAddr(1)))
	assert.Equal(t, 1, pending.NumCallbacks(y))
}

func TestPendingConcurrent(t *testing.T) {
	pending := NewPending[testItem]()

	const numWorkers = 8
	const perWorker = 500
	const total = numWorkers * perWorker

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := w*perWorker + i
				pending.Insert(testItem{id}, testAddr(uint16(id)), nil)
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, total, pending.Len())
	for id := 0; id < total; id++ {
		assert.True(t, pending.Contains(testItem{id}))
		assert.True(t, pending.ContainsPeer(testItem{id}, testAddr(uint16(id))))
	}

	// Every removal succeeds exactly once, even with racing removers
	var removed int64
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := 0; id < total; id++ {
				if pending.Remove(testItem{id}) {
					atomic.AddInt64(&removed, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(total), removed)
	assert.True(t, pending.IsEmpty())
}

func TestPendingConcurrentWaiters(t *testing.T) {
	pending := NewPending[testItem]()
	item := testItem{1}

	const numWaiters = 64

	var registered sync.WaitGroup
	var woken sync.WaitGroup
	var count int64
	for i := 0; i < numWaiters; i++ {
		registered.Add(1)
		woken.Add(1)
		go func(i int) {
			defer woken.Done()
			cb, done := NewCallback()
			pending.Insert(item, testAddr(uint16(i)), cb)
			registered.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := Wait(ctx, done); err == nil {
				atomic.AddInt64(&count, 1)
			}
		}(i)
	}

	registered.Wait()
	peerSet, ok := pending.Get(item)
	require.True(t, ok)
	assert.Equal(t, numWaiters, peerSet.Cardinality())

	assert.True(t, pending.Remove(item))
	woken.Wait()
	assert.Equal(t, int64(numWaiters), count)
}

func TestWaitContext(t *testing.T) {
	_, done := NewCallback()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, Wait(ctx, done), context.DeadlineExceeded)
}

func TestCallbackFiresOnce(t *testing.T) {
	cb, done := NewCallback()
	assert.NotPanics(t, func() {
		cb.fire()
		cb.fire()
	})
	assert.True(t, isClosed(done))
}
