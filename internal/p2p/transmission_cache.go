package p2p

import (
	"sync"
	"time"

	log "github.com/koinos/koinos-log-golang"
	"github.com/koinos/koinos-narwhal/internal/transmission"
)

// TransmissionCacheItem is a an item in the transmission cache
type TransmissionCacheItem struct {
	transmission *transmission.Transmission
	timeAdded    time.Time
}

// TransmissionCache holds transmissions that are ready locally. Entries expire
// after the cache duration.
type TransmissionCache struct {
	transmissionMap   map[transmission.ID]*transmission.Transmission
	transmissionItems []*TransmissionCacheItem
	cacheDuration     time.Duration
	mu                sync.Mutex
}

// NewTransmissionCache creates a new transmission cache
func NewTransmissionCache(cacheDuration time.Duration) *TransmissionCache {
	return &TransmissionCache{
		transmissionMap:   make(map[transmission.ID]*transmission.Transmission),
		transmissionItems: make([]*TransmissionCacheItem, 0),
		cacheDuration:     cacheDuration,
	}
}

func (tc *TransmissionCache) addTransmissionItem(item *TransmissionCacheItem) {
	// Items are kept sorted by time added. Getting this wrong is a programming error.
	numItems := len(tc.transmissionItems)
	if numItems != 0 && item.timeAdded.Before(tc.transmissionItems[numItems-1].timeAdded) {
		panic("TransmissionCache.addTransmissionItem: transmission is older than the last transmission")
	}

	tc.transmissionMap[item.transmission.ID] = item.transmission
	tc.transmissionItems = append(tc.transmissionItems, item)

	log.Debugf("TransmissionCache.addTransmissionItem: added transmission to cache: %s", item.transmission.ID)
}

// Add makes a transmission ready. Returns false if it was already ready.
func (tc *TransmissionCache) Add(t *transmission.Transmission) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := time.Now()
	tc.pruneTransmissions(now)

	if _, ok := tc.transmissionMap[t.ID]; ok {
		return false
	}

	tc.addTransmissionItem(&TransmissionCacheItem{
		transmission: t,
		timeAdded:    now,
	})

	return true
}

// Get returns a ready transmission
func (tc *TransmissionCache) Get(id transmission.ID) (*transmission.Transmission, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.pruneTransmissions(time.Now())

	t, ok := tc.transmissionMap[id]
	return t, ok
}

// GetTransmission serves peer requests from the cache
func (tc *TransmissionCache) GetTransmission(id transmission.ID) (*transmission.Transmission, bool) {
	return tc.Get(id)
}

// Contains returns true if the transmission is ready
func (tc *TransmissionCache) Contains(id transmission.ID) bool {
	_, ok := tc.Get(id)
	return ok
}

// Len returns the number of ready transmissions
func (tc *TransmissionCache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.pruneTransmissions(time.Now())

	return len(tc.transmissionItems)
}

func (tc *TransmissionCache) pruneTransmissions(pruneTime time.Time) {
	pruneCount := 0
	for _, item := range tc.transmissionItems {
		if pruneTime.Sub(item.timeAdded) <= tc.cacheDuration {
			break
		}

		delete(tc.transmissionMap, item.transmission.ID)
		pruneCount++
	}

	if pruneCount > 0 {
		tc.transmissionItems = tc.transmissionItems[pruneCount:]
		log.Debugf("TransmissionCache.pruneTransmissions: pruned %d transmissions", pruneCount)
		log.Debugf("Items currently in transmission cache: %d", len(tc.transmissionItems))
	}
}
