package options

import "time"

const (
	fetchTimeoutDefault            = time.Second * 15
	requestTimeoutDefault          = time.Second * 6
	localRPCTimeoutDefault         = time.Second * 6
	maxRedundantRequestsDefault    = 2
	maxPendingTransmissionsDefault = 10000
)

// FetcherOptions are options for TransmissionFetcher
type FetcherOptions struct {
	// How long a caller waits for a transmission before giving up
	FetchTimeout time.Duration

	// Timeout of a single request to a peer
	RequestTimeout time.Duration

	// Timeout of calls to the local chain
	LocalRPCTimeout time.Duration

	// Maximum number of requests in flight for the same transmission
	MaxRedundantRequests int

	// Maximum number of transmissions pending at once
	MaxPendingTransmissions int
}

// NewFetcherOptions returns default initialized FetcherOptions
func NewFetcherOptions() *FetcherOptions {
	return &FetcherOptions{
		FetchTimeout:            fetchTimeoutDefault,
		RequestTimeout:          requestTimeoutDefault,
		LocalRPCTimeout:         localRPCTimeoutDefault,
		MaxRedundantRequests:    maxRedundantRequestsDefault,
		MaxPendingTransmissions: maxPendingTransmissionsDefault,
	}
}
