package options

import "time"

const (
	cacheDurationDefault = time.Minute * 10
)

// TransmissionCacheOptions are options for TransmissionCache
type TransmissionCacheOptions struct {
	CacheDuration time.Duration
}

// NewTransmissionCacheOptions returns default initialized TransmissionCacheOptions
func NewTransmissionCacheOptions() *TransmissionCacheOptions {
	return &TransmissionCacheOptions{
		CacheDuration: cacheDurationDefault,
	}
}
