package options

import "time"

const (
	announcementTimeoutDefault = 1 * time.Second
	maxAnnouncementSizeDefault = 512
)

// GossipOptions are options for TransmissionGossip
type GossipOptions struct {
	// How long publishing a single announcement may take
	AnnouncementTimeout time.Duration

	// Maximum number of transmission IDs in one announcement
	MaxAnnouncementSize int
}

// NewGossipOptions returns default initialized GossipOptions
func NewGossipOptions() *GossipOptions {
	return &GossipOptions{
		AnnouncementTimeout: announcementTimeoutDefault,
		MaxAnnouncementSize: maxAnnouncementSizeDefault,
	}
}
