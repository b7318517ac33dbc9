package options

// Config is the entire configuration file
type Config struct {
	NodeOptions              NodeOptions
	FetcherOptions           FetcherOptions
	TransmissionCacheOptions TransmissionCacheOptions
	GossipOptions            GossipOptions
	PeerErrorHandlerOptions  PeerErrorHandlerOptions
	ConnectionManagerOptions ConnectionManagerOptions
}

// NewConfig creates a new Config
func NewConfig() *Config {
	config := Config{
		NodeOptions:              *NewNodeOptions(),
		FetcherOptions:           *NewFetcherOptions(),
		TransmissionCacheOptions: *NewTransmissionCacheOptions(),
		GossipOptions:            *NewGossipOptions(),
		PeerErrorHandlerOptions:  *NewPeerErrorHandlerOptions(),
		ConnectionManagerOptions: *NewConnectionManagerOptions(),
	}
	return &config
}
