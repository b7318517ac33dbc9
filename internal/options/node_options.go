package options

// NodeOptions is options that affect the whole node
type NodeOptions struct {
	// Set to true to enable the kademlia DHT for peer routing
	EnableDHT bool

	// Set to true to submit fetched transactions to the local chain
	ApplyTransactions bool

	// Peers to initially connect
	InitialPeers []string
}

// NewNodeOptions creates a NodeOptions object which controls how the node works
func NewNodeOptions() *NodeOptions {
	return &NodeOptions{
		EnableDHT:         false,
		ApplyTransactions: true,
		InitialPeers:      make([]string, 0),
	}
}
