package rpc

import (
	"context"

	"github.com/koinos/koinos-narwhal/internal/transmission"
)

// RemoteRPC interface for remote node RPC methods required for koinos-narwhal to function
type RemoteRPC interface {
	GetTransmissions(ctx context.Context, ids []transmission.ID) ([]*transmission.Transmission, error)
}
