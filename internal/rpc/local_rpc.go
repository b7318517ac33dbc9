package rpc

import (
	"context"

	"github.com/koinos/koinos-proto-golang/koinos/protocol"
	"github.com/koinos/koinos-proto-golang/koinos/rpc/chain"
)

// LocalRPC interface for local node RPC methods required for koinos-narwhal to function
type LocalRPC interface {
	ApplyTransaction(ctx context.Context, trx *protocol.Transaction) (*chain.SubmitTransactionResponse, error)

	IsConnectedToChain(ctx context.Context) (bool, error)
}
