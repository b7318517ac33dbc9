package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"

	koinosmq "github.com/koinos/koinos-mq-golang"
	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/koinos/koinos-proto-golang/koinos/protocol"
	"github.com/koinos/koinos-proto-golang/koinos/rpc"
	chainrpc "github.com/koinos/koinos-proto-golang/koinos/rpc/chain"
)

// RPC service constants
const (
	ChainRPC = "chain"
)

// KoinosRPC implements LocalRPC implementation by communicating with a local Koinos node via AMQP
type KoinosRPC struct {
	mq *koinosmq.Client
}

// NewKoinosRPC factory
func NewKoinosRPC(mq *koinosmq.Client) *KoinosRPC {
	rpc := new(KoinosRPC)
	rpc.mq = mq
	return rpc
}

func (k *KoinosRPC) chainRPC(ctx context.Context, name string, args *chainrpc.ChainRequest) (*chainrpc.ChainResponse, error) {
	data, err := proto.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w %s, %s", p2perrors.ErrSerialization, name, err)
	}

	var responseBytes []byte
	responseBytes, err = k.mq.RPC(ctx, "application/octet-stream", ChainRPC, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w %s, %s", p2perrors.ErrLocalRPCTimeout, name, err)
		}
		return nil, fmt.Errorf("%w %s, %s", p2perrors.ErrLocalRPC, name, err)
	}

	responseVariant := &chainrpc.ChainResponse{}
	err = proto.Unmarshal(responseBytes, responseVariant)
	if err != nil {
		return nil, fmt.Errorf("%w %s, %s", p2perrors.ErrDeserialization, name, err)
	}

	return responseVariant, nil
}

// ApplyTransaction rpc call
func (k *KoinosRPC) ApplyTransaction(ctx context.Context, trx *protocol.Transaction) (*chainrpc.SubmitTransactionResponse, error) {
	args := &chainrpc.ChainRequest{
		Request: &chainrpc.ChainRequest_SubmitTransaction{
			SubmitTransaction: &chainrpc.SubmitTransactionRequest{
				Transaction: trx,
				Broadcast:   false,
			},
		},
	}

	responseVariant, err := k.chainRPC(ctx, "ApplyTransaction", args)
	if err != nil {
		return nil, err
	}

	var response *chainrpc.SubmitTransactionResponse

	switch t := responseVariant.Response.(type) {
	case *chainrpc.ChainResponse_SubmitTransaction:
		response = t.SubmitTransaction
	case *chainrpc.ChainResponse_Error:
		err = fmt.Errorf("%w ApplyTransaction, chain rpc error, %s", p2perrors.ErrTransactionApplication, string(t.Error.GetMessage()))
	default:
		err = fmt.Errorf("%w ApplyTransaction, unexpected chain rpc response", p2perrors.ErrLocalRPC)
	}

	return response, err
}

// IsConnectedToChain returns if the AMQP connection can currently communicate
// with the chain microservice.
func (k *KoinosRPC) IsConnectedToChain(ctx context.Context) (bool, error) {
	args := &chainrpc.ChainRequest{
		Request: &chainrpc.ChainRequest_Reserved{
			Reserved: &rpc.ReservedRpc{},
		},
	}

	if _, err := k.chainRPC(ctx, "IsConnectedToChain", args); err != nil {
		return false, err
	}

	return true, nil
}
