package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/koinos/koinos-narwhal/internal/p2perrors"
	"github.com/koinos/koinos-narwhal/internal/transmission"
	gorpc "github.com/libp2p/go-libp2p-gorpc"
	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerRPC implements RemoteRPC interface by communicating via libp2p's gorpc
type PeerRPC struct {
	client *gorpc.Client
	peerID peer.ID
}

// NewPeerRPC creates a PeerRPC
func NewPeerRPC(client *gorpc.Client, peerID peer.ID) *PeerRPC {
	return &PeerRPC{client: client, peerID: peerID}
}

// GetTransmissions rpc call
func (p *PeerRPC) GetTransmissions(ctx context.Context, ids []transmission.ID) ([]*transmission.Transmission, error) {
	rpcReq := &GetTransmissionsRequest{
		IDs: make([][]byte, len(ids)),
	}
	for i, id := range ids {
		rpcReq.IDs[i] = id.Bytes()
	}

	rpcResp := &GetTransmissionsResponse{}
	err := p.client.CallContext(ctx, p.peerID, "PeerRPCService", "GetTransmissions", rpcReq, rpcResp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w, %s", p2perrors.ErrPeerRPCTimeout, err)
		}
		return nil, fmt.Errorf("%w, %s", p2perrors.ErrPeerRPC, err)
	}

	transmissions := make([]*transmission.Transmission, len(rpcResp.Transmissions))
	for i, item := range rpcResp.Transmissions {
		id, err := transmission.IDFromBytes(item.ID)
		if err != nil {
			return nil, err
		}

		transmissions[i] = &transmission.Transmission{ID: id, Payload: item.Payload}
	}

	return transmissions, nil
}
