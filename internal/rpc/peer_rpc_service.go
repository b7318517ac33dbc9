package rpc

import (
	"context"
	"fmt"

	"github.com/koinos/koinos-narwhal/internal/transmission"
)

// PeerRPCID Identifies the peer rpc service
const PeerRPCID = "/koinos/narwhal/peerrpc/1.0.0"

// MaxTransmissionsPerRequest bounds the number of transmissions served by one request
const MaxTransmissionsPerRequest = 64

// TransmissionProvider provides locally held transmissions
type TransmissionProvider interface {
	GetTransmission(id transmission.ID) (*transmission.Transmission, bool)
}

// TransmissionItem is a transmission as sent on the wire
type TransmissionItem struct {
	ID      []byte
	Payload []byte
}

// GetTransmissionsRequest asks a peer for transmissions by their encoded IDs
type GetTransmissionsRequest struct {
	IDs [][]byte
}

// GetTransmissionsResponse carries the requested transmissions the peer holds
type GetTransmissionsResponse struct {
	Transmissions []TransmissionItem
}

// PeerRPCService serves transmissions to peers
type PeerRPCService struct {
	provider TransmissionProvider
}

// NewPeerRPCService creates a PeerRPCService serving from provider
func NewPeerRPCService(provider TransmissionProvider) *PeerRPCService {
	return &PeerRPCService{
		provider: provider,
	}
}

// GetTransmissions returns the requested transmissions that are held locally.
// Unknown IDs are skipped.
func (p *PeerRPCService) GetTransmissions(ctx context.Context, request *GetTransmissionsRequest, response *GetTransmissionsResponse) error {
	if len(request.IDs) > MaxTransmissionsPerRequest {
		return fmt.Errorf("requested %d transmissions, max is %d", len(request.IDs), MaxTransmissionsPerRequest)
	}

	response.Transmissions = make([]TransmissionItem, 0, len(request.IDs))
	for _, idBytes := range request.IDs {
		id, err := transmission.IDFromBytes(idBytes)
		if err != nil {
			return err
		}

		if t, ok := p.provider.GetTransmission(id); ok {
			response.Transmissions = append(response.Transmissions, TransmissionItem{
				ID:      t.ID.Bytes(),
				Payload: t.Payload,
			})
		}
	}

	return nil
}
