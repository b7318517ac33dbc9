package options

import (
	"math"
	"time"
)

const (
	errorScoreDecayHalflifeDefault = time.Minute * 10
	errorScoreThresholdDefault     = 100000

	deserializationErrorScoreDefault         = 5000
	serializationErrorScoreDefault           = 0
	invalidTransmissionErrorScoreDefault     = 10000
	unsolicitedTransmissionErrorScoreDefault = 2000
	transmissionNotFoundErrorScoreDefault    = 100
	transactionApplicationErrorScoreDefault  = 1000
	protocolMismatchErrorScoreDefault        = uint64(math.MaxUint32)
	localRPCErrorScoreDefault                = 0
	peerRPCErrorScoreDefault                 = 1000
	localRPCTimeoutErrorScoreDefault         = 0
	peerRPCTimeoutErrorScoreDefault          = 1000
	unknownErrorScoreDefault                 = invalidTransmissionErrorScoreDefault
)

// PeerErrorHandlerOptions are options for PeerErrorHandler
type PeerErrorHandlerOptions struct {
	ErrorScoreDecayHalflife time.Duration
	ErrorScoreThreshold     uint64

	DeserializationErrorScore         uint64
	SerializationErrorScore           uint64
	InvalidTransmissionErrorScore     uint64
	UnsolicitedTransmissionErrorScore uint64
	TransmissionNotFoundErrorScore    uint64
	TransactionApplicationErrorScore  uint64
	ProtocolMismatchErrorScore        uint64
	LocalRPCErrorScore                uint64
	PeerRPCErrorScore                 uint64
	LocalRPCTimeoutErrorScore         uint64
	PeerRPCTimeoutErrorScore          uint64
	UnknownErrorScore                 uint64
}

// NewPeerErrorHandlerOptions returns default initialized PeerErrorHandlerOptions
func NewPeerErrorHandlerOptions() *PeerErrorHandlerOptions {
	return &PeerErrorHandlerOptions{
		ErrorScoreDecayHalflife:           errorScoreDecayHalflifeDefault,
		ErrorScoreThreshold:               errorScoreThresholdDefault,
		DeserializationErrorScore:         deserializationErrorScoreDefault,
		SerializationErrorScore:           serializationErrorScoreDefault,
		InvalidTransmissionErrorScore:     invalidTransmissionErrorScoreDefault,
		UnsolicitedTransmissionErrorScore: unsolicitedTransmissionErrorScoreDefault,
		TransmissionNotFoundErrorScore:    transmissionNotFoundErrorScoreDefault,
		TransactionApplicationErrorScore:  transactionApplicationErrorScoreDefault,
		ProtocolMismatchErrorScore:        protocolMismatchErrorScoreDefault,
		LocalRPCErrorScore:                localRPCErrorScoreDefault,
		PeerRPCErrorScore:                 peerRPCErrorScoreDefault,
		LocalRPCTimeoutErrorScore:         localRPCTimeoutErrorScoreDefault,
		PeerRPCTimeoutErrorScore:          peerRPCTimeoutErrorScoreDefault,
		UnknownErrorScore:                 unknownErrorScoreDefault,
	}
}
