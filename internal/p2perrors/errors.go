package p2perrors

import (
	"errors"
)

var (
	// ErrDeserialization represents any sort of error deserializing a type
	ErrDeserialization = errors.New("error during deserialization")

	// ErrSerialization represents any sort of error serializing a type
	ErrSerialization = errors.New("error during serialization")

	// ErrTransactionApplication represents any error applying a transaction to the mem pool
	ErrTransactionApplication = errors.New("transaction application failed")

	// ErrInvalidTransmission represents a transmission whose payload does not match its ID
	ErrInvalidTransmission = errors.New("invalid transmission")

	// ErrUnsolicitedTransmission represents a transmission received from a peer it was not requested from
	ErrUnsolicitedTransmission = errors.New("unsolicited transmission")

	// ErrTransmissionNotFound represents a transmission that is not held locally
	ErrTransmissionNotFound = errors.New("transmission not found")

	// ErrTransmissionFetchTimeout represents a transmission that did not arrive in time
	ErrTransmissionFetchTimeout = errors.New("transmission fetch timed out")

	// ErrMaxPendingTransmissions represents when too many transmissions are pending
	ErrMaxPendingTransmissions = errors.New("max transmissions are pending")

	// ErrUnknownPeerAddress represents a peer address with no connected peer behind it
	ErrUnknownPeerAddress = errors.New("unknown peer address")

	// ErrLocalRPC represents an error occurred during a local rpc
	ErrLocalRPC = errors.New("local RPC error")

	// ErrPeerRPC represents an error occurred during a peer rpc
	ErrPeerRPC = errors.New("peer RPC error")

	// ErrLocalRPCTimeout represents a local rpc timed out
	ErrLocalRPCTimeout = errors.New("local RPC request timed out")

	// ErrPeerRPCTimeout represents a peer rpc timed out
	ErrPeerRPCTimeout = errors.New("peer RPC request timed out")

	// ErrProtocolMismatch represents when a peer's protocol version does match ours
	ErrProtocolMismatch = errors.New("protocol version mismatch")

	// ErrProtocolMissing represents when a peer's protocol version is missing
	ErrProtocolMissing = errors.New("protocol version is missing")
)
