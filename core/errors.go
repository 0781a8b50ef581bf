package core

import "errors"

// Error taxonomy from the NTT bridge specification. Core operations
// return these sentinels unwrapped so callers can use errors.Is. A few
// checks return ad hoc errors instead: peer decimals out of range, a
// zero threshold, a non-zero additional-payload length, a handler
// payload of the wrong size, and malformed hex addresses.
var (
	ErrUninitialised         = errors.New("ntt: not initialised")
	ErrAlreadyPaused         = errors.New("ntt: already paused")
	ErrNotPaused             = errors.New("ntt: not paused")
	ErrUnauthorized          = errors.New("ntt: unauthorized")
	ErrUnknownPeerChain      = errors.New("ntt: unknown peer chain")
	ErrSelfPeer              = errors.New("ntt: local chain cannot be its own peer")
	ErrInvalidPeerContract   = errors.New("ntt: peer contract must not be all-zero")
	ErrUnknownBucket         = errors.New("ntt: unknown rate-limit bucket")
	ErrInsufficientCapacity  = errors.New("ntt: insufficient rate-limit capacity")
	ErrStillQueued           = errors.New("ntt: queue entry not yet releasable")
	ErrQueueEntryNotFound    = errors.New("ntt: queue entry not found")
	ErrIncorrectPrefix       = errors.New("ntt: incorrect wire prefix")
	ErrTruncatedPayload      = errors.New("ntt: truncated payload")
	ErrInvalidTargetChain    = errors.New("ntt: message targets a different chain")
	ErrEmitterAddressMismatch = errors.New("ntt: emitter address does not match registered peer")
	ErrDuplicateAttestation  = errors.New("ntt: duplicate attestation from transceiver")
	ErrAlreadyExecuted       = errors.New("ntt: message already executed")
	ErrNotYetApproved        = errors.New("ntt: message has not yet reached its attestation threshold")
	ErrUnauthorizedAssetSender = errors.New("ntt: asset-deposit sender does not match manager-call caller")
	ErrDustNotAllowed        = errors.New("ntt: trimmed amount has non-zero dust residue")
	ErrIncorrectFeePayment   = errors.New("ntt: fee payment amount or receiver mismatch")
	ErrMessageHandlerUnknown = errors.New("ntt: message handler not registered")
	ErrHandlerPaused         = errors.New("ntt: handler is paused")
	ErrTransceiverNotConfigured = errors.New("ntt: caller is not a configured transceiver for this handler")
	ErrMaxTransceiversExceeded = errors.New("ntt: handler already has the maximum number of transceivers")
	ErrDuplicateTransceiver  = errors.New("ntt: transceiver already registered for this handler")
	ErrTransceiverNotFound   = errors.New("ntt: transceiver not registered for this handler")
	ErrUnorderedOrUnknownInstruction = errors.New("ntt: transceiver instructions out of order or unknown")
	ErrNotFound              = errors.New("ntt: resource not found")
	ErrInvalidAmount         = errors.New("ntt: amount must be positive")
	ErrInvalidRecipient      = errors.New("ntt: recipient must not be the zero address")
	ErrWrongAssetDeposit     = errors.New("ntt: asset-deposit action targets the wrong custody account or amount")
	ErrWrongFeeReceiver      = errors.New("ntt: fee-payment action does not target the manager")
	ErrNotInitiator          = errors.New("ntt: caller is not the original initiator")
)
