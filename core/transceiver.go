package core

// Transceiver is the capability set an independent attestation/
// transport channel must expose. The Aggregator never inspects a
// channel's internals (spec §9, "polymorphism over attestation
// channels"); Wormhole, a generic relayer, or any other transport is
// interchangeable behind this interface.
type Transceiver interface {
	// QuoteDeliveryPrice returns this channel's delivery fee for the
	// given outbound message and its (possibly empty) instruction.
	QuoteDeliveryPrice(message, instruction []byte) (uint64, error)
	// SendMessage forwards the outbound message to the remote chain,
	// having received its fee slice.
	SendMessage(feeSlice uint64, message, instruction []byte) error
	// DeliverMessage is invoked by the channel's own off-chain relay
	// once it has independently verified a remote message; it is the
	// channel-side counterpart to attestation_received and is not
	// called by the Aggregator itself.
	DeliverMessage(m MessageReceived) error
}
