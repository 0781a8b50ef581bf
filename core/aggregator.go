package core

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MaxTransceivers bounds the number of attestation channels a single
// handler may register (spec §3).
const MaxTransceivers = 32

// Event topics emitted by the Aggregator (spec §6).
const (
	TopicMessageHandlerAdded = "ntt:handler:added"
	TopicThresholdUpdated    = "ntt:handler:threshold_updated"
	TopicAttestationReceived = "ntt:attestation:received"
	TopicHandlerPaused       = "ntt:handler:paused"
)

// Handler-scoped roles granted on first registration (spec §4.2).
func handlerAdminRole(handlerID Address) string   { return "handler:" + handlerID.Hex() + ":admin" }
func handlerPauserRole(handlerID Address) string  { return "handler:" + handlerID.Hex() + ":pauser" }
func handlerUnpauserRole(handlerID Address) string { return "handler:" + handlerID.Hex() + ":unpauser" }

// HandlerState is the persisted, ordered transceiver set and
// configuration for one registered message handler (spec §3, "Handler
// Transceiver Set"). Order is the registration order and is
// authoritative for all instruction-array validation.
type HandlerState struct {
	ID           Address   `json:"id"`
	Admin        Address   `json:"admin"`
	Paused       bool      `json:"paused"`
	Threshold    uint64    `json:"threshold"`
	Transceivers []Address `json:"transceivers"`
}

func handlerKey(id Address) []byte {
	return []byte("ntt:handler:" + id.Hex())
}

// AttestationRecord is the per-message_digest attestation state (spec
// §3, "Attestation State"). ThresholdAtFirstAttestation resolves the
// §9 open question: this runtime captures the handler's threshold at
// the moment a digest is first seen and holds callers to that value
// for the life of the message (resolution (a)).
type AttestationRecord struct {
	HandlerID                   Address   `json:"handler_id"`
	Transceivers                []Address `json:"transceivers"`
	Count                       uint64    `json:"count"`
	ThresholdAtFirstAttestation uint64    `json:"threshold_at_first_attestation"`
	Executed                    bool      `json:"executed"`
}

func attestationKey(digest [32]byte) []byte {
	return []byte(fmt.Sprintf("ntt:attestation:%x", digest))
}

// Aggregator is the Attestation Aggregator ("Transceiver Manager") of
// spec §4.2. Transceivers maps a registered channel's identity to its
// live implementation; this indirection is what lets the ordered
// on-chain transceiver list (ID-only) stay chain-agnostic while the
// actual send/quote/deliver behavior is pluggable (spec §9).
//
// mu serializes every exported operation against a given Aggregator
// instance. net/http serves each request on its own goroutine, and the
// per-digest attestation and single-shot execution state
// (AttestationReceived, MarkExecuted) is a load-check-write sequence
// over the KVStore with no transaction of its own spanning the whole
// operation; without this lock, two concurrent requests for the same
// digest can both observe the pre-write state and both proceed past a
// guard meant to admit only one of them.
type Aggregator struct {
	mu           sync.Mutex
	Transceivers map[Address]Transceiver
}

func NewAggregator() *Aggregator {
	return &Aggregator{Transceivers: make(map[Address]Transceiver)}
}

// RegisterTransceiverImpl binds a live Transceiver implementation to
// an on-chain identity so QuoteDeliveryPrices/SendMessageToTransceivers
// can dispatch to it. This is process-local wiring, not a persisted
// operation.
func (a *Aggregator) RegisterTransceiverImpl(id Address, impl Transceiver) {
	a.Transceivers[id] = impl
}

func (a *Aggregator) loadHandler(ctx *Context, id Address) (HandlerState, error) {
	raw, err := ctx.Store.Get(handlerKey(id))
	if err != nil {
		return HandlerState{}, ErrMessageHandlerUnknown
	}
	var h HandlerState
	if err := json.Unmarshal(raw, &h); err != nil {
		return HandlerState{}, err
	}
	return h, nil
}

func (a *Aggregator) saveHandler(ctx *Context, h HandlerState) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return ctx.Store.Set(handlerKey(h.ID), raw)
}

// RegisterHandler is idempotent: on first call it creates the
// handler's (initially empty) transceiver set and grants the handler-
// scoped admin/pauser/unpauser roles to admin. Returns is_new.
func (a *Aggregator) RegisterHandler(ctx *Context, handlerID, admin Address) (isNew bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.loadHandler(ctx, handlerID); err == nil {
		return false, nil
	}
	h := HandlerState{ID: handlerID, Admin: admin, Threshold: 1}
	if err := a.saveHandler(ctx, h); err != nil {
		return false, err
	}
	if ctx.Roles != nil {
		_ = ctx.Roles.GrantRole(admin, handlerAdminRole(handlerID))
		_ = ctx.Roles.GrantRole(admin, handlerPauserRole(handlerID))
		_ = ctx.Roles.GrantRole(admin, handlerUnpauserRole(handlerID))
	}
	if ctx.Events != nil {
		raw, _ := json.Marshal(struct {
			HandlerID string `json:"handler_id"`
			Admin     string `json:"admin"`
		}{handlerID.Hex(), admin.Hex()})
		_ = ctx.Events.Broadcast(TopicMessageHandlerAdded, raw)
	}
	return true, nil
}

func (a *Aggregator) requireAdmin(ctx *Context, h HandlerState) error {
	if ctx.Roles != nil && ctx.Roles.HasRole(ctx.Caller, handlerAdminRole(h.ID)) {
		return nil
	}
	if ctx.Caller == h.Admin {
		return nil
	}
	return ErrUnauthorized
}

// AddTransceiver appends transceiverID to the end of handlerID's
// ordered list. Admin-only; fails on duplicate or beyond
// MaxTransceivers.
func (a *Aggregator) AddTransceiver(ctx *Context, handlerID, transceiverID Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.loadHandler(ctx, handlerID)
	if err != nil {
		return err
	}
	if err := a.requireAdmin(ctx, h); err != nil {
		return err
	}
	for _, t := range h.Transceivers {
		if t == transceiverID {
			return ErrDuplicateTransceiver
		}
	}
	if len(h.Transceivers) >= MaxTransceivers {
		return ErrMaxTransceiversExceeded
	}
	h.Transceivers = append(h.Transceivers, transceiverID)
	return a.saveHandler(ctx, h)
}

// RemoveTransceiver removes transceiverID, preserving the relative
// order of surviving entries (never a swap-remove — order is part of
// the contract, spec §4.2).
func (a *Aggregator) RemoveTransceiver(ctx *Context, handlerID, transceiverID Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.loadHandler(ctx, handlerID)
	if err != nil {
		return err
	}
	if err := a.requireAdmin(ctx, h); err != nil {
		return err
	}
	idx := -1
	for i, t := range h.Transceivers {
		if t == transceiverID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrTransceiverNotFound
	}
	h.Transceivers = append(h.Transceivers[:idx], h.Transceivers[idx+1:]...)
	return a.saveHandler(ctx, h)
}

// SetThreshold is an admin operation. Per spec §6's threshold-change
// guard, this runtime's resolution (a) (see AttestationRecord) means a
// lowered threshold can be applied immediately without retroactively
// weakening messages that already have a captured
// ThresholdAtFirstAttestation — so no additional gating is required
// here beyond the admin check.
func (a *Aggregator) SetThreshold(ctx *Context, handlerID Address, newThreshold uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.loadHandler(ctx, handlerID)
	if err != nil {
		return err
	}
	if err := a.requireAdmin(ctx, h); err != nil {
		return err
	}
	if newThreshold == 0 {
		return fmt.Errorf("ntt: threshold must be at least 1")
	}
	h.Threshold = newThreshold
	if err := a.saveHandler(ctx, h); err != nil {
		return err
	}
	if ctx.Events != nil {
		raw, _ := json.Marshal(struct {
			NewThreshold uint64 `json:"new_threshold"`
		}{newThreshold})
		_ = ctx.Events.Broadcast(TopicThresholdUpdated, raw)
	}
	return nil
}

// SetPaused pauses or unpauses a handler. While paused, messages are
// neither dispatched nor accepted for that handler (spec §5).
func (a *Aggregator) SetPaused(ctx *Context, handlerID Address, paused bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.loadHandler(ctx, handlerID)
	if err != nil {
		return err
	}
	role := handlerPauserRole(handlerID)
	if !paused {
		role = handlerUnpauserRole(handlerID)
	}
	if !(ctx.Roles != nil && ctx.Roles.HasRole(ctx.Caller, role)) && ctx.Caller != h.Admin {
		return ErrUnauthorized
	}
	if h.Paused == paused {
		if paused {
			return ErrAlreadyPaused
		}
		return ErrNotPaused
	}
	h.Paused = paused
	if err := a.saveHandler(ctx, h); err != nil {
		return err
	}
	if ctx.Events != nil {
		raw, _ := json.Marshal(struct {
			HandlerID Address `json:"handler_id"`
			Paused    bool    `json:"paused"`
		}{handlerID, paused})
		_ = ctx.Events.Broadcast(TopicHandlerPaused, raw)
	}
	return nil
}

// IsPaused reports whether handlerID is currently paused.
func (a *Aggregator) IsPaused(ctx *Context, handlerID Address) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.loadHandler(ctx, handlerID)
	if err != nil {
		return false, err
	}
	return h.Paused, nil
}

// QuoteDeliveryPrices sums quote_delivery_price across every
// registered transceiver, in order. instructions must appear in the
// same relative order as the transceiver list; any reorder or unknown
// entry is rejected (spec §4.2).
func (a *Aggregator) QuoteDeliveryPrices(ctx *Context, handlerID Address, message []byte, instructions map[Address][]byte) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, err := a.loadHandler(ctx, handlerID)
	if err != nil {
		return 0, err
	}
	return a.quoteDeliveryPrices(h, message, instructions)
}

// quoteDeliveryPrices is the unlocked implementation shared by
// QuoteDeliveryPrices and SendMessageToTransceivers, which already
// holds a.mu and has already loaded h for the duration of its own
// operation.
func (a *Aggregator) quoteDeliveryPrices(h HandlerState, message []byte, instructions map[Address][]byte) (uint64, error) {
	if err := validateInstructionOrder(h.Transceivers, instructions); err != nil {
		return 0, err
	}
	var total uint64
	for _, tid := range h.Transceivers {
		impl, ok := a.Transceivers[tid]
		if !ok {
			return 0, ErrTransceiverNotConfigured
		}
		price, err := impl.QuoteDeliveryPrice(message, instructions[tid])
		if err != nil {
			return 0, err
		}
		total += price
	}
	return total, nil
}

// validateInstructionOrder rejects any instruction keyed by a
// transceiver not in the handler's list; order of the map is
// irrelevant in Go, so "order" is enforced by construction (the
// caller cannot express a reordering once instructions are keyed by
// transceiver identity) and by rejecting unknown keys.
func validateInstructionOrder(transceivers []Address, instructions map[Address][]byte) error {
	known := make(map[Address]struct{}, len(transceivers))
	for _, t := range transceivers {
		known[t] = struct{}{}
	}
	for tid := range instructions {
		if _, ok := known[tid]; !ok {
			return ErrUnorderedOrUnknownInstruction
		}
	}
	return nil
}

// SendMessageToTransceivers verifies caller is the message's declared
// source handler, the handler is not paused, and the fee payment
// matches the re-quoted total exactly; then forwards the fee slice and
// invokes send_message on every registered transceiver, in order
// (spec §4.2).
func (a *Aggregator) SendMessageToTransceivers(ctx *Context, handlerID Address, feePaymentAmount uint64, message []byte, instructions map[Address][]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	logger := zap.L().Sugar()
	h, err := a.loadHandler(ctx, handlerID)
	if err != nil {
		return err
	}
	if ctx.Caller != handlerID {
		return ErrUnauthorized
	}
	if h.Paused {
		return ErrHandlerPaused
	}
	total, err := a.quoteDeliveryPrices(h, message, instructions)
	if err != nil {
		return err
	}
	if feePaymentAmount != total {
		return ErrIncorrectFeePayment
	}
	for _, tid := range h.Transceivers {
		impl := a.Transceivers[tid]
		price, err := impl.QuoteDeliveryPrice(message, instructions[tid])
		if err != nil {
			return err
		}
		if err := impl.SendMessage(price, message, instructions[tid]); err != nil {
			return err
		}
	}
	logger.Infow("dispatched message to transceivers", "handler", handlerID.Hex(), "count", len(h.Transceivers))
	return nil
}

// AttestationReceived records a single channel's assertion that it has
// observed and verified the remote message identified by the digest
// of m (spec §4.2). The caller must be a registered transceiver for
// the message's declared handler; the handler must not be paused; the
// (digest, transceiver) pair must not already be recorded.
func (a *Aggregator) AttestationReceived(ctx *Context, transceiverID Address, m MessageReceived) (count uint64, digest [32]byte, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	digest = CalculateMessageDigest(m)
	h, err := a.loadHandler(ctx, m.HandlerAddress)
	if err != nil {
		return 0, digest, err
	}
	if h.Paused {
		return 0, digest, ErrHandlerPaused
	}
	found := false
	for _, t := range h.Transceivers {
		if t == transceiverID {
			found = true
			break
		}
	}
	if !found {
		return 0, digest, ErrTransceiverNotConfigured
	}

	raw, err := ctx.Store.Get(attestationKey(digest))
	var rec AttestationRecord
	if err == nil {
		if uErr := json.Unmarshal(raw, &rec); uErr != nil {
			return 0, digest, uErr
		}
	} else {
		rec = AttestationRecord{HandlerID: m.HandlerAddress, ThresholdAtFirstAttestation: h.Threshold}
	}
	if rec.Executed {
		return rec.Count, digest, ErrAlreadyExecuted
	}
	for _, t := range rec.Transceivers {
		if t == transceiverID {
			return rec.Count, digest, ErrDuplicateAttestation
		}
	}
	rec.Transceivers = append(rec.Transceivers, transceiverID)
	rec.Count = uint64(len(rec.Transceivers))

	out, err := json.Marshal(rec)
	if err != nil {
		return 0, digest, err
	}
	if err := ctx.Store.Set(attestationKey(digest), out); err != nil {
		return 0, digest, err
	}
	if ctx.Events != nil {
		ev, _ := json.Marshal(struct {
			MessageID       string `json:"msg_id"`
			SourceChain     uint16 `json:"src_chain"`
			SourceAddress   string `json:"src_addr"`
			HandlerID       string `json:"handler_id"`
			Digest          string `json:"digest"`
			Count           uint64 `json:"count"`
		}{fmtBytes32(m.MessageID), m.SourceChainID, m.SourceAddress.Hex(), m.HandlerAddress.Hex(), fmtBytes32(digest), rec.Count})
		_ = ctx.Events.Broadcast(TopicAttestationReceived, ev)
	}
	return rec.Count, digest, nil
}

// MessageAttestations returns the read-only attestation count for a
// digest.
func (a *Aggregator) MessageAttestations(ctx *Context, digest [32]byte) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.loadAttestation(ctx, digest)
	if err != nil {
		return 0, nil
	}
	return rec.Count, nil
}

func (a *Aggregator) loadAttestation(ctx *Context, digest [32]byte) (AttestationRecord, error) {
	raw, err := ctx.Store.Get(attestationKey(digest))
	if err != nil {
		return AttestationRecord{}, ErrNotFound
	}
	var rec AttestationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return AttestationRecord{}, err
	}
	return rec, nil
}

// IsMessageApproved reports num_attestations(digest) >=
// threshold_at_first_attestation, the captured-threshold resolution of
// the §9 time-of-check/time-of-use open question.
func (a *Aggregator) IsMessageApproved(ctx *Context, digest [32]byte) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.loadAttestation(ctx, digest)
	if err != nil {
		return false, err
	}
	return rec.Count >= rec.ThresholdAtFirstAttestation, nil
}

// IsExecuted reports whether execute_message has already run for
// digest.
func (a *Aggregator) IsExecuted(ctx *Context, digest [32]byte) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.loadAttestation(ctx, digest)
	if err != nil {
		return false, err
	}
	return rec.Executed, nil
}

// MarkExecuted flips the per-digest executed flag permanently
// (spec §3, single-shot guard; P7). It fails if already executed. The
// load-check-write is performed under a.mu so that two concurrent
// callers racing on the same digest cannot both observe
// Executed==false: whichever acquires the lock second re-reads the
// just-written record and is rejected with ErrAlreadyExecuted. This is
// the actual single-shot gate; IsMessageApproved/IsExecuted upstream
// are advisory early-exits, not the enforcement point.
func (a *Aggregator) MarkExecuted(ctx *Context, digest [32]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.loadAttestation(ctx, digest)
	if err != nil {
		return err
	}
	if rec.Executed {
		return ErrAlreadyExecuted
	}
	rec.Executed = true
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return ctx.Store.Set(attestationKey(digest), raw)
}
