package core

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event topics emitted by the Transfer Manager (spec §6).
const (
	TopicOutboundTransferDeleted = "ntt:transfer:outbound_deleted"
	TopicInboundTransferDeleted  = "ntt:transfer:inbound_deleted"
	TopicTransferSent            = "ntt:transfer:sent"
	TopicMinted                  = "ntt:transfer:minted"
)

const managerConfigKey = "ntt:manager:config"

// ManagerConfig is the Transfer Manager's persisted configuration,
// set once by Initialize and thereafter only by admin operations.
type ManagerConfig struct {
	Initialized          bool          `json:"initialized"`
	LocalChainID         uint16        `json:"local_chain_id"`
	ManagerID            Address       `json:"manager_id"`
	CustodyAccount       Address       `json:"custody_account"`
	AssetID              string        `json:"asset_id"`
	OutboundRateDuration time.Duration `json:"outbound_rate_duration"`
	MinBalanceDeposit    uint64        `json:"min_balance_deposit"`
}

func loadManagerConfig(ctx *Context) (ManagerConfig, error) {
	raw, err := ctx.Store.Get([]byte(managerConfigKey))
	if err != nil {
		return ManagerConfig{}, ErrUninitialised
	}
	var cfg ManagerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ManagerConfig{}, err
	}
	return cfg, nil
}

func saveManagerConfig(ctx *Context, cfg ManagerConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return ctx.Store.Set([]byte(managerConfigKey), raw)
}

// Manager is the user-facing Transfer Manager (spec §4.3): the entry
// point that validates grouped-action shape, trims amounts, drives the
// Rate Limiter, invokes the Aggregator outbound, and handles decoded
// inbound payloads. The Manager is itself the canonical handler
// registered with the Aggregator (spec GLOSSARY, "Handler").
//
// mu serializes every exported Manager operation against this
// instance, the same way Aggregator.mu serializes the Aggregator: each
// of these operations is a multi-step read-modify-write over the
// KVStore (rate-limiter bucket consumption, queue-entry CRUD,
// attestation/execution checks) with no transaction spanning the whole
// call, and net/http hands each inbound request its own goroutine.
type Manager struct {
	mu    sync.Mutex
	Peers PeerRegistry
	RL    *RateLimiter
	Agg   *Aggregator
}

// NewManager constructs a Manager for localChainID, wiring a fresh
// Rate Limiter and Aggregator.
func NewManager(localChainID uint16) *Manager {
	return &Manager{
		Peers: PeerRegistry{LocalChainID: localChainID},
		RL:    &RateLimiter{},
		Agg:   NewAggregator(),
	}
}

// Initialize configures the Manager and registers it as the canonical
// handler with the Aggregator. It is the only way Initialized becomes
// true; every other user-facing operation is rejected with
// ErrUninitialised until this has run.
func (m *Manager) Initialize(ctx *Context, managerID, admin, custodyAccount Address, assetID string, outboundRateDuration time.Duration, minBalanceDeposit uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := ManagerConfig{
		Initialized:          true,
		LocalChainID:         m.Peers.LocalChainID,
		ManagerID:            managerID,
		CustodyAccount:       custodyAccount,
		AssetID:              assetID,
		OutboundRateDuration: outboundRateDuration,
		MinBalanceDeposit:    minBalanceDeposit,
	}
	if err := saveManagerConfig(ctx, cfg); err != nil {
		return err
	}
	if _, err := m.Agg.RegisterHandler(ctx, managerID, admin); err != nil {
		return err
	}
	return nil
}

// Pause/Unpause reject all user-facing operations while admitting
// admin reconfiguration (spec §5); since the Manager is its own
// handler, this is implemented as pausing the Manager's handler entry
// in the Aggregator.
func (m *Manager) Pause(ctx *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := loadManagerConfig(ctx)
	if err != nil {
		return err
	}
	return m.Agg.SetPaused(ctx, cfg.ManagerID, true)
}

func (m *Manager) Unpause(ctx *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := loadManagerConfig(ctx)
	if err != nil {
		return err
	}
	return m.Agg.SetPaused(ctx, cfg.ManagerID, false)
}

// Snapshot returns the current persisted ManagerConfig, for read-only
// callers (the HTTP/CLI surfaces) that need the Manager's own identity
// or custody account without performing a mutating operation.
func (m *Manager) Snapshot(ctx *Context) (ManagerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return loadManagerConfig(ctx)
}

// OutboundQueuedEntry exposes a queued outbound transfer by message
// id for read-only introspection.
func (m *Manager) OutboundQueuedEntry(ctx *Context, messageID [32]byte) (QueuedOutboundTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return getOutboundQueued(ctx, messageID)
}

func (m *Manager) requireReady(ctx *Context) (ManagerConfig, error) {
	cfg, err := loadManagerConfig(ctx)
	if err != nil {
		return ManagerConfig{}, err
	}
	paused, err := m.Agg.IsPaused(ctx, cfg.ManagerID)
	if err != nil {
		return ManagerConfig{}, err
	}
	if paused {
		return ManagerConfig{}, ErrHandlerPaused
	}
	return cfg, nil
}

// ---------------------------------------------------------------------
// 4.3.1 Outbound path
// ---------------------------------------------------------------------

// OutboundGroup models the three co-submitted actions spec §4.3.1
// requires, in order: a fee payment to the Manager's own account, an
// asset deposit to the NTT-token custody account, and the Manager
// invocation itself. This is the Go stand-in for the chain's atomic
// transaction group, which spec §1 treats as an external collaborator.
type OutboundGroup struct {
	FeePaymentReceiver  Address
	FeePaymentAmount    uint64
	FeePaymentSender    Address
	AssetDepositReceiver Address
	AssetDepositAmount   uint64
	AssetDepositSender   Address
	AssetID              string

	UntrimmedAmount  uint64
	DestinationChain uint16
	Recipient        Address
	ShouldQueue      bool
	Instructions     map[Address][]byte

	// Caller is the signer of the Manager invocation itself (the
	// third action in the group).
	Caller Address
}

// ValidateGroupShape runs every terminal, ordered validation of spec
// §4.3.1 that does not itself require rate-limiter or peer-registry
// state, including the §6 sender-binding guard.
func ValidateGroupShape(cfg ManagerConfig, g OutboundGroup) error {
	if g.AssetID != cfg.AssetID {
		return ErrWrongAssetDeposit
	}
	if g.AssetDepositReceiver != cfg.CustodyAccount {
		return ErrWrongAssetDeposit
	}
	if g.FeePaymentReceiver != cfg.ManagerID {
		return ErrWrongFeeReceiver
	}
	if g.AssetDepositSender != g.Caller {
		return ErrUnauthorizedAssetSender
	}
	if g.UntrimmedAmount == 0 {
		return ErrInvalidAmount
	}
	if g.AssetDepositAmount != g.UntrimmedAmount {
		return ErrWrongAssetDeposit
	}
	if g.Recipient.IsZero() {
		return ErrInvalidRecipient
	}
	return nil
}

// OutboundResult summarizes the outcome of SendTransfer for the
// caller, including refunds that would be issued by the surrounding
// chain transaction (the amounts to return; actually moving funds is
// the external transaction engine's job per spec §1).
type OutboundResult struct {
	MessageID    [32]byte
	Queued       bool
	FeeRefund    uint64
	DeliveryCost uint64
}

// SendTransfer implements the outbound path of spec §4.3.1 in full:
// validation, trimming/dust rejection, rate-limiter consult, and
// either queueing or dispatch through the Aggregator.
func (m *Manager) SendTransfer(ctx *Context, g OutboundGroup) (OutboundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger := zap.L().Sugar()
	cfg, err := m.requireReady(ctx)
	if err != nil {
		return OutboundResult{}, err
	}
	if err := ValidateGroupShape(cfg, g); err != nil {
		return OutboundResult{}, err
	}
	if g.DestinationChain == cfg.LocalChainID {
		return OutboundResult{}, ErrUnknownPeerChain
	}
	peer, err := m.Peers.GetPeer(ctx, g.DestinationChain)
	if err != nil {
		return OutboundResult{}, err
	}

	trimmed, ok := trimRoundTrip(g.UntrimmedAmount, localDecimals, peer.PeerDecimals)
	if !ok {
		return OutboundResult{}, ErrDustNotAllowed
	}

	seq, err := nextSequence(ctx)
	if err != nil {
		return OutboundResult{}, err
	}
	messageID := deriveMessageID(cfg.ManagerID, seq)

	queued, err := m.RL.EnqueueOrConsumeOutbound(
		ctx, g.UntrimmedAmount, g.DestinationChain, g.Recipient, g.Caller,
		g.ShouldQueue, encodeInstructions(g.Instructions), trimmed, messageID, cfg.MinBalanceDeposit,
	)
	if err != nil {
		return OutboundResult{}, err
	}
	if queued {
		return OutboundResult{MessageID: messageID, Queued: true, FeeRefund: g.FeePaymentAmount}, nil
	}

	ntt := NTTPayload{
		FromDecimals:       trimmed.Decimals,
		FromAmount:         trimmed.Amount,
		SourceTokenAddress: ZeroAddress,
		Recipient:          g.Recipient,
		RecipientChain:     g.DestinationChain,
	}
	handlerPayload := BuildHandlerPayload(messageID, g.Caller, ntt)
	wrapped := EncodeHandlerWrappedPayload(HandlerWrappedPayload{
		SourceAddress:  cfg.ManagerID,
		HandlerAddress: peer.PeerContract,
		HandlerPayload: handlerPayload,
	})

	quoted, err := m.Agg.QuoteDeliveryPrices(ctx, cfg.ManagerID, wrapped, g.Instructions)
	if err != nil {
		return OutboundResult{}, err
	}
	if g.FeePaymentAmount < quoted {
		return OutboundResult{}, ErrIncorrectFeePayment
	}
	if err := m.Agg.SendMessageToTransceivers(ctx.As(cfg.ManagerID), cfg.ManagerID, quoted, wrapped, g.Instructions); err != nil {
		return OutboundResult{}, err
	}

	if ctx.Events != nil {
		raw, _ := json.Marshal(struct {
			MessageID     string `json:"message_id"`
			Recipient     string `json:"recipient"`
			Chain         uint16 `json:"chain"`
			Amount        uint64 `json:"amount"`
			DeliveryPrice uint64 `json:"delivery_price"`
		}{fmtBytes32(messageID), g.Recipient.Hex(), g.DestinationChain, g.UntrimmedAmount, quoted})
		_ = ctx.Events.Broadcast(TopicTransferSent, raw)
	}
	logger.Infow("transfer sent", "message_id", fmtBytes32(messageID), "chain", g.DestinationChain, "amount", g.UntrimmedAmount)

	return OutboundResult{MessageID: messageID, Queued: false, FeeRefund: g.FeePaymentAmount - quoted, DeliveryCost: quoted}, nil
}

// encodeInstructions deterministically serializes a per-transceiver
// instruction map for storage inside a queued transfer entry.
func encodeInstructions(instr map[Address][]byte) []byte {
	if len(instr) == 0 {
		return nil
	}
	raw, _ := json.Marshal(instr)
	return raw
}

func decodeInstructions(raw []byte) map[Address][]byte {
	if len(raw) == 0 {
		return nil
	}
	var out map[Address][]byte
	_ = json.Unmarshal(raw, &out)
	return out
}

// ---------------------------------------------------------------------
// 4.3.2 Deferred outbound completion
// ---------------------------------------------------------------------

// CompleteOutboundQueued is valid only after queued_at +
// outbound_rate_duration; it re-quotes, enforces an exact fee, hands
// off to the Aggregator, deletes the queue entry, and reports the
// minimum-balance deposit refund owed regardless of who completes it
// (spec §4.3.2, "refund discipline").
func (m *Manager) CompleteOutboundQueued(ctx *Context, messageID [32]byte, feePaymentAmount uint64) (OutboundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := m.requireReady(ctx)
	if err != nil {
		return OutboundResult{}, err
	}
	entry, err := getOutboundQueued(ctx, messageID)
	if err != nil {
		return OutboundResult{}, err
	}
	if ctx.now().Before(entry.QueuedAt.Add(cfg.OutboundRateDuration)) {
		return OutboundResult{}, ErrStillQueued
	}

	peer, err := m.Peers.GetPeer(ctx, entry.DestinationChain)
	if err != nil {
		return OutboundResult{}, err
	}
	ntt := NTTPayload{
		FromDecimals:       entry.Trimmed.Decimals,
		FromAmount:         entry.Trimmed.Amount,
		SourceTokenAddress: ZeroAddress,
		Recipient:          entry.Recipient,
		RecipientChain:     entry.DestinationChain,
	}
	handlerPayload := BuildHandlerPayload(messageID, entry.Initiator, ntt)
	wrapped := EncodeHandlerWrappedPayload(HandlerWrappedPayload{
		SourceAddress:  cfg.ManagerID,
		HandlerAddress: peer.PeerContract,
		HandlerPayload: handlerPayload,
	})
	instructions := decodeInstructions(entry.TransceiverInstructions)

	quoted, err := m.Agg.QuoteDeliveryPrices(ctx, cfg.ManagerID, wrapped, instructions)
	if err != nil {
		return OutboundResult{}, err
	}
	if feePaymentAmount != quoted {
		return OutboundResult{}, ErrIncorrectFeePayment
	}
	if err := m.Agg.SendMessageToTransceivers(ctx.As(cfg.ManagerID), cfg.ManagerID, quoted, wrapped, instructions); err != nil {
		return OutboundResult{}, err
	}
	if err := deleteOutboundQueued(ctx, messageID); err != nil {
		return OutboundResult{}, err
	}
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicOutboundTransferDeleted, mustJSON(map[string]string{"message_id": fmtBytes32(messageID)}))
	}
	return OutboundResult{MessageID: messageID, DeliveryCost: quoted, FeeRefund: entry.MinBalanceDeposit}, nil
}

// CancelOutboundQueued may only be invoked by the original initiator;
// the Manager mints back the full untrimmed amount (undoing the
// deposit) and refunds the minimum-balance deposit (spec §4.3.2).
func (m *Manager) CancelOutboundQueued(ctx *Context, messageID [32]byte) (refundMinBalance uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.requireReady(ctx); err != nil {
		return 0, err
	}
	entry, err := getOutboundQueued(ctx, messageID)
	if err != nil {
		return 0, err
	}
	if ctx.Caller != entry.Initiator {
		return 0, ErrNotInitiator
	}
	if err := ctx.Token.Mint(entry.Initiator, entry.UntrimmedAmount); err != nil {
		return 0, err
	}
	if err := deleteOutboundQueued(ctx, messageID); err != nil {
		return 0, err
	}
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicOutboundTransferDeleted, mustJSON(map[string]string{"message_id": fmtBytes32(messageID)}))
	}
	return entry.MinBalanceDeposit, nil
}

// ---------------------------------------------------------------------
// 4.3.3 Inbound path
// ---------------------------------------------------------------------

// ExecuteMessage implements spec §4.3.3: decode, validate peer/
// source/chain, confirm Aggregator approval and single-shot execution,
// untrim, and either mint immediately or enqueue for deferred
// completion.
func (m *Manager) ExecuteMessage(ctx *Context, m2 MessageReceived) (minted bool, amount uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := m.requireReady(ctx)
	if err != nil {
		return false, 0, err
	}

	ntt, err := DecodeNTTPayload(m2.Payload)
	if err != nil {
		return false, 0, err
	}

	peer, err := m.Peers.GetPeer(ctx, m2.SourceChainID)
	if err != nil {
		return false, 0, err
	}
	if peer.PeerContract != m2.SourceAddress {
		return false, 0, ErrEmitterAddressMismatch
	}
	if ntt.RecipientChain != cfg.LocalChainID {
		return false, 0, ErrInvalidTargetChain
	}

	digest := CalculateMessageDigest(m2)
	approved, err := m.Agg.IsMessageApproved(ctx, digest)
	if err != nil {
		return false, 0, err
	}
	if !approved {
		return false, 0, ErrNotYetApproved
	}
	executed, err := m.Agg.IsExecuted(ctx, digest)
	if err != nil {
		return false, 0, err
	}
	if executed {
		return false, 0, ErrAlreadyExecuted
	}
	if err := m.Agg.MarkExecuted(ctx, digest); err != nil {
		return false, 0, err
	}

	untrimmed := untrim(TrimmedAmount{Amount: ntt.FromAmount, Decimals: ntt.FromDecimals}, localDecimals)

	queued, err := m.RL.EnqueueOrConsumeInbound(ctx, untrimmed, m2.SourceChainID, TrimmedAmount{Amount: ntt.FromAmount, Decimals: ntt.FromDecimals}, ntt.Recipient, digest)
	if err != nil {
		return false, 0, err
	}
	if queued {
		return false, untrimmed, nil
	}

	if err := ctx.Token.Mint(ntt.Recipient, untrimmed); err != nil {
		return false, 0, err
	}
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicMinted, mustJSON(map[string]any{"recipient": ntt.Recipient.Hex(), "amount": untrimmed}))
	}
	return true, untrimmed, nil
}

// ---------------------------------------------------------------------
// 4.3.4 Deferred inbound completion
// ---------------------------------------------------------------------

// CompleteInboundQueued mints and deletes a queued inbound transfer
// once now >= queued_at + inboundRateDuration; otherwise
// ErrStillQueued (spec §4.3.4). Completion is permitted by anyone.
// The window is the inboundRateDuration the caller passes in; the
// rate duration of the source peer's inbound bucket is not consulted.
func (m *Manager) CompleteInboundQueued(ctx *Context, digest [32]byte, inboundRateDuration time.Duration) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.requireReady(ctx); err != nil {
		return 0, err
	}
	entry, err := getInboundQueued(ctx, digest)
	if err != nil {
		return 0, err
	}
	if ctx.now().Before(entry.QueuedAt.Add(inboundRateDuration)) {
		return 0, ErrStillQueued
	}
	if err := ctx.Token.Mint(entry.Recipient, entry.UntrimmedAmount); err != nil {
		return 0, err
	}
	if err := deleteInboundQueued(ctx, digest); err != nil {
		return 0, err
	}
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicInboundTransferDeleted, mustJSON(map[string]string{"message_digest": fmtBytes32(digest)}))
		_ = ctx.Events.Broadcast(TopicMinted, mustJSON(map[string]any{"recipient": entry.Recipient.Hex(), "amount": entry.UntrimmedAmount}))
	}
	return entry.UntrimmedAmount, nil
}

// localDecimals is the local chain's native precision for the
// configured asset. It is a package-level constant rather than a
// ManagerConfig field because, unlike peer decimals (per-peer, set via
// the peer registry), the local chain's own decimal precision is a
// property of the deployed token, fixed at deployment time.
const localDecimals uint8 = 9
