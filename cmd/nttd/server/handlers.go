package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	core "ntt-bridge/core"
)

// Deps bundles the collaborators every handler needs to build a
// *core.Context and drive the Manager.
type Deps struct {
	Manager              *core.Manager
	Clock                core.Clock
	Store                core.KVStore
	Token                core.TokenAuthority
	Events               core.EventSink
	Roles                core.RoleStore
	InboundRateDuration  time.Duration
}

// buildCtx assembles a *core.Context for one request, taking the
// caller identity from the X-Ntt-Caller header (a 0x-prefixed 32-byte
// hex address). Authentication of that header is an external
// collaborator's concern per spec §1; this server trusts it verbatim.
func (d *Deps) buildCtx(r *http.Request) (*core.Context, error) {
	var caller core.Address
	if h := r.Header.Get("X-Ntt-Caller"); h != "" {
		a, err := core.ParseAddress(h)
		if err != nil {
			return nil, err
		}
		caller = a
	}
	return &core.Context{
		Caller: caller,
		Clock:  d.Clock,
		Store:  d.Store,
		Token:  d.Token,
		Events: d.Events,
		Roles:  d.Roles,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a core sentinel error to the stable status codes of
// spec §7.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, core.ErrUnauthorizedAssetSender), errors.Is(err, core.ErrNotInitiator):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrUnknownPeerChain), errors.Is(err, core.ErrUnknownBucket),
		errors.Is(err, core.ErrQueueEntryNotFound), errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrMessageHandlerUnknown), errors.Is(err, core.ErrTransceiverNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyExecuted), errors.Is(err, core.ErrDuplicateAttestation),
		errors.Is(err, core.ErrDuplicateTransceiver), errors.Is(err, core.ErrAlreadyPaused), errors.Is(err, core.ErrNotPaused):
		status = http.StatusConflict
	case errors.Is(err, core.ErrStillQueued), errors.Is(err, core.ErrNotYetApproved):
		status = http.StatusTooEarly
	case errors.Is(err, core.ErrUninitialised), errors.Is(err, core.ErrSelfPeer), errors.Is(err, core.ErrInvalidPeerContract),
		errors.Is(err, core.ErrDustNotAllowed), errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrInvalidRecipient),
		errors.Is(err, core.ErrWrongAssetDeposit), errors.Is(err, core.ErrWrongFeeReceiver), errors.Is(err, core.ErrIncorrectFeePayment),
		errors.Is(err, core.ErrIncorrectPrefix), errors.Is(err, core.ErrTruncatedPayload), errors.Is(err, core.ErrInvalidTargetChain),
		errors.Is(err, core.ErrEmitterAddressMismatch), errors.Is(err, core.ErrInsufficientCapacity), errors.Is(err, core.ErrMaxTransceiversExceeded),
		errors.Is(err, core.ErrTransceiverNotConfigured), errors.Is(err, core.ErrUnorderedOrUnknownInstruction), errors.Is(err, core.ErrHandlerPaused):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{err.Error()})
}

// Healthz reports liveness.
func (d *Deps) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"ok"})
}

// ListPeers returns every registered peer.
func (d *Deps) ListPeers(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	peers, err := d.Manager.Peers.ListPeers(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

type setPeerRequest struct {
	ChainID      uint16 `json:"chain_id"`
	PeerContract string `json:"peer_contract"`
	PeerDecimals uint8  `json:"peer_decimals"`
}

// SetPeer is an admin operation creating or overriding a peer
// registration.
func (d *Deps) SetPeer(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req setPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}
	contract, err := core.ParseAddress(req.PeerContract)
	if err != nil {
		writeError(w, err)
		return
	}
	peer, isNew, err := d.Manager.Peers.SetPeer(ctx, req.ChainID, contract, req.PeerDecimals)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Peer  core.Peer `json:"peer"`
		IsNew bool      `json:"is_new"`
	}{peer, isNew})
}

type sendTransferRequest struct {
	FeePaymentAmount     uint64            `json:"fee_payment_amount"`
	FeePaymentSender     string            `json:"fee_payment_sender"`
	AssetDepositAmount   uint64            `json:"asset_deposit_amount"`
	AssetDepositSender   string            `json:"asset_deposit_sender"`
	AssetID              string            `json:"asset_id"`
	UntrimmedAmount      uint64            `json:"untrimmed_amount"`
	DestinationChain     uint16            `json:"destination_chain"`
	Recipient            string            `json:"recipient"`
	ShouldQueue          bool              `json:"should_queue"`
	Caller               string            `json:"caller"`
}

// SendTransfer submits an outbound group (spec §4.3.1). The Manager's
// own identity (fee receiver) and custody account (asset-deposit
// receiver) are filled in here from the persisted ManagerConfig
// (Manager.Snapshot), not accepted from the request body.
func (d *Deps) SendTransfer(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req sendTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}
	recipient, err := core.ParseAddress(req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	feeSender, err := core.ParseAddress(req.FeePaymentSender)
	if err != nil {
		writeError(w, err)
		return
	}
	assetSender, err := core.ParseAddress(req.AssetDepositSender)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := core.ParseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}

	cfgSnapshot, cfgErr := d.Manager.Snapshot(ctx)
	if cfgErr != nil {
		writeError(w, cfgErr)
		return
	}

	group := core.OutboundGroup{
		FeePaymentReceiver:   cfgSnapshot.ManagerID,
		FeePaymentAmount:     req.FeePaymentAmount,
		FeePaymentSender:     feeSender,
		AssetDepositReceiver: cfgSnapshot.CustodyAccount,
		AssetDepositAmount:   req.AssetDepositAmount,
		AssetDepositSender:   assetSender,
		AssetID:              req.AssetID,
		UntrimmedAmount:      req.UntrimmedAmount,
		DestinationChain:     req.DestinationChain,
		Recipient:            recipient,
		ShouldQueue:          req.ShouldQueue,
		Caller:               caller,
	}
	result, err := d.Manager.SendTransfer(ctx, group)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetOutboundQueued fetches a queued outbound transfer by message id.
func (d *Deps) GetOutboundQueued(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := parseDigestParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := d.Manager.OutboundQueuedEntry(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type completeOutboundRequest struct {
	FeePaymentAmount uint64 `json:"fee_payment_amount"`
}

func (d *Deps) CompleteOutboundQueued(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := parseDigestParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req completeOutboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}
	result, err := d.Manager.CompleteOutboundQueued(ctx, id, req.FeePaymentAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *Deps) CancelOutboundQueued(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := parseDigestParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	refund, err := d.Manager.CancelOutboundQueued(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		MinBalanceRefund uint64 `json:"min_balance_refund"`
	}{refund})
}

type attestRequest struct {
	TransceiverID  string `json:"transceiver_id"`
	MessageID      string `json:"message_id"`
	UserAddress    string `json:"user_address"`
	SourceChainID  uint16 `json:"source_chain_id"`
	SourceAddress  string `json:"source_address"`
	HandlerAddress string `json:"handler_address"`
	PayloadHex     string `json:"payload_hex"`
}

// AttestationReceived lets a transceiver report having independently
// verified a remote message (spec §4.2).
func (d *Deps) AttestationReceived(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req attestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}
	transceiverID, err := core.ParseAddress(req.TransceiverID)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := decodeMessageReceived(req)
	if err != nil {
		writeError(w, err)
		return
	}
	count, digest, err := d.Manager.Agg.AttestationReceived(ctx, transceiverID, m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Count  uint64 `json:"count"`
		Digest string `json:"digest"`
	}{count, core.Address(digest).Hex()})
}

// ExecuteMessage executes an approved, not-yet-executed message (spec
// §4.3.3). The request body has the same shape as the attest request;
// the digest is recomputed from it, and the {digest} path segment is
// not read.
func (d *Deps) ExecuteMessage(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req attestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}
	m, err := decodeMessageReceived(req)
	if err != nil {
		writeError(w, err)
		return
	}
	minted, amount, err := d.Manager.ExecuteMessage(ctx, m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Minted bool   `json:"minted"`
		Amount uint64 `json:"amount"`
	}{minted, amount})
}

// CompleteInboundQueued mints and deletes a queued inbound transfer
// once its rate-limit window has elapsed (spec §4.3.4).
func (d *Deps) CompleteInboundQueued(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	digest, err := parseDigestParam(r, "digest")
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := d.Manager.CompleteInboundQueued(ctx, digest, d.InboundRateDuration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Amount uint64 `json:"amount"`
	}{amount})
}

// MessageStatus returns attestation count and approval/execution
// state for a digest.
func (d *Deps) MessageStatus(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	digest, err := parseDigestParam(r, "digest")
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := d.Manager.Agg.MessageAttestations(ctx, digest)
	if err != nil {
		writeError(w, err)
		return
	}
	approved, _ := d.Manager.Agg.IsMessageApproved(ctx, digest)
	executed, _ := d.Manager.Agg.IsExecuted(ctx, digest)
	writeJSON(w, http.StatusOK, struct {
		Attestations uint64 `json:"attestations"`
		Approved     bool   `json:"approved"`
		Executed     bool   `json:"executed"`
	}{count, approved, executed})
}

// BucketCapacity returns a read-only capacity projection for a bucket.
func (d *Deps) BucketCapacity(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := parseDigestParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	cap, err := d.Manager.RL.CapacityAt(ctx, core.BucketID(id), ctx.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Capacity string `json:"capacity"`
	}{cap.String()})
}

type transceiverRequest struct {
	HandlerID     string `json:"handler_id"`
	TransceiverID string `json:"transceiver_id"`
}

func (d *Deps) AddTransceiver(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	handlerID, err := parseDigestParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req transceiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}
	transceiverID, err := core.ParseAddress(req.TransceiverID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := d.Manager.Agg.AddTransceiver(ctx, core.Address(handlerID), transceiverID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deps) RemoveTransceiver(w http.ResponseWriter, r *http.Request) {
	ctx, err := d.buildCtx(r)
	if err != nil {
		writeError(w, err)
		return
	}
	handlerID, err := parseDigestParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req transceiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}
	transceiverID, err := core.ParseAddress(req.TransceiverID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := d.Manager.Agg.RemoveTransceiver(ctx, core.Address(handlerID), transceiverID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseDigestParam(r *http.Request, name string) ([32]byte, error) {
	raw := mux.Vars(r)[name]
	a, err := core.ParseAddress(raw)
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(a), nil
}

func decodeMessageReceived(req attestRequest) (core.MessageReceived, error) {
	messageID, err := core.ParseAddress(req.MessageID)
	if err != nil {
		return core.MessageReceived{}, err
	}
	userAddr, err := core.ParseAddress(req.UserAddress)
	if err != nil {
		return core.MessageReceived{}, err
	}
	sourceAddr, err := core.ParseAddress(req.SourceAddress)
	if err != nil {
		return core.MessageReceived{}, err
	}
	handlerAddr, err := core.ParseAddress(req.HandlerAddress)
	if err != nil {
		return core.MessageReceived{}, err
	}
	payload, err := hex.DecodeString(trimHexPrefix(req.PayloadHex))
	if err != nil {
		return core.MessageReceived{}, err
	}
	return core.MessageReceived{
		MessageID:      [32]byte(messageID),
		UserAddress:    userAddr,
		SourceChainID:  req.SourceChainID,
		SourceAddress:  sourceAddr,
		HandlerAddress: handlerAddr,
		Payload:        payload,
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
