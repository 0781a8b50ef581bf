package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueuedOutboundTransfer is a deferred outbound send awaiting rate-limit
// capacity, keyed by message_id (spec §3). Entries are created by the
// Rate Limiter's EnqueueOrConsumeOutbound/EnqueueOrConsumeInbound when a
// transfer must wait; the Transfer Manager reads and deletes them when
// a queued transfer is completed or cancelled. Nothing else calls the
// CRUD functions below.
type QueuedOutboundTransfer struct {
	MessageID              [32]byte      `json:"message_id"`
	QueuedAt               time.Time     `json:"queued_at"`
	Trimmed                TrimmedAmount `json:"trimmed"`
	DestinationChain       uint16        `json:"destination_chain"`
	Recipient              Address       `json:"recipient"`
	Initiator              Address       `json:"initiator"`
	TransceiverInstructions []byte       `json:"transceiver_instructions,omitempty"`
	UntrimmedAmount        uint64        `json:"untrimmed_amount"`
	MinBalanceDeposit      uint64        `json:"min_balance_deposit"`
}

// QueuedInboundTransfer is a deferred inbound mint awaiting rate-limit
// capacity, keyed by message_digest (spec §3).
type QueuedInboundTransfer struct {
	MessageDigest [32]byte      `json:"message_digest"`
	QueuedAt      time.Time     `json:"queued_at"`
	Trimmed       TrimmedAmount `json:"trimmed"`
	SourceChain   uint16        `json:"source_chain"`
	Recipient     Address       `json:"recipient"`
	UntrimmedAmount uint64      `json:"untrimmed_amount"`
}

func outboundQueueKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("ntt:queue:outbound:%x", id))
}

func inboundQueueKey(digest [32]byte) []byte {
	return []byte(fmt.Sprintf("ntt:queue:inbound:%x", digest))
}

func createOutboundQueued(ctx *Context, e QueuedOutboundTransfer) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return ctx.Store.Set(outboundQueueKey(e.MessageID), raw)
}

func getOutboundQueued(ctx *Context, id [32]byte) (QueuedOutboundTransfer, error) {
	raw, err := ctx.Store.Get(outboundQueueKey(id))
	if err != nil {
		return QueuedOutboundTransfer{}, ErrQueueEntryNotFound
	}
	var e QueuedOutboundTransfer
	if err := json.Unmarshal(raw, &e); err != nil {
		return QueuedOutboundTransfer{}, err
	}
	return e, nil
}

func deleteOutboundQueued(ctx *Context, id [32]byte) error {
	return ctx.Store.Delete(outboundQueueKey(id))
}

func listOutboundQueued(ctx *Context) ([]QueuedOutboundTransfer, error) {
	it := ctx.Store.Iterator([]byte("ntt:queue:outbound:"))
	defer it.Close()
	var out []QueuedOutboundTransfer
	for it.Next() {
		var e QueuedOutboundTransfer
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, it.Error()
}

func createInboundQueued(ctx *Context, e QueuedInboundTransfer) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return ctx.Store.Set(inboundQueueKey(e.MessageDigest), raw)
}

func getInboundQueued(ctx *Context, digest [32]byte) (QueuedInboundTransfer, error) {
	raw, err := ctx.Store.Get(inboundQueueKey(digest))
	if err != nil {
		return QueuedInboundTransfer{}, ErrQueueEntryNotFound
	}
	var e QueuedInboundTransfer
	if err := json.Unmarshal(raw, &e); err != nil {
		return QueuedInboundTransfer{}, err
	}
	return e, nil
}

func deleteInboundQueued(ctx *Context, digest [32]byte) error {
	return ctx.Store.Delete(inboundQueueKey(digest))
}

func listInboundQueued(ctx *Context) ([]QueuedInboundTransfer, error) {
	it := ctx.Store.Iterator([]byte("ntt:queue:inbound:"))
	defer it.Close()
	var out []QueuedInboundTransfer
	for it.Next() {
		var e QueuedInboundTransfer
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, it.Error()
}
