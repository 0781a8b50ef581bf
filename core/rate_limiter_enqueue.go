package core

import (
	"encoding/json"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// EnqueueOrConsumeOutbound implements spec §4.1's
// enqueue_or_consume_outbound: if the outbound bucket has capacity, it
// is consumed and the opposite (inbound-for-chain) bucket is cross-
// credited, returning queued=false. Otherwise, if shouldQueue, a
// QueuedOutboundTransfer is created and OutboundTransferRateLimited is
// emitted, returning queued=true. Otherwise the shortfall is terminal.
func (rl *RateLimiter) EnqueueOrConsumeOutbound(
	ctx *Context,
	untrimmedAmount uint64,
	destinationChain uint16,
	recipient, initiator Address,
	shouldQueue bool,
	instructions []byte,
	trimmed TrimmedAmount,
	messageID [32]byte,
	minBalanceDeposit uint64,
) (queued bool, err error) {
	logger := zap.L().Sugar()
	outbound := OutboundBucketID()
	amount := uint256.NewInt(untrimmedAmount)

	has, err := rl.HasCapacity(ctx, outbound, amount)
	if err != nil {
		return false, err
	}
	if has {
		if err := rl.Consume(ctx, outbound, amount); err != nil {
			return false, err
		}
		if err := rl.crossCreditFill(ctx, InboundBucketID(destinationChain), amount); err != nil {
			return false, err
		}
		return false, nil
	}

	if !shouldQueue {
		return false, ErrInsufficientCapacity
	}

	entry := QueuedOutboundTransfer{
		MessageID:               messageID,
		QueuedAt:                ctx.now(),
		Trimmed:                 trimmed,
		DestinationChain:        destinationChain,
		Recipient:               recipient,
		Initiator:               initiator,
		TransceiverInstructions: instructions,
		UntrimmedAmount:         untrimmedAmount,
		MinBalanceDeposit:       minBalanceDeposit,
	}
	if err := createOutboundQueued(ctx, entry); err != nil {
		return false, err
	}
	cap, _ := rl.CapacityAt(ctx, outbound, ctx.now())
	if cap == nil {
		cap = uint256.NewInt(0)
	}
	logger.Infow("outbound transfer rate limited", "message_id", fmtBytes32(messageID), "amount", untrimmedAmount)
	if ctx.Events != nil {
		raw, _ := json.Marshal(struct {
			Initiator       string `json:"initiator"`
			MessageID       string `json:"message_id"`
			CurrentCapacity string `json:"current_capacity"`
			Amount          uint64 `json:"amount"`
		}{initiator.Hex(), fmtBytes32(messageID), cap.String(), untrimmedAmount})
		_ = ctx.Events.Broadcast(TopicOutboundTransferRateLimited, raw)
	}
	return true, nil
}

// EnqueueOrConsumeInbound implements spec §4.1's
// enqueue_or_consume_inbound, symmetric to the outbound case except
// that inbound shortfall always queues and never fails.
func (rl *RateLimiter) EnqueueOrConsumeInbound(
	ctx *Context,
	untrimmedAmount uint64,
	sourceChain uint16,
	trimmed TrimmedAmount,
	recipient Address,
	messageDigest [32]byte,
) (queued bool, err error) {
	logger := zap.L().Sugar()
	inbound := InboundBucketID(sourceChain)
	amount := uint256.NewInt(untrimmedAmount)

	has, err := rl.HasCapacity(ctx, inbound, amount)
	if err != nil {
		// An unregistered inbound bucket behaves as zero capacity: the
		// transfer queues rather than failing, matching the "inbound
		// shortfall always queues" rule.
		has = false
	}
	if has {
		if err := rl.Consume(ctx, inbound, amount); err != nil {
			return false, err
		}
		if err := rl.crossCreditFill(ctx, OutboundBucketID(), amount); err != nil {
			return false, err
		}
		return false, nil
	}

	entry := QueuedInboundTransfer{
		MessageDigest:   messageDigest,
		QueuedAt:        ctx.now(),
		Trimmed:         trimmed,
		SourceChain:     sourceChain,
		Recipient:       recipient,
		UntrimmedAmount: untrimmedAmount,
	}
	if err := createInboundQueued(ctx, entry); err != nil {
		return false, err
	}
	cap, _ := rl.CapacityAt(ctx, inbound, ctx.now())
	if cap == nil {
		cap = uint256.NewInt(0)
	}
	logger.Infow("inbound transfer rate limited", "digest", fmtBytes32(messageDigest), "amount", untrimmedAmount)
	if ctx.Events != nil {
		raw, _ := json.Marshal(struct {
			Recipient       string `json:"recipient"`
			MessageDigest   string `json:"message_digest"`
			CurrentCapacity string `json:"current_capacity"`
			Amount          uint64 `json:"amount"`
		}{recipient.Hex(), fmtBytes32(messageDigest), cap.String(), untrimmedAmount})
		_ = ctx.Events.Broadcast(TopicInboundTransferRateLimited, raw)
	}
	return true, nil
}

func fmtBytes32(b [32]byte) string {
	return Address(b).Hex()
}
