package core

import (
	"encoding/binary"
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"
)

const sequenceKey = "ntt:manager:sequence"

// nextSequence advances and returns the Manager's monotonically
// increasing, gap-free outbound sequence counter (spec §3, "Message
// Sequence"; P4). It is a plain read-then-write on the store; its
// caller, Manager.SendTransfer, runs it under Manager.mu.
func nextSequence(ctx *Context) (uint64, error) {
	raw, err := ctx.Store.Get([]byte(sequenceKey))
	var seq uint64
	if err == nil {
		if uErr := json.Unmarshal(raw, &seq); uErr != nil {
			return 0, uErr
		}
	}
	seq++
	next, err := json.Marshal(seq)
	if err != nil {
		return 0, err
	}
	if err := ctx.Store.Set([]byte(sequenceKey), next); err != nil {
		return 0, err
	}
	return seq, nil
}

// deriveMessageID computes message_id = keccak256(manager_identity ||
// sequence), a collision-resistant derivation unique across the
// Manager's lifetime (spec §3).
func deriveMessageID(managerIdentity Address, sequence uint64) [32]byte {
	buf := make([]byte, 0, 32+8)
	buf = append(buf, managerIdentity[:]...)
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, sequence)
	buf = append(buf, seqBytes...)
	return [32]byte(crypto.Keccak256(buf))
}

func currentSequence(ctx *Context) (uint64, error) {
	raw, err := ctx.Store.Get([]byte(sequenceKey))
	if err != nil {
		return 0, nil
	}
	var seq uint64
	if err := json.Unmarshal(raw, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}
