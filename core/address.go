package core

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 32-byte chain-agnostic account identifier. NTT wire
// payloads (recipient, peer_contract, source/handler addresses) are all
// fixed at 32 bytes so that EVM (left-padded 20-byte), Solana, and other
// chain families share one on-the-wire representation.
type Address [32]byte

// ZeroAddress is the all-zeros sentinel. Spec forbids using it as a
// recipient or a peer contract.
var ZeroAddress Address

// IsZero reports whether the address is all zero bytes.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex returns the 0x-prefixed hexadecimal representation of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Short returns a shortened form (first 4 + last 4 hex chars) for logs.
func (a Address) Short() string {
	full := hex.EncodeToString(a[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}

// ParseAddress decodes a hex string (with or without 0x prefix) into an
// Address. The input must decode to exactly 32 bytes.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return Address{}, fmt.Errorf("invalid address %q: must be 32 bytes hex", s)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}
