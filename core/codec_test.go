package core

import (
	"bytes"
	"testing"
)

func TestNTTPayloadRoundTrip(t *testing.T) {
	p := NTTPayload{
		FromDecimals:       8,
		FromAmount:         123456789,
		SourceTokenAddress: addr(1),
		Recipient:          addr(2),
		RecipientChain:     5,
	}
	buf := EncodeNTTPayload(p)
	if len(buf) != nttPayloadLen {
		t.Fatalf("encoded length = %d, want %d", len(buf), nttPayloadLen)
	}
	got, err := DecodeNTTPayload(buf)
	must(t, err)
	if got != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestDecodeNTTPayloadRejectsWrongPrefix(t *testing.T) {
	buf := EncodeNTTPayload(NTTPayload{})
	buf[0] ^= 0xFF
	if _, err := DecodeNTTPayload(buf); err != ErrIncorrectPrefix {
		t.Fatalf("expected ErrIncorrectPrefix, got %v", err)
	}
}

func TestDecodeNTTPayloadRejectsTruncation(t *testing.T) {
	buf := EncodeNTTPayload(NTTPayload{})
	if _, err := DecodeNTTPayload(buf[:10]); err != ErrTruncatedPayload {
		t.Fatalf("expected ErrTruncatedPayload, got %v", err)
	}
}

func TestHandlerWrappedPayloadRoundTrip(t *testing.T) {
	handlerPayload := BuildHandlerPayload([32]byte{7}, addr(3), NTTPayload{
		FromDecimals: 6, FromAmount: 42, Recipient: addr(4), RecipientChain: 1,
	})
	wrapped := HandlerWrappedPayload{
		SourceAddress:  addr(9),
		HandlerAddress: addr(10),
		HandlerPayload: handlerPayload,
	}
	buf := EncodeHandlerWrappedPayload(wrapped)
	got, err := DecodeHandlerWrappedPayload(buf)
	must(t, err)
	if got.SourceAddress != wrapped.SourceAddress || got.HandlerAddress != wrapped.HandlerAddress {
		t.Fatalf("address mismatch: %+v", got)
	}
	if !bytes.Equal(got.HandlerPayload, handlerPayload) {
		t.Fatalf("handler payload mismatch")
	}
}

func TestParseHandlerPayloadRoundTrip(t *testing.T) {
	ntt := NTTPayload{FromDecimals: 8, FromAmount: 77, Recipient: addr(6), RecipientChain: 2}
	raw := BuildHandlerPayload([32]byte{5}, addr(8), ntt)
	msgID, user, gotNTT, err := ParseHandlerPayload(raw)
	must(t, err)
	if msgID != [32]byte{5} || user != addr(8) || gotNTT != ntt {
		t.Fatalf("parse mismatch: %x %+v %+v", msgID, user, gotNTT)
	}
}

func TestCalculateMessageDigestIsDeterministicAndSensitiveToEveryField(t *testing.T) {
	base := MessageReceived{
		MessageID:      [32]byte{1},
		UserAddress:    addr(2),
		SourceChainID:  3,
		SourceAddress:  addr(4),
		HandlerAddress: addr(5),
		Payload:        []byte("payload"),
	}
	d1 := CalculateMessageDigest(base)
	d2 := CalculateMessageDigest(base)
	if d1 != d2 {
		t.Fatalf("digest is not deterministic")
	}

	variants := []func(*MessageReceived){
		func(m *MessageReceived) { m.MessageID[0] ^= 0xFF },
		func(m *MessageReceived) { m.UserAddress[0] ^= 0xFF },
		func(m *MessageReceived) { m.SourceChainID++ },
		func(m *MessageReceived) { m.SourceAddress[0] ^= 0xFF },
		func(m *MessageReceived) { m.HandlerAddress[0] ^= 0xFF },
		func(m *MessageReceived) { m.Payload = append(append([]byte(nil), m.Payload...), 0x01) },
	}
	for i, mutate := range variants {
		v := base
		mutate(&v)
		if CalculateMessageDigest(v) == d1 {
			t.Fatalf("variant %d did not change the digest", i)
		}
	}
}
