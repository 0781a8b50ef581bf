package core

import "time"

// fakeClock gives tests explicit control over ctx.now() readings,
// mirroring the injected-Clock pattern spec §9 requires in production.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestContext() (*Context, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return &Context{
		Clock:  clk,
		Store:  NewInMemoryStore(),
		Events: NewMemoryEventSink(),
		Roles:  NewMemoryRoleStore(),
	}, clk
}

type fakeTokenAuthority struct {
	mints map[Address]uint64
	burns map[Address]uint64
}

func newFakeTokenAuthority() *fakeTokenAuthority {
	return &fakeTokenAuthority{mints: map[Address]uint64{}, burns: map[Address]uint64{}}
}

func (f *fakeTokenAuthority) Mint(to Address, amount uint64) error {
	f.mints[to] += amount
	return nil
}

func (f *fakeTokenAuthority) Burn(from Address, amount uint64) error {
	f.burns[from] += amount
	return nil
}

// fakeTransceiver is a stub attestation channel with a fixed delivery
// price, recording every message it is asked to send.
type fakeTransceiver struct {
	price uint64
	sent  [][]byte
}

func (f *fakeTransceiver) QuoteDeliveryPrice(message, instruction []byte) (uint64, error) {
	return f.price, nil
}

func (f *fakeTransceiver) SendMessage(feeSlice uint64, message, instruction []byte) error {
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeTransceiver) DeliverMessage(m MessageReceived) error { return nil }

func addr(b byte) Address {
	var a Address
	a[31] = b
	return a
}
