package core

import "testing"

func TestRegisterHandlerIsIdempotentAndGrantsRoles(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	admin := addr(1)
	handler := addr(2)

	isNew, err := agg.RegisterHandler(ctx, handler, admin)
	must(t, err)
	if !isNew {
		t.Fatalf("expected is_new on first registration")
	}
	if !ctx.Roles.HasRole(admin, handlerAdminRole(handler)) {
		t.Fatalf("admin role not granted")
	}

	isNew, err = agg.RegisterHandler(ctx, handler, admin)
	must(t, err)
	if isNew {
		t.Fatalf("second registration should not report is_new")
	}
}

func TestAddTransceiverPreservesOrderAndRejectsDuplicates(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)

	must(t, agg.AddTransceiver(ctx, handler, addr(10)))
	must(t, agg.AddTransceiver(ctx, handler, addr(11)))
	if err := agg.AddTransceiver(ctx, handler, addr(10)); err != ErrDuplicateTransceiver {
		t.Fatalf("expected ErrDuplicateTransceiver, got %v", err)
	}

	h, err := agg.loadHandler(ctx, handler)
	must(t, err)
	if h.Transceivers[0] != addr(10) || h.Transceivers[1] != addr(11) {
		t.Fatalf("unexpected order: %+v", h.Transceivers)
	}
}

func TestRemoveTransceiverPreservesOrderOfSurvivors(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)
	must(t, agg.AddTransceiver(ctx, handler, addr(10)))
	must(t, agg.AddTransceiver(ctx, handler, addr(11)))
	must(t, agg.AddTransceiver(ctx, handler, addr(12)))

	must(t, agg.RemoveTransceiver(ctx, handler, addr(11)))
	h, err := agg.loadHandler(ctx, handler)
	must(t, err)
	if len(h.Transceivers) != 2 || h.Transceivers[0] != addr(10) || h.Transceivers[1] != addr(12) {
		t.Fatalf("unexpected order after removal: %+v", h.Transceivers)
	}

	if err := agg.RemoveTransceiver(ctx, handler, addr(99)); err != ErrTransceiverNotFound {
		t.Fatalf("expected ErrTransceiverNotFound, got %v", err)
	}
}

func TestAddTransceiverRejectsNonAdmin(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)

	ctx.Caller = addr(2)
	if err := agg.AddTransceiver(ctx, handler, addr(10)); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSetPausedRejectsRedundantTransitions(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)

	must(t, agg.SetPaused(ctx, handler, true))
	if err := agg.SetPaused(ctx, handler, true); err != ErrAlreadyPaused {
		t.Fatalf("expected ErrAlreadyPaused, got %v", err)
	}
	must(t, agg.SetPaused(ctx, handler, false))
	if err := agg.SetPaused(ctx, handler, false); err != ErrNotPaused {
		t.Fatalf("expected ErrNotPaused, got %v", err)
	}
}

func TestQuoteDeliveryPricesSumsAndRejectsUnknownInstruction(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)
	must(t, agg.AddTransceiver(ctx, handler, addr(10)))
	must(t, agg.AddTransceiver(ctx, handler, addr(11)))
	agg.RegisterTransceiverImpl(addr(10), &fakeTransceiver{price: 5})
	agg.RegisterTransceiverImpl(addr(11), &fakeTransceiver{price: 7})

	total, err := agg.QuoteDeliveryPrices(ctx, handler, []byte("m"), nil)
	must(t, err)
	if total != 12 {
		t.Fatalf("total = %d, want 12", total)
	}

	_, err = agg.QuoteDeliveryPrices(ctx, handler, []byte("m"), map[Address][]byte{addr(99): []byte("x")})
	if err != ErrUnorderedOrUnknownInstruction {
		t.Fatalf("expected ErrUnorderedOrUnknownInstruction, got %v", err)
	}
}

func TestSendMessageToTransceiversEnforcesCallerIdentityPauseAndExactFee(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)
	must(t, agg.AddTransceiver(ctx, handler, addr(10)))
	tc := &fakeTransceiver{price: 5}
	agg.RegisterTransceiverImpl(addr(10), tc)

	ctx.Caller = addr(2) // not the handler itself
	if err := agg.SendMessageToTransceivers(ctx, handler, 5, []byte("m"), nil); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	ctx.Caller = handler
	if err := agg.SendMessageToTransceivers(ctx, handler, 4, []byte("m"), nil); err != ErrIncorrectFeePayment {
		t.Fatalf("expected ErrIncorrectFeePayment, got %v", err)
	}
	must(t, agg.SendMessageToTransceivers(ctx, handler, 5, []byte("m"), nil))
	if len(tc.sent) != 1 {
		t.Fatalf("expected dispatch to the transceiver, got %d sends", len(tc.sent))
	}

	must(t, agg.SetPaused(ctx, handler, true))
	if err := agg.SendMessageToTransceivers(ctx, handler, 5, []byte("m"), nil); err != ErrHandlerPaused {
		t.Fatalf("expected ErrHandlerPaused, got %v", err)
	}
}

func TestAttestationReceivedRejectsUnknownTransceiverAndDuplicates(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)
	must(t, agg.AddTransceiver(ctx, handler, addr(10)))

	m := MessageReceived{HandlerAddress: handler, Payload: []byte("p")}
	if _, _, err := agg.AttestationReceived(ctx, addr(99), m); err != ErrTransceiverNotConfigured {
		t.Fatalf("expected ErrTransceiverNotConfigured, got %v", err)
	}

	count, digest, err := agg.AttestationReceived(ctx, addr(10), m)
	must(t, err)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	if _, _, err := agg.AttestationReceived(ctx, addr(10), m); err != ErrDuplicateAttestation {
		t.Fatalf("expected ErrDuplicateAttestation, got %v", err)
	}

	approved, err := agg.IsMessageApproved(ctx, digest)
	must(t, err)
	if !approved {
		t.Fatalf("expected approval at threshold 1 with count 1")
	}
}

func TestAttestationThresholdIsCapturedAtFirstSighting(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)
	must(t, agg.AddTransceiver(ctx, handler, addr(10)))
	must(t, agg.AddTransceiver(ctx, handler, addr(11)))
	must(t, agg.SetThreshold(ctx, handler, 2))

	m := MessageReceived{HandlerAddress: handler, Payload: []byte("p")}
	_, digest, err := agg.AttestationReceived(ctx, addr(10), m)
	must(t, err)
	approved, err := agg.IsMessageApproved(ctx, digest)
	must(t, err)
	if approved {
		t.Fatalf("should not be approved with only 1 of 2 required attestations")
	}

	// Lowering the threshold after the digest was first seen must not
	// retroactively weaken the requirement already captured for it.
	must(t, agg.SetThreshold(ctx, handler, 1))
	approved, err = agg.IsMessageApproved(ctx, digest)
	must(t, err)
	if approved {
		t.Fatalf("captured threshold for an in-flight message must not be lowered retroactively")
	}
}

func TestMarkExecutedIsSingleShot(t *testing.T) {
	ctx, _ := newTestContext()
	agg := NewAggregator()
	handler := addr(1)
	ctx.Caller = addr(1)
	_, err := agg.RegisterHandler(ctx, handler, addr(1))
	must(t, err)
	must(t, agg.AddTransceiver(ctx, handler, addr(10)))
	m := MessageReceived{HandlerAddress: handler, Payload: []byte("p")}
	_, digest, err := agg.AttestationReceived(ctx, addr(10), m)
	must(t, err)

	must(t, agg.MarkExecuted(ctx, digest))
	if err := agg.MarkExecuted(ctx, digest); err != ErrAlreadyExecuted {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}

	must(t, agg.AddTransceiver(ctx, handler, addr(11)))
	if _, _, err := agg.AttestationReceived(ctx, addr(11), m); err != ErrAlreadyExecuted {
		t.Fatalf("expected ErrAlreadyExecuted for attestations on an executed digest, got %v", err)
	}
}
