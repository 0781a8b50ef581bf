package core

import "testing"

func TestTrimDecimalsTakesMinimumOfThree(t *testing.T) {
	cases := []struct {
		local, peer uint8
		want        uint8
	}{
		{9, 6, 6},
		{6, 9, 6},
		{18, 18, 8},
		{2, 18, 2},
	}
	for _, c := range cases {
		if got := trimDecimals(c.local, c.peer); got != c.want {
			t.Fatalf("trimDecimals(%d,%d) = %d, want %d", c.local, c.peer, got, c.want)
		}
	}
}

func TestTrimRoundTripNoDust(t *testing.T) {
	// 9 local decimals, 6 peer decimals: multiples of 1000 survive the
	// round trip exactly.
	amt, ok := trimRoundTrip(5_000_000_000, 9, 6)
	if !ok {
		t.Fatalf("expected clean round trip, got dust for trimmed=%+v", amt)
	}
	if amt.Amount != 5_000_000 || amt.Decimals != 6 {
		t.Fatalf("unexpected trim result: %+v", amt)
	}
}

func TestTrimRoundTripDetectsDust(t *testing.T) {
	// 1 unit above a multiple of 1000 cannot survive trim+untrim.
	_, ok := trimRoundTrip(5_000_000_001, 9, 6)
	if ok {
		t.Fatalf("expected dust to be detected")
	}
}

func TestUntrimIsInverseOfTrimWhenLossless(t *testing.T) {
	const local, peer uint8 = 9, 8
	for _, v := range []uint64{0, 10, 1_234_567_890, 999_999_999_990} {
		trimmed := trim(v, local, peer)
		if got := untrim(trimmed, local); got != v {
			t.Fatalf("untrim(trim(%d)) = %d, want %d", v, got, v)
		}
	}
}

func TestTrimCapsAtEightDecimalsEvenWhenBothSidesFiner(t *testing.T) {
	trimmed := trim(123_456_789_012, 18, 18)
	if trimmed.Decimals != maxTrimDecimals {
		t.Fatalf("decimals = %d, want %d", trimmed.Decimals, maxTrimDecimals)
	}
}
