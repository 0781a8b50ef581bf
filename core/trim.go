package core

// TrimmedAmount is a token amount scaled to the minimum of local,
// peer, and 8 decimal places for wire representation (spec §3).
type TrimmedAmount struct {
	Amount   uint64
	Decimals uint8
}

// maxTrimDecimals bounds any wire amount at 8 significant decimal
// places regardless of local/peer precision (spec §3, P2).
const maxTrimDecimals = 8

func minDecimals(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func pow10(n uint8) uint64 {
	r := uint64(1)
	for i := uint8(0); i < n; i++ {
		r *= 10
	}
	return r
}

// trimDecimals returns min(localDecimals, peerDecimals, 8) — P2.
func trimDecimals(localDecimals, peerDecimals uint8) uint8 {
	return minDecimals(minDecimals(localDecimals, peerDecimals), maxTrimDecimals)
}

// trim scales untrimmedAmount (at localDecimals precision) down to the
// wire precision shared with the peer. Trimming is lossy: any residue
// below the trimmed precision is simply dropped here; callers must
// separately verify via untrim that no dust was lost (spec §3, P1).
func trim(untrimmedAmount uint64, localDecimals, peerDecimals uint8) TrimmedAmount {
	d := trimDecimals(localDecimals, peerDecimals)
	if localDecimals <= d {
		return TrimmedAmount{Amount: untrimmedAmount, Decimals: d}
	}
	scale := pow10(localDecimals - d)
	return TrimmedAmount{Amount: untrimmedAmount / scale, Decimals: d}
}

// untrim scales a trimmed amount back up to localDecimals precision,
// the inverse operation applied at the receiving side.
func untrim(t TrimmedAmount, localDecimals uint8) uint64 {
	if localDecimals <= t.Decimals {
		return t.Amount
	}
	scale := pow10(localDecimals - t.Decimals)
	return t.Amount * scale
}

// trimRoundTrip trims untrimmedAmount and reports whether untrimming
// the result reproduces it exactly (no dust). Callers that must reject
// dust (the outbound path, spec §4.3.1) use ok==false to return
// ErrDustNotAllowed.
func trimRoundTrip(untrimmedAmount uint64, localDecimals, peerDecimals uint8) (TrimmedAmount, bool) {
	t := trim(untrimmedAmount, localDecimals, peerDecimals)
	return t, untrim(t, localDecimals) == untrimmedAmount
}
