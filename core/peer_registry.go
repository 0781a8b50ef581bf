package core

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// TopicPeerSet is broadcast whenever a peer is created or overridden,
// carrying the encoded Peer — mirroring NttManagerPeerSet in spec §6.
const TopicPeerSet = "ntt:peer:set"

// Peer is a registered remote Manager on a specific remote chain
// (spec §3, "Peer Registry"). A peer is created on first registration
// and mutated in place on override; it is never destroyed.
type Peer struct {
	ChainID      uint16  `json:"chain_id"`
	PeerContract Address `json:"peer_contract"`
	PeerDecimals uint8   `json:"peer_decimals"`
}

func peerKey(chain uint16) []byte {
	return []byte(fmt.Sprintf("ntt:peer:%05d", chain))
}

// PeerRegistry maps peer_chain_id to {peer_contract, peer_decimals},
// enforcing that the local chain is never its own peer.
type PeerRegistry struct {
	LocalChainID uint16
}

// SetPeer creates or overrides the registration for chain. It rejects
// the local chain id, an all-zero contract, and decimals outside
// [1,18] as required by spec §3 and §6.
func (r *PeerRegistry) SetPeer(ctx *Context, chain uint16, contract Address, decimals uint8) (Peer, bool, error) {
	logger := zap.L().Sugar()
	if chain == r.LocalChainID {
		return Peer{}, false, ErrSelfPeer
	}
	if contract.IsZero() {
		return Peer{}, false, ErrInvalidPeerContract
	}
	if decimals < 1 || decimals > 18 {
		return Peer{}, false, fmt.Errorf("ntt: peer_decimals must be in [1,18], got %d", decimals)
	}
	_, err := r.GetPeer(ctx, chain)
	isNew := err != nil
	p := Peer{ChainID: chain, PeerContract: contract, PeerDecimals: decimals}
	raw, err := json.Marshal(p)
	if err != nil {
		return Peer{}, false, err
	}
	if err := ctx.Store.Set(peerKey(chain), raw); err != nil {
		logger.Errorw("store peer", "chain", chain, "err", err)
		return Peer{}, false, err
	}
	if ctx.Events != nil {
		_ = ctx.Events.Broadcast(TopicPeerSet, raw)
	}
	logger.Infow("peer set", "chain", chain, "contract", contract.Hex(), "decimals", decimals, "is_new", isNew)
	return p, isNew, nil
}

// GetPeer fetches the registration for chain, or ErrUnknownPeerChain.
func (r *PeerRegistry) GetPeer(ctx *Context, chain uint16) (Peer, error) {
	raw, err := ctx.Store.Get(peerKey(chain))
	if err != nil {
		return Peer{}, ErrUnknownPeerChain
	}
	var p Peer
	if err := json.Unmarshal(raw, &p); err != nil {
		return Peer{}, err
	}
	return p, nil
}

// ListPeers returns every registered peer.
func (r *PeerRegistry) ListPeers(ctx *Context) ([]Peer, error) {
	it := ctx.Store.Iterator([]byte("ntt:peer:"))
	defer it.Close()
	var out []Peer
	for it.Next() {
		var p Peer
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, it.Error()
}
