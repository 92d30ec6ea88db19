package p2p

import (
	"sync"
	"time"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/trust"
)

// trustStep is how much one successful verification or delivery moves a
// peer's score; failures cost double.
const trustStep = 0.05

type peerState struct {
	peer      contracts.Peer
	publicKey string
	lastMsgAt time.Time
}

// PeerBook tracks known peers. A peer becomes verified only when its
// advertised genesis hash is on the allowlist; unverified peers are kept
// for observation but never gossiped to and never gain trust.
type PeerBook struct {
	mu    sync.RWMutex
	peers map[string]*peerState
	trust *trust.Set
	clock func() time.Time
}

// NewPeerBook builds an empty book over the trust set.
func NewPeerBook(ts *trust.Set) *PeerBook {
	return &PeerBook{
		peers: make(map[string]*peerState),
		trust: ts,
		clock: time.Now,
	}
}

// Admit records a peer from a discovery exchange and returns whether the
// peer verified. Re-admitting refreshes endpoint, key, and last-seen.
func (b *PeerBook) Admit(instanceID, genesisHash, endpoint, publicKey string) bool {
	verified := b.trust.GenesisTrusted(genesisHash)
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.peers[instanceID]
	if !ok {
		state = &peerState{peer: contracts.Peer{InstanceID: instanceID}}
		b.peers[instanceID] = state
	}
	state.peer.GenesisHash = genesisHash
	state.peer.Endpoint = endpoint
	state.peer.LastSeen = b.clock().UTC()
	state.peer.Verified = verified
	if !verified {
		state.peer.TrustScore = 0
	}
	state.publicKey = publicKey
	return verified
}

// Get returns a peer snapshot.
func (b *PeerBook) Get(instanceID string) (contracts.Peer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	state, ok := b.peers[instanceID]
	if !ok {
		return contracts.Peer{}, false
	}
	return state.peer, true
}

// PublicKey returns the signing key a peer advertised at discovery.
func (b *PeerBook) PublicKey(instanceID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	state, ok := b.peers[instanceID]
	if !ok || state.publicKey == "" {
		return "", false
	}
	return state.publicKey, true
}

// Verified returns all verified peers.
func (b *PeerBook) Verified() []contracts.Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []contracts.Peer
	for _, state := range b.peers {
		if state.peer.Verified {
			out = append(out, state.peer)
		}
	}
	return out
}

// All returns every known peer, verified or not.
func (b *PeerBook) All() []contracts.Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]contracts.Peer, 0, len(b.peers))
	for _, state := range b.peers {
		out = append(out, state.peer)
	}
	return out
}

// RecordSuccess bumps a verified peer's trust score for a verified
// message or completed delivery. Unverified peers stay at zero.
func (b *PeerBook) RecordSuccess(instanceID string) {
	b.adjust(instanceID, trustStep)
}

// RecordFailure drops a peer's trust score for a bad signature or failed
// delivery.
func (b *PeerBook) RecordFailure(instanceID string) {
	b.adjust(instanceID, -2*trustStep)
}

func (b *PeerBook) adjust(instanceID string, delta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.peers[instanceID]
	if !ok || !state.peer.Verified {
		return
	}
	score := state.peer.TrustScore + delta
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	state.peer.TrustScore = score
	state.peer.LastSeen = b.clock().UTC()
}

// acceptTimestamp enforces per-sender monotone ordering: a message older
// than the sender's last accepted one is dropped.
func (b *PeerBook) acceptTimestamp(instanceID string, ts time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.peers[instanceID]
	if !ok {
		return false
	}
	if ts.Before(state.lastMsgAt) {
		return false
	}
	state.lastMsgAt = ts
	return true
}
