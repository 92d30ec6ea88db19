// Package trust holds the guardian-key set and the peer genesis
// allowlist as one copy-on-write value. Checkers read it on every
// request; changes are rare and governance-gated, so reads are
// lock-free atomic loads and writes swap a fresh snapshot.
package trust

import "sync/atomic"

type snapshot struct {
	guardianKeys []string
	genesisOK    map[string]bool
}

// Set is the shared trust state.
type Set struct {
	ptr atomic.Pointer[snapshot]
}

// NewSet builds a trust set from initial guardian keys and trusted
// genesis hashes.
func NewSet(guardianKeys, genesisHashes []string) *Set {
	s := &Set{}
	s.ptr.Store(build(guardianKeys, genesisHashes))
	return s
}

func build(guardianKeys, genesisHashes []string) *snapshot {
	genesisOK := make(map[string]bool, len(genesisHashes))
	for _, h := range genesisHashes {
		genesisOK[h] = true
	}
	return &snapshot{
		guardianKeys: append([]string(nil), guardianKeys...),
		genesisOK:    genesisOK,
	}
}

// GuardianKeys returns the current guardian public keys. The slice is a
// stable snapshot; callers must not mutate it.
func (s *Set) GuardianKeys() []string {
	return s.ptr.Load().guardianKeys
}

// GenesisTrusted reports whether a peer genesis hash is allowlisted.
func (s *Set) GenesisTrusted(hash string) bool {
	return s.ptr.Load().genesisOK[hash]
}

// GenesisHashes returns the current allowlist.
func (s *Set) GenesisHashes() []string {
	snap := s.ptr.Load()
	out := make([]string, 0, len(snap.genesisOK))
	for h := range snap.genesisOK {
		out = append(out, h)
	}
	return out
}

// Replace swaps in a complete new trust state.
func (s *Set) Replace(guardianKeys, genesisHashes []string) {
	s.ptr.Store(build(guardianKeys, genesisHashes))
}

// AddGuardianKey swaps in a snapshot with one more guardian key.
func (s *Set) AddGuardianKey(key string) {
	for {
		old := s.ptr.Load()
		for _, k := range old.guardianKeys {
			if k == key {
				return
			}
		}
		next := build(append(append([]string(nil), old.guardianKeys...), key), nil)
		next.genesisOK = old.genesisOK
		if s.ptr.CompareAndSwap(old, next) {
			return
		}
	}
}
