// Package merkle computes the source merkle root binding an identity
// snapshot to the exact ordered event sequence it was folded from.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

// leafPrefix domain-separates leaf hashes from interior node hashes.
const (
	leafPrefix = "mirror:event:leaf:v1\x00"
	nodePrefix = "mirror:event:node:v1\x00"
)

// Root computes the merkle root over an ordered list of event hashes.
// An empty list yields the empty string. A single leaf promotes directly.
// Odd levels carry the last node up unpaired.
func Root(eventHashes []string) string {
	if len(eventHashes) == 0 {
		return ""
	}

	level := make([]string, len(eventHashes))
	for i, h := range eventHashes {
		level[i] = sha256Hex([]byte(leafPrefix + h))
	}

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, sha256Hex([]byte(nodePrefix+level[i]+level[i+1])))
		}
		level = next
	}
	return level[0]
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
