package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

// Cache is a write-through snapshot cache at
// {root}/snapshots/{instance}/{user}.json. Cached snapshots are a read
// optimization only: the log remains the source of truth, and a cached
// snapshot is trusted only when its merkle root still matches the stream.
type Cache struct {
	root string
	mu   sync.Mutex
}

// NewCache creates the cache rooted at dir.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "snapshots"), 0o700); err != nil {
		return nil, fmt.Errorf("replay: create cache root: %w", err)
	}
	return &Cache{root: dir}, nil
}

func (c *Cache) path(instanceID, userID string) string {
	return filepath.Join(c.root, "snapshots", instanceID, userID+".json")
}

// Put stores a snapshot, replacing any previous one for the stream.
func (c *Cache) Put(snap contracts.IdentitySnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(snap.InstanceID, snap.UserID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("replay: create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("replay: marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("replay: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replay: publish snapshot: %w", err)
	}
	return nil
}

// Get returns the cached snapshot for the stream, or ok=false when none
// exists or the cached file is unreadable.
func (c *Cache) Get(instanceID, userID string) (contracts.IdentitySnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(instanceID, userID))
	if err != nil {
		return contracts.IdentitySnapshot{}, false
	}
	var snap contracts.IdentitySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return contracts.IdentitySnapshot{}, false
	}
	return snap, true
}

// GetFresh returns the cached snapshot only when it was folded from
// exactly the event sequence identified by merkleRoot.
func (c *Cache) GetFresh(instanceID, userID, merkleRoot string) (contracts.IdentitySnapshot, bool) {
	snap, ok := c.Get(instanceID, userID)
	if !ok || snap.SourceMerkleRoot != merkleRoot {
		return contracts.IdentitySnapshot{}, false
	}
	return snap, true
}
