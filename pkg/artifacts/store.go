// Package artifacts stores update payloads addressed by their SHA-256.
// Content addressing makes verification free: fetch by digest, hash what
// came back, compare.
package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned when no artifact exists for the digest.
	ErrNotFound = errors.New("artifacts: not found")
	// ErrDigestMismatch is returned when stored bytes no longer hash to
	// their address.
	ErrDigestMismatch = errors.New("artifacts: digest mismatch")
)

// Store is a content-addressed blob store.
type Store interface {
	// Put stores data and returns its hex SHA-256 address.
	Put(ctx context.Context, data []byte) (string, error)
	// Get fetches by address, verifying the digest on the way out.
	Get(ctx context.Context, digest string) ([]byte, error)
	// Exists reports whether the digest is present.
	Exists(ctx context.Context, digest string) (bool, error)
}

// Digest returns the hex SHA-256 address of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func verify(digest string, data []byte) ([]byte, error) {
	if Digest(data) != digest {
		return nil, ErrDigestMismatch
	}
	return data, nil
}

// FSStore keeps artifacts under a root directory, sharded by the first
// two digest characters.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(digest string) string {
	return filepath.Join(s.root, digest[:2], digest)
}

func (s *FSStore) Put(_ context.Context, data []byte) (string, error) {
	digest := Digest(data)
	path := s.path(digest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("artifacts: create shard: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: commit: %w", err)
	}
	return digest, nil
}

func (s *FSStore) Get(_ context.Context, digest string) ([]byte, error) {
	if len(digest) < 2 {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: read: %w", err)
	}
	return verify(digest, data)
}

func (s *FSStore) Exists(_ context.Context, digest string) (bool, error) {
	if len(digest) < 2 {
		return false, nil
	}
	_, err := os.Stat(s.path(digest))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// objectAPI is the slice of a bucket client both cloud stores reduce to.
type objectAPI interface {
	put(ctx context.Context, key string, data []byte) error
	get(ctx context.Context, key string) ([]byte, error)
	exists(ctx context.Context, key string) (bool, error)
}

// objectStore adapts any objectAPI into a content-addressed Store.
type objectStore struct {
	api    objectAPI
	prefix string
}

func (s *objectStore) key(digest string) string {
	return s.prefix + digest
}

func (s *objectStore) Put(ctx context.Context, data []byte) (string, error) {
	digest := Digest(data)
	if ok, err := s.api.exists(ctx, s.key(digest)); err == nil && ok {
		return digest, nil
	}
	if err := s.api.put(ctx, s.key(digest), data); err != nil {
		return "", err
	}
	return digest, nil
}

func (s *objectStore) Get(ctx context.Context, digest string) ([]byte, error) {
	data, err := s.api.get(ctx, s.key(digest))
	if err != nil {
		return nil, err
	}
	return verify(digest, data)
}

func (s *objectStore) Exists(ctx context.Context, digest string) (bool, error) {
	return s.api.exists(ctx, s.key(digest))
}

func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
