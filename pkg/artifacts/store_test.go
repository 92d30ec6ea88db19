package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("wasm payload bytes")
	digest, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, Digest(data), digest)
	assert.Len(t, digest, 64)

	got, err := store.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := store.Exists(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFSStorePutIsIdempotent(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	d1, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	d2, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestFSStoreMissingDigest(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	missing := Digest([]byte("never stored"))
	_, err = store.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Exists(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFSStoreDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	digest, err := store.Put(ctx, []byte("original"))
	require.NoError(t, err)

	path := filepath.Join(root, digest[:2], digest)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	_, err = store.Get(ctx, digest)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

type fakeAPI struct {
	objects map[string][]byte
}

func (f *fakeAPI) put(_ context.Context, key string, data []byte) error {
	f.objects[key] = data
	return nil
}

func (f *fakeAPI) get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *fakeAPI) exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func TestObjectStorePrefixAndVerify(t *testing.T) {
	api := &fakeAPI{objects: make(map[string][]byte)}
	store := &objectStore{api: api, prefix: "updates/"}
	ctx := context.Background()

	data := []byte("artifact")
	digest, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Contains(t, api.objects, "updates/"+digest)

	got, err := store.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Bytes swapped underneath the address fail verification.
	api.objects["updates/"+digest] = []byte("swapped")
	_, err = store.Get(ctx, digest)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}
