package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/common/logger"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir(), logger.New("error", "json"))
	require.NoError(t, err)
	return store
}

func writeBlob(t *testing.T, store *FSStore, content string) *Digest {
	t.Helper()
	ctx := context.Background()

	session, err := store.Create(ctx)
	require.NoError(t, err)
	_, err = io.Copy(session, strings.NewReader(content))
	require.NoError(t, err)

	digest, err := session.Commit(ctx)
	require.NoError(t, err)
	return digest
}

func TestWriterDigest(t *testing.T) {
	w := NewWriter()
	_, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	d := w.Finish()

	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", d.MD5)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", d.SHA1)
	assert.Len(t, d.SHA256, 64)
	assert.Len(t, d.SHA3_256, 64)
	assert.Equal(t, int64(11), d.Size)
	assert.Equal(t, "text/plain", d.MimeType)
	assert.Equal(t, "utf-8", d.MimeEncoding)
}

func TestStoreRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	digest := writeBlob(t, store, "some document content")

	exists, err := store.Exists(ctx, digest.SHA3_256)
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := store.Open(ctx, digest.SHA3_256)
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "some document content", string(content))
}

func TestStoreDeduplicates(t *testing.T) {
	store := newTestStore(t)

	first := writeBlob(t, store, "same bytes")
	second := writeBlob(t, store, "same bytes")
	assert.Equal(t, first.SHA3_256, second.SHA3_256)

	other := writeBlob(t, store, "different bytes")
	assert.NotEqual(t, first.SHA3_256, other.SHA3_256)

	// One object on disk per distinct content, nothing left in staging
	entries, err := os.ReadDir(filepath.Join(store.root, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStagedWriteIsInvisible(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx)
	require.NoError(t, err)
	_, err = session.Write([]byte("partial"))
	require.NoError(t, err)

	// Nothing outside the staging dir until Commit
	entries, err := os.ReadDir(store.root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "tmp", e.Name())
	}

	require.NoError(t, session.Abort())
	staged, err := os.ReadDir(filepath.Join(store.root, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestCommitTwiceFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx)
	require.NoError(t, err)
	_, err = session.Write([]byte("x"))
	require.NoError(t, err)

	_, err = session.Commit(ctx)
	require.NoError(t, err)
	_, err = session.Commit(ctx)
	assert.Error(t, err)
}

func TestPathSharding(t *testing.T) {
	store := newTestStore(t)
	digest := writeBlob(t, store, "sharded")

	hash := digest.SHA3_256
	want := filepath.Join(store.root, hash[:2], hash[2:4], hash)
	assert.Equal(t, want, store.Path(hash))

	_, err := os.Stat(want)
	assert.NoError(t, err)
}
