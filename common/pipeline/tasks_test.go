package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/common/blobstore"
	"github.com/docpipe/docpipe/common/engine"
	"github.com/docpipe/docpipe/common/engine/enginetest"
	"github.com/docpipe/docpipe/common/logger"
	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/queue"
	"github.com/docpipe/docpipe/common/registry"
)

type fixture struct {
	eng   *engine.Engine
	store *blobstore.FSStore
	tasks *enginetest.Tasks
	queue queue.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.New("error", "json")
	store, err := blobstore.NewFSStore(t.TempDir(), log)
	require.NoError(t, err)

	reg := registry.New()
	f := &fixture{
		store: store,
		tasks: enginetest.NewTasks(),
		queue: queue.NewMemoryQueue(log),
	}
	f.eng = engine.New(engine.Config{
		Collection: "testdata",
		Worker:     "worker-1",
		RetryAfter: time.Minute,
	}, reg, f.tasks, enginetest.NewDeps(), enginetest.NewBlobs(), store, f.queue, log)

	require.NoError(t, RegisterTasks(reg, f.eng))
	return f
}

// runQueued executes queued tasks until the queues settle
func (f *fixture) runQueued(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		msg, err := f.queue.Dequeue(ctx, f.eng.QueueKeys(), 0)
		require.NoError(t, err)
		if msg == nil {
			return
		}
		require.NoError(t, f.eng.ExecuteTask(ctx, msg.TaskID))
	}
	t.Fatal("queue did not settle")
}

func (f *fixture) addContent(t *testing.T, content string) *models.Blob {
	t.Helper()
	blob, err := f.eng.CreateBlob(context.Background(), strings.NewReader(content))
	require.NoError(t, err)
	return blob
}

// damage rewrites the stored object so its bytes no longer match the hash
func (f *fixture) damage(t *testing.T, hash string) {
	t.Helper()
	path := f.store.Path(hash)
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("corrupted"), 0o644))
}

func (f *fixture) readJSON(t *testing.T, hash string, out any) {
	t.Helper()
	r, err := f.eng.OpenBlob(context.Background(), hash)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, json.NewDecoder(r).Decode(out))
}

func TestSniffContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blob := f.addContent(t, "plain text document")
	task, err := f.eng.Laterz(ctx, "sniff_content", []any{blob.Hash()})
	require.NoError(t, err)
	f.runQueued(t)

	got, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, blob.Hash(), *got.BlobArg)
	require.NotNil(t, got.Result)

	var report contentReport
	f.readJSON(t, *got.Result, &report)
	assert.Equal(t, blob.Hash(), report.Hash)
	assert.Equal(t, int64(19), report.Size)
	assert.Equal(t, "text/plain", report.MimeType)
	assert.Equal(t, "utf-8", report.MimeEncoding)
}

func TestSniffContentDetectsDamage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blob := f.addContent(t, "original bytes")
	f.damage(t, blob.Hash())

	task, err := f.eng.Laterz(ctx, "sniff_content", []any{blob.Hash()})
	require.NoError(t, err)
	f.runQueued(t)

	got, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBroken, got.Status)
	assert.Equal(t, ReasonContentMismatch, got.BrokenReason)
}

func TestSniffContentRejectsBadArgs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.eng.Laterz(ctx, "sniff_content", nil)
	require.NoError(t, err)
	f.runQueued(t)

	got, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Contains(t, got.Error, "content hash")
}

func TestManifestWiresSniffDependency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blob := f.addContent(t, "manifest me")
	task, err := f.eng.Laterz(ctx, "manifest", []any{blob.Hash()})
	require.NoError(t, err)
	f.runQueued(t)

	got, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, got.Status)
	require.NotNil(t, got.Result)

	var doc manifestDoc
	f.readJSON(t, *got.Result, &doc)
	assert.Equal(t, blob.Hash(), doc.Hashes["sha3_256"])
	assert.Equal(t, blob.SHA256, doc.Hashes["sha256"])
	assert.Equal(t, blob.MD5, doc.Hashes["md5"])
	require.NotNil(t, doc.Content)
	assert.Equal(t, "text/plain", doc.Content.MimeType)
	assert.Empty(t, doc.ContentBroken)
}

func TestManifestRecordsBrokenSniff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blob := f.addContent(t, "soon to be damaged")
	f.damage(t, blob.Hash())

	task, err := f.eng.Laterz(ctx, "manifest", []any{blob.Hash()})
	require.NoError(t, err)
	f.runQueued(t)

	got, err := f.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, got.Status)
	require.NotNil(t, got.Result)

	var doc manifestDoc
	f.readJSON(t, *got.Result, &doc)
	assert.Nil(t, doc.Content)
	assert.Equal(t, ReasonContentMismatch, doc.ContentBroken)
}

func TestManifestJSONRoundtrip(t *testing.T) {
	f := newFixture(t)
	blob := f.addContent(t, "roundtrip")

	r, err := f.eng.OpenBlob(context.Background(), blob.Hash())
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", string(content))
}
