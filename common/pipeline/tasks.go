package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docpipe/docpipe/common/blobstore"
	"github.com/docpipe/docpipe/common/engine"
	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/registry"
)

// Reason codes raised by the built-in tasks.
const (
	// ReasonContentMismatch - stored bytes no longer match the recorded
	// hash; the object on disk is damaged or was tampered with
	ReasonContentMismatch = "content_mismatch"
)

// Tasks holds the built-in document tasks.
type Tasks struct {
	eng *engine.Engine
}

// RegisterTasks registers the built-in document tasks on the registry
func RegisterTasks(reg *registry.Registry, eng *engine.Engine) error {
	t := &Tasks{eng: eng}

	defs := []registry.Definition{
		{Name: "sniff_content", Priority: 5, Version: 1, Handler: t.SniffContent},
		{Name: "manifest", Priority: 3, Version: 1, Handler: t.Manifest},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// contentReport is the JSON result of sniff_content.
type contentReport struct {
	Hash         string `json:"hash"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	MimeEncoding string `json:"mime_encoding,omitempty"`
	Magic        string `json:"magic"`
}

// SniffContent re-reads a stored blob, verifies the bytes still match the
// recorded hash and emits a JSON report of the sniffed content type.
func (t *Tasks) SniffContent(ctx context.Context, call *registry.Call) (*models.Blob, error) {
	hash, err := blobArg(call)
	if err != nil {
		return nil, err
	}

	r, err := t.eng.OpenBlob(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to open content: %w", err)
	}
	defer r.Close()

	w := blobstore.NewWriter()
	if _, err := io.Copy(w, r); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	digest := w.Finish()

	if digest.SHA3_256 != hash {
		call.Logf("stored bytes hash to %s, expected %s", digest.SHA3_256, hash)
		return nil, registry.Broken(ReasonContentMismatch, nil)
	}

	report := contentReport{
		Hash:         hash,
		Size:         digest.Size,
		MimeType:     digest.MimeType,
		MimeEncoding: digest.MimeEncoding,
		Magic:        digest.Magic,
	}
	data, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	return t.eng.CreateBlob(ctx, strings.NewReader(string(data)))
}

// manifestDoc is the JSON result of manifest.
type manifestDoc struct {
	Hashes map[string]string `json:"hashes"`
	Size   int64             `json:"size"`

	Content *contentReport `json:"content,omitempty"`

	// Set when content sniffing finished broken
	ContentBroken string `json:"content_broken,omitempty"`
}

// Manifest produces one JSON document describing a stored blob: all
// recorded hashes plus the sniff report, wired in as a dependency.
func (t *Tasks) Manifest(ctx context.Context, call *registry.Call) (*models.Blob, error) {
	hash, err := blobArg(call)
	if err != nil {
		return nil, err
	}

	blob, err := t.eng.Blobs().GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	doc := manifestDoc{
		Hashes: map[string]string{
			"sha3_256": blob.SHA3_256,
			"sha256":   blob.SHA256,
			"sha1":     blob.SHA1,
			"md5":      blob.MD5,
		},
		Size: blob.Size,
	}

	res, err := call.Deps.Get("sniff", "sniff_content", hash)
	if err != nil {
		return nil, err
	}
	switch {
	case res.Broken != nil:
		doc.ContentBroken = res.Broken.Reason
	case res.Blob != nil:
		r, err := t.eng.OpenBlob(ctx, res.Blob.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to open sniff report: %w", err)
		}
		defer r.Close()
		var report contentReport
		if err := json.NewDecoder(r).Decode(&report); err != nil {
			return nil, fmt.Errorf("failed to decode sniff report: %w", err)
		}
		doc.Content = &report
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return t.eng.CreateBlob(ctx, strings.NewReader(string(data)))
}

// blobArg returns the task's first argument as a content hash
func blobArg(call *registry.Call) (string, error) {
	if len(call.Args) == 0 {
		return "", fmt.Errorf("task %s needs a content hash argument", call.Task.Func)
	}
	hash, ok := call.Args[0].(string)
	if !ok || hash == "" {
		return "", fmt.Errorf("task %s: first argument is not a content hash", call.Task.Func)
	}
	return hash, nil
}
