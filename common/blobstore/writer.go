package blobstore

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"

	"golang.org/x/crypto/sha3"
)

// sniffLen is how many leading bytes feed the content-type sniffer.
const sniffLen = 512

// Digest holds the identity and sniffed metadata of a finished write.
type Digest struct {
	SHA3_256 string
	SHA256   string
	SHA1     string
	MD5      string
	Size     int64

	// Sniffed content type of the leading bytes
	MimeType     string
	MimeEncoding string
	Magic        string
}

// Writer computes size and all content hashes while the bytes stream through.
type Writer struct {
	hashes map[string]hash.Hash
	size   int64
	head   []byte
}

// NewWriter creates a hashing writer
func NewWriter() *Writer {
	return &Writer{
		hashes: map[string]hash.Hash{
			"md5":      md5.New(),
			"sha1":     sha1.New(),
			"sha256":   sha256.New(),
			"sha3_256": sha3.New256(),
		},
		head: make([]byte, 0, sniffLen),
	}
}

// Write updates all hashes and the sniff buffer
func (w *Writer) Write(p []byte) (int, error) {
	for _, h := range w.hashes {
		h.Write(p)
	}
	if len(w.head) < sniffLen {
		take := sniffLen - len(w.head)
		if take > len(p) {
			take = len(p)
		}
		w.head = append(w.head, p[:take]...)
	}
	w.size += int64(len(p))
	return len(p), nil
}

// Finish returns the accumulated digest
func (w *Writer) Finish() *Digest {
	d := &Digest{
		SHA3_256: hex.EncodeToString(w.hashes["sha3_256"].Sum(nil)),
		SHA256:   hex.EncodeToString(w.hashes["sha256"].Sum(nil)),
		SHA1:     hex.EncodeToString(w.hashes["sha1"].Sum(nil)),
		MD5:      hex.EncodeToString(w.hashes["md5"].Sum(nil)),
		Size:     w.size,
	}

	sniffed := http.DetectContentType(w.head)
	d.Magic = sniffed
	d.MimeType, d.MimeEncoding = splitContentType(sniffed)
	return d
}

// splitContentType splits "text/plain; charset=utf-8" into type and encoding.
func splitContentType(ct string) (mimeType, encoding string) {
	parts := strings.SplitN(ct, ";", 2)
	mimeType = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		param := strings.TrimSpace(parts[1])
		if strings.HasPrefix(param, "charset=") {
			encoding = strings.TrimPrefix(param, "charset=")
		}
	}
	return mimeType, encoding
}
