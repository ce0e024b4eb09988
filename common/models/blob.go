package models

import "time"

// Blob is an immutable content-addressed binary object.
//
// Every input file and every intermediary result (converted files, extracted
// children, JSON analysis output) is stored as a Blob. The primary key is the
// sha3-256 of the content, so identical bytes always collapse into one row
// and one stored object.
type Blob struct {
	// Primary content hash (primary key)
	SHA3_256 string `db:"sha3_256" json:"sha3_256"`

	// Secondary hashes, kept for compatibility and search
	SHA256 string `db:"sha256" json:"sha256"`
	SHA1   string `db:"sha1" json:"sha1"`
	MD5    string `db:"md5" json:"md5"`

	// Content size in bytes
	Size int64 `db:"size" json:"size"`

	// Raw output of the content sniffer
	Magic string `db:"magic" json:"magic"`

	// Detected media type
	MimeType string `db:"mime_type" json:"mime_type"`

	// Detected encoding, for text content
	MimeEncoding string `db:"mime_encoding" json:"mime_encoding"`

	DateCreated  time.Time `db:"date_created" json:"date_created"`
	DateModified time.Time `db:"date_modified" json:"date_modified"`
}

// Hash returns the blob identity.
func (b *Blob) Hash() string {
	return b.SHA3_256
}

// ContentType returns a web-friendly content type string.
func (b *Blob) ContentType() string {
	if b.MimeEncoding != "" && len(b.MimeType) > 5 && b.MimeType[:5] == "text/" {
		return b.MimeType + "; charset=" + b.MimeEncoding
	}
	return b.MimeType
}
