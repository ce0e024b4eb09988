package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/docpipe/docpipe/common/db"
	"github.com/docpipe/docpipe/common/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const blobColumns = `sha3_256, sha256, sha1, md5, size, magic, mime_type, mime_encoding, date_created, date_modified`

// BlobRepository handles database operations for blob metadata rows
type BlobRepository struct {
	db *db.DB
}

// NewBlobRepository creates a new blob repository
func NewBlobRepository(database *db.DB) *BlobRepository {
	return &BlobRepository{db: database}
}

// GetOrCreate inserts a blob row, or leaves the existing row for the same
// content hash untouched. Returns the stored row and whether it was created.
func (r *BlobRepository) GetOrCreate(ctx context.Context, blob *models.Blob) (*models.Blob, bool, error) {
	query := `
		INSERT INTO blob (sha3_256, sha256, sha1, md5, size, magic, mime_type, mime_encoding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sha3_256) DO NOTHING
		RETURNING ` + blobColumns

	stored := &models.Blob{}
	err := r.db.QueryRow(
		ctx,
		query,
		blob.SHA3_256,
		blob.SHA256,
		blob.SHA1,
		blob.MD5,
		blob.Size,
		blob.Magic,
		blob.MimeType,
		blob.MimeEncoding,
	).Scan(
		&stored.SHA3_256,
		&stored.SHA256,
		&stored.SHA1,
		&stored.MD5,
		&stored.Size,
		&stored.Magic,
		&stored.MimeType,
		&stored.MimeEncoding,
		&stored.DateCreated,
		&stored.DateModified,
	)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create blob: %w", err)
	}

	// Conflict: the row already exists, read it back
	existing, err := r.GetByHash(ctx, blob.SHA3_256)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByHash retrieves a blob row by its primary content hash
func (r *BlobRepository) GetByHash(ctx context.Context, hash string) (*models.Blob, error) {
	query := `SELECT ` + blobColumns + ` FROM blob WHERE sha3_256 = $1`

	blob := &models.Blob{}
	err := r.db.QueryRow(ctx, query, hash).Scan(
		&blob.SHA3_256,
		&blob.SHA256,
		&blob.SHA1,
		&blob.MD5,
		&blob.Size,
		&blob.Magic,
		&blob.MimeType,
		&blob.MimeEncoding,
		&blob.DateCreated,
		&blob.DateModified,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("blob %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}

	return blob, nil
}

// Exists reports whether a blob row exists for the hash
func (r *BlobRepository) Exists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blob WHERE sha3_256 = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return exists, nil
}
