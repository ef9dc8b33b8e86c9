// Package models defines the records genevault persists in its metadata store.
package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/genevault/internal/cryptox"
)

// ContentType is the declared scientific format of a stored file.
type ContentType string

const (
	ContentUnknown ContentType = ""
	ContentFASTA   ContentType = "fasta"
	ContentVCF     ContentType = "vcf"
	ContentGFF     ContentType = "gff"
)

// InferContentType maps a filename extension to a content type. Unsupported
// extensions yield ContentUnknown and false.
func InferContentType(filename string) (ContentType, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".fasta", ".fa":
		return ContentFASTA, true
	case ".vcf":
		return ContentVCF, true
	case ".gff", ".gff3":
		return ContentGFF, true
	}
	return ContentUnknown, false
}

// Ext returns the canonical file extension for t, used when staging
// plaintext for external tools.
func (t ContentType) Ext() string {
	switch t {
	case ContentFASTA:
		return ".fasta"
	case ContentVCF:
		return ".vcf"
	case ContentGFF:
		return ".gff3"
	}
	return ".bin"
}

// Compression names the transform applied to plaintext before encryption.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// FileRecord is the metadata that makes a stored blob readable. A record is
// valid only if WrappedKey unwraps to a 256-bit key and the blob referenced by
// BlobHandle decrypts under that key, Nonce and AuthTag.
type FileRecord struct {
	// ID is a random UUID, never reused even after deletion.
	ID       string
	OwnerID  string
	Filename string

	ContentType ContentType
	BlobHandle  string
	WrappedKey  cryptox.WrappedKey
	Nonce       []byte
	AuthTag     []byte

	// Size is the ciphertext length in bytes.
	Size int64
	// Hash is the hex SHA-256 of the ciphertext.
	Hash string

	Compression Compression
	CreatedAt   time.Time
}

// DeletionRecord is one append-only ledger entry.
type DeletionRecord struct {
	ID        int64
	OwnerID   string
	FileID    string
	DeletedAt time.Time
}

// DeletionQuery filters ledger listings. Zero values do not filter.
type DeletionQuery struct {
	OwnerID string
	From    time.Time
	To      time.Time
	Limit   int
}
