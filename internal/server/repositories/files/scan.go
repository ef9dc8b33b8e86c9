package files

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/dmitrijs2005/genevault/internal/cryptox"
	"github.com/dmitrijs2005/genevault/internal/server/models"
)

const columns = `id, owner_id, filename, content_type, blob_handle, wrapped_key, nonce, auth_tag, size, hash, compression, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row selected with columns. decodeTime converts the
// created_at destination into a time.
func scanRecord(s scanner, createdAt any, decodeTime func(rec *models.FileRecord)) (*models.FileRecord, error) {
	var (
		rec models.FileRecord
		wk  string
	)
	err := s.Scan(&rec.ID, &rec.OwnerID, &rec.Filename, &rec.ContentType, &rec.BlobHandle, &wk,
		&rec.Nonce, &rec.AuthTag, &rec.Size, &rec.Hash, &rec.Compression, createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	rec.WrappedKey, err = cryptox.ParseWrappedKey(wk)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", rec.ID, err)
	}
	decodeTime(&rec)
	return &rec, nil
}

func checkOneAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
