package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"seedlot/internal/blob/core"
)

// DocumentPrefix is the blob key prefix for archived source documents.
const DocumentPrefix = "evidence/"

// ArchiveDocument stores the bytes read from r under a content-addressed key.
// Identical documents share one blob; an existing blob is never rewritten.
func ArchiveDocument(ctx context.Context, store core.Store, r io.Reader, contentType string) (core.Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("read document: %w", err)
	}
	sum := sha256.Sum256(data)
	key := DocumentPrefix + hex.EncodeToString(sum[:])
	if info, err := store.Head(ctx, key); err == nil {
		return info, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Info{}, fmt.Errorf("head %s: %w", key, err)
	}
	info, err := store.Put(ctx, key, bytes.NewReader(data), core.PutOptions{ContentType: contentType})
	if errors.Is(err, core.ErrExists) {
		return store.Head(ctx, key)
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("archive %s: %w", key, err)
	}
	return info, nil
}
