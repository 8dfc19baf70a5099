// Package blob selects the evidence document archive backend.
package blob

import (
	"context"
	"fmt"

	"seedlot/internal/blob/core"
	fsblob "seedlot/internal/infra/blob/fs"
	memblob "seedlot/internal/infra/blob/memory"
	s3blob "seedlot/internal/infra/blob/s3"
)

// Store aliases the archive contract so callers need a single import.
type Store = core.Store

// Config selects and parameterizes a driver.
type Config struct {
	Driver core.Driver
	FSRoot string
	S3     s3blob.Config
}

// Open returns the configured store. An empty driver selects the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", core.DriverFilesystem:
		return fsblob.New(cfg.FSRoot)
	case core.DriverS3:
		return s3blob.New(ctx, cfg.S3)
	case core.DriverMemory:
		return memblob.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
