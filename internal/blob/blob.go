// Package blob is the single entry point to object storage. Callers depend on
// Store and obtain one from Open; the backends live under internal/infra/blob.
package blob

import (
	"context"
	"fmt"
	"strings"

	"assetcore/internal/blob/core"
	"assetcore/internal/infra/blob/fs"
	"assetcore/internal/infra/blob/memory"
	"assetcore/internal/infra/blob/s3"
)

type (
	Store            = core.Store
	Info             = core.Info
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Driver           = core.Driver
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// S3Config configures the s3 driver.
type S3Config = s3.Config

// Config selects and configures a driver. An empty Driver means memory.
type Config struct {
	Driver string   `koanf:"driver"`
	Root   string   `koanf:"root"`
	S3     S3Config `koanf:"s3"`
}

// Open constructs the Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(cfg.Driver))) {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverFilesystem:
		return fs.New(cfg.Root)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store { return memory.New() }
