// Package object provides the blob store used for the cross-run cache
// documents. An absent object is a normal, non-error condition for every
// caller; drivers signal it with ErrNotFound.
package object

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "ensenbot/pkg/logx"
)

// ErrNotFound reports that no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Store is the minimal blob API used by the cache layer.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config configures the object store.
//
// Driver values:
//   - "file": local directory, one file per key
//   - "s3": S3 bucket (optionally under a key prefix)
type Config struct {
	Driver string
	Path   string // file driver: root directory
	Bucket string // s3 driver
	Region string // s3 driver
	Prefix string // s3 driver: key prefix, no leading slash
	// Timeout bounds each store call. 0 means no per-call deadline beyond
	// the caller's context.
	Timeout time.Duration
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "file":
		return openFile(cfg, log)
	case "s3":
		return openS3(ctx, cfg, log)
	default:
		return nil, errors.New("unknown object store driver: " + cfg.Driver)
	}
}
