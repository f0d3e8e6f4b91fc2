package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
)

// Options selects and configures a Store implementation.
type Options struct {
	Driver      string // "sqlite3", "sqlite" or "memory"
	Path        string
	Compression string // "zstd" or "none"
}

// New opens the store described by opts, creating the database
// directory if needed.
func New(opts Options) (Store, error) {
	if opts.Driver == "memory" {
		return NewMemStore(), nil
	}
	codec, err := NewCodec(opts.Compression)
	if err != nil {
		return nil, err
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("checkpoint store: path required for driver %q", opts.Driver)
	}
	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return Open(opts.Driver, opts.Path, codec)
}
