// Package collision is the boundary to the external collision exporter.
// The DFF exporter treats collision data as an opaque blob attached to the
// first clump of a unit; producing it is someone else's job.
package collision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config mirrors the parameters the external collision exporter expects.
type Config struct {
	Name         string // unit name, used to scope the collision lookup
	InMemory     bool
	Version      int
	Collection   string
	OnlySelected bool
	MassExport   bool
}

// Exporter produces the collision blob for a unit. An empty result means
// no collidable geometry exists in scope and is not an error.
type Exporter interface {
	Export(cfg Config) ([]byte, error)
}

// Nop is an Exporter that never produces collision data.
type Nop struct{}

func (Nop) Export(Config) ([]byte, error) { return nil, nil }

// FileProvider resolves collision blobs from pre-built <name>.col sidecar
// files in a directory. A missing sidecar yields an empty result.
type FileProvider struct {
	Dir string
}

func (p FileProvider) Export(cfg Config) ([]byte, error) {
	path := filepath.Join(p.Dir, cfg.Name+".col")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading collision sidecar %s: %w", path, err)
	}
	return data, nil
}

// Blob is a fixed-content Exporter, mainly for tests.
type Blob []byte

func (b Blob) Export(Config) ([]byte, error) { return b, nil }
