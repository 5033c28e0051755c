package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/23skdu/attnscope/internal/artifact"
)

// ErrArtifactNotFound is returned by a Source when the named artifact does
// not exist.
var ErrArtifactNotFound = artifact.ErrNotFound

// Source opens artifacts by name.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource reads artifacts from a local directory.
type DirSource struct {
	Root string
}

// NewDirSource resolves root with artifact.DataDir.
func NewDirSource(root string) (*DirSource, error) {
	dir, err := artifact.DataDir(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	return &DirSource{Root: dir}, nil
}

func (d *DirSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, _, ok := artifact.Describe(name); !ok {
		return nil, fmt.Errorf("open %q: not an artifact name", name)
	}
	f, err := os.Open(filepath.Join(d.Root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s in %s: %w", name, d.Root, ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func (d *DirSource) String() string { return "dir:" + d.Root }
