package sink

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beam-cloud/solid/pkg/common"
)

// DirDestination writes targets as files below a root directory. An empty
// root writes targets at the paths given.
type DirDestination struct {
	root string
}

func Dir(root string) (*DirDestination, error) {
	if root == "" {
		return &DirDestination{}, nil
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &DirDestination{root: abs}, nil
}

func (d *DirDestination) path(target string) (string, error) {
	if d.root == "" {
		return filepath.Abs(target)
	}

	path, err := filepath.Abs(filepath.Join(d.root, target))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(path, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s cannot be extracted outside of chroot (%s)", common.ErrInvalidTarget, target, d.root)
	}
	return path, nil
}

// Open creates or truncates the target file and any missing parents.
func (d *DirDestination) Open(ctx context.Context, target string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := d.path(target)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	return os.Create(path)
}

func (d *DirDestination) SetMetadata(target string, mode fs.FileMode, modTime time.Time) error {
	path, err := d.path(target)
	if err != nil {
		return err
	}

	if mode != 0 {
		if err := os.Chmod(path, mode.Perm()); err != nil {
			return err
		}
	}

	if !modTime.IsZero() {
		return os.Chtimes(path, time.Now(), modTime)
	}
	return nil
}
