package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/dagsync/pkg/config"
	"github.com/ethpandaops/dagsync/pkg/fsutil"
	"github.com/spf13/afero"
)

// Compile-time interface check.
var _ ObjectStore = (*localStore)(nil)

// localStore writes objects to {root}/{bucket}/{key}.
type localStore struct {
	fs  afero.Fs
	dir string
}

// NewLocalOpener returns a StoreOpener that mirrors buckets as directories
// under cfg.Root.
func NewLocalOpener(fs afero.Fs, cfg *config.LocalConfig) StoreOpener {
	return func(_ context.Context, bucket string) (ObjectStore, error) {
		if cfg.Root == "" {
			return nil, fmt.Errorf("local store root is not configured")
		}

		dir := filepath.Join(cfg.Root, bucket)
		if err := fs.MkdirAll(dir, fsutil.DirPerm); err != nil {
			return nil, fmt.Errorf("creating bucket directory %s: %w", dir, err)
		}

		return &localStore{fs: fs, dir: dir}, nil
	}
}

// Put writes body to the file backing key, replacing any previous content.
func (s *localStore) Put(
	_ context.Context, key string, body io.ReadSeeker, _ int64, _ string,
) error {
	p := filepath.Join(s.dir, filepath.FromSlash(key))

	rel, err := filepath.Rel(s.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("key %q escapes bucket directory", key)
	}

	if err := fsutil.MkdirParent(s.fs, p); err != nil {
		return err
	}

	return fsutil.WriteFrom(s.fs, p, body, 0o644)
}
