// Package collector stages the DAG files of a source tree into a temporary
// directory, leaving out files that match the configured ignore patterns.
package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/ethpandaops/dagsync/pkg/fsutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// stagingPrefix names the temporary directories created by Collect.
const stagingPrefix = "dagsync-"

// Options controls which files are staged.
type Options struct {
	// IgnorePatterns are glob patterns matched against a file's base name.
	IgnorePatterns []string
	// Extensions lists the extensions (with dot) of files that are staged.
	Extensions []string
	// TempDir is where the staging directory is created. Empty uses the
	// host default.
	TempDir string
}

// Staging is a filtered copy of a source tree.
type Staging struct {
	// Root is the staging directory.
	Root string
	// Files are the staged files, in walk order.
	Files []string

	fs afero.Fs
}

// Cleanup removes the staging directory. It is safe to call more than once.
func (s *Staging) Cleanup() error {
	if s == nil || s.Root == "" {
		return nil
	}

	if err := s.fs.RemoveAll(s.Root); err != nil {
		return fmt.Errorf("removing staging directory %s: %w", s.Root, err)
	}

	return nil
}

// Rel returns the path of a staged file relative to Root, using forward
// slashes.
func (s *Staging) Rel(path string) (string, error) {
	rel, err := filepath.Rel(s.Root, path)
	if err != nil {
		return "", fmt.Errorf("computing relative path: %w", err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside staging directory %s", path, s.Root)
	}

	return filepath.ToSlash(rel), nil
}

// Collector copies matching files from a source tree into a staging directory.
type Collector struct {
	log  logrus.FieldLogger
	fs   afero.Fs
	opts Options
}

// New creates a Collector operating on fs.
func New(log logrus.FieldLogger, fs afero.Fs, opts Options) *Collector {
	return &Collector{
		log:  log.WithField("component", "collector"),
		fs:   fs,
		opts: opts,
	}
}

// Collect walks srcDir and stages every regular file that carries one of the
// configured extensions and matches none of the ignore patterns. The caller
// owns the returned Staging and must call Cleanup. On error nothing is left
// on disk.
func (c *Collector) Collect(_ context.Context, srcDir string) (*Staging, error) {
	root, err := afero.TempDir(c.fs, c.opts.TempDir, stagingPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	staging := &Staging{Root: root, fs: c.fs}

	var (
		ignored int
		size    int64
	)

	err = afero.Walk(c.fs, srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() && filepath.Clean(path) == filepath.Clean(root) {
			return filepath.SkipDir
		}

		if info.IsDir() || !fsutil.IsRegular(c.fs, path, info) {
			return nil
		}

		name := info.Name()

		if pattern, ok := c.ignoredBy(name); ok {
			c.log.WithFields(logrus.Fields{
				"file":    path,
				"pattern": pattern,
			}).Debug("File ignored by pattern")

			ignored++

			return nil
		}

		if !c.hasExtension(name) {
			return nil
		}

		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		dst := filepath.Join(root, relPath)
		if err := fsutil.CopyFile(c.fs, path, dst); err != nil {
			return fmt.Errorf("staging %s: %w", relPath, err)
		}

		staged, err := c.fs.Stat(dst)
		if err == nil {
			size += staged.Size()
		}

		staging.Files = append(staging.Files, dst)

		return nil
	})
	if err != nil {
		_ = staging.Cleanup()

		return nil, fmt.Errorf("walking source directory %s: %w", srcDir, err)
	}

	c.log.WithFields(logrus.Fields{
		"source":  srcDir,
		"staging": root,
		"files":   len(staging.Files),
		"ignored": ignored,
		"size":    units.HumanSize(float64(size)),
	}).Info("Collected DAG files")

	return staging, nil
}

// ignoredBy returns the first ignore pattern that matches name.
func (c *Collector) ignoredBy(name string) (string, bool) {
	for _, pattern := range c.opts.IgnorePatterns {
		matched, err := doublestar.Match(pattern, name)
		if err != nil {
			c.log.WithError(err).WithField("pattern", pattern).Debug("Error matching pattern")

			continue
		}

		if matched {
			return pattern, true
		}
	}

	return "", false
}

// hasExtension reports whether name ends with one of the configured
// extensions. An empty extension list accepts every file.
func (c *Collector) hasExtension(name string) bool {
	if len(c.opts.Extensions) == 0 {
		return true
	}

	ext := filepath.Ext(name)
	for _, want := range c.opts.Extensions {
		if ext == want {
			return true
		}
	}

	return false
}
