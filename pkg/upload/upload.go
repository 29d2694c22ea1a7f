package upload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/ethpandaops/dagsync/pkg/collector"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ObjectStore writes objects into a single bucket.
type ObjectStore interface {
	// Put creates or overwrites the object at key with the contents of body.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
}

// StoreOpener returns an ObjectStore for the named bucket.
type StoreOpener func(ctx context.Context, bucket string) (ObjectStore, error)

// Options controls how staged files map onto object keys.
type Options struct {
	// Prefix is the folder inside the bucket that receives the files.
	Prefix string
}

// Uploader uploads staged DAG files to a bucket.
type Uploader struct {
	log  logrus.FieldLogger
	fs   afero.Fs
	open StoreOpener
	opts Options
}

// New creates an Uploader that reads staged files from fs and obtains bucket
// handles through open.
func New(log logrus.FieldLogger, fs afero.Fs, open StoreOpener, opts Options) *Uploader {
	return &Uploader{
		log:  log.WithField("component", "uploader"),
		fs:   fs,
		open: open,
		opts: opts,
	}
}

// Upload puts every staged file into bucket under Prefix plus the file's
// path relative to the staging root. A failed file is logged and skipped.
// Upload takes ownership of staging and removes it before returning. The
// returned error is only set when no upload could be attempted.
func (u *Uploader) Upload(ctx context.Context, staging *collector.Staging, bucket string) error {
	defer func() {
		if err := staging.Cleanup(); err != nil {
			u.log.WithError(err).Warn("Failed to remove staging directory")
		}
	}()

	if len(staging.Files) == 0 {
		u.log.Info("No DAGs found to upload")

		return nil
	}

	store, err := u.open(ctx, bucket)
	if err != nil {
		return fmt.Errorf("opening bucket %s: %w", bucket, err)
	}

	var (
		uploaded, failed int
		size             int64
	)

	for _, file := range staging.Files {
		key, n, err := u.uploadFile(ctx, store, staging, file)
		if err != nil {
			u.log.WithError(err).WithFields(logrus.Fields{
				"file":   file,
				"bucket": bucket,
				"key":    key,
			}).Error("Error uploading file")

			failed++

			continue
		}

		u.log.WithFields(logrus.Fields{
			"key":  key,
			"size": units.HumanSize(float64(n)),
		}).Info("Uploaded")

		uploaded++
		size += n
	}

	u.log.WithFields(logrus.Fields{
		"bucket":   bucket,
		"prefix":   u.opts.Prefix,
		"uploaded": uploaded,
		"failed":   failed,
		"size":     units.HumanSize(float64(size)),
	}).Info("Upload completed")

	return nil
}

// uploadFile uploads a single staged file and returns its key and size.
func (u *Uploader) uploadFile(
	ctx context.Context, store ObjectStore, staging *collector.Staging, file string,
) (string, int64, error) {
	rel, err := staging.Rel(file)
	if err != nil {
		return "", 0, err
	}

	key := ObjectKey(u.opts.Prefix, rel)

	f, err := u.fs.Open(file)
	if err != nil {
		return key, 0, fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return key, 0, fmt.Errorf("stat file: %w", err)
	}

	contentType, err := detectContentType(file, f)
	if err != nil {
		return key, 0, err
	}

	u.log.WithFields(logrus.Fields{
		"key":          key,
		"content_type": contentType,
	}).Debug("Uploading file")

	if err := store.Put(ctx, key, f, info.Size(), contentType); err != nil {
		return key, 0, err
	}

	return key, info.Size(), nil
}

// ObjectKey joins prefix and a slash-separated relative path into an object
// key. The result never starts with a slash.
func ObjectKey(prefix, rel string) string {
	key := path.Join(prefix, rel)

	for len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}

	return key
}

// detectContentType returns a MIME type based on the file extension, falling
// back to sniffing the first bytes of body. body is rewound afterwards.
func detectContentType(name string, body io.ReadSeeker) (string, error) {
	if ext := filepath.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct, nil
		}
	}

	mt, err := mimetype.DetectReader(body)
	if err != nil {
		return "", fmt.Errorf("detecting content type: %w", err)
	}

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding file: %w", err)
	}

	if mt == nil {
		return "application/octet-stream", nil
	}

	return mt.String(), nil
}
