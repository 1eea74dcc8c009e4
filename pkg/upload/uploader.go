package upload

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/pgexport/pkg/errors"
)

const defaultConcurrency = 5

// Uploader copies local files into a target.
type Uploader struct {
	store       ObjectStore
	target      Target
	concurrency int
	logger      *zap.Logger
}

// NewUploader uploads through store into target. concurrency bounds the
// number of files in flight; zero means 5.
func NewUploader(store ObjectStore, target Target, concurrency int, logger *zap.Logger) *Uploader {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		store:       store,
		target:      target,
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "uploader"), zap.String("target", target.String())),
	}
}

// UploadFiles uploads every file under its base name and returns the first
// error.
func (u *Uploader) UploadFiles(ctx context.Context, files []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for _, file := range files {
		g.Go(func() error {
			return u.uploadFile(gctx, file)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	u.logger.Info("Uploaded files", zap.Int("count", len(files)))
	return nil
}

func (u *Uploader) uploadFile(ctx context.Context, file string) error {
	start := time.Now()
	name := filepath.Base(file)
	key := u.target.Key(name)

	f, err := os.Open(file) //nolint:gosec // G304
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open file for upload").
			WithDetail("path", file)
	}
	defer f.Close()

	if err := u.store.Put(ctx, key, f, contentType(name)); err != nil {
		return err
	}

	u.logger.Debug("file uploaded",
		zap.String("key", key),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Close releases the underlying store.
func (u *Uploader) Close() error {
	return u.store.Close()
}
