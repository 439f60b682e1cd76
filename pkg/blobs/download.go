package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
)

// Download copies a blob to destinationPath, replacing the file atomically.
func Download(ctx context.Context, reader BlobReader, info BlobInfo, destinationPath string) (int64, error) {
	log := klog.FromContext(ctx)

	startedAt := time.Now()
	src, err := reader.Open(ctx, info)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	n, err := writeToFile(ctx, src, destinationPath, nil)
	if err != nil {
		return n, err
	}

	log.Info("downloaded blob", "hash", info.Hash, "destination", destinationPath, "bytes", n, "duration", time.Since(startedAt))
	return n, nil
}

// writeToFile copies src to destinationPath through a temp file.
// If verify is set it must pass before the file is renamed into place.
func writeToFile(ctx context.Context, src io.Reader, destinationPath string, verify func() error) (int64, error) {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destinationPath)
	tempFile, err := os.CreateTemp(dir, "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, fmt.Errorf("downloading from upstream source: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if verify != nil {
		if err := verify(); err != nil {
			return n, err
		}
	}

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return n, nil
}
