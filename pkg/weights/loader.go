package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/blobs"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
	"k8s.io/klog/v2"
)

type Loader struct {
	// Reader is the interface to fetch blobs
	Reader blobs.BlobReader

	// MaxDownloadAttempts is the number of times to attempt a download before failing
	MaxDownloadAttempts int

	// RetryDelay is the pause between attempts; 5s if zero.
	RetryDelay time.Duration

	// CacheDir, if set, keeps downloaded blobs on disk under their hash.
	CacheDir string
}

// Load fetches the blob, checks it against info.Hash and decodes it.
func (l *Loader) Load(ctx context.Context, alloc tensor.Allocator, info blobs.BlobInfo) (map[string][]*tensor.Tensor, error) {
	b, err := l.fetch(ctx, info)
	if err != nil {
		return nil, err
	}
	if got := Hash(b); got != info.Hash {
		return nil, status.Errorf(codes.DataLoss, "weights blob has hash %s, expected %s", got, info.Hash)
	}
	return Decode(alloc, b)
}

func (l *Loader) fetch(ctx context.Context, info blobs.BlobInfo) ([]byte, error) {
	log := klog.FromContext(ctx)

	var cachePath string
	if l.CacheDir != "" {
		cachePath = filepath.Join(l.CacheDir, info.Hash)
		if b, err := os.ReadFile(cachePath); err == nil && Hash(b) == info.Hash {
			log.V(2).Info("using cached weights", "path", cachePath)
			return b, nil
		}
	}

	delay := l.RetryDelay
	if delay == 0 {
		delay = 5 * time.Second
	}

	attempt := 0
	for {
		attempt++

		b, err := l.download(ctx, info, cachePath)
		if err == nil {
			return b, nil
		}

		if errors.Is(err, os.ErrNotExist) {
			return nil, status.Errorf(codes.NotFound, "weights blob %q: %v", info.Hash, err)
		}
		if attempt >= l.MaxDownloadAttempts {
			return nil, status.Errorf(codes.Unavailable, "downloading weights blob %q: %v", info.Hash, err)
		}

		log.Error(err, "downloading blob, will retry", "info", info, "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		case <-time.After(delay):
		}
	}
}

func (l *Loader) download(ctx context.Context, info blobs.BlobInfo, cachePath string) ([]byte, error) {
	if cachePath != "" {
		if _, err := blobs.Download(ctx, l.Reader, info, cachePath); err != nil {
			return nil, err
		}
		return os.ReadFile(cachePath)
	}

	r, err := l.Reader.Open(ctx, info)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return b, nil
}
