package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

type GCSBlobstore struct {
	Bucket string
}

var _ Blobstore = (*GCSBlobstore)(nil)

func (j *GCSBlobstore) Upload(ctx context.Context, src io.Reader, info BlobInfo) error {
	log := klog.FromContext(ctx)

	objectKey := info.Hash
	gcsURL := "gs://" + j.Bucket + "/" + objectKey

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	obj := client.Bucket(j.Bucket).Object(objectKey)
	if _, err := obj.Attrs(ctx); err == nil {
		log.Info("object already exists in GCS", "url", gcsURL)
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("getting object attributes for %q: %w", gcsURL, err)
	}

	log.Info("uploading blob to GCS", "destination", gcsURL)

	startedAt := time.Now()
	w := obj.NewWriter(ctx)
	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}

	log.Info("uploaded blob to GCS", "url", gcsURL, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

func (j *GCSBlobstore) Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error) {
	log := klog.FromContext(ctx)

	objectKey := info.Hash
	gcsURL := "gs://" + j.Bucket + "/" + objectKey

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}

	log.Info("reading blob from GCS", "source", gcsURL)

	r, err := client.Bucket(j.Bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		client.Close()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("blob %q not found: %w", gcsURL, os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	return &gcsReader{Reader: r, client: client}, nil
}

// gcsReader closes the storage client along with the object reader.
type gcsReader struct {
	*storage.Reader
	client *storage.Client
}

func (r *gcsReader) Close() error {
	err := r.Reader.Close()
	if closeErr := r.client.Close(); err == nil {
		err = closeErr
	}
	return err
}
