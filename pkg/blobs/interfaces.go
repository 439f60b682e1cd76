package blobs

import (
	"context"
	"io"
)

type BlobReader interface {
	// Open streams the blob. If no such object exists, Open should return an error
	// for which errors.Is(err, os.ErrNotExist) is true.
	Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error)
}

type Blobstore interface {
	BlobReader
	// Upload stores the contents of src, using the given hash as the object key.
	// If an object with the same hash already exists, Upload should do nothing and return no error.
	Upload(ctx context.Context, src io.Reader, info BlobInfo) error
}

// BlobInfo identifies a weights blob by the hex sha256 of its contents.
type BlobInfo struct {
	Hash string
}
