package blobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"k8s.io/klog/v2"
)

type ModelServer struct {
	// BlobserverURL is the base URL to the blobserver, typically http://blobserver
	BlobserverURL *url.URL

	// HTTPClient is used for requests; http.DefaultClient if nil.
	HTTPClient *http.Client
}

var _ BlobReader = &ModelServer{}

func (l *ModelServer) Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error) {
	log := klog.FromContext(ctx)

	url := l.BlobserverURL.JoinPath(info.Hash).String()
	log.Info("downloading from url", "url", url)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpClient := l.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}

	if resp.StatusCode != 200 {
		resp.Body.Close()
		if resp.StatusCode == 404 {
			return nil, fmt.Errorf("blob %q not found: %w", info.Hash, os.ErrNotExist)
		}
		return nil, fmt.Errorf("unexpected status downloading from %q: %v", url, resp.Status)
	}
	return resp.Body, nil
}
