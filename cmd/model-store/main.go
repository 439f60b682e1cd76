package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/examples/AI/graphexec/pkg/blobs"
	"k8s.io/klog/v2"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := ":8080"
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		// We expect CACHE_DIR to be set when running on kubernetes, but default sensibly for local dev
		cacheDir = "~/.cache/graphexec/blobs"
	}
	cacheBucket := os.Getenv("CACHE_BUCKET")
	klog.InitFlags(nil)
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	flag.StringVar(&cacheBucket, "cache-bucket", cacheBucket, "GCS bucket (gs://<bucketName>) holding weights blobs")
	flag.Parse()

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	cache := &blobs.Cache{Dir: cacheDir}
	if cacheBucket != "" {
		if !strings.HasPrefix(cacheBucket, "gs://") {
			return fmt.Errorf("CACHE_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
		}
		cacheBucket = strings.TrimPrefix(cacheBucket, "gs://")
		log.Info("using GCS cache", "bucket", cacheBucket)
		cache.Source = &blobs.GCSBlobstore{Bucket: cacheBucket}
	} else {
		log.Info("no CACHE_BUCKET set, serving only blobs already in the cache directory", "dir", cacheDir)
	}

	log.Info("serving weights blobs", "listen", listen)
	if err := http.ListenAndServe(listen, &blobs.Handler{Reader: cache}); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}
	return nil
}
