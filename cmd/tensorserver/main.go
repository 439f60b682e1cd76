package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	api "k8s.io/examples/AI/graphexec/api/v1alpha1"
	"k8s.io/examples/AI/graphexec/pkg/blobs"
	"k8s.io/examples/AI/graphexec/pkg/engine"
	"k8s.io/examples/AI/graphexec/pkg/engine/fallback"
	"k8s.io/examples/AI/graphexec/pkg/server"
	"k8s.io/examples/AI/graphexec/pkg/weights"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	listen := envOrDefault("LISTEN", ":9876")
	blobserver := os.Getenv("BLOBSERVER")
	weightsBucket := os.Getenv("WEIGHTS_BUCKET")
	weightsSpec := os.Getenv("WEIGHTS")
	cacheDir := os.Getenv("CACHE_DIR")
	maxSteps := 0
	downloadAttempts := 5

	klog.InitFlags(nil)
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&blobserver, "blobserver", blobserver, "base URL of the model-store serving weights blobs")
	flag.StringVar(&weightsBucket, "weights-bucket", weightsBucket, "GCS bucket (gs://<bucketName>) to read weights blobs from directly")
	flag.StringVar(&weightsSpec, "weights", weightsSpec, "weights to load, as <graph>=<sha256>[,<graph>=<sha256>...]")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "directory to keep downloaded weights blobs in")
	flag.IntVar(&maxSteps, "max-steps", maxSteps, "maximum node evaluations per request, 0 for the default")
	flag.IntVar(&downloadAttempts, "download-attempts", downloadAttempts, "attempts to download each weights blob")
	flag.Parse()

	log := klog.FromContext(ctx)

	s, err := server.New(fallback.NewRegistry(), engine.Options{MaxSteps: maxSteps})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer s.Close()

	if weightsSpec != "" {
		reader, err := weightsReader(blobserver, weightsBucket)
		if err != nil {
			return err
		}
		if cacheDir != "" {
			if err := os.MkdirAll(cacheDir, 0755); err != nil {
				return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
			}
		}
		loader := &weights.Loader{
			Reader:              reader,
			MaxDownloadAttempts: downloadAttempts,
			CacheDir:            cacheDir,
		}
		if err := loadWeights(ctx, s, loader, weightsSpec); err != nil {
			return err
		}
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", listen, err)
	}
	grpcServer := grpc.NewServer()
	api.RegisterGraphExecutorServer(grpcServer, s)
	log.Info("Starting tensorserver", "listen", listen)
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving GRPC: %w", err)
	}

	return nil
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func weightsReader(blobserver, weightsBucket string) (blobs.BlobReader, error) {
	switch {
	case blobserver != "":
		u, err := url.Parse(blobserver)
		if err != nil {
			return nil, fmt.Errorf("parsing BLOBSERVER %q: %w", blobserver, err)
		}
		return &blobs.ModelServer{BlobserverURL: u}, nil
	case weightsBucket != "":
		if !strings.HasPrefix(weightsBucket, "gs://") {
			return nil, fmt.Errorf("WEIGHTS_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
		}
		return &blobs.GCSBlobstore{Bucket: strings.TrimPrefix(weightsBucket, "gs://")}, nil
	default:
		return nil, fmt.Errorf("loading WEIGHTS requires BLOBSERVER or WEIGHTS_BUCKET")
	}
}

func loadWeights(ctx context.Context, s *server.Server, loader *weights.Loader, spec string) error {
	log := klog.FromContext(ctx)

	for _, entry := range strings.Split(spec, ",") {
		graphName, hash, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return fmt.Errorf("invalid WEIGHTS entry %q, expected <graph>=<sha256>", entry)
		}
		info := blobs.BlobInfo{Hash: hash}
		if err := blobs.ValidateHash(info.Hash); err != nil {
			return err
		}

		startedAt := time.Now()
		loaded, err := loader.Load(ctx, s.Memory(), info)
		if err != nil {
			return fmt.Errorf("loading weights for %q: %w", graphName, err)
		}
		if err := s.SetWeights(graphName, loaded); err != nil {
			weights.Dispose(loaded)
			return err
		}
		log.Info("loaded weights", "graph", graphName, "hash", hash, "tensors", len(loaded), "duration", time.Since(startedAt))
	}
	return nil
}
