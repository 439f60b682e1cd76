package weights

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/graphexec/pkg/blobs"
	"k8s.io/examples/AI/graphexec/pkg/tensor"
)

// fakeReader serves blobs from memory, failing the first failures calls.
type fakeReader struct {
	blobs    map[string][]byte
	failures int
	calls    int
}

func (f *fakeReader) Open(ctx context.Context, info blobs.BlobInfo) (io.ReadCloser, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("transient failure %d", f.calls)
	}
	b, found := f.blobs[info.Hash]
	if !found {
		return nil, fmt.Errorf("blob %q: %w", info.Hash, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func sampleWeights(t *testing.T, m *tensor.Memory) map[string][]*tensor.Tensor {
	t.Helper()
	a, err := m.New(tensor.Float32, []int{2}, []float32{0.5, 1.5})
	if err != nil {
		t.Fatalf("allocating: %v", err)
	}
	b, err := m.New(tensor.Int32, nil, []float32{7})
	if err != nil {
		t.Fatalf("allocating: %v", err)
	}
	return map[string][]*tensor.Tensor{"scale": {a}, "limit": {b}}
}

func TestEncodeDecode(t *testing.T) {
	m := tensor.NewMemory()
	b, err := Encode(sampleWeights(t, m))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	again, _ := Encode(sampleWeights(t, m))
	if Hash(b) != Hash(again) {
		t.Errorf("expected encoding to be deterministic")
	}

	decoded, err := Decode(m, b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	values, _ := decoded["scale"][0].Values()
	if diff := cmp.Diff([]float32{0.5, 1.5}, values); diff != "" {
		t.Errorf("scale mismatch (-want +got):\n%s", diff)
	}
	if decoded["limit"][0].DType() != tensor.Int32 {
		t.Errorf("expected limit to be int32, got %s", decoded["limit"][0].DType())
	}

	if _, err := Decode(m, []byte("not a protobuf")); status.Code(err) != codes.DataLoss {
		t.Errorf("expected DataLoss, got %v", err)
	}
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	m := tensor.NewMemory()
	b, err := Encode(sampleWeights(t, m))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	info := blobs.BlobInfo{Hash: Hash(b)}

	t.Run("retries transient failures", func(t *testing.T) {
		reader := &fakeReader{blobs: map[string][]byte{info.Hash: b}, failures: 2}
		loader := &Loader{Reader: reader, MaxDownloadAttempts: 3, RetryDelay: 1}
		w, err := loader.Load(ctx, m, info)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(w) != 2 || reader.calls != 3 {
			t.Errorf("expected 2 weights after 3 calls, got %d weights after %d calls", len(w), reader.calls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		reader := &fakeReader{blobs: map[string][]byte{info.Hash: b}, failures: 5}
		loader := &Loader{Reader: reader, MaxDownloadAttempts: 2, RetryDelay: 1}
		_, err := loader.Load(ctx, m, info)
		if status.Code(err) != codes.Unavailable || reader.calls != 2 {
			t.Errorf("expected Unavailable after 2 calls, got %v after %d calls", err, reader.calls)
		}
	})

	t.Run("does not retry a missing blob", func(t *testing.T) {
		reader := &fakeReader{}
		loader := &Loader{Reader: reader, MaxDownloadAttempts: 5, RetryDelay: 1}
		_, err := loader.Load(ctx, m, blobs.BlobInfo{Hash: "missing"})
		if status.Code(err) != codes.NotFound || reader.calls != 1 {
			t.Errorf("expected NotFound after 1 call, got %v after %d calls", err, reader.calls)
		}
	})

	t.Run("rejects a corrupted blob", func(t *testing.T) {
		reader := &fakeReader{blobs: map[string][]byte{info.Hash: []byte("tampered")}}
		loader := &Loader{Reader: reader, MaxDownloadAttempts: 1}
		_, err := loader.Load(ctx, m, info)
		if status.Code(err) != codes.DataLoss {
			t.Errorf("expected DataLoss, got %v", err)
		}
	})

	t.Run("uses the cache", func(t *testing.T) {
		dir := t.TempDir()
		reader := &fakeReader{blobs: map[string][]byte{info.Hash: b}}
		loader := &Loader{Reader: reader, MaxDownloadAttempts: 1, CacheDir: dir}
		for i := 0; i < 2; i++ {
			if _, err := loader.Load(ctx, m, info); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
		}
		if reader.calls != 1 {
			t.Errorf("expected one download, got %d", reader.calls)
		}
		if _, err := os.Stat(filepath.Join(dir, info.Hash)); err != nil {
			t.Errorf("expected cached blob: %v", err)
		}
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		reader := &fakeReader{failures: 1}
		loader := &Loader{Reader: reader, MaxDownloadAttempts: 3}
		_, err := loader.Load(ctx, m, info)
		if status.Code(err) != codes.Canceled {
			t.Errorf("expected Canceled, got %v", err)
		}
		if errors.Is(err, os.ErrNotExist) {
			t.Errorf("unexpected not-exist error")
		}
	})
}
