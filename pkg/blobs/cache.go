package blobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// Cache is a BlobReader that keeps blobs in a local directory, filling misses from Source.
type Cache struct {
	// Dir holds one file per blob, named by hash.
	Dir string

	// Source is consulted when a blob is not in Dir; may be nil.
	Source BlobReader
}

var _ BlobReader = &Cache{}

func (c *Cache) Open(ctx context.Context, info BlobInfo) (io.ReadCloser, error) {
	log := klog.FromContext(ctx)

	if err := ValidateHash(info.Hash); err != nil {
		return nil, err
	}

	localPath := filepath.Join(c.Dir, info.Hash)
	f, err := os.Open(localPath)
	if err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening blob %q: %w", info.Hash, err)
	}

	if c.Source == nil {
		return nil, fmt.Errorf("blob %q not found: %w", info.Hash, os.ErrNotExist)
	}

	log.V(2).Info("blob not cached, fetching from source", "hash", info.Hash)
	if err := c.fill(ctx, info, localPath); err != nil {
		return nil, err
	}
	return os.Open(localPath)
}

// fill copies a blob from Source into the cache, keeping it only if its contents match the hash.
func (c *Cache) fill(ctx context.Context, info BlobInfo, localPath string) error {
	src, err := c.Source.Open(ctx, info)
	if err != nil {
		return err
	}
	defer src.Close()

	h := sha256.New()
	_, err = writeToFile(ctx, io.TeeReader(src, h), localPath, func() error {
		if got := hex.EncodeToString(h.Sum(nil)); got != info.Hash {
			return fmt.Errorf("blob %q from source has contents with hash %s", info.Hash, got)
		}
		return nil
	})
	return err
}

// ValidateHash checks that hash is a hex sha256.
func ValidateHash(hash string) error {
	if len(hash) != 64 || strings.ToLower(hash) != hash {
		return fmt.Errorf("invalid blob hash %q", hash)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("invalid blob hash %q: %w", hash, err)
	}
	return nil
}

// Handler serves GET /<hash> from Reader, in the form ModelServer expects.
type Handler struct {
	Reader BlobReader
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 {
		if r.Method == "GET" {
			h.serveGETBlob(w, r, tokens[0])
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (h *Handler) serveGETBlob(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	if err := ValidateHash(hash); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	blob, err := h.Reader.Open(ctx, BlobInfo{Hash: hash})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting blob")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer blob.Close()

	log.V(2).Info("serving blob", "hash", hash)
	if f, ok := blob.(*os.File); ok {
		modTime := time.Time{}
		if stat, err := f.Stat(); err == nil {
			modTime = stat.ModTime()
		}
		http.ServeContent(w, r, hash, modTime, f)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, blob); err != nil {
		log.Error(err, "streaming blob", "hash", hash)
	}
}
