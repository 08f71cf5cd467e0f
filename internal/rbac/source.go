package rbac

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/smehub/apiserver/internal/logging"
)

const maxDocumentBytes = 1 << 20

// Source supplies the raw role configuration document.
type Source interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
}

// FileSource reads the document from the local filesystem.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string {
	return "file:" + s.Path
}

func (s FileSource) Read(ctx context.Context) ([]byte, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f)
}

// ObjectReader is the subset of storage.Storage needed to fetch a document.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Bucket() string
}

// ObjectSource reads the document from an object storage bucket.
type ObjectSource struct {
	Store ObjectReader
	Key   string
}

func (s ObjectSource) Name() string {
	return fmt.Sprintf("object:%s/%s", s.Store.Bucket(), s.Key)
}

func (s ObjectSource) Read(ctx context.Context) ([]byte, error) {
	rc, err := s.Store.Get(ctx, s.Key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readLimited(rc)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrInvalidConfig, maxDocumentBytes)
	}
	return data, nil
}

// Load reads and parses the document from src. It never fails: any read or
// parse error is logged and the built-in FallbackConfig is returned.
func Load(ctx context.Context, src Source, log logging.Logger) Config {
	if src == nil {
		log.Warn(ctx, "no role configuration source, using built-in roles")
		return FallbackConfig()
	}

	data, err := src.Read(ctx)
	if err != nil {
		log.Error(ctx, "role configuration unavailable, using built-in roles", "source", src.Name(), "error", err)
		return FallbackConfig()
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		log.Error(ctx, "role configuration malformed, using built-in roles", "source", src.Name(), "error", err)
		return FallbackConfig()
	}

	log.Info(ctx, "role configuration loaded", "source", src.Name(), "roles", len(cfg.Roles))
	return cfg
}
