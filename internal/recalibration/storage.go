package recalibration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/readyscore/readyscore/pkg/scoring"
)

// ErrNotFound is returned by Store.Get when the key does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store abstracts blob storage for profile artifacts. Keys are
// slash-separated and relative to the store root.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Locate returns a human-readable location for key.
	Locate(key string) string
}

// StorageConfig selects and configures a Store backend.
type StorageConfig struct {
	Backend   string
	Dir       string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewStore builds the backend named by cfg.Backend. An empty backend means
// local storage under cfg.Dir.
func NewStore(ctx context.Context, cfg StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		if cfg.Dir == "" {
			return nil, errors.New("local storage requires a directory")
		}
		return NewLocalStorage(cfg.Dir), nil
	case "s3":
		return NewS3Storage(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	case "gcs":
		return NewGCSStorage(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// LocalStorage implements Store on the local filesystem. Profile
// workspaces stored this way can be edited in place, which is how labels
// are usually filled in.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a LocalStorage rooted at the given directory.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

// Locate returns the file path for key.
func (s *LocalStorage) Locate(key string) string {
	return filepath.Join(s.BaseDir, filepath.FromSlash(key))
}

// Put writes data atomically.
func (s *LocalStorage) Put(ctx context.Context, key string, data []byte) error {
	return scoring.WriteFileAtomic(s.Locate(key), data)
}

// Get reads the blob stored under key.
func (s *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.Locate(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return data, err
}

func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return "text/plain"
}
