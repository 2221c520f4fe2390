// Package s3 stores job inputs and outputs in an S3-compatible bucket via
// the MinIO client. Single-file outputs become one object keyed by job ID;
// directory outputs (thumbnails, extracted frames) are uploaded per file
// under a job-ID prefix and referenced with a trailing slash.
package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mediaforge/mediaforge/internal/port"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client  *minio.Client
	bucket  string
	scratch string
}

func NewStore(ctx context.Context, cfg Config, scratchDir string) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{client: client, bucket: cfg.Bucket, scratch: scratchDir}, nil
}

// ResolveInput downloads the referenced object to scratch space. The
// returned cleanup removes the download.
func (s *Store) ResolveInput(ctx context.Context, ref string) (string, func(), error) {
	local := filepath.Join(s.scratch, "in_"+strings.ReplaceAll(ref, "/", "_"))
	if err := s.client.FGetObject(ctx, s.bucket, ref, local, minio.GetObjectOptions{}); err != nil {
		return "", nil, fmt.Errorf("fetch input %s: %w", ref, err)
	}
	cleanup := func() { _ = os.Remove(local) }
	return local, cleanup, nil
}

func (s *Store) StoreOutput(ctx context.Context, localPath string, jobID string) (string, int64, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("stat output: %w", err)
	}
	if !info.IsDir() {
		key := jobID + "/" + filepath.Base(localPath)
		up, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{})
		if err != nil {
			return "", 0, fmt.Errorf("upload output: %w", err)
		}
		return key, up.Size, nil
	}

	prefix := jobID + "/"
	var total int64
	err = filepath.WalkDir(localPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		up, err := s.client.FPutObject(ctx, s.bucket, prefix+filepath.ToSlash(rel), path, minio.PutObjectOptions{})
		if err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		total += up.Size
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return prefix, total, nil
}

// Remove deletes the object, or every object under the prefix when the
// reference ends with a slash.
func (s *Store) Remove(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if !strings.HasSuffix(ref, "/") {
		return s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{})
	}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: ref, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}

var _ port.ArtifactStore = (*Store)(nil)
