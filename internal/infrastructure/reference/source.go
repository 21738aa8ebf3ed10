// Package reference loads the read-only reference tables the engine is built
// from: cross-reference bridge tables, the therapeutic classification table
// and exclusivity boundaries. Tables are CSV documents read from a local
// directory or from object storage.
package reference

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/turtacn/RegScan/internal/infrastructure/storage/minio"
	"github.com/turtacn/RegScan/pkg/errors"
)

// Source opens a named reference document.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Describe(name string) string
}

// FileSource reads documents from a directory. Absolute names are used as is.
type FileSource struct {
	Dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (s *FileSource) path(name string) string {
	if filepath.IsAbs(name) || s.Dir == "" {
		return name
	}
	return filepath.Join(s.Dir, name)
}

func (s *FileSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeReferenceSourceAbsent, "reference file not found: "+s.path(name))
		}
		return nil, errors.Wrap(err, errors.ErrCodeReferenceLoadFailed, "open reference file "+s.path(name))
	}
	return f, nil
}

func (s *FileSource) Describe(name string) string { return "file://" + s.path(name) }

// ObjectSource reads documents from one object storage bucket.
type ObjectSource struct {
	repo   minio.ObjectStorageRepository
	bucket string
}

// NewObjectSource creates an ObjectSource over bucket.
func NewObjectSource(repo minio.ObjectStorageRepository, bucket string) *ObjectSource {
	return &ObjectSource{repo: repo, bucket: bucket}
}

func (s *ObjectSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.repo.Open(ctx, s.bucket, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.Wrap(err, errors.ErrCodeReferenceSourceAbsent, "reference object not found: "+s.Describe(name))
		}
		return nil, errors.Wrap(err, errors.ErrCodeReferenceLoadFailed, "open reference object "+s.Describe(name))
	}
	return rc, nil
}

func (s *ObjectSource) Describe(name string) string { return "s3://" + s.bucket + "/" + name }
