package minio

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrInvalidRequest = errors.New(errors.ErrCodeValidation, "invalid request")
)

// ObjectStorageRepository reads reference tables and writes run archives.
type ObjectStorageRepository interface {
	Open(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)
	Get(ctx context.Context, bucket, objectKey string) ([]byte, error)
	Put(ctx context.Context, bucket, objectKey string, data []byte, contentType string) (*UploadResult, error)
	Exists(ctx context.Context, bucket, objectKey string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]*ObjectMetadata, error)
}

type UploadResult struct {
	Bucket     string
	ObjectKey  string
	ETag       string
	Size       int64
	UploadedAt time.Time
}

type ObjectMetadata struct {
	Bucket       string
	ObjectKey    string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

type minioRepository struct {
	client *MinIOClient
	logger logging.Logger
}

// NewMinIORepository creates an ObjectStorageRepository over client.
func NewMinIORepository(client *MinIOClient, logger logging.Logger) ObjectStorageRepository {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &minioRepository{client: client, logger: logger}
}

func validKey(bucket, key string) error {
	if bucket == "" || key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return ErrInvalidRequest
	}
	return nil
}

func (r *minioRepository) Open(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	if r.client.isClosed() {
		return nil, ErrMinIOClientClosed
	}
	if err := validKey(bucket, objectKey); err != nil {
		return nil, err
	}
	// GetObject is lazy; stat first so a missing object fails here.
	if _, err := r.client.client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "stat object "+objectKey)
	}
	rc, err := r.client.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "get object "+objectKey)
	}
	return rc, nil
}

func (r *minioRepository) Get(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	rc, err := r.Open(ctx, bucket, objectKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "read object "+objectKey)
	}
	return data, nil
}

func (r *minioRepository) Put(ctx context.Context, bucket, objectKey string, data []byte, contentType string) (*UploadResult, error) {
	if r.client.isClosed() {
		return nil, ErrMinIOClientClosed
	}
	if err := validKey(bucket, objectKey); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := r.client.client.PutObject(ctx, bucket, objectKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "put object "+objectKey)
	}
	r.logger.Debug("object uploaded",
		logging.String("bucket", bucket),
		logging.String("key", objectKey),
		logging.Int64("size", info.Size))
	return &UploadResult{
		Bucket:     bucket,
		ObjectKey:  objectKey,
		ETag:       info.ETag,
		Size:       info.Size,
		UploadedAt: time.Now().UTC(),
	}, nil
}

func (r *minioRepository) Exists(ctx context.Context, bucket, objectKey string) (bool, error) {
	if err := validKey(bucket, objectKey); err != nil {
		return false, err
	}
	_, err := r.client.client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, errors.Wrap(err, errors.ErrCodeExternalService, "stat object "+objectKey)
}

func (r *minioRepository) List(ctx context.Context, bucket, prefix string) ([]*ObjectMetadata, error) {
	if bucket == "" {
		return nil, ErrInvalidRequest
	}
	var out []*ObjectMetadata
	for obj := range r.client.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeExternalService, "list objects")
		}
		out = append(out, &ObjectMetadata{
			Bucket:       bucket,
			ObjectKey:    obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}
