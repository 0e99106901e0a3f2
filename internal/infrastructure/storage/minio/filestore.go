// Package minio stores raw calculation output files.  Structured results
// live in PostgreSQL; the unparsed program output (log files, checkpoint
// archives) goes to object storage and is referenced by file ID.
package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// objectAPI is the subset of the minio client the file store needs.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, name string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, name string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucket, name string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucket, name string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PresignedGetObject(ctx context.Context, bucket, name string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// FileStore persists raw calculation output in a single bucket, keyed by
// calculation ID and file name.
type FileStore struct {
	api           objectAPI
	bucket        string
	presignExpiry time.Duration
	logger        logging.Logger
}

// NewFileStore connects to MinIO and ensures the output bucket exists.
func NewFileStore(ctx context.Context, cfg config.MinIOConfig, logger logging.Logger) (*FileStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "failed to create minio client")
	}

	fs := &FileStore{
		api:           client,
		bucket:        cfg.Bucket,
		presignExpiry: cfg.PresignExpiry,
		logger:        logger.Named("filestore"),
	}
	if fs.presignExpiry <= 0 {
		fs.presignExpiry = 15 * time.Minute
	}

	if err := fs.ensureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("connected to MinIO",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
	)
	return fs, nil
}

func (fs *FileStore) ensureBucket(ctx context.Context) error {
	exists, err := fs.api.BucketExists(ctx, fs.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to check bucket")
	}
	if exists {
		return nil
	}
	if err := fs.api.MakeBucket(ctx, fs.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to create bucket")
	}
	fs.logger.Info("created output bucket", logging.String("bucket", fs.bucket))
	return nil
}

func objectName(calcID common.ID, name string) string {
	return fmt.Sprintf("calculations/%s/%s", calcID, name)
}

// Put stores a raw output file and returns its file ID.
func (fs *FileStore) Put(ctx context.Context, calcID common.ID, name string, reader io.Reader, size int64, contentType string) (string, error) {
	obj := objectName(calcID, name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := fs.api.PutObject(ctx, fs.bucket, obj, reader, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeDependentService, "failed to store output file")
	}

	fs.logger.Debug("stored output file",
		logging.String("calculation_id", string(calcID)),
		logging.String("object", obj),
		logging.Int64("size", size),
	)
	return obj, nil
}

// Get opens a stored output file for reading.  The caller closes the reader.
func (fs *FileStore) Get(ctx context.Context, fileID string) (io.ReadCloser, error) {
	obj, err := fs.api.GetObject(ctx, fs.bucket, fileID, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "failed to open output file")
	}
	// GetObject is lazy; surface missing objects now.
	if _, err := fs.api.StatObject(ctx, fs.bucket, fileID, minio.StatObjectOptions{}); err != nil {
		obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, errors.New(errors.ErrCodeFileNotFound, "output file not found").
				WithDetail("file_id=" + fileID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "failed to stat output file")
	}
	return obj, nil
}

// Delete removes a stored output file.
func (fs *FileStore) Delete(ctx context.Context, fileID string) error {
	err := fs.api.RemoveObject(ctx, fs.bucket, fileID, minio.RemoveObjectOptions{})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to delete output file")
	}
	return nil
}

// PresignedURL returns a time-limited download URL for a stored file.
func (fs *FileStore) PresignedURL(ctx context.Context, fileID string) (string, error) {
	u, err := fs.api.PresignedGetObject(ctx, fs.bucket, fileID, fs.presignExpiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeDependentService, "failed to presign download URL")
	}
	return u.String(), nil
}
