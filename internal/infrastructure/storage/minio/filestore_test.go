package minio

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
)

type fakeObjectAPI struct {
	buckets map[string]bool
	objects map[string][]byte
	putErr  error
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{
		buckets: map[string]bool{"outputs": true},
		objects: map[string][]byte{},
	}
}

func (f *fakeObjectAPI) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjectAPI) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjectAPI) PutObject(_ context.Context, _ string, name string, reader io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[name] = data
	return minio.UploadInfo{Key: name, Size: int64(len(data))}, nil
}

func (f *fakeObjectAPI) GetObject(_ context.Context, _ string, _ string, _ minio.GetObjectOptions) (*minio.Object, error) {
	return nil, nil
}

func (f *fakeObjectAPI) RemoveObject(_ context.Context, _ string, name string, _ minio.RemoveObjectOptions) error {
	delete(f.objects, name)
	return nil
}

func (f *fakeObjectAPI) StatObject(_ context.Context, _ string, name string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if _, ok := f.objects[name]; !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return minio.ObjectInfo{Key: name}, nil
}

func (f *fakeObjectAPI) PresignedGetObject(_ context.Context, bucket, name string, _ time.Duration, _ url.Values) (*url.URL, error) {
	return url.Parse("https://minio.local/" + bucket + "/" + name)
}

func newTestStore(api objectAPI) *FileStore {
	return &FileStore{
		api:           api,
		bucket:        "outputs",
		presignExpiry: 15 * time.Minute,
		logger:        logging.NewNopLogger(),
	}
}

func TestFileStore_PutBuildsObjectName(t *testing.T) {
	api := newFakeObjectAPI()
	fs := newTestStore(api)

	fileID, err := fs.Put(context.Background(), "calc-1", "output.log",
		bytes.NewReader([]byte("step 1 converged")), 16, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "calculations/calc-1/output.log", fileID)
	assert.Equal(t, []byte("step 1 converged"), api.objects[fileID])
}

func TestFileStore_Delete(t *testing.T) {
	api := newFakeObjectAPI()
	api.objects["calculations/calc-1/output.log"] = []byte("data")
	fs := newTestStore(api)

	require.NoError(t, fs.Delete(context.Background(), "calculations/calc-1/output.log"))
	assert.Empty(t, api.objects)
}

func TestFileStore_PresignedURL(t *testing.T) {
	fs := newTestStore(newFakeObjectAPI())

	u, err := fs.PresignedURL(context.Background(), "calculations/calc-1/output.log")
	require.NoError(t, err)
	assert.Equal(t, "https://minio.local/outputs/calculations/calc-1/output.log", u)
}

func TestFileStore_EnsureBucketCreatesMissing(t *testing.T) {
	api := newFakeObjectAPI()
	delete(api.buckets, "outputs")
	fs := newTestStore(api)

	require.NoError(t, fs.ensureBucket(context.Background()))
	assert.True(t, api.buckets["outputs"])
}
