package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps content blobs as objects in an S3-compatible bucket.
// Object storage has no append primitive, so Append and Truncate perform a
// read-modify-write under a per-handle mutex; that mutex is what makes
// appends on one handle atomic relative to each other within this process.
type MinioStore struct {
	client *minio.Client
	bucket string

	mu    sync.Mutex
	locks map[Handle]*sync.Mutex
}

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: opts.Bucket,
		locks:  make(map[Handle]*sync.Mutex),
	}, nil
}

func (s *MinioStore) handleLock(handle Handle) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[handle]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[handle] = lock
	}
	return lock
}

func (s *MinioStore) Create(ctx context.Context, documentID string) (Handle, error) {
	handle := HandleFor(documentID)
	_, err := s.client.StatObject(ctx, s.bucket, string(handle), minio.StatObjectOptions{})
	if err == nil {
		return "", ErrAlreadyExists
	}
	if !isNoSuchKey(err) {
		return "", fmt.Errorf("stat blob %s: %w", handle, err)
	}
	if err := s.put(ctx, handle, ""); err != nil {
		return "", err
	}
	return handle, nil
}

func (s *MinioStore) Append(ctx context.Context, handle Handle, text string) error {
	lock := s.handleLock(handle)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Read(ctx, handle)
	if err != nil {
		return err
	}
	return s.put(ctx, handle, current+text)
}

func (s *MinioStore) Truncate(ctx context.Context, handle Handle) error {
	lock := s.handleLock(handle)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.client.StatObject(ctx, s.bucket, string(handle), minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("stat blob %s: %w", handle, err)
	}
	return s.put(ctx, handle, "")
}

func (s *MinioStore) Read(ctx context.Context, handle Handle) (string, error) {
	object, err := s.client.GetObject(ctx, s.bucket, string(handle), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get blob %s: %w", handle, err)
	}
	defer object.Close()
	contents, err := io.ReadAll(object)
	if isNoSuchKey(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", handle, err)
	}
	return string(contents), nil
}

func (s *MinioStore) Remove(ctx context.Context, handle Handle) error {
	_, err := s.client.StatObject(ctx, s.bucket, string(handle), minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("stat blob %s: %w", handle, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, string(handle), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove blob %s: %w", handle, err)
	}
	return nil
}

func (s *MinioStore) put(ctx context.Context, handle Handle, contents string) error {
	reader := bytes.NewReader([]byte(contents))
	_, err := s.client.PutObject(ctx, s.bucket, string(handle), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w", handle, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	response := minio.ToErrorResponse(err)
	return response.Code == "NoSuchKey" || strings.Contains(err.Error(), "key does not exist")
}
