package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectAPI is the part of *minio.Client the store uses, with GetObject
// narrowed to an io.ReadCloser.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type minioClient struct {
	*minio.Client
}

func (c minioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return c.Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// MinioStore keeps attachments in a MinIO bucket, created on first use.
type MinioStore struct {
	client objectAPI
	bucket string
}

// NewMinioStore connects to the endpoint of o (scheme selects TLS) and
// makes sure the bucket exists.
func NewMinioStore(ctx context.Context, o S3Options) (*MinioStore, error) {
	u, err := url.Parse(o.BaseEndpoint)
	if err != nil {
		return nil, fmt.Errorf("minio endpoint: %w", err)
	}
	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(o.User, o.Password, ""),
		Secure: u.Scheme == "https",
		Region: o.Region,
	})
	if err != nil {
		return nil, err
	}
	s := &MinioStore{client: minioClient{client}, bucket: o.Bucket}
	if err := s.ensureBucket(ctx, o.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("minio bucket check: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("minio make bucket: %w", err)
	}
	return nil
}

func (s *MinioStore) Bucket(dictionary string) Bucket {
	return &minioBucket{store: s, dictionary: dictionary}
}

type minioBucket struct {
	store      *MinioStore
	dictionary string
}

func (b *minioBucket) Size(ctx context.Context, sig string) (int64, error) {
	if err := checkSignature(sig); err != nil {
		return 0, err
	}
	info, err := b.store.client.StatObject(ctx, b.store.bucket, objectKey(b.dictionary, sig), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, notFound(sig)
		}
		return 0, fmt.Errorf("minio stat %s: %w", sig, err)
	}
	return info.Size, nil
}

func (b *minioBucket) Open(ctx context.Context, sig string) (io.ReadCloser, int64, error) {
	size, err := b.Size(ctx, sig)
	if err != nil {
		return nil, 0, err
	}
	rc, err := b.store.client.GetObject(ctx, b.store.bucket, objectKey(b.dictionary, sig))
	if err != nil {
		return nil, 0, fmt.Errorf("minio get %s: %w", sig, err)
	}
	return rc, size, nil
}

func (b *minioBucket) Put(ctx context.Context, sig string, r io.Reader, size int64) error {
	if err := checkSignature(sig); err != nil {
		return err
	}
	body := io.LimitReader(r, size)
	_, err := b.store.client.PutObject(ctx, b.store.bucket, objectKey(b.dictionary, sig), body, size,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("minio put %s: %w", sig, err)
	}
	_, err = io.Copy(io.Discard, body)
	return err
}
