package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configures the S3 backend.
type S3Options struct {
	User         string
	Password     string
	Bucket       string
	Region       string
	BaseEndpoint string
}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store keeps attachments as objects <dictionary>/<signature>.
type S3Store struct {
	client s3API
	bucket string
}

func NewS3Store(ctx context.Context, o S3Options) (*S3Store, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.User, o.Password, "")))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(opts *s3.Options) {
		if o.BaseEndpoint != "" {
			opts.BaseEndpoint = aws.String(o.BaseEndpoint)
		}
		opts.UsePathStyle = true
	})
	return &S3Store{client: client, bucket: o.Bucket}, nil
}

func (s *S3Store) Bucket(dictionary string) Bucket {
	return &s3Bucket{store: s, dictionary: dictionary}
}

type s3Bucket struct {
	store      *S3Store
	dictionary string
}

func (b *s3Bucket) Open(ctx context.Context, sig string) (io.ReadCloser, int64, error) {
	if err := checkSignature(sig); err != nil {
		return nil, 0, err
	}
	out, err := b.store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.store.bucket),
		Key:    aws.String(objectKey(b.dictionary, sig)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, notFound(sig)
		}
		return nil, 0, fmt.Errorf("s3 get %s: %w", sig, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

func (b *s3Bucket) Size(ctx context.Context, sig string) (int64, error) {
	if err := checkSignature(sig); err != nil {
		return 0, err
	}
	out, err := b.store.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.store.bucket),
		Key:    aws.String(objectKey(b.dictionary, sig)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return 0, notFound(sig)
		}
		return 0, fmt.Errorf("s3 head %s: %w", sig, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (b *s3Bucket) Put(ctx context.Context, sig string, r io.Reader, size int64) error {
	if err := checkSignature(sig); err != nil {
		return err
	}
	body := io.LimitReader(r, size)
	_, err := b.store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.store.bucket),
		Key:           aws.String(objectKey(b.dictionary, sig)),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", sig, err)
	}
	// leave the frame positioned after this record
	_, err = io.Copy(io.Discard, body)
	return err
}
