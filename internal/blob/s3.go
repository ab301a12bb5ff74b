package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// S3Config configures the S3 backend. Credential fields are optional; when
// empty the default AWS credential chain is used.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// S3Backend stores objects as S3 keys in a single bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
	cfg    S3Config
}

// NewS3Backend builds an S3-backed object store for bucket.
func NewS3Backend(ctx context.Context, bucket string, cfg S3Config) (*S3Backend, error) {
	if bucket == "" {
		return nil, ifserrors.New(ifserrors.KindIncompatibleConfig, "bucket name cannot be empty").WithComponent("blob.s3")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "load AWS config").WithComponent("blob.s3")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Backend{client: client, bucket: bucket, cfg: cfg}, nil
}

func (b *S3Backend) Put(ctx context.Context, name string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return b.translateError(err, "Put", name)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, name string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, b.translateError(err, "Get", name)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "read object body").WithComponent("blob.s3").WithPath(name)
	}
	return data, nil
}

func (b *S3Backend) Delete(ctx context.Context, name string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return b.translateError(err, "Delete", name)
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isErrorType[*s3types.NotFound](err) || isErrorType[*s3types.NoSuchKey](err) {
			return false, nil
		}
		return false, b.translateError(err, "Exists", name)
	}
	return true, nil
}

func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "list bucket page").WithComponent("blob.s3")
		}
		for _, obj := range page.Contents {
			names = append(names, aws.ToString(obj.Key))
		}
	}
	return names, nil
}

func (b *S3Backend) Close() error { return nil }

func (b *S3Backend) translateError(err error, op, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return notFound("blob.s3", key)
	case isErrorType[*s3types.NotFound](err):
		return notFound("blob.s3", key)
	case isErrorType[*s3types.NoSuchBucket](err):
		return ifserrors.New(ifserrors.KindBackendIO, fmt.Sprintf("bucket not found: %s", b.bucket)).WithComponent("blob.s3").WithOp(op)
	default:
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, op).WithComponent("blob.s3").WithPath(key)
	}
}

func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
