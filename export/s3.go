package export

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
)

// S3Sink uploads exports to an S3 bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

type s3Config struct {
	region    string
	endpoint  string
	accessKey string
	secretKey string
	prefix    string
	tracing   bool
}

type S3Option func(*s3Config)

func WithRegion(region string) S3Option {
	return func(c *s3Config) {
		c.region = region
	}
}

// WithEndpoint points the client at an S3-compatible endpoint and switches
// to path-style addressing.
func WithEndpoint(url string) S3Option {
	return func(c *s3Config) {
		c.endpoint = url
	}
}

func WithStaticCredentials(accessKey, secretKey string) S3Option {
	return func(c *s3Config) {
		c.accessKey = accessKey
		c.secretKey = secretKey
	}
}

// WithPrefix prepends prefix to every key.
func WithPrefix(prefix string) S3Option {
	return func(c *s3Config) {
		c.prefix = prefix
	}
}

// WithTracing instruments S3 calls with AWS X-Ray.
func WithTracing() S3Option {
	return func(c *s3Config) {
		c.tracing = true
	}
}

// NewS3Sink loads the default AWS configuration and returns a sink for bucket.
func NewS3Sink(ctx context.Context, bucket string, opts ...S3Option) (*S3Sink, error) {
	if bucket == "" {
		return nil, errors.New("s3 export requires a bucket")
	}

	var sc s3Config
	for _, opt := range opts {
		opt(&sc)
	}

	var loadOpts []func(*config.LoadOptions) error
	if sc.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(sc.region))
	}
	if sc.accessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.accessKey, sc.secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if sc.tracing {
		awsv2.AWSV2Instrumentor(&cfg.APIOptions)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if sc.endpoint != "" {
			o.BaseEndpoint = aws.String(sc.endpoint)
			o.UsePathStyle = true
		}
	})

	s := NewS3SinkFromClient(client, bucket)
	s.prefix = sc.prefix
	return s, nil
}

func NewS3SinkFromClient(client *s3.Client, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

func (s *S3Sink) Save(ctx context.Context, key, code string) (string, error) {
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               strings.NewReader(code),
		ContentType:        aws.String(ContentType),
		ContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)})),
	})
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}
