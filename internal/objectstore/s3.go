// Package objectstore wraps the S3 operations the worker needs: reading the
// source object's metadata and body, and publishing the rendition tree.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// API is the subset of *s3.Client used here.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// OutputBucket receives rendition trees.
	OutputBucket string
	// PublicBaseURL prefixes output keys in returned references.
	PublicBaseURL string
	// Concurrency bounds parallel uploads, 1 when unset.
	Concurrency int
}

type Client struct {
	api         API
	bucket      string
	publicBase  string
	concurrency int
}

// NewS3API builds an S3 client. Static credentials are used when both keys
// are set, otherwise the default AWS credential chain applies.
func NewS3API(ctx context.Context, opts Options) (*s3.Client, error) {
	loaders := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		loaders = append(loaders, config.WithBaseEndpoint(opts.Endpoint))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     opts.AccessKey,
				SecretAccessKey: opts.SecretKey,
			},
		}))
	}

	s3Config, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load S3 config: %w", err)
	}
	return s3.NewFromConfig(s3Config, func(o *s3.Options) { o.UsePathStyle = opts.UsePathStyle }), nil
}

func New(api API, opts Options) (*Client, error) {
	if opts.OutputBucket == "" {
		return nil, errors.New("output bucket required")
	}
	base := strings.TrimRight(opts.PublicBaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.OutputBucket, opts.Region)
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Client{
		api:         api,
		bucket:      opts.OutputBucket,
		publicBase:  base,
		concurrency: concurrency,
	}, nil
}

// Metadata returns the user metadata of bucket/key.
func (c *Client) Metadata(ctx context.Context, bucket, key string) (map[string]string, error) {
	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	return head.Metadata, nil
}

// Download copies bucket/key to dest, replacing any existing file.
func (c *Client) Download(ctx context.Context, bucket, key, dest string) error {
	obj, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(file, obj.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	log.Debug().Str("key", key).Str("path", dest).Int64("bytes", n).Msg("successfully downloaded the file")
	return nil
}

// PublicURL is the fully qualified reference for an output key.
func (c *Client) PublicURL(key string) string {
	return c.publicBase + "/" + strings.TrimLeft(key, "/")
}

func (c *Client) put(ctx context.Context, item uploadItem) error {
	file, err := os.Open(item.localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(item.key),
		Body:        file,
		ContentType: aws.String(ContentType(item.localPath)),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", item.key, err)
	}
	return nil
}

func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	default:
		return "application/octet-stream"
	}
}
