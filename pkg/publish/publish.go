// Package publish uploads the supermatrix outputs to an S3-compatible bucket.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/yumyai/phylomat/internal/config"
	"github.com/yumyai/phylomat/logger"
)

var ErrNoBucket = errors.New("publish: s3 bucket required")

type Publisher struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds a publisher from the default AWS credential chain. Endpoint and
// path style support MinIO and other S3-compatible stores.
func New(ctx context.Context, opts config.S3Options) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, ErrNoBucket
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewWithClient(client, opts.Bucket, opts.Prefix), nil
}

func NewWithClient(client *s3.Client, bucket, prefix string) *Publisher {
	return &Publisher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key is the object key of a file name under the publisher prefix.
func (p *Publisher) Key(name string) string {
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// PublishDir uploads the regular files directly inside dir and returns the
// object keys written. Subdirectories such as RAxML work dirs are skipped.
func (p *Publisher) PublishDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return p.Publish(ctx, dir, names)
}

// Publish uploads the named files of dir. Missing files are skipped.
func (p *Publisher) Publish(ctx context.Context, dir string, names []string) ([]string, error) {
	var keys []string
	for _, name := range names {
		key, err := p.put(ctx, filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("nothing to publish", zap.String("file", name))
			continue
		}
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *Publisher) put(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := p.Key(filepath.Base(file))
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(file)),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to s3://%s/%s: %w", file, p.bucket, key, err)
	}
	logger.Info("published", zap.String("bucket", p.bucket), zap.String("key", key))
	return key, nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv"
	case ".fasta", ".fa", ".phy", ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}
