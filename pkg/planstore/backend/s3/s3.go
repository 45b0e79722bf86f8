// Package s3 implements an S3-compatible plan backend.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/davidthor/taskgraph/pkg/planstore/backend"
)

func init() {
	backend.Register("s3", NewBackend)
}

// Backend stores plans as objects in an S3 bucket, under an optional key
// prefix shared by every cluster.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	region string
}

type options struct {
	bucket         string
	region         string
	prefix         string
	accessKey      string
	secretKey      string
	endpoint       string
	forcePathStyle bool
}

func parseOptions(cfg map[string]string) (options, error) {
	opts := options{
		bucket:         cfg["bucket"],
		region:         cfg["region"],
		prefix:         strings.Trim(cfg["key"], "/"),
		accessKey:      cfg["access_key"],
		secretKey:      cfg["secret_key"],
		endpoint:       cfg["endpoint"],
		forcePathStyle: cfg["force_path_style"] == "true",
	}
	if opts.bucket == "" {
		return opts, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}
	if opts.region == "" {
		opts.region = "us-east-1"
	}
	return opts, nil
}

// NewBackend creates an S3 backend. Supported keys: bucket (required),
// region, key (object prefix), access_key, secret_key, endpoint and
// force_path_style.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	opts, err := parseOptions(cfg)
	if err != nil {
		return nil, err
	}

	// Build AWS config options
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.region)}

	// Support explicit credentials
	if opts.accessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.accessKey, opts.secretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.forcePathStyle
		// Support custom endpoint (for MinIO, R2, etc.)
		if opts.endpoint != "" {
			o.BaseEndpoint = aws.String(opts.endpoint)
		}
	})

	return &Backend{
		client: client,
		bucket: opts.bucket,
		prefix: opts.prefix,
		region: opts.region,
	}, nil
}

func (b *Backend) Type() string {
	return "s3"
}

// Create uploads the plan with If-None-Match: *, so the bucket itself
// refuses to replace an object that is already there.
func (b *Backend) Create(ctx context.Context, key backend.Key, doc []byte) error {
	objectKey := b.objectKey(key)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &objectKey,
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return backend.ErrExists
		}
		return fmt.Errorf("failed to write plan to s3://%s/%s: %w", b.bucket, objectKey, err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, key backend.Key) ([]byte, error) {
	objectKey := b.objectKey(key)

	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    &objectKey,
	})
	if err != nil {
		// Check for not found
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read plan from s3://%s/%s: %w", b.bucket, objectKey, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan from s3://%s/%s: %w", b.bucket, objectKey, err)
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, key backend.Key) error {
	objectKey := b.objectKey(key)

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &b.bucket,
		Key:    &objectKey,
	})
	if err != nil {
		// Ignore not found errors for idempotency
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return fmt.Errorf("failed to delete plan from s3://%s/%s: %w", b.bucket, objectKey, err)
	}
	return nil
}

// Keys lists objects under the cluster prefix and keeps only plan
// documents. The listing prefix of cluster "1" also matches "10", which
// CollectKeys filters out.
func (b *Backend) Keys(ctx context.Context, clusterID string) ([]backend.Key, error) {
	listPrefix := b.withPrefix(backend.ClusterPrefix(clusterID))

	var paths []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.bucket,
		Prefix: &listPrefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list plans in s3://%s/%s: %w", b.bucket, listPrefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if rel, ok := b.trimPrefix(*obj.Key); ok {
				paths = append(paths, rel)
			}
		}
	}
	return backend.CollectKeys(paths, clusterID), nil
}

// isConditionFailed reports whether S3 rejected a conditional write because
// the object exists. A 409 means a concurrent conditional write to the same
// key is in flight; plans are content addressed, so that writer stores the
// same document.
func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusPreconditionFailed, http.StatusConflict:
			return true
		}
	}
	return false
}

func (b *Backend) objectKey(key backend.Key) string {
	return b.withPrefix(key.Path())
}

func (b *Backend) withPrefix(p string) string {
	if b.prefix == "" {
		return p
	}
	// path.Join drops the trailing slash of a listing prefix.
	joined := path.Join(b.prefix, p)
	if strings.HasSuffix(p, "/") {
		joined += "/"
	}
	return joined
}

func (b *Backend) trimPrefix(objectKey string) (string, bool) {
	if b.prefix == "" {
		return objectKey, true
	}
	return strings.CutPrefix(objectKey, b.prefix+"/")
}
