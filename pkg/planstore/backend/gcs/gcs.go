// Package gcs implements a Google Cloud Storage plan backend.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/davidthor/taskgraph/pkg/planstore/backend"
)

func init() {
	backend.Register("gcs", NewBackend)
}

// Backend stores plans as objects in a GCS bucket.
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
}

func clientOptions(cfg map[string]string) []option.ClientOption {
	var opts []option.ClientOption

	// Support explicit credentials file
	if credentialsFile := cfg["credentials"]; credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	// Support credentials JSON
	if credentialsJSON := cfg["credentials_json"]; credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	// Support custom endpoint (for emulator)
	if endpoint := cfg["endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	return opts
}

// NewBackend creates a GCS backend. Supported keys: bucket (required),
// prefix, credentials (file), credentials_json and endpoint.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	bucketName := cfg["bucket"]
	if bucketName == "" {
		return nil, fmt.Errorf("gcs backend requires 'bucket' configuration")
	}

	client, err := storage.NewClient(context.Background(), clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Backend{
		client: client,
		bucket: bucketName,
		prefix: strings.Trim(cfg["prefix"], "/"),
	}, nil
}

func (b *Backend) Type() string {
	return "gcs"
}

// Create uploads the plan under a DoesNotExist precondition. GCS checks it
// when the upload is committed, so of two racing writers only one succeeds.
func (b *Backend) Create(ctx context.Context, key backend.Key, doc []byte) error {
	objectPath := b.objectPath(key)

	obj := b.client.Bucket(b.bucket).Object(objectPath).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(doc); err != nil {
		writer.Close()
		return b.createError(objectPath, err)
	}
	// The upload is only committed by Close.
	if err := writer.Close(); err != nil {
		return b.createError(objectPath, err)
	}
	return nil
}

func (b *Backend) createError(objectPath string, err error) error {
	if isPreconditionFailed(err) {
		return backend.ErrExists
	}
	return fmt.Errorf("failed to write plan to gs://%s/%s: %w", b.bucket, objectPath, err)
}

func (b *Backend) Read(ctx context.Context, key backend.Key) ([]byte, error) {
	objectPath := b.objectPath(key)

	reader, err := b.client.Bucket(b.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read plan from gs://%s/%s: %w", b.bucket, objectPath, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan from gs://%s/%s: %w", b.bucket, objectPath, err)
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, key backend.Key) error {
	objectPath := b.objectPath(key)

	err := b.client.Bucket(b.bucket).Object(objectPath).Delete(ctx)
	if err != nil {
		// Ignore not found errors for idempotency
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete plan from gs://%s/%s: %w", b.bucket, objectPath, err)
	}
	return nil
}

// Keys lists the plan objects of a cluster. Only the names are fetched.
func (b *Backend) Keys(ctx context.Context, clusterID string) ([]backend.Key, error) {
	query := &storage.Query{Prefix: b.withPrefix(backend.ClusterPrefix(clusterID))}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}

	var paths []string
	it := b.client.Bucket(b.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list plans in gs://%s/%s: %w", b.bucket, query.Prefix, err)
		}
		if rel, ok := b.trimPrefix(attrs.Name); ok {
			paths = append(paths, rel)
		}
	}
	return backend.CollectKeys(paths, clusterID), nil
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

func (b *Backend) objectPath(key backend.Key) string {
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

func (b *Backend) trimPrefix(name string) (string, bool) {
	if b.prefix == "" {
		return name, true
	}
	return strings.CutPrefix(name, b.prefix+"/")
}
