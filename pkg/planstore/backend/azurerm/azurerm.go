// Package azurerm implements an Azure Blob Storage plan backend.
package azurerm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/davidthor/taskgraph/pkg/planstore/backend"
)

func init() {
	backend.Register("azurerm", NewBackend)
}

// Backend stores plans as block blobs in an Azure storage container.
type Backend struct {
	container *container.Client
	name      string
	prefix    string
}

// NewBackend creates an Azure Blob Storage backend. Authentication is tried
// in order: access_key, sas_token, connection_string, then the default Azure
// credential chain.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	storageAccount := cfg["storage_account_name"]
	if storageAccount == "" {
		return nil, fmt.Errorf("azurerm backend requires 'storage_account_name' configuration")
	}

	containerName := cfg["container_name"]
	if containerName == "" {
		return nil, fmt.Errorf("azurerm backend requires 'container_name' configuration")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", storageAccount)
	// Support custom endpoint (for Azurite emulator)
	if endpoint := cfg["endpoint"]; endpoint != "" {
		serviceURL = endpoint
	}

	client, err := newClient(cfg, storageAccount, serviceURL)
	if err != nil {
		return nil, err
	}
	return newBackend(client, containerName, cfg["key"]), nil
}

func newBackend(client *azblob.Client, containerName, prefix string) *Backend {
	return &Backend{
		container: client.ServiceClient().NewContainerClient(containerName),
		name:      containerName,
		prefix:    strings.Trim(prefix, "/"),
	}
}

func newClient(cfg map[string]string, storageAccount, serviceURL string) (*azblob.Client, error) {
	// Support explicit access key authentication
	if accessKey := cfg["access_key"]; accessKey != "" {
		cred, err := azblob.NewSharedKeyCredential(storageAccount, accessKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with shared key: %w", err)
		}
		return client, nil
	}

	// Support SAS token authentication
	if sasToken := cfg["sas_token"]; sasToken != "" {
		sep := "?"
		if strings.Contains(serviceURL, "?") {
			sep = "&"
		}
		client, err := azblob.NewClientWithNoCredential(serviceURL+sep+strings.TrimPrefix(sasToken, "?"), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with SAS token: %w", err)
		}
		return client, nil
	}

	// Support connection string authentication
	if connectionString := cfg["connection_string"]; connectionString != "" {
		client, err := azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client from connection string: %w", err)
		}
		return client, nil
	}

	// Default to Azure Identity (DefaultAzureCredential)
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create default Azure credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return client, nil
}

func (b *Backend) Type() string {
	return "azurerm"
}

// Create puts the plan as a single block blob with If-None-Match: *. The
// service rejects the put when the blob exists, so a stored plan is never
// replaced.
func (b *Backend) Create(ctx context.Context, key backend.Key, doc []byte) error {
	blobPath := b.blobPath(key)

	_, err := b.container.NewBlockBlobClient(blobPath).Upload(ctx, streaming.NopCloser(bytes.NewReader(doc)), &blockblob.UploadOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to("application/json"),
		},
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to(azcore.ETagAny),
			},
		},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return backend.ErrExists
		}
		return fmt.Errorf("failed to write plan to azure://%s/%s: %w", b.name, blobPath, err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, key backend.Key) ([]byte, error) {
	blobPath := b.blobPath(key)

	resp, err := b.container.NewBlobClient(blobPath).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read plan from azure://%s/%s: %w", b.name, blobPath, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan from azure://%s/%s: %w", b.name, blobPath, err)
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, key backend.Key) error {
	blobPath := b.blobPath(key)

	_, err := b.container.NewBlobClient(blobPath).Delete(ctx, nil)
	if err != nil {
		// Ignore not found errors for idempotency
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete plan from azure://%s/%s: %w", b.name, blobPath, err)
	}
	return nil
}

// Keys lists the plan blobs of a cluster.
func (b *Backend) Keys(ctx context.Context, clusterID string) ([]backend.Key, error) {
	listPrefix := b.withPrefix(backend.ClusterPrefix(clusterID))

	var paths []string
	pager := b.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &listPrefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list plans in azure://%s/%s: %w", b.name, listPrefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if rel, ok := b.trimPrefix(*item.Name); ok {
				paths = append(paths, rel)
			}
		}
	}
	return backend.CollectKeys(paths, clusterID), nil
}

func (b *Backend) blobPath(key backend.Key) string {
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

func to[T any](v T) *T {
	return &v
}
