package azurerm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/taskgraph/pkg/planstore/backend"
)

// Well-known Azurite development account key.
const azuriteKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

// fakeContainer answers the blob calls the backend makes for a container
// named "plans", rejecting If-None-Match: * puts over existing blobs.
type fakeContainer struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	conditions []string
}

func (f *fakeContainer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := strings.TrimPrefix(r.URL.Path, "/plans/")
	switch {
	case r.Method == http.MethodGet && r.URL.Query().Get("comp") == "list":
		f.list(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodPut:
		f.conditions = append(f.conditions, r.Header.Get("If-None-Match"))
		if _, ok := f.blobs[name]; ok && r.Header.Get("If-None-Match") == "*" {
			writeError(w, http.StatusConflict, "BlobAlreadyExists")
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.blobs[name] = body
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodGet:
		body, ok := f.blobs[name]
		if !ok {
			writeError(w, http.StatusNotFound, "BlobNotFound")
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		_, _ = w.Write(body)
	case r.Method == http.MethodDelete:
		if _, ok := f.blobs[name]; !ok {
			writeError(w, http.StatusNotFound, "BlobNotFound")
			return
		}
		delete(f.blobs, name)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeContainer) list(w http.ResponseWriter, prefix string) {
	var names []string
	for n := range f.blobs {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	fmt.Fprintf(&sb, `<EnumerationResults ContainerName="plans"><Prefix>%s</Prefix><Blobs>`, prefix)
	for _, n := range names {
		fmt.Fprintf(&sb, "<Blob><Name>%s</Name><Properties></Properties></Blob>", n)
	}
	sb.WriteString("</Blobs><NextMarker /></EnumerationResults>")

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, sb.String())
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("x-ms-error-code", code)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func newFakeBackend(t *testing.T, prefix string) (*Backend, *fakeContainer) {
	t.Helper()
	fake := &fakeContainer{blobs: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL+"/", nil)
	require.NoError(t, err)
	return newBackend(client, "plans", prefix), fake
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]string
		errorMsg string
	}{
		{
			name:     "missing storage account",
			config:   map[string]string{"container_name": "plans"},
			errorMsg: "storage_account_name",
		},
		{
			name:     "missing container",
			config:   map[string]string{"storage_account_name": "acct"},
			errorMsg: "container_name",
		},
		{
			name:     "empty container",
			config:   map[string]string{"storage_account_name": "acct", "container_name": ""},
			errorMsg: "container_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBackend(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestNewBackend_Auth(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]string
	}{
		{
			name: "shared key",
			cfg: map[string]string{
				"endpoint":   "http://127.0.0.1:10000/devstoreaccount1/",
				"access_key": azuriteKey,
				"key":        "/taskgraph/",
			},
		},
		{
			name: "connection string",
			cfg: map[string]string{
				"connection_string": "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + azuriteKey + ";BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;",
			},
		},
		{
			name: "sas token",
			cfg: map[string]string{
				"endpoint":  "http://127.0.0.1:10000/devstoreaccount1/",
				"sas_token": "?sv=2022-11-02&sig=abc",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg["storage_account_name"] = "devstoreaccount1"
			tt.cfg["container_name"] = "plans"

			b, err := NewBackend(tt.cfg)
			require.NoError(t, err)

			azb := b.(*Backend)
			assert.Equal(t, "azurerm", azb.Type())
			assert.Equal(t, "plans", azb.name)
			if tt.cfg["key"] != "" {
				assert.Equal(t, "taskgraph", azb.prefix)
			}
		})
	}
}

func TestBackend_blobPath(t *testing.T) {
	key := backend.Key{ClusterID: "1", PlanID: "p"}
	tests := []struct {
		prefix   string
		expected string
	}{
		{prefix: "", expected: "clusters/1/plans/p.json"},
		{prefix: "env/staging", expected: "env/staging/clusters/1/plans/p.json"},
	}

	for _, tt := range tests {
		b := &Backend{prefix: tt.prefix}
		assert.Equal(t, tt.expected, b.blobPath(key), "prefix %q", tt.prefix)
	}
}

func TestBackend_CreateIsConditional(t *testing.T) {
	b, fake := newFakeBackend(t, "taskgraph")
	ctx := context.Background()
	key := backend.Key{ClusterID: "1", PlanID: "p1"}

	require.NoError(t, b.Create(ctx, key, []byte(`{"id":"p1"}`)))
	assert.ErrorIs(t, b.Create(ctx, key, []byte(`{"id":"other"}`)), backend.ErrExists)

	assert.Equal(t, []string{"*", "*"}, fake.conditions)
	assert.Equal(t, `{"id":"p1"}`, string(fake.blobs["taskgraph/clusters/1/plans/p1.json"]))
}

func TestBackend_ReadDelete(t *testing.T) {
	b, _ := newFakeBackend(t, "")
	ctx := context.Background()
	key := backend.Key{ClusterID: "1", PlanID: "p1"}

	_, err := b.Read(ctx, key)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, b.Create(ctx, key, []byte("{}")))
	got, err := b.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	require.NoError(t, b.Delete(ctx, key))
	assert.NoError(t, b.Delete(ctx, key), "deleting a missing plan should succeed")
}

func TestBackend_Keys(t *testing.T) {
	b, fake := newFakeBackend(t, "taskgraph")

	fake.blobs["taskgraph/clusters/1/plans/b.json"] = nil
	fake.blobs["taskgraph/clusters/1/plans/a.json"] = nil
	fake.blobs["taskgraph/clusters/10/plans/a.json"] = nil
	fake.blobs["taskgraph/clusters/1/lock"] = nil

	keys, err := b.Keys(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []backend.Key{{ClusterID: "1", PlanID: "a"}, {ClusterID: "1", PlanID: "b"}}, keys)

	keys, err = b.Keys(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestTo(t *testing.T) {
	p := to("application/json")
	require.NotNil(t, p)
	assert.Equal(t, "application/json", *p)
}

func TestBackend_InterfaceCompliance(t *testing.T) {
	var _ backend.Backend = (*Backend)(nil)
}
