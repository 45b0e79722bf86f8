// Package backend defines where archived plans live and a registry of named
// storage implementations.
package backend

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned by Read when no plan is stored under a key.
	ErrNotFound = errors.New("plan not found")

	// ErrExists is returned by Create when a plan is already stored under a key.
	ErrExists = errors.New("plan already stored")
)

const planExt = ".json"

// Key addresses one archived plan. Plan ids are derived from plan content,
// so a key always names the same document.
type Key struct {
	ClusterID string `json:"cluster_id" yaml:"cluster_id"`
	PlanID    string `json:"plan_id" yaml:"plan_id"`
}

// Path returns the object path of the plan: clusters/<cluster>/plans/<plan>.json
func (k Key) Path() string {
	return path.Join(ClusterPrefix(k.ClusterID), k.PlanID+planExt)
}

func (k Key) String() string {
	return k.ClusterID + "/" + k.PlanID
}

// ClusterPrefix returns the path prefix holding the plans of a cluster, or
// of every cluster when clusterID is empty. It always ends with a slash.
func ClusterPrefix(clusterID string) string {
	if clusterID == "" {
		return "clusters/"
	}
	return "clusters/" + clusterID + "/plans/"
}

// ParsePath recovers the key of a plan path. Paths that are not plan
// documents of the expected layout are rejected.
func ParsePath(p string) (Key, bool) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) != 4 || parts[0] != "clusters" || parts[2] != "plans" {
		return Key{}, false
	}
	id, ok := strings.CutSuffix(parts[3], planExt)
	if !ok || id == "" || parts[1] == "" {
		return Key{}, false
	}
	return Key{ClusterID: parts[1], PlanID: id}, true
}

// CollectKeys parses listed paths into the keys of clusterID (all clusters
// when empty), sorted by cluster then plan id. Foreign objects are dropped.
func CollectKeys(paths []string, clusterID string) []Key {
	keys := []Key{}
	for _, p := range paths {
		k, ok := ParsePath(p)
		if !ok || (clusterID != "" && k.ClusterID != clusterID) {
			continue
		}
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// SortKeys orders keys by cluster then plan id.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ClusterID != keys[j].ClusterID {
			return keys[i].ClusterID < keys[j].ClusterID
		}
		return keys[i].PlanID < keys[j].PlanID
	})
}

// Backend stores plan documents. Stored plans are immutable: Create is the
// only write and never replaces an existing document.
type Backend interface {
	// Type returns the registered name of the backend.
	Type() string

	// Create stores doc under key unless a plan is already there, in which
	// case it returns ErrExists. The check and the write are one atomic
	// operation on the storage side.
	Create(ctx context.Context, key Key, doc []byte) error

	// Read returns the document stored under key, or ErrNotFound.
	Read(ctx context.Context, key Key) ([]byte, error)

	// Delete removes a plan. Deleting a missing plan is not an error.
	Delete(ctx context.Context, key Key) error

	// Keys lists the plans of a cluster, or of every cluster when clusterID
	// is empty, sorted by cluster then plan id.
	Keys(ctx context.Context, clusterID string) ([]Key, error)
}

// Config selects and configures a backend.
type Config struct {
	Type   string            `json:"type" yaml:"type" mapstructure:"type"`
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty" mapstructure:"config"`
}

// Factory builds a backend from its configuration map.
type Factory func(config map[string]string) (Backend, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend available by name. Backends register themselves
// from init, so importing a backend package is enough to enable it.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create builds the backend named by config.Type.
func Create(config Config) (Backend, error) {
	mu.RLock()
	factory, ok := factories[config.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q (available: %v)", config.Type, Types())
	}

	cfg := config.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	return factory(cfg)
}

// Types returns the registered backend names in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
