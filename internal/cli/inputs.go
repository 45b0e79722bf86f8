package cli

import (
	"fmt"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
)

// loadRelease reads the release catalog. An empty path yields an empty
// catalog, which is only useful for legacy clusters.
func loadRelease(path string) ([]*catalog.Template, error) {
	if path == "" {
		return nil, nil
	}
	templates, err := catalog.NewLoader().Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return templates, nil
}

func loadClusters(paths []string) ([]*cluster.Cluster, error) {
	clusters := make([]*cluster.Cluster, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		c, err := cluster.Load(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load topology: %w", err)
		}
		if prev, ok := seen[c.ID]; ok {
			return nil, fmt.Errorf("cluster %s is defined in both %s and %s", c.ID, prev, p)
		}
		seen[c.ID] = p
		clusters = append(clusters, c)
	}
	return clusters, nil
}

func toNodeIDs(ids []string) []cluster.NodeID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]cluster.NodeID, len(ids))
	for i, id := range ids {
		out[i] = cluster.NodeID(id)
	}
	return out
}
