package catalog

import (
	_ "embed"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// LegacyReleaseCutoff is the first release that ships its own task catalog.
const LegacyReleaseCutoff = "6.1.0"

var legacyCutoff = semver.MustParse(LegacyReleaseCutoff)

//go:embed legacy/tasks.yaml
var legacyCatalog []byte

// IsLegacyRelease reports whether a release version predates per-release
// catalogs. Unparsable versions are treated as current.
func IsLegacyRelease(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return v.LessThan(legacyCutoff)
}

// Legacy returns a fresh copy of the version-pinned static catalog.
func Legacy() ([]*Template, error) {
	templates, err := parseYAML(legacyCatalog)
	if err != nil {
		return nil, fmt.Errorf("embedded legacy catalog: %w", err)
	}
	return templates, nil
}
