package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/davidthor/taskgraph/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Loader reads task catalogs.
type Loader interface {
	// Load reads a catalog file, or every catalog file of a directory in
	// lexical order.
	Load(path string) ([]*Template, error)

	// LoadFromBytes parses a catalog; the source path selects the format.
	LoadFromBytes(data []byte, sourcePath string) ([]*Template, error)
}

// formatDetectingLoader implements the Loader interface.
type formatDetectingLoader struct {
	hcl *HCLParser
}

// NewLoader creates a new catalog loader.
func NewLoader() Loader {
	return &formatDetectingLoader{hcl: NewHCLParser()}
}

// Load reads a catalog from a file or directory.
func (l *formatDetectingLoader) Load(path string) ([]*Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, fmt.Sprintf("failed to read %s", path), err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, fmt.Sprintf("failed to read %s", path), err)
		}
		return l.LoadFromBytes(data, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, fmt.Sprintf("failed to read %s", path), err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !isCatalogFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)

	var all []*Template
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParse, fmt.Sprintf("failed to read %s", f), err)
		}
		templates, err := l.LoadFromBytes(data, f)
		if err != nil {
			return nil, err
		}
		all = append(all, templates...)
	}

	return all, nil
}

// LoadFromBytes parses a catalog from raw bytes.
func (l *formatDetectingLoader) LoadFromBytes(data []byte, sourcePath string) ([]*Template, error) {
	if strings.EqualFold(filepath.Ext(sourcePath), ".hcl") {
		templates, diags, err := l.hcl.ParseBytes(data, sourcePath)
		if err != nil {
			return nil, errors.ParseError(sourcePath, err)
		}
		if diags.HasErrors() {
			return nil, errors.ParseError(sourcePath, fmt.Errorf("%s", diags.Error()))
		}
		return templates, nil
	}

	templates, err := parseYAML(data)
	if err != nil {
		return nil, errors.ParseError(sourcePath, err)
	}
	return templates, nil
}

// yamlDocument is the mapping form of a catalog file.
type yamlDocument struct {
	Tasks []*Template `yaml:"tasks"`
}

// parseYAML accepts either a bare list of templates or a mapping with a
// "tasks" key. Multi-document streams are concatenated.
func parseYAML(data []byte) ([]*Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var all []*Template
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if len(node.Content) == 0 {
			continue
		}
		root := node.Content[0]

		var templates []*Template
		switch root.Kind {
		case yaml.SequenceNode:
			if err := root.Decode(&templates); err != nil {
				return nil, err
			}
		case yaml.MappingNode:
			var doc yamlDocument
			if err := root.Decode(&doc); err != nil {
				return nil, err
			}
			templates = doc.Tasks
		default:
			return nil, fmt.Errorf("line %d: catalog must be a list of tasks or a mapping with a tasks key", root.Line)
		}

		for i, t := range templates {
			if t == nil || t.ID == "" {
				return nil, fmt.Errorf("task #%d has no id", len(all)+i+1)
			}
		}
		all = append(all, templates...)
	}
	return all, nil
}

func isCatalogFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".hcl":
		return true
	default:
		return false
	}
}
