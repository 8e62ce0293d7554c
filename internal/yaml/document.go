// Package yaml loads workflow documents into node trees.
package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/workflowo/internal/model"
)

var documentExtensions = map[string]bool{
	".yml":  true,
	".yaml": true,
}

// LoadDocument reads a workflow file and returns its top-level mapping node.
// The file must exist, be a regular file and carry a .yml/.yaml extension.
func LoadDocument(path string) (*yamlv3.Node, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a file", path)
	}
	if !documentExtensions[strings.ToLower(filepath.Ext(path))] {
		return nil, fmt.Errorf("%s is not a yaml file", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseDocument(content)
}

// ParseDocument parses document content, checks it against the document
// schema and returns the top-level mapping node.
func ParseDocument(content []byte) (*yamlv3.Node, error) {
	var doc yamlv3.Node
	if err := yamlv3.Unmarshal(content, &doc); err != nil {
		return nil, &model.ConfigError{Message: fmt.Sprintf("incorrect yaml: %v", err)}
	}
	if doc.Kind != yamlv3.DocumentNode || len(doc.Content) == 0 {
		return nil, &model.ConfigError{Message: "document is empty"}
	}

	root := doc.Content[0]
	if root.Kind != yamlv3.MappingNode {
		return nil, model.ConfigErrorAt(root.Line, root.Column, "document must be a mapping of job names to task lists")
	}
	if err := checkJobKeys(root); err != nil {
		return nil, err
	}
	if err := ValidateDocumentSchema(root); err != nil {
		return nil, err
	}
	return root, nil
}

// checkJobKeys enforces plain, unique string keys at the top level.
func checkJobKeys(root *yamlv3.Node) error {
	seen := make(map[string]int, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if key.Kind != yamlv3.ScalarNode || key.ShortTag() != "!!str" || key.Value == "" {
			return model.ConfigErrorAt(key.Line, key.Column, "job %q does not have a valid string as name", key.Value)
		}
		if line, dup := seen[key.Value]; dup {
			return model.ConfigErrorAt(key.Line, key.Column, "job %q is already defined on line %d", key.Value, line)
		}
		seen[key.Value] = key.Line
	}
	return nil
}
