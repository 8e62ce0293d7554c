package yaml

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/workflowo/internal/model"
)

const documentSchemaURL = "workflowo://schemas/document.schema.json"

//go:embed schemas/document.schema.json
var documentSchemaSource string

var (
	documentSchemaOnce sync.Once
	documentSchema     *jsonschema.Schema
	documentSchemaErr  error
)

func compiledDocumentSchema() (*jsonschema.Schema, error) {
	documentSchemaOnce.Do(func() {
		documentSchema, documentSchemaErr = jsonschema.CompileString(documentSchemaURL, documentSchemaSource)
	})
	return documentSchema, documentSchemaErr
}

// ValidateDocumentSchema checks the overall shape of a document: a mapping
// whose entries (other than IGNORE) are sequences of job names or
// single-key task mappings. Task parameters are checked later, when tasks
// are decoded.
func ValidateDocumentSchema(root *yamlv3.Node) error {
	schema, err := compiledDocumentSchema()
	if err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	instance, err := toInstance(root)
	if err != nil {
		return err
	}
	if err := schema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &model.ConfigError{Message: "document does not match schema: " + describeValidation(ve)}
		}
		return fmt.Errorf("validate document: %w", err)
	}
	return nil
}

// describeValidation flattens the innermost causes of a schema failure into
// one line per offending location.
func describeValidation(ve *jsonschema.ValidationError) string {
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}

// toInstance converts a node tree into the JSON-like value the schema
// validator expects. Custom-tagged nodes always resolve to strings, so they
// are represented by their tag name. An alias that points back at one of its
// own ancestors is rejected.
func toInstance(node *yamlv3.Node) (any, error) {
	return convertNode(node, make(map[*yamlv3.Node]bool))
}

func convertNode(node *yamlv3.Node, path map[*yamlv3.Node]bool) (any, error) {
	alias := node
	for node.Kind == yamlv3.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if path[node] {
		return nil, model.ConfigErrorAt(alias.Line, alias.Column, "alias refers to itself")
	}
	if strings.HasPrefix(node.Tag, "!") && !strings.HasPrefix(node.Tag, "!!") {
		return node.Tag, nil
	}
	switch node.Kind {
	case yamlv3.DocumentNode, yamlv3.MappingNode, yamlv3.SequenceNode:
		path[node] = true
		defer delete(path, node)
	}
	switch node.Kind {
	case yamlv3.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return convertNode(node.Content[0], path)
	case yamlv3.MappingNode:
		m := make(map[string]any, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			v, err := convertNode(node.Content[i+1], path)
			if err != nil {
				return nil, err
			}
			m[node.Content[i].Value] = v
		}
		return m, nil
	case yamlv3.SequenceNode:
		s := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			v, err := convertNode(child, path)
			if err != nil {
				return nil, err
			}
			s = append(s, v)
		}
		return s, nil
	}
	switch node.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err == nil {
			return b, nil
		}
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err == nil {
			return f, nil
		}
	}
	return node.Value, nil
}
