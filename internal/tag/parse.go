package tag

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/msageha/workflowo/internal/model"
)

// IsCustom reports whether node carries one of the document's local tags
// (as opposed to a core schema tag such as !!str).
func IsCustom(node *yaml.Node) bool {
	return strings.HasPrefix(node.Tag, "!") && !strings.HasPrefix(node.Tag, "!!")
}

// Parse converts a node in value position into a Value. It validates
// tag arity and argument types but never evaluates anything.
func Parse(node *yaml.Node) (Value, error) {
	node = deref(node)
	if IsCustom(node) {
		switch node.Tag {
		case TagStrF:
			return parseStrF(node)
		case TagInput:
			prompt, def, err := parseInputArgs(node)
			if err != nil {
				return nil, err
			}
			return Input{Prompt: prompt, Default: def}, nil
		case TagHiddenInput:
			prompt, def, err := parseInputArgs(node)
			if err != nil {
				return nil, err
			}
			return HiddenInput{Prompt: prompt, Default: def}, nil
		case TagID:
			return parseID(node)
		default:
			return nil, errorAt(node, "%s is not a valid tag", node.Tag)
		}
	}

	if node.Kind != yaml.ScalarNode {
		return nil, errorAt(node, "expected a scalar value, got %s", kindName(node))
	}
	if node.ShortTag() == "!!null" {
		return Plain{}, nil
	}
	return Plain{Text: node.Value}, nil
}

func parseStrF(node *yaml.Node) (Value, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, errorAt(node, "%s needs a sequence of values, got %s", TagStrF, kindName(node))
	}
	parts := make([]Value, 0, len(node.Content))
	for _, child := range node.Content {
		v, err := Parse(child)
		if err != nil {
			return nil, err
		}
		parts = append(parts, v)
	}
	return StrF{Parts: parts}, nil
}

// parseInputArgs accepts `prompt`, `[prompt]`, `[prompt, default]` or
// `{prompt: ..., default: ...}`.
func parseInputArgs(node *yaml.Node) (prompt, def Value, err error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return Plain{Text: node.Value}, nil, nil
	case yaml.SequenceNode:
		if n := len(node.Content); n != 1 && n != 2 {
			return nil, nil, errorAt(node, "%s takes 1 or 2 arguments but got %d", node.Tag, n)
		}
		if prompt, err = Parse(node.Content[0]); err != nil {
			return nil, nil, err
		}
		if len(node.Content) == 2 {
			if def, err = Parse(node.Content[1]); err != nil {
				return nil, nil, err
			}
		}
		return prompt, def, nil
	case yaml.MappingNode:
		promptNode, defNode := lookup(node, "prompt"), lookup(node, "default")
		if promptNode == nil {
			return nil, nil, errorAt(node, "prompt was not provided in %s", node.Tag)
		}
		if prompt, err = Parse(promptNode); err != nil {
			return nil, nil, err
		}
		if defNode != nil {
			if def, err = Parse(defNode); err != nil {
				return nil, nil, err
			}
		}
		return prompt, def, nil
	default:
		return nil, nil, errorAt(node, "%s prompt must be a string, sequence or map", node.Tag)
	}
}

// parseID accepts `[id, inner]` or `{id: ..., value: inner}`.
func parseID(node *yaml.Node) (Value, error) {
	var keyNode, innerNode *yaml.Node
	switch node.Kind {
	case yaml.SequenceNode:
		if len(node.Content) != 2 {
			return nil, errorAt(node, "%s takes [id, value] but got %d elements", TagID, len(node.Content))
		}
		keyNode, innerNode = node.Content[0], node.Content[1]
	case yaml.MappingNode:
		keyNode, innerNode = lookup(node, "id"), lookup(node, "value")
		if keyNode == nil {
			return nil, errorAt(node, "id key not given in %s map", TagID)
		}
		if innerNode == nil {
			return nil, errorAt(node, "value key not given in %s map", TagID)
		}
	default:
		return nil, errorAt(node, "%s value needs to be a map or sequence", TagID)
	}

	keyNode = deref(keyNode)
	if keyNode.Kind != yaml.ScalarNode || IsCustom(keyNode) || keyNode.Value == "" {
		return nil, errorAt(keyNode, "%s id must be a non-empty plain string", TagID)
	}
	inner, err := Parse(innerNode)
	if err != nil {
		return nil, err
	}
	return ID{Key: keyNode.Value, Inner: inner}, nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func deref(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

func kindName(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	default:
		return "node"
	}
}

func errorAt(node *yaml.Node, format string, args ...any) error {
	return model.ConfigErrorAt(node.Line, node.Column, format, args...)
}
