package yaml

import (
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func parseNode(t *testing.T, src string) *yamlv3.Node {
	t.Helper()
	var doc yamlv3.Node
	if err := yamlv3.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return doc.Content[0]
}

func TestToInstance(t *testing.T) {
	node := parseNode(t, `
a: &x [1, true, ~, text]
b: *x
c: !Input "Name: "
d: !StrF [x, y]
`)
	instance, err := toInstance(node)
	if err != nil {
		t.Fatalf("toInstance: %v", err)
	}
	got, ok := instance.(map[string]any)
	if !ok {
		t.Fatalf("expected a map, got %T", instance)
	}

	seq, ok := got["a"].([]any)
	if !ok || len(seq) != 4 {
		t.Fatalf("a: got %#v", got["a"])
	}
	if seq[0] != float64(1) || seq[1] != true || seq[2] != nil || seq[3] != "text" {
		t.Errorf("a: got %#v", seq)
	}
	if alias, ok := got["b"].([]any); !ok || len(alias) != 4 {
		t.Errorf("alias not followed: %#v", got["b"])
	}
	if got["c"] != "!Input" || got["d"] != "!StrF" {
		t.Errorf("tagged values: c=%#v d=%#v", got["c"], got["d"])
	}
}

func TestValidateDocumentSchema_ReportsEveryLocation(t *testing.T) {
	node := parseNode(t, "a: {bash: ls}\nb:\n  - 3\n")
	err := ValidateDocumentSchema(node)
	if err == nil {
		t.Fatal("expected schema error")
	}
	for _, loc := range []string{"/a", "/b/0"} {
		if !strings.Contains(err.Error(), loc) {
			t.Errorf("error %q does not mention %s", err, loc)
		}
	}
}

func TestValidateDocumentSchema_Valid(t *testing.T) {
	node := parseNode(t, "IGNORE: {any: thing}\na:\n  - b\n  - print: hi\nb: []\n")
	if err := ValidateDocumentSchema(node); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestToInstance_SelfReferencingAlias(t *testing.T) {
	node := parseNode(t, "a: &x [1, *x]\n")
	_, err := toInstance(node)
	if err == nil {
		t.Fatal("expected an error for a self-referencing alias")
	}
	if !strings.Contains(err.Error(), "alias refers to itself") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestToInstance_RepeatedAliasIsNotACycle(t *testing.T) {
	node := parseNode(t, "a: &x [1]\nb: [*x, *x]\n")
	if _, err := toInstance(node); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
