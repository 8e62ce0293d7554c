package yaml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/workflowo/internal/model"
)

func TestParseDocument_Valid(t *testing.T) {
	root, err := ParseDocument([]byte(`
IGNORE:
  - &pw !Id [pw, !HiddenInput "Password: "]
  - anything: [goes, here]
build:
  - bash: make
  - print: !StrF [done, "!"]
deploy:
  - build
  - on-linux:
      - bash: ./deploy.sh
  - ssh:
      address: 10.0.0.1
      username: root
      password: *pw
      commands: [uptime]
empty: []
`))
	require.NoError(t, err)
	assert.Len(t, root.Content, 8)
}

func TestParseDocument_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{name: "empty", src: "", msg: "document is empty"},
		{name: "not a mapping", src: "- a\n- b\n", msg: "must be a mapping"},
		{name: "broken yaml", src: "a: [b\n", msg: "incorrect yaml"},
		{name: "duplicate job", src: "a: []\na: []\n", msg: "already defined"},
		{name: "numeric job name", src: "1: []\n", msg: "valid string as name"},
		{name: "job is not a list", src: "a: {bash: ls}\n", msg: "does not match schema"},
		{name: "job is null", src: "a:\n", msg: "does not match schema"},
		{name: "task with two keys", src: "a:\n  - bash: ls\n    cmd: dir\n", msg: "does not match schema"},
		{name: "task is a number", src: "a:\n  - 3\n", msg: "does not match schema"},
		{name: "job aliases itself", src: "j: &x [*x]\n", msg: "alias refers to itself"},
		{name: "IGNORE aliases itself", src: "IGNORE: &x [*x]\nj: [a]\n", msg: "alias refers to itself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.src))
			var cfgErr *model.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParseDocument_TaggedJobReferencePassesSchema(t *testing.T) {
	_, err := ParseDocument([]byte(`
a:
  - !StrF [b]
b: []
`))
	assert.NoError(t, err)
}

func TestParseDocument_IgnoreMayHoldAnything(t *testing.T) {
	_, err := ParseDocument([]byte(`
IGNORE: 42
a: []
`))
	assert.NoError(t, err)
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "jobs.yml")
	require.NoError(t, os.WriteFile(good, []byte("hello:\n  - print: hi\n"), 0644))
	root, err := LoadDocument(good)
	require.NoError(t, err)
	assert.Equal(t, "hello", root.Content[0].Value)

	upper := filepath.Join(dir, "jobs.YAML")
	require.NoError(t, os.WriteFile(upper, []byte("hello: []\n"), 0644))
	_, err = LoadDocument(upper)
	assert.NoError(t, err)

	wrongExt := filepath.Join(dir, "jobs.json")
	require.NoError(t, os.WriteFile(wrongExt, []byte("hello: []\n"), 0644))
	_, err = LoadDocument(wrongExt)
	assert.ErrorContains(t, err, "is not a yaml file")

	_, err = LoadDocument(filepath.Join(dir, "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadDocument(dir)
	assert.ErrorContains(t, err, "is not a file")
}
