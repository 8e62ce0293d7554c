package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/workflowo/internal/model"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

const sampleDocument = `IGNORE:
  greeting: &greeting hello from workflowo
hello:
  - print: *greeting
  - print: done
greet:
  - print: !Input "Name: "
deploy:
  - hello
  - on-windows:
      - cmd: echo never
  - greet
missing:
  - nowhere
loop-a:
  - loop-b
loop-b:
  - loop-a
`

type result struct {
	code   int
	stdout string
	stderr string
}

func writeDocument(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	t.Setenv(model.ConfigEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := execute(args, strings.NewReader(stdin), stdout, stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestRun_PrintsAndSucceeds(t *testing.T) {
	doc := writeDocument(t, sampleDocument)

	res := run(t, "", "run", doc, "hello")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hello from workflowo\ndone\n", res.stdout)
	assert.Contains(t, res.stderr, "Executing job hello")
	assert.Contains(t, res.stderr, "Job hello finished: 2 task(s)")
}

func TestRun_Shorthand(t *testing.T) {
	doc := writeDocument(t, sampleDocument)

	res := run(t, "", doc, "hello")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hello from workflowo\ndone\n", res.stdout)
}

func TestRun_PromptsOnStderr(t *testing.T) {
	doc := writeDocument(t, sampleDocument)

	res := run(t, "bob\n", "run", doc, "deploy", "--platform", "linux")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hello from workflowo\ndone\nbob\n", res.stdout)
	assert.Contains(t, res.stderr, "Name: ")
}

func TestRun_VerboseListsSteps(t *testing.T) {
	doc := writeDocument(t, sampleDocument)

	res := run(t, "", "run", "-v", doc, "hello")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "[1/2] hello[0]: print hello from workflowo\nhello from workflowo\n[2/2] hello[1]: print done\ndone\n", res.stdout)
}

func TestRun_DryRunDoesNotExecute(t *testing.T) {
	doc := writeDocument(t, sampleDocument)

	res := run(t, "", "run", "--dry-run", "--platform", "windows", doc, "deploy")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, strings.Join([]string{
		"[1/4] deploy[0] > hello[0]: print hello from workflowo",
		"[2/4] deploy[0] > hello[1]: print done",
		"[3/4] deploy[1]: cmd echo never",
		`[4/4] deploy[2] > greet[0]: print !Input "Name: "`,
	}, "\n")+"\n", res.stdout)
	assert.NotContains(t, res.stderr, "Executing job")
}

func TestRun_ExitCodes(t *testing.T) {
	doc := writeDocument(t, sampleDocument)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{name: "unknown job", args: []string{"run", doc, "absent"}, wantCode: 3, wantErr: `job "absent" not found`},
		{name: "unknown reference", args: []string{"run", doc, "missing"}, wantCode: 3, wantErr: `job "nowhere" referenced from "missing" not found`},
		{name: "cycle", args: []string{"run", doc, "loop-a"}, wantCode: 4, wantErr: "circular job reference"},
		{name: "missing file", args: []string{"run", filepath.Join(t.TempDir(), "none.yml"), "hello"}, wantCode: 1, wantErr: "stat"},
		{name: "wrong arity", args: []string{"run", doc}, wantCode: 1, wantErr: "accepts 2 arg(s)"},
		{name: "explicit config missing", args: []string{"run", "--config", filepath.Join(t.TempDir(), "c.yaml"), doc, "hello"}, wantCode: 2, wantErr: "read"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, "", tt.args...)
			assert.Equal(t, tt.wantCode, res.code)
			assert.Contains(t, res.stderr, tt.wantErr)
			assert.Empty(t, res.stdout)
		})
	}
}

func TestRun_CycleReportsCauseChain(t *testing.T) {
	doc := writeDocument(t, sampleDocument)

	res := run(t, "", "run", doc, "loop-a")
	require.Equal(t, 4, res.code)
	assert.Contains(t, res.stderr, `Error: job "loop-a" task 0`)
	assert.Contains(t, res.stderr, `╠══ Caused by: job "loop-b" task 0`)
	assert.Contains(t, res.stderr, `╚══ Caused by: circular job reference on "loop-a": loop-a -> loop-b -> loop-a`)
}

func TestRun_MalformedDocument(t *testing.T) {
	doc := writeDocument(t, "broken:\n  print: nope\n")

	res := run(t, "", "run", doc, "broken")
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.stderr, "Error:")
}

func TestRun_SelfReferencingAlias(t *testing.T) {
	doc := writeDocument(t, "j: &x [*x]\n")

	res := run(t, "", "run", doc, "j")
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.stderr, "Error: line 1")
	assert.Contains(t, res.stderr, "alias refers to itself")
}

func TestRun_WritesAuditLog(t *testing.T) {
	doc := writeDocument(t, sampleDocument)
	auditPath := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	res := run(t, "", "run", "--audit-log", auditPath, doc, "hello")
	require.Equal(t, 0, res.code, res.stderr)

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], `"event_type":"run_started"`)
	assert.Contains(t, lines[5], `"event_type":"run_finished"`)
	assert.Contains(t, lines[5], `"job":"hello"`)
}

func TestAuditVerify(t *testing.T) {
	doc := writeDocument(t, sampleDocument)
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.jsonl")
	config := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(config, []byte("audit:\n  path: "+auditPath+"\n  checksum: true\n"), 0o644))

	res := run(t, "", "run", "--config", config, doc, "hello")
	require.Equal(t, 0, res.code, res.stderr)

	res = run(t, "", "audit", "verify", "--config", config)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, auditPath+": 6 entries, 6 intact\n", res.stdout)

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"job":"hello"`, `"job":"other"`, 1)
	require.NoError(t, os.WriteFile(auditPath, []byte(tampered), 0o644))

	res = run(t, "", "audit", "verify", auditPath)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "6 entries, 5 intact")
	assert.Contains(t, res.stderr, "1 entries failed verification")
}

func TestList(t *testing.T) {
	doc := writeDocument(t, "build:\n  - print: b\nrelease:\n  - test\n  - build\ntest:\n  - build\n")

	res := run(t, "", "list", doc)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "build (1 task(s))\nrelease (2 task(s))\ntest (1 task(s))\n", res.stdout)

	res = run(t, "", "list", "--order", doc)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "build (1 task(s))\ntest (1 task(s))\nrelease (2 task(s))\n", res.stdout)
}

func TestValidate(t *testing.T) {
	good := writeDocument(t, "a:\n  - b\nb:\n  - print: hi\n")
	res := run(t, "", "validate", good)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, good+": ok (2 job(s))\n", res.stdout)

	bad := writeDocument(t, sampleDocument)
	res = run(t, "", "validate", bad)
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.stderr, "error: missing:")
	assert.Contains(t, res.stderr, "error: jobs: circular job reference on \"loop-a\"")
	assert.Contains(t, res.stderr, "problem(s) found")
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yml")

	res := run(t, "", "init", path)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "wrote "+path+"\n", res.stdout)

	res = run(t, "", "init", path)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "already exists")

	res = run(t, "", "init", "--force", path)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.FileExists(t, path+".bak")

	res = run(t, "", "list", path)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "hello (1 task(s))\nbuild (2 task(s))\nall (2 task(s))\n", res.stdout)

	res = run(t, "\n", "run", "--platform", "linux", path, "hello")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Hello from localhost\n", res.stdout)
}

func TestVersion(t *testing.T) {
	res := run(t, "", "version")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "workflowo "+version+"\n", res.stdout)
}

func TestErrorChain(t *testing.T) {
	inner := &model.CycleError{Name: "a", Chain: []string{"a", "b", "a"}}
	err := fmt.Errorf("expand deploy: %w", fmt.Errorf("%w", inner))

	assert.Equal(t, []string{
		"expand deploy",
		`circular job reference on "a": a -> b -> a`,
	}, errorChain(err))

	assert.Equal(t, []string{"plain"}, errorChain(errors.New("plain")))
	assert.Nil(t, errorChain(nil))
}

func TestPrintErrorChain(t *testing.T) {
	out := &bytes.Buffer{}
	err := fmt.Errorf("outer: %w", fmt.Errorf("middle: %w", errors.New("inner")))

	printErrorChain(out, err)
	assert.Equal(t, "Error: outer\n║\n╠══ Caused by: middle\n║\n╚══ Caused by: inner\n", out.String())
}
