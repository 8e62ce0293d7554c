package yaml

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrDocumentExists is returned by WriteDocument when the target exists and
// overwriting was not requested.
var ErrDocumentExists = errors.New("document already exists")

// starterDocument is written by `workflowo init`.
const starterDocument = `# IGNORE is not a job. Values here are resolved once at the start of a run
# and anchors defined here can be used by any job.
IGNORE:
  - &host !Id [host, !Input ["Host: ", localhost]]

hello:
  - print: !StrF ["Hello from ", *host]

build:
  - on-linux:
      - bash: echo building on linux
  - on-windows:
      - cmd: echo building on windows

all:
  - hello
  - build
`

// StarterDocument returns a small example workflow.
func StarterDocument() []byte {
	return []byte(starterDocument)
}

// WriteDocument writes content to path through a temp file and a rename,
// so readers never see a partial document. content must parse as a valid
// workflow document. An existing file is kept as path.bak when overwrite is
// set.
func WriteDocument(path string, content []byte, overwrite bool) error {
	if !documentExtensions[strings.ToLower(filepath.Ext(path))] {
		return fmt.Errorf("%s is not a yaml file", path)
	}
	if _, err := ParseDocument(content); err != nil {
		return fmt.Errorf("refusing to write invalid document: %w", err)
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !overwrite {
		return fmt.Errorf("%s: %w", path, ErrDocumentExists)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".workflowo-tmp-*.yml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if exists {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
