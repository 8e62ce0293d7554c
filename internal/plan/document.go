// Package plan decodes workflow documents into jobs and expands a job into
// the flat, ordered list of tasks a run executes.
package plan

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/msageha/workflowo/internal/model"
)

// IgnoreKey is the top-level key that holds shared, tagged values. It is
// never a job.
const IgnoreKey = "IGNORE"

// Job is a named, ordered list of tasks.
type Job struct {
	Name  string
	Line  int
	Tasks []TaskSpec
}

// Document is a decoded workflow file.
type Document struct {
	Jobs   map[string]*Job
	Names  []string   // job names in document order
	Ignore *yaml.Node // nil when the document has no IGNORE entry
}

// JobError attributes an error to a task of a job.
type JobError struct {
	Job   string
	Index int
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %q task %d: %v", e.Job, e.Index, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// NewDocument decodes the top-level mapping returned by the yaml loader.
// Tags inside tasks are parsed but not evaluated.
func NewDocument(root *yaml.Node) (*Document, error) {
	if root == nil || root.Kind != yaml.MappingNode {
		return nil, &model.ConfigError{Message: "document must be a mapping of job names to task lists"}
	}
	if err := checkAliases(root, make(map[*yaml.Node]bool)); err != nil {
		return nil, err
	}
	doc := &Document{Jobs: make(map[string]*Job, len(root.Content)/2)}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value == IgnoreKey {
			doc.Ignore = value
			continue
		}
		if _, dup := doc.Jobs[key.Value]; dup {
			return nil, errorAt(key, "job %q is already defined", key.Value)
		}

		job := &Job{Name: key.Value, Line: key.Line}
		value = deref(value)
		if value.Kind != yaml.SequenceNode {
			return nil, errorAt(value, "job %q must be a sequence of tasks", key.Value)
		}
		for idx, child := range value.Content {
			spec, err := decodeTask(child)
			if err != nil {
				return nil, &JobError{Job: job.Name, Index: idx, Err: err}
			}
			job.Tasks = append(job.Tasks, spec)
		}
		doc.Jobs[job.Name] = job
		doc.Names = append(doc.Names, job.Name)
	}
	return doc, nil
}

// Job returns the named job.
func (d *Document) Job(name string) (*Job, bool) {
	j, ok := d.Jobs[name]
	return j, ok
}

// checkAliases rejects alias cycles, including merge keys that pull in their
// own mapping. Decoding follows aliases freely once this has passed.
func checkAliases(node *yaml.Node, path map[*yaml.Node]bool) error {
	target := deref(node)
	if path[target] {
		return errorAt(node, "alias refers to itself")
	}
	if len(target.Content) == 0 {
		return nil
	}
	path[target] = true
	defer delete(path, target)
	for _, child := range target.Content {
		if err := checkAliases(child, path); err != nil {
			return err
		}
	}
	return nil
}
