package plan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/msageha/workflowo/internal/model"
	"github.com/msageha/workflowo/internal/tag"
)

// Frame is one level of the path that led to a step.
type Frame struct {
	Job   string
	Index int
}

// Step is a dispatchable task together with where it came from.
type Step struct {
	Task   InlineTask
	Origin []Frame // outermost job first
}

// Location renders the origin path, e.g. `deploy[1] > build[0]`.
func (s Step) Location() string {
	parts := make([]string, len(s.Origin))
	for i, f := range s.Origin {
		parts[i] = fmt.Sprintf("%s[%d]", f.Job, f.Index)
	}
	return strings.Join(parts, " > ")
}

// Expander flattens a job into steps for one platform. Tagged job names are
// resolved through the run's resolver as they are reached.
type Expander struct {
	doc      *Document
	platform Platform
	resolver *tag.Resolver
}

// NewExpander returns an Expander over doc. resolver may be nil when the
// document has no tagged job references.
func NewExpander(doc *Document, platform Platform, resolver *tag.Resolver) *Expander {
	return &Expander{doc: doc, platform: platform, resolver: resolver}
}

// Expand returns the steps of the named job in execution order. The whole
// reference graph reachable from the job is walked before anything is
// returned, so unknown references and cycles surface before any task runs.
func (e *Expander) Expand(name string) ([]Step, error) {
	var steps []Step
	if err := e.expandJob(name, "", nil, nil, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// expandJob appends the steps of job name. stack holds the names of the jobs
// currently being expanded; a repeat is a cycle. Repeated references among
// siblings are fine and expand again each time.
func (e *Expander) expandJob(name, referrer string, origin []Frame, stack []string, out *[]Step) error {
	if slices.Contains(stack, name) {
		chain := append(slices.Clone(stack), name)
		return &model.CycleError{Name: name, Chain: chain}
	}
	job, ok := e.doc.Job(name)
	if !ok {
		return &model.UnknownReferenceError{Name: name, Referrer: referrer}
	}

	stack = append(stack, name)
	for idx, spec := range job.Tasks {
		if err := e.expandSpec(job.Name, idx, spec, origin, stack, out); err != nil {
			return &JobError{Job: job.Name, Index: idx, Err: err}
		}
	}
	return nil
}

func (e *Expander) expandSpec(job string, idx int, spec TaskSpec, origin []Frame, stack []string, out *[]Step) error {
	here := append(slices.Clone(origin), Frame{Job: job, Index: idx})
	switch s := spec.(type) {
	case JobReference:
		name, err := e.resolveName(s.Name)
		if err != nil {
			return err
		}
		return e.expandJob(name, job, here, stack, out)
	case Conditional:
		for _, child := range s.evaluate(e.platform) {
			if err := e.expandSpec(job, idx, child, origin, stack, out); err != nil {
				return err
			}
		}
		return nil
	case InlineTask:
		*out = append(*out, Step{Task: s, Origin: here})
		return nil
	default:
		return fmt.Errorf("unsupported task %T", spec)
	}
}

func (e *Expander) resolveName(v tag.Value) (string, error) {
	if p, ok := v.(tag.Plain); ok {
		return p.Text, nil
	}
	if e.resolver == nil {
		return "", &model.ConfigError{Message: fmt.Sprintf("job reference %s needs a resolver", v)}
	}
	return e.resolver.Resolve(v)
}
