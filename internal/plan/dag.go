package plan

import (
	"slices"

	"github.com/msageha/workflowo/internal/model"
	"github.com/msageha/workflowo/internal/tag"
)

// References returns, per job, the plain job names it references in order.
// Conditionals for other platforms are skipped; an empty platform keeps
// every branch. Tagged references cannot be known before a run and are left
// out.
func (d *Document) References(platform Platform) map[string][]string {
	refs := make(map[string][]string, len(d.Names))
	for _, name := range d.Names {
		refs[name] = collectRefs(d.Jobs[name].Tasks, platform, nil)
	}
	return refs
}

func collectRefs(specs []TaskSpec, platform Platform, out []string) []string {
	for _, spec := range specs {
		switch s := spec.(type) {
		case JobReference:
			if p, ok := s.Name.(tag.Plain); ok && !slices.Contains(out, p.Text) {
				out = append(out, p.Text)
			}
		case Conditional:
			if platform == "" || s.Applies(platform) {
				out = collectRefs(s.Children, platform, out)
			}
		}
	}
	return out
}

// ValidateReferences reports unknown job references and reference cycles
// without running anything. It returns nil when the document is clean.
func ValidateReferences(doc *Document, platform Platform) *ValidationErrors {
	refs := doc.References(platform)
	ve := &ValidationErrors{}
	for _, name := range doc.Names {
		for _, ref := range refs[name] {
			if _, ok := doc.Jobs[ref]; !ok {
				ve.Add(name, (&model.UnknownReferenceError{Name: ref, Referrer: name}).Error())
			}
		}
	}
	if _, err := sortJobs(doc.Names, refs); err != nil {
		ve.Add("jobs", err.Error())
	}
	if !ve.HasErrors() {
		return nil
	}
	return ve
}

// DependencyOrder lists the jobs so that every job comes after the jobs it
// references.
func DependencyOrder(doc *Document, platform Platform) ([]string, error) {
	return sortJobs(doc.Names, doc.References(platform))
}

// sortJobs uses Kahn's algorithm for topological sort.
// On cycle detection, uses DFS to find and report the cycle path.
func sortJobs(names []string, edges map[string][]string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	// in-degree counts references; forward maps referenced job -> referrers
	inDegree := make(map[string]int, len(names))
	forward := make(map[string][]string)
	for _, n := range names {
		inDegree[n] = 0
	}
	for _, n := range names {
		for _, ref := range edges[n] {
			if !known[ref] {
				continue // unknown refs are reported separately
			}
			inDegree[n]++
			forward[ref] = append(forward[ref], n)
		}
	}

	var queue []string
	for _, n := range names {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	sorted := make([]string, 0, len(names))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		sorted = append(sorted, n)
		for _, referrer := range forward[n] {
			inDegree[referrer]--
			if inDegree[referrer] == 0 {
				queue = append(queue, referrer)
			}
		}
	}

	if len(sorted) == len(names) {
		return sorted, nil
	}

	chain := findCycle(names, edges, inDegree)
	return nil, &model.CycleError{Name: chain[0], Chain: chain}
}

// findCycle returns one cycle among jobs left with a non-zero in-degree,
// starting and ending with the same name.
func findCycle(names []string, edges map[string][]string, inDegree map[string]int) []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // finished
	)

	color := make(map[string]int, len(names))
	var path, cycle []string

	var dfs func(n string) bool
	dfs = func(n string) bool {
		color[n] = gray
		path = append(path, n)
		for _, ref := range edges[n] {
			switch color[ref] {
			case gray:
				start := slices.Index(path, ref)
				cycle = append(slices.Clone(path[start:]), ref)
				return true
			case white:
				if _, ok := inDegree[ref]; ok && dfs(ref) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	for _, n := range names {
		if inDegree[n] > 0 && color[n] == white {
			if dfs(n) {
				return cycle
			}
		}
	}
	return []string{"(cycle detected)"}
}
