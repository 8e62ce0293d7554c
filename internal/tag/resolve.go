package tag

import (
	"errors"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/msageha/workflowo/internal/model"
)

var errNoConsole = errors.New("no console attached")

// Console is the interactive terminal used by !Input and !HiddenInput.
// ReadLine and ReadHiddenLine return one line without its terminator.
type Console interface {
	Write(text string) error
	ReadLine() (string, error)
	ReadHiddenLine() (string, error)
}

// Cache is the run-scoped !Id memo store. Each key is written at most once.
type Cache struct {
	values map[string]string
}

// NewCache returns an empty cache for one run.
func NewCache() *Cache {
	return &Cache{values: make(map[string]string)}
}

// Lookup returns the value pinned under key, if any.
func (c *Cache) Lookup(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// store pins value under key unless the key is already present.
func (c *Cache) store(key, value string) {
	if _, ok := c.values[key]; !ok {
		c.values[key] = value
	}
}

// Len returns the number of pinned ids.
func (c *Cache) Len() int { return len(c.values) }

// Resolver evaluates Values for a single run. It is not safe for
// concurrent use; runs are sequential.
type Resolver struct {
	console Console
	cache   *Cache
}

// NewResolver returns a Resolver reading from console and memoizing into
// cache. A nil cache gets a fresh one.
func NewResolver(console Console, cache *Cache) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{console: console, cache: cache}
}

// Cache returns the run's id cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Resolve evaluates v to its string value.
func (r *Resolver) Resolve(v Value) (string, error) {
	return v.resolve(r)
}

// ResolveOptional resolves v, treating nil as the empty string.
func (r *Resolver) ResolveOptional(v Value) (string, error) {
	if v == nil {
		return "", nil
	}
	return v.resolve(r)
}

// ResolveTree walks node in document order and resolves every custom-tagged
// node it contains. Aliases are not followed, so an anchored node is
// evaluated once, where it is defined.
func (r *Resolver) ResolveTree(node *yaml.Node) error {
	if node == nil || node.Kind == yaml.AliasNode {
		return nil
	}
	if IsCustom(node) {
		v, err := Parse(node)
		if err != nil {
			return err
		}
		_, err = r.Resolve(v)
		return err
	}
	for _, child := range node.Content {
		if err := r.ResolveTree(child); err != nil {
			return err
		}
	}
	return nil
}

func (p Plain) resolve(*Resolver) (string, error) {
	return p.Text, nil
}

func (s StrF) resolve(r *Resolver) (string, error) {
	var sb strings.Builder
	for _, part := range s.Parts {
		text, err := part.resolve(r)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

func (i Input) resolve(r *Resolver) (string, error) {
	return r.prompt(i.Prompt, i.Default, false)
}

func (h HiddenInput) resolve(r *Resolver) (string, error) {
	return r.prompt(h.Prompt, h.Default, true)
}

func (i ID) resolve(r *Resolver) (string, error) {
	if v, ok := r.cache.Lookup(i.Key); ok {
		return v, nil
	}
	v, err := i.Inner.resolve(r)
	if err != nil {
		return "", err
	}
	r.cache.store(i.Key, v)
	return v, nil
}

func (r *Resolver) prompt(promptValue, defaultValue Value, hidden bool) (string, error) {
	label, err := promptValue.resolve(r)
	if err != nil {
		return "", err
	}
	if r.console == nil {
		return "", &model.IOError{Op: "read input", Err: errNoConsole}
	}
	if err := r.console.Write(label); err != nil {
		return "", &model.IOError{Op: "write prompt", Err: err}
	}

	var answer string
	if hidden {
		answer, err = r.console.ReadHiddenLine()
	} else {
		answer, err = r.console.ReadLine()
	}
	if err != nil {
		return "", &model.IOError{Op: "read input", Err: err}
	}
	if answer == "" && defaultValue != nil {
		return defaultValue.resolve(r)
	}
	return answer, nil
}
