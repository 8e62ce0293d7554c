// Package tag turns the custom YAML tags of a workflow document (!StrF,
// !Input, !HiddenInput, !Id) into concrete string values.
//
// Parsing and resolution are separate steps: Parse checks a node's structure
// and builds a Value without side effects, and a Resolver evaluates Values,
// prompting on its Console and memoizing !Id results in its Cache.
package tag

import (
	"fmt"
	"strings"
)

// Tag names as they appear in documents.
const (
	TagStrF        = "!StrF"
	TagInput       = "!Input"
	TagHiddenInput = "!HiddenInput"
	TagID          = "!Id"
)

// Value is a parsed scalar position of a document. The set of
// implementations is closed: Plain, StrF, Input, HiddenInput and ID.
type Value interface {
	fmt.Stringer
	resolve(r *Resolver) (string, error)
}

// Plain is an untagged scalar.
type Plain struct {
	Text string
}

// Literal wraps text as a Plain value.
func Literal(text string) Plain { return Plain{Text: text} }

func (p Plain) String() string { return fmt.Sprintf("%q", p.Text) }

// StrF concatenates its resolved parts.
type StrF struct {
	Parts []Value
}

func (s StrF) String() string {
	parts := make([]string, 0, len(s.Parts))
	for _, p := range s.Parts {
		parts = append(parts, p.String())
	}
	return TagStrF + " [" + strings.Join(parts, ", ") + "]"
}

// Input prompts for one line of console input.
type Input struct {
	Prompt  Value
	Default Value // nil when no default was given
}

func (i Input) String() string { return TagInput + " " + i.Prompt.String() }

// HiddenInput prompts like Input with echo suppressed.
type HiddenInput struct {
	Prompt  Value
	Default Value
}

func (h HiddenInput) String() string { return TagHiddenInput + " " + h.Prompt.String() }

// ID pins the value of Inner under Key for the rest of the run.
type ID struct {
	Key   string
	Inner Value
}

func (i ID) String() string { return fmt.Sprintf("%s [%q, %s]", TagID, i.Key, i.Inner) }

// IsTagged reports whether v needs a Resolver to produce its text, i.e.
// anything but a Plain value.
func IsTagged(v Value) bool {
	_, plain := v.(Plain)
	return !plain
}
