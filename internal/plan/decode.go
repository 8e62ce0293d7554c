package plan

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/msageha/workflowo/internal/model"
	"github.com/msageha/workflowo/internal/tag"
)

var (
	shellKeys    = []string{"command", "work_dir", "exit_codes"}
	sshKeys      = []string{"address", "username", "password", "port", "commands"}
	transferKeys = []string{"address", "username", "password", "port", "remote_path", "local_path"}
	commandKeys  = []string{"command", "exit_codes"}
)

// decodeTask converts one entry of a job's task list into a TaskSpec.
// Tags are parsed but not evaluated.
func decodeTask(node *yaml.Node) (TaskSpec, error) {
	node = deref(node)
	if tag.IsCustom(node) || node.Kind == yaml.ScalarNode {
		name, err := tag.Parse(node)
		if err != nil {
			return nil, err
		}
		return JobReference{Name: name, Line: node.Line}, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, errorAt(node, "task must be a job name or a mapping, got %s", kindName(node))
	}
	entries, err := mappingEntries(node)
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return nil, errorAt(node, "task must have exactly one type key, got %d", len(entries))
	}

	key, value := entries[0].key, entries[0].value
	kind := Kind(key.Value)
	switch kind {
	case KindBash, KindCmd:
		return decodeShell(kind, value)
	case KindOnLinux:
		return decodeConditional(PlatformLinux, value)
	case KindOnWindows:
		return decodeConditional(PlatformWindows, value)
	case KindSSH:
		return decodeSSH(value)
	case KindSCPDownload, KindSCPUpload, KindSFTPDownload, KindSFTPUpload:
		return decodeTransfer(kind, value)
	case KindPrint:
		return decodePrint(value)
	case kindParallel:
		return nil, errorAt(key, "parallel execution is not supported")
	default:
		return nil, errorAt(key, "unrecognized task %q", key.Value)
	}
}

// decodeTasks decodes a sequence of task entries.
func decodeTasks(node *yaml.Node) ([]TaskSpec, error) {
	node = deref(node)
	if node.Kind != yaml.SequenceNode || tag.IsCustom(node) {
		return nil, errorAt(node, "expected a sequence of tasks, got %s", kindName(node))
	}
	specs := make([]TaskSpec, 0, len(node.Content))
	for i, child := range node.Content {
		spec, err := decodeTask(child)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func decodeShell(kind Kind, node *yaml.Node) (TaskSpec, error) {
	node = deref(node)
	task := ShellTask{Interpreter: kind, AllowedExitCodes: DefaultExitCodes}
	switch {
	case isValue(node):
		cmd, err := tag.Parse(node)
		if err != nil {
			return nil, err
		}
		task.Command = cmd
	case node.Kind == yaml.SequenceNode:
		cmd, err := joinValues(node, " ")
		if err != nil {
			return nil, err
		}
		task.Command = cmd
	default:
		p, err := newParams(node, kind, shellKeys)
		if err != nil {
			return nil, err
		}
		if task.Command, err = p.value("command", true); err != nil {
			return nil, err
		}
		if task.WorkDir, err = p.value("work_dir", false); err != nil {
			return nil, err
		}
		if task.AllowedExitCodes, err = p.exitCodes(); err != nil {
			return nil, err
		}
	}
	return task, nil
}

func decodeConditional(target Platform, node *yaml.Node) (TaskSpec, error) {
	node = deref(node)
	if node.Kind == yaml.MappingNode && !tag.IsCustom(node) {
		p, err := newParams(node, Kind("on-"+string(target)), []string{"tasks"})
		if err != nil {
			return nil, err
		}
		tasks, ok := p.fields["tasks"]
		if !ok {
			return nil, errorAt(node, "on-%s needs a tasks list", target)
		}
		node = tasks
	}
	children, err := decodeTasks(node)
	if err != nil {
		return nil, fmt.Errorf("on-%s: %w", target, err)
	}
	return Conditional{Target: target, Children: children}, nil
}

func decodeSSH(node *yaml.Node) (TaskSpec, error) {
	p, err := newParams(node, KindSSH, sshKeys)
	if err != nil {
		return nil, err
	}
	remote, err := p.remote()
	if err != nil {
		return nil, err
	}

	cmdsNode, ok := p.fields["commands"]
	if !ok {
		return nil, errorAt(p.node, "ssh commands are not given")
	}
	cmdsNode = deref(cmdsNode)
	if cmdsNode.Kind != yaml.SequenceNode || tag.IsCustom(cmdsNode) {
		return nil, errorAt(cmdsNode, "ssh commands are not a sequence")
	}
	task := SSHTask{Remote: remote, Commands: make([]CommandSpec, 0, len(cmdsNode.Content))}
	for i, item := range cmdsNode.Content {
		cmd, err := decodeCommand(item)
		if err != nil {
			return nil, fmt.Errorf("ssh command %d: %w", i, err)
		}
		task.Commands = append(task.Commands, cmd)
	}
	return task, nil
}

// decodeCommand accepts `cmd`, `{command: cmd, exit_codes: [...]}` and the
// nested `{command: {command: cmd, exit_codes: [...]}}`.
func decodeCommand(node *yaml.Node) (CommandSpec, error) {
	node = deref(node)
	if isValue(node) {
		cmd, err := tag.Parse(node)
		if err != nil {
			return CommandSpec{}, err
		}
		return CommandSpec{Command: cmd, AllowedExitCodes: DefaultExitCodes}, nil
	}
	if node.Kind != yaml.MappingNode {
		return CommandSpec{}, errorAt(node, "command must be a string or mapping, got %s", kindName(node))
	}
	entries, err := mappingEntries(node)
	if err != nil {
		return CommandSpec{}, err
	}
	if len(entries) == 1 && entries[0].key.Value == "command" {
		if inner := deref(entries[0].value); inner.Kind == yaml.MappingNode && !tag.IsCustom(inner) {
			node = inner
		}
	}

	p, err := newParams(node, KindSSH, commandKeys)
	if err != nil {
		return CommandSpec{}, err
	}
	cmd := CommandSpec{}
	if cmd.Command, err = p.value("command", true); err != nil {
		return CommandSpec{}, err
	}
	if cmd.AllowedExitCodes, err = p.exitCodes(); err != nil {
		return CommandSpec{}, err
	}
	return cmd, nil
}

func decodeTransfer(kind Kind, node *yaml.Node) (TaskSpec, error) {
	p, err := newParams(node, kind, transferKeys)
	if err != nil {
		return nil, err
	}
	task := TransferTask{Op: kind}
	if task.Remote, err = p.remote(); err != nil {
		return nil, err
	}
	if task.RemotePath, err = p.value("remote_path", true); err != nil {
		return nil, err
	}
	if task.LocalPath, err = p.value("local_path", true); err != nil {
		return nil, err
	}
	return task, nil
}

func decodePrint(node *yaml.Node) (TaskSpec, error) {
	node = deref(node)
	switch {
	case isValue(node):
		v, err := tag.Parse(node)
		if err != nil {
			return nil, err
		}
		return PrintTask{Value: v}, nil
	case node.Kind == yaml.SequenceNode:
		v, err := joinValues(node, "\n")
		if err != nil {
			return nil, err
		}
		return PrintTask{Value: v}, nil
	default:
		p, err := newParams(node, KindPrint, []string{"value"})
		if err != nil {
			return nil, err
		}
		v, err := p.value("value", true)
		if err != nil {
			return nil, err
		}
		return PrintTask{Value: v}, nil
	}
}

// joinValues joins a sequence of values with sep. Tagged items make the
// result a StrF evaluated at run time.
func joinValues(node *yaml.Node, sep string) (tag.Value, error) {
	if len(node.Content) == 0 {
		return nil, errorAt(node, "sequence is empty")
	}
	parts := make([]tag.Value, 0, 2*len(node.Content)-1)
	texts := make([]string, 0, len(node.Content))
	plain := true
	for i, child := range node.Content {
		v, err := tag.Parse(child)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			parts = append(parts, tag.Literal(sep))
		}
		parts = append(parts, v)
		if p, ok := v.(tag.Plain); ok {
			texts = append(texts, p.Text)
		} else {
			plain = false
		}
	}
	if plain {
		return tag.Literal(strings.Join(texts, sep)), nil
	}
	return tag.StrF{Parts: parts}, nil
}

// params holds the long-form parameters of one task.
type params struct {
	node   *yaml.Node
	kind   Kind
	fields map[string]*yaml.Node
}

func newParams(node *yaml.Node, kind Kind, allowed []string) (*params, error) {
	node = deref(node)
	if node.Kind != yaml.MappingNode || tag.IsCustom(node) {
		return nil, errorAt(node, "%s parameters must be a mapping, got %s", kind, kindName(node))
	}
	entries, err := mappingEntries(node)
	if err != nil {
		return nil, err
	}
	p := &params{node: node, kind: kind, fields: make(map[string]*yaml.Node, len(entries))}
	for _, e := range entries {
		if !slices.Contains(allowed, e.key.Value) {
			return nil, errorAt(e.key, "%s does not take parameter %q", kind, e.key.Value)
		}
		p.fields[e.key.Value] = e.value
	}
	return p, nil
}

func (p *params) value(key string, required bool) (tag.Value, error) {
	node, ok := p.fields[key]
	if !ok {
		if required {
			return nil, errorAt(p.node, "%s %s is not given", p.kind, key)
		}
		return nil, nil
	}
	v, err := tag.Parse(node)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", p.kind, key, err)
	}
	return v, nil
}

func (p *params) exitCodes() ([]int, error) {
	node, ok := p.fields["exit_codes"]
	if !ok {
		return DefaultExitCodes, nil
	}
	node = deref(node)
	if node.Kind != yaml.SequenceNode || tag.IsCustom(node) {
		return nil, errorAt(node, "allowed exit codes is not a sequence")
	}
	if len(node.Content) == 0 {
		return nil, errorAt(node, "no exit codes are provided")
	}
	codes := make([]int, 0, len(node.Content))
	for _, item := range node.Content {
		item = deref(item)
		var code int
		if item.Kind != yaml.ScalarNode || item.ShortTag() != "!!int" || item.Decode(&code) != nil {
			return nil, errorAt(item, "exit code %q is not a number", item.Value)
		}
		if !slices.Contains(codes, code) {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (p *params) remote() (Remote, error) {
	var (
		r   Remote
		err error
	)
	if r.Address, err = p.value("address", true); err != nil {
		return Remote{}, err
	}
	if r.Username, err = p.value("username", true); err != nil {
		return Remote{}, err
	}
	if r.Password, err = p.value("password", true); err != nil {
		return Remote{}, err
	}
	if node, ok := p.fields["port"]; ok {
		node = deref(node)
		if node.ShortTag() != "!!int" || node.Decode(&r.Port) != nil || r.Port < 1 || r.Port > 65535 {
			return Remote{}, errorAt(node, "port %q is not a valid port number", node.Value)
		}
	}
	return r, nil
}

type entry struct {
	key   *yaml.Node
	value *yaml.Node
}

// mappingEntries lists a mapping's key/value pairs, expanding YAML merge
// keys (<<). Explicit keys take precedence over merged ones.
func mappingEntries(node *yaml.Node) ([]entry, error) {
	var explicit, merged []entry
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.ShortTag() != "!!merge" {
			explicit = append(explicit, entry{key: key, value: value})
			continue
		}
		sources := []*yaml.Node{deref(value)}
		if sources[0].Kind == yaml.SequenceNode {
			sources = sources[0].Content
		}
		for _, src := range sources {
			src = deref(src)
			if src.Kind != yaml.MappingNode {
				return nil, errorAt(src, "merge value must be a mapping")
			}
			more, err := mappingEntries(src)
			if err != nil {
				return nil, err
			}
			merged = append(merged, more...)
		}
	}

	seen := make(map[string]bool, len(explicit)+len(merged))
	out := make([]entry, 0, len(explicit)+len(merged))
	for _, e := range explicit {
		if seen[e.key.Value] {
			return nil, errorAt(e.key, "key %q is already defined", e.key.Value)
		}
		seen[e.key.Value] = true
		out = append(out, e)
	}
	for _, e := range merged {
		if !seen[e.key.Value] {
			seen[e.key.Value] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// isValue reports whether node is in scalar position: a plain scalar or any
// custom-tagged node.
func isValue(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode || tag.IsCustom(node)
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
