// Package document parses processing procedures into an ordered list of
// step invocations.
//
// Two XML shapes are understood: a Processing Request, which carries project
// identification, intents, the command list and an input-dataset manifest,
// and a Recipe, which is only a titled command list. Recipes may also be
// written in YAML. All of them reduce to the same Document.
package document

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// BreakpointStep is the reserved step name used as a control-flow marker.
// Breakpoint markers carry no arguments and are never dispatched.
const BreakpointStep = "breakpoint"

// DefaultSession is the session label given to datasets that no SESSION_n
// intent mentions.
const DefaultSession = "session_1"

// DocumentKind records which document shape a Document was parsed from.
type DocumentKind string

const (
	KindRequest DocumentKind = "request"
	KindRecipe  DocumentKind = "recipe"
)

// Argument is one named parameter of a step invocation.
type Argument struct {
	Key   string
	Value Value
}

// Arguments is an ordered parameter set. Methods never modify the receiver.
type Arguments []Argument

// Get returns the value for key.
func (a Arguments) Get(key string) (Value, bool) {
	for _, arg := range a {
		if arg.Key == key {
			return arg.Value, true
		}
	}
	return Value{}, false
}

// Keys returns parameter names in document order.
func (a Arguments) Keys() []string {
	keys := make([]string, len(a))
	for i, arg := range a {
		keys[i] = arg.Key
	}
	return keys
}

// With returns a copy of a where key is set to value. An existing key keeps
// its position; a new key is appended.
func (a Arguments) With(key string, value Value) Arguments {
	out := a.Clone()
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Argument{Key: key, Value: value})
}

// Clone returns an independent copy of a.
func (a Arguments) Clone() Arguments {
	if a == nil {
		return nil
	}
	out := make(Arguments, len(a))
	copy(out, a)
	return out
}

// Literals renders every argument as "key=literal" in order.
func (a Arguments) Literals() []string {
	out := make([]string, len(a))
	for i, arg := range a {
		out[i] = arg.Key + "=" + arg.Value.Literal()
	}
	return out
}

// Equal reports whether both sets hold the same keys, order and values.
func (a Arguments) Equal(o Arguments) bool {
	if len(a) != len(o) {
		return false
	}
	for i := range a {
		if a[i].Key != o[i].Key || !a[i].Value.Equal(o[i].Value) {
			return false
		}
	}
	return true
}

// Invocation is one named step with its parameters.
type Invocation struct {
	Name string
	Args Arguments
}

// IsBreakpoint reports whether inv is the reserved breakpoint marker.
func (inv Invocation) IsBreakpoint() bool { return inv.Name == BreakpointStep }

// Dataset is one entry of a Processing Request's input-dataset manifest.
type Dataset struct {
	RelativePath string
	File         string
	UID          string
	Session      string
}

// Path joins the dataset location below root.
func (d Dataset) Path(root string) string {
	return filepath.Join(root, d.RelativePath, d.File)
}

// Inputs is the dataset list the engine injects into import and restore
// steps.
type Inputs struct {
	Files    []string
	Sessions []string
}

// Empty reports whether no files are listed.
func (in Inputs) Empty() bool { return len(in.Files) == 0 }

// Document is a parsed procedure.
type Document struct {
	Kind     DocumentKind
	Title    string
	Project  string
	Intents  map[string]string
	Steps    []Invocation
	Datasets []Dataset
}

// Validate checks that d is runnable: at least one step, no empty step
// names, and at most one breakpoint marker.
func (d *Document) Validate() error {
	if d == nil || len(d.Steps) == 0 {
		return &ParseError{Reason: "procedure has no steps"}
	}
	markers := 0
	for i, step := range d.Steps {
		if strings.TrimSpace(step.Name) == "" {
			return &ParseError{Reason: "step " + strconv.Itoa(i+1) + " has no name"}
		}
		if step.IsBreakpoint() {
			markers++
		}
	}
	if markers > 1 {
		return &ParseError{Reason: "procedure contains " + strconv.Itoa(markers) + " breakpoint markers; at most one is allowed"}
	}
	return nil
}

// StepNames returns the step names in execution order.
func (d *Document) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, step := range d.Steps {
		names[i] = step.Name
	}
	return names
}

// Count returns how many steps are named name.
func (d *Document) Count(name string) int {
	n := 0
	for _, step := range d.Steps {
		if step.Name == name {
			n++
		}
	}
	return n
}

// Inputs builds the dataset manifest below root, in manifest order.
func (d *Document) Inputs(root string) Inputs {
	in := Inputs{
		Files:    make([]string, 0, len(d.Datasets)),
		Sessions: make([]string, 0, len(d.Datasets)),
	}
	for _, ds := range d.Datasets {
		in.Files = append(in.Files, ds.Path(root))
		session := ds.Session
		if session == "" {
			session = DefaultSession
		}
		in.Sessions = append(in.Sessions, session)
	}
	return in
}

// Equal reports whether two documents describe the same procedure.
func (d *Document) Equal(o *Document) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Kind != o.Kind || d.Title != o.Title || d.Project != o.Project {
		return false
	}
	if len(d.Intents) != len(o.Intents) {
		return false
	}
	for k, v := range d.Intents {
		if ov, ok := o.Intents[k]; !ok || ov != v {
			return false
		}
	}
	if len(d.Steps) != len(o.Steps) || len(d.Datasets) != len(o.Datasets) {
		return false
	}
	for i := range d.Steps {
		if d.Steps[i].Name != o.Steps[i].Name || !d.Steps[i].Args.Equal(o.Steps[i].Args) {
			return false
		}
	}
	for i := range d.Datasets {
		if d.Datasets[i] != o.Datasets[i] {
			return false
		}
	}
	return true
}

// assignSessions applies SESSION_n intents to the manifest. Each intent value
// lists dataset file names or UIDs separated by commas or whitespace.
func assignSessions(intents map[string]string, datasets []Dataset) {
	keys := make([]string, 0, len(intents))
	for k := range intents {
		if _, ok := sessionNumber(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		n, _ := sessionNumber(key)
		label := "session_" + strconv.Itoa(n)
		names := strings.FieldsFunc(intents[key], func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})
		for _, name := range names {
			for i := range datasets {
				if datasets[i].File == name || datasets[i].UID == name {
					datasets[i].Session = label
				}
			}
		}
	}
	for i := range datasets {
		if datasets[i].Session == "" {
			datasets[i].Session = DefaultSession
		}
	}
}

func sessionNumber(key string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToUpper(key), "SESSION_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// normalizeSteps strips arguments from breakpoint markers.
func normalizeSteps(steps []Invocation) []Invocation {
	for i := range steps {
		steps[i].Name = strings.TrimSpace(steps[i].Name)
		if steps[i].IsBreakpoint() {
			steps[i].Args = nil
		}
	}
	return steps
}
