package document

import (
	"errors"
	"fmt"
	"sort"

	yaml "go.yaml.in/yaml/v2"
)

// yamlStep accepts either a bare step name or a mapping with a name and an
// ordered parameter set:
//
//	steps:
//	  - h_init
//	  - name: h_importdata
//	    parameters:
//	      dbservice: False
//	  - breakpoint
type yamlStep struct {
	Name       string        `yaml:"name"`
	Parameters yaml.MapSlice `yaml:"parameters,omitempty"`
}

func (s *yamlStep) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		s.Name = name
		return nil
	}
	type plain yamlStep
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*s = yamlStep(p)
	return nil
}

type yamlRecipe struct {
	Title string     `yaml:"title"`
	Steps []yamlStep `yaml:"steps"`
}

func parseRecipeYAML(data []byte) (*Document, error) {
	var recipe yamlRecipe
	if err := yaml.Unmarshal(data, &recipe); err != nil {
		return nil, &ParseError{Reason: "malformed YAML recipe", Err: err}
	}
	if len(recipe.Steps) == 0 {
		return nil, &ParseError{Reason: "recipe has no steps"}
	}

	steps := make([]Invocation, 0, len(recipe.Steps))
	for i, s := range recipe.Steps {
		inv := Invocation{Name: s.Name}
		for _, item := range s.Parameters {
			key, ok := item.Key.(string)
			if !ok {
				return nil, &ParseError{Reason: fmt.Sprintf("step %d: parameter key %v is not a string", i+1, item.Key)}
			}
			v, err := FromInterface(item.Value)
			if err != nil {
				return nil, &ParseError{Reason: fmt.Sprintf("step %d parameter %q", i+1, key), Err: err}
			}
			inv.Args = append(inv.Args, Argument{Key: key, Value: v})
		}
		steps = append(steps, inv)
	}
	return &Document{
		Kind:  KindRecipe,
		Title: recipe.Title,
		Steps: normalizeSteps(steps),
	}, nil
}

// MarshalYAML writes d as a YAML recipe. Parameter values are written as
// their literal text so that reading the recipe back yields equal values.
func MarshalYAML(d *Document) ([]byte, error) {
	if d == nil {
		return nil, errors.New("marshal yaml: nil document")
	}
	recipe := yamlRecipe{Title: d.Title}
	for _, step := range d.Steps {
		ys := yamlStep{Name: step.Name}
		for _, arg := range step.Args {
			ys.Parameters = append(ys.Parameters, yaml.MapItem{Key: arg.Key, Value: arg.Value.Literal()})
		}
		recipe.Steps = append(recipe.Steps, ys)
	}
	out, err := yaml.Marshal(recipe)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
