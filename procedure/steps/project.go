// Package steps provides the bookkeeping steps that every pipeline run
// needs: project initialization, dataset import and restore, notes, and the
// product manifest export.
//
// Scientific steps are registered by the embedding program next to these.
package steps

// Project is the state accumulated by a pipeline run.
type Project struct {
	Title       string    `json:"title,omitempty" yaml:"title,omitempty"`
	ProjectCode string    `json:"project_code,omitempty" yaml:"project_code,omitempty"`
	Datasets    []Dataset `json:"datasets,omitempty" yaml:"datasets,omitempty"`
	Products    []string  `json:"products,omitempty" yaml:"products,omitempty"`
	Notes       []string  `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Dataset is a measurement set registered with the project.
type Dataset struct {
	Vis     string `json:"vis" yaml:"vis"`
	Session string `json:"session" yaml:"session"`

	// Origin is the step that registered the dataset.
	Origin string `json:"origin" yaml:"origin"`

	// Size is the total size in bytes at registration time.
	Size int64 `json:"size" yaml:"size"`
}

// Dataset returns the registered dataset for vis.
func (p Project) Dataset(vis string) (Dataset, bool) {
	for _, ds := range p.Datasets {
		if ds.Vis == vis {
			return ds, true
		}
	}
	return Dataset{}, false
}

// Sessions returns the distinct session labels in registration order.
func (p Project) Sessions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ds := range p.Datasets {
		if !seen[ds.Session] {
			seen[ds.Session] = true
			out = append(out, ds.Session)
		}
	}
	return out
}
