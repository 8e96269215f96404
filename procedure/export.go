package procedure

import (
	"encoding/json"
	"fmt"

	yaml "go.yaml.in/yaml/v2"

	"github.com/dshills/procedure-go/procedure/report"
	"github.com/dshills/procedure-go/procedure/store"
)

// StagesFile is the name of the stage-history summary in a failure export.
const StagesFile = "stages.yaml"

type stagesSummary struct {
	Context    string        `yaml:"context"`
	RunID      string        `yaml:"run_id"`
	Procedure  string        `yaml:"procedure,omitempty"`
	Status     Status        `yaml:"status"`
	Stage      int           `yaml:"stage"`
	Stages     []StageRecord `yaml:"stages"`
	Tracebacks []string      `yaml:"tracebacks,omitempty"`
}

// snapshotArtifacts renders the context and its stage history as exportable
// products.
func snapshotArtifacts[S any](c *Context[S]) ([]report.Artifact, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	summary, err := yaml.Marshal(stagesSummary{
		Context:    c.Name,
		RunID:      c.RunID,
		Procedure:  c.Meta.Procedure,
		Status:     c.Status,
		Stage:      c.Stage,
		Stages:     c.Stages,
		Tracebacks: c.Meta.Tracebacks,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stage summary: %w", err)
	}

	return []report.Artifact{
		{Name: c.Name + store.SnapshotSuffix, Data: data},
		{Name: StagesFile, Data: summary},
	}, nil
}
