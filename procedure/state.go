package procedure

import (
	"encoding/json"
	"fmt"
)

// deepCopy copies state through a JSON round trip. Only exported fields
// survive, which matches what a persisted snapshot keeps.
func deepCopy[S any](state S) (S, error) {
	var zero S
	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}
	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return copied, nil
}
