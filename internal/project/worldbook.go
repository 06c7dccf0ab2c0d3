// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Worldbook holds the static setting files: characters, locations, rules.
// Each file is free-form JSON keyed by entity ID; the pipeline forwards
// relevant slices into prompts without interpreting the values.
type Worldbook struct {
	Characters map[string]json.RawMessage `json:"characters"`
	Locations  map[string]json.RawMessage `json:"locations"`
	Rules      map[string]json.RawMessage `json:"rules"`
}

// LoadWorldbook reads worldbook/{characters,locations,rules}.json. Missing
// files are not errors; malformed files are.
func (p *Project) LoadWorldbook() (*Worldbook, error) {
	wb := &Worldbook{}
	sections := []struct {
		name   string
		target *map[string]json.RawMessage
	}{
		{"characters", &wb.Characters},
		{"locations", &wb.Locations},
		{"rules", &wb.Rules},
	}

	for _, sec := range sections {
		path := filepath.Join(p.Dir, "worldbook", sec.name+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading worldbook %s: %w", sec.name, err)
		}
		if err := json.Unmarshal(data, sec.target); err != nil {
			return nil, fmt.Errorf("parsing worldbook %s: %w", sec.name, err)
		}
	}
	return wb, nil
}
