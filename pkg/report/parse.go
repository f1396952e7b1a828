package report

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parse decodes a run record from raw bytes. Records starting with '{'
// are treated as JSON, everything else as YAML.
func Parse(data []byte) (*Run, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty run record")
	}

	var run Run
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &run); err != nil {
			return nil, fmt.Errorf("parse run record json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &run); err != nil {
			return nil, fmt.Errorf("parse run record yaml: %w", err)
		}
	}

	if err := run.Validate(); err != nil {
		return nil, err
	}
	return &run, nil
}
