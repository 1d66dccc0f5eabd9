package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk layout of a schema extension file:
//
//	schemas:
//	  crm.contact_synced: [contactId, provider]
type fileFormat struct {
	Schemas map[string][]string `yaml:"schemas"`
}

// LoadFile merges the schemas declared in a YAML file into the registry.
// Existing types are overwritten. It returns the number of types loaded.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading schema file: %w", err)
	}
	return r.LoadYAML(data)
}

// LoadYAML merges schemas from YAML data into the registry.
func (r *Registry) LoadYAML(data []byte) (int, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parsing schema yaml: %w", err)
	}
	for eventType, fields := range f.Schemas {
		if eventType == "" {
			return 0, fmt.Errorf("schema file declares an empty event type")
		}
		r.Register(eventType, fields)
	}
	return len(f.Schemas), nil
}
