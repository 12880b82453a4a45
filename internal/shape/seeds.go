package shape

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadSeeds reads template definitions from a YAML file. Templates
// without an id get a stable one derived from their slug.
func LoadSeeds(path string) ([]Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seeds: %w", err)
	}
	return ParseSeeds(raw)
}

func ParseSeeds(raw []byte) ([]Template, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seeds: %w", err)
	}
	for i := range f.Templates {
		t := &f.Templates[i]
		if t.Slug == "" {
			return nil, fmt.Errorf("template %d has no slug", i)
		}
		if t.ID == "" {
			t.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("shape:"+t.Slug)).String()
		}
		if err := Validate(t.Outline); err != nil {
			return nil, fmt.Errorf("template %s: %w", t.Slug, err)
		}
	}
	return f.Templates, nil
}
