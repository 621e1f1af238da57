// Package templates holds the quick-start templates that prefill a new decision cycle.
package templates

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var raw []byte

type Template struct {
	Name            string `yaml:"name" json:"name"`
	Label           string `yaml:"label" json:"label"`
	Icon            string `yaml:"icon" json:"icon"`
	Description     string `yaml:"description" json:"description"`
	Title           string `yaml:"title" json:"title"`
	Hypothesis      string `yaml:"hypothesis" json:"hypothesis"`
	SuccessCriteria string `yaml:"success_criteria" json:"success_criteria"`
	OutOfScope      string `yaml:"out_of_scope" json:"out_of_scope"`
}

var (
	loadOnce sync.Once
	loaded   []Template
	loadErr  error
)

func load() ([]Template, error) {
	loadOnce.Do(func() {
		loadErr = yaml.Unmarshal(raw, &loaded)
		sort.Slice(loaded, func(i, j int) bool { return loaded[i].Name < loaded[j].Name })
	})
	return loaded, loadErr
}

// All returns the templates ordered by name.
func All() ([]Template, error) {
	ts, err := load()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return append([]Template(nil), ts...), nil
}

// Get returns the named template.
func Get(name string) (Template, error) {
	ts, err := All()
	if err != nil {
		return Template{}, err
	}
	for _, t := range ts {
		if t.Name == name {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("unknown template %q", name)
}
