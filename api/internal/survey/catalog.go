package survey

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var embeddedCatalog []byte

type Option struct {
	Value       string `yaml:"value" json:"value"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type Question struct {
	ID          string   `yaml:"id" json:"id"`
	Question    string   `yaml:"question" json:"question"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string   `yaml:"type" json:"type"` // text | radio | checkbox | birth | photo
	Placeholder string   `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Options     []Option `yaml:"options,omitempty" json:"options,omitempty"`
}

type Page struct {
	ID        string     `yaml:"id" json:"id"`
	Title     string     `yaml:"title" json:"title"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// Catalog is the fixed, externally-defined question vocabulary driving the
// wizard. It is loaded once at startup and never mutated.
type Catalog struct {
	Pages []Page `yaml:"pages" json:"pages"`
}

// LoadCatalog reads the question catalog from path, or the embedded default
// when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	raw := embeddedCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read question catalog: %w", err)
		}
		raw = b
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse question catalog: %w", err)
	}
	if len(c.Pages) == 0 {
		return nil, fmt.Errorf("question catalog has no pages")
	}
	return &c, nil
}

// Steps returns the number of wizard steps.
func (c *Catalog) Steps() int { return len(c.Pages) }

// Page returns the page at step, or nil when step is out of range.
func (c *Catalog) Page(step int) *Page {
	if step < 0 || step >= len(c.Pages) {
		return nil
	}
	return &c.Pages[step]
}

// MissingRequired lists required question ids (excluding photo uploads, which
// are collected out of band) that have no answer yet.
func (c *Catalog) MissingRequired(r Responses) []string {
	var missing []string
	for _, p := range c.Pages {
		for _, q := range p.Questions {
			if !q.Required || q.Type == "photo" {
				continue
			}
			if !r.Answered(q.ID) {
				missing = append(missing, q.ID)
			}
		}
	}
	return missing
}
