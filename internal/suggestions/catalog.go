// Package suggestions serves the landing page's suggested prompts.
package suggestions

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Suggestion is one suggested prompt shown on the landing view.
type Suggestion struct {
	Title    string `yaml:"title" json:"title"`
	Prompt   string `yaml:"prompt" json:"prompt"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

type catalogFile struct {
	Suggestions []Suggestion `yaml:"suggestions"`
}

// Catalog holds the suggested prompts, loaded once at startup.
type Catalog struct {
	mu    sync.RWMutex
	items []Suggestion
}

// defaultSuggestions cover the expert-finder use cases when no catalog file
// is configured.
var defaultSuggestions = []Suggestion{
	{
		Title:    "Find a product manager",
		Prompt:   "Who is the PM for Data Science Pipelines in RHOAI?",
		Category: "people",
	},
	{
		Title:    "Find experts by topic",
		Prompt:   "Who should I talk to about llm-d?",
		Category: "people",
	},
	{
		Title:    "Find experts by label",
		Prompt:   "Who has worked on issues labeled 'kubeflow'?",
		Category: "people",
	},
	{
		Title:    "Search issue history",
		Prompt:   "What issues mention pipeline caching problems?",
		Category: "issues",
	},
}

// Load reads the catalog from path, or returns the built-in defaults when
// path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{items: defaultSuggestions}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suggestions catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse suggestions catalog: %w", err)
	}

	items := make([]Suggestion, 0, len(file.Suggestions))
	for _, s := range file.Suggestions {
		if s.Prompt == "" {
			continue
		}
		if s.Title == "" {
			s.Title = s.Prompt
		}
		items = append(items, s)
	}
	if len(items) == 0 {
		items = defaultSuggestions
	}

	return &Catalog{items: items}, nil
}

// All returns every suggestion in catalog order.
func (c *Catalog) All() []Suggestion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Suggestion, len(c.items))
	copy(out, c.items)
	return out
}

// Sample returns up to n suggestions in random order.
func (c *Catalog) Sample(n int) []Suggestion {
	all := c.All()
	if n <= 0 || n >= len(all) {
		return all
	}
	rand.Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})
	return all[:n]
}
