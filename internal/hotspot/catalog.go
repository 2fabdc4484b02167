package hotspot

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed measures.yaml
var measuresYAML []byte

// MaxMeasures caps the measures attached to one hotspot.
const MaxMeasures = 6

// Measure is one remediation suggestion.
type Measure struct {
	ID       string `yaml:"id" json:"id"`
	Title    string `yaml:"title" json:"title"`
	Why      string `yaml:"why" json:"why"`
	What     string `yaml:"what" json:"what"`
	Effort   string `yaml:"effort" json:"effort"`
	Time     string `yaml:"time" json:"time"`
	Priority int    `yaml:"-" json:"priority"`
}

type catalogEntry struct {
	Measure      `yaml:",inline"`
	Factors      []string `yaml:"factors"`
	Always       bool     `yaml:"always"`
	BasePriority int      `yaml:"base_priority"`
}

// Catalog is the static remediation catalog.
type Catalog struct {
	entries []catalogEntry
}

var (
	defaultCatalog    *Catalog
	defaultCatalogErr error
	catalogOnce       sync.Once
)

// DefaultCatalog parses the embedded catalog once.
func DefaultCatalog() (*Catalog, error) {
	catalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalog(measuresYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Measures []catalogEntry `yaml:"measures"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse measure catalog: %w", err)
	}
	for _, e := range doc.Measures {
		if e.ID == "" || effortRank(e.Effort) == 0 {
			return nil, fmt.Errorf("measure %q: missing id or unknown effort %q", e.ID, e.Effort)
		}
	}
	return &Catalog{entries: doc.Measures}, nil
}

var effortOrder = map[string]int{"gering": 1, "mittel": 2, "hoch": 3}

func effortRank(e string) int { return effortOrder[e] }

// For returns the measures for the given factors at a score, ordered by
// priority then effort, at most MaxMeasures.
func (c *Catalog) For(factors []string, score int) []Measure {
	want := make(map[string]bool, len(factors))
	for _, f := range factors {
		want[f] = true
	}
	var out []Measure
	for _, e := range c.entries {
		match := e.Always
		for _, f := range e.Factors {
			match = match || want[f]
		}
		if !match {
			continue
		}
		m := e.Measure
		m.Priority = adjustPriority(e.BasePriority, score)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return effortRank(out[i].Effort) < effortRank(out[j].Effort)
	})
	if len(out) > MaxMeasures {
		out = out[:MaxMeasures]
	}
	return out
}

func adjustPriority(base, score int) int {
	switch {
	case score >= 85:
		if base > 1 {
			return base - 1
		}
		return 1
	case score >= 70:
		return base
	}
	return base + 1
}
