// Package analysis orchestrates one screening run: terrain acquisition,
// hydrological conditioning, scoring, hotspot selection and output assembly.
package analysis

import (
	"sort"
	"sync"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/scoring"
)

// Analyzer is the interface that all analysis kinds implement
type Analyzer interface {
	// Name returns the analysis kind
	Name() string

	// Model returns the scoring model of the kind
	Model() scoring.Model

	// Ponding reports whether filled depressions produce hotspots and metrics
	Ponding() bool

	// Scenarios reports whether rain scenarios are evaluated
	Scenarios() bool
}

// BaseAnalyzer provides the common analyzer fields
type BaseAnalyzer struct {
	name    string
	model   scoring.Model
	ponding bool
}

// NewBaseAnalyzer creates an analyzer for a registered model kind
func NewBaseAnalyzer(kind string, ponding bool) (*BaseAnalyzer, error) {
	m, err := scoring.NewModel(kind)
	if err != nil {
		return nil, err
	}
	return &BaseAnalyzer{name: kind, model: m, ponding: ponding}, nil
}

func (a *BaseAnalyzer) Name() string         { return a.name }
func (a *BaseAnalyzer) Model() scoring.Model { return a.model }
func (a *BaseAnalyzer) Ponding() bool        { return a.ponding }
func (a *BaseAnalyzer) Scenarios() bool      { return a.model.UsesRain() }

// AnalyzerFactory creates an analyzer instance
type AnalyzerFactory func() (Analyzer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AnalyzerFactory)
)

// RegisterAnalyzer registers an analyzer factory for a kind
func RegisterAnalyzer(kind string, factory AnalyzerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// GetAnalyzer returns the analyzer for kind
func GetAnalyzer(kind string) (Analyzer, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, apperr.Ef(apperr.InvalidRequest, "unknown analysis kind %q", kind)
	}
	return factory()
}

// Kinds lists the registered analysis kinds
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterAnalyzer(config.KindStarkregen, func() (Analyzer, error) {
		return NewBaseAnalyzer(config.KindStarkregen, true)
	})
	RegisterAnalyzer(config.KindErosion, func() (Analyzer, error) {
		return NewBaseAnalyzer(config.KindErosion, false)
	})
}
