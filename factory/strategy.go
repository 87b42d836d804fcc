/*
Package factory provides JSON to Go split strategy conversion.

PURPOSE:
  Converts JSON strategy definitions into a ledger.Registry, so a property
  can configure how special categories are split without code changes.

JSON SCHEMA:
  {
    "strategies": [
      {
        "type": "weighted",
        "name": "by-floor",
        "categories": ["elevator"],
        "weights": {"apt-3": "2", "apt-4": "2.5"}
      },
      {
        "type": "exempt",
        "name": "ground-floor",
        "categories": ["elevator"],
        "apartments": ["apt-0"]
      }
    ]
  }

ORDER:
  Strategies are registered in array order, so a later entry wins over an
  earlier one for the same category. The standard strategy is always there.

USAGE:
  f := factory.NewStrategyFactory()
  registry, err := f.ParseRegistry(jsonString)
  calc := ledger.NewSplitCalculator(registry)

SEE ALSO:
  - strategies/: the strategy implementations
  - ledger/strategy.go: resolution order
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/apartment-ledger/ledger"
	"github.com/warp/apartment-ledger/strategies"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RegistryJSON is the JSON representation of a strategy registry.
type RegistryJSON struct {
	Strategies []StrategyJSON `json:"strategies"`
}

// StrategyJSON is one custom strategy.
type StrategyJSON struct {
	Type       string                     `json:"type"` // weighted, exempt
	Name       string                     `json:"name,omitempty"`
	Categories []string                   `json:"categories"`
	Weights    map[string]decimal.Decimal `json:"weights,omitempty"`    // weighted
	Apartments []string                   `json:"apartments,omitempty"` // exempt
}

// =============================================================================
// STRATEGY FACTORY
// =============================================================================

type StrategyFactory struct{}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{}
}

// ParseRegistry parses a JSON string into a registry.
func (f *StrategyFactory) ParseRegistry(jsonStr string) (*ledger.Registry, error) {
	var rj RegistryJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse strategies JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// LoadRegistry reads a strategies file. An empty path yields the default
// registry with only the standard strategy.
func (f *StrategyFactory) LoadRegistry(path string) (*ledger.Registry, error) {
	if path == "" {
		return ledger.NewRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	return f.ParseRegistry(string(data))
}

// FromJSON converts RegistryJSON into a registry.
func (f *StrategyFactory) FromJSON(rj RegistryJSON) (*ledger.Registry, error) {
	registry := ledger.NewRegistry()
	for i, sj := range rj.Strategies {
		s, err := f.strategyFromJSON(sj)
		if err != nil {
			return nil, fmt.Errorf("strategy %d: %w", i, err)
		}
		registry.Register(s)
	}
	return registry, nil
}

func (f *StrategyFactory) strategyFromJSON(sj StrategyJSON) (ledger.Strategy, error) {
	if len(sj.Categories) == 0 {
		return nil, fmt.Errorf("%s strategy needs at least one category", sj.Type)
	}
	categories := make([]ledger.CategoryID, len(sj.Categories))
	for i, c := range sj.Categories {
		categories[i] = ledger.CategoryID(c)
	}
	name := sj.Name
	if name == "" {
		name = sj.Type
	}

	switch sj.Type {
	case "weighted":
		weights := make(map[ledger.ApartmentID]decimal.Decimal, len(sj.Weights))
		for id, w := range sj.Weights {
			if w.IsNegative() {
				return nil, fmt.Errorf("weight for %s must not be negative", id)
			}
			weights[ledger.ApartmentID(id)] = w
		}
		return strategies.NewWeighted(name, categories, weights), nil

	case "exempt":
		if len(sj.Apartments) == 0 {
			return nil, fmt.Errorf("exempt strategy needs at least one apartment")
		}
		apartments := make([]ledger.ApartmentID, len(sj.Apartments))
		for i, a := range sj.Apartments {
			apartments[i] = ledger.ApartmentID(a)
		}
		return strategies.NewExempt(name, categories, apartments), nil

	default:
		return nil, fmt.Errorf("unknown strategy type %q", sj.Type)
	}
}
