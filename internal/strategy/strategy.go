// Package strategy holds the versioned strategy table. It is the only place
// annual rates are defined; the yield engine and the recommender both read it.
package strategy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy describes one investment strategy a room can use.
type Strategy struct {
	ID          uint8    `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	APY         float64  `yaml:"apy" json:"apy"`
	Risk        string   `yaml:"risk" json:"risk"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords" json:"-"`
}

// Table is an immutable, version-stamped set of strategies.
type Table struct {
	Version    string     `yaml:"version" json:"version"`
	Strategies []Strategy `yaml:"strategies" json:"strategies"`

	byID map[uint8]Strategy
}

// Default returns the compiled-in table.
func Default() *Table {
	t, err := newTable("2024-01", []Strategy{
		{
			ID:          0,
			Name:        "Conservative",
			APY:         0.04,
			Risk:        "low",
			Description: "Stable lending markets. Lowest volatility, capital preservation first.",
			Keywords:    []string{"safe", "stable", "low risk", "conservative", "secure", "preserve", "careful"},
		},
		{
			ID:          1,
			Name:        "Balanced",
			APY:         0.08,
			Risk:        "medium",
			Description: "Mix of lending and liquidity provision. Moderate returns with moderate risk.",
			Keywords:    []string{"balanced", "moderate", "medium", "mix", "steady"},
		},
		{
			ID:          2,
			Name:        "Aggressive",
			APY:         0.15,
			Risk:        "high",
			Description: "Leveraged yield farming. Highest returns with significant volatility.",
			Keywords:    []string{"aggressive", "high", "growth", "risky", "maximum", "max", "fast"},
		},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads a YAML table from path. An empty path returns Default.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML table.
func Parse(data []byte) (*Table, error) {
	var raw Table
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse strategy table: %w", err)
	}
	return newTable(raw.Version, raw.Strategies)
}

func newTable(version string, strategies []Strategy) (*Table, error) {
	if strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("strategy table: version is required")
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("strategy table: at least one strategy is required")
	}

	byID := make(map[uint8]Strategy, len(strategies))
	for _, s := range strategies {
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("strategy table: duplicate id %d", s.ID)
		}
		if s.Name == "" {
			return nil, fmt.Errorf("strategy %d: name is required", s.ID)
		}
		if s.APY < 0 || s.APY > 1 {
			return nil, fmt.Errorf("strategy %d: apy %v out of range [0,1]", s.ID, s.APY)
		}
		byID[s.ID] = s
	}

	sorted := append([]Strategy(nil), strategies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	return &Table{Version: version, Strategies: sorted, byID: byID}, nil
}

// Lookup returns the strategy with id.
func (t *Table) Lookup(id uint8) (Strategy, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// APY returns the annual rate for id, or zero for an unknown id.
func (t *Table) APY(id uint8) float64 {
	return t.byID[id].APY
}

// All returns the strategies ordered by id.
func (t *Table) All() []Strategy {
	return append([]Strategy(nil), t.Strategies...)
}

// Valid reports whether id names a strategy.
func (t *Table) Valid(id uint8) bool {
	_, ok := t.byID[id]
	return ok
}
