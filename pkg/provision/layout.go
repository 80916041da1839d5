package provision

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Farm describes one wind farm and the turbines it hosts
type Farm struct {
	FarmID   int64   `yaml:"farm_id" json:"farm_id"`
	Turbines []int64 `yaml:"turbines" json:"turbines"`
}

// Layout is the fleet description consumed by the seeder
type Layout struct {
	Farms []Farm `yaml:"farms" json:"farms"`
}

// LoadLayout reads and validates a YAML farm layout file
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read farm layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes a YAML farm layout document
func ParseLayout(data []byte) (*Layout, error) {
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse farm layout: %w", err)
	}

	seen := make(map[int64]bool, len(layout.Farms))
	for _, farm := range layout.Farms {
		if farm.FarmID <= 0 {
			return nil, fmt.Errorf("farm layout: farm_id must be positive, got %d", farm.FarmID)
		}
		if seen[farm.FarmID] {
			return nil, fmt.Errorf("farm layout: duplicate farm_id %d", farm.FarmID)
		}
		seen[farm.FarmID] = true

		for _, turbineID := range farm.Turbines {
			if turbineID <= 0 {
				return nil, fmt.Errorf("farm layout: turbine id must be positive, got %d in farm %d", turbineID, farm.FarmID)
			}
		}
	}

	return &layout, nil
}

// DefaultLayout is the two-farm development fleet used when no layout file
// is supplied
func DefaultLayout() *Layout {
	return &Layout{
		Farms: []Farm{
			{FarmID: 1, Turbines: []int64{1, 2, 3}},
			{FarmID: 2, Turbines: []int64{1, 2}},
		},
	}
}
