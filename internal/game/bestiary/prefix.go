package bestiary

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/driftsea/expedition/internal/game/rng"
)

// Prefix is a rarity modifier applied to a generated monster. Weight drives
// the selection roll; the multipliers scale HP and speed; BonusChance and
// BonusUnits gate extra loot units on settlement.
type Prefix struct {
	Name        string  `yaml:"name"`
	Weight      int     `yaml:"weight"`
	HPMult      float64 `yaml:"hp_mult"`
	SpeedMult   float64 `yaml:"speed_mult"`
	LootMult    float64 `yaml:"loot_mult"`
	BonusChance float64 `yaml:"bonus_chance"`
	BonusUnits  int     `yaml:"bonus_units"`
}

// Validate checks that the prefix satisfies basic invariants.
//
// Postcondition: Returns nil iff Name is non-empty, Weight >= 1, the HP and
// speed multipliers are >= 1, BonusChance is in [0, 1], and BonusUnits >= 0.
func (p *Prefix) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("prefix: name must not be empty")
	}
	if p.Weight < 1 {
		return fmt.Errorf("prefix %q: weight must be >= 1", p.Name)
	}
	if p.HPMult < 1 {
		return fmt.Errorf("prefix %q: hp_mult must be >= 1", p.Name)
	}
	if p.SpeedMult < 1 {
		return fmt.Errorf("prefix %q: speed_mult must be >= 1", p.Name)
	}
	if p.LootMult < 1 {
		return fmt.Errorf("prefix %q: loot_mult must be >= 1", p.Name)
	}
	if p.BonusChance < 0 || p.BonusChance > 1 {
		return fmt.Errorf("prefix %q: bonus_chance must be in [0, 1]", p.Name)
	}
	if p.BonusUnits < 0 {
		return fmt.Errorf("prefix %q: bonus_units must not be negative", p.Name)
	}
	return nil
}

// PrefixTable holds the rarity prefixes in declaration order and supports
// weighted selection.
type PrefixTable struct {
	prefixes    []*Prefix
	totalWeight int
}

// NewPrefixTable builds a table from the given prefixes.
//
// Precondition: prefixes must be non-empty, each must pass Validate, and
// names must be unique.
func NewPrefixTable(prefixes []*Prefix) (*PrefixTable, error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("prefix table: no prefixes defined")
	}
	seen := make(map[string]bool, len(prefixes))
	total := 0
	for _, p := range prefixes {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("prefix %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
		total += p.Weight
	}
	return &PrefixTable{prefixes: prefixes, totalWeight: total}, nil
}

// Get returns the prefix with the given name, or false when none exists.
func (t *PrefixTable) Get(name string) (*Prefix, bool) {
	for _, p := range t.prefixes {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// All returns the prefixes in declaration order.
func (t *PrefixTable) All() []*Prefix { return t.prefixes }

// Roll selects a prefix by cumulative weighted random draw.
//
// Precondition: src must be non-nil.
// Postcondition: Returns a prefix from the table; higher-weight prefixes are
// proportionally more likely.
func (t *PrefixTable) Roll(src rng.Source) *Prefix {
	roll := src.Intn(t.totalWeight)
	cumulative := 0
	for _, p := range t.prefixes {
		cumulative += p.Weight
		if roll < cumulative {
			return p
		}
	}
	return t.prefixes[0]
}

type prefixFile struct {
	Prefixes []*Prefix `yaml:"prefixes"`
}

// LoadPrefixTableFromBytes parses a prefix table from raw YAML bytes.
func LoadPrefixTableFromBytes(data []byte) (*PrefixTable, error) {
	var file prefixFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing prefix table YAML: %w", err)
	}
	return NewPrefixTable(file.Prefixes)
}

// LoadPrefixTable reads the prefix table from the given YAML file.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a validated *PrefixTable, or an error.
func LoadPrefixTable(path string) (*PrefixTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prefix table %q: %w", path, err)
	}
	table, err := LoadPrefixTableFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return table, nil
}
