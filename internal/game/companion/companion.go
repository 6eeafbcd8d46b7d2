// Package companion provides companion definitions, derived combat stats,
// and the experience curve used by reward settlement.
package companion

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SkillType classifies what a companion skill does when morale crosses its
// threshold.
type SkillType string

const (
	// SkillDamage multiplies the companion's attack for one strike.
	SkillDamage SkillType = "damage"
	// SkillHeal restores HP to the living ally with the lowest HP ratio.
	SkillHeal SkillType = "heal"
	// SkillBuff adds a timed multiplier entry to the companion's buff map.
	SkillBuff SkillType = "buff"
)

// BuffType identifies which combat stat a buff skill modifies.
type BuffType string

const (
	// BuffAttack multiplies the companion's pre-jitter attack.
	BuffAttack BuffType = "attack"
	// BuffCritical adds to the companion's critical-hit chance.
	BuffCritical BuffType = "critical"
)

// Skill is a morale-gated special action.
type Skill struct {
	Name             string    `yaml:"name"`
	Description      string    `yaml:"description"`
	Type             SkillType `yaml:"type"`
	DamageMultiplier float64   `yaml:"damage_multiplier"`
	HealMultiplier   float64   `yaml:"heal_multiplier"`
	BuffType         BuffType  `yaml:"buff_type"`
	BuffMultiplier   float64   `yaml:"buff_multiplier"`
	BuffDuration     int       `yaml:"buff_duration"`
	MoraleRequired   int       `yaml:"morale_required"`
}

// Validate checks the skill's type-specific invariants.
//
// Postcondition: Returns nil iff the skill names a known type, its
// type-specific multiplier fields are positive, and MoraleRequired >= 1.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("skill: name must not be empty")
	}
	if s.MoraleRequired < 1 {
		return fmt.Errorf("skill %q: morale_required must be >= 1", s.Name)
	}
	switch s.Type {
	case SkillDamage:
		if s.DamageMultiplier <= 0 {
			return fmt.Errorf("skill %q: damage_multiplier must be > 0", s.Name)
		}
	case SkillHeal:
		if s.HealMultiplier <= 0 {
			return fmt.Errorf("skill %q: heal_multiplier must be > 0", s.Name)
		}
	case SkillBuff:
		if s.BuffType != BuffAttack && s.BuffType != BuffCritical {
			return fmt.Errorf("skill %q: buff_type must be %q or %q", s.Name, BuffAttack, BuffCritical)
		}
		if s.BuffMultiplier <= 0 {
			return fmt.Errorf("skill %q: buff_multiplier must be > 0", s.Name)
		}
		if s.BuffDuration < 1 {
			return fmt.Errorf("skill %q: buff_duration must be >= 1", s.Name)
		}
	default:
		return fmt.Errorf("skill %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// Definition is a companion archetype loaded from the catalog. Per-level
// stats are derived as base + growth*(level-1).
type Definition struct {
	Name         string  `yaml:"name"`
	Description  string  `yaml:"description"`
	Rarity       string  `yaml:"rarity"`
	BaseHP       int     `yaml:"base_hp"`
	BaseAttack   int     `yaml:"base_attack"`
	BaseSpeed    float64 `yaml:"base_speed"`
	GrowthHP     int     `yaml:"growth_hp"`
	GrowthAttack int     `yaml:"growth_attack"`
	GrowthSpeed  float64 `yaml:"growth_speed"`
	Skill        *Skill  `yaml:"skill"`
}

// Validate checks the definition's invariants.
//
// Postcondition: Returns nil iff Name is non-empty, the base stats are
// positive, the growth stats are non-negative, and any skill validates.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("companion: name must not be empty")
	}
	if d.BaseHP < 1 {
		return fmt.Errorf("companion %q: base_hp must be >= 1", d.Name)
	}
	if d.BaseAttack < 1 {
		return fmt.Errorf("companion %q: base_attack must be >= 1", d.Name)
	}
	if d.BaseSpeed <= 0 {
		return fmt.Errorf("companion %q: base_speed must be > 0", d.Name)
	}
	if d.GrowthHP < 0 || d.GrowthAttack < 0 || d.GrowthSpeed < 0 {
		return fmt.Errorf("companion %q: growth stats must not be negative", d.Name)
	}
	if d.Skill != nil {
		if err := d.Skill.Validate(); err != nil {
			return fmt.Errorf("companion %q: %w", d.Name, err)
		}
	}
	return nil
}

// Stats is a derived stat block for a companion at a specific level.
type Stats struct {
	Name   string
	Level  int
	MaxHP  int
	Attack int
	Speed  float64
	Skill  *Skill
}

// StatsAt derives the companion's combat stats at the given level.
//
// Precondition: level >= 1.
// Postcondition: Each stat equals base + growth*(level-1).
func (d *Definition) StatsAt(level int) Stats {
	return Stats{
		Name:   d.Name,
		Level:  level,
		MaxHP:  d.BaseHP + d.GrowthHP*(level-1),
		Attack: d.BaseAttack + d.GrowthAttack*(level-1),
		Speed:  d.BaseSpeed + d.GrowthSpeed*float64(level-1),
		Skill:  d.Skill,
	}
}

// Catalog is an immutable lookup of companion definitions by name.
type Catalog struct {
	byName map[string]*Definition
}

// NewCatalog builds a catalog from the given definitions.
//
// Precondition: every definition must pass Validate and names must be unique.
func NewCatalog(defs []*Definition) (*Catalog, error) {
	byName := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, exists := byName[d.Name]; exists {
			return nil, fmt.Errorf("companion %q: duplicate name", d.Name)
		}
		byName[d.Name] = d
	}
	return &Catalog{byName: byName}, nil
}

// Get returns the definition with the given name, or false when none exists.
func (c *Catalog) Get(name string) (*Definition, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Len returns the number of definitions in the catalog.
func (c *Catalog) Len() int { return len(c.byName) }

type catalogFile struct {
	Companions []*Definition `yaml:"companions"`
}

// LoadCatalogFromBytes parses a companion catalog from raw YAML bytes.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing companion catalog YAML: %w", err)
	}
	if len(file.Companions) == 0 {
		return nil, fmt.Errorf("companion catalog: no companions defined")
	}
	return NewCatalog(file.Companions)
}

// LoadCatalog reads the companion catalog from the given YAML file.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a validated *Catalog, or an error.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading companion catalog %q: %w", path, err)
	}
	catalog, err := LoadCatalogFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return catalog, nil
}
