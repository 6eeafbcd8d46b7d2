// Package bestiary provides monster species and rarity-prefix catalogs and
// the randomized monster generator used when an expedition begins.
package bestiary

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Species defines a base monster kind. Rank drives attack power, speed, and
// which areas the species can appear in. LootSpecies is the inventory item
// granted when a monster of this species is defeated; it defaults to the
// species name.
type Species struct {
	Name        string `yaml:"name"`
	Rank        int    `yaml:"rank"`
	BaseHP      int    `yaml:"base_hp"`
	LootSpecies string `yaml:"loot_species"`
}

// Validate checks the species and fills derivable defaults.
//
// Postcondition: Returns nil iff Name is non-empty and Rank >= 1. BaseHP
// defaults to rank*50 + 50 when omitted; LootSpecies defaults to Name.
func (s *Species) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("species: name must not be empty")
	}
	if s.Rank < 1 {
		return fmt.Errorf("species %q: rank must be >= 1", s.Name)
	}
	if s.BaseHP < 0 {
		return fmt.Errorf("species %q: base_hp must not be negative", s.Name)
	}
	if s.BaseHP == 0 {
		s.BaseHP = s.Rank*50 + 50
	}
	if s.LootSpecies == "" {
		s.LootSpecies = s.Name
	}
	return nil
}

// SpeciesCatalog is an immutable lookup of species by name and rank.
type SpeciesCatalog struct {
	byName map[string]*Species
	all    []*Species
}

// NewSpeciesCatalog builds a catalog from the given species.
//
// Precondition: every species must pass Validate and names must be unique.
func NewSpeciesCatalog(species []*Species) (*SpeciesCatalog, error) {
	byName := make(map[string]*Species, len(species))
	for _, s := range species {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, exists := byName[s.Name]; exists {
			return nil, fmt.Errorf("species %q: duplicate name", s.Name)
		}
		byName[s.Name] = s
	}
	sorted := make([]*Species, len(species))
	copy(sorted, species)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].Name < sorted[j].Name
	})
	return &SpeciesCatalog{byName: byName, all: sorted}, nil
}

// Get returns the species with the given name, or false when none exists.
func (c *SpeciesCatalog) Get(name string) (*Species, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// InRankRange returns every species whose rank lies in [minRank, maxRank],
// ordered by rank then name.
func (c *SpeciesCatalog) InRankRange(minRank, maxRank int) []*Species {
	var matched []*Species
	for _, s := range c.all {
		if s.Rank >= minRank && s.Rank <= maxRank {
			matched = append(matched, s)
		}
	}
	return matched
}

// Len returns the number of species in the catalog.
func (c *SpeciesCatalog) Len() int { return len(c.all) }

type speciesFile struct {
	Species []*Species `yaml:"species"`
}

// LoadSpeciesCatalogFromBytes parses a species catalog from raw YAML bytes.
func LoadSpeciesCatalogFromBytes(data []byte) (*SpeciesCatalog, error) {
	var file speciesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing species catalog YAML: %w", err)
	}
	if len(file.Species) == 0 {
		return nil, fmt.Errorf("species catalog: no species defined")
	}
	return NewSpeciesCatalog(file.Species)
}

// LoadSpeciesCatalog reads the species catalog from the given YAML file.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a validated *SpeciesCatalog, or an error.
func LoadSpeciesCatalog(path string) (*SpeciesCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading species catalog %q: %w", path, err)
	}
	catalog, err := LoadSpeciesCatalogFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return catalog, nil
}
