// Package area provides expedition area definitions and catalog loading.
package area

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Area defines a difficulty tier: how many monsters an expedition spawns,
// which species ranks are eligible, and the ticket cost to open a room.
type Area struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MinMonsters int    `yaml:"min_monsters"`
	MaxMonsters int    `yaml:"max_monsters"`
	MinRank     int    `yaml:"min_rank"`
	MaxRank     int    `yaml:"max_rank"`
	TicketCost  int    `yaml:"ticket_cost"`
}

// Validate checks that the area satisfies basic invariants.
//
// Postcondition: Returns nil iff ID >= 1, Name is non-empty, the monster count
// and rank ranges are ordered with positive lower bounds, and TicketCost >= 1;
// returns an error on the first violation otherwise.
func (a *Area) Validate() error {
	if a.ID < 1 {
		return fmt.Errorf("area: id must be >= 1")
	}
	if a.Name == "" {
		return fmt.Errorf("area %d: name must not be empty", a.ID)
	}
	if a.MinMonsters < 1 {
		return fmt.Errorf("area %d: min_monsters must be >= 1", a.ID)
	}
	if a.MaxMonsters < a.MinMonsters {
		return fmt.Errorf("area %d: max_monsters must be >= min_monsters", a.ID)
	}
	if a.MinRank < 1 {
		return fmt.Errorf("area %d: min_rank must be >= 1", a.ID)
	}
	if a.MaxRank < a.MinRank {
		return fmt.Errorf("area %d: max_rank must be >= min_rank", a.ID)
	}
	if a.TicketCost < 1 {
		return fmt.Errorf("area %d: ticket_cost must be >= 1", a.ID)
	}
	return nil
}

// Catalog is an immutable lookup of areas by ID.
type Catalog struct {
	byID map[int]*Area
}

// NewCatalog builds a catalog from the given areas.
//
// Precondition: every area must pass Validate and IDs must be unique.
// Postcondition: Returns a Catalog or an error on the first violation.
func NewCatalog(areas []*Area) (*Catalog, error) {
	byID := make(map[int]*Area, len(areas))
	for _, a := range areas {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, exists := byID[a.ID]; exists {
			return nil, fmt.Errorf("area %d: duplicate id", a.ID)
		}
		byID[a.ID] = a
	}
	return &Catalog{byID: byID}, nil
}

// Get returns the area with the given ID, or false when no such area exists.
func (c *Catalog) Get(id int) (*Area, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// All returns every area ordered by ID.
func (c *Catalog) All() []*Area {
	areas := make([]*Area, 0, len(c.byID))
	for _, a := range c.byID {
		areas = append(areas, a)
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i].ID < areas[j].ID })
	return areas
}

// Len returns the number of areas in the catalog.
func (c *Catalog) Len() int { return len(c.byID) }

type catalogFile struct {
	Areas []*Area `yaml:"areas"`
}

// LoadCatalogFromBytes parses a catalog from raw YAML bytes.
//
// Precondition: data must be valid YAML with a top-level "areas" list.
// Postcondition: Returns a validated *Catalog, or an error.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing area catalog YAML: %w", err)
	}
	if len(file.Areas) == 0 {
		return nil, fmt.Errorf("area catalog: no areas defined")
	}
	return NewCatalog(file.Areas)
}

// LoadCatalog reads the area catalog from the given YAML file.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a validated *Catalog, or an error.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading area catalog %q: %w", path, err)
	}
	catalog, err := LoadCatalogFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return catalog, nil
}
