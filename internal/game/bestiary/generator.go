package bestiary

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/driftsea/expedition/internal/game/area"
	"github.com/driftsea/expedition/internal/game/rng"
)

// ErrNoEligibleSpecies is returned when an area's rank range matches no
// species in the catalog.
var ErrNoEligibleSpecies = errors.New("bestiary: no species in area rank range")

// Monster is one generated expedition enemy. Created once per room at start;
// mutated only by the battle engine.
type Monster struct {
	ID          string
	Name        string
	Species     string
	LootSpecies string
	Prefix      *Prefix
	Rank        int
	MaxHP       int
	CurrentHP   int
	AttackPower int
	Speed       float64
	Alive       bool
}

// Generator produces randomized monster rosters for expedition areas.
type Generator struct {
	species  *SpeciesCatalog
	prefixes *PrefixTable
	src      rng.Source
}

// NewGenerator creates a monster generator.
//
// Precondition: species, prefixes, and src must be non-nil.
func NewGenerator(species *SpeciesCatalog, prefixes *PrefixTable, src rng.Source) *Generator {
	return &Generator{species: species, prefixes: prefixes, src: src}
}

// attackPower derives a monster's attack from its species rank.
func (g *Generator) attackPower(rank int) int {
	return int(math.Floor(math.Pow(float64(rank), 1.65) + float64(rank)*1.3 + 10 + g.src.Float64()*5))
}

// Generate builds a monster roster for the given area: a uniform count in the
// area's range, each slot drawing a species from the area's rank range and a
// weighted rarity prefix.
//
// Precondition: a must be a validated area.
// Postcondition: Returns between a.MinMonsters and a.MaxMonsters live
// monsters, or ErrNoEligibleSpecies when the catalog has no species in range.
func (g *Generator) Generate(a *area.Area) ([]*Monster, error) {
	eligible := g.species.InRankRange(a.MinRank, a.MaxRank)
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: area %d ranks %d-%d", ErrNoEligibleSpecies, a.ID, a.MinRank, a.MaxRank)
	}

	count := a.MinMonsters + g.src.Intn(a.MaxMonsters-a.MinMonsters+1)
	monsters := make([]*Monster, 0, count)
	for i := 0; i < count; i++ {
		species := eligible[g.src.Intn(len(eligible))]
		prefix := g.prefixes.Roll(g.src)

		maxHP := int(math.Floor(float64(species.BaseHP) * prefix.HPMult))
		speed := (25 + float64(species.Rank)*0.5) * prefix.SpeedMult

		monsters = append(monsters, &Monster{
			ID:          uuid.NewString(),
			Name:        fmt.Sprintf("%s %s", prefix.Name, species.Name),
			Species:     species.Name,
			LootSpecies: species.LootSpecies,
			Prefix:      prefix,
			Rank:        species.Rank,
			MaxHP:       maxHP,
			CurrentHP:   maxHP,
			AttackPower: g.attackPower(species.Rank),
			Speed:       speed,
			Alive:       true,
		})
	}
	return monsters, nil
}
