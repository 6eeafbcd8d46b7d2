// Package roster derives player combat snapshots from the companion catalog
// and persisted companion progress.
package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftsea/expedition/internal/game/battle"
	"github.com/driftsea/expedition/internal/game/companion"
)

// ErrUnknownCompanion means a requested loadout names a companion that is
// not in the catalog.
var ErrUnknownCompanion = errors.New("roster: unknown companion")

// ProgressStore loads persisted companion progress. A companion without a
// record starts at level 1.
type ProgressStore interface {
	Progress(ctx context.Context, playerID, name string) (companion.Progress, error)
}

// Config holds the fixed player stat block and the fallback loadout applied
// when a player brings no companions of their own.
type Config struct {
	PlayerMaxHP    int
	PlayerAttack   float64
	EnhancementPct float64
	DefaultLoadout []string
}

// DefaultConfig returns the standard player stat block.
func DefaultConfig() Config {
	return Config{
		PlayerMaxHP:    300,
		PlayerAttack:   48,
		EnhancementPct: 0,
		DefaultLoadout: []string{"Sylte"},
	}
}

// Source builds battle.PlayerSnapshot values at expedition start.
type Source struct {
	cfg     Config
	catalog *companion.Catalog
	store   ProgressStore
}

// NewSource creates a snapshot source.
//
// Precondition: catalog and store must be non-nil.
func NewSource(cfg Config, catalog *companion.Catalog, store ProgressStore) *Source {
	return &Source{cfg: cfg, catalog: catalog, store: store}
}

// Snapshot derives the player's combat stats and those of each companion in
// the loadout at its persisted level. An empty loadout falls back to the
// configured default. Speed is left zero; the room registry stamps the
// uniform player speed when combat starts.
//
// Postcondition: Returns ErrUnknownCompanion when the loadout names a
// companion missing from the catalog.
func (s *Source) Snapshot(ctx context.Context, playerID, name string, loadout []string) (battle.PlayerSnapshot, error) {
	if len(loadout) == 0 {
		loadout = s.cfg.DefaultLoadout
	}

	snap := battle.PlayerSnapshot{
		PlayerID:       playerID,
		Name:           name,
		Attack:         s.cfg.PlayerAttack,
		EnhancementPct: s.cfg.EnhancementPct,
		MaxHP:          s.cfg.PlayerMaxHP,
	}

	for _, compName := range loadout {
		def, ok := s.catalog.Get(compName)
		if !ok {
			return battle.PlayerSnapshot{}, fmt.Errorf("%w: %q", ErrUnknownCompanion, compName)
		}
		progress, err := s.store.Progress(ctx, playerID, compName)
		if err != nil {
			return battle.PlayerSnapshot{}, fmt.Errorf("loading progress for %q: %w", compName, err)
		}
		level := progress.Level
		if level < 1 {
			level = 1
		}
		stats := def.StatsAt(level)
		snap.Companions = append(snap.Companions, battle.CompanionSnapshot{
			Name:   stats.Name,
			Level:  stats.Level,
			MaxHP:  stats.MaxHP,
			Attack: stats.Attack,
			Speed:  stats.Speed,
			Skill:  stats.Skill,
		})
	}
	return snap, nil
}
