package battle

import "github.com/driftsea/expedition/internal/game/companion"

// CompanionSnapshot is one companion's derived combat stats, captured at
// encounter start. Stats are never re-read mid-battle.
type CompanionSnapshot struct {
	Name   string
	Level  int
	MaxHP  int
	Attack int
	Speed  float64
	Skill  *companion.Skill
}

// PlayerSnapshot is one player's derived combat stats at encounter start,
// provided by the external stat-snapshot collaborator.
type PlayerSnapshot struct {
	PlayerID       string
	Name           string
	Attack         float64
	EnhancementPct float64
	MaxHP          int
	Speed          float64
	Companions     []CompanionSnapshot
}
