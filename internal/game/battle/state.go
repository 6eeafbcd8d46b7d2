package battle

import (
	"fmt"

	"github.com/driftsea/expedition/internal/game/companion"
)

// Entity key construction. Every combatant in a battle is addressed by a
// typed string key so that HP, morale, and buffs can live in flat maps.
func PlayerKey(playerID string) string { return "player:" + playerID }

// CompanionKey returns the entity key for a player's companion.
func CompanionKey(playerID, name string) string {
	return "companion:" + playerID + ":" + name
}

// MonsterKey returns the entity key for a generated monster.
func MonsterKey(monsterID string) string { return "monster:" + monsterID }

// State is the shared mutable battle state for one room. All mutation is
// serialized through the encounter's apply loop; State itself carries no
// locking.
//
// Invariant: 0 <= HP[k] <= MaxHP[k] for every entity k at all times.
type State struct {
	HP     map[string]int
	MaxHP  map[string]int
	Morale map[string]int
	Buffs  map[string]Buffs
	Log    []string
}

// NewState creates an empty battle state.
func NewState() *State {
	return &State{
		HP:     make(map[string]int),
		MaxHP:  make(map[string]int),
		Morale: make(map[string]int),
		Buffs:  make(map[string]Buffs),
	}
}

// AddEntity registers a combatant at full HP.
//
// Precondition: maxHP >= 1; key must not already be registered.
func (s *State) AddEntity(key string, maxHP int) {
	s.HP[key] = maxHP
	s.MaxHP[key] = maxHP
}

// AddCompanion registers a companion with starting morale and an empty buff
// map in addition to its HP entry.
func (s *State) AddCompanion(key string, maxHP, morale int) {
	s.AddEntity(key, maxHP)
	s.Morale[key] = morale
	s.Buffs[key] = make(Buffs)
}

// Alive reports whether the entity is registered and has HP remaining.
func (s *State) Alive(key string) bool { return s.HP[key] > 0 }

// ApplyDamage subtracts damage from the entity's HP, flooring at 0.
//
// Precondition: damage >= 0.
// Postcondition: Returns true iff this call brought the entity to 0 HP.
func (s *State) ApplyDamage(key string, damage int) bool {
	before := s.HP[key]
	if before <= 0 {
		return false
	}
	after := before - damage
	if after < 0 {
		after = 0
	}
	s.HP[key] = after
	return after == 0
}

// Heal adds the amount to the entity's HP, capped at its max.
//
// Precondition: amount >= 0; the entity must be alive.
// Postcondition: Returns the HP actually restored.
func (s *State) Heal(key string, amount int) int {
	before := s.HP[key]
	after := before + amount
	if max := s.MaxHP[key]; after > max {
		after = max
	}
	s.HP[key] = after
	return after - before
}

// HPRatio returns the entity's current HP as a fraction of its max.
func (s *State) HPRatio(key string) float64 {
	max := s.MaxHP[key]
	if max == 0 {
		return 0
	}
	return float64(s.HP[key]) / float64(max)
}

// Logf appends a formatted line to the battle log.
func (s *State) Logf(format string, args ...any) {
	s.Log = append(s.Log, fmt.Sprintf(format, args...))
}

// Snapshot is an immutable copy of the battle state for event publication.
type Snapshot struct {
	HP     map[string]int
	MaxHP  map[string]int
	Morale map[string]int
	Log    []string
}

// Snapshot deep-copies the observable state. Buff internals are not exposed;
// observers only see HP, morale, and the log.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		HP:     make(map[string]int, len(s.HP)),
		MaxHP:  make(map[string]int, len(s.MaxHP)),
		Morale: make(map[string]int, len(s.Morale)),
		Log:    make([]string, len(s.Log)),
	}
	for k, v := range s.HP {
		snap.HP[k] = v
	}
	for k, v := range s.MaxHP {
		snap.MaxHP[k] = v
	}
	for k, v := range s.Morale {
		snap.Morale[k] = v
	}
	copy(snap.Log, s.Log)
	return snap
}

// companionBuffs returns the companion's buff map, creating it on first use.
func (s *State) companionBuffs(key string) Buffs {
	b, ok := s.Buffs[key]
	if !ok {
		b = make(Buffs)
		s.Buffs[key] = b
	}
	return b
}

// applyBuff installs or refreshes a timed buff on the companion.
func (s *State) applyBuff(key string, t companion.BuffType, multiplier float64, duration int) {
	s.companionBuffs(key)[t] = &Buff{Multiplier: multiplier, Remaining: duration}
}
