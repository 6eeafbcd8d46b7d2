// Package battle implements the live expedition encounter: the damage model,
// the shared battle state, and the speed-paced actor engine that drives every
// combatant concurrently until one side is wiped out.
package battle

import (
	"math"

	"github.com/driftsea/expedition/internal/game/companion"
	"github.com/driftsea/expedition/internal/game/rng"
)

const (
	// damageSpread is the uniform variance applied to every damage roll.
	damageSpread = 0.2
	// baseCritChance is the companion critical-hit chance before buffs.
	baseCritChance = 0.05
	// critMultiplier scales final damage on a critical hit.
	critMultiplier = 1.5
)

// Buff is one active timed multiplier on a companion.
type Buff struct {
	Multiplier float64
	Remaining  int
}

// Buffs maps buff type to the active entry for one companion. A missing or
// expired entry means the buff is not in effect.
type Buffs map[companion.BuffType]*Buff

// active reports whether a buff of the given type is currently in effect.
func (b Buffs) active(t companion.BuffType) (*Buff, bool) {
	buff, ok := b[t]
	if !ok || buff.Remaining <= 0 {
		return nil, false
	}
	return buff, true
}

// Tick decrements every buff's remaining turns and removes expired entries.
// A buff type listed in except is skipped; the engine uses this to exempt a
// buff installed during the current action from its own tick.
func (b Buffs) Tick(except ...companion.BuffType) {
	for t, buff := range b {
		skip := false
		for _, ex := range except {
			if t == ex {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		buff.Remaining--
		if buff.Remaining <= 0 {
			delete(b, t)
		}
	}
}

// floorDamage floors a jittered roll and clamps it to the 1-damage minimum
// that keeps every hit making progress, so combat always terminates.
func floorDamage(v float64) int {
	d := int(math.Floor(v))
	if d < 1 {
		return 1
	}
	return d
}

// PlayerDamage computes a player's basic-attack damage: the enhancement bonus
// scales the attack stat, then the result is jittered and floored.
//
// Precondition: src must be non-nil.
// Postcondition: Returns a value in [floor(0.8*a), floor(1.2*a)] for
// a = attack*(1+enhancementPct), never below 1.
func PlayerDamage(attack, enhancementPct float64, src rng.Source) int {
	return floorDamage(rng.Jitter(attack*(1+enhancementPct), damageSpread, src))
}

// CompanionDamage computes a companion's basic-attack damage. An active
// attack buff multiplies the pre-jitter attack; the critical chance is 5%
// plus any active critical buff, and a critical multiplies final damage
// by 1.5.
//
// Precondition: src must be non-nil; buffs may be nil.
func CompanionDamage(attack int, buffs Buffs, src rng.Source) (int, bool) {
	return companionStrike(float64(attack), buffs, src)
}

// CompanionSkillDamage computes a damage-skill strike: the skill multiplier
// scales attack before the usual buff, jitter, and critical handling.
//
// Precondition: src must be non-nil; multiplier > 0.
func CompanionSkillDamage(attack int, multiplier float64, buffs Buffs, src rng.Source) (int, bool) {
	return companionStrike(float64(attack)*multiplier, buffs, src)
}

func companionStrike(attack float64, buffs Buffs, src rng.Source) (int, bool) {
	critChance := baseCritChance
	if buff, ok := buffs.active(companion.BuffCritical); ok {
		critChance += buff.Multiplier
	}
	if buff, ok := buffs.active(companion.BuffAttack); ok {
		attack *= buff.Multiplier
	}

	crit := src.Float64() < critChance
	damage := floorDamage(rng.Jitter(attack, damageSpread, src))
	if crit {
		damage = int(math.Floor(float64(damage) * critMultiplier))
	}
	return damage, crit
}

// HealAmount computes a heal-skill restore from the caster's attack stat.
// Heals are not jittered.
func HealAmount(attack int, multiplier float64) int {
	return int(math.Floor(float64(attack) * multiplier))
}

// MonsterDamage computes a monster's attack damage: jittered attack power,
// no critical hits, never below 1.
//
// Precondition: src must be non-nil.
func MonsterDamage(attackPower int, src rng.Source) int {
	return floorDamage(rng.Jitter(float64(attackPower), damageSpread, src))
}
