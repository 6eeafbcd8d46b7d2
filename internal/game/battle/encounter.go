package battle

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftsea/expedition/internal/game/bestiary"
	"github.com/driftsea/expedition/internal/game/companion"
	"github.com/driftsea/expedition/internal/game/rng"
)

// MoraleCap is the maximum morale a companion can accumulate.
const MoraleCap = 100

// ErrNoLivingTarget is returned by target selection when the opposing side
// has no living combatant left.
var ErrNoLivingTarget = errors.New("battle: no living target")

// Outcome is the terminal result of an encounter.
type Outcome int

const (
	// OutcomeVictory means every monster died.
	OutcomeVictory Outcome = iota
	// OutcomeDefeat means every player and companion died.
	OutcomeDefeat
)

func (o Outcome) String() string {
	if o == OutcomeVictory {
		return "victory"
	}
	return "defeat"
}

// EventSink receives state snapshots after every applied action. Delivery is
// fire-and-forget; implementations must not block the apply loop.
type EventSink interface {
	CombatTick(roomID string, snap Snapshot)
}

// Config holds the encounter pacing parameters.
type Config struct {
	// BaseTick divided by a combatant's speed yields its tick period.
	BaseTick time.Duration
	// MoraleStart is every companion's morale when combat begins.
	MoraleStart int
	// MoraleGain is the morale added on each companion tick, capped at
	// MoraleCap.
	MoraleGain int
}

type side int

const (
	sideParty side = iota
	sideMonsters
)

type kind int

const (
	kindPlayer kind = iota
	kindCompanion
	kindMonster
)

// combatant is one scheduled actor. The halt channel is closed by the apply
// loop when the combatant dies, which permanently stops its ticker goroutine.
type combatant struct {
	key            string
	name           string
	side           side
	kind           kind
	speed          float64
	attack         float64 // player basic attack
	enhancementPct float64
	attackStat     int // companion/monster attack
	skill          *companion.Skill
	halt           chan struct{}
	halted         bool
}

// Encounter drives one room's combat: every living combatant ticks on its
// own speed-derived period, and all effects are applied by a single consumer
// goroutine so that shared-state mutation is fully serialized.
type Encounter struct {
	roomID string
	cfg    Config
	src    rng.Source
	logger *zap.Logger
	sink   EventSink

	state      *State
	combatants map[string]*combatant
	order      []string

	intents chan string
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEncounter builds the live battle state from the player snapshots and
// the generated monster roster.
//
// Precondition: players and monsters must be non-empty; src, sink, and
// logger must be non-nil. Snapshots are captured data and are not re-read.
func NewEncounter(
	roomID string,
	cfg Config,
	players []PlayerSnapshot,
	monsters []*bestiary.Monster,
	src rng.Source,
	sink EventSink,
	logger *zap.Logger,
) *Encounter {
	e := &Encounter{
		roomID:     roomID,
		cfg:        cfg,
		src:        src,
		logger:     logger,
		sink:       sink,
		state:      NewState(),
		combatants: make(map[string]*combatant),
		done:       make(chan struct{}),
	}

	for i := range players {
		p := &players[i]
		key := PlayerKey(p.PlayerID)
		e.state.AddEntity(key, p.MaxHP)
		e.add(&combatant{
			key:            key,
			name:           p.Name,
			side:           sideParty,
			kind:           kindPlayer,
			speed:          p.Speed,
			attack:         p.Attack,
			enhancementPct: p.EnhancementPct,
		})

		for j := range p.Companions {
			c := &p.Companions[j]
			ckey := CompanionKey(p.PlayerID, c.Name)
			e.state.AddCompanion(ckey, c.MaxHP, cfg.MoraleStart)
			e.add(&combatant{
				key:        ckey,
				name:       c.Name,
				side:       sideParty,
				kind:       kindCompanion,
				speed:      c.Speed,
				attackStat: c.Attack,
				skill:      c.Skill,
			})
		}
	}

	for _, m := range monsters {
		key := MonsterKey(m.ID)
		e.state.AddEntity(key, m.MaxHP)
		e.add(&combatant{
			key:        key,
			name:       m.Name,
			side:       sideMonsters,
			kind:       kindMonster,
			speed:      m.Speed,
			attackStat: m.AttackPower,
		})
	}

	e.intents = make(chan string, len(e.combatants))
	return e
}

func (e *Encounter) add(c *combatant) {
	c.halt = make(chan struct{})
	e.combatants[c.key] = c
	e.order = append(e.order, c.key)
}

// State returns the battle state. Callers may only read it before Run or
// once the encounter has resolved, from the completion callback onward.
func (e *Encounter) State() *State { return e.state }

// Run starts one ticker goroutine per combatant and the single apply
// goroutine, then returns. onResolved is invoked exactly once, from the
// apply goroutine, after every actor has been cancelled; it is not invoked
// when ctx is cancelled before the encounter resolves.
//
// Precondition: Run must be called at most once.
func (e *Encounter) Run(ctx context.Context, onResolved func(Outcome)) {
	e.logger.Info("encounter started",
		zap.String("room_id", e.roomID),
		zap.Int("combatants", len(e.combatants)),
	)

	e.wg.Add(1)
	go e.applyLoop(ctx, onResolved)

	for _, key := range e.order {
		c := e.combatants[key]
		e.wg.Add(1)
		go e.actorLoop(ctx, c)
	}
}

// Wait blocks until every encounter goroutine has exited.
func (e *Encounter) Wait() { e.wg.Wait() }

// period converts a speed stat into a tick interval.
func (e *Encounter) period(speed float64) time.Duration {
	if speed <= 0 {
		speed = 1
	}
	p := time.Duration(float64(e.cfg.BaseTick) / speed)
	if p < time.Millisecond {
		p = time.Millisecond
	}
	return p
}

// actorLoop enqueues one intent per tick until the combatant dies, the
// encounter resolves, or ctx is cancelled. It never mutates shared state.
func (e *Encounter) actorLoop(ctx context.Context, c *combatant) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.period(c.speed))
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-c.halt:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case e.intents <- c.key:
			case <-e.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// applyLoop is the single writer: it consumes intents one at a time, applies
// effects, and checks for resolution. Closing done here guarantees no
// in-flight tick can apply effects after resolution is detected.
func (e *Encounter) applyLoop(ctx context.Context, onResolved func(Outcome)) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			close(e.done)
			e.logger.Info("encounter cancelled", zap.String("room_id", e.roomID))
			return
		case key := <-e.intents:
			e.apply(key)

			outcome, over := e.resolution()
			if !over {
				continue
			}
			close(e.done)

			if outcome == OutcomeVictory {
				e.state.Logf("Victory! Every monster has been defeated.")
			} else {
				e.state.Logf("Defeat... the party has fallen.")
			}
			e.sink.CombatTick(e.roomID, e.state.Snapshot())
			e.logger.Info("encounter resolved",
				zap.String("room_id", e.roomID),
				zap.String("outcome", outcome.String()),
			)
			onResolved(outcome)
			return
		}
	}
}

// apply executes one combatant's action. Stale intents from dead combatants
// are discarded here, under the same serialization as mutation.
func (e *Encounter) apply(key string) {
	c := e.combatants[key]
	if !e.state.Alive(key) {
		return
	}

	switch c.kind {
	case kindPlayer:
		e.playerAct(c)
	case kindCompanion:
		e.companionAct(c)
	case kindMonster:
		e.monsterAct(c)
	}

	e.sink.CombatTick(e.roomID, e.state.Snapshot())
}

func (e *Encounter) playerAct(c *combatant) {
	target, err := e.pickLiving(sideMonsters)
	if err != nil {
		return
	}
	e.strike(c, target, PlayerDamage(c.attack, c.enhancementPct, e.src), false)
}

func (e *Encounter) monsterAct(c *combatant) {
	target, err := e.pickLiving(sideParty)
	if err != nil {
		return
	}
	e.strike(c, target, MonsterDamage(c.attackStat, e.src), false)
}

func (e *Encounter) companionAct(c *combatant) {
	morale := e.state.Morale[c.key] + e.cfg.MoraleGain
	if morale > MoraleCap {
		morale = MoraleCap
	}
	e.state.Morale[c.key] = morale

	buffs := e.state.companionBuffs(c.key)

	var fresh companion.BuffType
	if c.skill != nil && morale >= c.skill.MoraleRequired {
		e.state.Morale[c.key] = 0
		fresh = e.useSkill(c, buffs)
	} else if target, err := e.pickLiving(sideMonsters); err == nil {
		dmg, crit := CompanionDamage(c.attackStat, buffs, e.src)
		e.strike(c, target, dmg, crit)
	}

	// Buff durations decrement on the owner's own tick, after it acts. A
	// buff installed by this action is exempt until the next tick, so a
	// declared duration of N covers the owner's next N actions.
	buffs.Tick(fresh)
}

// useSkill fires the companion's morale skill. Returns the buff type it
// installed, or the zero value for non-buff skills.
func (e *Encounter) useSkill(c *combatant, buffs Buffs) companion.BuffType {
	skill := c.skill
	e.state.Logf("%s used %s!", c.name, skill.Name)

	switch skill.Type {
	case companion.SkillHeal:
		ally := e.lowestHPAlly()
		if ally == nil {
			return ""
		}
		healed := e.state.Heal(ally.key, HealAmount(c.attackStat, skill.HealMultiplier))
		e.state.Logf("%s restored %d HP to %s!", c.name, healed, ally.name)

	case companion.SkillBuff:
		e.state.applyBuff(c.key, skill.BuffType, skill.BuffMultiplier, skill.BuffDuration)
		mult := skill.DamageMultiplier
		if mult <= 0 {
			mult = 1.0
		}
		if target, err := e.pickLiving(sideMonsters); err == nil {
			dmg, crit := CompanionSkillDamage(c.attackStat, mult, buffs, e.src)
			e.strike(c, target, dmg, crit)
		}
		return skill.BuffType

	case companion.SkillDamage:
		if target, err := e.pickLiving(sideMonsters); err == nil {
			dmg, crit := CompanionSkillDamage(c.attackStat, skill.DamageMultiplier, buffs, e.src)
			e.strike(c, target, dmg, crit)
		}
	}
	return ""
}

// strike applies damage to the target, logs the hit, and handles the death
// transition. ApplyDamage reports death only on the 0-HP transition, so a
// monster receives kill credit exactly once. The generated Monster structs
// are never touched here; final HP flows back to the roster at completion.
func (e *Encounter) strike(attacker, target *combatant, damage int, crit bool) {
	dead := e.state.ApplyDamage(target.key, damage)

	critText := ""
	if crit {
		critText = " (critical!)"
	}
	e.state.Logf("%s hit %s for %d damage!%s", attacker.name, target.name, damage, critText)

	if dead {
		e.state.Logf("%s was defeated!", target.name)
		e.stopActor(target)
	}
}

// stopActor permanently cancels a dead combatant's ticker. Only the apply
// loop calls this, so the close cannot race.
func (e *Encounter) stopActor(c *combatant) {
	if c.halted {
		return
	}
	c.halted = true
	close(c.halt)
}

// pickLiving returns a uniformly random living combatant on the given side.
func (e *Encounter) pickLiving(s side) (*combatant, error) {
	var living []*combatant
	for _, key := range e.order {
		c := e.combatants[key]
		if c.side == s && e.state.Alive(c.key) {
			living = append(living, c)
		}
	}
	if len(living) == 0 {
		return nil, ErrNoLivingTarget
	}
	return living[e.src.Intn(len(living))], nil
}

// lowestHPAlly returns the living party member with the lowest HP ratio,
// ties broken by first-found order.
func (e *Encounter) lowestHPAlly() *combatant {
	var best *combatant
	bestRatio := math.MaxFloat64
	for _, key := range e.order {
		c := e.combatants[key]
		if c.side != sideParty || !e.state.Alive(c.key) {
			continue
		}
		if ratio := e.state.HPRatio(c.key); ratio < bestRatio {
			bestRatio = ratio
			best = c
		}
	}
	return best
}

// resolution reports whether the encounter is over and with what outcome.
func (e *Encounter) resolution() (Outcome, bool) {
	partyAlive, monstersAlive := false, false
	for _, key := range e.order {
		c := e.combatants[key]
		if !e.state.Alive(c.key) {
			continue
		}
		if c.side == sideParty {
			partyAlive = true
		} else {
			monstersAlive = true
		}
	}
	if !monstersAlive {
		return OutcomeVictory, true
	}
	if !partyAlive {
		return OutcomeDefeat, true
	}
	return 0, false
}
