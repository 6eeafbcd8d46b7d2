package battle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/driftsea/expedition/internal/game/bestiary"
	"github.com/driftsea/expedition/internal/game/companion"
	"github.com/driftsea/expedition/internal/game/rng"
)

type recordingSink struct {
	mu    sync.Mutex
	ticks []Snapshot
}

func (r *recordingSink) CombatTick(roomID string, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, snap)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func testConfig() Config {
	return Config{
		BaseTick:    100 * time.Millisecond,
		MoraleStart: 50,
		MoraleGain:  15,
	}
}

func testMonster(id string, hp, attack int, speed float64) *bestiary.Monster {
	return &bestiary.Monster{
		ID:          id,
		Name:        "Giant Reef Darter",
		Species:     "Reef Darter",
		LootSpecies: "Reef Darter",
		Prefix:      &bestiary.Prefix{Name: "Giant", Weight: 70, HPMult: 1, SpeedMult: 1, LootMult: 1},
		Rank:        1,
		MaxHP:       hp,
		CurrentHP:   hp,
		AttackPower: attack,
		Speed:       speed,
		Alive:       true,
	}
}

func countLines(log []string, substr string) int {
	n := 0
	for _, line := range log {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func TestOneVersusOneResolvesToVictory(t *testing.T) {
	sink := &recordingSink{}
	monster := testMonster("m1", 40, 5, 25)
	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 20, MaxHP: 100, Speed: 100,
	}}

	e := NewEncounter("room1", testConfig(), players, []*bestiary.Monster{monster},
		rng.NewSeededSource(42), sink, zaptest.NewLogger(t))

	resolved := make(chan Outcome, 1)
	e.Run(context.Background(), func(o Outcome) { resolved <- o })

	select {
	case outcome := <-resolved:
		assert.Equal(t, OutcomeVictory, outcome)
	case <-time.After(10 * time.Second):
		t.Fatal("encounter did not resolve in time")
	}
	e.Wait()

	state := e.State()
	assert.Equal(t, 0, state.HP[MonsterKey("m1")])
	assert.Greater(t, state.HP[PlayerKey("p1")], 0)
	assert.False(t, state.Alive(MonsterKey("m1")))
	assert.True(t, monster.Alive, "the generated roster is never touched mid-combat")
	assert.Equal(t, 40, monster.CurrentHP)
	assert.Equal(t, 1, countLines(state.Log, "was defeated!"), "exactly one kill credit")
	assert.Equal(t, 1, countLines(state.Log, "Victory!"))
	assert.Greater(t, sink.count(), 0, "combat ticks published")
}

func TestOverwhelmingMonsterResolvesToDefeat(t *testing.T) {
	sink := &recordingSink{}
	monster := testMonster("m1", 100000, 500, 100)
	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 1, MaxHP: 10, Speed: 25,
	}}

	e := NewEncounter("room1", testConfig(), players, []*bestiary.Monster{monster},
		rng.NewSeededSource(7), sink, zaptest.NewLogger(t))

	resolved := make(chan Outcome, 1)
	e.Run(context.Background(), func(o Outcome) { resolved <- o })

	select {
	case outcome := <-resolved:
		assert.Equal(t, OutcomeDefeat, outcome)
	case <-time.After(10 * time.Second):
		t.Fatal("encounter did not resolve in time")
	}
	e.Wait()

	state := e.State()
	assert.Equal(t, 0, state.HP[PlayerKey("p1")])
	assert.Equal(t, 1, countLines(state.Log, "Defeat..."))
}

func TestContextCancelStopsWithoutResolution(t *testing.T) {
	sink := &recordingSink{}
	// Two tanky sides so the fight cannot finish quickly.
	monster := testMonster("m1", 1_000_000, 1, 25)
	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 1, MaxHP: 1_000_000, Speed: 25,
	}}

	e := NewEncounter("room1", testConfig(), players, []*bestiary.Monster{monster},
		rng.NewSeededSource(1), sink, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan Outcome, 1)
	e.Run(ctx, func(o Outcome) { calls <- o })

	time.Sleep(50 * time.Millisecond)
	cancel()
	e.Wait()

	select {
	case <-calls:
		t.Fatal("completion callback must not fire on cancellation")
	default:
	}
}

// The remaining tests drive apply directly, without Run, to exercise the
// tick semantics deterministically.

func manualEncounter(t *testing.T, cfg Config, players []PlayerSnapshot, monsters []*bestiary.Monster, seed int64) (*Encounter, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	e := NewEncounter("room1", cfg, players, monsters, rng.NewSeededSource(seed), sink, zaptest.NewLogger(t))
	return e, sink
}

func TestCompanionMoraleFiresSkillExactlyOnce(t *testing.T) {
	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 5, MaxHP: 100, Speed: 100,
		Companions: []CompanionSnapshot{{
			Name: "Sylte", Level: 1, MaxHP: 54, Attack: 9, Speed: 45,
			Skill: &companion.Skill{
				Name: "Barrage", Type: companion.SkillDamage,
				DamageMultiplier: 1.5, MoraleRequired: 100,
			},
		}},
	}}
	monster := testMonster("m1", 100000, 1, 25)
	e, _ := manualEncounter(t, testConfig(), players, []*bestiary.Monster{monster}, 11)

	key := CompanionKey("p1", "Sylte")

	// Morale: 50 -> 65 -> 80 -> 95 -> 100 (capped) which meets the
	// threshold, fires the skill, and resets to 0.
	expected := []int{65, 80, 95, 0}
	for i, want := range expected {
		e.apply(key)
		assert.Equal(t, want, e.State().Morale[key], "tick %d", i+1)
	}
	assert.Equal(t, 1, countLines(e.State().Log, "used Barrage!"))

	// The next tick starts accumulating from zero, not from over the cap.
	e.apply(key)
	assert.Equal(t, 15, e.State().Morale[key])
	assert.Equal(t, 1, countLines(e.State().Log, "used Barrage!"))
}

func TestBuffSkillAppliesAndExpires(t *testing.T) {
	cfg := testConfig()
	cfg.MoraleStart = 85 // first tick reaches the threshold

	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 5, MaxHP: 100, Speed: 100,
		Companions: []CompanionSnapshot{{
			Name: "Fiena", Level: 1, MaxHP: 66, Attack: 8, Speed: 25,
			Skill: &companion.Skill{
				Name: "Steadfast Stance", Type: companion.SkillBuff,
				BuffType: companion.BuffAttack, BuffMultiplier: 1.25,
				BuffDuration: 2, MoraleRequired: 100,
			},
		}},
	}}
	monster := testMonster("m1", 100000, 1, 25)
	e, _ := manualEncounter(t, cfg, players, []*bestiary.Monster{monster}, 13)

	key := CompanionKey("p1", "Fiena")

	// Tick 1: skill fires, buff installed at full duration (exempt from its
	// own tick).
	e.apply(key)
	require.Contains(t, e.State().Buffs[key], companion.BuffAttack)
	assert.Equal(t, 2, e.State().Buffs[key][companion.BuffAttack].Remaining)
	assert.Equal(t, 1, countLines(e.State().Log, "used Steadfast Stance!"))

	// Tick 2: basic attack under the buff, then the duration decrements.
	e.apply(key)
	assert.Equal(t, 1, e.State().Buffs[key][companion.BuffAttack].Remaining)

	// Tick 3: last buffed action; the buff expires afterwards.
	e.apply(key)
	assert.NotContains(t, e.State().Buffs[key], companion.BuffAttack)
}

func TestHealSkillTargetsLowestRatioAlly(t *testing.T) {
	cfg := testConfig()
	cfg.MoraleStart = 85

	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 5, MaxHP: 100, Speed: 100,
		Companions: []CompanionSnapshot{{
			Name: "Chloe", Level: 1, MaxHP: 40, Attack: 14, Speed: 65,
			Skill: &companion.Skill{
				Name: "Ether Blessing", Type: companion.SkillHeal,
				HealMultiplier: 1.85, MoraleRequired: 100,
			},
		}},
	}}
	monster := testMonster("m1", 100000, 1, 25)
	e, _ := manualEncounter(t, cfg, players, []*bestiary.Monster{monster}, 17)

	playerKey := PlayerKey("p1")
	// Wound the player to 10% so it is clearly the lowest-ratio ally.
	e.State().ApplyDamage(playerKey, 90)

	e.apply(CompanionKey("p1", "Chloe"))

	// Heal = floor(14 * 1.85) = 25.
	assert.Equal(t, 35, e.State().HP[playerKey])
	assert.Equal(t, 1, countLines(e.State().Log, "restored 25 HP to Moss!"))
}

func TestDeadActorIntentDiscarded(t *testing.T) {
	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 1000, MaxHP: 100, Speed: 100,
	}}
	monster := testMonster("m1", 40, 5, 25)
	e, _ := manualEncounter(t, testConfig(), players, []*bestiary.Monster{monster}, 19)

	e.apply(PlayerKey("p1"))
	require.Equal(t, 0, e.State().HP[MonsterKey("m1")])
	logLen := len(e.State().Log)

	// A stale intent from the dead monster must be a no-op.
	e.apply(MonsterKey("m1"))
	assert.Equal(t, logLen, len(e.State().Log))
	assert.Equal(t, 100, e.State().HP[PlayerKey("p1")])
}

func TestKillCreditExactlyOnce(t *testing.T) {
	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 1000, MaxHP: 100, Speed: 100,
	}}
	monster := testMonster("m1", 40, 5, 25)
	e, _ := manualEncounter(t, testConfig(), players, []*bestiary.Monster{monster}, 23)

	e.apply(PlayerKey("p1"))
	// Further player ticks find no living target and do nothing.
	e.apply(PlayerKey("p1"))
	e.apply(PlayerKey("p1"))

	assert.Equal(t, 1, countLines(e.State().Log, "was defeated!"))
}

func TestMonsterTargetsPartyUniformly(t *testing.T) {
	players := []PlayerSnapshot{{
		PlayerID: "p1", Name: "Moss", Attack: 5, MaxHP: 10000, Speed: 100,
		Companions: []CompanionSnapshot{{
			Name: "Nahatra", Level: 1, MaxHP: 10000, Attack: 11, Speed: 30,
		}},
	}}
	monster := testMonster("m1", 100000, 50, 25)
	e, _ := manualEncounter(t, testConfig(), players, []*bestiary.Monster{monster}, 29)

	for i := 0; i < 200; i++ {
		e.apply(MonsterKey("m1"))
	}

	playerHurt := e.State().HP[PlayerKey("p1")] < 10000
	companionHurt := e.State().HP[CompanionKey("p1", "Nahatra")] < 10000
	assert.True(t, playerHurt, "player should be struck at least once over 200 ticks")
	assert.True(t, companionHurt, "companion should be struck at least once over 200 ticks")
}
