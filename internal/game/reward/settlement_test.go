package reward

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/driftsea/expedition/internal/game/battle"
	"github.com/driftsea/expedition/internal/game/bestiary"
	"github.com/driftsea/expedition/internal/game/companion"
	"github.com/driftsea/expedition/internal/game/rng"
	"github.com/driftsea/expedition/internal/game/room"
)

type fakeLedger struct {
	mu      sync.Mutex
	records map[string]ClaimRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]ClaimRecord)}
}

func ledgerKey(playerID, roomID string) string { return playerID + "|" + roomID }

func (f *fakeLedger) Insert(_ context.Context, record ClaimRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey(record.PlayerID, record.RoomID)
	if _, exists := f.records[key]; exists {
		return ErrAlreadyClaimed
	}
	f.records[key] = record
	return nil
}

func (f *fakeLedger) Find(_ context.Context, playerID, roomID string) (*ClaimRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[ledgerKey(playerID, roomID)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

type fakeInventory struct {
	mu        sync.Mutex
	capacity  int
	credited  map[string][]Item
	applied   map[string]bool
	creditErr error
}

func newFakeInventory(capacity int) *fakeInventory {
	return &fakeInventory{
		capacity: capacity,
		credited: make(map[string][]Item),
		applied:  make(map[string]bool),
	}
}

func (f *fakeInventory) CheckCapacity(_ context.Context, _ string, items []Item) error {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	if total > f.capacity {
		return ErrInventoryFull
	}
	return nil
}

func (f *fakeInventory) Credit(_ context.Context, claimID, playerID string, items []Item) (bool, error) {
	if f.creditErr != nil {
		return false, f.creditErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applied[claimID] {
		return false, nil
	}
	f.applied[claimID] = true
	f.credited[playerID] = append(f.credited[playerID], items...)
	return true, nil
}

type fakeCompanionStore struct {
	mu       sync.Mutex
	progress map[string]companion.Progress
}

func newFakeCompanionStore() *fakeCompanionStore {
	return &fakeCompanionStore{progress: make(map[string]companion.Progress)}
}

func (f *fakeCompanionStore) Progress(_ context.Context, playerID, name string) (companion.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.progress[playerID+"|"+name]
	if !ok {
		return companion.Progress{Level: 1}, nil
	}
	return p, nil
}

func (f *fakeCompanionStore) SaveProgress(_ context.Context, playerID, name string, p companion.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[playerID+"|"+name] = p
	return nil
}

func deadMonster(id, loot string, maxHP int, prefix *bestiary.Prefix) *bestiary.Monster {
	return &bestiary.Monster{
		ID: id, Name: "Giant " + loot, Species: loot, LootSpecies: loot,
		Prefix: prefix, Rank: 1, MaxHP: maxHP, CurrentHP: 0,
		AttackPower: 10, Speed: 25, Alive: false,
	}
}

func giantPrefix() *bestiary.Prefix {
	return &bestiary.Prefix{Name: "Giant", Weight: 70, HPMult: 1, SpeedMult: 1, LootMult: 1}
}

func victoryRoom() *room.Room {
	return &room.Room{
		ID:     "room1",
		HostID: "p1",
		Status: room.StatusCompleted,
		Players: []*room.Player{
			{ID: "p1", Name: "Moss", IsHost: true, IsReady: true},
			{ID: "p2", Name: "Fin", IsReady: true},
		},
		Monsters: []*bestiary.Monster{
			deadMonster("m1", "Reef Darter", 100, giantPrefix()),
			deadMonster("m2", "Reef Darter", 150, giantPrefix()),
		},
		Snapshots: []battle.PlayerSnapshot{
			{PlayerID: "p1", Name: "Moss", Companions: []battle.CompanionSnapshot{{Name: "Sylte", Level: 1}}},
			{PlayerID: "p2", Name: "Fin"},
		},
	}
}

func testSettlement(t *testing.T, ledger ClaimLedger, inv Inventory, store CompanionStore, seed int64) *Settlement {
	t.Helper()
	return NewSettlement(ledger, inv, store, rng.NewSeededSource(seed), zaptest.NewLogger(t))
}

func TestSettleOneLinePerDefeatedMonster(t *testing.T) {
	store := newFakeCompanionStore()
	s := testSettlement(t, newFakeLedger(), newFakeInventory(100), store, 42)

	r := victoryRoom()
	rewards, err := s.Settle(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, rewards, 2)

	for _, rw := range rewards {
		assert.Equal(t, "Reef Darter", rw.Species)
		assert.GreaterOrEqual(t, rw.Quantity, 1)
		assert.LessOrEqual(t, rw.Quantity, 3, "no bonus units without a bonus chance")
		assert.Contains(t, []string{"p1", "p2"}, rw.PlayerID)
	}
}

func TestSettleSkipsLivingMonsters(t *testing.T) {
	s := testSettlement(t, newFakeLedger(), newFakeInventory(100), newFakeCompanionStore(), 7)

	r := victoryRoom()
	r.Monsters[1].Alive = true
	r.Monsters[1].CurrentHP = 10

	rewards, err := s.Settle(context.Background(), r)
	require.NoError(t, err)
	assert.Len(t, rewards, 1)
}

func TestSettleBonusUnits(t *testing.T) {
	s := testSettlement(t, newFakeLedger(), newFakeInventory(100), newFakeCompanionStore(), 11)

	duskborn := &bestiary.Prefix{
		Name: "Duskborn", Weight: 3, HPMult: 3.9, SpeedMult: 1.3, LootMult: 1.8,
		BonusChance: 1.0, BonusUnits: 3,
	}
	r := victoryRoom()
	r.Monsters = []*bestiary.Monster{deadMonster("m1", "Reef Darter", 100, duskborn)}

	rewards, err := s.Settle(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.GreaterOrEqual(t, rewards[0].Quantity, 4, "guaranteed bonus adds 3 units")
	assert.LessOrEqual(t, rewards[0].Quantity, 6)
	assert.Equal(t, "Duskborn", rewards[0].Prefix)
}

func TestSettleGrantsCompanionExp(t *testing.T) {
	store := newFakeCompanionStore()
	s := testSettlement(t, newFakeLedger(), newFakeInventory(100), store, 13)

	r := victoryRoom()
	_, err := s.Settle(context.Background(), r)
	require.NoError(t, err)

	// Total monster max HP = 250 => exp = 250/10 + 20 = 45.
	progress, err := store.Progress(context.Background(), "p1", "Sylte")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Level)
	assert.Equal(t, 45, progress.Experience)
}

func TestSettleNoPlayers(t *testing.T) {
	s := testSettlement(t, newFakeLedger(), newFakeInventory(100), newFakeCompanionStore(), 17)
	r := victoryRoom()
	r.Players = nil
	_, err := s.Settle(context.Background(), r)
	assert.Error(t, err)
}

func TestClaimIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	inv := newFakeInventory(100)
	s := testSettlement(t, ledger, inv, newFakeCompanionStore(), 19)

	r := victoryRoom()
	r.Rewards = []room.Reward{
		{PlayerID: "p1", Species: "Reef Darter", Quantity: 2, Prefix: "Giant"},
		{PlayerID: "p1", Species: "Reef Darter", Quantity: 1, Prefix: "Giant"},
	}

	items, err := s.Claim(context.Background(), r, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1, "lines aggregate by species")
	assert.Equal(t, 3, items[0].Quantity)

	_, err = s.Claim(context.Background(), r, "p1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	assert.Len(t, inv.credited["p1"], 1, "inventory credited exactly once")
}

func TestClaimInventoryFullBeforeAnyMutation(t *testing.T) {
	ledger := newFakeLedger()
	s := testSettlement(t, ledger, newFakeInventory(1), newFakeCompanionStore(), 23)

	r := victoryRoom()
	r.Rewards = []room.Reward{{PlayerID: "p1", Species: "Reef Darter", Quantity: 5}}

	_, err := s.Claim(context.Background(), r, "p1")
	assert.ErrorIs(t, err, ErrInventoryFull)

	record, err := ledger.Find(context.Background(), "p1", "room1")
	require.NoError(t, err)
	assert.Nil(t, record, "no claim record when capacity check fails")
}

func TestClaimNoRewardsForPlayer(t *testing.T) {
	s := testSettlement(t, newFakeLedger(), newFakeInventory(100), newFakeCompanionStore(), 29)
	r := victoryRoom()
	r.Rewards = []room.Reward{{PlayerID: "p1", Species: "Reef Darter", Quantity: 2}}

	_, err := s.Claim(context.Background(), r, "p2")
	assert.ErrorIs(t, err, ErrNoRewards)
}

func TestClaimCreditFailureLeavesLedgerRecord(t *testing.T) {
	ledger := newFakeLedger()
	inv := newFakeInventory(100)
	inv.creditErr = errors.New("inventory service unreachable")
	s := testSettlement(t, ledger, inv, newFakeCompanionStore(), 31)

	r := victoryRoom()
	r.Rewards = []room.Reward{{PlayerID: "p1", Species: "Reef Darter", Quantity: 2}}

	_, err := s.Claim(context.Background(), r, "p1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyClaimed)

	record, err := ledger.Find(context.Background(), "p1", "room1")
	require.NoError(t, err)
	require.NotNil(t, record, "the record survives for the retry")
	assert.Empty(t, inv.credited["p1"])
}

func TestClaimRetryAfterCreditFailureDeliversItems(t *testing.T) {
	// The first claim records the ledger entry but the credit fails; the
	// retry finds the record, re-drives the credit under the same claim ID,
	// and hands the player their items exactly once.
	ledger := newFakeLedger()
	inv := newFakeInventory(100)
	inv.creditErr = errors.New("inventory service unreachable")
	s := testSettlement(t, ledger, inv, newFakeCompanionStore(), 41)

	r := victoryRoom()
	r.Rewards = []room.Reward{{PlayerID: "p1", Species: "Reef Darter", Quantity: 2}}

	_, err := s.Claim(context.Background(), r, "p1")
	require.Error(t, err)

	inv.creditErr = nil
	items, err := s.Claim(context.Background(), r, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Len(t, inv.credited["p1"], 1, "recovered credit granted once")

	_, err = s.Claim(context.Background(), r, "p1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Len(t, inv.credited["p1"], 1)
}

func TestClaimConcurrentRetriesGrantOnce(t *testing.T) {
	ledger := newFakeLedger()
	inv := newFakeInventory(100)
	s := testSettlement(t, ledger, inv, newFakeCompanionStore(), 37)

	r := victoryRoom()
	r.Rewards = []room.Reward{{PlayerID: "p1", Species: "Reef Darter", Quantity: 2}}

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Claim(context.Background(), r, "p1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Len(t, inv.credited["p1"], 1)
}
