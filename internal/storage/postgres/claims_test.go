package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsea/expedition/internal/game/reward"
	"github.com/driftsea/expedition/internal/storage/postgres"
	"github.com/driftsea/expedition/internal/testutil"
)

func setupClaimLedger(t *testing.T) *postgres.ClaimLedger {
	t.Helper()
	pool := testutil.NewPool(t)
	return postgres.NewClaimLedger(pool)
}

func makeClaimRecord(playerID, roomID string) reward.ClaimRecord {
	return reward.ClaimRecord{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		RoomID:   roomID,
		Items: []reward.Item{
			{Species: "Razorfang", Quantity: 3},
			{Species: "Mirewing", Quantity: 1},
		},
		ClaimedAt: time.Now().UTC(),
	}
}

func TestClaimLedger_InsertAndFind(t *testing.T) {
	ledger := setupClaimLedger(t)
	ctx := context.Background()
	player := uniquePlayer("player")
	roomID := uuid.NewString()

	record := makeClaimRecord(player, roomID)
	require.NoError(t, ledger.Insert(ctx, record))

	found, err := ledger.Find(ctx, player, roomID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, player, found.PlayerID)
	assert.Equal(t, roomID, found.RoomID)
	assert.Equal(t, record.Items, found.Items)
	assert.WithinDuration(t, record.ClaimedAt, found.ClaimedAt, time.Second)
}

func TestClaimLedger_DuplicateClaim(t *testing.T) {
	ledger := setupClaimLedger(t)
	ctx := context.Background()
	player := uniquePlayer("player")
	roomID := uuid.NewString()

	require.NoError(t, ledger.Insert(ctx, makeClaimRecord(player, roomID)))

	// A retry carries a fresh record ID but the same (player, room) pair.
	err := ledger.Insert(ctx, makeClaimRecord(player, roomID))
	require.Error(t, err)
	assert.ErrorIs(t, err, reward.ErrAlreadyClaimed)
}

func TestClaimLedger_SamePlayerDifferentRooms(t *testing.T) {
	ledger := setupClaimLedger(t)
	ctx := context.Background()
	player := uniquePlayer("player")

	require.NoError(t, ledger.Insert(ctx, makeClaimRecord(player, uuid.NewString())))
	require.NoError(t, ledger.Insert(ctx, makeClaimRecord(player, uuid.NewString())))
}

func TestClaimLedger_FindMissing(t *testing.T) {
	ledger := setupClaimLedger(t)

	found, err := ledger.Find(context.Background(), uniquePlayer("ghost"), uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, found)
}
