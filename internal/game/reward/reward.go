// Package reward implements post-victory settlement: loot computation,
// companion experience grants, and the idempotent claim path backed by a
// durable ledger.
package reward

import (
	"context"
	"errors"
	"time"

	"github.com/driftsea/expedition/internal/game/companion"
)

// Sentinel errors for the claim path.
var (
	// ErrAlreadyClaimed means a claim record already exists for the
	// (player, room) pair; the reward is never re-granted.
	ErrAlreadyClaimed = errors.New("reward: rewards already claimed")
	// ErrInventoryFull means crediting would exceed the inventory's
	// capacity; checked before any mutation.
	ErrInventoryFull = errors.New("reward: inventory is full")
	// ErrNoRewards means the player has no reward lines in the room.
	ErrNoRewards = errors.New("reward: no rewards for player")
)

// Item is one species/quantity loot line.
type Item struct {
	Species  string `json:"species"`
	Quantity int    `json:"quantity"`
}

// ClaimRecord is the durable "reward already granted" fact, unique on
// (PlayerID, RoomID). Created once, never mutated.
type ClaimRecord struct {
	ID        string
	PlayerID  string
	RoomID    string
	Items     []Item
	ClaimedAt time.Time
}

// ClaimLedger is the durable claim store. Insert fails with
// ErrAlreadyClaimed when a record for the same (player, room) exists.
type ClaimLedger interface {
	Insert(ctx context.Context, record ClaimRecord) error
	Find(ctx context.Context, playerID, roomID string) (*ClaimRecord, error)
}

// Inventory is the external item-credit collaborator. CheckCapacity fails
// with ErrInventoryFull when the items would not fit. Credit is idempotent
// per claim: it reports whether this call applied the items, and false when
// the claim was already credited.
type Inventory interface {
	CheckCapacity(ctx context.Context, playerID string, items []Item) error
	Credit(ctx context.Context, claimID, playerID string, items []Item) (bool, error)
}

// CompanionStore persists companion level and experience.
type CompanionStore interface {
	Progress(ctx context.Context, playerID, name string) (companion.Progress, error)
	SaveProgress(ctx context.Context, playerID, name string, p companion.Progress) error
}
