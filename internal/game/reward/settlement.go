package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftsea/expedition/internal/game/companion"
	"github.com/driftsea/expedition/internal/game/rng"
	"github.com/driftsea/expedition/internal/game/room"
)

// Settlement computes per-player loot and companion experience on victory
// and commits claims through the idempotent ledger.
type Settlement struct {
	ledger     ClaimLedger
	inventory  Inventory
	companions CompanionStore
	src        rng.Source
	logger     *zap.Logger
}

// NewSettlement creates a settlement service.
//
// Precondition: all collaborators must be non-nil.
func NewSettlement(ledger ClaimLedger, inventory Inventory, companions CompanionStore, src rng.Source, logger *zap.Logger) *Settlement {
	return &Settlement{
		ledger:     ledger,
		inventory:  inventory,
		companions: companions,
		src:        src,
		logger:     logger,
	}
}

// Settle computes the reward lines for a won expedition and grants companion
// experience. Each defeated monster yields 1-3 units of its loot species to
// a uniformly-chosen player, plus the rarity prefix's bonus units when its
// bonus roll succeeds.
//
// Precondition: r.Status must be completed (victory) and r.Snapshots must be
// the snapshots combat ran with.
// Postcondition: Returns one reward line per defeated monster. Companion
// progress has been persisted; persistence failures are logged and skipped,
// not fatal.
func (s *Settlement) Settle(ctx context.Context, r *room.Room) ([]room.Reward, error) {
	if len(r.Players) == 0 {
		return nil, fmt.Errorf("settling room %s: no players to credit", r.ID)
	}

	var rewards []room.Reward
	totalMonsterHP := 0
	for _, m := range r.Monsters {
		totalMonsterHP += m.MaxHP
		if m.Alive {
			continue
		}

		quantity := 1 + s.src.Intn(3)
		if m.Prefix != nil && m.Prefix.BonusUnits > 0 && s.src.Float64() < m.Prefix.BonusChance {
			quantity += m.Prefix.BonusUnits
		}

		credited := r.Players[s.src.Intn(len(r.Players))]
		prefixName := ""
		if m.Prefix != nil {
			prefixName = m.Prefix.Name
		}
		rewards = append(rewards, room.Reward{
			PlayerID: credited.ID,
			Species:  m.LootSpecies,
			Quantity: quantity,
			Prefix:   prefixName,
		})
	}

	s.grantCompanionExp(ctx, r, companion.VictoryExp(totalMonsterHP))

	s.logger.Info("expedition settled",
		zap.String("room_id", r.ID),
		zap.Int("reward_lines", len(rewards)),
	)
	return rewards, nil
}

// grantCompanionExp persists the flat experience grant for every companion
// that fought, applying level-ups with the standard curve.
func (s *Settlement) grantCompanionExp(ctx context.Context, r *room.Room, exp int) {
	for _, snap := range r.Snapshots {
		for _, comp := range snap.Companions {
			progress, err := s.companions.Progress(ctx, snap.PlayerID, comp.Name)
			if err != nil {
				s.logger.Warn("loading companion progress failed",
					zap.String("player_id", snap.PlayerID),
					zap.String("companion", comp.Name),
					zap.Error(err),
				)
				continue
			}
			if progress.Level < 1 {
				progress.Level = comp.Level
			}

			updated, gained := companion.GainExp(progress, exp)
			if err := s.companions.SaveProgress(ctx, snap.PlayerID, comp.Name, updated); err != nil {
				s.logger.Warn("saving companion progress failed",
					zap.String("player_id", snap.PlayerID),
					zap.String("companion", comp.Name),
					zap.Error(err),
				)
				continue
			}
			if gained > 0 && r.Encounter != nil {
				r.Encounter.State().Logf("%s leveled up! (Lv.%d)", comp.Name, updated.Level)
			}
		}
	}
}

// Claim settles the player's reward lines for the room exactly once. The
// capacity check runs before any mutation; the claim record is inserted
// before the inventory credit. A retry after a failed credit finds the
// existing record and re-drives the credit, which is idempotent on the
// record's ID, so the items are granted at most once no matter how often the
// claim is retried.
//
// Postcondition: Returns the credited items, ErrAlreadyClaimed when the
// claim was already credited, or ErrInventoryFull when the items would not
// fit.
func (s *Settlement) Claim(ctx context.Context, r *room.Room, playerID string) ([]Item, error) {
	items := itemsFor(r.Rewards, playerID)
	if len(items) == 0 {
		return nil, fmt.Errorf("claiming room %s for player %s: %w", r.ID, playerID, ErrNoRewards)
	}

	if err := s.inventory.CheckCapacity(ctx, playerID, items); err != nil {
		return nil, err
	}

	record := ClaimRecord{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		RoomID:    r.ID,
		Items:     items,
		ClaimedAt: time.Now(),
	}
	if err := s.ledger.Insert(ctx, record); err != nil {
		if !errors.Is(err, ErrAlreadyClaimed) {
			return nil, err
		}
		// A record exists from an earlier attempt. Re-drive the credit
		// under its ID; the idempotence guard decides whether anything is
		// still owed.
		found, ferr := s.ledger.Find(ctx, playerID, r.ID)
		if ferr != nil {
			return nil, fmt.Errorf("loading claim record for retry: %w", ferr)
		}
		if found == nil {
			return nil, err
		}
		record = *found
	}

	applied, err := s.inventory.Credit(ctx, record.ID, playerID, record.Items)
	if err != nil {
		// The ledger entry remains; the next claim retries the credit.
		s.logger.Error("inventory credit failed after claim recorded",
			zap.String("player_id", playerID),
			zap.String("room_id", r.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("crediting claimed rewards: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("claiming room %s for player %s: %w", r.ID, playerID, ErrAlreadyClaimed)
	}

	s.logger.Info("rewards claimed",
		zap.String("player_id", playerID),
		zap.String("room_id", r.ID),
		zap.Int("items", len(record.Items)),
	)
	return record.Items, nil
}

// itemsFor aggregates the player's reward lines by species.
func itemsFor(rewards []room.Reward, playerID string) []Item {
	quantities := make(map[string]int)
	var order []string
	for _, rw := range rewards {
		if rw.PlayerID != playerID {
			continue
		}
		if _, seen := quantities[rw.Species]; !seen {
			order = append(order, rw.Species)
		}
		quantities[rw.Species] += rw.Quantity
	}

	items := make([]Item, 0, len(order))
	for _, species := range order {
		items = append(items, Item{Species: species, Quantity: quantities[species]})
	}
	return items
}
