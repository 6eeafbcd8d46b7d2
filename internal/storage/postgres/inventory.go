package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftsea/expedition/internal/game/reward"
)

// DefaultInventorySlots is the per-player species slot limit.
const DefaultInventorySlots = 50

// InventoryStore persists per-player item stacks, one row per species. It
// implements reward.Inventory with a distinct-species slot limit.
type InventoryStore struct {
	db       *pgxpool.Pool
	maxSlots int
}

// NewInventoryStore creates an InventoryStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool; maxSlots >= 1
// (zero falls back to DefaultInventorySlots).
func NewInventoryStore(db *pgxpool.Pool, maxSlots int) *InventoryStore {
	if maxSlots < 1 {
		maxSlots = DefaultInventorySlots
	}
	return &InventoryStore{db: db, maxSlots: maxSlots}
}

// CheckCapacity verifies the items would fit without mutating anything.
// Crediting an already-held species never consumes a new slot.
//
// Postcondition: Returns reward.ErrInventoryFull when the credit would
// exceed the slot limit.
func (s *InventoryStore) CheckCapacity(ctx context.Context, playerID string, items []reward.Item) error {
	rows, err := s.db.Query(ctx,
		`SELECT species FROM player_items WHERE player_id = $1`,
		playerID,
	)
	if err != nil {
		return fmt.Errorf("querying inventory slots: %w", err)
	}
	defer rows.Close()

	held := make(map[string]bool)
	for rows.Next() {
		var species string
		if err := rows.Scan(&species); err != nil {
			return fmt.Errorf("scanning inventory slot: %w", err)
		}
		held[species] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading inventory slots: %w", err)
	}

	slots := len(held)
	for _, item := range items {
		if !held[item.Species] {
			held[item.Species] = true
			slots++
		}
	}
	if slots > s.maxSlots {
		return reward.ErrInventoryFull
	}
	return nil
}

// Credit adds the items to the player's stacks, creating rows for new
// species. The whole credit runs in one transaction guarded by the claim ID:
// a claim that was already credited is a no-op reported as applied == false,
// so retries cannot double-grant.
//
// Precondition: claimID must be unique per claim; every item quantity must
// be >= 1.
func (s *InventoryStore) Credit(ctx context.Context, claimID, playerID string, items []reward.Item) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning credit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO inventory_credits (claim_id, player_id)
		 VALUES ($1, $2)
		 ON CONFLICT (claim_id) DO NOTHING`,
		claimID, playerID,
	)
	if err != nil {
		return false, fmt.Errorf("recording credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, item := range items {
		_, err := tx.Exec(ctx,
			`INSERT INTO player_items (player_id, species, quantity)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (player_id, species)
			 DO UPDATE SET quantity = player_items.quantity + $3, updated_at = now()`,
			playerID, item.Species, item.Quantity,
		)
		if err != nil {
			return false, fmt.Errorf("crediting %q: %w", item.Species, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing credit: %w", err)
	}
	return true, nil
}

// Items returns the player's stacks ordered by species.
func (s *InventoryStore) Items(ctx context.Context, playerID string) ([]reward.Item, error) {
	rows, err := s.db.Query(ctx,
		`SELECT species, quantity FROM player_items
		 WHERE player_id = $1 ORDER BY species`,
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying inventory: %w", err)
	}
	defer rows.Close()

	var items []reward.Item
	for rows.Next() {
		var item reward.Item
		if err := rows.Scan(&item.Species, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scanning inventory row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	return items, nil
}
