package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftsea/expedition/internal/game/reward"
)

// ClaimLedger is the durable reward-claim store, unique on
// (player_id, room_id). It implements reward.ClaimLedger.
type ClaimLedger struct {
	db *pgxpool.Pool
}

// NewClaimLedger creates a ClaimLedger backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewClaimLedger(db *pgxpool.Pool) *ClaimLedger {
	return &ClaimLedger{db: db}
}

// Insert records a claim. The table's unique constraint makes concurrent
// retries safe.
//
// Postcondition: Returns reward.ErrAlreadyClaimed when a record for the
// same (player, room) already exists.
func (l *ClaimLedger) Insert(ctx context.Context, record reward.ClaimRecord) error {
	items, err := json.Marshal(record.Items)
	if err != nil {
		return fmt.Errorf("encoding claim items: %w", err)
	}

	_, err = l.db.Exec(ctx,
		`INSERT INTO reward_claims (id, player_id, room_id, items, claimed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.PlayerID, record.RoomID, items, record.ClaimedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return reward.ErrAlreadyClaimed
		}
		return fmt.Errorf("inserting claim record: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// Find returns the claim record for the (player, room) pair, or nil when no
// claim exists. Reconciliation after a failed inventory credit goes through
// this lookup.
func (l *ClaimLedger) Find(ctx context.Context, playerID, roomID string) (*reward.ClaimRecord, error) {
	var record reward.ClaimRecord
	var items []byte
	err := l.db.QueryRow(ctx,
		`SELECT id, player_id, room_id, items, claimed_at
		 FROM reward_claims
		 WHERE player_id = $1 AND room_id = $2`,
		playerID, roomID,
	).Scan(&record.ID, &record.PlayerID, &record.RoomID, &items, &record.ClaimedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying claim record: %w", err)
	}

	if err := json.Unmarshal(items, &record.Items); err != nil {
		return nil, fmt.Errorf("decoding claim items: %w", err)
	}
	return &record, nil
}
