package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftsea/expedition/internal/game/room"
)

// TicketStore persists consumable expedition-entry tickets. It implements
// room.TicketStore.
type TicketStore struct {
	db *pgxpool.Pool
}

// NewTicketStore creates a TicketStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewTicketStore(db *pgxpool.Pool) *TicketStore {
	return &TicketStore{db: db}
}

// Debit subtracts amount from the player's balance. The balance guard runs
// inside the UPDATE, so concurrent debits can never drive a balance
// negative.
//
// Precondition: amount >= 1.
// Postcondition: Returns room.ErrInsufficientTickets when the balance cannot
// cover the amount or the player has no ticket row.
func (s *TicketStore) Debit(ctx context.Context, playerID string, amount int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE ether_tickets
		 SET balance = balance - $2, updated_at = now()
		 WHERE player_id = $1 AND balance >= $2`,
		playerID, amount,
	)
	if err != nil {
		return fmt.Errorf("debiting tickets: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return room.ErrInsufficientTickets
	}
	return nil
}

// Credit adds amount to the player's balance, creating the row on first
// credit.
//
// Precondition: amount >= 1.
func (s *TicketStore) Credit(ctx context.Context, playerID string, amount int) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ether_tickets (player_id, balance)
		 VALUES ($1, $2)
		 ON CONFLICT (player_id)
		 DO UPDATE SET balance = ether_tickets.balance + $2, updated_at = now()`,
		playerID, amount,
	)
	if err != nil {
		return fmt.Errorf("crediting tickets: %w", err)
	}
	return nil
}

// Balance returns the player's current ticket balance. A player without a
// ticket row has a balance of zero.
func (s *TicketStore) Balance(ctx context.Context, playerID string) (int, error) {
	var balance int
	err := s.db.QueryRow(ctx,
		`SELECT balance FROM ether_tickets WHERE player_id = $1`,
		playerID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying ticket balance: %w", err)
	}
	return balance, nil
}
