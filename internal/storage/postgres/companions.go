package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftsea/expedition/internal/game/companion"
)

// CompanionStore persists companion level and experience per player. It
// implements reward.CompanionStore.
type CompanionStore struct {
	db *pgxpool.Pool
}

// NewCompanionStore creates a CompanionStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCompanionStore(db *pgxpool.Pool) *CompanionStore {
	return &CompanionStore{db: db}
}

// Progress returns the companion's persisted level and experience. A
// companion without a row starts at level 1 with no experience.
func (s *CompanionStore) Progress(ctx context.Context, playerID, name string) (companion.Progress, error) {
	var p companion.Progress
	err := s.db.QueryRow(ctx,
		`SELECT level, experience FROM companion_stats
		 WHERE player_id = $1 AND companion_name = $2`,
		playerID, name,
	).Scan(&p.Level, &p.Experience)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return companion.Progress{Level: 1}, nil
		}
		return companion.Progress{}, fmt.Errorf("querying companion progress: %w", err)
	}
	return p, nil
}

// SaveProgress upserts the companion's level and experience.
//
// Precondition: p.Level >= 1.
func (s *CompanionStore) SaveProgress(ctx context.Context, playerID, name string, p companion.Progress) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO companion_stats (player_id, companion_name, level, experience)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (player_id, companion_name)
		 DO UPDATE SET level = $3, experience = $4, updated_at = now()`,
		playerID, name, p.Level, p.Experience,
	)
	if err != nil {
		return fmt.Errorf("saving companion progress: %w", err)
	}
	return nil
}
