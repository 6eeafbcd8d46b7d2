package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsea/expedition/internal/game/companion"
)

type fakeProgressStore struct {
	progress map[string]companion.Progress
	err      error
}

func (f *fakeProgressStore) Progress(_ context.Context, playerID, name string) (companion.Progress, error) {
	if f.err != nil {
		return companion.Progress{}, f.err
	}
	if p, ok := f.progress[playerID+"|"+name]; ok {
		return p, nil
	}
	return companion.Progress{Level: 1}, nil
}

func testCatalog(t *testing.T) *companion.Catalog {
	t.Helper()
	catalog, err := companion.NewCatalog([]*companion.Definition{
		{
			Name: "Sylte", Rarity: "common",
			BaseHP: 54, BaseAttack: 9, BaseSpeed: 45,
			GrowthHP: 6, GrowthAttack: 2, GrowthSpeed: 0.5,
			Skill: &companion.Skill{
				Name: "Tidal Rend", Type: companion.SkillDamage,
				DamageMultiplier: 1.5, MoraleRequired: 100,
			},
		},
		{
			Name: "Nahatra", Rarity: "rare",
			BaseHP: 80, BaseAttack: 11, BaseSpeed: 30,
			GrowthHP: 8, GrowthAttack: 2, GrowthSpeed: 0.3,
		},
	})
	require.NoError(t, err)
	return catalog
}

func TestSnapshotDefaultLoadout(t *testing.T) {
	src := NewSource(DefaultConfig(), testCatalog(t), &fakeProgressStore{})

	snap, err := src.Snapshot(context.Background(), "p1", "Anya", nil)
	require.NoError(t, err)

	assert.Equal(t, "p1", snap.PlayerID)
	assert.Equal(t, "Anya", snap.Name)
	assert.Equal(t, 300, snap.MaxHP)
	assert.Equal(t, 48.0, snap.Attack)
	assert.Zero(t, snap.Speed, "speed is stamped by the registry, not the roster")
	require.Len(t, snap.Companions, 1)
	assert.Equal(t, "Sylte", snap.Companions[0].Name)
	assert.Equal(t, 1, snap.Companions[0].Level)
}

func TestSnapshotUsesPersistedLevel(t *testing.T) {
	store := &fakeProgressStore{progress: map[string]companion.Progress{
		"p1|Sylte": {Level: 4, Experience: 10},
	}}
	src := NewSource(DefaultConfig(), testCatalog(t), store)

	snap, err := src.Snapshot(context.Background(), "p1", "Anya", []string{"Sylte"})
	require.NoError(t, err)

	require.Len(t, snap.Companions, 1)
	comp := snap.Companions[0]
	assert.Equal(t, 4, comp.Level)
	assert.Equal(t, 54+6*3, comp.MaxHP)
	assert.Equal(t, 9+2*3, comp.Attack)
	assert.InDelta(t, 45+0.5*3, comp.Speed, 1e-9)
	require.NotNil(t, comp.Skill)
	assert.Equal(t, companion.SkillDamage, comp.Skill.Type)
}

func TestSnapshotMultipleCompanions(t *testing.T) {
	src := NewSource(DefaultConfig(), testCatalog(t), &fakeProgressStore{})

	snap, err := src.Snapshot(context.Background(), "p1", "Anya", []string{"Sylte", "Nahatra"})
	require.NoError(t, err)

	require.Len(t, snap.Companions, 2)
	assert.Equal(t, "Sylte", snap.Companions[0].Name)
	assert.Equal(t, "Nahatra", snap.Companions[1].Name)
	assert.Nil(t, snap.Companions[1].Skill)
}

func TestSnapshotUnknownCompanion(t *testing.T) {
	src := NewSource(DefaultConfig(), testCatalog(t), &fakeProgressStore{})

	_, err := src.Snapshot(context.Background(), "p1", "Anya", []string{"Ghostling"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCompanion)
}

func TestSnapshotStoreErrorPropagates(t *testing.T) {
	store := &fakeProgressStore{err: errors.New("connection refused")}
	src := NewSource(DefaultConfig(), testCatalog(t), store)

	_, err := src.Snapshot(context.Background(), "p1", "Anya", []string{"Sylte"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
}
