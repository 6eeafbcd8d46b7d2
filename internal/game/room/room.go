// Package room provides the expedition room registry: party formation,
// ready state, ticket accounting, and the hand-off into combat.
package room

import (
	"context"
	"errors"
	"time"

	"github.com/driftsea/expedition/internal/game/area"
	"github.com/driftsea/expedition/internal/game/battle"
	"github.com/driftsea/expedition/internal/game/bestiary"
)

// Sentinel errors for room operations. All are recoverable, user-facing
// rejections returned synchronously to the calling command.
var (
	ErrRoomNotFound        = errors.New("room: room not found")
	ErrRoomNotJoinable     = errors.New("room: room is not joinable")
	ErrAlreadyInRoom       = errors.New("room: player is already in this room")
	ErrNotInRoom           = errors.New("room: player is not in a room")
	ErrNotHost             = errors.New("room: player is not the host")
	ErrPlayersNotReady     = errors.New("room: not every player is ready")
	ErrInsufficientTickets = errors.New("room: insufficient tickets")
	ErrUnknownArea         = errors.New("room: unknown area")
	ErrRoomNotWaiting      = errors.New("room: room is not waiting")
	ErrHostAlwaysReady     = errors.New("room: the host is always ready")
	ErrCannotKickHost      = errors.New("room: the host cannot be kicked")
)

// Status is the room lifecycle state.
type Status string

const (
	// StatusWaiting means the room accepts joins and ready toggles.
	StatusWaiting Status = "waiting"
	// StatusInProgress means combat is running.
	StatusInProgress Status = "in_progress"
	// StatusCompleted means combat resolved to victory.
	StatusCompleted Status = "completed"
	// StatusFailed means combat resolved to defeat.
	StatusFailed Status = "failed"
	// StatusRewardClaimed means every credited player has settled.
	StatusRewardClaimed Status = "reward_claimed"
)

// Player is one room member. It exists only inside a Room.
type Player struct {
	ID      string
	Name    string
	IsHost  bool
	IsReady bool
}

// Reward is one granted loot line for a player, produced by settlement.
type Reward struct {
	PlayerID string
	Species  string
	Quantity int
	Prefix   string
}

// Room is one expedition party. The live struct is owned by the Registry
// and mutated only under its lock; registry accessors hand out detached
// copies. Monster HP during combat flows through the encounter's combat-tick
// snapshots, the roster here is updated once at completion.
type Room struct {
	ID          string
	HostID      string
	Area        *area.Area
	Players     []*Player
	Status      Status
	Monsters    []*bestiary.Monster
	Snapshots   []battle.PlayerSnapshot
	Encounter   *battle.Encounter
	Rewards     []Reward
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	claimed map[string]bool
}

// clone returns a detached copy safe to read without the registry's lock.
// Players, Monsters, Snapshots, and Rewards get their own backing arrays and
// member structs; the Encounter handle is shared.
func (r *Room) clone() *Room {
	c := *r
	c.claimed = nil

	c.Players = make([]*Player, len(r.Players))
	for i, p := range r.Players {
		member := *p
		c.Players[i] = &member
	}
	c.Monsters = make([]*bestiary.Monster, len(r.Monsters))
	for i, m := range r.Monsters {
		monster := *m
		c.Monsters[i] = &monster
	}
	c.Snapshots = append([]battle.PlayerSnapshot(nil), r.Snapshots...)
	c.Rewards = append([]Reward(nil), r.Rewards...)
	return &c
}

// player returns the member with the given ID, or nil.
func (r *Room) player(playerID string) *Player {
	for _, p := range r.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// Full reports whether the room has no open seats.
func (r *Room) full(maxPlayers int) bool { return len(r.Players) >= maxPlayers }

// allReady reports whether every non-host member is ready. The host is
// always ready.
func (r *Room) allReady() bool {
	for _, p := range r.Players {
		if !p.IsHost && !p.IsReady {
			return false
		}
	}
	return true
}

// creditedPlayers returns the IDs of players with at least one reward line.
func (r *Room) creditedPlayers() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, rw := range r.Rewards {
		if !seen[rw.PlayerID] {
			seen[rw.PlayerID] = true
			ids = append(ids, rw.PlayerID)
		}
	}
	return ids
}

// TicketStore is the consumable entry-ticket collaborator. Debit fails with
// ErrInsufficientTickets when the balance cannot cover the amount.
type TicketStore interface {
	Debit(ctx context.Context, playerID string, amount int) error
	Credit(ctx context.Context, playerID string, amount int) error
	Balance(ctx context.Context, playerID string) (int, error)
}

// Sink receives room lifecycle notifications. The callback runs synchronously
// under the registry's lock; implementations must not retain the room and
// must not call back into the Registry.
type Sink interface {
	RoomUpdated(room *Room)
}
