package room

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftsea/expedition/internal/game/area"
	"github.com/driftsea/expedition/internal/game/battle"
	"github.com/driftsea/expedition/internal/game/bestiary"
	"github.com/driftsea/expedition/internal/game/rng"
)

// Config holds the registry's party and combat parameters.
type Config struct {
	// MaxPlayers is the room capacity.
	MaxPlayers int
	// PlayerSpeed is the fixed speed stat applied to every player snapshot.
	PlayerSpeed float64
	// Battle is the pacing configuration handed to each encounter.
	Battle battle.Config
}

// Registry owns the mapping of room ID to Room and player ID to room ID.
// It enforces one room per player and handles ticket refunds on abandonment.
// All operations use ordinary mutual exclusion; per-tick combat granularity
// lives in the battle package.
type Registry struct {
	mu sync.RWMutex

	cfg        Config
	areas      *area.Catalog
	generator  *bestiary.Generator
	tickets    TicketStore
	battleSink battle.EventSink
	sink       Sink
	src        rng.Source
	logger     *zap.Logger

	rooms    map[string]*Room
	byPlayer map[string]string
}

// NewRegistry creates a room registry.
//
// Precondition: all collaborators must be non-nil and cfg.MaxPlayers >= 1.
func NewRegistry(
	cfg Config,
	areas *area.Catalog,
	generator *bestiary.Generator,
	tickets TicketStore,
	battleSink battle.EventSink,
	sink Sink,
	src rng.Source,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		cfg:        cfg,
		areas:      areas,
		generator:  generator,
		tickets:    tickets,
		battleSink: battleSink,
		sink:       sink,
		src:        src,
		logger:     logger,
		rooms:      make(map[string]*Room),
		byPlayer:   make(map[string]string),
	}
}

// CreateRoom opens a new waiting room hosted by the given player, debiting
// the area's ticket cost synchronously. A player already in another room
// leaves it first.
//
// Postcondition: On success the host's balance has decreased by the area's
// ticket cost and the host is the room's only, ready, member. On error no
// room exists and no tickets were debited.
func (g *Registry) CreateRoom(ctx context.Context, hostID, hostName string, areaID int) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.areas.Get(areaID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownArea, areaID)
	}

	if _, inRoom := g.byPlayer[hostID]; inRoom {
		g.leaveLocked(ctx, hostID)
	}

	if err := g.tickets.Debit(ctx, hostID, a.TicketCost); err != nil {
		return nil, err
	}

	r := &Room{
		ID:        uuid.NewString(),
		HostID:    hostID,
		Area:      a,
		Status:    StatusWaiting,
		CreatedAt: time.Now(),
		Players: []*Player{{
			ID:      hostID,
			Name:    hostName,
			IsHost:  true,
			IsReady: true,
		}},
		claimed: make(map[string]bool),
	}
	g.rooms[r.ID] = r
	g.byPlayer[hostID] = r.ID

	g.logger.Info("room created",
		zap.String("room_id", r.ID),
		zap.String("host_id", hostID),
		zap.Int("area_id", areaID),
	)
	g.sink.RoomUpdated(r)
	return r.clone(), nil
}

// JoinRoom adds the player to the room. A player already in another room
// leaves it first; joining the same room twice fails with ErrAlreadyInRoom.
func (g *Registry) JoinRoom(ctx context.Context, roomID, playerID, name string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if g.byPlayer[playerID] == roomID {
		return nil, ErrAlreadyInRoom
	}
	if _, inRoom := g.byPlayer[playerID]; inRoom {
		g.leaveLocked(ctx, playerID)
	}
	if r.Status != StatusWaiting || r.full(g.cfg.MaxPlayers) {
		return nil, ErrRoomNotJoinable
	}

	r.Players = append(r.Players, &Player{ID: playerID, Name: name})
	g.byPlayer[playerID] = roomID

	g.logger.Info("player joined room",
		zap.String("room_id", roomID),
		zap.String("player_id", playerID),
	)
	g.sink.RoomUpdated(r)
	return r.clone(), nil
}

// LeaveRoom removes the player from their current room. A host leaving a
// waiting room is refunded the ticket cost; the first remaining player is
// promoted to host, and an empty room is destroyed.
func (g *Registry) LeaveRoom(ctx context.Context, playerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, inRoom := g.byPlayer[playerID]; !inRoom {
		return ErrNotInRoom
	}
	g.leaveLocked(ctx, playerID)
	return nil
}

// leaveLocked removes the player from their room, applying the refund,
// promotion, and destruction rules. Caller must hold g.mu.
func (g *Registry) leaveLocked(ctx context.Context, playerID string) {
	roomID := g.byPlayer[playerID]
	r := g.rooms[roomID]

	p := r.player(playerID)
	wasHost := p != nil && p.IsHost

	remaining := r.Players[:0]
	for _, member := range r.Players {
		if member.ID != playerID {
			remaining = append(remaining, member)
		}
	}
	r.Players = remaining
	delete(g.byPlayer, playerID)

	// No refund once combat has started, win or lose.
	if wasHost && r.Status == StatusWaiting {
		if err := g.tickets.Credit(ctx, playerID, r.Area.TicketCost); err != nil {
			g.logger.Warn("ticket refund failed",
				zap.String("room_id", roomID),
				zap.String("player_id", playerID),
				zap.Error(err),
			)
		}
	}

	if len(r.Players) == 0 {
		g.destroyLocked(r)
		return
	}
	if wasHost {
		next := r.Players[0]
		next.IsHost = true
		next.IsReady = true
		r.HostID = next.ID
		g.logger.Info("host promoted",
			zap.String("room_id", roomID),
			zap.String("player_id", next.ID),
		)
	}
	g.sink.RoomUpdated(r)
}

func (g *Registry) destroyLocked(r *Room) {
	delete(g.rooms, r.ID)
	g.logger.Info("room destroyed", zap.String("room_id", r.ID))
}

// DropDisconnected removes the player from their room if it is still
// waiting. Rooms in combat or settlement keep their member list so every
// participant stays creditable.
func (g *Registry) DropDisconnected(ctx context.Context, playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	roomID, ok := g.byPlayer[playerID]
	if !ok {
		return
	}
	if g.rooms[roomID].Status != StatusWaiting {
		return
	}
	g.leaveLocked(ctx, playerID)
}

// ToggleReady flips the player's ready flag. The host is always ready and
// cannot toggle.
func (g *Registry) ToggleReady(playerID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, p, err := g.memberLocked(playerID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusWaiting {
		return nil, ErrRoomNotWaiting
	}
	if p.IsHost {
		return nil, ErrHostAlwaysReady
	}
	p.IsReady = !p.IsReady
	g.sink.RoomUpdated(r)
	return r.clone(), nil
}

// Kick removes the target from the kicker's room. Only the host may kick,
// and the host cannot be kicked.
func (g *Registry) Kick(hostID, targetID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, host, err := g.memberLocked(hostID)
	if err != nil {
		return nil, err
	}
	if !host.IsHost {
		return nil, ErrNotHost
	}
	if r.Status != StatusWaiting {
		return nil, ErrRoomNotWaiting
	}
	target := r.player(targetID)
	if target == nil {
		return nil, ErrNotInRoom
	}
	if target.IsHost {
		return nil, ErrCannotKickHost
	}

	remaining := r.Players[:0]
	for _, member := range r.Players {
		if member.ID != targetID {
			remaining = append(remaining, member)
		}
	}
	r.Players = remaining
	delete(g.byPlayer, targetID)

	g.logger.Info("player kicked",
		zap.String("room_id", r.ID),
		zap.String("player_id", targetID),
	)
	g.sink.RoomUpdated(r)
	return r.clone(), nil
}

// StartExpedition transitions the host's waiting room into combat: it
// generates the monster roster, builds the encounter from the given stat
// snapshots, and returns the encounter for the caller to run.
//
// Precondition: snapshots must contain exactly one entry per room member,
// pre-validated by the caller.
// Postcondition: On success the room status is StatusInProgress and
// ownership of Monsters and the battle state has passed to the encounter.
func (g *Registry) StartExpedition(ctx context.Context, hostID string, snapshots []battle.PlayerSnapshot) (*Room, *battle.Encounter, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, host, err := g.memberLocked(hostID)
	if err != nil {
		return nil, nil, err
	}
	if !host.IsHost {
		return nil, nil, ErrNotHost
	}
	if r.Status != StatusWaiting {
		return nil, nil, ErrRoomNotWaiting
	}
	if !r.allReady() {
		return nil, nil, ErrPlayersNotReady
	}

	byID := make(map[string]int, len(snapshots))
	for i := range snapshots {
		byID[snapshots[i].PlayerID] = i
	}
	for _, member := range r.Players {
		if _, ok := byID[member.ID]; !ok {
			return nil, nil, fmt.Errorf("missing stat snapshot for player %s", member.ID)
		}
	}
	for i := range snapshots {
		snapshots[i].Speed = g.cfg.PlayerSpeed
	}

	monsters, err := g.generator.Generate(r.Area)
	if err != nil {
		return nil, nil, fmt.Errorf("generating monsters: %w", err)
	}

	r.Monsters = monsters
	r.Snapshots = snapshots
	r.Status = StatusInProgress
	r.StartedAt = time.Now()
	r.Encounter = battle.NewEncounter(r.ID, g.cfg.Battle, snapshots, monsters, g.src, g.battleSink, g.logger)

	g.logger.Info("expedition started",
		zap.String("room_id", r.ID),
		zap.Int("players", len(r.Players)),
		zap.Int("monsters", len(monsters)),
	)
	g.sink.RoomUpdated(r)
	return r.clone(), r.Encounter, nil
}

// Complete records the combat outcome on the room and folds the encounter's
// final HP totals back into the monster roster.
//
// Precondition: the encounter must have resolved; callers invoke this from
// the encounter's completion callback.
func (g *Registry) Complete(roomID string, outcome battle.Outcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if outcome == battle.OutcomeVictory {
		r.Status = StatusCompleted
	} else {
		r.Status = StatusFailed
	}
	r.CompletedAt = time.Now()

	if r.Encounter != nil {
		st := r.Encounter.State()
		for _, m := range r.Monsters {
			key := battle.MonsterKey(m.ID)
			m.CurrentHP = st.HP[key]
			m.Alive = st.Alive(key)
		}
	}

	g.sink.RoomUpdated(r)
	return nil
}

// SetRewards attaches the settled reward lines to the room.
func (g *Registry) SetRewards(roomID string, rewards []Reward) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.Rewards = rewards
	return nil
}

// MarkClaimed records that the player has settled their rewards. Once every
// credited player has claimed, the room reaches StatusRewardClaimed.
func (g *Registry) MarkClaimed(roomID, playerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.claimed[playerID] = true

	allClaimed := true
	for _, id := range r.creditedPlayers() {
		if !r.claimed[id] {
			allClaimed = false
			break
		}
	}
	if allClaimed && r.Status == StatusCompleted {
		r.Status = StatusRewardClaimed
		g.sink.RoomUpdated(r)
	}
	return nil
}

// Room returns a detached copy of the room with the given ID, safe to read
// without further synchronization.
func (g *Registry) Room(roomID string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.clone(), nil
}

// RoomByPlayer returns a detached copy of the room the player is currently in.
func (g *Registry) RoomByPlayer(playerID string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	roomID, ok := g.byPlayer[playerID]
	if !ok {
		return nil, ErrNotInRoom
	}
	return g.rooms[roomID].clone(), nil
}

// AvailableRooms lists copies of waiting rooms with open seats, oldest first.
func (g *Registry) AvailableRooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var open []*Room
	for _, r := range g.rooms {
		if r.Status == StatusWaiting && !r.full(g.cfg.MaxPlayers) {
			open = append(open, r.clone())
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open
}

// memberLocked resolves the player's room and membership entry. Caller must
// hold g.mu.
func (g *Registry) memberLocked(playerID string) (*Room, *Player, error) {
	roomID, ok := g.byPlayer[playerID]
	if !ok {
		return nil, nil, ErrNotInRoom
	}
	r := g.rooms[roomID]
	p := r.player(playerID)
	if p == nil {
		return nil, nil, ErrNotInRoom
	}
	return r, p, nil
}
