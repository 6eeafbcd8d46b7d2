// Package gateway exposes the expedition engine over websockets: an inbound
// JSON command surface and an outbound broadcast hub for room and combat
// events.
package gateway

import (
	"github.com/driftsea/expedition/internal/game/battle"
	"github.com/driftsea/expedition/internal/game/room"
)

// EventType identifies an outbound event.
type EventType string

const (
	// EventRoomUpdated follows every room membership or status change.
	EventRoomUpdated EventType = "room_updated"
	// EventCombatTick follows every applied combat action.
	EventCombatTick EventType = "combat_tick"
	// EventVictory is published once when combat resolves in the party's favor.
	EventVictory EventType = "victory"
	// EventDefeat is published once when the party falls.
	EventDefeat EventType = "defeat"
)

// PlayerView is the wire form of a room member.
type PlayerView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsHost  bool   `json:"is_host"`
	IsReady bool   `json:"is_ready"`
}

// MonsterView is the wire form of a generated monster.
type MonsterView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Rank      int    `json:"rank"`
	MaxHP     int    `json:"max_hp"`
	CurrentHP int    `json:"current_hp"`
	Alive     bool   `json:"alive"`
}

// RewardView is the wire form of one settled loot line.
type RewardView struct {
	PlayerID string `json:"player_id"`
	Species  string `json:"species"`
	Quantity int    `json:"quantity"`
	Prefix   string `json:"prefix,omitempty"`
}

// RoomView is the wire form of a room.
type RoomView struct {
	ID       string        `json:"id"`
	HostID   string        `json:"host_id"`
	AreaID   int           `json:"area_id"`
	AreaName string        `json:"area_name"`
	Status   string        `json:"status"`
	Players  []PlayerView  `json:"players"`
	Monsters []MonsterView `json:"monsters,omitempty"`
	Rewards  []RewardView  `json:"rewards,omitempty"`
}

// CombatView is the wire form of a battle state snapshot.
type CombatView struct {
	HP     map[string]int `json:"hp"`
	MaxHP  map[string]int `json:"max_hp"`
	Morale map[string]int `json:"morale"`
	Log    []string       `json:"log"`
}

// Event is the outbound broadcast envelope.
type Event struct {
	Type    EventType    `json:"type"`
	RoomID  string       `json:"room_id"`
	Room    *RoomView    `json:"room,omitempty"`
	Combat  *CombatView  `json:"combat,omitempty"`
	Rewards []RewardView `json:"rewards,omitempty"`
}

// Broadcaster fans an event out to every connected subscriber without
// blocking the caller.
type Broadcaster interface {
	Publish(ev Event)
}

func viewRoom(r *room.Room) *RoomView {
	view := &RoomView{
		ID:      r.ID,
		HostID:  r.HostID,
		Status:  string(r.Status),
		Rewards: viewRewards(r.Rewards),
	}
	if r.Area != nil {
		view.AreaID = r.Area.ID
		view.AreaName = r.Area.Name
	}
	for _, p := range r.Players {
		view.Players = append(view.Players, PlayerView{
			ID:      p.ID,
			Name:    p.Name,
			IsHost:  p.IsHost,
			IsReady: p.IsReady,
		})
	}
	for _, m := range r.Monsters {
		view.Monsters = append(view.Monsters, MonsterView{
			ID:        m.ID,
			Name:      m.Name,
			Rank:      m.Rank,
			MaxHP:     m.MaxHP,
			CurrentHP: m.CurrentHP,
			Alive:     m.Alive,
		})
	}
	return view
}

func viewRewards(rewards []room.Reward) []RewardView {
	views := make([]RewardView, 0, len(rewards))
	for _, rw := range rewards {
		views = append(views, RewardView{
			PlayerID: rw.PlayerID,
			Species:  rw.Species,
			Quantity: rw.Quantity,
			Prefix:   rw.Prefix,
		})
	}
	return views
}

func viewCombat(snap battle.Snapshot) *CombatView {
	return &CombatView{
		HP:     snap.HP,
		MaxHP:  snap.MaxHP,
		Morale: snap.Morale,
		Log:    snap.Log,
	}
}

// Notifier adapts registry and encounter notifications into broadcast
// events. It satisfies room.Sink and battle.EventSink.
type Notifier struct {
	broadcaster Broadcaster
}

// NewNotifier creates a notifier publishing through the given broadcaster.
func NewNotifier(b Broadcaster) *Notifier {
	return &Notifier{broadcaster: b}
}

// RoomUpdated publishes the room's current state.
func (n *Notifier) RoomUpdated(r *room.Room) {
	n.broadcaster.Publish(Event{Type: EventRoomUpdated, RoomID: r.ID, Room: viewRoom(r)})
}

// CombatTick publishes a combat state snapshot.
func (n *Notifier) CombatTick(roomID string, snap battle.Snapshot) {
	n.broadcaster.Publish(Event{Type: EventCombatTick, RoomID: roomID, Combat: viewCombat(snap)})
}
