package gateway

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/driftsea/expedition/internal/game/battle"
	"github.com/driftsea/expedition/internal/game/reward"
	"github.com/driftsea/expedition/internal/game/room"
)

// Command is the inbound JSON message from a connected player.
type Command struct {
	Type       string   `json:"type"`
	AreaID     int      `json:"area_id,omitempty"`
	RoomID     string   `json:"room_id,omitempty"`
	TargetID   string   `json:"target_id,omitempty"`
	Companions []string `json:"companions,omitempty"`
}

// Command types accepted by Dispatch.
const (
	CmdCreateRoom  = "create_room"
	CmdJoinRoom    = "join_room"
	CmdLeaveRoom   = "leave_room"
	CmdToggleReady = "toggle_ready"
	CmdKick        = "kick"
	CmdStart       = "start_expedition"
	CmdClaim       = "claim_rewards"
	CmdListRooms   = "list_rooms"
)

// ItemView is the wire form of a claimed loot line.
type ItemView struct {
	Species  string `json:"species"`
	Quantity int    `json:"quantity"`
}

// Response is the synchronous reply to a Command.
type Response struct {
	Type  string     `json:"type"`
	Room  *RoomView  `json:"room,omitempty"`
	Rooms []RoomView `json:"rooms,omitempty"`
	Items []ItemView `json:"items,omitempty"`
	Error string     `json:"error,omitempty"`
}

// StatSource provides a player's combat stat snapshot at expedition start.
type StatSource interface {
	Snapshot(ctx context.Context, playerID, name string, loadout []string) (battle.PlayerSnapshot, error)
}

// Handler translates player commands into registry and settlement calls.
// Sentinel rejections become user-facing error responses; infrastructure
// failures are logged and reported generically.
type Handler struct {
	registry   *room.Registry
	settlement *reward.Settlement
	stats      StatSource
	events     Broadcaster
	logger     *zap.Logger

	mu       sync.Mutex
	loadouts map[string][]string
	baseCtx  context.Context
}

// NewHandler creates a command handler.
//
// Precondition: all collaborators must be non-nil.
func NewHandler(registry *room.Registry, settlement *reward.Settlement, stats StatSource, events Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{
		registry:   registry,
		settlement: settlement,
		stats:      stats,
		events:     events,
		logger:     logger,
		loadouts:   make(map[string][]string),
	}
}

// Bind sets the context every subsequent encounter runs under. Cancelling it
// stops running encounters without resolution, so nothing settles during a
// server shutdown.
//
// Precondition: call before the gateway accepts connections.
func (h *Handler) Bind(ctx context.Context) {
	h.mu.Lock()
	h.baseCtx = ctx
	h.mu.Unlock()
}

// encounterContext returns the bound context, or context.Background when the
// handler was never bound.
func (h *Handler) encounterContext() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.baseCtx != nil {
		return h.baseCtx
	}
	return context.Background()
}

// Dispatch executes one command on behalf of the given player and returns
// the synchronous response. Broadcast side effects go through the
// registry's sink and the handler's resolution callback.
func (h *Handler) Dispatch(ctx context.Context, playerID, name string, cmd Command) Response {
	switch cmd.Type {
	case CmdCreateRoom:
		return h.createRoom(ctx, playerID, name, cmd)
	case CmdJoinRoom:
		return h.joinRoom(ctx, playerID, name, cmd)
	case CmdLeaveRoom:
		return h.leaveRoom(ctx, playerID)
	case CmdToggleReady:
		return h.toggleReady(playerID)
	case CmdKick:
		return h.kick(playerID, cmd.TargetID)
	case CmdStart:
		return h.startExpedition(ctx, playerID)
	case CmdClaim:
		return h.claimRewards(ctx, playerID)
	case CmdListRooms:
		return h.listRooms()
	default:
		return Response{Type: "error", Error: "unknown command"}
	}
}

// Disconnect cleans up after a dropped connection. Players in waiting rooms
// are removed; rooms in combat keep their roster for settlement.
func (h *Handler) Disconnect(ctx context.Context, playerID string) {
	h.registry.DropDisconnected(ctx, playerID)
	h.mu.Lock()
	delete(h.loadouts, playerID)
	h.mu.Unlock()
}

func (h *Handler) createRoom(ctx context.Context, playerID, name string, cmd Command) Response {
	h.rememberLoadout(playerID, cmd.Companions)
	r, err := h.registry.CreateRoom(ctx, playerID, name, cmd.AreaID)
	if err != nil {
		return h.fail(playerID, cmd.Type, err)
	}
	return Response{Type: "room", Room: viewRoom(r)}
}

func (h *Handler) joinRoom(ctx context.Context, playerID, name string, cmd Command) Response {
	h.rememberLoadout(playerID, cmd.Companions)
	r, err := h.registry.JoinRoom(ctx, cmd.RoomID, playerID, name)
	if err != nil {
		return h.fail(playerID, cmd.Type, err)
	}
	return Response{Type: "room", Room: viewRoom(r)}
}

func (h *Handler) leaveRoom(ctx context.Context, playerID string) Response {
	if err := h.registry.LeaveRoom(ctx, playerID); err != nil {
		return h.fail(playerID, CmdLeaveRoom, err)
	}
	return Response{Type: "left"}
}

func (h *Handler) toggleReady(playerID string) Response {
	r, err := h.registry.ToggleReady(playerID)
	if err != nil {
		return h.fail(playerID, CmdToggleReady, err)
	}
	return Response{Type: "room", Room: viewRoom(r)}
}

func (h *Handler) kick(playerID, targetID string) Response {
	r, err := h.registry.Kick(playerID, targetID)
	if err != nil {
		return h.fail(playerID, CmdKick, err)
	}
	return Response{Type: "room", Room: viewRoom(r)}
}

func (h *Handler) startExpedition(ctx context.Context, playerID string) Response {
	r, err := h.registry.RoomByPlayer(playerID)
	if err != nil {
		return h.fail(playerID, CmdStart, err)
	}

	snapshots := make([]battle.PlayerSnapshot, 0, len(r.Players))
	for _, member := range r.Players {
		snap, err := h.stats.Snapshot(ctx, member.ID, member.Name, h.loadout(member.ID))
		if err != nil {
			return h.fail(playerID, CmdStart, err)
		}
		snapshots = append(snapshots, snap)
	}

	started, encounter, err := h.registry.StartExpedition(ctx, playerID, snapshots)
	if err != nil {
		return h.fail(playerID, CmdStart, err)
	}

	view := viewRoom(started)
	roomID := started.ID

	// The encounter outlives this request; it runs under the bound server
	// context so only a shutdown can cancel it mid-combat.
	runCtx := h.encounterContext()
	encounter.Run(runCtx, func(outcome battle.Outcome) {
		h.resolve(runCtx, roomID, outcome)
	})
	return Response{Type: "room", Room: view}
}

// resolve runs on the encounter's apply goroutine once combat ends: it
// records the outcome, settles rewards on victory, and publishes the
// terminal event.
func (h *Handler) resolve(ctx context.Context, roomID string, outcome battle.Outcome) {
	if err := h.registry.Complete(roomID, outcome); err != nil {
		h.logger.Error("recording combat outcome failed",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return
	}
	r, err := h.registry.Room(roomID)
	if err != nil {
		h.logger.Error("loading resolved room failed",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return
	}

	if outcome != battle.OutcomeVictory {
		h.events.Publish(Event{Type: EventDefeat, RoomID: roomID, Room: viewRoom(r)})
		return
	}

	rewards, err := h.settlement.Settle(ctx, r)
	if err != nil {
		h.logger.Error("settling rewards failed",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
	}
	if err := h.registry.SetRewards(roomID, rewards); err != nil {
		h.logger.Error("attaching rewards failed",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
	}
	h.events.Publish(Event{
		Type:    EventVictory,
		RoomID:  roomID,
		Room:    viewRoom(r),
		Rewards: viewRewards(rewards),
	})
}

func (h *Handler) claimRewards(ctx context.Context, playerID string) Response {
	r, err := h.registry.RoomByPlayer(playerID)
	if err != nil {
		return h.fail(playerID, CmdClaim, err)
	}

	items, err := h.settlement.Claim(ctx, r, playerID)
	if err != nil {
		return h.fail(playerID, CmdClaim, err)
	}
	if err := h.registry.MarkClaimed(r.ID, playerID); err != nil {
		h.logger.Warn("marking claim failed",
			zap.String("room_id", r.ID),
			zap.String("player_id", playerID),
			zap.Error(err),
		)
	}

	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, ItemView{Species: item.Species, Quantity: item.Quantity})
	}
	return Response{Type: "claimed", Items: views}
}

func (h *Handler) listRooms() Response {
	open := h.registry.AvailableRooms()
	views := make([]RoomView, 0, len(open))
	for _, r := range open {
		views = append(views, *viewRoom(r))
	}
	return Response{Type: "rooms", Rooms: views}
}

func (h *Handler) rememberLoadout(playerID string, loadout []string) {
	if len(loadout) == 0 {
		return
	}
	h.mu.Lock()
	h.loadouts[playerID] = loadout
	h.mu.Unlock()
}

func (h *Handler) loadout(playerID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadouts[playerID]
}

func (h *Handler) fail(playerID, command string, err error) Response {
	msg := userMessage(err)
	if msg == "" {
		h.logger.Error("command failed",
			zap.String("command", command),
			zap.String("player_id", playerID),
			zap.Error(err),
		)
		msg = "internal error"
	}
	return Response{Type: "error", Error: msg}
}

// userMessage maps sentinel rejections to player-facing text. Anything else
// returns empty and is treated as an infrastructure failure.
func userMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, room.ErrRoomNotJoinable):
		return "room is full or already underway"
	case errors.Is(err, room.ErrAlreadyInRoom):
		return "you are already in this room"
	case errors.Is(err, room.ErrNotInRoom):
		return "you are not in a room"
	case errors.Is(err, room.ErrNotHost):
		return "only the host can do that"
	case errors.Is(err, room.ErrPlayersNotReady):
		return "not every player is ready"
	case errors.Is(err, room.ErrInsufficientTickets):
		return "not enough ether tickets"
	case errors.Is(err, room.ErrUnknownArea):
		return "unknown area"
	case errors.Is(err, room.ErrRoomNotWaiting):
		return "the expedition is already underway"
	case errors.Is(err, room.ErrHostAlwaysReady):
		return "the host is always ready"
	case errors.Is(err, room.ErrCannotKickHost):
		return "the host cannot be kicked"
	case errors.Is(err, reward.ErrAlreadyClaimed):
		return "rewards already claimed"
	case errors.Is(err, reward.ErrInventoryFull):
		return "inventory is full"
	case errors.Is(err, reward.ErrNoRewards):
		return "no rewards to claim"
	}
	return ""
}
