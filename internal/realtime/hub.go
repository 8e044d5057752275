package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/freightmatch/freight-api/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Subscriber is one delivery target for room events. Deliver must not
// block; it reports false when the event was dropped (full buffer or
// closing connection) so the hub can log the drop.
type Subscriber interface {
	ConnID() string
	Deliver(evt *types.NegotiationEvent) bool
}

// room holds one entity thread's subscriber set and sequence counter.
// Its mutex serializes publishes with joins and leaves, so every fan-out
// iterates a snapshot-consistent subscriber set and sequence numbers are
// strictly increasing and gap-free per room.
type room struct {
	mu     sync.Mutex
	seq    int64
	seeded bool
	subs   map[string]Subscriber
}

// Hub maintains per-entity subscriber sets and fans state-change events out
// to every connection currently joined to a room. Events are persisted to
// the durable log before delivery; delivery itself is at-most-once, with
// the gateway responsible for replay on reconnect.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	conns       map[string]map[string]struct{} // connID -> joined room ids
	db          *Database
	replayDepth int
}

// NewHub creates a broadcast hub over the given database connection.
// replayDepth bounds how many events a reconnecting client may catch up on
// before being told to refetch full state.
func NewHub(gormDB *gorm.DB, replayDepth int) *Hub {
	if replayDepth <= 0 {
		replayDepth = 500
	}
	return &Hub{
		rooms:       make(map[string]*room),
		conns:       make(map[string]map[string]struct{}),
		db:          NewDatabase(gormDB),
		replayDepth: replayDepth,
	}
}

func (h *Hub) getRoom(roomID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{subs: make(map[string]Subscriber)}
		h.rooms[roomID] = r
	}
	return r
}

// Join subscribes a connection to a room. Joining twice is a no-op.
func (h *Hub) Join(roomID string, sub Subscriber) {
	r := h.getRoom(roomID)

	r.mu.Lock()
	r.subs[sub.ConnID()] = sub
	r.mu.Unlock()

	h.mu.Lock()
	joined, ok := h.conns[sub.ConnID()]
	if !ok {
		joined = make(map[string]struct{})
		h.conns[sub.ConnID()] = joined
	}
	joined[roomID] = struct{}{}
	h.mu.Unlock()

	log.Debug().
		Str("room_id", roomID).
		Str("conn_id", sub.ConnID()).
		Msg("connection joined room")
}

// Leave unsubscribes a connection from a room, idempotently.
func (h *Hub) Leave(roomID, connID string) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		r.mu.Lock()
		delete(r.subs, connID)
		r.mu.Unlock()
	}

	h.mu.Lock()
	if joined, ok := h.conns[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(h.conns, connID)
		}
	}
	h.mu.Unlock()
}

// LeaveAll removes a disconnected connection from every room it held.
// Safe to call more than once.
func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	joined := h.conns[connID]
	delete(h.conns, connID)
	rooms := make([]*room, 0, len(joined))
	for roomID := range joined {
		if r, ok := h.rooms[roomID]; ok {
			rooms = append(rooms, r)
		}
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		delete(r.subs, connID)
		r.mu.Unlock()
	}
}

// Publish assigns the room's next sequence number, persists the event, and
// fans it out to the room's current subscribers. The sequence counter is
// seeded lazily from the durable log so numbering survives restarts.
func (h *Hub) Publish(roomID, eventType, entityID, batchID string, payload interface{}) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	r := h.getRoom(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seeded {
		max, err := h.db.MaxSequence(roomID)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
		}
		r.seq = max
		r.seeded = true
	}

	evt := &types.NegotiationEvent{
		EventID:   "EVT_" + uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		EntityID:  entityID,
		BatchID:   batchID,
		Payload:   string(body),
		Sequence:  r.seq + 1,
		CreatedAt: time.Now(),
	}

	if err := h.db.AppendEvent(evt); err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	r.seq = evt.Sequence

	delivered, dropped := 0, 0
	for _, sub := range r.subs {
		if sub.Deliver(evt) {
			delivered++
		} else {
			dropped++
		}
	}

	log.Debug().
		Str("room_id", roomID).
		Str("event_type", eventType).
		Int64("sequence", evt.Sequence).
		Int("delivered", delivered).
		Int("dropped", dropped).
		Msg("published event")

	return evt.Sequence, nil
}

// Replay returns the events a reconnecting client missed after its last
// observed sequence number. When the gap exceeds the configured replay
// depth the second result is true and the client must refetch full state.
func (h *Hub) Replay(roomID string, after int64) ([]types.NegotiationEvent, bool, error) {
	events, err := h.db.EventsAfter(roomID, after, h.replayDepth+1)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	if len(events) > h.replayDepth {
		return nil, true, nil
	}
	return events, false, nil
}
