// Package match implements the FIFO waiting queue and room registry that
// pair anonymous clients for a voice chat. All durable state lives in the
// shared state store; this package owns the operations that keep it
// consistent under concurrent joins, leaves, and disconnects.
package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aldernet/voicepair/internal/analytics"
	"github.com/aldernet/voicepair/internal/logging"
	"github.com/aldernet/voicepair/internal/metrics"
	"github.com/aldernet/voicepair/internal/store"
)

const (
	keyQueueWaiting = "queue:waiting"
	keyRoomsActive  = "rooms:active"
	keyStatsGlobal  = "stats:global"
	roomTTL         = time.Hour
	mappingTTL      = time.Hour
)

func keyRoomData(roomID string) string { return "room:data:" + roomID }
func keyUserRoom(userID string) string { return "user:room:" + userID }

// Sentinel results for Matcher operations, returned instead of opaque
// errors so callers can branch on outcome without string matching.
var (
	ErrAlreadyQueued   = errors.New("match: user already queued")
	ErrAlreadyInRoom   = errors.New("match: user already in a room")
	ErrEmpty           = errors.New("match: queue is empty")
	ErrNotAParticipant = errors.New("match: user is not a participant of this room")
	ErrRoomNotFound    = errors.New("match: room not found")
	ErrNotPresent      = errors.New("match: user not present in queue")
)

// Room is the registry's view of a paired session.
type Room struct {
	RoomID    string    `json:"roomId"`
	Users     [2]string `json:"users"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
}

// Stats is a snapshot of Matcher-wide counters.
type Stats struct {
	ActiveRooms int64
	QueueSize   int64
	TotalRooms  int64
}

// Matcher owns the waiting queue and room registry atop the shared state
// store, with best-effort audit writes to the analytics store.
type Matcher struct {
	store *store.Store
	as    *analytics.Store
}

// New builds a Matcher. as may be nil, in which case analytics writes are
// skipped entirely.
func New(s *store.Store, as *analytics.Store) *Matcher {
	return &Matcher{store: s, as: as}
}

// Enqueue adds userID to the waiting queue with the current timestamp as
// its score, after verifying the user isn't already queued or paired.
func (m *Matcher) Enqueue(ctx context.Context, userID string) error {
	queued, err := m.store.ZScore(ctx, keyQueueWaiting, userID)
	if err != nil {
		return fmt.Errorf("match: enqueue: check queue membership: %w", err)
	}
	if queued {
		return ErrAlreadyQueued
	}

	if _, ok, err := m.store.Get(ctx, keyUserRoom(userID)); err != nil {
		return fmt.Errorf("match: enqueue: check room membership: %w", err)
	} else if ok {
		return ErrAlreadyInRoom
	}

	if err := m.store.ZAdd(ctx, keyQueueWaiting, userID, nowMillis()); err != nil {
		return fmt.Errorf("match: enqueue: %w", err)
	}
	metrics.QueueSize.Inc()
	return nil
}

// DequeueOldest atomically removes and returns the lowest-score (oldest)
// queue entry. ErrEmpty is returned if the queue has no entries.
func (m *Matcher) DequeueOldest(ctx context.Context) (string, error) {
	userID, ok, err := m.store.ZPopMin(ctx, keyQueueWaiting)
	if err != nil {
		return "", fmt.Errorf("match: dequeue: %w", err)
	}
	if !ok {
		return "", ErrEmpty
	}
	metrics.QueueSize.Dec()
	return userID, nil
}

// RemoveFromQueue removes userID from the waiting queue if present. It is
// idempotent: removing an absent user returns ErrNotPresent, never an error
// that implies corruption.
func (m *Matcher) RemoveFromQueue(ctx context.Context, userID string) error {
	removed, err := m.store.ZRem(ctx, keyQueueWaiting, userID)
	if err != nil {
		return fmt.Errorf("match: remove from queue: %w", err)
	}
	if !removed {
		return ErrNotPresent
	}
	metrics.QueueSize.Dec()
	return nil
}

// CreateRoom pairs userA and userB into a new room, writing the room
// payload, both user→room mappings, the active-room index entry, and the
// totalRooms counter. On any sub-step failure it best-effort rolls back
// everything written so far before returning an error.
func (m *Matcher) CreateRoom(ctx context.Context, userA, userB string) (*Room, error) {
	roomID, err := newRoomID()
	if err != nil {
		return nil, fmt.Errorf("match: create room: generate id: %w", err)
	}

	room := &Room{
		RoomID:    roomID,
		Users:     [2]string{userA, userB},
		CreatedAt: time.Now(),
		Status:    "active",
	}

	payload, err := json.Marshal(room)
	if err != nil {
		return nil, fmt.Errorf("match: create room: marshal payload: %w", err)
	}

	var written []string
	rollback := func() {
		if len(written) == 0 {
			return
		}
		if err := m.store.Del(ctx, written...); err != nil {
			logging.Error(ctx, "match: create room rollback failed")
		}
	}

	if err := m.store.SetWithTTL(ctx, keyRoomData(roomID), string(payload), roomTTL); err != nil {
		return nil, fmt.Errorf("match: create room: write room payload: %w", err)
	}
	written = append(written, keyRoomData(roomID))

	if err := m.store.SetWithTTL(ctx, keyUserRoom(userA), roomID, mappingTTL); err != nil {
		rollback()
		return nil, fmt.Errorf("match: create room: write user-a mapping: %w", err)
	}
	written = append(written, keyUserRoom(userA))

	if err := m.store.SetWithTTL(ctx, keyUserRoom(userB), roomID, mappingTTL); err != nil {
		rollback()
		return nil, fmt.Errorf("match: create room: write user-b mapping: %w", err)
	}
	written = append(written, keyUserRoom(userB))

	if err := m.store.SAdd(ctx, keyRoomsActive, roomID); err != nil {
		rollback()
		return nil, fmt.Errorf("match: create room: add to active set: %w", err)
	}

	if err := m.store.HIncrBy(ctx, keyStatsGlobal, "totalRooms", 1); err != nil {
		if srErr := m.store.SRem(ctx, keyRoomsActive, roomID); srErr != nil {
			logging.Error(ctx, "match: create room rollback failed")
		}
		rollback()
		return nil, fmt.Errorf("match: create room: bump totalRooms: %w", err)
	}

	metrics.ActiveRooms.Inc()
	metrics.RoomsTotal.Inc()
	m.as.RecordRoomCreated(ctx, roomID, userA, userB)

	return room, nil
}

// GetRoom looks up a room by id. (nil, nil) is returned if it does not
// exist (including after TTL expiry).
func (m *Matcher) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	raw, ok, err := m.store.Get(ctx, keyRoomData(roomID))
	if err != nil {
		return nil, fmt.Errorf("match: get room: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var room Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, fmt.Errorf("match: get room: decode payload: %w", err)
	}
	return &room, nil
}

// GetRoomByUser resolves the room a user currently occupies, if any.
func (m *Matcher) GetRoomByUser(ctx context.Context, userID string) (*Room, error) {
	roomID, ok, err := m.store.Get(ctx, keyUserRoom(userID))
	if err != nil {
		return nil, fmt.Errorf("match: get room by user: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return m.GetRoom(ctx, roomID)
}

// GetPeer returns the other participant of roomID, given one participant's
// id. ErrNotAParticipant is returned if userID is not in the room.
func (m *Matcher) GetPeer(ctx context.Context, roomID, userID string) (string, error) {
	room, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room == nil {
		return "", ErrRoomNotFound
	}

	switch userID {
	case room.Users[0]:
		return room.Users[1], nil
	case room.Users[1]:
		return room.Users[0], nil
	default:
		return "", ErrNotAParticipant
	}
}

// CloseRoom tears down a room: removes both user→room mappings, deletes the
// room payload, and removes it from the active set. Calling CloseRoom twice
// on the same id is safe; the second call returns ErrRoomNotFound without
// touching any state.
func (m *Matcher) CloseRoom(ctx context.Context, roomID string) error {
	room, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrRoomNotFound
	}

	if err := m.store.Del(ctx, keyRoomData(roomID), keyUserRoom(room.Users[0]), keyUserRoom(room.Users[1])); err != nil {
		return fmt.Errorf("match: close room: %w", err)
	}
	if err := m.store.SRem(ctx, keyRoomsActive, roomID); err != nil {
		logging.Error(ctx, "match: close room: failed to remove from active set")
	}

	metrics.ActiveRooms.Dec()
	m.as.RecordRoomClosed(ctx, roomID)
	return nil
}

// Stats reports the current queue size, active room count, and lifetime
// total of rooms created.
func (m *Matcher) Stats(ctx context.Context) (Stats, error) {
	queueSize, err := m.store.ZCard(ctx, keyQueueWaiting)
	if err != nil {
		return Stats{}, fmt.Errorf("match: stats: queue size: %w", err)
	}
	activeRooms, err := m.store.SCard(ctx, keyRoomsActive)
	if err != nil {
		return Stats{}, fmt.Errorf("match: stats: active rooms: %w", err)
	}

	fields, err := m.store.HGetAll(ctx, keyStatsGlobal)
	if err != nil {
		return Stats{}, fmt.Errorf("match: stats: counters: %w", err)
	}
	var totalRooms int64
	if v, ok := fields["totalRooms"]; ok {
		fmt.Sscanf(v, "%d", &totalRooms)
	}

	return Stats{ActiveRooms: activeRooms, QueueSize: queueSize, TotalRooms: totalRooms}, nil
}

// PairResult is the outcome of FindPartner.
type PairResult struct {
	// Matched is true when a room was created.
	Matched bool
	Room    *Room
	// IsInitiator reports whether the caller should be treated as the
	// initiating side of the new room. Only meaningful when Matched.
	IsInitiator bool
	// QueuePosition is the caller's 1-based position after enqueuing. Only
	// meaningful when !Matched.
	QueuePosition int64
}

// FindPartner implements the pairing algorithm: dequeue the oldest waiting
// user and pair with them, or enqueue the caller if no one is waiting (or
// the oldest waiting entry is the caller itself, a transient reconnect
// artifact). Callers must have already verified the user is neither queued
// nor in a room.
func (m *Matcher) FindPartner(ctx context.Context, callerID string) (PairResult, error) {
	partner, err := m.DequeueOldest(ctx)
	if err != nil {
		if !errors.Is(err, ErrEmpty) {
			return PairResult{}, err
		}
		if err := m.Enqueue(ctx, callerID); err != nil {
			return PairResult{}, err
		}
		size, statErr := m.store.ZCard(ctx, keyQueueWaiting)
		if statErr != nil {
			size = 1
		}
		return PairResult{Matched: false, QueuePosition: size}, nil
	}

	if partner == callerID {
		if err := m.Enqueue(ctx, callerID); err != nil {
			return PairResult{}, err
		}
		size, statErr := m.store.ZCard(ctx, keyQueueWaiting)
		if statErr != nil {
			size = 1
		}
		return PairResult{Matched: false, QueuePosition: size}, nil
	}

	room, err := m.CreateRoom(ctx, callerID, partner)
	if err != nil {
		// Best-effort re-enqueue of both parties; partner's original
		// position is approximated since its exact timestamp was lost to
		// the successful ZPopMin.
		if reErr := m.Enqueue(ctx, callerID); reErr != nil {
			logging.Error(ctx, "match: find partner: failed to re-enqueue caller after create-room failure")
		}
		if reErr := m.Enqueue(ctx, partner); reErr != nil {
			logging.Error(ctx, "match: find partner: failed to re-enqueue partner after create-room failure")
		}
		return PairResult{}, err
	}

	return PairResult{Matched: true, Room: room, IsInitiator: true}, nil
}

func newRoomID() (string, error) {
	return uuid.New().String(), nil
}

func nowMillis() float64 {
	return float64(time.Now().UnixMilli())
}
