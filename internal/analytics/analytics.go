// Package analytics records room lifecycle events to an external
// PostgreSQL store for offline reporting. It is entirely optional: the
// signaling path never blocks on it, and every write is fire-and-forget.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aldernet/voicepair/internal/logging"
)

// Schema is the DDL for the two tables analytics writes to. New applies it
// on connect (CREATE TABLE IF NOT EXISTS); this package does not manage
// schema versions.
const Schema = `
CREATE TABLE IF NOT EXISTS room_events (
    id         TEXT PRIMARY KEY,
    user1      TEXT NOT NULL,
    user2      TEXT NOT NULL,
    status     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    closed_at  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS room_totals (
    metric TEXT PRIMARY KEY,
    value  BIGINT NOT NULL DEFAULT 0
);
`

// queueCapacity bounds the number of pending room-lifecycle events. A
// degraded Postgres must never stall CreateRoom/CloseRoom on the signaling
// path, so the worker drops the oldest queued event to make room for the
// newest rather than blocking the caller.
const queueCapacity = 256

type eventKind int

const (
	eventRoomCreated eventKind = iota
	eventRoomClosed
)

type event struct {
	kind   eventKind
	roomID string
	user1  string
	user2  string
}

// Store writes room lifecycle events to Postgres. A nil *Store is valid and
// turns every method into a no-op, so callers don't need to branch on
// whether analytics is enabled. Writes are enqueued onto a bounded channel
// and applied by a single background worker, so RecordRoomCreated/
// RecordRoomClosed never block the caller on Postgres latency.
type Store struct {
	pool   *pgxpool.Pool
	events chan event
	done   chan struct{}
}

// New connects to Postgres, ensures the schema exists, and starts the
// background worker that drains queued events.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("analytics: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("analytics: migrate: %w", err)
	}

	s := &Store{
		pool:   pool,
		events: make(chan event, queueCapacity),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// run drains queued events onto Postgres, one at a time, until the events
// channel is closed by Close.
func (s *Store) run() {
	defer close(s.done)
	for ev := range s.events {
		switch ev.kind {
		case eventRoomCreated:
			s.writeRoomCreated(context.Background(), ev.roomID, ev.user1, ev.user2)
		case eventRoomClosed:
			s.writeRoomClosed(context.Background(), ev.roomID)
		}
	}
}

// enqueue never blocks: if the queue is full, the oldest pending event is
// dropped to make room for ev.
func (s *Store) enqueue(ev event) {
	select {
	case s.events <- ev:
		return
	default:
	}

	select {
	case <-s.events:
		logging.Warn(context.Background(), "analytics: queue full, dropping oldest event")
	default:
	}

	select {
	case s.events <- ev:
	default:
		logging.Warn(context.Background(), "analytics: queue still full, dropping event")
	}
}

// Close stops accepting new events, waits for the worker to drain the queue,
// and releases the connection pool. Safe to call on a nil Store.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	close(s.events)
	<-s.done
	s.pool.Close()
}

// Ping reports whether the analytics store is reachable, used by the
// readiness probe. A nil Store is always considered healthy since it's
// disabled by configuration, not broken.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// RecordRoomCreated enqueues a room_events insert and a totalRooms bump.
// Fire-and-forget: it never blocks on Postgres, and queue overflow drops the
// oldest pending event rather than the caller's signaling path.
func (s *Store) RecordRoomCreated(ctx context.Context, roomID, user1, user2 string) {
	if s == nil || s.pool == nil {
		return
	}
	s.enqueue(event{kind: eventRoomCreated, roomID: roomID, user1: user1, user2: user2})
}

// RecordRoomClosed enqueues a room_events closure update. Fire-and-forget,
// same overflow policy as RecordRoomCreated.
func (s *Store) RecordRoomClosed(ctx context.Context, roomID string) {
	if s == nil || s.pool == nil {
		return
	}
	s.enqueue(event{kind: eventRoomClosed, roomID: roomID})
}

func (s *Store) writeRoomCreated(ctx context.Context, roomID, user1, user2 string) {
	const query = `
		INSERT INTO room_events (id, user1, user2, status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, roomID, user1, user2); err != nil {
		logging.Error(ctx, "analytics: failed to record room creation")
		return
	}

	const bump = `
		INSERT INTO room_totals (metric, value) VALUES ('totalRooms', 1)
		ON CONFLICT (metric) DO UPDATE SET value = room_totals.value + 1`
	if _, err := s.pool.Exec(ctx, bump); err != nil {
		logging.Error(ctx, "analytics: failed to bump totalRooms")
	}
}

func (s *Store) writeRoomClosed(ctx context.Context, roomID string) {
	const query = `
		UPDATE room_events SET status = 'closed', closed_at = $2
		WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, roomID, time.Now()); err != nil {
		logging.Error(ctx, "analytics: failed to record room closure")
	}
}
