// Package session implements the per-connection state machine that
// mediates between a transport connection and the Matcher/Router. Every
// Controller is a single-goroutine-owned actor: all state mutation happens
// in its process loop, so no internal locking is required.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/aldernet/voicepair/internal/logging"
	"github.com/aldernet/voicepair/internal/match"
	"github.com/aldernet/voicepair/internal/metrics"
	"github.com/aldernet/voicepair/internal/router"
	"github.com/aldernet/voicepair/internal/wire"
)

// State is one of the three positions a connection can occupy.
type State int

const (
	Idle State = iota
	Queued
	Paired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Queued:
		return "queued"
	case Paired:
		return "paired"
	default:
		return "unknown"
	}
}

const skipPartnerDelay = 500 * time.Millisecond

// Conn is the minimal transport surface a Controller needs. The transport
// gateway's websocket wrapper satisfies this.
type Conn interface {
	Close() error
}

// Matcher is the subset of *match.Matcher a Controller depends on.
type Matcher interface {
	FindPartner(ctx context.Context, callerID string) (match.PairResult, error)
	RemoveFromQueue(ctx context.Context, userID string) error
	GetPeer(ctx context.Context, roomID, userID string) (string, error)
	CloseRoom(ctx context.Context, roomID string) error
}

// Limiter is the subset of *ratelimit.Limiter a Controller depends on.
type Limiter interface {
	CheckFindPartner(ctx context.Context, connID string) bool
}

// Controller drives one connection's state machine. Outbound frames are
// written to two buffered channels (normal and priority) drained by a
// caller-owned writer goroutine; inbound frames arrive via HandleFrame.
type Controller struct {
	ConnID     string
	conn       Conn
	matcher    Matcher
	router     *router.Router
	limiter    Limiter
	iceServers []wire.ICEServer

	send         chan []byte
	prioritySend chan []byte

	// internal carries deferred work (the skip-partner timer callback)
	// back onto this Controller's single execution context.
	internal chan func(ctx context.Context)
	stopped  chan struct{}

	state  State
	roomID string

	skipTimer      *time.Timer
	disconnectOnce sync.Once
	registeredOnce sync.Once
}

// Config bundles a Controller's collaborators.
type Config struct {
	ConnID     string
	Conn       Conn
	Matcher    Matcher
	Router     *router.Router
	Limiter    Limiter
	ICEServers []wire.ICEServer
}

// New builds a Controller in the Idle state. It does not yet register with
// the router or start pumping frames; call Run for that.
func New(cfg Config) *Controller {
	return &Controller{
		ConnID:       cfg.ConnID,
		conn:         cfg.Conn,
		matcher:      cfg.Matcher,
		router:       cfg.Router,
		limiter:      cfg.Limiter,
		iceServers:   cfg.ICEServers,
		send:         make(chan []byte, 64),
		prioritySend: make(chan []byte, 64),
		internal:     make(chan func(ctx context.Context), 4),
		stopped:      make(chan struct{}),
		state:        Idle,
	}
}

// Outbound returns the channels a transport writer should drain, priority
// first.
func (c *Controller) Outbound() (priority, normal <-chan []byte) {
	return c.prioritySend, c.send
}

// State reports the controller's current state (for tests/diagnostics).
func (c *Controller) State() State {
	return c.state
}

// Start registers the controller with the router and sends the one-time
// ICE server descriptor list. It must be called once, from the same
// goroutine that will call HandleFrame.
func (c *Controller) Start(ctx context.Context) {
	c.registeredOnce.Do(func() {
		c.router.Register(c.ConnID, c)
		metrics.IncConnection()
	})

	frame := wire.ICEServersFrame{Type: wire.TypeICEServers, Servers: c.iceServers}
	c.sendLocal(frame, true)
}

// DrainInternal returns the channel of deferred internal work (e.g. the
// skip-partner timer). The owning goroutine must receive from it in the
// same select loop that calls HandleFrame and run each function it gets.
func (c *Controller) DrainInternal() <-chan func(ctx context.Context) {
	return c.internal
}

// Stopped is closed once the controller has fully torn down, unblocking
// any pending timer callbacks.
func (c *Controller) Stopped() <-chan struct{} {
	return c.stopped
}

// HandleFrame processes one inbound frame. It must only be called from the
// controller's owning goroutine.
func (c *Controller) HandleFrame(ctx context.Context, raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.WebsocketEvents.WithLabelValues("unknown", "malformed").Inc()
		c.sendError("malformed message")
		return
	}

	start := time.Now()
	status := "ok"

	switch env.Type {
	case wire.TypeFindPartner:
		c.handleFindPartner(ctx)
	case wire.TypeOffer, wire.TypeAnswer, wire.TypeICECandidate:
		c.handleRelay(ctx, raw, env.Type)
	case wire.TypeLeaveChat:
		c.handleLeaveChat(ctx)
	case wire.TypeSkipPartner:
		c.handleSkipPartner(ctx)
	default:
		status = "unknown_type"
		c.sendError("unknown message type")
	}

	metrics.WebsocketEvents.WithLabelValues(env.Type, status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
}

func (c *Controller) handleFindPartner(ctx context.Context) {
	switch c.state {
	case Paired:
		c.sendError("already in a chat")
		return
	case Queued:
		c.sendLocal(wire.NewMessageFrame(wire.TypeWaiting, "still waiting for a partner"), false)
		return
	}

	if c.limiter != nil && !c.limiter.CheckFindPartner(ctx, c.ConnID) {
		c.sendError("too many requests, slow down")
		return
	}

	result, err := c.matcher.FindPartner(ctx, c.ConnID)
	if err != nil {
		logging.Error(ctx, "session: find-partner failed")
		c.sendError("could not find a partner right now")
		return
	}

	if !result.Matched {
		c.state = Queued
		c.sendLocal(wire.NewMessageFrame(wire.TypeWaiting, "waiting for a partner"), false)
		c.sendLocal(wire.QueueUpdateFrame{Type: wire.TypeQueueUpdate, Position: int(result.QueuePosition)}, false)
		return
	}

	c.state = Paired
	c.roomID = result.Room.RoomID

	var peerID string
	for _, u := range result.Room.Users {
		if u != c.ConnID {
			peerID = u
		}
	}

	c.sendLocal(wire.MatchedFrame{Type: wire.TypeMatched, RoomID: c.roomID, IsInitiator: result.IsInitiator}, true)
	c.notifyPeerMatched(ctx, peerID, c.roomID)
}

func (c *Controller) notifyPeerMatched(ctx context.Context, peerID, roomID string) {
	frame := wire.MatchedFrame{Type: wire.TypeMatched, RoomID: roomID, IsInitiator: false}
	data, err := wire.Marshal(frame)
	if err != nil {
		logging.Error(ctx, "session: failed to marshal matched frame for peer")
		return
	}

	ok, err := c.router.Deliver(peerID, data, true)
	if err != nil {
		logging.Error(ctx, "session: failed to deliver matched frame to peer")
		return
	}
	if !ok {
		// The peer disconnected between CreateRoom and this notification.
		// Its own disconnect path will tear the room down; we stay Paired
		// until our own leave-chat/skip/disconnect, per the relay drop
		// semantics for a vanished peer.
		logging.Warn(ctx, "session: peer not registered when delivering matched frame")
	}
}

func (c *Controller) handleRelay(ctx context.Context, raw []byte, eventType string) {
	if c.state != Paired {
		c.sendError("not in a chat")
		return
	}

	var frame wire.RelayFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
		c.sendError("missing roomId")
		return
	}

	peerID, err := c.matcher.GetPeer(ctx, frame.RoomID, c.ConnID)
	if err != nil {
		if errors.Is(err, match.ErrNotAParticipant) {
			c.sendError("not a participant of this room")
			return
		}
		logging.Warn(ctx, "session: relay failed to resolve peer")
		return
	}

	ok, err := c.router.Deliver(peerID, raw, false)
	if err != nil {
		logging.Error(ctx, "session: failed to deliver relay frame")
		return
	}
	if !ok {
		logging.Info(ctx, "session: dropping relay frame, peer gone")
	}
	_ = eventType
}

func (c *Controller) handleLeaveChat(ctx context.Context) {
	switch c.state {
	case Queued:
		if err := c.matcher.RemoveFromQueue(ctx, c.ConnID); err != nil && !errors.Is(err, match.ErrNotPresent) {
			logging.Error(ctx, "session: leave-chat failed to remove from queue")
		}
		c.state = Idle
	case Paired:
		c.teardownRoom(ctx, wire.TypePartnerLeft, "your partner left the chat")
		c.sendLocal(wire.NewMessageFrame(wire.TypeLeftChat, "you left the chat"), true)
	}
}

func (c *Controller) handleSkipPartner(ctx context.Context) {
	if c.state != Paired {
		c.sendError("not in a chat")
		return
	}

	c.teardownRoom(ctx, wire.TypePartnerLeft, "your partner left the chat")

	if c.skipTimer != nil {
		c.skipTimer.Stop()
	}
	c.skipTimer = time.AfterFunc(skipPartnerDelay, func() {
		select {
		case c.internal <- func(ctx context.Context) {
			if c.state == Idle {
				c.handleFindPartner(ctx)
			}
		}:
		case <-c.stopped:
		}
	})
}

// teardownRoom closes the current room and notifies the peer, transitioning
// to Idle. reason/message describe what the peer should be told.
func (c *Controller) teardownRoom(ctx context.Context, reason, peerMessage string) {
	roomID := c.roomID
	if roomID == "" {
		c.state = Idle
		return
	}

	peerID, peerErr := c.matcher.GetPeer(ctx, roomID, c.ConnID)

	if err := c.matcher.CloseRoom(ctx, roomID); err != nil && !errors.Is(err, match.ErrRoomNotFound) {
		logging.Error(ctx, "session: failed to close room during teardown")
	}

	if peerErr == nil && peerID != "" {
		frame := wire.NewMessageFrame(reason, peerMessage)
		data, err := wire.Marshal(frame)
		if err == nil {
			if _, err := c.router.Deliver(peerID, data, true); err != nil {
				logging.Error(ctx, "session: failed to notify peer during teardown")
			}
		}
	}

	c.state = Idle
	c.roomID = ""
}

// Disconnect runs the disconnect transition exactly once, idempotent with
// respect to an already-completed leave-chat. Safe to call concurrently,
// though in practice it is always invoked from the controller's owning
// goroutine (on read error) or from Shutdown.
func (c *Controller) Disconnect(ctx context.Context) {
	c.disconnectOnce.Do(func() {
		if c.skipTimer != nil {
			c.skipTimer.Stop()
		}

		switch c.state {
		case Queued:
			if err := c.matcher.RemoveFromQueue(ctx, c.ConnID); err != nil && !errors.Is(err, match.ErrNotPresent) {
				logging.Error(ctx, "session: disconnect failed to remove from queue")
			}
			c.state = Idle
		case Paired:
			c.teardownRoom(ctx, wire.TypePartnerDisconnected, "your partner disconnected")
		}

		c.router.Unregister(c.ConnID, c)
		close(c.stopped)
		_ = c.conn.Close()
		metrics.DecConnection()
	})
}

func (c *Controller) sendError(message string) {
	c.sendLocal(wire.NewErrorFrame(message), true)
}

func (c *Controller) sendLocal(v any, priority bool) {
	data, err := wire.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "session: failed to marshal outbound frame")
		return
	}
	_ = c.DeliverFrame(data, priority)
}

// DeliverFrame satisfies router.Deliverable: it enqueues frame on the
// appropriate outbound lane. Priority frames are dropped (with a log) if
// the lane is full. Normal-lane ICE candidates are dropped (with a log) on
// overflow since they are best-effort; any other normal-lane frame
// (offer/answer) triggers a disconnect, since the receiving side can no
// longer keep up.
func (c *Controller) DeliverFrame(frame []byte, priority bool) error {
	select {
	case <-c.stopped:
		return nil
	default:
	}

	if priority {
		select {
		case c.prioritySend <- frame:
		default:
			logging.Warn(context.Background(), "session: priority outbound queue full, dropping frame")
		}
		return nil
	}

	select {
	case c.send <- frame:
		return nil
	default:
	}

	var env wire.Envelope
	_ = json.Unmarshal(frame, &env)
	if env.Type == wire.TypeICECandidate {
		logging.Warn(context.Background(), "session: outbound queue full, dropping ice-candidate")
		return nil
	}

	logging.Warn(context.Background(), "session: outbound queue full for critical frame, disconnecting")
	go c.Disconnect(context.Background())
	return nil
}
