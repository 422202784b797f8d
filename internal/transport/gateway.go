// Package transport wires a live WebSocket connection to a session
// Controller: it owns the upgrade handshake, the read/write pumps, and the
// process loop that drains the Controller's internal deferred work on the
// same goroutine as its inbound frames, as session.Controller requires.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aldernet/voicepair/internal/logging"
	"github.com/aldernet/voicepair/internal/match"
	"github.com/aldernet/voicepair/internal/ratelimit"
	"github.com/aldernet/voicepair/internal/router"
	"github.com/aldernet/voicepair/internal/session"
	"github.com/aldernet/voicepair/internal/wire"
)

// Gateway upgrades incoming HTTP requests to WebSocket connections and drives
// each one's session.Controller to completion.
type Gateway struct {
	matcher        *match.Matcher
	router         *router.Router
	limiter        *ratelimit.Limiter
	iceServers     []wire.ICEServer
	allowedOrigins []string
	upgrader       websocket.Upgrader

	mu          sync.Mutex
	controllers map[string]*session.Controller
}

// NewGateway builds a Gateway ready to serve /ws.
func NewGateway(matcher *match.Matcher, r *router.Router, limiter *ratelimit.Limiter, iceServers []wire.ICEServer, allowedOrigins []string) *Gateway {
	g := &Gateway{
		matcher:        matcher,
		router:         r,
		limiter:        limiter,
		iceServers:     iceServers,
		allowedOrigins: allowedOrigins,
		controllers:    make(map[string]*session.Controller),
	}
	g.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, g.allowedOrigins) == nil
		},
	}
	return g
}

// ServeWs upgrades the request and runs the connection until it closes.
// It blocks for the connection's lifetime; gin serves each request on its
// own goroutine, so this is safe to call directly as a handler.
func (g *Gateway) ServeWs(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "transport: websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.New().String()
	ctx := context.Background()

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Warn(ctx, "transport: failed to set initial read deadline")
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctrl := session.New(session.Config{
		ConnID:     connID,
		Conn:       &wsConn{conn: conn},
		Matcher:    g.matcher,
		Router:     g.router,
		Limiter:    g.limiter,
		ICEServers: g.iceServers,
	})

	g.track(connID, ctrl)
	defer g.untrack(connID)

	ctrl.Start(ctx)
	logging.Info(ctx, "transport: connection established", zap.String("conn_id", connID))

	incoming := make(chan []byte, 32)
	readDone := make(chan struct{})

	go g.readLoop(conn, incoming, readDone)
	go g.writePump(ctrl, conn)

	g.processLoop(ctx, ctrl, incoming, readDone)
	logging.Info(ctx, "transport: connection closed", zap.String("conn_id", connID))
}

func (g *Gateway) track(connID string, ctrl *session.Controller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.controllers[connID] = ctrl
}

func (g *Gateway) untrack(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.controllers, connID)
}

// readLoop only ever calls the blocking ReadMessage; it never touches
// Controller state, so it can safely run on its own goroutine.
func (g *Gateway) readLoop(conn wsConnection, incoming chan<- []byte, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		incoming <- data
	}
}

// processLoop is the single goroutine that owns a Controller's state: it
// dispatches both inbound frames and the Controller's deferred internal
// work (the skip-partner requeue), satisfying the single-actor contract
// session.Controller requires.
func (g *Gateway) processLoop(ctx context.Context, ctrl *session.Controller, incoming <-chan []byte, readDone <-chan struct{}) {
	for {
		select {
		case data := <-incoming:
			ctrl.HandleFrame(ctx, data)
		case fn := <-ctrl.DrainInternal():
			fn(ctx)
		case <-readDone:
			ctrl.Disconnect(ctx)
			return
		case <-ctrl.Stopped():
			return
		}
	}
}

func (g *Gateway) writePump(ctrl *session.Controller, conn wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	priority, normal := ctrl.Outbound()

	for {
		select {
		case frame := <-priority:
			if err := g.write(conn, frame); err != nil {
				go ctrl.Disconnect(context.Background())
				return
			}
		case frame := <-normal:
			if err := g.write(conn, frame); err != nil {
				go ctrl.Disconnect(context.Background())
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go ctrl.Disconnect(context.Background())
				return
			}
		case <-ctrl.Stopped():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (g *Gateway) write(conn wsConnection, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Shutdown disconnects every live connection, giving each a chance to notify
// its peer, and returns once all have been torn down or the context expires.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.mu.Lock()
	controllers := make([]*session.Controller, 0, len(g.controllers))
	for _, ctrl := range g.controllers {
		controllers = append(controllers, ctrl)
	}
	g.mu.Unlock()

	logging.Info(ctx, "transport: shutting down, disconnecting active connections",
		zap.Int("count", len(controllers)))

	var wg sync.WaitGroup
	for _, ctrl := range controllers {
		wg.Add(1)
		go func(c *session.Controller) {
			defer wg.Done()
			c.Disconnect(ctx)
		}(ctrl)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn(ctx, "transport: shutdown deadline exceeded with connections still closing")
	}
}
