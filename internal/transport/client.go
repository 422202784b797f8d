package transport

import (
	"time"

	"github.com/gorilla/websocket"
)

// wsConnection is the subset of *websocket.Conn the gateway depends on, so
// tests can swap in a fake without a real network socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// wsConn is the session.Conn handed to a Controller: its Close closes the
// underlying websocket connection. readLoop and writePump use that
// connection directly, not this wrapper.
type wsConn struct {
	conn wsConnection
}

func (w *wsConn) Close() error { return w.conn.Close() }
