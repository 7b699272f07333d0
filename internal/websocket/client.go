package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Toucher resets a child's idle countdown. *view.Sessions implements it.
type Toucher interface {
	Touch(childID string) bool
}

// Client is one kiosk screen's connection. childID is the child whose chore
// screen is showing, or empty for the home screen.
type Client struct {
	hub     *Hub
	conn    *ws.Conn
	send    chan []byte
	childID string
	toucher Toucher
	logger  *slog.Logger
}

// NewClient creates a Client for the screen of childID.
func NewClient(hub *Hub, conn *ws.Conn, childID string, toucher Toucher, logger *slog.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		childID: childID,
		toucher: toucher,
		logger:  logger.With("child_id", childID),
	}
}

// wants reports whether msg concerns this screen. The home screen gets
// everything; a child's screen gets its own events, roster changes and
// shared chore updates.
func (c *Client) wants(msg Message) bool {
	switch {
	case c.childID == "", msg.ChildID == "", msg.ChildID == c.childID:
		return true
	case msg.Entity == EntityChild:
		return true
	case msg.Entity == EntityTodo && msg.Extra["scope"] == "shared":
		return true
	}
	return false
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

type inbound struct {
	Type string `json:"type"`
}

// readPump handles frames from the screen. A {"type":"touch"} frame counts as
// activity on the child's screen; anything else is ignored. Returning ends
// the client.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type != "touch" {
			c.logger.Debug("ignoring screen frame", "bytes", len(data))
			continue
		}
		if c.childID == "" || c.toucher == nil {
			continue
		}
		if !c.toucher.Touch(c.childID) {
			c.logger.Debug("touch without open session")
		}
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				c.logger.Debug("write to screen", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
