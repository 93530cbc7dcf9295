package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 32
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxFrameBytes  = 4 << 10
)

// Client is one live feed connection. A client receives every entity until
// it sends a subscribe frame:
//
//	{"topics": ["proposal", "product"]}
//
// An empty topic list restores the full feed.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
}

type subscribeFrame struct {
	Topics []string `json:"topics"`
}

func NewClient(hub *Hub, conn *ws.Conn) *Client {
	conn.SetReadLimit(maxFrameBytes)
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Run registers the client and serves it until the connection closes or ctx
// ends.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// Subscribe limits the feed to the given entities.
func (c *Client) Subscribe(topics []string) {
	var set map[string]bool
	if len(topics) > 0 {
		set = make(map[string]bool, len(topics))
		for _, t := range topics {
			set[t] = true
		}
	}
	c.mu.Lock()
	c.topics = set
	c.mu.Unlock()
}

func (c *Client) wants(entity string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics == nil || c.topics[entity]
}

func (c *Client) readPump(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != ws.MessageText {
			continue
		}
		var f subscribeFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.hub.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		c.Subscribe(f.Topics)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(ws.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, ws.MessageText, msg)
			cancel()
			if err != nil {
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
