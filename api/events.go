// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sealedbid/empa/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans lot lifecycle events out to websocket subscribers. Each
// subscriber watches a single lot; slow consumers are dropped rather than
// allowed to stall the publisher.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	log     log.Logger
}

type client struct {
	lotID uint64
	send  chan Event
	conn  *websocket.Conn
}

// NewHub creates an empty hub.
func NewHub(logger log.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     logger,
	}
}

// Publish sends the event to every subscriber of its lot.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.lotID != ev.LotID {
			continue
		}
		select {
		case c.send <- ev:
		default:
			// Consumer is not keeping up; cut it loose.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*client]struct{})
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleEvents upgrades the request and streams the lot's events until the
// peer goes away.
func (s *Server) handleEvents(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	if _, err := s.house.GetLot(lotID); err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn(fmt.Sprintf("websocket upgrade: %v", err))
		return
	}

	cl := &client{lotID: lotID, send: make(chan Event, 16), conn: conn}
	if !s.hub.add(cl) {
		conn.Close()
		return
	}

	go cl.writePump()
	cl.readPump(s.hub)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its only job is noticing the close.
func (c *client) readPump(h *Hub) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
