package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normanking/troupe/internal/bus"
)

const (
	// writeWait is the timeout for writing to a WebSocket.
	writeWait = 10 * time.Second

	// pongWait is the timeout for pong responses.
	pongWait = 60 * time.Second

	// pingPeriod is how often to send ping frames.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound messages; clients only listen.
	maxMessageSize = 512

	// defaultReplayCount is how many historical events a new client gets.
	defaultReplayCount = 100
)

// client is a single WebSocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte

	replayHistory bool
	historyCount  int
}

// handleWebSocket upgrades HTTP connections and registers the client for the
// event stream. Recent bus history is replayed unless ?replay=false.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	replay := r.URL.Query().Get("replay") != "false"
	count := defaultReplayCount
	if n := r.URL.Query().Get("count"); n != "" {
		if parsed, err := strconv.Atoi(n); err == nil && parsed > 0 {
			count = parsed
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:          conn,
		send:          make(chan []byte, 256),
		replayHistory: replay,
		historyCount:  count,
	}

	s.register <- c

	s.wg.Add(2)
	go s.writePump(c)
	go s.readPump(c)
}

// runClientManager serializes client registration and teardown.
func (s *Server) runClientManager() {
	defer s.wg.Done()

	for {
		select {
		case c := <-s.register:
			s.clientsMu.Lock()
			s.clients[c] = true
			total := len(s.clients)
			s.clientsMu.Unlock()
			s.log.Debug("websocket client connected (%d total)", total)

			if c.replayHistory {
				s.replayHistoryToClient(c)
			}

		case c := <-s.unregister:
			s.clientsMu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
				c.conn.Close()
			}
			remaining := len(s.clients)
			s.clientsMu.Unlock()
			s.log.Debug("websocket client disconnected (%d remaining)", remaining)

		case <-s.ctx.Done():
			return
		}
	}
}

// replayHistoryToClient sends recent events to a newly connected client.
func (s *Server) replayHistoryToClient(c *client) {
	if s.events == nil {
		return
	}
	for _, event := range s.events.Recent(c.historyCount) {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

// handleBusEvent forwards a published event to every connected client.
// Clients that cannot keep up are dropped rather than blocking the stream.
func (s *Server) handleBusEvent(event bus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			select {
			case s.unregister <- c:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// writePump drains the client's send channel onto the socket, batching queued
// events into a single frame, and keeps the connection alive with pings.
func (s *Server) writePump(c *client) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}

// readPump consumes control frames until the client goes away.
func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	defer func() {
		select {
		case s.unregister <- c:
		case <-s.ctx.Done():
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read error: %v", err)
			}
			break
		}
	}
}
