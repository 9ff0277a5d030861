package overlayhub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"overlaydispatch/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// ServeHTTP upgrades the request to a WebSocket connection after
// authenticating it, then joins the caller's tenant room.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	oc, err := h.authenticate(r.Context(), r)
	if err != nil {
		h.logger.Warn("overlay handshake rejected", "error", err, "remote", r.RemoteAddr)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("overlay handshake upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, 32),
		guildID:     oc.GuildID,
		clientID:    oc.ID,
		label:       oc.Label,
		authorName:  oc.AuthorName,
		authorImage: oc.AuthorImage,
	}

	if err := h.store.TouchOverlayClientLastSeen(r.Context(), oc.ID, time.Now().UTC()); err != nil {
		h.logger.Warn("overlay hub: touch last seen failed", "clientId", oc.ID, "error", err)
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Warn("overlay hub: malformed inbound message", "guildId", c.guildID, "clientId", c.clientID)
			continue
		}
		metrics.OverlayEventsInTotal.WithLabelValues(msg.Type).Inc()
		c.hub.dispatchInbound(c, msg)
	}
}

func logAttr(c *client) []any {
	return []any{"guildId", c.guildID, "clientId", c.clientID}
}
