package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// controlMessage is what clients may send, and what they get back.
type controlMessage struct {
	Type string `json:"type"`
}

type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	sub     *Subscriber
	replies chan []byte
}

// HandleWebSocket upgrades the connection and streams events matching the
// optional ?types=a,b filter.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter := ParseFilter(r.URL.Query().Get("types"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:     h,
		conn:    conn,
		sub:     h.Subscribe(filter),
		replies: make(chan []byte, 8),
	}

	go c.writePump()
	go c.readPump()
}

// readPump handles client pings and detects disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg controlMessage
		if json.Unmarshal(data, &msg) != nil || msg.Type != "ping" {
			continue
		}
		pong, _ := json.Marshal(controlMessage{Type: "pong"})
		select {
		case c.replies <- pong:
		default:
		}
	}
}

// writePump is the only goroutine writing to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, closeFrame(c.sub.Err()))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}

		case reply := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, reply); err != nil {
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

func closeFrame(reason error) []byte {
	switch {
	case errors.Is(reason, ErrSlowConsumer):
		return websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason.Error())
	case errors.Is(reason, ErrHubClosed):
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, reason.Error())
	default:
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
}
