package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencnc/cncstream/internal/controller"
	"github.com/opencnc/cncstream/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn is the subset of *websocket.Conn the pumps need, narrowed so tests can substitute a
// fake without opening a real socket.
type wsConn interface {
	ReadJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client bridges one WebSocket connection to the ConnectionMux subscription the Hub opened for
// it: events flowing out of the controller are serialized and written to the socket; JSON
// command messages read from the socket are decoded and submitted to the controller.
type Client struct {
	hub    *Hub
	handle protocol.ClientHandle
	conn   wsConn

	send   chan []byte
	events <-chan controller.OutboundEvent
}

// ServeWs upgrades an HTTP request to a WebSocket connection and starts its pumps.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) error {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := hub.register(rawConn)

	go client.writePump()
	go client.readPump()
	go client.forwardPump()

	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		cmd, ok := msg.toCommand(c.handle)
		if !ok {
			c.hub.logger.Warn("Unknown command from client", "client", c.handle, "command", msg.Command)
			continue
		}
		c.hub.controller.Command(cmd)
	}
}

// forwardPump relays events the ConnectionMux delivers for this client onto the outbound send
// channel the writePump drains, serializing each as it goes.
func (c *Client) forwardPump() {
	for evt := range c.events {
		data, err := marshalOutbound(evt.Name, evt.Payload)
		if err != nil {
			c.hub.logger.Error("Failed to marshal event", "client", c.handle, "event", evt.Name, "err", err)
			continue
		}
		select {
		case c.send <- data:
		default:
			c.hub.logger.Warn("Client send buffer full, dropping event", "client", c.handle, "event", evt.Name)
		}
	}
	close(c.send)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
