package transport

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sudostealth/SecureChatApp/internal/model"
)

// WS frames one JSON-encoded message per websocket text frame.
type WS struct {
	conn *websocket.Conn

	wmu sync.Mutex
}

// NewWS wraps an upgraded websocket connection.
func NewWS(conn *websocket.Conn) *WS {
	conn.SetReadLimit(maxFrameSize)
	return &WS{conn: conn}
}

// ReadMessage blocks for the next frame.
func (c *WS) ReadMessage() (*model.Message, error) {
	var m model.Message
	if err := c.conn.ReadJSON(&m); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return &m, nil
}

// WriteMessage encodes and sends one frame.
func (c *WS) WriteMessage(m *model.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(m)
}

func (c *WS) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.conn.Close()
}

func (c *WS) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
