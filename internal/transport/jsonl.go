package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/sudostealth/SecureChatApp/internal/model"
)

// File payloads ride inside frames, so the line limit has to be generous.
const maxFrameSize = 16 * 1024 * 1024

// JSONL frames one JSON-encoded message per line over a net.Conn.
type JSONL struct {
	conn net.Conn
	sc   *bufio.Scanner

	wmu sync.Mutex // guards writes from concurrent senders
}

// NewJSONL wraps a net.Conn in line-delimited JSON framing.
func NewJSONL(conn net.Conn) *JSONL {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxFrameSize)
	return &JSONL{conn: conn, sc: sc}
}

// ReadMessage blocks for the next frame.
func (c *JSONL) ReadMessage() (*model.Message, error) {
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("read frame: %w", net.ErrClosed)
	}
	var m model.Message
	if err := json.Unmarshal(c.sc.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &m, nil
}

// WriteMessage encodes and sends one frame.
func (c *JSONL) WriteMessage(m *model.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(b)
	return err
}

func (c *JSONL) Close() error { return c.conn.Close() }

func (c *JSONL) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
