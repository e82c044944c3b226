package transport

import (
	"sync"

	"github.com/sudostealth/SecureChatApp/internal/errs"
	"github.com/sudostealth/SecureChatApp/internal/model"
)

// pipeConn is an in-memory Conn backed by channels. Used by tests and by
// embedded clients that share a process with the relay.
type pipeConn struct {
	in  <-chan *model.Message
	out chan<- *model.Message

	closeOnce sync.Once
	closed    chan struct{}
	peer      *pipeConn
}

// Pipe returns two connected in-memory message streams. Writes on one side
// become reads on the other. Closing either side unblocks both.
func Pipe() (Conn, Conn) {
	ab := make(chan *model.Message, 64)
	ba := make(chan *model.Message, 64)
	a := &pipeConn{in: ba, out: ab, closed: make(chan struct{})}
	b := &pipeConn{in: ab, out: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (c *pipeConn) ReadMessage() (*model.Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return nil, errs.ErrClosed
	case <-c.peer.closed:
		// drain anything written before the peer closed
		select {
		case m := <-c.in:
			return m, nil
		default:
			return nil, errs.ErrClosed
		}
	}
}

func (c *pipeConn) WriteMessage(m *model.Message) error {
	select {
	case <-c.closed:
		return errs.ErrClosed
	case <-c.peer.closed:
		return errs.ErrClosed
	case c.out <- m:
		return nil
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) RemoteAddr() string { return "pipe" }
