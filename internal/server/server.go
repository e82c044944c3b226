// Package server implements the relay: per-connection handlers, the live
// handler directory and the message dispatch protocol.
package server

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sudostealth/SecureChatApp/internal/registry"
	"github.com/sudostealth/SecureChatApp/internal/store"
	"github.com/sudostealth/SecureChatApp/internal/transport"
)

// Server accepts connections and spawns one handler goroutine per connection.
type Server struct {
	cfg   Config
	dir   *Directory
	reg   *registry.Registry
	files *store.FileStore
	log   *zap.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[*Handler]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New wires the relay together around a shared registry.
func New(cfg Config, reg *registry.Registry, files *store.FileStore, log *zap.Logger) *Server {
	return &Server{
		cfg:   cfg,
		dir:   NewDirectory(),
		reg:   reg,
		files: files,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handlers: make(map[*Handler]struct{}),
	}
}

// Directory exposes the live-handler directory.
func (s *Server) Directory() *Directory { return s.dir }

// Serve accepts TCP connections until the listener closes.
func (s *Server) Serve(lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.log.Info("accepted connection", zap.String("remote", conn.RemoteAddr().String()))
		s.HandleConn(transport.NewJSONL(conn))
	}
}

// ServeWS upgrades an HTTP request to a websocket and runs the same handler
// path as the TCP listener.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.log.Info("accepted websocket", zap.String("remote", ws.RemoteAddr().String()))
	s.HandleConn(transport.NewWS(ws))
}

// HandleConn spawns a handler for one framed connection.
func (s *Server) HandleConn(conn transport.Conn) {
	h := NewHandler(conn, s.cfg, s.dir, s.reg, s.files, s.log)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.handlers[h] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		h.Run()
		s.mu.Lock()
		delete(s.handlers, h)
		s.mu.Unlock()
	}()
}

// Shutdown tears down every live connection and clears the registry. Blocks
// until all handler goroutines have exited.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	hs := make([]*Handler, 0, len(s.handlers))
	for h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	s.log.Info("shutting down", zap.Strings("users", s.dir.Names()))
	for _, h := range hs {
		h.Teardown()
	}
	s.wg.Wait()
	s.reg.Shutdown()
	s.log.Info("relay shutdown complete")
}
