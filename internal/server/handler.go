package server

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sudostealth/SecureChatApp/internal/crypto"
	"github.com/sudostealth/SecureChatApp/internal/errs"
	"github.com/sudostealth/SecureChatApp/internal/model"
	"github.com/sudostealth/SecureChatApp/internal/registry"
	"github.com/sudostealth/SecureChatApp/internal/store"
	"github.com/sudostealth/SecureChatApp/internal/transport"
)

// Config collects the handler timing knobs.
type Config struct {
	// TypingWindow is the inactivity window after which TYPING_START expires
	// into an implicit TYPING_STOP.
	TypingWindow time.Duration
	// DestroyGrace delays connection teardown after a destroy directive so
	// the directive reaches the transport first.
	DestroyGrace time.Duration
}

// Handler owns one accepted connection end to end: key exchange,
// authentication and the read/dispatch loop.
type Handler struct {
	conn transport.Conn
	key  crypto.Key
	name string // empty until JOIN succeeds

	cfg   Config
	dir   *Directory
	reg   *registry.Registry
	files *store.FileStore
	log   *zap.Logger

	downOnce sync.Once
	down     chan struct{}
}

// NewHandler wraps an accepted connection. Run must be called exactly once.
func NewHandler(conn transport.Conn, cfg Config, dir *Directory, reg *registry.Registry, files *store.FileStore, log *zap.Logger) *Handler {
	return &Handler{
		conn:  conn,
		cfg:   cfg,
		dir:   dir,
		reg:   reg,
		files: files,
		log:   log.With(zap.String("remote", conn.RemoteAddr())),
		down:  make(chan struct{}),
	}
}

// Name returns the authenticated identity, empty before JOIN.
func (h *Handler) Name() string { return h.name }

// Key returns the per-connection symmetric key.
func (h *Handler) Key() crypto.Key { return h.key }

// Run drives the connection: handshake, JOIN, then the dispatch loop.
// It returns after teardown.
func (h *Handler) Run() {
	defer h.Teardown()

	if err := h.handshake(); err != nil {
		h.log.Error("handshake failed", zap.Error(err))
		return
	}
	if err := h.authenticate(); err != nil {
		h.log.Info("join rejected", zap.Error(err))
		return
	}

	h.log.Info("user connected")

	for {
		m, err := h.conn.ReadMessage()
		if err != nil {
			h.log.Info("read loop ended", zap.Error(err))
			return
		}
		h.dispatch(m)
	}
}

// handshake generates this connection's key and sends it to the peer before
// anything else. Any failure is fatal for the connection.
func (h *Handler) handshake() error {
	key, err := crypto.NewSessionKey()
	if err != nil {
		return err
	}
	h.key = key
	if err := h.conn.WriteMessage(model.System("", crypto.KeyToString(key))); err != nil {
		return fmt.Errorf("send session key: %w", err)
	}
	return nil
}

// authenticate enforces the JOIN-first rule and identity uniqueness.
func (h *Handler) authenticate() error {
	m, err := h.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read join: %w", err)
	}
	if m.Type != model.TypeJoin || m.Sender == "" {
		_ = h.conn.WriteMessage(model.System("", "expected JOIN with a username"))
		return fmt.Errorf("first message was %s, not JOIN", m.Type)
	}
	name := m.Sender
	// Identity and the named logger must be in place before Register makes the
	// handler visible: a concurrent teardown reads both.
	h.name = name
	h.log = h.log.With(zap.String("user", name))
	if err := h.dir.Register(name, h); err != nil {
		h.name = "" // never owned the identity; teardown must not unpair it
		_ = h.conn.WriteMessage(model.System(name,
			fmt.Sprintf("Username %q is already taken. Please try another username.", name)))
		return fmt.Errorf("register %q: %w", name, err)
	}
	if err := h.Send(model.System(name, "Welcome to Secure Chat!")); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	return nil
}

// dispatch routes one message by type. A panic while handling a single
// message is recovered and logged; it never unwinds past the read loop.
func (h *Handler) dispatch(m *model.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in dispatch",
				zap.Any("reason", r),
				zap.String("type", string(m.Type)),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	switch m.Type {
	case model.TypeConnectRequest:
		h.handleConnectRequest(m)
	case model.TypeConnectAccept:
		h.handleConnectAccept(m)
	case model.TypeConnectReject:
		h.handleConnectReject(m)
	case model.TypeDisconnectRequest:
		h.handleDisconnectRequest(m)
	case model.TypeText:
		h.handleText(m)
	case model.TypeFile:
		h.handleFile(m)
	case model.TypeClearChat:
		h.handleClearChat(m)
	case model.TypeClearLocalChat:
		h.handleClearLocalChat(m)
	case model.TypeDestroyChat:
		h.handleDestroyChat(m)
	case model.TypeSetTimer:
		h.handleSetTimer(m)
	case model.TypeTypingStart:
		h.handleTypingStart(m)
	case model.TypeTypingStop:
		h.handleTypingStop(m)
	case model.TypeDeliveryReceipt:
		h.handleDeliveryReceipt(m)
	case model.TypeReadReceipt:
		h.handleReadReceipt(m)
	case model.TypeHeartbeat:
		h.handleHeartbeat(m)
	default:
		h.log.Warn("dropping message of unknown or unhandled type", zap.String("type", string(m.Type)))
	}
}

// Send writes one message to this handler's connection. Safe to call from
// other handlers' goroutines. A write failure triggers this handler's own
// teardown, never the caller's.
func (h *Handler) Send(m *model.Message) error {
	select {
	case <-h.down:
		return errs.ErrClosed
	default:
	}
	if err := h.conn.WriteMessage(m); err != nil {
		h.log.Info("write failed, tearing down", zap.Error(err))
		go h.Teardown()
		return err
	}
	return nil
}

// Teardown releases everything the connection owns. Idempotent: reached
// naturally when the read loop exits, and directly via the destruction paths.
func (h *Handler) Teardown() {
	h.downOnce.Do(func() {
		close(h.down)

		if h.name != "" {
			h.reg.StopTyping(h.name)
			if partner, ok := h.reg.PartnerOf(h.name); ok {
				h.reg.Unpair(h.name)
				if ph, ok := h.dir.Get(partner); ok {
					_ = ph.Send(model.System(partner, h.name+" has left the chat."))
				}
			}
			h.dir.Remove(h.name, h)
			h.log.Info("user disconnected")
		}

		_ = h.conn.Close()
	})
}

// system replies to this connection's user with a relay notice.
func (h *Handler) system(content string) {
	_ = h.Send(model.System(h.name, content))
}
