package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sudostealth/SecureChatApp/internal/crypto"
	"github.com/sudostealth/SecureChatApp/internal/errs"
	"github.com/sudostealth/SecureChatApp/internal/model"
	"github.com/sudostealth/SecureChatApp/internal/registry"
)

// Pairing protocol: UNPAIRED -> REQUEST_SENT -> PAIRED -> UNPAIRED.

func (h *Handler) handleConnectRequest(m *model.Message) {
	requester, target := m.Sender, m.Receiver

	if partner, ok := h.reg.PartnerOf(requester); ok {
		h.system(fmt.Sprintf("You are already connected to %s. Disconnect first to connect to someone else.", partner))
		return
	}
	if h.reg.IsPaired(target) {
		h.system(fmt.Sprintf("%s is already in a chat with someone else.", target))
		return
	}

	th, ok := h.dir.Get(target)
	if !ok {
		h.system(fmt.Sprintf("%s is not online.", target))
		return
	}
	req := model.New(requester, target, fmt.Sprintf("%s wants to start a chat with you. Accept?", requester), model.TypeConnectRequest)
	if err := th.Send(req); err != nil {
		h.system(fmt.Sprintf("%s is not online.", target))
		return
	}
	h.system(fmt.Sprintf("Connection request sent to %s. Waiting for response...", target))
}

func (h *Handler) handleConnectAccept(m *model.Message) {
	accepter, requester := m.Sender, m.Receiver

	if !h.reg.Pair(accepter, requester) {
		h.log.Info("pairing rejected", zap.String("requester", requester), zap.Error(errs.ErrAlreadyPaired))
		h.system("Failed to establish connection. One of you may already be connected to someone else.")
		return
	}
	h.system(fmt.Sprintf("Connected to %s. You can now start chatting!", requester))
	if rh, ok := h.dir.Get(requester); ok {
		_ = rh.Send(model.System(requester, fmt.Sprintf("%s accepted your request. You can now start chatting!", accepter)))
	}
}

func (h *Handler) handleConnectReject(m *model.Message) {
	rejecter, requester := m.Sender, m.Receiver

	if rh, ok := h.dir.Get(requester); ok {
		_ = rh.Send(model.System(requester, fmt.Sprintf("%s declined your connection request.", rejecter)))
	}
	h.system(fmt.Sprintf("You declined the connection request from %s.", requester))
}

func (h *Handler) handleDisconnectRequest(m *model.Message) {
	user := m.Sender
	partner, ok := h.reg.PartnerOf(user)
	if !ok {
		h.system("You are not currently connected to anyone.")
		return
	}
	h.reg.Unpair(user)
	h.system(fmt.Sprintf("You have disconnected from %s.", partner))
	if ph, ok := h.dir.Get(partner); ok {
		_ = ph.Send(model.System(partner, fmt.Sprintf("%s has disconnected from the chat.", user)))
	}
}

// requirePartner enforces that sender may only relay to its current partner.
func (h *Handler) requirePartner(sender, receiver string) bool {
	partner, ok := h.reg.PartnerOf(sender)
	if !ok || partner != receiver {
		h.log.Info("relay refused", zap.String("receiver", receiver), zap.Error(errs.ErrNotPaired))
		h.system(fmt.Sprintf("You are not connected to %s. Send a connection request first.", receiver))
		return false
	}
	return true
}

func (h *Handler) handleText(m *model.Message) {
	if !h.requirePartner(m.Sender, m.Receiver) {
		return
	}

	plaintext, err := crypto.DecryptText(m.Content, h.key)
	if err != nil {
		h.log.Warn("undecryptable text payload", zap.Error(err))
		h.system("Your message could not be decrypted by the relay and was dropped.")
		return
	}

	if len(m.Signature) > 0 && m.SignerPublicKey != "" {
		if !crypto.Verify([]byte(plaintext), m.Signature, m.SignerPublicKey) {
			h.log.Warn("dropping message", zap.String("message_id", m.MessageID), zap.Error(errs.ErrBadSignature))
			h.system("Message signature verification failed. Message may have been tampered with; it was not delivered.")
			return
		}
	}

	// Log the plaintext-bearing copy; the envelope on the wire stays ciphertext.
	logged := *m
	logged.Content = plaintext
	sess := h.reg.GetOrCreateSession(m.Sender, m.Receiver)
	if !sess.Append(&logged) {
		h.log.Info("dropping message", zap.String("message_id", m.MessageID), zap.Error(errs.ErrSessionDestroyed))
		return
	}

	recipient, ok := h.dir.Get(m.Receiver)
	if !ok {
		h.log.Info("recipient has no live handler", zap.String("receiver", m.Receiver), zap.Error(errs.ErrPeerOffline))
		h.system(fmt.Sprintf("User %s is offline", m.Receiver))
		return
	}
	fwd := *m
	fwd.Content, err = crypto.EncryptText(plaintext, recipient.Key())
	if err != nil {
		h.log.Error("re-encrypt for recipient", zap.Error(err))
		h.system("Internal relay error; message not delivered.")
		return
	}
	fwd.DeliveryStatus = model.StatusDelivered
	if err := recipient.Send(&fwd); err != nil {
		h.system(fmt.Sprintf("User %s is offline", m.Receiver))
		return
	}

	receipt := model.Receipt(model.ServerSender, m.Sender, m.MessageID, model.TypeDeliveryReceipt, model.StatusDelivered)
	_ = h.Send(receipt)
}

func (h *Handler) handleFile(m *model.Message) {
	if !h.requirePartner(m.Sender, m.Receiver) {
		return
	}

	plain, err := crypto.Decrypt(m.FileData, h.key)
	if err != nil {
		h.log.Warn("undecryptable file payload", zap.Error(err))
		h.system("Your file could not be decrypted by the relay and was dropped.")
		return
	}

	if h.files != nil {
		if path, err := h.files.Save(m.Sender, m.FileName, plain); err != nil {
			h.log.Error("save relayed file", zap.Error(err))
		} else {
			h.log.Info("file stored", zap.String("path", path), zap.Int("bytes", len(plain)))
		}
	}

	logged := *m
	logged.FileData = nil // keep bytes out of the in-memory log
	sess := h.reg.GetOrCreateSession(m.Sender, m.Receiver)
	if !sess.Append(&logged) {
		return
	}

	recipient, ok := h.dir.Get(m.Receiver)
	if !ok {
		h.system(fmt.Sprintf("User %s is offline", m.Receiver))
		return
	}
	fwd := *m
	fwd.FileData, err = crypto.Encrypt(plain, recipient.Key())
	if err != nil {
		h.log.Error("re-encrypt file for recipient", zap.Error(err))
		h.system("Internal relay error; file not delivered.")
		return
	}
	fwd.DeliveryStatus = model.StatusDelivered
	if err := recipient.Send(&fwd); err != nil {
		h.system(fmt.Sprintf("User %s is offline", m.Receiver))
		return
	}
	_ = h.Send(model.Receipt(model.ServerSender, m.Sender, m.MessageID, model.TypeDeliveryReceipt, model.StatusDelivered))
}

func (h *Handler) handleClearChat(m *model.Message) {
	id := registry.SessionID(m.Sender, m.Receiver)
	h.reg.GetOrCreateSession(m.Sender, m.Receiver)
	if !h.reg.ClearSession(id) {
		return
	}
	h.system("Chat history cleared for both users")
	if other, ok := h.dir.Get(m.Receiver); ok {
		_ = other.Send(model.System(m.Receiver, fmt.Sprintf("Chat history cleared by %s", m.Sender)))
		_ = other.Send(model.New(model.ServerSender, m.Receiver, "", model.TypeClearLocalChat))
	}
}

func (h *Handler) handleClearLocalChat(m *model.Message) {
	// Affects only the requester's local view; no session mutation.
	h.system("Your local chat history cleared")
}

func (h *Handler) handleDestroyChat(m *model.Message) {
	id := registry.SessionID(m.Sender, m.Receiver)
	h.reg.GetOrCreateSession(m.Sender, m.Receiver)
	if !h.reg.DestroySession(id) {
		return
	}

	_ = h.Send(model.New(model.ServerSender, m.Sender, "", model.TypeDestroyChat))
	other, ok := h.dir.Get(m.Receiver)
	if ok {
		_ = other.Send(model.New(model.ServerSender, m.Receiver, "", model.TypeDestroyChat))
	}

	// Let the directives reach the transport before the sockets close.
	time.AfterFunc(h.cfg.DestroyGrace, func() {
		h.Teardown()
		if ok {
			other.Teardown()
		}
	})
}

func (h *Handler) handleSetTimer(m *model.Message) {
	sender, receiver := m.Sender, m.Receiver

	seconds := m.TimerSeconds
	if seconds <= 0 {
		h.system("Timer duration must be positive.")
		return
	}

	id := registry.SessionID(sender, receiver)
	h.reg.GetOrCreateSession(sender, receiver)

	notice := fmt.Sprintf("Destruction timer set: %s. Chat will auto-destroy!", formatDuration(seconds))
	h.system(notice)
	if other, ok := h.dir.Get(receiver); ok {
		_ = other.Send(model.System(receiver, fmt.Sprintf("%s (set by %s)", notice, sender)))
	}

	h.reg.StartCountdown(id, seconds,
		func(remaining int64) bool { return h.pushTimerUpdate(sender, receiver, remaining) },
		func() { h.expireTimer(id, sender, receiver) },
	)
}

// pushTimerUpdate sends one tick to both participants. Returning false
// cancels the countdown when either handler has vanished.
func (h *Handler) pushTimerUpdate(a, b string, remaining int64) bool {
	ha, okA := h.dir.Get(a)
	hb, okB := h.dir.Get(b)
	if !okA || !okB {
		return false
	}
	for _, pair := range []struct {
		to string
		hl *Handler
	}{{a, ha}, {b, hb}} {
		u := model.New(model.ServerSender, pair.to, "", model.TypeTimerUpdate)
		u.TimerSeconds = remaining
		_ = pair.hl.Send(u)
	}
	return true
}

func (h *Handler) expireTimer(id, a, b string) {
	ha, okA := h.dir.Get(a)
	hb, okB := h.dir.Get(b)
	if okA {
		_ = ha.Send(model.New(model.ServerSender, a, "", model.TypeTimerExpired))
	}
	if okB {
		_ = hb.Send(model.New(model.ServerSender, b, "", model.TypeTimerExpired))
	}

	h.reg.DestroySession(id)

	time.AfterFunc(h.cfg.DestroyGrace, func() {
		if okA {
			ha.Teardown()
		}
		if okB {
			hb.Teardown()
		}
	})
}

func (h *Handler) handleTypingStart(m *model.Message) {
	sender, receiver := m.Sender, m.Receiver

	h.reg.TouchTyping(sender, h.cfg.TypingWindow, func() {
		// no refresh within the window: implicit stop
		if rh, ok := h.dir.Get(receiver); ok {
			_ = rh.Send(model.New(sender, receiver, "", model.TypeTypingStop))
		}
	})

	if rh, ok := h.dir.Get(receiver); ok {
		fwd := model.New(sender, receiver, fmt.Sprintf("%s is typing...", sender), model.TypeTypingStart)
		_ = rh.Send(fwd)
	}
}

func (h *Handler) handleTypingStop(m *model.Message) {
	h.reg.StopTyping(m.Sender)
	if rh, ok := h.dir.Get(m.Receiver); ok {
		_ = rh.Send(model.New(m.Sender, m.Receiver, "", model.TypeTypingStop))
	}
}

func (h *Handler) handleDeliveryReceipt(m *model.Message) {
	// Client-side acknowledgment; liveness logging only.
	h.log.Info("delivery receipt", zap.String("message_id", m.MessageID), zap.String("from", m.Sender))
}

func (h *Handler) handleReadReceipt(m *model.Message) {
	// Receiver tells the original sender a message was read.
	if oh, ok := h.dir.Get(m.Receiver); ok {
		_ = oh.Send(model.Receipt(m.Sender, m.Receiver, m.MessageID, model.TypeReadReceipt, model.StatusRead))
	}
	h.log.Info("read receipt", zap.String("message_id", m.MessageID), zap.String("from", m.Sender))
}

func (h *Handler) handleHeartbeat(m *model.Message) {
	_ = h.Send(model.New(model.ServerSender, m.Sender, "HEARTBEAT_ACK", model.TypeHeartbeat))
}

func formatDuration(seconds int64) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
