package server

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sudostealth/SecureChatApp/internal/crypto"
	"github.com/sudostealth/SecureChatApp/internal/model"
	"github.com/sudostealth/SecureChatApp/internal/registry"
)

// --- pairing protocol ---

func TestConnectRequestToOfflineUser(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")

	a.send(model.New("alice", "ghost", "", model.TypeConnectRequest))
	reply := a.readType(model.TypeSystem)
	if !strings.Contains(reply.Content, "not online") {
		t.Fatalf("expected offline notice, got %q", reply.Content)
	}
}

func TestConnectRequestWhileAlreadyPaired(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	c := join(t, srv, "carol")
	pair(t, a, b)

	a.send(model.New("alice", "carol", "", model.TypeConnectRequest))
	reply := a.readType(model.TypeSystem)
	if !strings.Contains(reply.Content, "already connected") {
		t.Fatalf("expected already-connected error, got %q", reply.Content)
	}
	c.expectNone(50 * time.Millisecond)
}

func TestConnectRequestToPairedTarget(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	c := join(t, srv, "carol")
	pair(t, a, b)

	c.send(model.New("carol", "bob", "", model.TypeConnectRequest))
	reply := c.readType(model.TypeSystem)
	if !strings.Contains(reply.Content, "already in a chat") {
		t.Fatalf("expected busy-target error, got %q", reply.Content)
	}
}

func TestConnectAcceptRaceLoser(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	c := join(t, srv, "carol")

	// bob accepts alice first; carol's accept of alice must lose
	b.send(model.New("bob", "alice", "", model.TypeConnectAccept))
	b.readType(model.TypeSystem)
	a.readType(model.TypeSystem)

	c.send(model.New("carol", "alice", "", model.TypeConnectAccept))
	loser := c.readType(model.TypeSystem)
	if !strings.Contains(loser.Content, "Failed to establish connection") {
		t.Fatalf("expected race-loss error, got %q", loser.Content)
	}
	if p, _ := reg.PartnerOf("alice"); p != "bob" {
		t.Fatalf("alice paired with %q, want bob", p)
	}
	if reg.IsPaired("carol") {
		t.Fatal("losing accepter must stay unpaired")
	}
}

func TestConnectReject(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")

	a.send(model.New("alice", "bob", "", model.TypeConnectRequest))
	b.readType(model.TypeConnectRequest)
	a.readType(model.TypeSystem)

	b.send(model.New("bob", "alice", "", model.TypeConnectReject))
	declined := a.readType(model.TypeSystem)
	if !strings.Contains(declined.Content, "declined") {
		t.Fatalf("expected decline notice, got %q", declined.Content)
	}
	confirm := b.readType(model.TypeSystem)
	if !strings.Contains(confirm.Content, "declined") {
		t.Fatalf("expected decline confirmation, got %q", confirm.Content)
	}
	if reg.IsPaired("alice") || reg.IsPaired("bob") {
		t.Fatal("reject must not change pairing state")
	}
}

func TestDisconnectRequest(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	a.send(model.New("alice", "", "", model.TypeDisconnectRequest))
	mine := a.readType(model.TypeSystem)
	if !strings.Contains(mine.Content, "disconnected from bob") {
		t.Fatalf("unexpected notice %q", mine.Content)
	}
	theirs := b.readType(model.TypeSystem)
	if !strings.Contains(theirs.Content, "disconnected") {
		t.Fatalf("unexpected notice %q", theirs.Content)
	}
	if reg.IsPaired("alice") || reg.IsPaired("bob") {
		t.Fatal("still paired after disconnect")
	}

	a.send(model.New("alice", "", "", model.TypeDisconnectRequest))
	again := a.readType(model.TypeSystem)
	if !strings.Contains(again.Content, "not currently connected") {
		t.Fatalf("expected not-connected error, got %q", again.Content)
	}
}

// --- relay ---

func TestTextRelayFidelity(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	sent := a.sendText("bob", "hello", true)

	got := b.readType(model.TypeText)
	text, err := crypto.DecryptText(got.Content, b.key)
	if err != nil {
		t.Fatalf("recipient cannot decrypt: %v", err)
	}
	if text != "hello" {
		t.Fatalf("relayed text = %q, want hello", text)
	}
	if got.DeliveryStatus != model.StatusDelivered {
		t.Fatalf("delivery status = %s, want DELIVERED", got.DeliveryStatus)
	}
	if got.Content == sent.Content {
		t.Fatal("relay must re-encrypt, not forward the sender's ciphertext")
	}

	receipt := a.readType(model.TypeDeliveryReceipt)
	if receipt.MessageID != sent.MessageID {
		t.Fatalf("receipt references %q, want %q", receipt.MessageID, sent.MessageID)
	}

	sess, ok := reg.Session(registry.SessionID("alice", "bob"))
	if !ok {
		t.Fatal("no session after relay")
	}
	msgs := sess.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("session log = %+v, want one plaintext entry", msgs)
	}
}

func TestTextToUnpairedReceiverRejected(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")

	a.sendText("bob", "hello", false)
	reply := a.readType(model.TypeSystem)
	if !strings.Contains(reply.Content, "not connected") {
		t.Fatalf("expected not-connected error, got %q", reply.Content)
	}
	b.expectNone(50 * time.Millisecond)
}

func TestUnsignedTextRelayed(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	a.sendText("bob", "no signature here", false)
	got := b.readType(model.TypeText)
	text, err := crypto.DecryptText(got.Content, b.key)
	if err != nil || text != "no signature here" {
		t.Fatalf("unsigned relay failed: %q, %v", text, err)
	}
}

func TestTamperedSignatureRejected(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	ct, err := crypto.EncryptText("transfer $100", a.key)
	if err != nil {
		t.Fatal(err)
	}
	m := model.New("alice", "bob", ct, model.TypeText)
	m.Signature = crypto.Sign([]byte("transfer $999"), a.signPriv) // signature over different content
	m.SignerPublicKey = a.signPub
	a.send(m)

	warning := a.readType(model.TypeSystem)
	if !strings.Contains(warning.Content, "signature verification failed") {
		t.Fatalf("expected tamper warning, got %q", warning.Content)
	}
	b.expectNone(50 * time.Millisecond)
}

func TestTextToOfflinePartner(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	// keep the pairing but drop bob from the directory, as if his writer died
	h, _ := srv.Directory().Get("bob")
	srv.Directory().Remove("bob", h)
	if !reg.IsPaired("alice") {
		t.Fatal("setup: pairing should survive directory removal")
	}

	a.sendText("bob", "anyone there?", false)
	reply := a.readType(model.TypeSystem)
	if !strings.Contains(reply.Content, "offline") {
		t.Fatalf("expected offline notice, got %q", reply.Content)
	}
	b.expectNone(50 * time.Millisecond)
}

func TestFileRelay(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	payload := []byte("\x00\x01binary file contents\xff")
	ct, err := crypto.Encrypt(payload, a.key)
	if err != nil {
		t.Fatal(err)
	}
	m := model.New("alice", "bob", "", model.TypeFile)
	m.FileName = "notes.txt"
	m.FileData = ct
	m.FileSize = int64(len(payload))
	a.send(m)

	got := b.readType(model.TypeFile)
	plain, err := crypto.Decrypt(got.FileData, b.key)
	if err != nil {
		t.Fatalf("recipient cannot decrypt file: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Fatal("file bytes corrupted in relay")
	}
	if got.FileName != "notes.txt" || got.FileSize != int64(len(payload)) {
		t.Fatalf("file metadata lost: %+v", got)
	}

	receipt := a.readType(model.TypeDeliveryReceipt)
	if receipt.MessageID != m.MessageID {
		t.Fatalf("file receipt references %q, want %q", receipt.MessageID, m.MessageID)
	}
}

// --- clearing and destruction ---

func TestClearChat(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	a.sendText("bob", "to be erased", false)
	b.readType(model.TypeText)
	a.readType(model.TypeDeliveryReceipt)

	a.send(model.New("alice", "bob", "", model.TypeClearChat))
	mine := a.readType(model.TypeSystem)
	if !strings.Contains(mine.Content, "cleared") {
		t.Fatalf("unexpected notice %q", mine.Content)
	}
	theirs := b.readType(model.TypeSystem)
	if !strings.Contains(theirs.Content, "cleared") {
		t.Fatalf("unexpected notice %q", theirs.Content)
	}
	b.readType(model.TypeClearLocalChat)

	sess, ok := reg.Session(registry.SessionID("alice", "bob"))
	if !ok {
		t.Fatal("clear must keep the session alive")
	}
	if len(sess.Messages()) != 0 {
		t.Fatal("session log not emptied")
	}
}

func TestClearLocalChatAckOnly(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	a.sendText("bob", "keep me", false)
	b.readType(model.TypeText)
	a.readType(model.TypeDeliveryReceipt)

	a.send(model.New("alice", "", "", model.TypeClearLocalChat))
	a.readType(model.TypeSystem)

	sess, _ := reg.Session(registry.SessionID("alice", "bob"))
	if len(sess.Messages()) != 1 {
		t.Fatal("local clear must not touch the shared log")
	}
	b.expectNone(50 * time.Millisecond)
}

func TestDestroyChat(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	a.send(model.New("alice", "bob", "", model.TypeDestroyChat))
	a.readType(model.TypeDestroyChat)
	b.readType(model.TypeDestroyChat)

	a.expectClosed()
	b.expectClosed()

	if _, ok := reg.Session(registry.SessionID("alice", "bob")); ok {
		t.Fatal("session survived destroy")
	}
	if reg.DestroySession(registry.SessionID("alice", "bob")) {
		t.Fatal("second destroy must be a no-op")
	}
}

// --- countdown ---

func TestCountdownTermination(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	m := model.New("alice", "bob", "", model.TypeSetTimer)
	m.TimerSeconds = 2
	a.send(m)

	notice := a.readType(model.TypeSystem)
	if !strings.Contains(notice.Content, "00:02") {
		t.Fatalf("expected formatted duration in notice, got %q", notice.Content)
	}
	b.readType(model.TypeSystem)

	for _, want := range []int64{2, 1} {
		ua := a.readType(model.TypeTimerUpdate)
		if ua.TimerSeconds != want {
			t.Fatalf("tick = %d, want %d", ua.TimerSeconds, want)
		}
		ub := b.readType(model.TypeTimerUpdate)
		if ub.TimerSeconds != want {
			t.Fatalf("partner tick = %d, want %d", ub.TimerSeconds, want)
		}
	}

	a.readType(model.TypeTimerExpired)
	b.readType(model.TypeTimerExpired)

	a.expectClosed()
	b.expectClosed()

	if _, ok := reg.Session(registry.SessionID("alice", "bob")); ok {
		t.Fatal("session survived countdown expiry")
	}
}

func TestSetTimerRejectsNonPositiveDuration(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")

	m := model.New("alice", "bob", "", model.TypeSetTimer)
	m.TimerSeconds = 0
	a.send(m)

	reply := a.readType(model.TypeSystem)
	if !strings.Contains(reply.Content, "must be positive") {
		t.Fatalf("expected validation error, got %q", reply.Content)
	}
	if _, ok := reg.Session(registry.SessionID("alice", "bob")); ok {
		t.Fatal("rejected timer must not create a session")
	}
}

func TestCountdownCancelledWhenPartnerVanishes(t *testing.T) {
	srv, reg := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	m := model.New("alice", "bob", "", model.TypeSetTimer)
	m.TimerSeconds = 1000
	a.send(m)
	a.readType(model.TypeSystem)
	b.readType(model.TypeSystem)
	a.readType(model.TypeTimerUpdate)

	_ = b.conn.Close()
	a.readType(model.TypeSystem) // bob left; session destroyed with the pairing

	// no expiry teardown may fire later
	time.Sleep(100 * time.Millisecond)
	if _, ok := srv.Directory().Get("alice"); !ok {
		t.Fatal("alice must survive a cancelled countdown")
	}
	if reg.IsPaired("alice") {
		t.Fatal("alice still paired")
	}
}

// --- typing & receipts ---

func TestTypingForwardedAndAutoExpires(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	a.send(model.New("alice", "bob", "", model.TypeTypingStart))
	start := b.readType(model.TypeTypingStart)
	if start.Sender != "alice" {
		t.Fatalf("typing start from %q, want alice", start.Sender)
	}

	stop := b.readType(model.TypeTypingStop)
	if stop.Sender != "alice" {
		t.Fatalf("implicit stop from %q, want alice", stop.Sender)
	}
}

func TestTypingRefreshSuppressesImplicitStop(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	// window is 80ms; refresh at 40ms pushes expiry past 120ms
	a.send(model.New("alice", "bob", "", model.TypeTypingStart))
	b.readType(model.TypeTypingStart)
	time.Sleep(40 * time.Millisecond)
	a.send(model.New("alice", "bob", "", model.TypeTypingStart))
	b.readType(model.TypeTypingStart)

	b.expectNone(30 * time.Millisecond) // first window would have elapsed here
	b.readType(model.TypeTypingStop)    // single stop, after the refreshed window
	b.expectNone(150 * time.Millisecond)
}

func TestExplicitTypingStopForwarded(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	a.send(model.New("alice", "bob", "", model.TypeTypingStart))
	b.readType(model.TypeTypingStart)
	a.send(model.New("alice", "bob", "", model.TypeTypingStop))
	b.readType(model.TypeTypingStop)

	// the armed expiry check was cancelled; no second stop
	b.expectNone(150 * time.Millisecond)
}

func TestReadReceiptRelayedToOriginalSender(t *testing.T) {
	srv, _ := newRelay(t)
	a := join(t, srv, "alice")
	b := join(t, srv, "bob")
	pair(t, a, b)

	sent := a.sendText("bob", "read me", false)
	b.readType(model.TypeText)
	a.readType(model.TypeDeliveryReceipt)

	b.send(model.Receipt("bob", "alice", sent.MessageID, model.TypeReadReceipt, model.StatusRead))
	rr := a.readType(model.TypeReadReceipt)
	if rr.MessageID != sent.MessageID {
		t.Fatalf("read receipt references %q, want %q", rr.MessageID, sent.MessageID)
	}
	if rr.Sender != "bob" {
		t.Fatalf("read receipt from %q, want bob", rr.Sender)
	}
}
