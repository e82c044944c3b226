// Command chat-client is a terminal client for the secure chat relay.
package main

import (
	"bufio"
	"crypto/ed25519"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sudostealth/SecureChatApp/internal/crypto"
	"github.com/sudostealth/SecureChatApp/internal/model"
	"github.com/sudostealth/SecureChatApp/internal/store"
	"github.com/sudostealth/SecureChatApp/internal/transport"
)

const heartbeatPeriod = 30 * time.Second

func usage() {
	fmt.Println(`commands:
  /connect <user>     request a chat with <user>
  /accept <user>      accept a pending request from <user>
  /reject <user>      decline a pending request from <user>
  /disconnect         leave the current chat
  /msg <user> <text>  send an encrypted, signed message
  /file <user> <path> send an encrypted file
  /timer <user> <sec> start the destruction countdown
  /clear <user>       clear chat history for both sides
  /clearlocal         clear only the local view
  /destroy <user>     destroy the chat and exit both clients
  /quit               exit`)
}

type client struct {
	name string
	conn transport.Conn
	key  crypto.Key

	signPriv ed25519.PrivateKey
	signPub  string

	files *store.FileStore
	log   *zap.Logger
	done  chan struct{}
}

func main() {
	addr := flag.String("addr", "localhost:12345", "relay address")
	name := flag.String("name", "", "username (required)")
	fileDir := flag.String("file-dir", "downloads", "directory for received files")
	flag.Parse()
	if *name == "" {
		fmt.Fprintln(os.Stderr, "missing -name")
		os.Exit(2)
	}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	nc, err := net.Dial("tcp", *addr)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	conn := transport.NewJSONL(nc)

	pub, priv, err := crypto.GenerateSigningKey()
	if err != nil {
		logger.Fatal("signing key", zap.Error(err))
	}

	files, err := store.NewFileStore(*fileDir)
	if err != nil {
		logger.Fatal("file store", zap.Error(err))
	}

	c := &client{
		name:     *name,
		conn:     conn,
		signPriv: priv,
		signPub:  crypto.PublicKeyToString(pub),
		files:    files,
		log:      logger,
		done:     make(chan struct{}),
	}

	if err := c.handshake(); err != nil {
		logger.Fatal("handshake", zap.Error(err))
	}

	go c.readLoop()
	go c.heartbeatLoop()

	fmt.Printf("joined as %s. Type /help for commands.\n", *name)
	c.inputLoop()
}

// handshake receives the per-connection key and performs JOIN.
func (c *client) handshake() error {
	m, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("receive session key: %w", err)
	}
	if m.Type != model.TypeSystem {
		return fmt.Errorf("expected session key, got %s", m.Type)
	}
	key, err := crypto.KeyFromString(m.Content)
	if err != nil {
		return err
	}
	c.key = key

	if err := c.conn.WriteMessage(model.New(c.name, "", "", model.TypeJoin)); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	return nil
}

func (c *client) readLoop() {
	defer close(c.done)
	for {
		m, err := c.conn.ReadMessage()
		if err != nil {
			fmt.Println("connection closed")
			return
		}
		c.render(m)
	}
}

func (c *client) render(m *model.Message) {
	switch m.Type {
	case model.TypeSystem:
		fmt.Printf("* %s\n", m.Content)
	case model.TypeText:
		text, err := crypto.DecryptText(m.Content, c.key)
		if err != nil {
			fmt.Println("* received undecryptable message")
			return
		}
		fmt.Printf("<%s> %s\n", m.Sender, text)
		// tell the sender we've seen it
		_ = c.conn.WriteMessage(model.Receipt(c.name, m.Sender, m.MessageID, model.TypeReadReceipt, model.StatusRead))
	case model.TypeFile:
		data, err := crypto.Decrypt(m.FileData, c.key)
		if err != nil {
			fmt.Println("* received undecryptable file")
			return
		}
		path, err := c.files.Save(m.Sender, m.FileName, data)
		if err != nil {
			fmt.Printf("* could not save %s: %v\n", m.FileName, err)
			return
		}
		fmt.Printf("* received file %s from %s -> %s\n", m.FileName, m.Sender, path)
	case model.TypeConnectRequest:
		fmt.Printf("* %s (reply with /accept %s or /reject %s)\n", m.Content, m.Sender, m.Sender)
	case model.TypeTypingStart:
		fmt.Printf("* %s is typing...\n", m.Sender)
	case model.TypeTypingStop:
		fmt.Printf("* %s stopped typing\n", m.Sender)
	case model.TypeDeliveryReceipt:
		fmt.Printf("* delivered (id %s)\n", m.MessageID)
	case model.TypeReadReceipt:
		fmt.Printf("* read by %s (id %s)\n", m.Sender, m.MessageID)
	case model.TypeTimerUpdate:
		// escalate only at the significant marks
		r := m.TimerSeconds
		if r == 60 || r == 30 || r <= 10 {
			fmt.Printf("* chat self-destructs in %02d:%02d\n", r/60, r%60)
		}
	case model.TypeTimerExpired:
		fmt.Println("* destruction timer expired, goodbye")
	case model.TypeDestroyChat:
		fmt.Println("* chat destroyed, exiting")
		_ = c.conn.Close()
		os.Exit(0)
	case model.TypeClearLocalChat:
		fmt.Print("\033[2J\033[H") // clear terminal
	case model.TypeHeartbeat:
		// liveness ack, nothing to show
	default:
		c.log.Debug("unhandled message", zap.String("type", string(m.Type)))
	}
}

func (c *client) heartbeatLoop() {
	t := time.NewTicker(heartbeatPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			_ = c.conn.WriteMessage(model.New(c.name, "", "", model.TypeHeartbeat))
		}
	}
}

func (c *client) inputLoop() {
	sc := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		if !sc.Scan() {
			_ = c.conn.Close()
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := c.command(line); err != nil {
			fmt.Printf("* %v\n", err)
		}
	}
}

func (c *client) command(line string) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := func(i int) string {
		if len(fields) > i {
			return fields[i]
		}
		return ""
	}

	switch cmd {
	case "/help":
		usage()
	case "/quit":
		_ = c.conn.Close()
		os.Exit(0)
	case "/connect":
		return c.send(model.New(c.name, arg(1), "", model.TypeConnectRequest))
	case "/accept":
		return c.send(model.New(c.name, arg(1), "", model.TypeConnectAccept))
	case "/reject":
		return c.send(model.New(c.name, arg(1), "", model.TypeConnectReject))
	case "/disconnect":
		return c.send(model.New(c.name, "", "", model.TypeDisconnectRequest))
	case "/msg":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /msg <user> <text>")
		}
		return c.sendText(arg(1), strings.Join(fields[2:], " "))
	case "/file":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /file <user> <path>")
		}
		return c.sendFile(arg(1), arg(2))
	case "/timer":
		secs, err := strconv.ParseInt(arg(2), 10, 64)
		if err != nil || arg(1) == "" {
			return fmt.Errorf("usage: /timer <user> <seconds>")
		}
		m := model.New(c.name, arg(1), "", model.TypeSetTimer)
		m.TimerSeconds = secs
		return c.send(m)
	case "/clear":
		return c.send(model.New(c.name, arg(1), "", model.TypeClearChat))
	case "/clearlocal":
		return c.send(model.New(c.name, "", "", model.TypeClearLocalChat))
	case "/destroy":
		return c.send(model.New(c.name, arg(1), "", model.TypeDestroyChat))
	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return nil
}

// sendText encrypts with the connection key and signs the plaintext.
func (c *client) sendText(to, text string) error {
	ct, err := crypto.EncryptText(text, c.key)
	if err != nil {
		return err
	}
	m := model.New(c.name, to, ct, model.TypeText)
	m.Signature = crypto.Sign([]byte(text), c.signPriv)
	m.SignerPublicKey = c.signPub
	return c.send(m)
}

func (c *client) sendFile(to, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ct, err := crypto.Encrypt(data, c.key)
	if err != nil {
		return err
	}
	m := model.New(c.name, to, "", model.TypeFile)
	m.FileName = filepath.Base(path) // local directory layout stays private
	m.FileData = ct
	m.FileSize = int64(len(data))
	return c.send(m)
}

func (c *client) send(m *model.Message) error {
	if m.Type != model.TypeDisconnectRequest && m.Type != model.TypeClearLocalChat &&
		m.Type != model.TypeHeartbeat && m.Receiver == "" && m.Type != model.TypeJoin {
		return fmt.Errorf("missing user argument")
	}
	return c.conn.WriteMessage(m)
}
