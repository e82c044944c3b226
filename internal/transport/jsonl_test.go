package transport

import (
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudostealth/SecureChatApp/internal/model"
)

func TestJSONLRoundTrip(t *testing.T) {
	left, right := net.Pipe()
	a, b := NewJSONL(left), NewJSONL(right)
	defer a.Close()
	defer b.Close()

	sent := model.New("alice", "bob", "ciphertext-goes-here", model.TypeText)
	sent.Signature = []byte{0x01, 0x02, 0x03}
	sent.SignerPublicKey = "pubkey"

	errCh := make(chan error, 1)
	go func() { errCh <- a.WriteMessage(sent) }()

	got, err := b.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, sent.Sender, got.Sender)
	assert.Equal(t, sent.Receiver, got.Receiver)
	assert.Equal(t, sent.Type, got.Type)
	assert.Equal(t, sent.Content, got.Content)
	assert.Equal(t, sent.MessageID, got.MessageID)
	assert.Equal(t, sent.Signature, got.Signature)
}

func TestJSONLConcurrentWritersProduceIntactFrames(t *testing.T) {
	left, right := net.Pipe()
	a, b := NewJSONL(left), NewJSONL(right)
	defer a.Close()
	defer b.Close()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = a.WriteMessage(model.New("alice", "bob", "x", model.TypeText))
		}()
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		m, err := b.ReadMessage()
		require.NoError(t, err, "frame %d", i)
		assert.False(t, seen[m.MessageID], "duplicate or torn frame %s", m.MessageID)
		seen[m.MessageID] = true
	}
	wg.Wait()
}

func TestJSONLMalformedFrame(t *testing.T) {
	left, right := net.Pipe()
	b := NewJSONL(right)
	defer left.Close()
	defer b.Close()

	go func() {
		_, _ = left.Write([]byte("{not json\n"))
	}()

	_, err := b.ReadMessage()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "decode frame"))
}

func TestJSONLReadAfterClose(t *testing.T) {
	left, right := net.Pipe()
	a, b := NewJSONL(left), NewJSONL(right)

	require.NoError(t, a.Close())
	_, err := b.ReadMessage()
	require.Error(t, err)
}

func TestPipeConnPair(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()

	sent := model.New("alice", "bob", "hello", model.TypeText)
	require.NoError(t, client.WriteMessage(sent))

	got, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, sent.MessageID, got.MessageID)

	require.NoError(t, server.Close())
	_, err = client.ReadMessage()
	require.Error(t, err)

	// writes after close fail instead of blocking
	require.Error(t, server.WriteMessage(sent))
}
