// Package transport frames Message envelopes over persistent bidirectional
// streams. Two framings are provided: newline-delimited JSON over a raw
// net.Conn and one-JSON-document-per-frame over a websocket.
package transport

import "github.com/sudostealth/SecureChatApp/internal/model"

// Conn is a framed message stream. WriteMessage must be safe to call from
// multiple goroutines; ReadMessage is called from a single reader.
type Conn interface {
	ReadMessage() (*model.Message, error)
	WriteMessage(*model.Message) error
	Close() error
	RemoteAddr() string
}
