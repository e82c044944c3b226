// Package model defines the wire message envelope exchanged between clients and the relay.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Type discriminates message envelopes. Dispatch is a pure function of Type.
type Type string

// Closed set of message types understood by the relay.
const (
	TypeText              Type = "TEXT"
	TypeFile              Type = "FILE"
	TypeJoin              Type = "JOIN"
	TypeLeave             Type = "LEAVE"
	TypeClearChat         Type = "CLEAR_CHAT"
	TypeClearLocalChat    Type = "CLEAR_LOCAL_CHAT"
	TypeDestroyChat       Type = "DESTROY_CHAT"
	TypeSetTimer          Type = "SET_TIMER"
	TypeTimerUpdate       Type = "TIMER_UPDATE"
	TypeTimerExpired      Type = "TIMER_EXPIRED"
	TypeConnectRequest    Type = "CONNECT_REQUEST"
	TypeConnectAccept     Type = "CONNECT_ACCEPT"
	TypeConnectReject     Type = "CONNECT_REJECT"
	TypeDisconnectRequest Type = "DISCONNECT_REQUEST"
	TypeSystem            Type = "SYSTEM"
	TypeHeartbeat         Type = "HEARTBEAT"
	TypeTypingStart       Type = "TYPING_START"
	TypeTypingStop        Type = "TYPING_STOP"
	TypeDeliveryReceipt   Type = "DELIVERY_RECEIPT"
	TypeReadReceipt       Type = "READ_RECEIPT"
)

// DeliveryStatus tracks how far a relayed message got.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "SENT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusRead      DeliveryStatus = "READ"
)

// ServerSender is the identity the relay uses on messages it originates.
const ServerSender = "SERVER"

// Message is the wire unit. Content carries ciphertext for TEXT, FileData
// carries ciphertext for FILE. MessageID is assigned once at construction and
// is the join key for delivery/read receipts.
type Message struct {
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver,omitempty"`
	Type      Type      `json:"type"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`

	FileName string `json:"file_name,omitempty"`
	FileData []byte `json:"file_data,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`

	TimerSeconds int64 `json:"timer_seconds,omitempty"`

	Signature       []byte `json:"signature,omitempty"`
	SignerPublicKey string `json:"signer_public_key,omitempty"`

	DeliveryStatus DeliveryStatus `json:"delivery_status,omitempty"`
}

// New constructs a message with a fresh MessageID and timestamp.
func New(sender, receiver, content string, t Type) *Message {
	return &Message{
		Sender:         sender,
		Receiver:       receiver,
		Type:           t,
		Content:        content,
		Timestamp:      time.Now(),
		MessageID:      newMessageID(),
		DeliveryStatus: StatusSent,
	}
}

// System builds a relay-originated notice for one user.
func System(receiver, content string) *Message {
	return New(ServerSender, receiver, content, TypeSystem)
}

// Receipt builds a delivery or read receipt referencing an earlier message.
// Its MessageID is the referenced message's id, the join key for receipts.
func Receipt(sender, receiver, messageID string, t Type, status DeliveryStatus) *Message {
	return &Message{
		Sender:         sender,
		Receiver:       receiver,
		Type:           t,
		Timestamp:      time.Now(),
		MessageID:      messageID,
		DeliveryStatus: status,
	}
}

// newMessageID returns a time-ordered unique id. Uniqueness matters more than
// unguessability here; the uuid suffix carries the uniqueness.
func newMessageID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// rand failure; fall back to time only rather than abort message construction
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), id.String()[:8])
}

func (m *Message) String() string {
	return fmt.Sprintf("[%s] %s -> %s (%s)", m.Timestamp.Format(time.RFC3339), m.Sender, m.Receiver, m.Type)
}
