package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType is the kind of a relay frame.
type MessageType string

const (
	MessageTypeEvent       MessageType = "event"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeAck         MessageType = "ack"
	MessageTypeError       MessageType = "error"
)

// Message is one JSON frame exchanged with relay subscribers. Event frames
// carry the o!rdr channel name and the payload as received.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Event     string          `json:"event,omitempty"`
	RenderID  int             `json:"renderID,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEventMessage wraps a render event for subscribers.
func NewEventMessage(channel string, payload json.RawMessage) *Message {
	var ids struct {
		RenderID int `json:"renderID"`
	}
	_ = json.Unmarshal(payload, &ids)

	return &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeEvent,
		Event:     channel,
		RenderID:  ids.RenderID,
		Data:      payload,
		Timestamp: time.Now(),
	}
}

func newControlMessage(msgType MessageType, data any) *Message {
	msg := &Message{Type: msgType, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			msg.Data = raw
		}
	}
	return msg
}
