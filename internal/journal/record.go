package journal

import (
	"encoding/json"
	"time"
)

// EventRecord is one render event as received on the push channel.
type EventRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Channel    string    `gorm:"size:64;not null;index" json:"channel"`
	RenderID   int       `gorm:"index" json:"renderID"`
	Payload    string    `gorm:"type:text" json:"payload"`
	ReceivedAt time.Time `gorm:"not null;index" json:"receivedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName overrides the default table name
func (EventRecord) TableName() string {
	return "ordr_events"
}

// RawPayload returns the stored payload as JSON.
func (r EventRecord) RawPayload() json.RawMessage {
	return json.RawMessage(r.Payload)
}
