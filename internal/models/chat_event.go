package models

import (
	"time"
)

// Event types appended to the per-tenant log
const (
	EventMessageCreated  = "message.created"
	EventMessageUpdated  = "message.updated"
	EventMessageDeleted  = "message.deleted"
	EventMessageReaction = "message.reaction"
	EventChatUpdated     = "chat.updated"
	EventChatRead        = "chat.read"
	EventChatDeleted     = "chat.deleted"
	EventMediaUpdated    = "media.updated"
	EventInstanceStatus  = "instance.status"
)

// ChatEvent is one entry of the per-tenant event log. Seq increases by one
// per tenant, so pollers ask for "everything after N".
type ChatEvent struct {
	ID         uint                   `json:"-" gorm:"primaryKey;autoIncrement"`
	ClienteID  uint                   `json:"cliente_id" gorm:"not null;uniqueIndex:ux_chat_events_cliente_seq,priority:1"`
	Seq        int64                  `json:"seq" gorm:"not null;uniqueIndex:ux_chat_events_cliente_seq,priority:2"`
	Tipo       string                 `json:"tipo" gorm:"size:40;not null"`
	ChatID     *uint                  `json:"chat_id" gorm:"index"`
	MensagemID *uint                  `json:"mensagem_id"`
	Payload    map[string]interface{} `json:"payload" gorm:"serializer:json;type:text"`
	CreatedAt  time.Time              `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for ChatEvent
func (ChatEvent) TableName() string {
	return "chat_events"
}
