package models

import (
	"time"
)

// Outcome of processing a webhook delivery
const (
	WebhookCreated   = "created"
	WebhookDuplicate = "duplicate"
	WebhookUpdated   = "updated"
	WebhookIgnored   = "ignored"
	WebhookError     = "error"
)

// WebhookEvent is the insert-only log of inbound vendor callbacks
type WebhookEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ClienteID  *uint     `json:"cliente_id" gorm:"index"`
	InstanceID string    `json:"instance_id" gorm:"size:100;index"`
	Event      string    `json:"event" gorm:"size:60"`
	MessageID  string    `json:"message_id" gorm:"size:150;index"`
	ChatID     string    `json:"chat_id" gorm:"size:100"`
	SenderID   string    `json:"sender_id" gorm:"size:100"`
	FromMe     bool      `json:"from_me"`
	Tipo       string    `json:"tipo" gorm:"size:20"`
	Status     string    `json:"status" gorm:"size:20;index"`
	Motivo     string    `json:"motivo" gorm:"size:255"`
	Payload    string    `json:"payload" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for WebhookEvent
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
