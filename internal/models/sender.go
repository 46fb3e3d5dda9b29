package models

import (
	"time"
)

// Sender is a denormalized contact profile keyed by (cliente_id, sender_id)
type Sender struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ClienteID    uint      `json:"cliente_id" gorm:"not null;uniqueIndex:ux_senders_cliente_sender,priority:1"`
	SenderID     string    `json:"sender_id" gorm:"size:100;not null;uniqueIndex:ux_senders_cliente_sender,priority:2"`
	PushName     string    `json:"push_name" gorm:"size:150"`
	VerifiedName string    `json:"verified_name" gorm:"size:150"`
	FotoPerfil   string    `json:"foto_perfil" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Sender
func (Sender) TableName() string {
	return "senders"
}
