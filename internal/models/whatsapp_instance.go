package models

import (
	"time"
)

const (
	InstanceConnected    = "connected"
	InstanceDisconnected = "disconnected"
)

// WhatsappInstance is one vendor credential pair bound to a Cliente
type WhatsappInstance struct {
	ID           uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	ClienteID    uint       `json:"cliente_id" gorm:"not null;index"`
	InstanceID   string     `json:"instance_id" gorm:"uniqueIndex;size:100;not null"`
	Token        string     `json:"-" gorm:"size:255;not null"`
	Phone        string     `json:"phone" gorm:"size:30"`
	Status       string     `json:"status" gorm:"type:varchar(20);default:'disconnected';check:status IN ('connected','disconnected')"`
	LastStatusAt *time.Time `json:"last_status_at" gorm:"default:null"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Cliente *Cliente `json:"-" gorm:"foreignKey:ClienteID"`
}

// TableName specifies the table name for WhatsappInstance
func (WhatsappInstance) TableName() string {
	return "whatsapp_instances"
}

// InstanceCreate is the admin request to register a vendor instance
type InstanceCreate struct {
	InstanceID string `json:"instance_id"`
	Token      string `json:"token"`
	Phone      string `json:"phone"`
}
