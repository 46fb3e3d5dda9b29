package models

import (
	"time"
)

// Cliente is the tenant root. Every other row belongs to exactly one Cliente.
type Cliente struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Nome      string    `json:"nome" gorm:"size:150;not null"`
	Ativo     bool      `json:"ativo" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Instances []WhatsappInstance `json:"instances,omitempty" gorm:"foreignKey:ClienteID"`
	Users     []User             `json:"-" gorm:"foreignKey:ClienteID"`
}

// TableName specifies the table name for Cliente
func (Cliente) TableName() string {
	return "clientes"
}
