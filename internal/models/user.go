package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleAdmin    = "admin"
	RoleOperador = "operador"
)

// User represents an operator account inside a tenant
type User struct {
	ID           uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	ClienteID    uint   `json:"cliente_id" gorm:"not null;index"`
	Username     string `json:"username" gorm:"uniqueIndex;size:100;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;size:100;not null"`
	PasswordHash string `json:"-" gorm:"size:255;not null"` // "-" means don't include in JSON
	Role         string `json:"role" gorm:"type:varchar(20);default:'operador';check:role IN ('admin','operador')"`
	IsActive     bool   `json:"is_active" gorm:"default:true"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Cliente *Cliente `json:"-" gorm:"foreignKey:ClienteID"`
}

// UserLogin represents login request. Login accepts either email or username.
type UserLogin struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID        uint      `json:"id"`
	ClienteID uint      `json:"cliente_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// Response strips private fields
func (u User) Response() UserResponse {
	return UserResponse{
		ID:        u.ID,
		ClienteID: u.ClienteID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
