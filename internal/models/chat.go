package models

import (
	"time"
)

const (
	ChatAtivo     = "ativo"
	ChatArquivado = "arquivado"
)

// Chat is a conversation thread keyed by (cliente_id, chat_id)
type Chat struct {
	ID               uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	ClienteID        uint       `json:"cliente_id" gorm:"not null;uniqueIndex:ux_chats_cliente_chat,priority:1"`
	ChatID           string     `json:"chat_id" gorm:"size:100;not null;uniqueIndex:ux_chats_cliente_chat,priority:2"`
	Nome             string     `json:"nome" gorm:"size:150"`
	FotoPerfil       string     `json:"foto_perfil" gorm:"type:text"`
	IsGroup          bool       `json:"is_group" gorm:"default:false;index"`
	Status           string     `json:"status" gorm:"type:varchar(20);default:'ativo';check:status IN ('ativo','arquivado')"`
	Suspeito         bool       `json:"suspeito" gorm:"default:false"` // numeric id that looks like a group id
	UltimaMensagemAt *time.Time `json:"ultima_mensagem_at" gorm:"index"`
	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Cliente *Cliente `json:"-" gorm:"foreignKey:ClienteID"`
}

// TableName specifies the table name for Chat
func (Chat) TableName() string {
	return "chats"
}

// ChatSummary is a chat row plus inbox metadata
type ChatSummary struct {
	Chat
	NaoLidas       int64     `json:"nao_lidas"`
	UltimaMensagem *Mensagem `json:"ultima_mensagem"`
}

// ChatCreate is the request body for creating a chat by hand
type ChatCreate struct {
	ChatID string `json:"chat_id"`
	Nome   string `json:"nome"`
}

// ChatUpdate is the partial update body for a chat
type ChatUpdate struct {
	Nome       *string `json:"nome"`
	Status     *string `json:"status"`
	FotoPerfil *string `json:"foto_perfil"`
}
