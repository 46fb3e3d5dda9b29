package models

import (
	"time"
)

const (
	MediaPending = "pending"
	MediaSuccess = "success"
	MediaFailed  = "failed"
)

// MediaFile tracks the download of one media asset referenced by a Mensagem
type MediaFile struct {
	ID            uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	ClienteID     uint       `json:"cliente_id" gorm:"not null;index"`
	MensagemID    uint       `json:"mensagem_id" gorm:"not null;uniqueIndex"`
	InstanceID    string     `json:"instance_id" gorm:"size:100;not null"`
	ChatID        string     `json:"chat_id" gorm:"size:100;not null"`
	MessageID     string     `json:"message_id" gorm:"size:150;not null"`
	Tipo          string     `json:"tipo" gorm:"size:20;not null"`
	MimeType      string     `json:"mime_type" gorm:"size:150"`
	MediaKey      string     `json:"-" gorm:"type:text"`
	DirectPath    string     `json:"-" gorm:"type:text"`
	URL           string     `json:"-" gorm:"type:text"`
	FileSha256    string     `json:"file_sha256" gorm:"size:100"`
	FileEncSha256 string     `json:"-" gorm:"size:100"`
	FileLength    int64      `json:"file_length"`
	FileName      string     `json:"file_name" gorm:"size:255"`
	FilePath      string     `json:"file_path" gorm:"type:text"`
	Status        string     `json:"status" gorm:"type:varchar(20);default:'pending';index;check:status IN ('success','failed','pending')"`
	Attempts      int        `json:"attempts" gorm:"default:0"`
	LastError     string     `json:"last_error" gorm:"size:500"`
	DownloadedAt  *time.Time `json:"downloaded_at" gorm:"default:null"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Mensagem *Mensagem `json:"-" gorm:"foreignKey:MensagemID"`
}

// TableName specifies the table name for MediaFile
func (MediaFile) TableName() string {
	return "media_files"
}
