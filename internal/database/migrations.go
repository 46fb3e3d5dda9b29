package database

import (
	"fmt"

	"github.com/batilieri/multichat-system/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Migrate creates/updates database tables. Legacy rows that would violate
// the unique indexes are merged first, otherwise AutoMigrate fails on them.
func Migrate(db *gorm.DB) error {
	if err := dedupeLegacyRows(db); err != nil {
		return err
	}

	return db.AutoMigrate(
		&models.Cliente{},
		&models.WhatsappInstance{},
		&models.User{},
		&models.Chat{},
		&models.Mensagem{},
		&models.WebhookEvent{},
		&models.MediaFile{},
		&models.Sender{},
		&models.ChatEvent{},
	)
}

func dedupeLegacyRows(db *gorm.DB) error {
	m := db.Migrator()
	if m.HasTable("chats") && !m.HasIndex(&models.Chat{}, "ux_chats_cliente_chat") {
		merged, err := MergeDuplicateChats(db)
		if err != nil {
			return fmt.Errorf("failed to merge duplicate chats: %w", err)
		}
		if merged > 0 {
			log.Warn().Int64("rows", merged).Msg("merged duplicate chats before adding unique index")
		}
	}
	if m.HasTable("mensagens") && !m.HasIndex(&models.Mensagem{}, "ux_mensagens_cliente_message") {
		removed, err := DeleteDuplicateMessages(db)
		if err != nil {
			return fmt.Errorf("failed to delete duplicate messages: %w", err)
		}
		if removed > 0 {
			log.Warn().Int64("rows", removed).Msg("removed duplicate messages before adding unique index")
		}
	}
	return nil
}

type duplicateGroup struct {
	ClienteID uint
	DupKey    string
	KeepID    uint
}

// MergeDuplicateChats keeps the oldest chat of each (cliente_id, chat_id)
// pair and moves the messages of the others onto it
func MergeDuplicateChats(db *gorm.DB) (int64, error) {
	var groups []duplicateGroup
	err := db.Raw(`SELECT cliente_id, chat_id AS dup_key, MIN(id) AS keep_id
		FROM chats GROUP BY cliente_id, chat_id HAVING COUNT(*) > 1`).Scan(&groups).Error
	if err != nil {
		return 0, err
	}

	var merged int64
	for _, g := range groups {
		err := db.Transaction(func(tx *gorm.DB) error {
			var dupIDs []uint
			if err := tx.Table("chats").
				Where("cliente_id = ? AND chat_id = ? AND id <> ?", g.ClienteID, g.DupKey, g.KeepID).
				Pluck("id", &dupIDs).Error; err != nil {
				return err
			}
			if len(dupIDs) == 0 {
				return nil
			}
			if tx.Migrator().HasTable("mensagens") {
				if err := tx.Table("mensagens").Where("chat_id IN ?", dupIDs).
					Update("chat_id", g.KeepID).Error; err != nil {
					return err
				}
			}
			res := tx.Exec("DELETE FROM chats WHERE id IN ?", dupIDs)
			merged += res.RowsAffected
			return res.Error
		})
		if err != nil {
			return merged, err
		}
	}
	return merged, nil
}

const keptMessages = `SELECT keep_id FROM (
	SELECT MIN(id) AS keep_id FROM mensagens GROUP BY cliente_id, message_id
) AS keep`

// DeleteDuplicateMessages keeps the oldest row per (cliente_id, message_id).
// Media rows of the removed copies go with them. Their files share the
// kept row's path, which is derived from the message id.
func DeleteDuplicateMessages(db *gorm.DB) (int64, error) {
	var removed int64
	err := db.Transaction(func(tx *gorm.DB) error {
		if tx.Migrator().HasTable("media_files") {
			if err := tx.Exec(`DELETE FROM media_files WHERE mensagem_id NOT IN (` + keptMessages + `)`).Error; err != nil {
				return err
			}
		}
		res := tx.Exec(`DELETE FROM mensagens WHERE id NOT IN (` + keptMessages + `)`)
		removed = res.RowsAffected
		return res.Error
	})
	return removed, err
}
