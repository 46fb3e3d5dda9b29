package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/whatsapp"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChatService struct {
	db         *gorm.DB
	wapi       *WAPIClient
	instances  *InstanceService
	events     *EventService
	normalizer *whatsapp.Normalizer
}

func NewChatService(db *gorm.DB, wapi *WAPIClient, instances *InstanceService, events *EventService, normalizer *whatsapp.Normalizer) *ChatService {
	return &ChatService{db: db, wapi: wapi, instances: instances, events: events, normalizer: normalizer}
}

// ChatFilter narrows the inbox listing. Groups are hidden unless asked for.
type ChatFilter struct {
	Status        string
	Search        string
	IncludeGroups bool
	Page          int
	PageSize      int
}

func normalizePage(page, size, def, maxSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = def
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

// List returns the tenant's inbox, most recent activity first
func (s *ChatService) List(clienteID uint, f ChatFilter) ([]models.ChatSummary, int64, error) {
	page, size := normalizePage(f.Page, f.PageSize, 50, 200)

	q := s.db.Model(&models.Chat{}).Where("cliente_id = ?", clienteID)
	if !f.IncludeGroups {
		q = q.Where("is_group = ?", false)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + term + "%"
		q = q.Where("(nome LIKE ? OR chat_id LIKE ?)", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var chats []models.Chat
	if err := q.Order("ultima_mensagem_at IS NULL, ultima_mensagem_at DESC, id DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&chats).Error; err != nil {
		return nil, 0, err
	}

	summaries, err := s.summarize(clienteID, chats)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

func (s *ChatService) summarize(clienteID uint, chats []models.Chat) ([]models.ChatSummary, error) {
	out := make([]models.ChatSummary, 0, len(chats))
	if len(chats) == 0 {
		return out, nil
	}

	ids := make([]uint, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}

	var unread []struct {
		ChatID uint
		Total  int64
	}
	if err := s.db.Model(&models.Mensagem{}).
		Select("chat_id, COUNT(*) AS total").
		Where("cliente_id = ? AND chat_id IN ? AND from_me = ? AND lida = ?", clienteID, ids, false, false).
		Group("chat_id").
		Scan(&unread).Error; err != nil {
		return nil, err
	}
	counts := make(map[uint]int64, len(unread))
	for _, u := range unread {
		counts[u.ChatID] = u.Total
	}

	for _, c := range chats {
		sum := models.ChatSummary{Chat: c, NaoLidas: counts[c.ID]}
		var last models.Mensagem
		err := s.db.Where("chat_id = ? AND tipo <> ?", c.ID, models.TipoProtocolo).
			Order("data_envio DESC, id DESC").
			First(&last).Error
		if err == nil {
			sum.UltimaMensagem = &last
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *ChatService) Get(clienteID, id uint) (*models.Chat, error) {
	var chat models.Chat
	if err := s.db.Where("cliente_id = ? AND id = ?", clienteID, id).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// Create opens a chat by hand, e.g. before sending the first message
func (s *ChatService) Create(clienteID uint, req models.ChatCreate) (*models.Chat, error) {
	cls := s.normalizer.Classify(req.ChatID)
	if !cls.Persistable() {
		return nil, invalidf("chat id %q cannot be used: %s", req.ChatID, cls.Reason)
	}
	chat, _, err := UpsertChat(s.db, clienteID, cls, req.Nome, "", time.Time{})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// UpsertChat creates the chat or fills in metadata that was missing. Only
// non-empty values overwrite. created reports whether the row is new.
func UpsertChat(tx *gorm.DB, clienteID uint, cls whatsapp.Classification, name, photo string, at time.Time) (*models.Chat, bool, error) {
	chat := models.Chat{
		ClienteID:  clienteID,
		ChatID:     cls.ChatID,
		Nome:       name,
		FotoPerfil: photo,
		IsGroup:    cls.IsGroup(),
		Status:     models.ChatAtivo,
		Suspeito:   cls.Suspicious,
	}
	if !at.IsZero() {
		chat.UltimaMensagemAt = &at
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&chat)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create chat: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &chat, true, nil
	}

	var existing models.Chat
	if err := tx.Where("cliente_id = ? AND chat_id = ?", clienteID, cls.ChatID).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("failed to load chat: %w", err)
	}

	updates := map[string]interface{}{}
	if name != "" && name != existing.Nome {
		updates["nome"] = name
		existing.Nome = name
	}
	if photo != "" && photo != existing.FotoPerfil {
		updates["foto_perfil"] = photo
		existing.FotoPerfil = photo
	}
	if !at.IsZero() && (existing.UltimaMensagemAt == nil || at.After(*existing.UltimaMensagemAt)) {
		updates["ultima_mensagem_at"] = at
		existing.UltimaMensagemAt = &at
	}
	if existing.Status == models.ChatArquivado && !at.IsZero() {
		updates["status"] = models.ChatAtivo
		existing.Status = models.ChatAtivo
	}
	if len(updates) > 0 {
		if err := tx.Model(&models.Chat{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return nil, false, fmt.Errorf("failed to update chat: %w", err)
		}
	}
	return &existing, false, nil
}

func (s *ChatService) Update(clienteID, id uint, req models.ChatUpdate) (*models.Chat, error) {
	chat, err := s.Get(clienteID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Nome != nil {
		updates["nome"] = strings.TrimSpace(*req.Nome)
	}
	if req.FotoPerfil != nil {
		updates["foto_perfil"] = *req.FotoPerfil
	}
	if req.Status != nil {
		if *req.Status != models.ChatAtivo && *req.Status != models.ChatArquivado {
			return nil, invalidf("status must be %s or %s", models.ChatAtivo, models.ChatArquivado)
		}
		updates["status"] = *req.Status
	}
	if len(updates) == 0 {
		return chat, nil
	}

	if err := s.db.Model(chat).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}
	s.appendEvent(clienteID, models.EventChatUpdated, chat.ID, updates)
	return s.Get(clienteID, id)
}

// Delete removes the chat with its messages and media rows. Files on disk
// are left for manual cleanup.
func (s *ChatService) Delete(clienteID, id uint) error {
	chat, err := s.Get(clienteID, id)
	if err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&models.Mensagem{}).Select("id").Where("chat_id = ?", chat.ID)
		if err := tx.Where("mensagem_id IN (?)", sub).Delete(&models.MediaFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chat.ID).Delete(&models.Mensagem{}).Error; err != nil {
			return err
		}
		return tx.Delete(chat).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	s.appendEvent(clienteID, models.EventChatDeleted, chat.ID, nil)
	return nil
}

// MessageFilter pages through a chat's history
type MessageFilter struct {
	ChatID   uint
	Search   string
	Before   *time.Time
	Page     int
	PageSize int
}

// Messages returns one page of history, oldest first within the page.
// Protocol frames are never listed.
func (s *ChatService) Messages(clienteID, chatID uint, f MessageFilter) ([]models.Mensagem, int64, error) {
	if _, err := s.Get(clienteID, chatID); err != nil {
		return nil, 0, err
	}
	f.ChatID = chatID
	return listMessages(s.db, clienteID, f)
}

func listMessages(db *gorm.DB, clienteID uint, f MessageFilter) ([]models.Mensagem, int64, error) {
	page, size := normalizePage(f.Page, f.PageSize, 50, 500)

	q := db.Model(&models.Mensagem{}).Where("cliente_id = ? AND tipo <> ?", clienteID, models.TipoProtocolo)
	if f.ChatID != 0 {
		q = q.Where("chat_id = ?", f.ChatID)
	}
	if f.Before != nil {
		q = q.Where("data_envio < ?", *f.Before)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		q = q.Where("conteudo LIKE ?", "%"+term+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []models.Mensagem
	if err := q.Order("data_envio DESC, id DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&msgs).Error; err != nil {
		return nil, 0, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, total, nil
}

// MarkRead flags every unread inbound message of the chat as read
func (s *ChatService) MarkRead(clienteID, chatID uint) (int64, error) {
	if _, err := s.Get(clienteID, chatID); err != nil {
		return 0, err
	}
	res := s.db.Model(&models.Mensagem{}).
		Where("cliente_id = ? AND chat_id = ? AND from_me = ? AND lida = ?", clienteID, chatID, false, false).
		Update("lida", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.appendEvent(clienteID, models.EventChatRead, chatID, map[string]interface{}{"lidas": res.RowsAffected})
	}
	return res.RowsAffected, nil
}

// SyncResult counts the chats touched by Sync
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Ignored int `json:"ignored"`
}

const (
	syncPerPage  = 100
	syncMaxPages = 20
)

// Sync pulls the vendor's chat listing and fills in names and photos
func (s *ChatService) Sync(ctx context.Context, clienteID uint) (SyncResult, error) {
	inst, err := s.instances.ForCliente(clienteID)
	if err != nil {
		return SyncResult{}, err
	}

	var res SyncResult
	for page := 1; page <= syncMaxPages; page++ {
		chats, err := s.wapi.FetchChats(ctx, Creds(inst), page, syncPerPage)
		if err != nil {
			return res, err
		}
		for _, vc := range chats {
			cls := s.normalizer.Classify(vc.ID)
			if !cls.Persistable() {
				res.Ignored++
				continue
			}
			var at time.Time
			if vc.LastMessage > 0 {
				at = unixAny(vc.LastMessage)
			}
			_, created, err := UpsertChat(s.db, clienteID, cls, vc.Name, vc.Picture, at)
			if err != nil {
				return res, err
			}
			if created {
				res.Created++
			} else {
				res.Updated++
			}
		}
		if len(chats) < syncPerPage {
			break
		}
	}

	log.Info().Uint("cliente_id", clienteID).Interface("result", res).Msg("chats synchronized")
	if res.Created+res.Updated > 0 {
		if _, err := s.events.Append(clienteID, models.EventChatUpdated, nil, nil, map[string]interface{}{"sync": res}); err != nil {
			log.Warn().Err(err).Msg("failed to record sync event")
		}
	}
	return res, nil
}

// RefreshPhoto asks the vendor for the current profile picture of a chat
func (s *ChatService) RefreshPhoto(ctx context.Context, clienteID, id uint) (*models.Chat, error) {
	chat, err := s.Get(clienteID, id)
	if err != nil {
		return nil, err
	}
	inst, err := s.instances.ForCliente(clienteID)
	if err != nil {
		return nil, err
	}
	url, err := s.wapi.ProfilePicture(ctx, Creds(inst), chat.ChatID)
	if err != nil {
		return nil, err
	}
	if url == "" || url == chat.FotoPerfil {
		return chat, nil
	}
	if err := s.db.Model(chat).Update("foto_perfil", url).Error; err != nil {
		return nil, err
	}
	chat.FotoPerfil = url
	s.appendEvent(clienteID, models.EventChatUpdated, chat.ID, map[string]interface{}{"foto_perfil": url})
	return chat, nil
}

func (s *ChatService) appendEvent(clienteID uint, tipo string, chatID uint, payload map[string]interface{}) {
	if _, err := s.events.Append(clienteID, tipo, &chatID, nil, payload); err != nil {
		log.Warn().Err(err).Str("tipo", tipo).Msg("failed to record chat event")
	}
}

// unixAny reads seconds or milliseconds
func unixAny(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
