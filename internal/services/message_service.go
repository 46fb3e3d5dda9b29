package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/batilieri/multichat-system/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// OwnSenderLabel is the remetente of messages sent by the tenant
const OwnSenderLabel = "Você"

type MessageService struct {
	db        *gorm.DB
	wapi      *WAPIClient
	instances *InstanceService
	events    *EventService
	media     *MediaService
}

func NewMessageService(db *gorm.DB, wapi *WAPIClient, instances *InstanceService, events *EventService, media *MediaService) *MessageService {
	return &MessageService{db: db, wapi: wapi, instances: instances, events: events, media: media}
}

func (s *MessageService) List(clienteID uint, f MessageFilter) ([]models.Mensagem, int64, error) {
	return listMessages(s.db, clienteID, f)
}

func (s *MessageService) Get(clienteID, id uint) (*models.Mensagem, error) {
	var msg models.Mensagem
	if err := s.db.Where("cliente_id = ? AND id = ?", clienteID, id).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// load returns the message with its chat and the tenant's instance
func (s *MessageService) load(clienteID, id uint) (*models.Mensagem, *models.Chat, *models.WhatsappInstance, error) {
	msg, err := s.Get(clienteID, id)
	if err != nil {
		return nil, nil, nil, err
	}
	var chat models.Chat
	if err := s.db.First(&chat, msg.ChatID).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load chat of message %d: %w", id, err)
	}
	inst, err := s.instances.ForCliente(clienteID)
	if err != nil {
		return nil, nil, nil, err
	}
	return msg, &chat, inst, nil
}

// Update applies the local-only fields of a message
func (s *MessageService) Update(clienteID, id uint, req models.MensagemUpdate) (*models.Mensagem, error) {
	msg, err := s.Get(clienteID, id)
	if err != nil {
		return nil, err
	}
	if req.Lida == nil {
		return msg, nil
	}
	if err := s.db.Model(msg).Update("lida", *req.Lida).Error; err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	msg.Lida = *req.Lida
	s.appendEvent(msg, models.EventMessageUpdated, map[string]interface{}{"lida": msg.Lida})
	return msg, nil
}

// Send delivers an outbound message through the vendor and stores it
func (s *MessageService) Send(ctx context.Context, clienteID uint, req models.SendRequest) (*models.Mensagem, error) {
	if req.Tipo == "" {
		req.Tipo = models.TipoTexto
	}
	var chat models.Chat
	if err := s.db.Where("cliente_id = ? AND id = ?", clienteID, req.ChatID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	body, conteudo, err := buildSend(chat.ChatID, req)
	if err != nil {
		return nil, err
	}

	inst, err := s.instances.ForCliente(clienteID)
	if err != nil {
		return nil, err
	}
	vendorID, err := s.wapi.SendMessage(ctx, Creds(inst), req.Tipo, body)
	if err != nil {
		return nil, err
	}
	if vendorID == "" {
		vendorID = "local-" + uuid.NewString()
	}

	now := time.Now().UTC()
	msg := models.Mensagem{
		ClienteID:     clienteID,
		ChatID:        chat.ID,
		MessageID:     vendorID,
		Remetente:     OwnSenderLabel,
		SenderID:      inst.Phone,
		Conteudo:      conteudo,
		Tipo:          req.Tipo,
		FromMe:        true,
		Lida:          true,
		StatusEntrega: models.EntregaEnviada,
		DataEnvio:     now,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&chat).Update("ultima_mensagem_at", now).Error
	})
	if err != nil {
		// the vendor echo may have been ingested first
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing models.Mensagem
			if ferr := s.db.Where("cliente_id = ? AND message_id = ?", clienteID, vendorID).First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, fmt.Errorf("message sent but not stored: %w", err)
	}

	log.Info().Uint("cliente_id", clienteID).Str("message_id", vendorID).Str("tipo", req.Tipo).Msg("message sent")
	s.appendEvent(&msg, models.EventMessageCreated, map[string]interface{}{"from_me": true})
	return &msg, nil
}

// buildSend turns a SendRequest into the vendor body and the conteudo
// stored locally
func buildSend(phone string, req models.SendRequest) (map[string]interface{}, string, error) {
	body := map[string]interface{}{"phone": phone}
	media := func(field, key string) (map[string]interface{}, string, error) {
		if strings.TrimSpace(req.MediaURL) == "" {
			return nil, "", invalidf("media_url is required for %s", req.Tipo)
		}
		body[field] = req.MediaURL
		desc := map[string]interface{}{"url": req.MediaURL}
		if req.Caption != "" {
			body["caption"] = req.Caption
			desc["caption"] = req.Caption
		}
		if req.FileName != "" {
			body["fileName"] = req.FileName
			desc["fileName"] = req.FileName
		}
		return body, encodeContent(map[string]interface{}{key: desc}), nil
	}

	switch req.Tipo {
	case models.TipoTexto:
		text := strings.TrimSpace(req.Conteudo)
		if text == "" {
			return nil, "", invalidf("conteudo is required")
		}
		body["message"] = req.Conteudo
		return body, req.Conteudo, nil
	case models.TipoImagem:
		return media("image", "imageMessage")
	case models.TipoVideo:
		return media("video", "videoMessage")
	case models.TipoAudio:
		return media("audio", "audioMessage")
	case models.TipoDocumento:
		if req.FileName != "" {
			if i := strings.LastIndex(req.FileName, "."); i >= 0 && i < len(req.FileName)-1 {
				body["extension"] = req.FileName[i+1:]
			}
		}
		return media("document", "documentMessage")
	case models.TipoSticker:
		return media("sticker", "stickerMessage")
	case models.TipoContato:
		if req.ContatoNome == "" || req.ContatoTelefone == "" {
			return nil, "", invalidf("contato_nome and contato_telefone are required")
		}
		body["contactName"] = req.ContatoNome
		body["contactPhone"] = req.ContatoTelefone
		return body, encodeContent(map[string]interface{}{"contactMessage": map[string]interface{}{
			"displayName": req.ContatoNome,
			"phone":       req.ContatoTelefone,
		}}), nil
	case models.TipoLocalizacao:
		if req.Latitude == 0 && req.Longitude == 0 {
			return nil, "", invalidf("latitude and longitude are required")
		}
		body["latitude"] = req.Latitude
		body["longitude"] = req.Longitude
		body["name"] = req.LocalNome
		body["address"] = req.Endereco
		return body, encodeContent(map[string]interface{}{"locationMessage": map[string]interface{}{
			"degreesLatitude":  req.Latitude,
			"degreesLongitude": req.Longitude,
			"name":             req.LocalNome,
			"address":          req.Endereco,
		}}), nil
	case models.TipoEnquete:
		if req.Pergunta == "" || len(req.Opcoes) < 2 {
			return nil, "", invalidf("pergunta and at least two opcoes are required")
		}
		selectable := req.MaxSelecoes
		if selectable < 1 {
			selectable = 1
		}
		body["question"] = req.Pergunta
		body["options"] = req.Opcoes
		body["selectableCount"] = selectable
		return body, encodeContent(map[string]interface{}{"pollCreationMessage": map[string]interface{}{
			"name":                   req.Pergunta,
			"options":                req.Opcoes,
			"selectableOptionsCount": selectable,
		}}), nil
	case models.TipoLista:
		if len(req.ListaSecoes) == 0 {
			return nil, "", invalidf("lista_secoes is required")
		}
		sections := make([]map[string]interface{}, 0, len(req.ListaSecoes))
		for _, sec := range req.ListaSecoes {
			rows := make([]map[string]interface{}, 0, len(sec.Linhas))
			for _, r := range sec.Linhas {
				rows = append(rows, map[string]interface{}{"rowId": r.ID, "title": r.Titulo, "description": r.Descricao})
			}
			sections = append(sections, map[string]interface{}{"title": sec.Titulo, "rows": rows})
		}
		body["message"] = req.Conteudo
		body["title"] = req.ListaTitulo
		body["buttonText"] = req.ListaBotao
		body["sections"] = sections
		return body, encodeContent(map[string]interface{}{"listMessage": map[string]interface{}{
			"title":       req.ListaTitulo,
			"description": req.Conteudo,
			"buttonText":  req.ListaBotao,
			"sections":    sections,
		}}), nil
	}
	return nil, "", invalidf("unsupported tipo %q", req.Tipo)
}

func encodeContent(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Edit changes the text of one of the tenant's own text messages
func (s *MessageService) Edit(ctx context.Context, clienteID, id uint, text string) (*models.Mensagem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalidf("conteudo is required")
	}
	msg, chat, inst, err := s.load(clienteID, id)
	if err != nil {
		return nil, err
	}
	if !msg.FromMe || msg.Tipo != models.TipoTexto {
		return nil, ErrNotEditable
	}

	if err := s.wapi.EditMessage(ctx, Creds(inst), chat.ChatID, msg.MessageID, text); err != nil {
		return nil, err
	}
	if err := s.db.Model(msg).Updates(map[string]interface{}{"conteudo": text, "editada": true}).Error; err != nil {
		return nil, fmt.Errorf("failed to store edit: %w", err)
	}
	msg.Conteudo = text
	msg.Editada = true
	s.appendEvent(msg, models.EventMessageUpdated, map[string]interface{}{"editada": true})
	return msg, nil
}

// Delete removes a message. The tenant's own messages are revoked at the
// vendor first; when that fails the row is kept.
func (s *MessageService) Delete(ctx context.Context, clienteID, id uint) error {
	msg, err := s.Get(clienteID, id)
	if err != nil {
		return err
	}
	if msg.FromMe && !strings.HasPrefix(msg.MessageID, "local-") {
		_, chat, inst, err := s.load(clienteID, id)
		if err != nil {
			return err
		}
		if err := s.wapi.DeleteMessage(ctx, Creds(inst), chat.ChatID, msg.MessageID); err != nil {
			return err
		}
	}
	return s.removeLocal(msg)
}

func (s *MessageService) removeLocal(msg *models.Mensagem) error {
	var files []models.MediaFile
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mensagem_id = ?", msg.ID).Find(&files).Error; err != nil {
			return err
		}
		if err := tx.Where("mensagem_id = ?", msg.ID).Delete(&models.MediaFile{}).Error; err != nil {
			return err
		}
		return tx.Delete(msg).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if s.media != nil {
		s.media.Discard(files)
	}
	s.appendEvent(msg, models.EventMessageDeleted, map[string]interface{}{"message_id": msg.MessageID})
	return nil
}

// React sets the tenant's reaction, replacing whatever reaction the message
// held
func (s *MessageService) React(ctx context.Context, clienteID, id uint, emoji string) (*models.Mensagem, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, invalidf("emoji is required")
	}
	msg, chat, inst, err := s.load(clienteID, id)
	if err != nil {
		return nil, err
	}
	if err := s.wapi.SendReaction(ctx, Creds(inst), chat.ChatID, msg.MessageID, emoji); err != nil {
		return nil, err
	}

	msg.SetReaction(models.Reacao{Emoji: emoji, FromMe: true, At: time.Now().UTC()})
	if err := s.saveReactions(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// RemoveReaction clears the tenant's reaction
func (s *MessageService) RemoveReaction(ctx context.Context, clienteID, id uint) (*models.Mensagem, error) {
	msg, chat, inst, err := s.load(clienteID, id)
	if err != nil {
		return nil, err
	}
	if _, ok := msg.OwnReaction(); !ok {
		return msg, nil
	}
	if err := s.wapi.RemoveReaction(ctx, Creds(inst), chat.ChatID, msg.MessageID); err != nil {
		return nil, err
	}
	msg.ClearReaction()
	if err := s.saveReactions(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) saveReactions(msg *models.Mensagem) error {
	if err := s.db.Model(msg).Select("reacoes").Updates(models.Mensagem{Reacoes: msg.Reacoes}).Error; err != nil {
		return fmt.Errorf("failed to store reaction: %w", err)
	}
	s.appendEvent(msg, models.EventMessageReaction, map[string]interface{}{"reacoes": msg.Reacoes})
	return nil
}

func (s *MessageService) appendEvent(msg *models.Mensagem, tipo string, payload map[string]interface{}) {
	chatID, id := msg.ChatID, msg.ID
	if _, err := s.events.Append(msg.ClienteID, tipo, &chatID, &id, payload); err != nil {
		log.Warn().Err(err).Str("tipo", tipo).Msg("failed to record message event")
	}
}
